package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Store      StoreConfig      `yaml:"store"`
	Redis      RedisConfig      `yaml:"redis"`
	Channel    ChannelConfig    `yaml:"channel"`
	Cache      CacheConfig      `yaml:"cache"`
	Booking    BookingConfig    `yaml:"booking"`
	Sync       SyncConfig       `yaml:"sync"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	// SnapshotTTL bounds how long a hot-tier snapshot outlives the process.
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
}

type ChannelConfig struct {
	URL               string        `yaml:"url"`
	ClientID          string        `yaml:"client_id"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	EmitRPS           float64       `yaml:"emit_rps"`
	EmitBurst         int           `yaml:"emit_burst"`
}

type CacheConfig struct {
	StalenessWindow time.Duration `yaml:"staleness_window"`
}

type BookingConfig struct {
	ExpiryWindow  time.Duration `yaml:"expiry_window"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type SyncConfig struct {
	RetentionDays   int    `yaml:"retention_days"`
	CleanupSchedule string `yaml:"cleanup_schedule"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; environment wins over file values via expansion.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return errors.New("store path is required")
	}
	if c.Channel.URL == "" {
		return errors.New("channel url is required")
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		return errors.New("redis.enabled requires redis.address")
	}
	if c.Channel.ReconnectAttempts < 0 {
		return errors.New("channel reconnect_attempts must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "slotsync"
	}
	if c.Channel.HandshakeTimeout == 0 {
		c.Channel.HandshakeTimeout = 10 * time.Second
	}
	if c.Channel.RequestTimeout == 0 {
		c.Channel.RequestTimeout = 5 * time.Second
	}
	if c.Channel.ReconnectAttempts == 0 {
		c.Channel.ReconnectAttempts = 5
	}
	if c.Channel.ReconnectDelay == 0 {
		c.Channel.ReconnectDelay = time.Second
	}
	if c.Channel.HeartbeatInterval == 0 {
		c.Channel.HeartbeatInterval = 30 * time.Second
	}
	if c.Channel.EmitRPS == 0 {
		c.Channel.EmitRPS = 20
	}
	if c.Channel.EmitBurst == 0 {
		c.Channel.EmitBurst = 40
	}
	if c.Cache.StalenessWindow == 0 {
		c.Cache.StalenessWindow = 5 * time.Minute
	}
	if c.Booking.ExpiryWindow == 0 {
		c.Booking.ExpiryWindow = 10 * time.Minute
	}
	if c.Booking.SweepInterval == 0 {
		c.Booking.SweepInterval = time.Minute
	}
	if c.Sync.RetentionDays == 0 {
		c.Sync.RetentionDays = 7
	}
	if c.Sync.CleanupSchedule == "" {
		c.Sync.CleanupSchedule = "@daily"
	}
	if c.Redis.SnapshotTTL == 0 {
		c.Redis.SnapshotTTL = 24 * time.Hour
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}
