package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
store:
  path: "slotsync.db"
channel:
  url: "ws://localhost:3001/realtime"
  client_id: "device-1"
cache:
  staleness_window: 2m
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Store.Path != "slotsync.db" {
		t.Errorf("expected store path slotsync.db, got %s", cfg.Store.Path)
	}
	if cfg.Channel.URL != "ws://localhost:3001/realtime" {
		t.Errorf("expected channel url, got %s", cfg.Channel.URL)
	}
	if cfg.Cache.StalenessWindow != 2*time.Minute {
		t.Errorf("expected staleness window 2m, got %s", cfg.Cache.StalenessWindow)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
store:
  path: "slotsync.db"
channel:
  url: "ws://localhost:3001/realtime"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Cache.StalenessWindow != 5*time.Minute {
		t.Errorf("expected default staleness window 5m, got %s", cfg.Cache.StalenessWindow)
	}
	if cfg.Booking.ExpiryWindow != 10*time.Minute {
		t.Errorf("expected default expiry window 10m, got %s", cfg.Booking.ExpiryWindow)
	}
	if cfg.Booking.SweepInterval != time.Minute {
		t.Errorf("expected default sweep interval 1m, got %s", cfg.Booking.SweepInterval)
	}
	if cfg.Channel.ReconnectAttempts != 5 {
		t.Errorf("expected default reconnect attempts 5, got %d", cfg.Channel.ReconnectAttempts)
	}
	if cfg.Sync.RetentionDays != 7 {
		t.Errorf("expected default retention 7 days, got %d", cfg.Sync.RetentionDays)
	}
	if cfg.App.Name != "slotsync" {
		t.Errorf("expected default app name slotsync, got %s", cfg.App.Name)
	}
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("SLOTSYNC_CHANNEL_URL", "wss://prod.example.com/realtime")

	yamlContent := `
store:
  path: "slotsync.db"
channel:
  url: "${SLOTSYNC_CHANNEL_URL}"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Channel.URL != "wss://prod.example.com/realtime" {
		t.Errorf("env expansion failed, got %s", cfg.Channel.URL)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Store:   StoreConfig{Path: "slotsync.db"},
				Channel: ChannelConfig{URL: "ws://localhost:3001"},
			},
			wantErr: false,
		},
		{
			name: "missing store path",
			cfg: Config{
				Channel: ChannelConfig{URL: "ws://localhost:3001"},
			},
			wantErr: true,
		},
		{
			name: "missing channel url",
			cfg: Config{
				Store: StoreConfig{Path: "slotsync.db"},
			},
			wantErr: true,
		},
		{
			name: "redis enabled without address",
			cfg: Config{
				Store:   StoreConfig{Path: "slotsync.db"},
				Channel: ChannelConfig{URL: "ws://localhost:3001"},
				Redis:   RedisConfig{Enabled: true},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
