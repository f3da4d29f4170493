package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slotsync/internal/booking"
	"slotsync/internal/cache"
	"slotsync/internal/channel"
	"slotsync/internal/config"
	"slotsync/internal/connectivity"
	"slotsync/internal/core"
	"slotsync/internal/domain"
	"slotsync/internal/fanout"
	"slotsync/internal/logging"
	"slotsync/internal/metrics"
	"slotsync/internal/notify"
	"slotsync/internal/repository"
	"slotsync/internal/store"
	"slotsync/internal/syncer"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	db, err := store.NewDB(cfg.Store.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("Store initialization failed")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, hot := initSnapshotTier(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	if cfg.Monitoring.PrometheusEnabled {
		startMetricsServer(cfg, &logger)
	}

	service := buildService(cfg, db, hot, &logger)
	if err := service.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Service start failed")
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("Shutting down...")

	if err := service.Stop(); err != nil {
		logger.Warn().Err(err).Msg("Service stop reported an error")
	}

	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "agent-main").Logger()

	return cfg, logger, closer, nil
}

// initSnapshotTier builds the hot tier: redis fronted by an in-memory
// fallback when redis is configured, plain memory otherwise.
func initSnapshotTier(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, domain.SnapshotRepository) {
	fallback := repository.NewMemorySnapshotRepository()
	if !cfg.Redis.Enabled {
		return nil, fallback
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable, hot tier starts on the fallback")
	}

	primary := repository.NewRedisSnapshotRepository(redisClient, cfg.Redis.SnapshotTTL)
	return redisClient, repository.NewFailoverSnapshotRepository(primary, fallback, logger)
}

func startMetricsServer(cfg *config.Config, logger *zerolog.Logger) {
	metrics.Register()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Monitoring.PrometheusPort).Msg("Metrics server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
}

func buildService(cfg *config.Config, db *store.DB, hot domain.SnapshotRepository, logger *zerolog.Logger) *core.Service {
	client := channel.NewClient(cfg.Channel, logger)
	monitor := connectivity.NewMonitor(nil, 0, logger)
	registry := fanout.NewRegistry(core.NewChannelUpstream(client, logger), logger)
	fetcher := core.NewChannelFetcher(client, cfg.Channel.RequestTimeout)
	manager := cache.NewManager(db, hot, registry, fetcher, cfg.Cache.StalenessWindow, logger)

	retention := time.Duration(cfg.Sync.RetentionDays) * 24 * time.Hour
	synchronizer := syncer.NewSynchronizer(db, monitor, retention, logger)

	alerts := notify.NewLogScheduler(logger)
	reservations := booking.NewReservations(
		db, client, synchronizer, alerts,
		cfg.Booking.ExpiryWindow, cfg.Booking.SweepInterval, logger,
	)

	return core.NewService(cfg, core.Components{
		Channel:      client,
		Cache:        manager,
		Reservations: reservations,
		Syncer:       synchronizer,
		Monitor:      monitor,
		Fanout:       registry,
	}, logger)
}
