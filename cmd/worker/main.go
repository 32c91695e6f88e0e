package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scrapeq/internal/config"
	"scrapeq/internal/database"
	"scrapeq/internal/events"
	"scrapeq/internal/export"
	"scrapeq/internal/fetch"
	"scrapeq/internal/logging"
	"scrapeq/internal/metrics"
	"scrapeq/internal/queue"
	"scrapeq/internal/scraper"

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
		defer (func() { _ = closer.Close() })()
	}

	seeds, err := loadSeeds(cfg, &logger)
	if err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus()
	bus.OnError(func(e *events.Event, err error) {
		logger.Warn().Err(err).Str("event", e.Type).Msg("event handler failed")
	})
	startMetrics(ctx, cfg, bus, &logger)

	q, err := buildQueue(cfg, db, redisClient, bus, &logger)
	if err != nil {
		return err
	}

	backups := database.NewBackupService(db, cfg.Database.Path, cfg.Backup, logging.Component(&logger, "backup"))
	go backups.Start(ctx)

	seeded, err := scraper.Bootstrap(ctx, q, seeds)
	if err != nil {
		return fmt.Errorf("bootstrap queue: %w", err)
	}
	if seeded > 0 {
		logger.Info().Int("seeds", seeded).Msg("queue seeded")
	} else {
		logger.Info().Msg("resuming pending tasks")
	}

	if err := q.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("shutdown signal received, pending tasks kept for the next run")
			return nil
		}
		return fmt.Errorf("run queue: %w", err)
	}

	if cfg.Exports.Path != "" {
		exporter := export.NewExporter(db, cfg.Exports.Path, logging.Component(&logger, "export"))
		if _, err := exporter.Export(ctx); err != nil {
			logger.Error().Err(err).Msg("export failed")
		}
	}

	logger.Info().Msg("queue drained")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "worker-main").Logger()

	return cfg, logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := fetch.NewRedisClient(cfg.Redis)
	if err := fetch.Ping(context.Background(), redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, caching pages in memory")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func buildQueue(
	cfg *config.Config,
	db *database.DB,
	redisClient *redis.Client,
	bus *events.EventBus,
	logger *zerolog.Logger,
) (*queue.Queue, error) {
	var cache fetch.Cache = fetch.NewMemoryCache(cfg.Scraper.CacheTTL)
	if redisClient != nil {
		primary := fetch.NewRedisCache(redisClient, cfg.Scraper.CachePrefix, cfg.Scraper.CacheTTL)
		cache = fetch.NewFailoverCache(primary, cache, logging.Component(logger, "cache"))
	}
	fetcher := fetch.NewCachingFetcher(fetch.NewHTTPFetcher(cfg.Scraper), cache, bus, logging.Component(logger, "fetch"))

	extractor, err := scraper.NewExtractor(cfg.Scraper)
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}

	registry := queue.NewRegistry()
	err = scraper.Register(registry, &scraper.Deps{
		Fetcher:   fetcher,
		Extractor: extractor,
		Items:     db,
		Events:    bus,
		MaxPages:  cfg.Scraper.MaxPages,
		Logger:    logging.Component(logger, "scraper"),
	})
	if err != nil {
		return nil, fmt.Errorf("register tasks: %w", err)
	}

	return queue.New(db, registry, queue.Options{
		Retry: queue.RetryPolicy{
			MaxRetries:    cfg.Queue.MaxRetries,
			InitialDelay:  cfg.Queue.InitialDelay,
			MaxDelay:      cfg.Queue.MaxDelay,
			BackoffFactor: cfg.Queue.BackoffFactor,
		},
		PollInterval: cfg.Queue.PollInterval,
		Events:       bus,
		Logger:       logging.Component(logger, "queue"),
	}), nil
}

func startMetrics(ctx context.Context, cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	metrics.Subscribe(bus)
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
