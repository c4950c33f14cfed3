package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/commute-pool/internal/assign"
	"github.com/example/commute-pool/internal/config"
	"github.com/example/commute-pool/internal/dispatch"
	"github.com/example/commute-pool/internal/geo"
	httpapi "github.com/example/commute-pool/internal/http"
	"github.com/example/commute-pool/internal/ingest"
	"github.com/example/commute-pool/internal/logging"
	"github.com/example/commute-pool/internal/report"
	"github.com/example/commute-pool/internal/routing"
	"github.com/example/commute-pool/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	oracle, err := newOracle(cfg)
	if err != nil {
		return err
	}

	var index geo.Geo = geo.NewIndex()
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, using in-memory geo index", "addr", cfg.RedisAddr, "error", err)
		} else {
			index = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
			logger.Info("redis geo index enabled", "addr", cfg.RedisAddr)
		}
	}

	var store storage.EventStore = storage.NewMemoryStore()
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		if cfg.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return err
			}
			logger.Info("migration applied", "table", "ride_events")
		}
		store = pg
	}
	defer store.Close()

	wsreg := dispatch.NewWSRegistry(logger)
	fanout := dispatch.NewFanout(logger).
		Add("ws", wsreg).
		Add("store", dispatch.PublisherFunc(store.SaveEvent))
	if cfg.WebhookURL != "" {
		fanout.Add("webhook", dispatch.NewWebhook(cfg.WebhookURL))
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		fanout.Add("kafka", producer)
	}

	engine := assign.New(assign.Options{
		Workplaces:        cfg.Workplaces,
		Oracle:            oracle,
		Geo:               index,
		Publisher:         fanout,
		Logger:            logger,
		RiderDirectRoutes: cfg.RiderDirectRoutes,
		CandidateRadiusKm: cfg.CandidateRadiusKm,
		CandidateLimit:    cfg.CandidateLimit,
		Concurrency:       cfg.ScoreConcurrency,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(engine, report.NewJournal(), store, wsreg, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("commute-pool listening", "addr", cfg.HTTPAddr, "oracle", cfg.OracleBackend,
			"workplaces", cfg.Workplaces.Names(), "sinks", fanout.Len())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newOracle builds the configured routing backend, instrumented and cached.
func newOracle(cfg config.ServerConfig) (routing.Oracle, error) {
	var base routing.Oracle
	switch cfg.OracleBackend {
	case config.BackendGoogle:
		g, err := routing.NewGoogleClient(cfg.GoogleMapsAPIKey, cfg.OracleTimeout)
		if err != nil {
			return nil, err
		}
		base = g
	default:
		if cfg.OSRMAccessToken != "" {
			base = routing.NewMapboxClient("", cfg.OSRMAccessToken, cfg.OracleTimeout)
		} else {
			base = routing.NewOSRMClient(cfg.OSRMEndpoint, cfg.OSRMProfile, cfg.OracleTimeout)
		}
	}
	return routing.NewCachedOracle(routing.NewInstrumented(base), cfg.OracleCacheTTL), nil
}
