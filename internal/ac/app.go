package ac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/darktower/control-plane/internal/audit"
	"github.com/darktower/control-plane/internal/config"
	"github.com/darktower/control-plane/internal/httpserver"
	"github.com/darktower/control-plane/internal/keys"
	"github.com/darktower/control-plane/internal/platform"
	"github.com/darktower/control-plane/internal/telemetry"
)

// Run is the AC binary's entry point: it connects to infrastructure,
// initializes the signing key set, and serves the AC HTTP surface until ctx
// is cancelled.
func Run(ctx context.Context, cfg *config.ACConfig) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.ClockSkewWarning() {
		logger.Warn("AC_CLOCK_SKEW_SECS is below the recommended 60s floor", "configured", cfg.ClockSkewSecs)
	}

	logger.Info("starting ac", "listen", cfg.ListenAddr())

	masterKey, err := cfg.MasterKey()
	if err != nil {
		return fmt.Errorf("loading master key: %w", err)
	}

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.ACCollectors()...)

	keyManager := keys.NewManager(&keys.PGStore{Pool: db}, masterKey)
	if err := keyManager.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing signing key set: %w", err)
	}
	logger.Info("signing key set initialized")

	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	limiter := NewRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute)

	svc := NewService(cfg, &PGClientStore{Pool: db}, keyManager, auditWriter, limiter, logger)

	srv := httpserver.NewServer(httpserver.Options{
		Logger:      logger,
		Metrics:     metricsReg,
		CORSOrigins: cfg.CORSAllowedOrigins,
		Pingers:     []httpserver.Pinger{db, platform.RedisPinger{Client: rdb}},
		ReadyCheck: func(context.Context) error {
			if kid, _ := keyManager.CurrentSigningKey(); kid == "" {
				return errNoSigningKey
			}
			return nil
		},
	})
	svc.Mount(srv.Router)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ac server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down ac server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
