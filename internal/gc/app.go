// Package gc implements the Global Controller (C5 MC Registry, C6 MH
// Registry, C7 Placement Engine, and the public meetings API): tracking
// MC/MH fleet health and placing meetings onto a healthy MC.
package gc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/darktower/control-plane/internal/config"
	"github.com/darktower/control-plane/internal/httpserver"
	"github.com/darktower/control-plane/internal/platform"
	"github.com/darktower/control-plane/internal/secret"
	"github.com/darktower/control-plane/internal/svcauth"
	"github.com/darktower/control-plane/internal/telemetry"
	"github.com/darktower/control-plane/internal/tokenmanager"
)

// Run is the GC binary's entry point: it connects to infrastructure,
// acquires a service token from AC, and serves the GC HTTP surface until
// ctx is cancelled.
func Run(ctx context.Context, cfg *config.GCConfig) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting gc", "listen", cfg.ListenAddr())

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

	metricsReg := telemetry.NewMetricsRegistry(telemetry.GCCollectors()...)

	tm := tokenmanager.NewManager(tokenmanager.Config{
		TokenURL:     cfg.ACBaseURL + "/oauth/token",
		ClientID:     cfg.ClientID,
		ClientSecret: secret.New(cfg.ClientSecret),
		Scopes:       []string{"mc:register", "mc:assign", "token:read"},
		OnRefresh: func(ok bool) {
			telemetry.TokenRefreshTotal.WithLabelValues(boolLabel(ok)).Inc()
		},
	}, logger)
	if err := tm.Start(ctx); err != nil {
		return fmt.Errorf("acquiring ac service token: %w", err)
	}
	receiver := tm.Receiver()

	resolver := svcauth.NewJWKSResolver(cfg.ACBaseURL, &http.Client{Timeout: 5 * time.Second})
	policy := svcauth.DefaultPolicy(cfg.Issuer, time.Duration(cfg.ClockSkewSecs)*time.Second, time.Duration(cfg.TokenMaxLifetimeSecs)*time.Second)
	requireToken := func(scope string) func(http.Handler) http.Handler {
		return svcauth.RequireBearerToken(resolver, policy, scope)
	}

	mcStore := &PGMCStore{Pool: db}
	mhStore := &PGMHStore{Pool: db}
	assignmentStore := &PGAssignmentStore{Pool: db}
	meetingStore := &PGMeetingStore{Pool: db}

	registry := NewRegistry(mcStore, logger)
	mhRegistry := NewMHRegistry(mhStore)
	signedClient := svcauth.NewHTTPClient(ctx, receiver, 10*time.Second)
	caller := &HTTPAssignMeetingCaller{Client: signedClient}

	placementAudit := NewPlacementWriter(db, logger)
	placementAudit.Start(ctx)
	defer placementAudit.Close()

	placement := NewPlacementEngine(assignmentStore, mcStore, mhRegistry, caller, placementAudit, logger)
	acClient := NewACClient(cfg.ACBaseURL, signedClient)
	meetings := NewMeetingService(meetingStore, placement, mcStore, mhStore, acClient, cfg.DefaultRegion(), logger)

	svc := NewService(registry, placement, meetings, logger)

	srv := httpserver.NewServer(httpserver.Options{
		Logger:      logger,
		Metrics:     metricsReg,
		CORSOrigins: cfg.CORSAllowedOrigins,
		Pingers:     []httpserver.Pinger{db, platform.RedisPinger{Client: rdb}},
		ReadyCheck: func(context.Context) error {
			if _, err := receiver.Token(ctx); err != nil {
				return fmt.Errorf("ac service token not yet acquired: %w", err)
			}
			return nil
		},
	})
	svc.Mount(srv.APIRouter, requireToken, svcauth.VerifySignature)

	go registry.RunStalenessSweeper(ctx, time.Duration(cfg.SweepIntervalSecs)*time.Second, time.Duration(cfg.StalenessThresholdSecs)*time.Second)
	go placement.RunCleanup(ctx,
		time.Duration(cfg.AssignmentCleanupSecs)*time.Second,
		time.Duration(cfg.AssignmentStaleMinutes)*time.Minute,
		time.Duration(cfg.AssignmentPurgeAfterHours)*time.Hour,
	)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gc server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down gc server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func boolLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

