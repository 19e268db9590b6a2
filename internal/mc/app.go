package mc

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

// Run is the MC binary's entry point: it connects to Redis, acquires a
// service token from AC, registers with GC, starts the heartbeat tickers
// and actor runtime, and serves MC's HTTP surface until ctx is cancelled.
func Run(ctx context.Context, cfg *config.MCConfig) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting mc", "listen", cfg.ListenAddr(), "id", cfg.ID, "region", cfg.Region)

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	master, err := cfg.BindingTokenSecret()
	if err != nil {
		return err
	}

	metricsReg := telemetry.NewMetricsRegistry(telemetry.MCCollectors()...)

	tm := tokenmanager.NewManager(tokenmanager.Config{
		TokenURL:     cfg.ACBaseURL + "/oauth/token",
		ClientID:     cfg.ClientID,
		ClientSecret: secret.New(cfg.ClientSecret),
		Scopes:       []string{"mc:register"},
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

	bindings := NewBindingManager(master, &RedisBindingStore{Client: rdb}, time.Duration(cfg.BindingTokenTTLSecs)*time.Second)
	fencer := NewFencer(rdb, logger)

	controllerCfg := ControllerConfig{
		MeetingMailboxWarn:        cfg.MeetingMailboxNormal,
		MeetingMailboxCritical:    cfg.MeetingMailboxHard,
		ConnectionMailboxWarn:     cfg.ConnectionMailboxNormal,
		ConnectionMailboxCritical: cfg.ConnectionMailboxHard,
		DisconnectGrace:           time.Duration(cfg.DisconnectGraceSecs) * time.Second,
		DrainTimeout:              time.Duration(cfg.DrainTimeoutSecs) * time.Second,
		SweepInterval:             time.Duration(cfg.SweepIntervalSecs) * time.Second,
	}
	controller := NewController(controllerCfg, bindings, fencer, logger)
	go controller.Run(ctx)

	signedClient := svcauth.NewHTTPClient(ctx, receiver, 10*time.Second)
	gcClient := NewGCClient(cfg.GCBaseURL, signedClient)

	registered := make(chan struct{})
	go registerWithGC(ctx, gcClient, controller, cfg, logger, registered)

	svc := NewService(controller, cfg.MaxMeetings, logger)

	srv := httpserver.NewServer(httpserver.Options{
		Logger:      logger,
		Metrics:     metricsReg,
		CORSOrigins: cfg.CORSAllowedOrigins,
		Pingers:     []httpserver.Pinger{platform.RedisPinger{Client: rdb}},
		ReadyCheck: func(context.Context) error {
			if _, err := receiver.Token(ctx); err != nil {
				return fmt.Errorf("ac service token not yet acquired: %w", err)
			}
			select {
			case <-registered:
				return nil
			default:
				return fmt.Errorf("not yet registered with gc")
			}
		},
	})
	svc.Mount(srv.APIRouter, requireToken, svcauth.VerifySignature)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mc server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down mc server")
		if err := controller.Shutdown(context.Background()); err != nil {
			logger.Error("draining meetings during shutdown", "error", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// registerWithGC registers this MC with GC, retrying with a fixed backoff
// until it succeeds, then starts the fast/comprehensive heartbeat tickers
// for the rest of the process lifetime.
func registerWithGC(ctx context.Context, client *GCClient, controller *Controller, cfg *config.MCConfig, logger *slog.Logger, registered chan<- struct{}) {
	fastIntervalMS, comprehensiveIntervalMS := cfg.FastHeartbeatIntervalMS, cfg.ComprehensiveHeartbeatIntervalMS

	for {
		gotFast, gotComprehensive, err := client.RegisterMC(ctx, cfg.ID, cfg.Region, cfg.Endpoint, int64(cfg.MaxMeetings), int64(cfg.MaxParticipants))
		if err == nil {
			if gotFast > 0 {
				fastIntervalMS = gotFast
			}
			if gotComprehensive > 0 {
				comprehensiveIntervalMS = gotComprehensive
			}
			logger.Info("registered with gc", "mc_id", cfg.ID)
			close(registered)
			break
		}
		logger.Error("registering with gc failed, retrying", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}

	go runHeartbeatLoop(ctx, time.Duration(fastIntervalMS)*time.Millisecond, logger, func(ctx context.Context) error {
		count, err := controller.Count(ctx)
		if err != nil {
			return err
		}
		loadScore := float64(count) / float64(cfg.MaxMeetings)
		return client.FastHeartbeat(ctx, cfg.ID, int64(count), loadScore)
	})

	go runHeartbeatLoop(ctx, time.Duration(comprehensiveIntervalMS)*time.Millisecond, logger, func(ctx context.Context) error {
		count, err := controller.Count(ctx)
		if err != nil {
			return err
		}
		loadScore := float64(count) / float64(cfg.MaxMeetings)
		return client.ComprehensiveHeartbeat(ctx, cfg.ID, "healthy", int64(count), int64(cfg.MaxMeetings), 0, int64(cfg.MaxParticipants), loadScore)
	})
}

func runHeartbeatLoop(ctx context.Context, interval time.Duration, logger *slog.Logger, send func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := send(ctx); err != nil {
				logger.Error("sending heartbeat to gc", "error", err)
			}
		}
	}
}

func boolLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
