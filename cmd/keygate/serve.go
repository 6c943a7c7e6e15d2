package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/dukerupert/keygate/internal/config"
	"github.com/dukerupert/keygate/internal/email"
	"github.com/dukerupert/keygate/internal/events"
	"github.com/dukerupert/keygate/internal/handler"
	"github.com/dukerupert/keygate/internal/jobs"
	"github.com/dukerupert/keygate/internal/metrics"
	"github.com/dukerupert/keygate/internal/server"
	"github.com/dukerupert/keygate/internal/session"
	"github.com/dukerupert/keygate/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := env(cmd.Context())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	shutdownTracing, err := telemetry.Init(ctx, "keygate", version, cfg.OTLPEndpoint, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Error("shutdown tracing", "error", err)
		}
	}()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	sessions, err := session.NewManager(session.Config{
		Secret: cfg.SessionSecret,
		TTL:    cfg.SessionTTL,
		Secure: cfg.CookieSecure,
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var publishers []events.Publisher
	if cfg.NATSURL != "" {
		nats, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return err
		}
		defer nats.Close()
		publishers = append(publishers, nats)
		logger.Info("publishing token events to nats", "subject", cfg.NATSSubject)
	}

	var mailer handler.Mailer
	if cfg.EmailEnabled() {
		mailer = email.NewClient(cfg.PostmarkToken, cfg.FromEmail, cfg.BaseURL)
	}

	srv := server.New(server.Config{
		AdminPassphrase: cfg.AdminPassphrase,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimit:       cfg.RateLimit,
		RateWindow:      cfg.RateWindow,
	}, server.Deps{
		Tokens:     backend.Tokens,
		Accounts:   backend.Accounts,
		Ping:       backend.Ping,
		Sessions:   sessions,
		Mailer:     mailer,
		Publishers: publishers,
		Metrics:    m,
		Gatherer:   reg,
	}, logger)

	scheduler := jobs.NewScheduler(backend.Tokens, m, logger)
	if err := scheduler.Start(cfg.StatsSchedule); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("keygate starting", "addr", cfg.Addr, "driver", backend.Driver, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	scheduler.Stop(sctx)
	if err := httpServer.Shutdown(sctx); err != nil {
		return err
	}
	return nil
}
