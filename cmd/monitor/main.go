package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/autopilot-health-monitor/internal/config"
	"github.com/invisible-tech/autopilot-health-monitor/internal/detection"
	"github.com/invisible-tech/autopilot-health-monitor/internal/incident"
	"github.com/invisible-tech/autopilot-health-monitor/internal/metrics"
	"github.com/invisible-tech/autopilot-health-monitor/internal/notify"
	"github.com/invisible-tech/autopilot-health-monitor/internal/privacy"
	"github.com/invisible-tech/autopilot-health-monitor/internal/server"
	"github.com/invisible-tech/autopilot-health-monitor/internal/store"
	"github.com/invisible-tech/autopilot-health-monitor/internal/version"
	"github.com/invisible-tech/autopilot-health-monitor/pkg/alertgw"
	"github.com/invisible-tech/autopilot-health-monitor/pkg/broadcast"
	"github.com/invisible-tech/autopilot-health-monitor/pkg/monitor"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)

	cfg := config.DefaultMonitorConfig()

	log.WithFields(logrus.Fields{
		"version": version.Version,
		"scope":   cfg.Scope,
	}).Info("Starting autopilot health monitor")

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()
	if err := store.RunMigrations(ctx, db, config.GetEnv("MIGRATIONS_PATH", "migrations")); err != nil {
		log.WithError(err).Fatal("Failed to apply schema")
	}
	st := store.NewStore(db)

	if cfg.ThresholdsFile != "" {
		if th, err := config.LoadThresholds(cfg.ThresholdsFile); err != nil {
			log.WithError(err).WithField("path", cfg.ThresholdsFile).Warn("Thresholds file unreadable, using defaults")
		} else {
			cfg.Thresholds = th
		}
	}

	var forwarder incident.Forwarder
	if cfg.AlertGatewayEnabled {
		gw := alertgw.NewClient(alertgw.Config{
			APIEndpoint: cfg.AlertGatewayEndpoint,
			APIKey:      cfg.AlertGatewayAPIKey,
			Timeout:     cfg.AlertGatewayTimeout,
		}, log)
		if err := gw.HealthCheck(ctx); err != nil {
			log.WithError(err).Warn("Alert gateway unreachable at startup")
		}
		forwarder = &incident.GatewayForwarder{Client: gw}
	}

	hub := broadcast.NewHub(log)
	dispatcher := notify.NewDispatcher(st, st, cfg.NotifyRoles, log)
	factory := incident.NewFactory(st, dispatcher, hub, forwarder, log)
	scanner := privacy.NewScanner(privacy.Config{
		BatchLimit:    cfg.FlagScanLimit,
		FlagLookback:  cfg.FlagLookback,
		DedupLookback: cfg.DedupLookback,
	}, st, factory, log)

	recorder := metrics.NewRecorder(cfg.MetricsWindow)
	sources := []monitor.MetricsSource{
		recorder,
		&monitor.ActivitySource{Counter: st},
	}

	mon := monitor.New(cfg, detection.NewBreachState(), factory, scanner, sources, log)

	if cfg.ThresholdsFile != "" {
		go func() {
			err := config.WatchThresholds(cfg.ThresholdsFile, log, ctx.Done(), func(th config.Thresholds) {
				mon.SetThresholds(th)
			})
			if err != nil {
				log.WithError(err).Error("Thresholds watcher stopped")
			}
		}()
	}

	go func() {
		if err := mon.Run(ctx); err != nil && err != context.Canceled {
			log.WithError(err).Error("Monitor loop stopped")
		}
	}()

	srv := server.New(cfg, recorder, st, hub, log)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Monitor server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("Received shutdown signal")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Error during shutdown")
	}

	log.Info("Monitor shutdown complete")
}
