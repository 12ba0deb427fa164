package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"observatory-collector/internal/config"
	"observatory-collector/internal/health"
	"observatory-collector/internal/httpapi"
	"observatory-collector/internal/metrics"
	"observatory-collector/internal/mqtt"
	"observatory-collector/internal/readers"
	"observatory-collector/internal/report"
	"observatory-collector/internal/store"
	"observatory-collector/internal/views"
)

const (
	apiTimeout      = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

// runner is one long-lived collector task.
type runner interface {
	Run(ctx context.Context) error
}

func Run(ctx context.Context, cfg config.Config) error {
	slog.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"remoteAPI", cfg.RemoteAPI,
		"apiKeySet", cfg.APIKey != "",
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"pushInterval", cfg.PushInterval.String(),
		"sqmDevices", len(cfg.SQMDevices),
		"davisDevices", len(cfg.DavisDevices),
		"cloudwatcherDevices", len(cfg.CloudwatcherDevices),
	)

	st := store.New()
	tracker := health.NewTracker()
	m := metrics.New(tracker, st)
	logger := slog.Default()

	tasks := deviceReaders(cfg, readers.Sink{
		Store:    st,
		Health:   tracker,
		Observer: m,
		Logger:   logger.With("component", "readers"),
	})
	if len(tasks) == 0 {
		slog.Warn("no network instruments configured, relying on mqtt only")
	}

	subscriber := mqtt.NewSubscriber(cfg, st, tracker, m, logger.With("component", "mqtt"))
	tasks = append(tasks, subscriber)

	client := report.NewClient(cfg.RemoteAPI, cfg.APIKey, &http.Client{Timeout: apiTimeout}, m)
	tasks = append(tasks, report.New(cfg, client, st, tracker, logger.With("component", "report")))

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		g.Go(func() error {
			return ignoreCanceled(t.Run(gctx))
		})
	}

	if cfg.HTTPAddr != "" {
		if err := views.LoadTemplates(); err != nil {
			return err
		}
		mux := httpapi.NewMux(httpapi.Deps{
			Store:   st,
			Health:  tracker,
			Broker:  subscriber,
			Metrics: m.Handler(),
		})
		srv := httpapi.NewServer(cfg.HTTPAddr, mux, logger)
		g.Go(func() error {
			return serveHTTP(gctx, srv)
		})
	} else {
		slog.Info("http api disabled")
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func deviceReaders(cfg config.Config, sink readers.Sink) []runner {
	client := &http.Client{Timeout: cfg.DeviceTimeout}

	var out []runner
	for _, dev := range cfg.SQMDevices {
		out = append(out, readers.NewSQM(dev, cfg.DeviceTimeout, sink))
	}
	for _, dev := range cfg.DavisDevices {
		out = append(out, readers.NewWeatherLink(dev, client, sink))
	}
	for _, dev := range cfg.CloudwatcherDevices {
		out = append(out, readers.NewCloudwatcher(dev, client, sink))
	}
	return out
}

// serveHTTP runs srv until ctx is done, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err := <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
