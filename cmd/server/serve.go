package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"

	"github.com/Tyrowin/formsync/internal/collab"
	"github.com/Tyrowin/formsync/internal/logging"
	"github.com/Tyrowin/formsync/internal/metrics"
	"github.com/Tyrowin/formsync/internal/room"
	"github.com/Tyrowin/formsync/internal/server"
	"github.com/Tyrowin/formsync/internal/store"
	"github.com/Tyrowin/formsync/internal/tracing"
)

func storeConfig(cfg *server.Config) store.Config {
	return store.Config{
		Driver:    cfg.Database.Driver,
		URL:       cfg.Database.URL,
		PoolSize:  cfg.Database.PoolSize,
		RedisAddr: cfg.Redis.Addr,
		TokenTTL:  cfg.Redis.TokenTTL,
	}
}

func serve(ctx context.Context, cfg *server.Config) error {
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	st, err := store.Open(ctx, storeConfig(cfg), logger.With("component", "store"))
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("closing store", "error", err)
		}
	}()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}

	var (
		m        *metrics.Metrics
		gatherer prometheus.Gatherer
		roomOpts = []room.Option{room.WithLogger(logger.With("component", "rooms"))}
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(cfg.Metrics.Namespace, reg)
		gatherer = reg
		roomOpts = append(roomOpts, room.WithObserver(m))
	}

	syncOpts := []collab.Option{
		collab.WithLogger(logger.With("component", "collab")),
		collab.WithMetrics(m),
		collab.WithTerminateOnError(cfg.Sync.TerminateOnError),
		collab.WithUnknownUserLabel(cfg.Sync.UnknownUserLabel),
	}
	if cfg.Tracing.Enabled {
		tp, err := tracing.NewProvider(tracing.Config{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
			Pretty:      cfg.Tracing.Pretty,
		}, os.Stderr)
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := tp.Shutdown(flushCtx); err != nil {
				logger.Error("flushing traces", "error", err)
			}
		}()
		otel.SetTracerProvider(tp)
		syncOpts = append(syncOpts, collab.WithTracer(tp.Tracer(collab.TracerName)))
		logger.Info("tracing enabled", "sample_ratio", cfg.Tracing.SampleRatio)
	}

	rooms := room.NewRegistry(roomOpts...)
	svc := collab.NewService(st, rooms, syncOpts...)

	srv := server.New(server.Deps{
		Config:   cfg,
		Sync:     svc,
		Forms:    st,
		Metrics:  m,
		Gatherer: gatherer,
		Logger:   logger.With("component", "server"),
	})
	srv.StartHub()

	httpServer := server.CreateServer(cfg.Server.Port, srv.SetupRoutes())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.StartServer(httpServer)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			_ = srv.Hub().Shutdown(cfg.Server.ShutdownTimeout)
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	return srv.Shutdown(httpServer, cfg.Server.ShutdownTimeout)
}
