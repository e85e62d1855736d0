package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/codecast/internal/config"
	"github.com/rickgao/codecast/internal/database"
	"github.com/rickgao/codecast/internal/metrics"
	"github.com/rickgao/codecast/internal/recorder"
)

func newRecordCmd(opts *options) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record room events to PostgreSQL",
		Long:  `Subscribe to every configured room and write its events to the codecast_events table`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithDefaults(opts.configPath)
			if err != nil {
				return err
			}
			if err := cfg.ValidateRecorder(); err != nil {
				return fmt.Errorf("validate config: %w", err)
			}
			return runRecord(cfg, opts, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "create the events table if it does not exist")
	return cmd
}

func runRecord(cfg *config.Config, opts *options, migrate bool) error {
	logger := opts.logger

	ctx, cancel := signalContext(logger)
	defer cancel()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if migrate {
		if err := recorder.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("schema applied")
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	observer := metrics.New(registry)

	s, err := newSession(cfg, logger, observer)
	if err != nil {
		return err
	}

	writer := recorder.NewWriter(recorder.Config{
		BatchSize:     cfg.Recorder.BatchSize,
		FlushInterval: cfg.Recorder.FlushInterval,
		QueueCapacity: cfg.Recorder.QueueCapacity,
	}, s.topics, pool, logger)
	metrics.RegisterRecorder(registry, writer.Stats)

	for _, room := range cfg.Codecast.Rooms {
		s.client.Subscribe(s.topics.BroadcastTopic(room), writer)
	}

	mux := http.NewServeMux()
	mux.Handle("/health", createHealthHandler(healthSources{
		db:       pool,
		client:   s.client.Stats,
		recorder: writer.Stats,
	}, logger))
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := writer.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := s.connect(gctx); err != nil {
			return err
		}
		logger.Info("recording rooms",
			"rooms", cfg.Codecast.Rooms,
			"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
		)
		<-gctx.Done()
		return nil
	})

	runErr := g.Wait()

	logger.Info("shutting down...")
	s.client.Disconnect()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := writer.Stop(stopCtx); err != nil {
		logger.Error("failed to flush events", "error", err)
	}

	stats := writer.Stats()
	logger.Info("recorder stopped",
		"received", stats.Received,
		"inserts", stats.Inserts,
		"conflicts", stats.Conflicts,
		"errors", stats.Errors,
	)

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
