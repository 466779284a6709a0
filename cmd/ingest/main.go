// Command ingest consumes products from NATS and runs them through the
// ingestion pipeline into Qdrant and the Neo4j catalog.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/stylesearch/engine/app"
	"github.com/WessleyAI/stylesearch/engine/ingest"
	"github.com/WessleyAI/stylesearch/pkg/config"
	"github.com/WessleyAI/stylesearch/pkg/logx"
)

func main() {
	var (
		metricsAddr  = flag.String("metrics", ":9091", "metrics listen address, empty to disable")
		jobTimeout   = flag.Duration("job-timeout", ingest.DefaultJobTimeout, "per-product ingestion deadline")
		skipExisting = flag.Bool("skip-existing", false, "reject products already in the catalog")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	level, err := logx.ParseLevel(cfg.LogLevel)
	if err != nil {
		slog.Warn("config", "err", err)
	}
	logger := logx.New(os.Stdout, level)
	slog.SetDefault(logger)

	if err := run(cfg, logger, *metricsAddr, *jobTimeout, *skipExisting); err != nil {
		logger.Error("ingest worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, metricsAddr string, jobTimeout time.Duration, skipExisting bool) error {
	if cfg.NATSURL == "" {
		return errors.New("NATS_URL is required for the ingest worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, app.Options{
		ServiceName:      "ingest",
		EnsureCollection: true,
		SkipExisting:     skipExisting,
	})
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	defer a.Close(context.Background())

	sub, err := ingest.StartConsumer(a.NATS, a.Pipeline, ingest.ConsumerOpts{
		JobTimeout: jobTimeout,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	logger.Info("ingest worker listening", "subject", ingest.Subject, "queue", ingest.QueueGroup)

	var metricsSrv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", a.Metrics.Handler())
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "err", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if err := sub.Drain(); err != nil {
		logger.Warn("subscription drain", "err", err)
	}
	if metricsSrv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutCtx)
	}
	return nil
}
