// Package main implements the stylesearch HTTP API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/stylesearch/engine/app"
	"github.com/WessleyAI/stylesearch/engine/domain"
	"github.com/WessleyAI/stylesearch/engine/ingest"
	"github.com/WessleyAI/stylesearch/pkg/config"
	"github.com/WessleyAI/stylesearch/pkg/logx"
	"github.com/WessleyAI/stylesearch/pkg/mid"
)

func main() {
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

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, app.Options{ServiceName: "api", EnsureCollection: true})
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	defer a.Close(context.Background())

	srv := &server{
		queries: a.RAG,
		ingest:  a.Pipeline,
		log:     logger,
	}
	if a.NATS != nil {
		nc := a.NATS
		srv.publish = func(ctx context.Context, p domain.Product) error {
			return ingest.Publish(ctx, nc, p)
		}
	}

	mux := http.NewServeMux()
	srv.routes(mux)
	mux.Handle("GET /metrics", a.Metrics.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("stylesearch-api"),
		mid.Metrics(a.Metrics),
	)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}
