package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nvr-ai/forklift-safety/config"
	"github.com/nvr-ai/forklift-safety/logging"
	"github.com/nvr-ai/forklift-safety/metrics"
	"github.com/nvr-ai/forklift-safety/pipeline"
	"github.com/nvr-ai/forklift-safety/server"
	"github.com/nvr-ai/forklift-safety/tracing"
)

func main() {
	configPath := flag.String("config", os.Getenv("FORKLIFT_CONFIG"), "Optional YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	fatalOnErr(err, "load config")

	log, err := logging.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting forklift-safety", zap.String("addr", cfg.HTTPAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if the collector is unavailable)
	if cfg.JaegerEndpoint != "" {
		tp, err := tracing.InitTracer(ctx, cfg.JaegerEndpoint)
		if err != nil {
			log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
		}
	}

	m := metrics.New()

	p, err := pipeline.NewFromConfig(cfg, log, m)
	fatalOnErr(err, "build pipeline")
	defer p.Close()

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.New(p, server.Config{
			MaxUploadBytes: cfg.MaxUploadBytes,
			TempDir:        cfg.TempDir,
		}, log.Named("http"), m).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.SeekTimeout + cfg.LoadTimeout + cfg.InferenceTimeout + 30*time.Second,
	}

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", zap.Error(err))
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	log.Info("forklift-safety stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
