package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yuv-man/asd-server/internal/app"
	"github.com/yuv-man/asd-server/internal/config"
	"github.com/yuv-man/asd-server/internal/logger"
	"github.com/yuv-man/asd-server/internal/observability"
)

var version = "dev"

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("🚀 Starting ASD progress server...", "version", version)
	log.Info("✓ Environment variables loaded", "env", cfg.Env, "driver", cfg.DatabaseDriver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ──── Step 2: Tracing ────
	shutdownTracing := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "asd-server",
		Environment: cfg.Env,
		Version:     version,
	})

	// ──── Step 3: Store, Redis, services, router ────
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("✗ Startup failed", "error", err)
	}

	// ──── Step 4: Background workers ────
	a.Start(ctx)

	// ──── Step 5: Start HTTP Server ────
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      a.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		log.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "error", err)
		}
		if err := a.Shutdown(shutdownCtx); err != nil {
			log.Error("app shutdown failed", "error", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	log.Info("✓ ASD progress server ready",
		"api", fmt.Sprintf("http://localhost:%s/api/v1", cfg.Port),
		"ws", fmt.Sprintf("ws://localhost:%s/api/v1/ws", cfg.Port),
	)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal("Server error", "error", err)
	}
	<-drained
}
