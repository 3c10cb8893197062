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

	"github.com/robfig/cron/v3"

	"github.com/arclight-labs/streamgate/internal/api"
	"github.com/arclight-labs/streamgate/internal/bot"
	"github.com/arclight-labs/streamgate/internal/config"
	"github.com/arclight-labs/streamgate/internal/keepalive"
	"github.com/arclight-labs/streamgate/internal/ledger"
	"github.com/arclight-labs/streamgate/internal/logger"
	"github.com/arclight-labs/streamgate/internal/metadata"
	"github.com/arclight-labs/streamgate/internal/metrics"
	"github.com/arclight-labs/streamgate/internal/routing"
	"github.com/arclight-labs/streamgate/internal/stream"
	"github.com/arclight-labs/streamgate/internal/tgc"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}

	appLogger := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	appLogger.Info("starting streamgate",
		slog.String("version", api.Version),
		slog.String("instance_id", logger.GetInstanceID()))

	// Core state and services.
	ldg := ledger.New()
	pool := tgc.NewPool(cfg, ldg, appLogger)
	intake := bot.New(cfg, pool, appLogger)
	pool.SetUpdateHandler(intake.Handler())

	// The primary session is mandatory; without it nothing can stream.
	if err := pool.Start(context.Background()); err != nil {
		appLogger.Error("failed to start session pool", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if !pool.HasSecondaries() {
		appLogger.Warn("no secondary sessions up, mid-stream failover has nowhere to go")
	}

	router := routing.New(ldg, cfg.MaxConcurrentPerClient, appLogger)
	resolver := metadata.NewResolver(pool, router, appLogger)
	engine := stream.NewEngine(pool, router, ldg, appLogger)
	collectors := metrics.New()
	server := api.NewServer(cfg, appLogger, ldg, pool, router, resolver, engine, collectors)

	// Background schedules: pool maintenance, and the optional self-ping.
	maintenance := tgc.NewMaintenance(pool, cfg, appLogger)
	scheduler := cron.New()
	scheduler.AddFunc("@every 60s", func() {
		maintenance.Pass(context.Background())
		collectors.ObserveLoads(ldg.Loads())
	})
	if cfg.PublicURL != "" {
		pinger := keepalive.New(cfg.PublicURL, appLogger)
		scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.PingInterval), func() {
			pinger.Ping(context.Background())
		})
	}
	scheduler.Start()

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Handler(),
	}

	go func() {
		appLogger.Info("listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("failed to start server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down")

	jobs := scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("server forced to shutdown", slog.String("error", err.Error()))
	}

	// Let in-flight maintenance finish before the sessions disappear
	// underneath it.
	select {
	case <-jobs.Done():
	case <-ctx.Done():
	}
	pool.Shutdown()

	appLogger.Info("server exited")
}
