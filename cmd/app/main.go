package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Habbi2/Crypto-Dashboard/internal/app"
	"github.com/Habbi2/Crypto-Dashboard/internal/infra"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Metrics endpoint
	if addr := bootstrap.Config.Metrics.Addr; addr != "" {
		go infra.StartMetricsServer(addr, infra.NewMetricsRegistry())
		slog.InfoContext(ctx, "✅ Metrics server started", slog.String("addr", addr))
	}

	// 5. Market coordinator and live feed
	market := bootstrap.Market
	market.Start(ctx)
	defer market.Stop()

	if err := bootstrap.Feed.Connect(ctx); err != nil {
		slog.Error("Failed to connect feed", slog.Any("error", err))
	} else if err := bootstrap.Feed.Subscribe(market.TrackedSymbols()); err != nil {
		slog.Error("Failed to subscribe feed", slog.Any("error", err))
	}
	defer bootstrap.Feed.Disconnect()

	slog.InfoContext(ctx, "✨ Crypto Dashboard fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
}
