// hubserver runs the realtime messaging hub.
// Usage: go run ./cmd/hubserver --config configs/hub.local.yaml
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ksawyer/wirehub/internal/bridge"
	"github.com/ksawyer/wirehub/internal/bus"
	"github.com/ksawyer/wirehub/internal/config"
	"github.com/ksawyer/wirehub/internal/server"
	"github.com/ksawyer/wirehub/internal/store"
	"github.com/ksawyer/wirehub/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	flag.Parse()

	// Load configuration first so the log level can honor it.
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadAndValidate(*configPath)
		if err != nil {
			slog.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	} else {
		cfg = config.Default()
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	logger.Info("starting hubserver",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Pick the chat store: Postgres when configured, in-memory otherwise.
	var st store.Store
	if cfg.Database.Host != "" {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pg, err := store.NewPostgres(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		st = pg
		logger.Info("database connected")
	} else {
		logger.Warn("no database configured, chat history is in-memory only")
		st = store.NewMemory()
	}
	defer st.Close()

	srv := server.New(*cfg, st, logger)

	// Log connection lifecycle events from the bus.
	srv.Bus().Subscribe(bridge.EventClientConnected, func(p bus.Payload) {
		logger.Info("client connected", "conn_id", p.Source)
	})
	srv.Bus().Subscribe(bridge.EventClientDisconnected, func(p bus.Payload) {
		logger.Info("client disconnected", "conn_id", p.Source)
	})

	if err := srv.Start(ctx); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
		defer stopCancel()
		return srv.Stop(stopCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	logger.Info("hubserver stopped")
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
