package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robbiemu-homelab/keyvault/internal/config"
	"github.com/robbiemu-homelab/keyvault/internal/server"
	"github.com/robbiemu-homelab/keyvault/internal/store"
)

func main() {
	// Command-line flags override the environment.
	addr := flag.String("addr", "", "listen address (defaults to KEYVAULT_ADDR)")
	queriesPath := flag.String("queries", "", "SQL statement file (defaults to KEYVAULT_QUERIES)")
	envFile := flag.String("env", ".env", "env file loaded before reading the environment")
	initSchema := flag.Bool("init-schema", false, "create the secrets table on startup if missing")
	flag.Parse()

	cfg, err := config.LoadFrom(*envFile)
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *queriesPath != "" {
		cfg.QueriesPath = *queriesPath
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	queries, err := store.LoadQueries(cfg.QueriesPath)
	if err != nil {
		slog.Error("failed to load statements", "error", err, "path", cfg.QueriesPath)
		os.Exit(1)
	}
	slog.Info("statements loaded", "path", cfg.QueriesPath, "count", len(queries))

	ctx := context.Background()
	st, err := store.Open(ctx, store.Config{
		ReadDSN:  cfg.ReadDSN(),
		WriteDSN: cfg.WriteDSN(),
		MaxConns: cfg.MaxConns,
		Queries:  queries,
	})
	if err != nil {
		slog.Error("failed to connect to Postgres", "error", err, "host", cfg.PGHost)
		os.Exit(1)
	}
	slog.Info("connected to Postgres", "host", cfg.PGHost, "database", cfg.Database)

	if *initSchema {
		if err := st.EnsureSchema(ctx); err != nil {
			slog.Error("failed to initialize schema", "error", err)
			st.Close()
			os.Exit(1)
		}
		slog.Info("schema ready")
	}

	srv, err := server.NewServer(st, server.Config{
		ReadKey:          cfg.ReadAPIKey,
		WriteKey:         cfg.WriteAPIKey,
		BackupPassphrase: cfg.BackupPassphrase,
	})
	if err != nil {
		slog.Error("failed to build server", "error", err)
		st.Close()
		os.Exit(1)
	}

	go func() {
		slog.Info("listening", "addr", cfg.Addr)
		if err := srv.Start(cfg.Addr); err != nil {
			slog.Error("server stopped", "error", err)
		}
	}()

	// Graceful shutdown hook.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	slog.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	st.Close()
	slog.Info("exited gracefully")
}
