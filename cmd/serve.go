package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/snakehook-triage/internal/config"
	"github.com/nextlevelbuilder/snakehook-triage/internal/lifecycle"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the triage HTTP service",
		Run: func(cmd *cobra.Command, args []string) {
			runServe(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	return cmd
}

func runServe(addr string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: resolveLogLevel(),
	})))

	settings, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load settings", "error", err)
		os.Exit(1)
	}
	if df := resolveDenylistFile(); df != "" {
		settings.DenylistFile = df
	}

	container, err := lifecycle.Build(settings)
	if err != nil {
		slog.Error("failed to build service", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	container.Start(ctx)
	defer container.Stop()

	srv := &http.Server{
		Addr:    addr,
		Handler: container.Mux(),
	}

	go func() {
		slog.Info("serving", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("graceful shutdown failed", "error", err)
	}
}

// resolveLogLevel picks the slog level: -v/--verbose forces debug
// regardless of LOG_LEVEL; otherwise LOG_LEVEL (debug/info/warn/error,
// case-insensitive) is used, defaulting to info when unset or unrecognized.
func resolveLogLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
