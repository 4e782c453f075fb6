// Chatdesk interactive chat client.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ashureev/chatdesk/internal/config"
	"github.com/ashureev/chatdesk/internal/coordinator"
	"github.com/ashureev/chatdesk/internal/gateway"
	"github.com/ashureev/chatdesk/internal/localstate"
	"github.com/ashureev/chatdesk/internal/repl"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/peterh/liner"
)

func main() {
	// A .env file is optional.
	_ = godotenv.Load()

	cfg, err := config.LoadClient()
	if err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "chatdesk:", err)
		os.Exit(1)
	}

	// stdout belongs to the conversation; logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("chatdesk failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Client, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	local, err := localstate.NewSQLite(cfg.StatePath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := local.Close(); closeErr != nil {
			logger.Warn("Failed to close local state", "error", closeErr)
		}
	}()

	client, err := gateway.New(gateway.Config{
		BaseURL:        cfg.APIURL,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	coord := coordinator.New(client, local, coordinator.Config{
		GuestMessageCap: cfg.GuestMessageCap,
		Logger:          logger,
	})
	if err := coord.Initialize(ctx); err != nil {
		// The session falls back to guest; the shell shows why.
		logger.Info("Starting without a restored session", "error", err)
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyPath := filepath.Join(filepath.Dir(cfg.StatePath), "history")
	if f, err := os.Open(historyPath); err == nil {
		if _, err := line.ReadHistory(f); err != nil {
			logger.Debug("Failed to read history", "error", err)
		}
		_ = f.Close()
	}
	defer func() {
		f, err := os.OpenFile(historyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			logger.Debug("Failed to open history for writing", "error", err)
			return
		}
		defer f.Close()
		if _, err := line.WriteHistory(f); err != nil {
			logger.Debug("Failed to write history", "error", err)
		}
	}()

	return repl.New(coord, client, line, os.Stdout, logger).Run(ctx)
}
