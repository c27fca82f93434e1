package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Schlossparktheater-Altrossthal/realtime/internal/authz"
	"github.com/Schlossparktheater-Altrossthal/realtime/internal/server"
	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/config"
	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/handshake"
	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/logging"
)

func main() {
	mintUser := flag.String("mint-token", "", "print a handshake token for the given user id and exit")
	flag.Parse()

	bootstrapLogger := logging.New(logging.LevelInfo)

	cfg, err := config.Load(bootstrapLogger, "config")
	if err != nil {
		bootstrapLogger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	if *mintUser != "" {
		token, err := handshake.Create(handshake.CreateOptions{
			UserID: *mintUser,
			Secret: cfg.Handshake.Secret,
			TTL:    time.Duration(cfg.Handshake.TTLSeconds) * time.Second,
		})
		if err != nil {
			bootstrapLogger.Error("Failed to mint handshake token", slog.Any("error", err))
			os.Exit(1)
		}
		fmt.Println(token.Value)
		return
	}

	logger := logging.New(logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	if cfg.Handshake.Secret == "" {
		logger.Error("No handshake secret configured; refusing to start")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// TODO: swap the static store for the membership-database implementation
	// once the data-access service exposes the participant lookups.
	store := authz.NewStaticStore()

	app := server.NewApp(logger, ctx, cfg, store)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
