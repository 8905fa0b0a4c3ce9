package main

import (
	"log/slog"
	"os"

	"gilded/internal/config"
	"gilded/internal/store/postgres"
)

func main() {
	cfg, err := config.LoadMigrateFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	applied, err := postgres.Migrate(cfg.DatabaseURL)
	if err != nil {
		logger.Error("migration failed", "err", err)
		os.Exit(1)
	}
	if !applied {
		logger.Info("schema already up to date")
		return
	}
	logger.Info("migrations applied")
}
