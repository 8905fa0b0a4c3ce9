package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type BotConfig struct {
	DiscordToken          string
	AuthorizerID          string
	MarketChannelID       string
	AnnouncementChannelID string
	CommandPrefix         string

	Store       string
	DataDir     string
	DatabaseURL string

	APIAddr    string
	AdminToken string

	InterestBps  int64
	RotationSeed int64

	CommandsPerMinute float64
	CommandBurst      int

	LogLevel slog.Level
}

type CLIConfig struct {
	APIBaseURL string
	AdminToken string
}

type MigrateConfig struct {
	DatabaseURL string
	LogLevel    slog.Level
}

func LoadBotFromEnv() (BotConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("GILDED_API_ADDR", ":8080")
	}

	cfg := BotConfig{
		DiscordToken:          strings.TrimSpace(os.Getenv("DISCORD_TOKEN")),
		AuthorizerID:          strings.TrimSpace(os.Getenv("GILDED_AUTHORIZER_ID")),
		MarketChannelID:       strings.TrimSpace(os.Getenv("GILDED_MARKET_CHANNEL_ID")),
		AnnouncementChannelID: strings.TrimSpace(os.Getenv("GILDED_BANK_CHANNEL_ID")),
		CommandPrefix:         envDefault("GILDED_COMMAND_PREFIX", "!"),
		Store:                 strings.ToLower(envDefault("GILDED_STORE", StoreFile)),
		DataDir:               envDefault("GILDED_DATA_DIR", "./data"),
		DatabaseURL:           strings.TrimSpace(os.Getenv("DATABASE_URL")),
		APIAddr:               addr,
		AdminToken:            strings.TrimSpace(os.Getenv("GILDED_ADMIN_TOKEN")),
		InterestBps:           envInt64Default("GILDED_INTEREST_BPS", 500),
		RotationSeed:          envInt64Default("GILDED_ROTATION_SEED", time.Now().UnixNano()),
		CommandsPerMinute:     envFloatDefault("GILDED_COMMANDS_PER_MINUTE", 20),
		CommandBurst:          int(envInt64Default("GILDED_COMMAND_BURST", 5)),
		LogLevel:              envLevelDefault("GILDED_LOG_LEVEL", slog.LevelInfo),
	}
	if cfg.DiscordToken == "" {
		return cfg, fmt.Errorf("DISCORD_TOKEN is required")
	}
	if cfg.AuthorizerID == "" {
		return cfg, fmt.Errorf("GILDED_AUTHORIZER_ID is required")
	}
	switch cfg.Store {
	case StoreFile, StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return cfg, fmt.Errorf("GILDED_STORE must be file, postgres or memory, got %q", cfg.Store)
	}
	if cfg.InterestBps < 0 {
		return cfg, fmt.Errorf("GILDED_INTEREST_BPS must be >= 0")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("GILDCTL_API_BASE_URL", "http://localhost:8080"), "/"),
		AdminToken: strings.TrimSpace(os.Getenv("GILDED_ADMIN_TOKEN")),
	}
}

func LoadMigrateFromEnv() (MigrateConfig, error) {
	cfg := MigrateConfig{
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		LogLevel:    envLevelDefault("GILDED_LOG_LEVEL", slog.LevelInfo),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt64Default(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envLevelDefault(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return level
}
