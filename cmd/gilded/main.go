package main

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gilded/internal/api"
	"gilded/internal/bot"
	"gilded/internal/config"
	"gilded/internal/discord"
	"gilded/internal/economy"
	"gilded/internal/metrics"
	"gilded/internal/store/file"
	"gilded/internal/store/memory"
	"gilded/internal/store/postgres"

	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadBotFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open store failed", "store", cfg.Store, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	bank, err := openBank(ctx, cfg, store, logger)
	if err != nil {
		logger.Error("open bank failed", "err", err)
		os.Exit(1)
	}
	bank.OnSaveFailure(metrics.ObserveStoreFailure)

	router := bot.NewRouter(bank, bot.Options{
		Prefix:          cfg.CommandPrefix,
		MarketChannelID: cfg.MarketChannelID,
		BankChannelID:   cfg.AnnouncementChannelID,
		Throttle:        bot.NewThrottle(cfg.CommandsPerMinute, cfg.CommandBurst),
	}, logger)

	chat, err := discord.New(cfg.DiscordToken, router, logger)
	if err != nil {
		logger.Error("discord init failed", "err", err)
		os.Exit(1)
	}

	server := api.New(cfg.AdminToken, logger, bank)
	server.OnSession(func(ctx context.Context, report economy.SessionReport) {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		chat.Send(ctx, router.SessionAnnouncements(report, ""))
	})
	httpServer := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.AdminToken == "" {
		logger.Warn("GILDED_ADMIN_TOKEN not set, /v1 admin api disabled")
	} else if cfg.MarketChannelID == "" || cfg.AnnouncementChannelID == "" {
		logger.Warn("market or bank channel not set, api-started sessions will not be fully announced")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return chat.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("gilded api listening", "addr", cfg.APIAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("gilded stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("gilded stopped")
}

func openStore(ctx context.Context, cfg config.BotConfig, logger *slog.Logger) (economy.Store, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using postgres store")
		return postgres.New(pool), pool.Close, nil
	case config.StoreMemory:
		logger.Warn("using in-memory store, balances are lost on exit")
		return memory.New(), func() {}, nil
	default:
		s, err := file.New(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using file store", "path", s.Path())
		return s, func() {}, nil
	}
}

func openBank(ctx context.Context, cfg config.BotConfig, store economy.Store, logger *slog.Logger) (*economy.Bank, error) {
	prices, err := economy.NewPriceTable(economy.DefaultPrices())
	if err != nil {
		return nil, err
	}
	ledger := economy.NewLedger(prices, economy.WithInterestBps(cfg.InterestBps))
	market, err := economy.NewMarket(economy.DefaultCatalog(), rand.New(rand.NewSource(cfg.RotationSeed)))
	if err != nil {
		return nil, err
	}
	scheduler, err := economy.NewScheduler(cfg.AuthorizerID)
	if err != nil {
		return nil, err
	}
	return economy.Open(ctx, store, ledger, market, scheduler, logger)
}
