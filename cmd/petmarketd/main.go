package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"petmarket/internal/api"
	"petmarket/internal/bot"
	"petmarket/internal/config"
	"petmarket/internal/ledger"
	"petmarket/internal/market"
	"petmarket/internal/notify"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	persist, err := ledger.NewPersister(cfg.DataDir, logger)
	if err != nil {
		logger.Error("init persistence failed", "err", err)
		os.Exit(1)
	}
	store := ledger.NewStore(cfg.InitialCoins)
	store.Replace(persist.Load(), time.Now())

	sim := market.NewSimulator(cfg.DataDir, logger)

	var notifier notify.Notifier
	if cfg.NATSURL != "" {
		n, err := notify.NewNATSNotifier(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("nats connect failed", "err", err)
			os.Exit(1)
		}
		notifier = n
	}

	svc, err := ledger.NewService(cfg, store, persist, sim, notifier, logger)
	if err != nil {
		logger.Error("init service failed", "err", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sim.Run(ctx, cfg.MarketTickEvery)
	}()
	go func() {
		defer wg.Done()
		svc.RunAutosave(ctx)
	}()

	if cfg.DiscordToken != "" {
		discord, err := bot.New(cfg, logger, svc)
		if err != nil {
			logger.Error("init discord bot failed", "err", err)
			os.Exit(1)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := discord.Run(ctx); err != nil {
				logger.Error("discord bot stopped", "err", err)
			}
		}()
	}

	server := api.New(cfg, logger, svc)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("petmarketd listening", "addr", cfg.Addr, "data_dir", cfg.DataDir)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
	}

	// Background loops drain before the final flush so the snapshot includes
	// their last writes.
	wg.Wait()
	if err := svc.Close(); err != nil {
		logger.Error("final flush failed", "err", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
