package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Jazaniest/ourMid/bot"
	"github.com/Jazaniest/ourMid/cleanup"
	"github.com/Jazaniest/ourMid/config"
	"github.com/Jazaniest/ourMid/engine"
	"github.com/Jazaniest/ourMid/ledger"
	"github.com/Jazaniest/ourMid/logging"
	"github.com/Jazaniest/ourMid/pool"
	"github.com/Jazaniest/ourMid/server"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	store, err := ledger.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open ledger: %v", err)
	}
	defer store.Close()

	channelPool := pool.New(cfg.GroupIDs)
	txEngine := engine.New(store)

	teleBot, err := bot.NewTeleBot(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize bot: %v", err)
	}
	tr := bot.NewTransport(teleBot)

	cleaner := cleanup.NewScheduler(logger, channelPool, tr, tr, cfg.CleanupGrace)
	defer cleaner.Shutdown()

	escrowBot := bot.New(teleBot, tr, store, txEngine, channelPool, cleaner, logger)
	adminAPI := server.New(store, txEngine, channelPool, tr, logger)

	go func() {
		if err := adminAPI.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server stopped", "err", err)
		}
	}()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := adminAPI.Shutdown(ctx); err != nil {
			logger.Warn("admin server shutdown", "err", err)
		}
		escrowBot.Stop()
	}()

	logger.Info("escrow service starting", "channels", len(cfg.GroupIDs), "http", cfg.HTTPAddr)
	escrowBot.Start()
}
