package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"signal-trader/internal/api"
	"signal-trader/internal/config"
	"signal-trader/internal/manager"
	"signal-trader/internal/notifier"
	"signal-trader/pkg/db"
	"signal-trader/pkg/exchange"
	"signal-trader/pkg/exchange/bybit"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	configPath := flag.String("config", "./config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("starting signal-trader on port %s (%d signal rules, %d exchanges)",
		cfg.Port, len(cfg.Signals), len(cfg.Exchanges))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}

	// Operator channel
	var notif notifier.Notifier = notifier.Noop{}
	var telegram *notifier.TelegramBot
	if cfg.Telegram.BotToken != "" {
		telegram, err = notifier.NewTelegramBot(ctx, cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			log.Fatalf("telegram init failed: %v", err)
		}
		notif = telegram
	}

	// Exchange adapters
	exchanges := make(map[string]exchange.Exchange, len(cfg.Exchanges))
	adapters := make([]*bybit.Adapter, 0, len(cfg.Exchanges))
	for _, exCfg := range cfg.Exchanges {
		adapter := bybit.New(exCfg)
		exchanges[exCfg.Name] = adapter
		adapters = append(adapters, adapter)
	}

	mgr, err := manager.New(manager.Options{
		Signals:      cfg.Signals,
		Exchanges:    exchanges,
		MaxPositions: cfg.MaxPositions,
		Notifier:     notif,
		Journal:      database,
	})
	if err != nil {
		log.Fatalf("manager init failed: %v", err)
	}

	if telegram != nil {
		telegram.SetCommandHandler(mgr.HandleCommand)
		if err := telegram.Start(ctx); err != nil {
			log.Fatalf("telegram start failed: %v", err)
		}
	}

	for _, adapter := range adapters {
		adapter.Start(ctx)
	}

	server := api.NewServer(mgr, database, cfg.JWTSecret)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	notif.Send(ctx, "signal-trader started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
	notif.Send(context.Background(), "signal-trader shutting down")
}
