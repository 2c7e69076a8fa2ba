package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/taskora/marketplace/internal/config"
	kafkax "github.com/taskora/marketplace/internal/kafka"
	"github.com/taskora/marketplace/internal/market"
	"github.com/taskora/marketplace/internal/notify"
	"github.com/taskora/marketplace/internal/postgres"
	"github.com/taskora/marketplace/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024)
	prod.Start(context.Background())

	svc := &notify.Service{
		Matcher:     &notify.PGMatcher{DB: db},
		Redis:       rdb,
		Producer:    prod,
		ServiceName: cfg.ServiceName + "-dispatcher",
		Log:         log,
	}

	group := getenv("DISPATCHER_GROUP", "lead-dispatcher")
	workers := mustAtoi(os.Getenv("DISPATCHER_WORKERS"), 8)
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, market.TopicLeadPosted, workers)

	go func() {
		log.Info("dispatcher consumer started", "group", group, "topic", market.TopicLeadPosted, "workers", workers)
		if err := cons.Start(ctx, svc.HandleLeadPosted); err != nil {
			log.Error("consumer exit", "err", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info("shutting down dispatcher")
	case <-ctx.Done():
	}
	cancel()
	prod.Close()
	prod.WaitClosed()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
