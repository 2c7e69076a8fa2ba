package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/taskora/marketplace/internal/clock"
	"github.com/taskora/marketplace/internal/config"
	"github.com/taskora/marketplace/internal/httpx"
	kafkax "github.com/taskora/marketplace/internal/kafka"
	"github.com/taskora/marketplace/internal/leads"
	"github.com/taskora/marketplace/internal/ledger"
	"github.com/taskora/marketplace/internal/payments"
	"github.com/taskora/marketplace/internal/postgres"
	"github.com/taskora/marketplace/internal/redisx"
	"github.com/taskora/marketplace/internal/slots"
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
	// The producer outlives ctx so queued events still flush on
	// shutdown; Close after g.Wait drains the inbox.
	prod.Start(context.Background())

	clk := clock.NewSystem()

	registry := slots.NewRegistry(&slots.PGRepo{DB: db}, clk,
		slots.WithHoldTTL(cfg.HoldTTL), slots.WithLogger(log))
	entLedger := ledger.New(&ledger.PGRepo{DB: db}, clk, log)
	gateway := payments.NewRESTGateway(cfg.GatewayBaseURL, cfg.GatewayKeyID, cfg.GatewaySecret)
	orchestrator := payments.NewOrchestrator(&payments.PGRepo{DB: db}, registry, entLedger,
		gateway, prod, cfg.GatewaySecret, cfg.ServiceName, clk, log)
	dispatcher := leads.NewDispatcher(&leads.PGRepo{DB: db}, prod, clk, cfg.ServiceName, log,
		leads.WithLeadTTL(cfg.LeadTTL))
	coordinator := leads.NewCoordinator(&leads.PGRepo{DB: db}, entLedger, prod,
		rdb, clk, cfg.ServiceName, log)

	router := httpx.NewRouter()
	(&httpx.PositionsHandler{Registry: registry, Redis: rdb}).Register(router)
	(&httpx.PaymentsHandler{Service: orchestrator, Redis: rdb}).Register(router)
	(&httpx.LeadsHandler{Leads: dispatcher, Accept: coordinator}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Background sweeps: expired leads, lapsed payment holds, lapsed
	// position entitlements.
	g.Go(func() error {
		return sweep(gctx, cfg.SweepInterval, func(c context.Context) {
			if err := dispatcher.ExpireStale(c, clk.Now()); err != nil {
				log.Error("lead sweep", "err", err)
			}
		})
	})
	g.Go(func() error {
		return sweep(gctx, cfg.SweepInterval, func(c context.Context) {
			if err := orchestrator.ExpireStale(c, clk.Now()); err != nil {
				log.Error("order sweep", "err", err)
			}
		})
	})
	g.Go(func() error {
		return sweep(gctx, cfg.SweepInterval, func(c context.Context) {
			if err := entLedger.SweepLapsed(c, registry); err != nil {
				log.Error("entitlement sweep", "err", err)
			}
		})
	})

	g.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case s := <-sig:
			log.Info("shutting down", "signal", s.String())
		case <-gctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("run", "err", err)
	}

	prod.Close()
	prod.WaitClosed()
}

func sweep(ctx context.Context, every time.Duration, fn func(context.Context)) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			fn(ctx)
		}
	}
}
