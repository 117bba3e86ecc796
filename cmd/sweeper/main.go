package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/albion/platform/internal/bonus"
	"github.com/albion/platform/internal/config"
	"github.com/albion/platform/internal/database"
	"github.com/albion/platform/internal/events"
	"github.com/albion/platform/internal/identity"
	"github.com/albion/platform/internal/infra"
	"github.com/albion/platform/internal/ledger"
	"github.com/albion/platform/internal/pending"
	"github.com/albion/platform/internal/rates"
)

// The sweeper runs the platform's periodic jobs: releasing expired holds,
// expiring overdue bonuses, and reconciling ledger balances against the
// transaction log. Drift is reported, never corrected.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("PLATFORM_CONFIG"))
	if err != nil {
		slog.Error("Config load failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting sweeper", "service", cfg.Server.ServiceName)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clients := database.NewClientManager(cfg.Mongo.MaxPoolSize, time.Duration(cfg.Mongo.TimeoutSec)*time.Second)
	coreClient, err := clients.Client(ctx, cfg.Mongo.URI)
	if err != nil {
		slog.Error("Mongo connection failed", "error", err)
		os.Exit(1)
	}
	coreDB := coreClient.Database(cfg.Mongo.CoreDatabase)

	ledgerStore := ledger.NewMongoStore(coreDB)
	rateService := rates.NewService(nil, rates.NewMongoOverrides(coreDB))
	ledgerEngine := ledger.NewEngine(ledgerStore, rateService)
	reconciler := ledger.NewReconciler(ledgerStore)

	users := identity.NewUsers(identity.NewMongoStore(coreDB))
	bonusStore := bonus.NewMongoStore(coreDB)
	bonusRegistry := bonus.NewRegistry()
	bonus.RegisterStockHandlers(bonusRegistry)

	// The sweeper emits bonus.expired through the shared dispatcher so
	// subscribers and webhooks observe sweeps like any other transition.
	var publisher events.Publisher
	var auditStore events.AuditStore
	if adapter, err := infra.NewRedisAdapter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
		slog.Warn("Redis unavailable, events stay local", "error", err)
	} else {
		publisher = adapter
		defer adapter.Close()
	}
	if cfg.Events.AuditEnabled {
		auditStore = events.NewMongoAuditStore(coreDB)
	}
	dispatcher := events.NewDispatcher(auditStore, publisher, cfg.Events.ChannelPrefix, cfg.Events.BufferSize, nil, nil)
	defer dispatcher.Close()

	bonusEngine := bonus.NewEngine(bonusStore, bonusStore, bonusStore, bonusRegistry,
		ledgerEngine, dispatcher, pending.NewMemoryStore(), users)

	scheduler := cron.New()

	mustSchedule(scheduler, cfg.Sweeper.HoldSweepCron, "hold-sweep", func() {
		jobCtx, jobCancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer jobCancel()
		if _, err := ledgerEngine.SweepExpiredHolds(jobCtx, 500); err != nil {
			slog.Error("Hold sweep failed", "error", err)
		}
	})

	mustSchedule(scheduler, cfg.Sweeper.BonusExpiryCron, "bonus-expiry", func() {
		jobCtx, jobCancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer jobCancel()
		if _, err := bonusEngine.SweepExpired(jobCtx, 500); err != nil {
			slog.Error("Bonus expiry sweep failed", "error", err)
		}
	})

	mustSchedule(scheduler, cfg.Sweeper.ReconcileCron, "reconcile", func() {
		jobCtx, jobCancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer jobCancel()
		drift, err := reconciler.Run(jobCtx)
		if err != nil {
			slog.Error("Reconciliation failed", "error", err)
			return
		}
		if len(drift) > 0 {
			slog.Error("Reconciliation found drift", "accounts", len(drift))
		}
	})

	scheduler.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("Stopping sweeper", "signal", sig.String())

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(cfg.ShutdownGrace()):
		slog.Warn("Sweeper jobs did not finish before shutdown deadline")
	}
	_ = clients.Close(context.Background())
}

func mustSchedule(scheduler *cron.Cron, spec, name string, job func()) {
	if spec == "" {
		slog.Info("Job disabled", "job", name)
		return
	}
	if _, err := scheduler.AddFunc(spec, job); err != nil {
		slog.Error("Invalid cron spec", "job", name, "spec", spec, "error", err)
		os.Exit(1)
	}
	slog.Info("Job scheduled", "job", name, "spec", spec)
}
