package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/albion/platform/internal/auth"
	"github.com/albion/platform/internal/bonus"
	"github.com/albion/platform/internal/config"
	"github.com/albion/platform/internal/database"
	"github.com/albion/platform/internal/events"
	"github.com/albion/platform/internal/gateway"
	"github.com/albion/platform/internal/identity"
	"github.com/albion/platform/internal/infra"
	"github.com/albion/platform/internal/ledger"
	"github.com/albion/platform/internal/middleware"
	"github.com/albion/platform/internal/pending"
	"github.com/albion/platform/internal/rates"
	"github.com/albion/platform/internal/realtime"
	"github.com/albion/platform/internal/saga"
	"github.com/albion/platform/internal/wallet"
	"github.com/albion/platform/internal/webhooks"
)

// main wires the platform core with explicit startup order: config, storage,
// identity, money, fan-out, incentives, gateway. Nothing constructs lazily
// from library code.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("PLATFORM_CONFIG"))
	if err != nil {
		slog.Error("Config load failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting platform core", "service", cfg.Server.ServiceName, "env", cfg.Server.Env)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 1. Storage: Mongo client pool + strategy resolver.
	clients := database.NewClientManager(cfg.Mongo.MaxPoolSize, time.Duration(cfg.Mongo.TimeoutSec)*time.Second)
	resolver := database.NewResolver(clients, cfg.Mongo.URI)

	coreClient, err := clients.Client(ctx, cfg.Mongo.URI)
	if err != nil {
		slog.Error("Mongo connection failed", "error", err)
		os.Exit(1)
	}
	coreDB := coreClient.Database(cfg.Mongo.CoreDatabase)

	// 2. Redis: degraded local-only fan-out when unavailable.
	var redisAdapter *infra.RedisAdapter
	if adapter, err := infra.NewRedisAdapter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
		slog.Warn("Redis unavailable, running local-only fan-out", "error", err)
	} else {
		redisAdapter = adapter
	}

	// 3. Identity substrate.
	identityStore := identity.NewMongoStore(coreDB)
	if err := identityStore.EnsureIndexes(ctx); err != nil {
		slog.Error("Identity index creation failed", "error", err)
		os.Exit(1)
	}
	registry := identity.NewRegistry(identityStore)
	users := identity.NewUsers(identityStore)
	configStore := identity.NewConfigStore(identityStore)
	configStore.OnChange(resolver.Invalidate)
	registerConfigDefaults(configStore, cfg)

	issuer := identity.NewIssuer(cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.AccessTTLMin)*time.Minute,
		time.Duration(cfg.Auth.RefreshTTLHours)*time.Hour)

	// 4. Ledger + exchange rates.
	ledgerStore := ledger.NewMongoStore(coreDB)
	if err := ledgerStore.EnsureIndexes(ctx); err != nil {
		slog.Error("Ledger index creation failed", "error", err)
		os.Exit(1)
	}
	var rateProvider rates.Provider
	if url := os.Getenv("PLATFORM_RATE_PROVIDER_URL"); url != "" {
		rateProvider = rates.NewHTTPProvider(url, 5*time.Second)
	}
	rateService := rates.NewService(rateProvider, rates.NewMongoOverrides(coreDB))
	ledgerEngine := ledger.NewEngine(ledgerStore, rateService)

	// 5. Saga engine over the core client.
	sagaEngine := saga.NewEngine(coreClient)

	// 6. Pending operations.
	var pendingStore pending.Store
	if cfg.Auth.PendingOpBackend == "jwt" || redisAdapter == nil {
		pendingStore = pending.NewJWTStore(cfg.Auth.PendingOpSecret)
	} else {
		pendingStore = pending.NewRedisStore(redisAdapter.Client(), "pending:")
	}

	// 7. Fan-out: webhooks, realtime hub, event dispatcher, relay.
	hookRegistry := webhooks.NewRegistry()
	hookStore := webhooks.NewMongoStore(coreDB)
	if n, err := hookStore.Hydrate(ctx, hookRegistry); err != nil {
		slog.Warn("Webhook hydration failed", "error", err)
	} else {
		slog.Info("Webhook subscriptions loaded", "count", n)
	}
	hookDispatcher := webhooks.NewDispatcher(hookRegistry, webhooks.Options{
		Workers:     cfg.Webhooks.Workers,
		QueueSize:   cfg.Webhooks.QueueSize,
		MaxAttempts: cfg.Webhooks.MaxAttempts,
		Timeout:     time.Duration(cfg.Webhooks.TimeoutSec) * time.Second,
	})

	hub := realtime.NewHub(cfg.Events.BufferSize)

	var auditStore events.AuditStore
	if cfg.Events.AuditEnabled {
		mongoAudit := events.NewMongoAuditStore(coreDB)
		if err := mongoAudit.EnsureIndexes(ctx); err != nil {
			slog.Warn("Event audit index creation failed", "error", err)
		}
		auditStore = mongoAudit
	}
	var publisher events.Publisher
	if redisAdapter != nil {
		publisher = redisAdapter
	}
	dispatcher := events.NewDispatcher(auditStore, publisher, cfg.Events.ChannelPrefix, cfg.Events.BufferSize,
		[]events.Sink{hookDispatcher}, []events.Sink{hub})

	var relay *events.Relay
	if redisAdapter != nil {
		if relay, err = events.StartRelay(context.Background(), redisAdapter, cfg.Events.ChannelPrefix, hub); err != nil {
			slog.Warn("Event relay failed to start", "error", err)
		}
	}

	// 8. Bonus engine.
	bonusStore := bonus.NewMongoStore(coreDB)
	if err := bonusStore.EnsureIndexes(ctx); err != nil {
		slog.Error("Bonus index creation failed", "error", err)
		os.Exit(1)
	}
	bonusRegistry := bonus.NewRegistry()
	bonus.RegisterStockHandlers(bonusRegistry)
	bonusEngine := bonus.NewEngine(bonusStore, bonusStore, bonusStore, bonusRegistry,
		ledgerEngine, dispatcher, pendingStore, users)

	// 9. Wallet service. The processor adapter is deployment-specific; the
	// noop processor posts ledger-only deposits for environments without one.
	walletService := wallet.NewService(ledgerEngine, sagaEngine, bonusEngine, dispatcher, users, nil)

	// 10. Auth services.
	otpService := auth.NewOTPService(pendingStore, nil, cfg.Auth.OTPLength)
	twoFactor := auth.NewTwoFactorService(users, cfg.Server.ServiceName)

	// 11. Gateway.
	rootResolver := gateway.NewRootResolver(walletService, bonusEngine, bonusStore, bonusStore,
		otpService, twoFactor, cfg.Server.ServiceName)
	server := gateway.NewServer(gateway.ServerConfig{
		Addr:        ":" + cfg.Server.Port,
		ServiceName: cfg.Server.ServiceName,
		Resolver:    rootResolver,
		Issuer:      issuer,
		Hub:         hub,
		RateLimiter: middleware.NewRateLimiter(&middleware.ConfigLimits{
			Store:   configStore,
			Service: cfg.Server.ServiceName,
		}),
		CORSOrigins: cfg.Server.CORSOrigins,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		IdleTimeout: time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
		Checks: map[string]gateway.HealthChecker{
			"mongo": func(ctx context.Context) error {
				return coreClient.Ping(ctx, readpref.Primary())
			},
			"redis": func(ctx context.Context) error {
				if redisAdapter == nil {
					return nil
				}
				return redisAdapter.Client().Ping(ctx).Err()
			},
		},
	})

	// Declare the service's database strategy from dynamic config. Template
	// problems surface here at startup, never at request time.
	if raw, err := configStore.GetMap(ctx, cfg.Server.ServiceName, "database", identity.ConfigScope{}); err == nil {
		strategyCfg := database.StrategyConfig{}
		if s, ok := raw.GetString("strategy"); ok {
			strategyCfg.Strategy = database.Strategy(s)
		}
		if t, ok := raw.GetString("uriTemplate"); ok {
			strategyCfg.URITemplate = t
		}
		if t, ok := raw.GetString("dbNameTemplate"); ok {
			strategyCfg.DBNameTemplate = t
		}
		if n, ok := raw.GetInt64("numShards"); ok {
			strategyCfg.NumShards = int(n)
		}
		if err := resolver.Configure(cfg.Server.ServiceName, strategyCfg); err != nil {
			slog.Error("Database strategy invalid", "error", err)
			os.Exit(1)
		}
	}

	// Development convenience: make sure a default tenant exists.
	if cfg.Server.Env != "production" {
		if _, err := registry.GetTenant(ctx, "default"); err != nil {
			if _, err := registry.CreateTenant(ctx, "default", "Default Tenant", ""); err != nil {
				slog.Warn("Default tenant bootstrap failed", "error", err)
			}
		}
	}

	// Serve until signalled, then tear down in reverse order.
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			slog.Error("Server failed", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Server shutdown incomplete", "error", err)
	}
	if relay != nil {
		relay.Stop()
	}
	dispatcher.Close()
	hookDispatcher.Shutdown()
	if redisAdapter != nil {
		_ = redisAdapter.Close()
	}
	if err := clients.Close(shutdownCtx); err != nil {
		slog.Warn("Mongo disconnect incomplete", "error", err)
	}
	slog.Info("Shutdown complete")
}

// registerConfigDefaults declares every tunable the core reads from the
// dynamic config store, so introspection lists them all.
func registerConfigDefaults(store *identity.ConfigStore, cfg *config.Config) {
	store.RegisterDefaults(cfg.Server.ServiceName, map[string]interface{}{
		"database": map[string]interface{}{
			"strategy": string(database.StrategyShared),
		},
		"otp": map[string]interface{}{
			"length":        cfg.Auth.OTPLength,
			"expiryMinutes": 10,
		},
		"bonus": map[string]interface{}{
			"defaultExpirationDays": 30,
		},
		"webhooks": map[string]interface{}{
			"maxAttempts": cfg.Webhooks.MaxAttempts,
		},
		// Tenants override rate_limits per tier through the config store's
		// precedence chain.
		"rate_limits": map[string]interface{}{
			"perMinute": 120,
			"burst":     240,
		},
	})
}
