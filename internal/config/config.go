package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Platform Core - Bootstrap Configuration
//
// Only the bootstrap values live here: the core Mongo URI, the Redis URL, the
// HTTP listener, and signing secrets. Every other tunable is stored in the
// core database behind identity.ConfigStore and registered as a service
// default at startup.
// =============================================================================

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Events   EventsConfig   `yaml:"events"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
}

type ServerConfig struct {
	Port            string   `yaml:"port"`
	Env             string   `yaml:"env"`
	ServiceName     string   `yaml:"service_name"`
	ReadTimeoutSec  int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec int      `yaml:"write_timeout_sec"`
	IdleTimeoutSec  int      `yaml:"idle_timeout_sec"`
	ShutdownTimeout int      `yaml:"shutdown_timeout_sec"`
	CORSOrigins     []string `yaml:"cors_allow_origins"`
}

// MongoConfig holds the bootstrap connection to the core database. Strategy
// URI templates for per-brand/per-tenant databases come from the config store.
type MongoConfig struct {
	URI          string `yaml:"uri"`
	CoreDatabase string `yaml:"core_database"`
	MaxPoolSize  uint64 `yaml:"max_pool_size"`
	TimeoutSec   int    `yaml:"timeout_sec"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	AccessTTLMin     int    `yaml:"access_ttl_min"`
	RefreshTTLHours  int    `yaml:"refresh_ttl_hours"`
	PendingOpSecret  string `yaml:"pending_op_secret"`
	PendingOpBackend string `yaml:"pending_op_backend"` // "jwt" or "redis"
	OTPLength        int    `yaml:"otp_length"`
}

type EventsConfig struct {
	ChannelPrefix string `yaml:"channel_prefix"`
	AuditEnabled  bool   `yaml:"audit_enabled"`
	BufferSize    int    `yaml:"buffer_size"`
}

type WebhooksConfig struct {
	Workers     int `yaml:"workers"`
	QueueSize   int `yaml:"queue_size"`
	MaxAttempts int `yaml:"max_attempts"`
	TimeoutSec  int `yaml:"timeout_sec"`
}

type SweeperConfig struct {
	HoldSweepCron     string `yaml:"hold_sweep_cron"`
	ReconcileCron     string `yaml:"reconcile_cron"`
	BonusExpiryCron   string `yaml:"bonus_expiry_cron"`
	ReconcileCurrency string `yaml:"reconcile_currency"`
}

// Default returns the baked-in fallback configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Env:             "development",
			ServiceName:     "platform-core",
			ReadTimeoutSec:  15,
			WriteTimeoutSec: 30,
			IdleTimeoutSec:  60,
			ShutdownTimeout: 20,
		},
		Mongo: MongoConfig{
			URI:          "mongodb://localhost:27017",
			CoreDatabase: "core_service",
			MaxPoolSize:  100,
			TimeoutSec:   10,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Auth: AuthConfig{
			AccessTTLMin:     60,
			RefreshTTLHours:  168,
			PendingOpBackend: "redis",
			OTPLength:        6,
		},
		Events: EventsConfig{
			ChannelPrefix: "platform:events:",
			AuditEnabled:  true,
			BufferSize:    256,
		},
		Webhooks: WebhooksConfig{
			Workers:     4,
			QueueSize:   1000,
			MaxAttempts: 10,
			TimeoutSec:  10,
		},
		Sweeper: SweeperConfig{
			HoldSweepCron:   "@every 1m",
			ReconcileCron:   "@every 15m",
			BonusExpiryCron: "@every 5m",
		},
	}
}

// Load reads the YAML config file (if present) and applies environment
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("open config %s: %w", path, err)
			}
			slog.Warn("Config file not found, using defaults + env", "path", path)
		} else {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps PLATFORM_* environment variables onto the config.
func (c *Config) applyEnvOverrides() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setStr(&c.Server.Port, "PLATFORM_PORT")
	setStr(&c.Server.Env, "PLATFORM_ENV")
	setStr(&c.Server.ServiceName, "PLATFORM_SERVICE_NAME")
	setStr(&c.Mongo.URI, "PLATFORM_MONGO_URI")
	setStr(&c.Mongo.CoreDatabase, "PLATFORM_MONGO_CORE_DB")
	setStr(&c.Redis.Addr, "PLATFORM_REDIS_ADDR")
	setStr(&c.Redis.Password, "PLATFORM_REDIS_PASSWORD")
	setInt(&c.Redis.DB, "PLATFORM_REDIS_DB")
	setStr(&c.Auth.JWTSecret, "PLATFORM_JWT_SECRET")
	setStr(&c.Auth.PendingOpSecret, "PLATFORM_PENDING_OP_SECRET")
	setStr(&c.Auth.PendingOpBackend, "PLATFORM_PENDING_OP_BACKEND")
	setInt(&c.Auth.OTPLength, "PLATFORM_OTP_LENGTH")

	if v := os.Getenv("PLATFORM_CORS_ORIGINS"); v != "" {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
		c.Server.CORSOrigins = origins
	}
}

// Validate rejects configurations that would fail at request time.
func (c *Config) Validate() error {
	if c.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri is required")
	}
	if c.Server.Env == "production" {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required in production")
		}
		if c.Auth.PendingOpSecret == "" && c.Auth.PendingOpBackend == "jwt" {
			return fmt.Errorf("auth.pending_op_secret is required for the jwt pending backend in production")
		}
	}
	if c.Auth.PendingOpBackend != "jwt" && c.Auth.PendingOpBackend != "redis" {
		return fmt.Errorf("auth.pending_op_backend must be \"jwt\" or \"redis\", got %q", c.Auth.PendingOpBackend)
	}
	if c.Auth.OTPLength < 4 || c.Auth.OTPLength > 10 {
		return fmt.Errorf("auth.otp_length must be between 4 and 10, got %d", c.Auth.OTPLength)
	}
	return nil
}

// ShutdownGrace returns the graceful shutdown window.
func (c *Config) ShutdownGrace() time.Duration {
	if c.Server.ShutdownTimeout <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeout) * time.Second
}
