package database

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/albion/platform/internal/platform/apperr"
)

// Strategy enumerates the supported database selection policies.
type Strategy string

const (
	StrategyShared           Strategy = "shared"
	StrategyPerService       Strategy = "per-service"
	StrategyPerBrand         Strategy = "per-brand"
	StrategyPerBrandService  Strategy = "per-brand-service"
	StrategyPerTenant        Strategy = "per-tenant"
	StrategyPerTenantService Strategy = "per-tenant-service"
	StrategyPerShard         Strategy = "per-shard"
)

// coreDatabase is the physical database used by the shared strategy.
const coreDatabase = "core_service"

// StrategyConfig declares how one service's data is placed. The URI template
// may reference {service}, {brand}, and {tenant}; the name template likewise.
type StrategyConfig struct {
	Strategy       Strategy `json:"strategy"`
	URITemplate    string   `json:"uriTemplate"`
	DBNameTemplate string   `json:"dbNameTemplate,omitempty"`
	NumShards      int      `json:"numShards,omitempty"`
}

// Target is a resolved physical placement: connection URI plus database name.
type Target struct {
	URI    string
	DBName string
}

// Resolver maps (service, brand, tenant) tuples to database handles.
// Resolutions are cached per tuple and invalidated on config change.
type Resolver struct {
	clients    *ClientManager
	defaultURI string

	mu       sync.RWMutex
	configs  map[string]StrategyConfig // service -> declared strategy
	fallback StrategyConfig
	cache    map[string]Target
}

// NewResolver creates a resolver. defaultURI is the bootstrap connection
// string used when a strategy declares no URI template of its own.
func NewResolver(clients *ClientManager, defaultURI string) *Resolver {
	return &Resolver{
		clients:    clients,
		defaultURI: defaultURI,
		configs:    make(map[string]StrategyConfig),
		fallback:   StrategyConfig{Strategy: StrategyPerService},
		cache:      make(map[string]Target),
	}
}

// Configure declares the strategy for a service. Returns a ConfigurationError
// when the templates are missing placeholders the strategy requires; this is
// a startup-time failure, never a request-time one.
func (r *Resolver) Configure(service string, cfg StrategyConfig) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}
	r.mu.Lock()
	r.configs[service] = cfg
	// Drop cached resolutions for the service.
	for k := range r.cache {
		if strings.HasPrefix(k, service+"|") {
			delete(r.cache, k)
		}
	}
	r.mu.Unlock()
	return nil
}

// Invalidate drops every cached resolution for a service. Wired to the
// config store's OnChange hook.
func (r *Resolver) Invalidate(service string) {
	r.mu.Lock()
	for k := range r.cache {
		if strings.HasPrefix(k, service+"|") {
			delete(r.cache, k)
		}
	}
	r.mu.Unlock()
}

// ResolveTarget computes the physical placement without connecting. Pure
// with respect to fixed config: same inputs always yield the same target.
func (r *Resolver) ResolveTarget(service, brand, tenant string) (Target, error) {
	cacheKey := service + "|" + brand + "|" + tenant
	r.mu.RLock()
	if t, ok := r.cache[cacheKey]; ok {
		r.mu.RUnlock()
		return t, nil
	}
	cfg, ok := r.configs[service]
	r.mu.RUnlock()
	if !ok {
		cfg = r.fallback
	}

	strategy := cfg.Strategy
	if !knownStrategy(strategy) {
		slog.Warn("Unknown database strategy, falling back to per-service",
			"service", service, "strategy", string(strategy))
		strategy = StrategyPerService
	}

	svc := sanitize(service)
	brd := sanitize(brand)
	tnt := sanitize(tenant)

	var dbName string
	switch strategy {
	case StrategyShared:
		dbName = coreDatabase
	case StrategyPerService:
		dbName = svc
	case StrategyPerBrand:
		if brd == "" {
			return Target{}, apperr.Validation("BrandRequired", "per-brand strategy requires a brand")
		}
		dbName = "brand_" + brd
	case StrategyPerBrandService:
		if brd == "" {
			return Target{}, apperr.Validation("BrandRequired", "per-brand-service strategy requires a brand")
		}
		dbName = "brand_" + brd + "_" + svc
	case StrategyPerTenant:
		if tnt == "" {
			return Target{}, apperr.Validation("TenantRequired", "per-tenant strategy requires a tenant")
		}
		dbName = "tenant_" + tnt
	case StrategyPerTenantService:
		if tnt == "" {
			return Target{}, apperr.Validation("TenantRequired", "per-tenant-service strategy requires a tenant")
		}
		dbName = "tenant_" + tnt + "_" + svc
	case StrategyPerShard:
		shardKey := tnt
		if shardKey == "" {
			shardKey = brd
		}
		if shardKey == "" {
			return Target{}, apperr.Validation("ShardKeyRequired", "per-shard strategy requires a tenant or brand")
		}
		n := cfg.NumShards
		if n <= 0 {
			n = 1
		}
		dbName = fmt.Sprintf("%s_shard_%d", svc, shardHash(shardKey)%uint32(n))
	}

	// Explicit name template overrides the strategy's derived name.
	if cfg.DBNameTemplate != "" {
		dbName = substitute(cfg.DBNameTemplate, svc, brd, tnt)
	}

	uri := r.defaultURI
	if cfg.URITemplate != "" {
		uri = substitute(cfg.URITemplate, svc, brd, tnt)
	}

	t := Target{URI: uri, DBName: dbName}
	r.mu.Lock()
	r.cache[cacheKey] = t
	r.mu.Unlock()
	return t, nil
}

// Resolve returns a database handle ready for queries.
func (r *Resolver) Resolve(ctx context.Context, service, brand, tenant string) (*mongo.Database, error) {
	target, err := r.ResolveTarget(service, brand, tenant)
	if err != nil {
		return nil, err
	}
	client, err := r.clients.Client(ctx, target.URI)
	if err != nil {
		return nil, apperr.Upstream("DatabaseUnavailable", err)
	}
	return client.Database(target.DBName), nil
}

// --- helpers ---

func knownStrategy(s Strategy) bool {
	switch s {
	case StrategyShared, StrategyPerService, StrategyPerBrand, StrategyPerBrandService,
		StrategyPerTenant, StrategyPerTenantService, StrategyPerShard:
		return true
	}
	return false
}

// sanitize lowercases and restricts identifiers to [a-z0-9_]; hyphens become
// underscores so service names stay readable in database names.
func sanitize(in string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(in) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-':
			b.WriteRune('_')
		}
	}
	return b.String()
}

func substitute(template, service, brand, tenant string) string {
	out := strings.ReplaceAll(template, "{service}", service)
	out = strings.ReplaceAll(out, "{brand}", brand)
	out = strings.ReplaceAll(out, "{tenant}", tenant)
	out = strings.ReplaceAll(out, "{tenantId}", tenant)
	out = strings.ReplaceAll(out, "{brandId}", brand)
	return out
}

func shardHash(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32()
}

// validateConfig rejects templates that omit a placeholder the strategy
// depends on. Without this check a bad template would collapse distinct
// tenants into one database at request time.
func validateConfig(cfg StrategyConfig) error {
	required := map[Strategy][]string{
		StrategyPerBrand:         {"{brand}"},
		StrategyPerBrandService:  {"{brand}", "{service}"},
		StrategyPerTenant:        {"{tenant}"},
		StrategyPerTenantService: {"{tenant}", "{service}"},
		StrategyPerService:       {"{service}"},
	}
	placeholders, ok := required[cfg.Strategy]
	if !ok {
		return nil
	}
	check := func(template string) error {
		for _, ph := range placeholders {
			alias := strings.TrimSuffix(ph, "}") + "Id}"
			if !strings.Contains(template, ph) && !strings.Contains(template, alias) {
				return apperr.Newf(apperr.KindValidation, "ConfigurationError",
					"template %q missing required placeholder %s for strategy %s",
					template, ph, cfg.Strategy)
			}
		}
		return nil
	}
	// Both templates carry the placeholder obligation independently. A
	// static URI (no braces) is legal when the database name provides the
	// separation; a templated URI missing a required placeholder would
	// collapse tenants at connect time, so it fails here instead.
	if cfg.DBNameTemplate != "" {
		if err := check(cfg.DBNameTemplate); err != nil {
			return err
		}
	}
	if cfg.URITemplate != "" && strings.Contains(cfg.URITemplate, "{") {
		return check(cfg.URITemplate)
	}
	return nil
}
