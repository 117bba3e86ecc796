package identity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/albion/platform/internal/platform/apperr"
	"github.com/albion/platform/internal/platform/jsonval"
)

// ConfigEntryStore is the persistence interface for dynamic config rows.
type ConfigEntryStore interface {
	// GetConfigEntry returns the row matching the exact (service, brand,
	// tenant, key) tuple, or nil when absent.
	GetConfigEntry(ctx context.Context, service, brand, tenant, key string) (*ConfigEntry, error)
	UpsertConfigEntry(ctx context.Context, e *ConfigEntry) error
	ListConfigEntries(ctx context.Context, service string) ([]*ConfigEntry, error)
}

// ConfigStore resolves dynamic configuration with override precedence:
// (service,brand,tenant) > (service,tenant) > (service,brand) > (service) >
// registered defaults. The first non-empty value wins; values are never
// merged across levels.
type ConfigStore struct {
	store ConfigEntryStore

	mu       sync.RWMutex
	defaults map[string]map[string]interface{} // service -> key -> default
	cache    map[string]cachedEntry            // resolution cache
	onChange []func(service string)            // invalidation hooks (strategy resolver)
}

// ConfigScope carries the optional brand/tenant qualifiers for a lookup.
type ConfigScope struct {
	Brand  string
	Tenant string
}

// NewConfigStore creates a config store backed by the given row store.
func NewConfigStore(store ConfigEntryStore) *ConfigStore {
	return &ConfigStore{
		store:    store,
		defaults: make(map[string]map[string]interface{}),
		cache:    make(map[string]cachedEntry),
	}
}

// RegisterDefaults registers a service's known keys and fallback values.
// Called once per service at startup so introspection lists every tunable.
func (s *ConfigStore) RegisterDefaults(service string, defaults map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.defaults[service]
	if !ok {
		reg = make(map[string]interface{}, len(defaults))
		s.defaults[service] = reg
	}
	for k, v := range defaults {
		reg[k] = v
	}
	slog.Info("Registered config defaults", "service", service, "keys", len(defaults))
}

// OnChange registers a hook fired after Set for the affected service.
func (s *ConfigStore) OnChange(hook func(service string)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, hook)
	s.mu.Unlock()
}

// Get resolves a config value walking the precedence chain. Unknown keys
// (no row anywhere and no registered default) fail with ConfigNotFound.
func (s *ConfigStore) Get(ctx context.Context, service, key string, scope ConfigScope) (interface{}, error) {
	cacheKey := service + "|" + scope.Brand + "|" + scope.Tenant + "|" + key
	s.mu.RLock()
	if e, ok := s.cache[cacheKey]; ok && time.Since(e.cachedAt) < cacheTTL {
		s.mu.RUnlock()
		return e.value, nil
	}
	s.mu.RUnlock()

	// Precedence chain, most specific first. Levels whose qualifier is not
	// in scope are skipped.
	type level struct{ brand, tenant string }
	chain := make([]level, 0, 4)
	if scope.Brand != "" && scope.Tenant != "" {
		chain = append(chain, level{scope.Brand, scope.Tenant})
	}
	if scope.Tenant != "" {
		chain = append(chain, level{"", scope.Tenant})
	}
	if scope.Brand != "" {
		chain = append(chain, level{scope.Brand, ""})
	}
	chain = append(chain, level{"", ""})

	for _, l := range chain {
		entry, err := s.store.GetConfigEntry(ctx, service, l.brand, l.tenant, key)
		if err != nil {
			return nil, err
		}
		if entry != nil && entry.Value != nil {
			s.cacheValue(cacheKey, entry.Value)
			return entry.Value, nil
		}
	}

	s.mu.RLock()
	def, ok := s.defaults[service][key]
	s.mu.RUnlock()
	if ok {
		s.cacheValue(cacheKey, def)
		return def, nil
	}

	return nil, apperr.NotFound("ConfigNotFound", "config "+service+"/"+key+" not found")
}

// GetString resolves a config value and decodes it as a string.
func (s *ConfigStore) GetString(ctx context.Context, service, key string, scope ConfigScope) (string, error) {
	v, err := s.Get(ctx, service, key, scope)
	if err != nil {
		return "", err
	}
	str, ok := v.(string)
	if !ok {
		return "", apperr.Validation("ConfigTypeMismatch", "config "+service+"/"+key+" is not a string")
	}
	return str, nil
}

// GetMap resolves a config value and decodes it as a JSON object.
func (s *ConfigStore) GetMap(ctx context.Context, service, key string, scope ConfigScope) (jsonval.Map, error) {
	v, err := s.Get(ctx, service, key, scope)
	if err != nil {
		return nil, err
	}
	switch m := v.(type) {
	case jsonval.Map:
		return m, nil
	case map[string]interface{}:
		return jsonval.Map(m), nil
	default:
		return nil, apperr.Validation("ConfigTypeMismatch", "config "+service+"/"+key+" is not an object")
	}
}

// Set upserts a config row and invalidates derived caches. Hooks fire after
// the write so strategy resolvers can drop their resolutions.
func (s *ConfigStore) Set(ctx context.Context, e *ConfigEntry) error {
	if e.Service == "" || e.Key == "" {
		return apperr.Validation("ConfigKeyRequired", "service and key are required")
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if err := s.store.UpsertConfigEntry(ctx, e); err != nil {
		return err
	}

	s.mu.Lock()
	// Drop any cached resolution that could have used this row.
	for k := range s.cache {
		if len(k) > len(e.Service) && k[:len(e.Service)+1] == e.Service+"|" {
			delete(s.cache, k)
		}
	}
	hooks := append([]func(string){}, s.onChange...)
	s.mu.Unlock()

	for _, hook := range hooks {
		hook(e.Service)
	}
	return nil
}

// Summary lists a service's effective entries with sensitive paths redacted.
func (s *ConfigStore) Summary(ctx context.Context, service string) ([]*ConfigEntry, error) {
	entries, err := s.store.ListConfigEntries(ctx, service)
	if err != nil {
		return nil, err
	}
	out := make([]*ConfigEntry, 0, len(entries))
	for _, e := range entries {
		redacted := *e
		if len(e.SensitivePaths) > 0 {
			if m, ok := e.Value.(map[string]interface{}); ok {
				redacted.Value = map[string]interface{}(jsonval.Map(m).Redact(e.SensitivePaths))
			} else {
				redacted.Value = "[redacted]"
			}
		}
		out = append(out, &redacted)
	}
	return out, nil
}

// RegisteredKeys lists every registered default key for a service.
func (s *ConfigStore) RegisteredKeys(service string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.defaults[service]))
	for k := range s.defaults[service] {
		keys = append(keys, k)
	}
	return keys
}

func (s *ConfigStore) cacheValue(key string, v interface{}) {
	s.mu.Lock()
	s.cache[key] = cachedEntry{value: v, cachedAt: time.Now()}
	s.mu.Unlock()
}
