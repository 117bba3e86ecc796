package identity

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/albion/platform/internal/platform/apperr"
)

// cacheTTL bounds how stale a cached brand or tenant may be. Invalidation is
// explicit on writes; the TTL covers out-of-band changes.
const cacheTTL = time.Hour

// RegistryStore is the persistence interface for brands and tenants.
type RegistryStore interface {
	GetBrandByID(ctx context.Context, id string) (*Brand, error)
	GetBrandByCode(ctx context.Context, code string) (*Brand, error)
	UpsertBrand(ctx context.Context, b *Brand) error
	GetTenantByID(ctx context.Context, id string) (*Tenant, error)
	GetTenantByCode(ctx context.Context, code string) (*Tenant, error)
	UpsertTenant(ctx context.Context, t *Tenant) error
}

type cachedEntry struct {
	value    interface{}
	cachedAt time.Time
}

// Registry caches brand and tenant lookups in front of the store. Entries are
// cached under both id and code keys so either lookup path hits.
type Registry struct {
	store RegistryStore

	mu      sync.RWMutex
	brands  map[string]cachedEntry // "id:<id>" and "code:<code>"
	tenants map[string]cachedEntry
}

// NewRegistry creates a registry backed by the given store.
func NewRegistry(store RegistryStore) *Registry {
	return &Registry{
		store:   store,
		brands:  make(map[string]cachedEntry),
		tenants: make(map[string]cachedEntry),
	}
}

// GetBrand resolves a brand by canonical id or code.
func (r *Registry) GetBrand(ctx context.Context, idOrCode string) (*Brand, error) {
	if b := r.cachedBrand(idOrCode); b != nil {
		return b, nil
	}

	b, err := r.store.GetBrandByID(ctx, idOrCode)
	if err != nil {
		return nil, err
	}
	if b == nil {
		b, err = r.store.GetBrandByCode(ctx, idOrCode)
		if err != nil {
			return nil, err
		}
	}
	if b == nil {
		return nil, apperr.NotFound("BrandNotFound", "brand "+idOrCode+" not found")
	}

	r.cacheBrand(b)
	return b, nil
}

// GetTenant resolves a tenant by canonical id or code.
func (r *Registry) GetTenant(ctx context.Context, idOrCode string) (*Tenant, error) {
	if t := r.cachedTenant(idOrCode); t != nil {
		return t, nil
	}

	t, err := r.store.GetTenantByID(ctx, idOrCode)
	if err != nil {
		return nil, err
	}
	if t == nil {
		t, err = r.store.GetTenantByCode(ctx, idOrCode)
		if err != nil {
			return nil, err
		}
	}
	if t == nil {
		return nil, apperr.NotFound("TenantNotFound", "tenant "+idOrCode+" not found")
	}

	r.cacheTenant(t)
	return t, nil
}

// RequireActiveTenant loads a tenant and rejects inactive ones.
func (r *Registry) RequireActiveTenant(ctx context.Context, idOrCode string) (*Tenant, error) {
	t, err := r.GetTenant(ctx, idOrCode)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, apperr.Forbidden("tenant " + t.Code + " is inactive")
	}
	return t, nil
}

// CreateBrand persists a new brand. Codes are normalized lowercase.
func (r *Registry) CreateBrand(ctx context.Context, code, name string) (*Brand, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, apperr.Validation("BrandCodeRequired", "brand code is required")
	}
	if existing, _ := r.store.GetBrandByCode(ctx, code); existing != nil {
		return nil, apperr.Conflict("BrandCodeTaken", "brand code "+code+" already exists")
	}

	now := time.Now().UTC()
	b := &Brand{
		ID:        uuid.New().String(),
		Code:      code,
		Name:      name,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.UpsertBrand(ctx, b); err != nil {
		return nil, err
	}
	r.cacheBrand(b)
	return b, nil
}

// CreateTenant persists a new tenant, optionally attached to a brand.
func (r *Registry) CreateTenant(ctx context.Context, code, name, brandID string) (*Tenant, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, apperr.Validation("TenantCodeRequired", "tenant code is required")
	}
	if existing, _ := r.store.GetTenantByCode(ctx, code); existing != nil {
		return nil, apperr.Conflict("TenantCodeTaken", "tenant code "+code+" already exists")
	}
	if brandID != "" {
		if _, err := r.GetBrand(ctx, brandID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	t := &Tenant{
		ID:        uuid.New().String(),
		Code:      code,
		Name:      name,
		BrandID:   brandID,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.UpsertTenant(ctx, t); err != nil {
		return nil, err
	}
	r.cacheTenant(t)
	return t, nil
}

// SetTenantActive flips a tenant's active flag and invalidates the cache.
func (r *Registry) SetTenantActive(ctx context.Context, idOrCode string, active bool) error {
	t, err := r.GetTenant(ctx, idOrCode)
	if err != nil {
		return err
	}
	t.Active = active
	t.UpdatedAt = time.Now().UTC()
	if err := r.store.UpsertTenant(ctx, t); err != nil {
		return err
	}
	r.InvalidateTenant(t.ID, t.Code)
	return nil
}

// InvalidateBrand drops a brand from the cache by id and code.
func (r *Registry) InvalidateBrand(id, code string) {
	r.mu.Lock()
	delete(r.brands, "id:"+id)
	delete(r.brands, "code:"+code)
	r.mu.Unlock()
}

// InvalidateTenant drops a tenant from the cache by id and code.
func (r *Registry) InvalidateTenant(id, code string) {
	r.mu.Lock()
	delete(r.tenants, "id:"+id)
	delete(r.tenants, "code:"+code)
	r.mu.Unlock()
}

// InvalidateAll clears both caches.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	r.brands = make(map[string]cachedEntry)
	r.tenants = make(map[string]cachedEntry)
	r.mu.Unlock()
	slog.Info("Identity registry cache cleared")
}

// --- cache helpers ---

func (r *Registry) cachedBrand(idOrCode string) *Brand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, key := range []string{"id:" + idOrCode, "code:" + idOrCode} {
		if e, ok := r.brands[key]; ok && time.Since(e.cachedAt) < cacheTTL {
			return e.value.(*Brand)
		}
	}
	return nil
}

func (r *Registry) cachedTenant(idOrCode string) *Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, key := range []string{"id:" + idOrCode, "code:" + idOrCode} {
		if e, ok := r.tenants[key]; ok && time.Since(e.cachedAt) < cacheTTL {
			return e.value.(*Tenant)
		}
	}
	return nil
}

func (r *Registry) cacheBrand(b *Brand) {
	now := time.Now()
	r.mu.Lock()
	r.brands["id:"+b.ID] = cachedEntry{value: b, cachedAt: now}
	r.brands["code:"+b.Code] = cachedEntry{value: b, cachedAt: now}
	r.mu.Unlock()
}

func (r *Registry) cacheTenant(t *Tenant) {
	now := time.Now()
	r.mu.Lock()
	r.tenants["id:"+t.ID] = cachedEntry{value: t, cachedAt: now}
	r.tenants["code:"+t.Code] = cachedEntry{value: t, cachedAt: now}
	r.mu.Unlock()
}
