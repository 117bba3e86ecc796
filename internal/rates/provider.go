package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPProvider fetches rates from a JSON rate API of the form
// GET {base}?from=EUR&to=USD -> {"rate": "1.0842"}.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider creates an HTTP rate provider.
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) FetchRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	q := url.Values{"from": {from}, "to": {to}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate provider status %d", resp.StatusCode)
	}

	var body struct {
		Rate string `json:"rate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("rate provider decode: %w", err)
	}
	rate, err := decimal.NewFromString(body.Rate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate provider value %q: %w", body.Rate, err)
	}
	return rate, nil
}

// MemoryOverrides is an in-memory OverrideStore for tests and development.
type MemoryOverrides struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal
}

// NewMemoryOverrides creates an empty override store.
func NewMemoryOverrides() *MemoryOverrides {
	return &MemoryOverrides{rates: make(map[string]decimal.Decimal)}
}

func (m *MemoryOverrides) GetOverride(_ context.Context, from, to string) (*decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.rates[from+"/"+to]; ok {
		copied := r
		return &copied, nil
	}
	return nil, nil
}

func (m *MemoryOverrides) SetOverride(_ context.Context, from, to string, rate decimal.Decimal) error {
	m.mu.Lock()
	m.rates[from+"/"+to] = rate
	m.mu.Unlock()
	return nil
}

func (m *MemoryOverrides) DeleteOverride(_ context.Context, from, to string) error {
	m.mu.Lock()
	delete(m.rates, from+"/"+to)
	m.mu.Unlock()
	return nil
}
