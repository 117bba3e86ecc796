package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albion/platform/internal/events"
	"github.com/albion/platform/internal/platform/jsonval"
)

func TestSubscription_Matches(t *testing.T) {
	sub := &Subscription{EventTypes: []string{"bonus.*", "wallet.deposit.completed"}}

	assert.True(t, sub.Matches("bonus.awarded"))
	assert.True(t, sub.Matches("bonus.expired"))
	assert.True(t, sub.Matches("wallet.deposit.completed"))
	assert.False(t, sub.Matches("wallet.withdrawal.completed"))

	all := &Subscription{EventTypes: []string{"*"}}
	assert.True(t, all.Matches("anything.at.all"))
}

func TestRegistry_SubscribersFilterByTenant(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Subscription{
		TenantID: "t1", URL: "https://t1.example.com/hook", EventTypes: []string{"bonus.*"},
	}))
	require.NoError(t, r.Register(&Subscription{
		TenantID: "t2", URL: "https://t2.example.com/hook", EventTypes: []string{"bonus.*"},
	}))

	subs := r.Subscribers("t1", "bonus.awarded")
	require.Len(t, subs, 1)
	assert.Equal(t, "t1", subs[0].TenantID)
}

func TestRegistry_ValidatesInput(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(&Subscription{TenantID: "t1", EventTypes: []string{"*"}}))
	assert.Error(t, r.Register(&Subscription{TenantID: "t1", URL: "https://x"}))
}

func TestRegistry_DisablesAfterRepeatedFailures(t *testing.T) {
	r := NewRegistry()
	sub := &Subscription{TenantID: "t1", URL: "https://x/hook", EventTypes: []string{"*"}}
	require.NoError(t, r.Register(sub))

	for i := 0; i < 10; i++ {
		r.MarkFailed(sub.ID)
	}
	assert.Empty(t, r.Subscribers("t1", "bonus.awarded"), "disabled after 10 failures")
}

func TestDispatcher_DeliversSignedPayload(t *testing.T) {
	var mu sync.Mutex
	var gotBody []byte
	var gotHeaders http.Header
	received := make(chan struct{}, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody = body
		gotHeaders = r.Header.Clone()
		mu.Unlock()
		received <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := NewRegistry()
	require.NoError(t, registry.Register(&Subscription{
		TenantID:   "t1",
		URL:        server.URL,
		EventTypes: []string{"bonus.*"},
		Secret:     "hook-secret",
	}))

	d := NewDispatcher(registry, Options{Workers: 1, MaxAttempts: 2})
	defer d.Shutdown()

	event := &events.Event{
		ID:         "evt-1",
		Type:       "bonus.awarded",
		TenantID:   "t1",
		UserID:     "u1",
		OccurredAt: time.Now().UTC(),
		Payload:    jsonval.Map{"value": float64(4000)},
	}
	d.Deliver(event)

	select {
	case <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("webhook never delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "evt-1", gotHeaders.Get("X-Event-Id"))
	assert.Equal(t, "bonus.awarded", gotHeaders.Get("X-Event-Type"))
	assert.Equal(t, "t1", gotHeaders.Get("X-Tenant-Id"))

	mac := hmac.New(sha256.New, []byte("hook-secret"))
	mac.Write(gotBody)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotHeaders.Get("X-Signature"))
}

func TestDispatcher_RetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{}, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		done <- struct{}{}
	}))
	defer server.Close()

	registry := NewRegistry()
	require.NoError(t, registry.Register(&Subscription{
		TenantID: "t1", URL: server.URL, EventTypes: []string{"*"},
	}))

	d := NewDispatcher(registry, Options{Workers: 1, MaxAttempts: 5})
	defer d.Shutdown()

	d.Deliver(&events.Event{ID: "evt-2", Type: "wallet.withdrawal.completed", TenantID: "t1"})

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("delivery never succeeded")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts, "5xx retries until success")
}

func TestDispatcher_ClientErrorsDoNotRetry(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	registry := NewRegistry()
	require.NoError(t, registry.Register(&Subscription{
		TenantID: "t1", URL: server.URL, EventTypes: []string{"*"},
	}))

	d := NewDispatcher(registry, Options{Workers: 1, MaxAttempts: 5})
	d.Deliver(&events.Event{ID: "evt-3", Type: "wallet.withdrawal.completed", TenantID: "t1"})
	d.Shutdown() // drains the queue

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts, "4xx does not heal with retries")
}

func TestSignPayload_RoundTrip(t *testing.T) {
	payload := []byte(`{"id":"evt-1"}`)
	sig := SignPayload(payload, "secret")

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(payload)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig)
	assert.NotEqual(t, sig, SignPayload(payload, "other-secret"))
}
