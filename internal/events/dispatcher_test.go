package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albion/platform/internal/platform/jsonval"
	"github.com/albion/platform/internal/platform/reqctx"
)

type collectSink struct {
	mu     sync.Mutex
	events []*Event
}

func (s *collectSink) Deliver(e *Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *collectSink) wait(t *testing.T, n int) []*Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.events) >= n {
			out := append([]*Event{}, s.events...)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d events", n)
	return nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	channels []string
	fail     bool
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return assert.AnError
	}
	p.channels = append(p.channels, channel)
	return nil
}

func TestEmit_AssignsIdentityAndCorrelation(t *testing.T) {
	sink := &collectSink{}
	d := NewDispatcher(nil, nil, "", 16, []Sink{sink}, nil)
	defer d.Close()

	ctx := reqctx.WithCorrelationID(context.Background(), "corr-1")
	e := d.Emit(ctx, "bonus.awarded", "t1", "u1", jsonval.Map{"value": 100})

	require.NotEmpty(t, e.ID)
	assert.Equal(t, "corr-1", e.CorrelationID)
	assert.False(t, e.OccurredAt.IsZero())

	got := sink.wait(t, 1)
	assert.Equal(t, e.ID, got[0].ID)
}

func TestEmit_PreservesPerUserOrder(t *testing.T) {
	sink := &collectSink{}
	d := NewDispatcher(nil, nil, "", 64, []Sink{sink}, nil)
	defer d.Close()

	ctx := context.Background()
	var ids []string
	for i := 0; i < 20; i++ {
		e := d.Emit(ctx, TypeDepositCompleted, "t1", "u1", nil)
		ids = append(ids, e.ID)
	}

	got := sink.wait(t, 20)
	for i, e := range got {
		assert.Equal(t, ids[i], e.ID, "single publisher goroutine preserves order")
	}
}

func TestEmit_PublishesToTenantScopedChannel(t *testing.T) {
	pub := &recordingPublisher{}
	sink := &collectSink{}
	d := NewDispatcher(nil, pub, "plat:events:", 16, []Sink{sink}, nil)
	defer d.Close()

	d.Emit(context.Background(), "bonus.awarded", "t1", "u1", nil)
	sink.wait(t, 1)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.channels, 1)
	assert.Equal(t, "plat:events:t1:bonus", pub.channels[0])
}

func TestEmit_BroadcastSinksOnlyOnPublishFailure(t *testing.T) {
	pub := &recordingPublisher{}
	local := &collectSink{}
	broadcast := &collectSink{}
	d := NewDispatcher(nil, pub, "", 16, []Sink{local}, []Sink{broadcast})
	defer d.Close()

	d.Emit(context.Background(), "bonus.awarded", "t1", "u1", nil)
	local.wait(t, 1)

	broadcast.mu.Lock()
	assert.Empty(t, broadcast.events, "relay handles broadcast when publish succeeds")
	broadcast.mu.Unlock()

	pub.mu.Lock()
	pub.fail = true
	pub.mu.Unlock()

	d.Emit(context.Background(), "bonus.awarded", "t1", "u2", nil)
	broadcast.wait(t, 1)
}

func TestEvent_SSEFormat(t *testing.T) {
	e := &Event{ID: "e1", Type: "bonus.awarded", TenantID: "t1", Payload: jsonval.Map{"v": float64(1)}}
	frame, err := e.SSEFormat()
	require.NoError(t, err)
	assert.Contains(t, string(frame), "event: bonus.awarded\n")
	assert.Contains(t, string(frame), "id: e1\n\n")
}

func TestEvent_TypePrefix(t *testing.T) {
	assert.Equal(t, "bonus", (&Event{Type: "bonus.awarded"}).TypePrefix())
	assert.Equal(t, "ping", (&Event{Type: "ping"}).TypePrefix())
}

func TestIsCritical(t *testing.T) {
	assert.True(t, IsCritical(TypeBonusAwarded))
	assert.True(t, IsCritical(TypeDepositCompleted))
	assert.False(t, IsCritical("promo.update"))
}
