package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/albion/platform/internal/metrics"
	"github.com/albion/platform/internal/platform/jsonval"
	"github.com/albion/platform/internal/platform/reqctx"
)

// AuditStore persists the at-least-once local audit row for every event.
type AuditStore interface {
	InsertEvent(ctx context.Context, e *Event) error
}

// Publisher sends serialized events to a Redis channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, message []byte) error
}

// Sink receives events after publication: the webhook queue and the realtime
// hub both implement it.
type Sink interface {
	Deliver(e *Event)
}

// Dispatcher normalizes and fans out domain events. Events for the same
// tenant and user are published in emission order through a single publisher
// goroutine; cross-user ordering is not guaranteed.
//
// Local sinks (the webhook queue) run only on the emitting pod. Broadcast
// sinks (the realtime hub) normally receive events through the Redis relay
// on every pod; they are fed directly only when Redis is absent or the
// publish fails, mirroring the local-fallback behavior of the event bus.
type Dispatcher struct {
	audit     AuditStore
	pub       Publisher
	prefix    string
	local     []Sink
	broadcast []Sink
	queue     chan *Event
	wg        sync.WaitGroup
	closeMu   sync.Mutex
	closed    bool
}

// NewDispatcher creates the dispatcher and starts its publisher goroutine.
// audit and pub may be nil (tests, single-pod deployments).
func NewDispatcher(audit AuditStore, pub Publisher, channelPrefix string, bufferSize int, local, broadcast []Sink) *Dispatcher {
	if channelPrefix == "" {
		channelPrefix = "platform:events:"
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	d := &Dispatcher{
		audit:     audit,
		pub:       pub,
		prefix:    channelPrefix,
		local:     local,
		broadcast: broadcast,
		queue:     make(chan *Event, bufferSize),
	}
	d.wg.Add(1)
	go d.publishLoop()
	return d
}

// Emit normalizes and dispatches an event. The audit row is written
// synchronously best-effort; publication and fan-out are asynchronous.
// Critical event types block rather than drop when the queue is full.
func (d *Dispatcher) Emit(ctx context.Context, eventType, tenantID, userID string, payload jsonval.Map) *Event {
	e := &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		TenantID:      tenantID,
		UserID:        userID,
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
		CorrelationID: reqctx.CorrelationID(ctx),
	}

	if d.audit != nil {
		if err := d.audit.InsertEvent(ctx, e); err != nil {
			slog.Error("Event audit write failed", "event_id", e.ID, "type", e.Type, "error", err)
		}
	}

	d.closeMu.Lock()
	closed := d.closed
	d.closeMu.Unlock()
	if closed {
		return e
	}

	if IsCritical(eventType) {
		d.queue <- e
	} else {
		select {
		case d.queue <- e:
		default:
			slog.Warn("Event queue full, dropping non-critical event",
				"type", eventType, "event_id", e.ID)
		}
	}

	metrics.EventsEmitted.WithLabelValues(eventType).Inc()
	return e
}

// publishLoop is the single publisher goroutine: it preserves per-tenant,
// per-user emission order on the Redis channel and toward the sinks.
func (d *Dispatcher) publishLoop() {
	defer d.wg.Done()
	for e := range d.queue {
		published := false
		if d.pub != nil {
			data, err := e.JSON()
			if err != nil {
				slog.Error("Event marshal failed", "event_id", e.ID, "error", err)
				continue
			}
			channel := d.prefix + e.TenantID + ":" + e.TypePrefix()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := d.pub.Publish(ctx, channel, data); err != nil {
				slog.Warn("Event publish failed, local fan-out only",
					"channel", channel, "event_id", e.ID, "error", err)
			} else {
				published = true
			}
			cancel()
		}

		for _, sink := range d.local {
			sink.Deliver(e)
		}
		if !published {
			for _, sink := range d.broadcast {
				sink.Deliver(e)
			}
		}
	}
}

// Close drains the queue and stops the publisher goroutine.
func (d *Dispatcher) Close() {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return
	}
	d.closed = true
	d.closeMu.Unlock()

	close(d.queue)
	d.wg.Wait()
}
