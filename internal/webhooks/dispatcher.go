package webhooks

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/albion/platform/internal/events"
	"github.com/albion/platform/internal/metrics"
)

// Dispatcher delivers events to subscribed endpoints from a background
// worker pool. Delivery order across attempts is not guaranteed; each
// delivery is independent. Implements events.Sink.
type Dispatcher struct {
	registry   *Registry
	httpClient *http.Client
	queue      chan *deliveryJob
	logger     *log.Logger
	wg         sync.WaitGroup

	maxAttempts int

	closeMu sync.Mutex
	closed  bool
}

type deliveryJob struct {
	sub   *Subscription
	event *events.Event
	body  []byte
}

// Options tunes the dispatcher pool.
type Options struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	Timeout     time.Duration
}

// NewDispatcher creates a dispatcher and starts its workers.
func NewDispatcher(registry *Registry, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	d := &Dispatcher{
		registry:    registry,
		httpClient:  &http.Client{Timeout: opts.Timeout},
		queue:       make(chan *deliveryJob, opts.QueueSize),
		logger:      log.New(log.Writer(), "[Webhooks] ", log.LstdFlags),
		maxAttempts: opts.MaxAttempts,
	}

	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Deliver enqueues the event for every matching subscription. Critical
// events block when the queue is full; others drop with a warning.
func (d *Dispatcher) Deliver(e *events.Event) {
	subs := d.registry.Subscribers(e.TenantID, e.Type)
	if len(subs) == 0 {
		return
	}

	body, err := e.JSON()
	if err != nil {
		d.logger.Printf("marshal event %s: %v", e.ID, err)
		return
	}

	d.closeMu.Lock()
	closed := d.closed
	d.closeMu.Unlock()
	if closed {
		return
	}

	for _, sub := range subs {
		job := &deliveryJob{sub: sub, event: e, body: body}
		if events.IsCritical(e.Type) {
			d.queue <- job
		} else {
			select {
			case d.queue <- job:
			default:
				d.logger.Printf("queue full, dropping event %s for %s", e.ID, sub.ID)
				metrics.WebhookDeliveries.WithLabelValues("dropped").Inc()
			}
		}
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		d.deliverWithRetry(job)
	}
}

// deliverWithRetry attempts a delivery with exponential backoff: initial 1s,
// factor 2, capped at 5m, up to maxAttempts tries.
func (d *Dispatcher) deliverWithRetry(job *deliveryJob) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.Multiplier = 2
	policy.MaxInterval = 5 * time.Minute
	policy.MaxElapsedTime = 0 // attempts bound the retry loop, not wall time

	attempts := 0
	operation := func() error {
		attempts++
		err := d.attempt(job)
		if err != nil && attempts >= d.maxAttempts {
			return backoff.Permanent(fmt.Errorf("after %d attempts: %w", attempts, err))
		}
		return err
	}

	if err := backoff.Retry(operation, policy); err != nil {
		d.logger.Printf("delivery exhausted: %s -> %s: %v", job.event.Type, job.sub.URL, err)
		d.registry.MarkFailed(job.sub.ID)
		metrics.WebhookDeliveries.WithLabelValues("exhausted").Inc()
		return
	}

	d.registry.MarkDelivered(job.sub.ID)
	metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
}

func (d *Dispatcher) attempt(job *deliveryJob) error {
	req, err := http.NewRequest(http.MethodPost, job.sub.URL, bytes.NewReader(job.body))
	if err != nil {
		return backoff.Permanent(err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", job.event.ID)
	req.Header.Set("X-Event-Type", job.event.Type)
	req.Header.Set("X-Tenant-Id", job.event.TenantID)
	if job.sub.Secret != "" {
		req.Header.Set("X-Signature", SignPayload(job.body, job.sub.Secret))
	}
	for k, v := range job.sub.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		// Client errors do not heal with retries.
		return backoff.Permanent(fmt.Errorf("endpoint returned %d", resp.StatusCode))
	}
	return nil
}

// Shutdown stops accepting jobs and drains the workers.
func (d *Dispatcher) Shutdown() {
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
