// Package saga executes ordered multi-step mutations with optional MongoDB
// transactions, idempotent retries, and forward-only compensation.
//
// Inside a transaction, a terminal failure aborts and every write rolls
// back. Outside one, compensations for completed steps run in reverse
// order; a failed compensation is logged and never blocks the rest.
package saga

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/albion/platform/internal/platform/jsonval"
)

// Step is one unit of a saga. Execute receives the shared saga context and
// may read outputs of earlier steps from it. Compensate, when set, undoes a
// completed Execute.
type Step struct {
	Name       string
	Execute    func(ctx context.Context, sc *Context) error
	Compensate func(ctx context.Context, sc *Context) error
}

// Context is the mutable state shared by a saga's steps. Data accumulates
// the caller's input plus each step's outputs. The saga id doubles as the
// idempotency key for any ledger posting written inside.
type Context struct {
	SagaID string
	Data   jsonval.Map
}

// Set records a step output.
func (c *Context) Set(key string, value interface{}) {
	if c.Data == nil {
		c.Data = jsonval.Map{}
	}
	c.Data[key] = value
}

// Options tunes a single execution.
type Options struct {
	SagaID         string // explicit idempotency key; generated when empty
	UseTransaction bool
	MaxRetries     int // per-step attempts on transient failures (default 3)
}

// Result reports a completed or failed saga.
type Result struct {
	Success       bool
	SagaID        string
	Context       *Context
	Err           error
	FailedStep    string
	ExecutionTime time.Duration
}

// Engine runs sagas. The mongo client is optional; without one,
// UseTransaction requests degrade to compensation-based rollback.
type Engine struct {
	client *mongo.Client
	logger *log.Logger
}

// NewEngine creates a saga engine. client may be nil for in-memory use.
func NewEngine(client *mongo.Client) *Engine {
	return &Engine{
		client: client,
		logger: log.New(log.Writer(), "[Saga] ", log.LstdFlags),
	}
}

// Execute runs the steps strictly sequentially. See package doc for the
// rollback contract.
func (e *Engine) Execute(ctx context.Context, steps []Step, input jsonval.Map, opts Options) *Result {
	start := time.Now()

	sagaID := opts.SagaID
	if sagaID == "" {
		sagaID = uuid.New().String()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	sc := &Context{SagaID: sagaID, Data: jsonval.Map{}}
	for k, v := range input {
		sc.Data[k] = v
	}

	var err error
	var failedStep string
	if opts.UseTransaction && e.client != nil {
		failedStep, err = e.runTransactional(ctx, steps, sc, opts)
	} else {
		failedStep, err = e.runCompensating(ctx, steps, sc, opts)
	}

	result := &Result{
		Success:       err == nil,
		SagaID:        sagaID,
		Context:       sc,
		Err:           err,
		FailedStep:    failedStep,
		ExecutionTime: time.Since(start),
	}
	if err != nil {
		e.logger.Printf("saga %s failed at step %q: %v", sagaID, failedStep, err)
	}
	return result
}

// runTransactional executes every step inside one Mongo transaction with
// snapshot reads and majority writes. Abort rolls back all writes; no
// compensation is needed.
func (e *Engine) runTransactional(ctx context.Context, steps []Step, sc *Context, opts Options) (string, error) {
	session, err := e.client.StartSession()
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority()).
		SetReadPreference(readpref.Primary())

	var failedStep string
	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		for _, step := range steps {
			if err := sessCtx.Err(); err != nil {
				failedStep = step.Name
				return nil, err
			}
			if err := e.executeWithRetry(sessCtx, step, sc, opts.MaxRetries); err != nil {
				failedStep = step.Name
				return nil, err
			}
		}
		return nil, nil
	}, txnOpts)
	return failedStep, err
}

// runCompensating executes steps without a transaction. On failure or
// cancellation, completed steps compensate in reverse order.
func (e *Engine) runCompensating(ctx context.Context, steps []Step, sc *Context, opts Options) (string, error) {
	var completed []Step

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			e.compensate(completed, sc)
			return step.Name, err
		}
		if err := e.executeWithRetry(ctx, step, sc, opts.MaxRetries); err != nil {
			e.compensate(completed, sc)
			return step.Name, err
		}
		completed = append(completed, step)
	}
	return "", nil
}

// executeWithRetry retries a step on transient failures only. Non-transient
// failures are terminal immediately.
func (e *Engine) executeWithRetry(ctx context.Context, step Step, sc *Context, maxRetries int) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = step.Execute(ctx, sc)
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt < maxRetries {
			e.logger.Printf("saga %s step %q transient failure (attempt %d/%d): %v",
				sc.SagaID, step.Name, attempt, maxRetries, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt*attempt) * 100 * time.Millisecond):
			}
		}
	}
	return lastErr
}

// compensate runs the completed steps' compensations in reverse order.
// Compensation runs on a detached context so it completes even when the
// parent request was cancelled.
func (e *Engine) compensate(completed []Step, sc *Context) {
	compCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(compCtx, sc); err != nil {
			e.logger.Printf("saga %s compensation %q failed: %v", sc.SagaID, step.Name, err)
		}
	}
}
