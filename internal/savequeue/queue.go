// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package savequeue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/scottwelch968/Spork-V2-sub004/internal/auth"
	"github.com/scottwelch968/Spork-V2-sub004/internal/backend"
	"github.com/scottwelch968/Spork-V2-sub004/internal/clock"
	"github.com/scottwelch968/Spork-V2-sub004/internal/events"
)

// Defaults for a new queue.
const (
	DefaultBatchSize  = 10
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	DefaultMaxPending = 5000
)

// closeBusyWait is how long Close waits before retrying while another
// drain holds the queue.
const closeBusyWait = 10 * time.Millisecond

var (
	// ErrBusy is returned by DrainOnce while another drain is running.
	ErrBusy = errors.New("drain already in progress")

	// ErrNoSession is returned by DrainOnce when no access token is available.
	// The batch stays queued.
	ErrNoSession = errors.New("no access token, batch parked")

	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("save queue closed")

	// ErrQueueFull is returned by Enqueue when MaxPending operations wait.
	ErrQueueFull = errors.New("save queue full")
)

// Persister writes a batch of operations.
type Persister interface {
	BatchSave(ctx context.Context, token string, ops []backend.Operation) ([]backend.Result, error)
}

// DropError describes an operation abandoned after its last retry.
type DropError struct {
	Table    string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *DropError) Error() string {
	return fmt.Sprintf("dropped %s write after %d attempts: %v", e.Table, e.Attempts, e.Err)
}

// Unwrap returns the last failure.
func (e *DropError) Unwrap() error {
	return e.Err
}

// =============================================================================
// OPERATION
// =============================================================================

// Operation is a queued row write.
type Operation struct {
	Table   string
	Data    map[string]any
	Retries int

	onSaved func(id string)
}

// EnqueueOption configures one enqueued operation.
type EnqueueOption func(*Operation)

// OnSaved registers a callback receiving the stored row id on success.
// It runs on the worker goroutine.
func OnSaved(fn func(id string)) EnqueueOption {
	return func(op *Operation) { op.onSaved = fn }
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Pending  int
	Retrying int
	Saved    uint64
	Retried  uint64
	Dropped  uint64
	Batches  uint64
}

// =============================================================================
// QUEUE
// =============================================================================

// Option configures a Queue.
type Option func(*Queue)

// WithBatchSize sets the maximum operations per batch_save call.
func WithBatchSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.batchSize = n
		}
	}
}

// WithMaxRetries sets how many retries follow the first failed attempt.
func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.maxRetries = n
		}
	}
}

// WithBaseDelay sets the unit of the 2^retries backoff.
func WithBaseDelay(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.baseDelay = d
		}
	}
}

// WithMaxPending bounds the number of waiting operations. Zero is unbounded.
func WithMaxPending(n int) Option {
	return func(q *Queue) { q.maxPending = n }
}

// WithScheduler sets the scheduler for retry delays.
func WithScheduler(s clock.Scheduler) Option {
	return func(q *Queue) { q.sched = s }
}

// WithBus sets the event bus for terminal failures.
func WithBus(b *events.Bus) Option {
	return func(q *Queue) { q.bus = b }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(q *Queue) { q.logger = l.With().Str("component", "savequeue").Logger() }
}

// Queue is the background save queue. Enqueue and DrainOnce are the only
// mutators of the pending list.
type Queue struct {
	persister Persister
	tokens    auth.TokenSource

	batchSize  int
	maxRetries int
	baseDelay  time.Duration
	maxPending int
	sched      clock.Scheduler
	bus        *events.Bus
	logger     zerolog.Logger

	mu       sync.Mutex
	pending  []*Operation
	retrying map[*Operation]clock.Timer
	closed   bool

	busy atomic.Bool
	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	runs atomic.Bool

	saved   atomic.Uint64
	retried atomic.Uint64
	dropped atomic.Uint64
	batches atomic.Uint64
}

// New creates a queue writing through persister.
func New(persister Persister, tokens auth.TokenSource, opts ...Option) *Queue {
	q := &Queue{
		persister:  persister,
		tokens:     tokens,
		batchSize:  DefaultBatchSize,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		maxPending: DefaultMaxPending,
		sched:      clock.Real(),
		logger:     zerolog.Nop(),
		retrying:   make(map[*Operation]clock.Timer),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a write and wakes the worker. It never blocks.
func (q *Queue) Enqueue(table string, data map[string]any, opts ...EnqueueOption) error {
	op := &Operation{Table: table, Data: data}
	for _, opt := range opts {
		opt(op)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.maxPending > 0 && len(q.pending) >= q.maxPending {
		q.mu.Unlock()
		q.logger.Error().Str("table", table).Msg("save queue full, rejecting write")
		q.bus.Publish(events.ErrorPayload{Phase: events.PhaseBackgroundSave, Err: ErrQueueFull, Recoverable: false})
		return ErrQueueFull
	}
	q.pending = append(q.pending, op)
	q.mu.Unlock()

	q.signal()
	return nil
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run drains whenever operations arrive, until ctx is done or Close is
// called. Only one Run may be active.
func (q *Queue) Run(ctx context.Context) {
	if !q.runs.CompareAndSwap(false, true) {
		q.logger.Warn().Msg("save queue worker already running")
		return
	}
	defer close(q.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-q.wake:
		}
		q.drainPending(ctx)
	}
}

// drainPending keeps draining while operations remain, stopping when the
// batch is parked for lack of a session.
func (q *Queue) drainPending(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := q.DrainOnce(ctx)
		if errors.Is(err, ErrNoSession) || errors.Is(err, ErrBusy) || n == 0 {
			return
		}
	}
}

// DrainOnce sends at most one batch. It returns the number of operations
// taken from the queue.
func (q *Queue) DrainOnce(ctx context.Context) (int, error) {
	if !q.busy.CompareAndSwap(false, true) {
		return 0, ErrBusy
	}
	defer q.busy.Store(false)

	batch := q.popBatch()
	if len(batch) == 0 {
		return 0, nil
	}

	token, err := q.tokens.AccessToken(ctx)
	if err != nil || token == "" {
		if err != nil {
			q.logger.Warn().Err(err).Msg("token lookup failed, parking batch")
		}
		q.pushFront(batch)
		return 0, ErrNoSession
	}

	ops := make([]backend.Operation, len(batch))
	for i, op := range batch {
		ops[i] = backend.Operation{Table: op.Table, Data: op.Data}
	}

	q.batches.Add(1)
	results, err := q.persister.BatchSave(ctx, token, ops)
	if err != nil {
		q.logger.Warn().Err(err).Int("ops", len(batch)).Msg("batch save failed")
		for _, op := range batch {
			q.retry(op, err)
		}
		return len(batch), err
	}

	for i, op := range batch {
		var res backend.Result
		if i < len(results) {
			res = results[i]
		} else {
			res = backend.Result{Error: "missing result"}
		}

		if res.Success {
			q.saved.Add(1)
			if op.onSaved != nil && res.ID != "" {
				op.onSaved(res.ID)
			}
			continue
		}

		msg := res.Error
		if msg == "" {
			msg = "operation rejected"
		}
		q.retry(op, errors.New(msg))
	}
	return len(batch), nil
}

func (q *Queue) popBatch() []*Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(len(q.pending), q.batchSize)
	if n == 0 {
		return nil
	}
	batch := make([]*Operation, n)
	copy(batch, q.pending[:n])
	q.pending = q.pending[n:]
	if len(q.pending) == 0 {
		q.pending = nil
	}
	return batch
}

func (q *Queue) pushFront(batch []*Operation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(append(make([]*Operation, 0, len(batch)+len(q.pending)), batch...), q.pending...)
}

// retry schedules op again after 2^retries base delays, or drops it once it
// has used every retry.
func (q *Queue) retry(op *Operation, cause error) {
	if op.Retries >= q.maxRetries {
		q.drop(op, cause)
		return
	}
	op.Retries++
	q.retried.Add(1)
	delay := q.baseDelay * time.Duration(1<<op.Retries)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		// Shutdown flush: retry immediately, still bounded by maxRetries.
		q.pending = append(q.pending, op)
		return
	}

	q.logger.Debug().
		Str("table", op.Table).
		Int("retries", op.Retries).
		Dur("delay", delay).
		Msg("scheduling save retry")

	q.retrying[op] = q.sched.AfterFunc(delay, func() { q.requeue(op) })
}

func (q *Queue) requeue(op *Operation) {
	q.mu.Lock()
	if _, ok := q.retrying[op]; !ok {
		q.mu.Unlock()
		return
	}
	delete(q.retrying, op)
	q.pending = append(q.pending, op)
	q.mu.Unlock()

	q.signal()
}

func (q *Queue) drop(op *Operation, cause error) {
	q.dropped.Add(1)
	err := &DropError{Table: op.Table, Attempts: op.Retries + 1, Err: cause}
	q.logger.Error().Err(err).Str("table", op.Table).Msg("giving up on background save")
	q.bus.Publish(events.ErrorPayload{Phase: events.PhaseBackgroundSave, Err: err, Recoverable: false})
}

// Close stops accepting writes, stops the worker, and drains what is left
// until the queue is empty, the batch is parked, or ctx is done. Retries
// that were waiting run immediately.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for op, t := range q.retrying {
		t.Stop()
		q.pending = append(q.pending, op)
	}
	clear(q.retrying)
	q.mu.Unlock()

	close(q.stop)
	if q.runs.Load() {
		select {
		case <-q.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := q.DrainOnce(ctx)
		if errors.Is(err, ErrNoSession) {
			return fmt.Errorf("%d writes left unsaved: %w", q.Stats().Pending, err)
		}
		if errors.Is(err, ErrBusy) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(closeBusyWait):
			}
			continue
		}
		if n == 0 {
			return nil
		}
	}
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	pending, retrying := len(q.pending), len(q.retrying)
	q.mu.Unlock()

	return Stats{
		Pending:  pending,
		Retrying: retrying,
		Saved:    q.saved.Load(),
		Retried:  q.retried.Load(),
		Dropped:  q.dropped.Load(),
		Batches:  q.batches.Load(),
	}
}
