// Package queue is the admission-control core: it accepts render requests,
// de-duplicates them against pending and in-flight work, and drains them
// against a configurable concurrency ceiling, delegating the actual
// subprocess work to the invoker and recording outcomes on the token store.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okonma/rendercache/internal/invoker"
	"github.com/okonma/rendercache/internal/logging"
	"github.com/okonma/rendercache/internal/token"
)

// Renderer is the slice of the invoker the queue depends on. Tests stub it.
type Renderer interface {
	Render(ctx context.Context, t *token.Token, sourcePath string) (*invoker.Result, error)
	Cancel(tokenID string) bool
	IsRendering(tokenID string) bool
}

// Entry is one pending render request. Entries are ephemeral: they are not
// persisted, and in-flight work is not resumed across restarts (the store's
// repair pass demotes interrupted tokens back to pending instead).
type Entry struct {
	TokenID    string    `json:"tokenId"`
	SourcePath string    `json:"-"`
	EnqueuedAt time.Time `json:"addedAt"`
}

// Tuning carries the scheduler's pacing constants. The defaults are
// empirical values; treat them as configuration, not invariants.
type Tuning struct {
	// Concurrency is the ceiling on simultaneously dispatched renders.
	Concurrency int
	// CeilingRecheck is how long the drain loop sleeps when the ceiling
	// is full before re-checking.
	CeilingRecheck time.Duration
	// DispatchPause spaces out consecutive dispatches so process spawns
	// do not land in one burst.
	DispatchPause time.Duration
}

// DefaultTuning returns the standard pacing for a given ceiling.
func DefaultTuning(concurrency int) Tuning {
	return Tuning{
		Concurrency:    concurrency,
		CeilingRecheck: time.Second,
		DispatchPause:  100 * time.Millisecond,
	}
}

// Queue serializes render admission. Bookkeeping (pending list, counters) is
// mutex-guarded; renders themselves run as tracked goroutines up to the
// ceiling.
type Queue struct {
	store    *token.Store
	renderer Renderer
	tuning   Tuning
	logger   logging.Logger
	metrics  *Metrics

	mu       sync.Mutex
	pending  []Entry
	draining bool

	active     atomic.Int32
	dispatchWg sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc

	// sleep is swapped out by tests for deterministic pacing.
	sleep func(time.Duration)
}

// New creates a Queue. The drain loop starts lazily on the first enqueue.
func New(store *token.Store, renderer Renderer, tuning Tuning, logger logging.Logger) *Queue {
	if tuning.Concurrency < 1 {
		tuning.Concurrency = 1
	}
	if tuning.CeilingRecheck <= 0 {
		tuning.CeilingRecheck = time.Second
	}
	if tuning.DispatchPause < 0 {
		tuning.DispatchPause = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		store:    store,
		renderer: renderer,
		tuning:   tuning,
		logger:   logger.WithComponent("queue"),
		metrics:  &Metrics{},
		baseCtx:  ctx,
		cancel:   cancel,
		sleep:    time.Sleep,
	}
}

// Enqueue admits one render request. It returns false without side effects
// when the token is already pending in the queue or already actively
// rendering; otherwise it appends the entry and makes sure a drain loop is
// running.
func (q *Queue) Enqueue(tokenID, sourcePath string) bool {
	q.mu.Lock()
	for _, entry := range q.pending {
		if entry.TokenID == tokenID {
			q.mu.Unlock()
			q.logger.Debug(context.Background(), "enqueue rejected: already queued", "token_id", tokenID)
			return false
		}
	}
	if q.renderer.IsRendering(tokenID) {
		q.mu.Unlock()
		q.logger.Debug(context.Background(), "enqueue rejected: already rendering", "token_id", tokenID)
		return false
	}

	q.pending = append(q.pending, Entry{
		TokenID:    tokenID,
		SourcePath: sourcePath,
		EnqueuedAt: time.Now().UTC(),
	})
	startDrain := !q.draining
	if startDrain {
		q.draining = true
	}
	q.mu.Unlock()

	q.logger.Info(context.Background(), "render enqueued", "token_id", tokenID)
	if startDrain {
		go q.drain()
	}
	return true
}

// drain is the single logical worker. Only one drain loop runs at a time;
// the draining flag set under the mutex guards re-entry. Entries are served
// FIFO, each dispatched as a tracked goroutine, with a short pause between
// dispatches and a backoff sleep while the ceiling is full.
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		if int(q.active.Load()) >= q.tuning.Concurrency {
			q.mu.Unlock()
			q.sleep(q.tuning.CeilingRecheck)
			continue
		}
		entry := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		t, ok := q.store.Get(entry.TokenID)
		if !ok {
			// Store/queue desync: nothing to report the failure on,
			// so the entry is dropped.
			q.logger.Warn(context.Background(), nil, "dropping entry for unknown token", "token_id", entry.TokenID)
			continue
		}

		if _, err := q.store.UpdateStatus(entry.TokenID, token.StatusRendering, nil); err != nil {
			q.logger.Warn(context.Background(), err, "failed to mark token rendering", "token_id", entry.TokenID)
			continue
		}

		q.active.Add(1)
		q.dispatchWg.Add(1)
		go q.dispatch(entry, t)

		q.sleep(q.tuning.DispatchPause)
	}
}

// dispatch runs one render to completion and records the outcome on the
// token. Every failure mode ends here: nothing a single job does may halt
// the drain loop or crash the host process.
func (q *Queue) dispatch(entry Entry, t *token.Token) {
	defer q.dispatchWg.Done()
	defer q.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error(context.Background(), nil, "render dispatch panicked",
				"token_id", entry.TokenID, "panic", r)
			q.recordFailure(entry.TokenID, "internal fault during render dispatch")
		}
	}()

	q.metrics.recordDispatched()
	result, err := q.renderer.Render(q.baseCtx, t, entry.SourcePath)

	switch {
	case err == nil:
		notCancelled := false
		_, updateErr := q.store.UpdateStatus(entry.TokenID, token.StatusReady, &token.Update{
			RenderPath:    result.RenderPath,
			FirstFrame:    result.FirstFrame,
			RenderSeconds: result.Duration.Seconds(),
			Cancelled:     &notCancelled,
		})
		if updateErr != nil {
			q.logger.Warn(context.Background(), updateErr, "failed to mark token ready", "token_id", entry.TokenID)
		}
		q.metrics.recordSuccess(result.Duration)

	case invoker.IsCancelled(err):
		// Cancel already reset the token to pending with the cancelled
		// flag; recording a failure on top would clobber that.
		q.metrics.recordCancelled()

	default:
		q.recordFailure(entry.TokenID, err.Error())
		q.metrics.recordFailure()
	}
}

func (q *Queue) recordFailure(tokenID, message string) {
	now := time.Now().UTC()
	if _, err := q.store.UpdateStatus(tokenID, token.StatusDirty, &token.Update{
		Error:    message,
		FailedAt: &now,
	}); err != nil {
		q.logger.Warn(context.Background(), err, "failed to record render failure", "token_id", tokenID)
	}
}

// Cancel removes a still-pending entry, or, for an active render, delegates
// to the invoker and resets the token to pending with the cancelled flag.
// Returns whether anything was cancelled.
func (q *Queue) Cancel(tokenID string) bool {
	q.mu.Lock()
	for i, entry := range q.pending {
		if entry.TokenID == tokenID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.mu.Unlock()
			q.logger.Info(context.Background(), "pending render cancelled", "token_id", tokenID)
			return true
		}
	}
	q.mu.Unlock()

	if !q.renderer.Cancel(tokenID) {
		return false
	}
	cancelled := true
	if _, err := q.store.UpdateStatus(tokenID, token.StatusPending, &token.Update{Cancelled: &cancelled}); err != nil {
		q.logger.Warn(context.Background(), err, "failed to mark token cancelled", "token_id", tokenID)
	}
	return true
}

// Clear empties the pending list without touching in-flight renders and
// returns the number of entries removed.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := len(q.pending)
	q.pending = nil
	return removed
}

// Snapshot is the read-only monitoring view of the queue.
type Snapshot struct {
	QueueLength    int             `json:"queueLength"`
	ActiveRenders  int             `json:"activeRenders"`
	MaxConcurrency int             `json:"maxConcurrency"`
	Queue          []Entry         `json:"queue"`
	Metrics        MetricsSnapshot `json:"metrics"`
}

// Status returns a point-in-time snapshot for monitoring.
func (q *Queue) Status() Snapshot {
	q.mu.Lock()
	pending := make([]Entry, len(q.pending))
	copy(pending, q.pending)
	q.mu.Unlock()

	return Snapshot{
		QueueLength:    len(pending),
		ActiveRenders:  int(q.active.Load()),
		MaxConcurrency: q.tuning.Concurrency,
		Queue:          pending,
		Metrics:        q.metrics.Snapshot(),
	}
}

// ActiveCount returns the number of renders currently dispatched.
func (q *Queue) ActiveCount() int {
	return int(q.active.Load())
}

// Stop discards pending entries, cancels the base context of in-flight
// renders and waits for their dispatch goroutines to finish bookkeeping.
func (q *Queue) Stop() {
	q.Clear()
	q.cancel()
	q.dispatchWg.Wait()
}
