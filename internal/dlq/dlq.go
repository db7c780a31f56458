// Package dlq implements the dead letter queue: failed items parked with
// retry metadata, a background scheduler that re-enqueues due entries, and
// exponential backoff with jitter computed via cenkalti/backoff's
// exponential curve.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Ap3pp3rs94/signalbot/internal/config"
	"github.com/Ap3pp3rs94/signalbot/internal/metrics"
	"github.com/Ap3pp3rs94/signalbot/internal/queue"
	"github.com/Ap3pp3rs94/signalbot/internal/signal"
	"github.com/Ap3pp3rs94/signalbot/internal/signalerr"
	"github.com/Ap3pp3rs94/signalbot/internal/storage"
	"github.com/Ap3pp3rs94/signalbot/internal/telemetry"
)

const storageKey = "dlq"

// Entry is a single parked item with its retry bookkeeping.
type Entry struct {
	Envelope       signal.RawEnvelope
	LastErrorKind  signalerr.Kind
	LastErrorMsg   string
	Attempts       int
	NextAttemptAt  time.Time
	FirstFailedAt  time.Time
}

type persistedEntry struct {
	Payload       []byte    `json:"payload"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	LastErrorKind string    `json:"last_error_kind"`
	LastErrorMsg  string    `json:"last_error_msg"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	FirstFailedAt time.Time `json:"first_failed_at"`
}

// DLQ parks failing items and schedules their retry using the backoff curve
// min(initial*multiplier^(attempts-1), max) * jitter in [1-j,1+j], where
// attempts counts the failure just recorded (so the first failure waits
// initial).
type DLQ struct {
	mu      sync.Mutex
	storage storage.Adapter
	cfg     config.DLQConfig
	metrics *metrics.Registry
	log     *telemetry.Logger

	byID map[uint64]Entry
	now  func() time.Time
	rng  func() float64
}

func New(store storage.Adapter, cfg config.DLQConfig, reg *metrics.Registry, log *telemetry.Logger) *DLQ {
	return &DLQ{
		storage: store,
		cfg:     cfg,
		metrics: reg,
		log:     log,
		byID:    make(map[uint64]Entry),
		now:     time.Now,
		rng:     rand.Float64,
	}
}

// Load rehydrates in-memory bookkeeping from storage at startup.
func (d *DLQ) Load(ctx context.Context) error {
	recs, err := d.storage.ReadAll(ctx, storageKey)
	if err != nil {
		return fmt.Errorf("dlq load: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range recs {
		var p persistedEntry
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			continue
		}
		d.byID[r.ID] = persistedToEntry(p)
	}
	d.publishBacklogLocked()
	return nil
}

// Backoff computes next_attempt_at's delay for the given attempt count. The
// unjittered curve is driven by cenkalti/backoff's ExponentialBackOff with
// randomization disabled (so for n >= 1 it reproduces
// initial*multiplier^(n-1) capped at max deterministically; n = 0 also
// yields initial); jitter is then applied explicitly so growth and jitter
// can be tested independently.
func (d *DLQ) Backoff(attempts int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.cfg.InitialBackoff
	eb.Multiplier = d.cfg.Multiplier
	eb.MaxInterval = d.cfg.MaxBackoff
	eb.RandomizationFactor = 0
	eb.Reset()

	base := eb.NextBackOff()
	for i := 1; i < attempts; i++ {
		base = eb.NextBackOff()
	}
	if base == backoff.Stop {
		base = d.cfg.MaxBackoff
	}
	if d.cfg.Jitter <= 0 {
		return base
	}
	factor := 1 - d.cfg.Jitter + d.rng()*2*d.cfg.Jitter
	return time.Duration(float64(base) * factor)
}

// Append parks env with classification err after an attempt. Terminal
// errors are recorded with attempts=max_attempts so the scheduler never
// re-enqueues them.
func (d *DLQ) Append(ctx context.Context, env signal.RawEnvelope, attemptsSoFar int, kind signalerr.Kind, cause error) error {
	now := d.now()
	attempts := attemptsSoFar + 1
	entry := Entry{
		Envelope:      env,
		LastErrorKind: kind,
		Attempts:      attempts,
		FirstFailedAt: now,
	}
	if cause != nil {
		entry.LastErrorMsg = cause.Error()
	}
	if !kind.Retryable() {
		entry.Attempts = d.cfg.MaxAttempts
		entry.NextAttemptAt = time.Time{}
	} else {
		entry.NextAttemptAt = now.Add(d.Backoff(attempts))
	}

	p := entryToPersisted(entry)
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("dlq append: marshal: %w", err)
	}
	id, err := d.storage.Append(ctx, storageKey, b)
	if err != nil {
		return fmt.Errorf("dlq append: %w", err)
	}

	d.mu.Lock()
	d.byID[id] = entry
	d.publishBacklogLocked()
	d.mu.Unlock()

	if d.log != nil {
		d.log.Warn("dlq_append", map[string]any{
			"error_kind": string(kind),
			"attempts":   attempts,
			"retryable":  kind.Retryable(),
		})
	}
	return nil
}

// Due returns ids of entries whose next_attempt_at has elapsed and which
// have not reached max_attempts.
func (d *DLQ) Due(now time.Time) []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []uint64
	for id, e := range d.byID {
		if e.Attempts >= d.cfg.MaxAttempts {
			continue
		}
		if !e.NextAttemptAt.After(now) {
			out = append(out, id)
		}
	}
	return out
}

// Reenqueue moves the entry with id back into q with its attempt count
// carried forward, then deletes the DLQ record. The two steps are not one
// transaction: if the delete fails, the item has already been enqueued and
// the DLQ entry stays parked as well.
func (d *DLQ) Reenqueue(ctx context.Context, id uint64, q *queue.Queue) error {
	d.mu.Lock()
	entry, ok := d.byID[id]
	d.mu.Unlock()
	if !ok {
		return nil
	}

	if err := q.Enqueue(ctx, queue.Item{Envelope: entry.Envelope, AttemptCount: entry.Attempts}); err != nil {
		return fmt.Errorf("dlq reenqueue: %w", err)
	}
	if err := d.storage.Delete(ctx, storageKey, id); err != nil {
		return fmt.Errorf("dlq reenqueue: delete: %w", err)
	}
	d.mu.Lock()
	delete(d.byID, id)
	d.publishBacklogLocked()
	d.mu.Unlock()
	return nil
}

// Backlog reports the count of entries still parked, including ones that
// have reached max_attempts and are parked for inspection only.
func (d *DLQ) Backlog() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byID)
}

func (d *DLQ) publishBacklogLocked() {
	if d.metrics != nil {
		d.metrics.DLQBacklog.Set(float64(len(d.byID)))
	}
}

// RunScheduler scans for due entries at the configured interval (capped at
// initial_backoff) until ctx is cancelled.
func (d *DLQ) RunScheduler(ctx context.Context, q *queue.Queue, interval time.Duration) {
	if interval <= 0 || interval > d.cfg.InitialBackoff {
		interval = d.cfg.InitialBackoff
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, id := range d.Due(d.now()) {
				if err := d.Reenqueue(ctx, id, q); err != nil && d.log != nil {
					d.log.Error("dlq_reenqueue_failed", map[string]any{"error": err.Error()})
				}
			}
		}
	}
}

func entryToPersisted(e Entry) persistedEntry {
	return persistedEntry{
		Payload:       e.Envelope.Payload,
		EnqueuedAt:    e.Envelope.EnqueuedAt,
		LastErrorKind: string(e.LastErrorKind),
		LastErrorMsg:  e.LastErrorMsg,
		Attempts:      e.Attempts,
		NextAttemptAt: e.NextAttemptAt,
		FirstFailedAt: e.FirstFailedAt,
	}
}

func persistedToEntry(p persistedEntry) Entry {
	return Entry{
		Envelope:      signal.RawEnvelope{Payload: p.Payload, EnqueuedAt: p.EnqueuedAt},
		LastErrorKind: signalerr.Kind(p.LastErrorKind),
		LastErrorMsg:  p.LastErrorMsg,
		Attempts:      p.Attempts,
		NextAttemptAt: p.NextAttemptAt,
		FirstFailedAt: p.FirstFailedAt,
	}
}
