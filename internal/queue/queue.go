// Package queue implements the bounded FIFO between the Receiver and the
// Worker Pool, including its backpressure policy and optional durable
// rehydration from a storage.Adapter.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Ap3pp3rs94/signalbot/internal/config"
	"github.com/Ap3pp3rs94/signalbot/internal/metrics"
	"github.com/Ap3pp3rs94/signalbot/internal/signal"
	"github.com/Ap3pp3rs94/signalbot/internal/storage"
)

// ErrRejected is returned by Enqueue under the "reject" policy when the
// queue is full.
var ErrRejected = fmt.Errorf("queue: full, rejected")

// ErrClosed is returned by Enqueue/Dequeue once Close has been called.
var ErrClosed = fmt.Errorf("queue: closed")

// Item is what flows through the queue: the raw envelope plus the retry
// bookkeeping the DLQ scheduler needs on re-enqueue.
type Item struct {
	Envelope     signal.RawEnvelope
	AttemptCount int
}

const storageKey = "queue"

// Queue is a bounded FIFO with an explicit full-queue policy.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []queued
	capacity int
	policy   config.BackpressurePolicy
	closed   bool

	durable storage.Adapter // nil when durability is disabled
	metrics *metrics.Registry
}

type queued struct {
	item Item
	id   uint64 // storage record id, 0 when not durable
}

// persistedItem is the JSON shape written to storage.Adapter.
type persistedItem struct {
	Payload      []byte    `json:"payload"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	AttemptCount int       `json:"attempt_count"`
}

// New constructs a Queue. When durable is non-nil, every Enqueue first
// appends to it and Rehydrate replays its contents in append order before
// the Receiver is allowed to start.
func New(capacity int, policy config.BackpressurePolicy, durable storage.Adapter, reg *metrics.Registry) *Queue {
	q := &Queue{
		capacity: capacity,
		policy:   policy,
		durable:  durable,
		metrics:  reg,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Rehydrate loads every durable record in append order into the queue
// before the Receiver opens.
func (q *Queue) Rehydrate(ctx context.Context) error {
	if q.durable == nil {
		return nil
	}
	recs, err := q.durable.ReadAll(ctx, storageKey)
	if err != nil {
		return fmt.Errorf("rehydrate: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range recs {
		var p persistedItem
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			continue // corrupt record; skip rather than fail startup
		}
		q.items = append(q.items, queued{
			item: Item{
				Envelope:     signal.RawEnvelope{Payload: p.Payload, EnqueuedAt: p.EnqueuedAt},
				AttemptCount: p.AttemptCount,
			},
			id: r.ID,
		})
	}
	q.publishDepthLocked()
	if len(q.items) > 0 {
		q.notEmpty.Broadcast()
	}
	return nil
}

// Enqueue adds item according to the configured backpressure policy.
func (q *Queue) Enqueue(ctx context.Context, item Item) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}

	for len(q.items) >= q.capacity {
		switch q.policy {
		case config.BackpressureDropOldest:
			dropped := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			if q.durable != nil && dropped.id != 0 {
				_ = q.durable.Delete(ctx, storageKey, dropped.id)
			}
			if q.metrics != nil {
				q.metrics.MessagesDropped.WithLabelValues("drop_oldest").Inc()
			}
			q.mu.Lock()
		case config.BackpressureReject:
			q.mu.Unlock()
			if q.metrics != nil {
				q.metrics.MessagesDropped.WithLabelValues("reject").Inc()
			}
			return ErrRejected
		default: // block
			done := make(chan struct{})
			go func() {
				select {
				case <-ctx.Done():
					q.mu.Lock()
					q.notFull.Broadcast()
					q.mu.Unlock()
				case <-done:
				}
			}()
			q.notFull.Wait()
			close(done)
			if ctx.Err() != nil {
				q.mu.Unlock()
				return ctx.Err()
			}
			if q.closed {
				q.mu.Unlock()
				return ErrClosed
			}
		}
	}

	var id uint64
	if q.durable != nil {
		q.mu.Unlock()
		p := persistedItem{Payload: item.Envelope.Payload, EnqueuedAt: item.Envelope.EnqueuedAt, AttemptCount: item.AttemptCount}
		b, _ := json.Marshal(p)
		var err error
		id, err = q.durable.Append(ctx, storageKey, b)
		if err != nil {
			return fmt.Errorf("enqueue: durable append: %w", err)
		}
		q.mu.Lock()
	}

	q.items = append(q.items, queued{item: item, id: id})
	q.publishDepthLocked()
	q.notEmpty.Signal()
	q.mu.Unlock()
	return nil
}

// Dequeue blocks until an item is available or ctx is cancelled, and
// returns it along with the observed queue latency.
func (q *Queue) Dequeue(ctx context.Context) (Item, time.Duration, error) {
	q.mu.Lock()
	for len(q.items) == 0 {
		if q.closed {
			q.mu.Unlock()
			return Item{}, 0, ErrClosed
		}
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.notEmpty.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()
		q.notEmpty.Wait()
		close(done)
		if ctx.Err() != nil {
			q.mu.Unlock()
			return Item{}, 0, ctx.Err()
		}
	}

	head := q.items[0]
	q.items = q.items[1:]
	q.publishDepthLocked()
	q.notFull.Signal()
	q.mu.Unlock()

	if q.durable != nil && head.id != 0 {
		_ = q.durable.Delete(ctx, storageKey, head.id)
	}

	latency := time.Since(head.item.Envelope.EnqueuedAt)
	if q.metrics != nil {
		q.metrics.QueueLatencySeconds.Observe(latency.Seconds())
	}
	return head.item, latency, nil
}

// Close unblocks any waiting Enqueue/Dequeue callers with ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Depth reports the current number of queued items.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) publishDepthLocked() {
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(len(q.items)))
	}
}
