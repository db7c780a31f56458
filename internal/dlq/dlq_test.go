package dlq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Ap3pp3rs94/signalbot/internal/config"
	"github.com/Ap3pp3rs94/signalbot/internal/queue"
	"github.com/Ap3pp3rs94/signalbot/internal/signal"
	"github.com/Ap3pp3rs94/signalbot/internal/signalerr"
	"github.com/Ap3pp3rs94/signalbot/internal/storage"
)

func testConfig() config.DLQConfig {
	return config.DLQConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		Multiplier:     2,
		MaxBackoff:     time.Minute,
		Jitter:         0,
	}
}

func TestBackoffGrowsExponentiallyAndCaps(t *testing.T) {
	d := New(storage.NewMemoryAdapter(), testConfig(), nil, nil)
	if got := d.Backoff(1); got != time.Second {
		t.Fatalf("expected 1s for attempt 1, got %v", got)
	}
	if got := d.Backoff(2); got != 2*time.Second {
		t.Fatalf("expected 2s for attempt 2, got %v", got)
	}
	if got := d.Backoff(3); got != 4*time.Second {
		t.Fatalf("expected 4s for attempt 3, got %v", got)
	}
	if got := d.Backoff(10); got != time.Minute {
		t.Fatalf("expected backoff to cap at max_backoff, got %v", got)
	}
}

func TestBackoffAppliesJitterWithinBounds(t *testing.T) {
	cfg := testConfig()
	cfg.Jitter = 0.25
	d := New(storage.NewMemoryAdapter(), cfg, nil, nil)
	d.rng = func() float64 { return 0 } // minimum jitter factor: 1 - 0.25
	if got := d.Backoff(1); got != time.Duration(float64(time.Second)*0.75) {
		t.Fatalf("expected minimum jittered backoff, got %v", got)
	}
	d.rng = func() float64 { return 1 } // maximum jitter factor: 1 + 0.25
	if got := d.Backoff(1); got != time.Duration(float64(time.Second)*1.25) {
		t.Fatalf("expected maximum jittered backoff, got %v", got)
	}
}

func TestAppendRetryableSchedulesNextAttempt(t *testing.T) {
	d := New(storage.NewMemoryAdapter(), testConfig(), nil, nil)
	fixed := time.Now()
	d.now = func() time.Time { return fixed }

	env := signal.RawEnvelope{Payload: []byte("x")}
	if err := d.Append(context.Background(), env, 0, signalerr.KindUpstream5xx, errors.New("boom")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if d.Backlog() != 1 {
		t.Fatalf("expected backlog of 1, got %d", d.Backlog())
	}
	due := d.Due(fixed)
	if len(due) != 0 {
		t.Fatalf("expected nothing due immediately after a retryable append, got %v", due)
	}
	due = d.Due(fixed.Add(2 * time.Second))
	if len(due) != 1 {
		t.Fatalf("expected the entry to become due after its backoff elapses, got %v", due)
	}
}

func TestAppendTerminalParksAtMaxAttempts(t *testing.T) {
	cfg := testConfig()
	d := New(storage.NewMemoryAdapter(), cfg, nil, nil)
	env := signal.RawEnvelope{Payload: []byte("x")}
	if err := d.Append(context.Background(), env, 0, signalerr.KindUnparseable, errors.New("bad json")); err != nil {
		t.Fatalf("append: %v", err)
	}
	// A terminal error is parked at max_attempts and never becomes due.
	due := d.Due(time.Now().Add(24 * time.Hour))
	if len(due) != 0 {
		t.Fatalf("expected a terminal entry to never become due, got %v", due)
	}
	if d.Backlog() != 1 {
		t.Fatalf("expected the terminal entry to remain in the backlog for introspection, got %d", d.Backlog())
	}
}

func TestReenqueueMovesEntryBackToQueueAndDeletesRecord(t *testing.T) {
	store := storage.NewMemoryAdapter()
	d := New(store, testConfig(), nil, nil)
	fixed := time.Now()
	d.now = func() time.Time { return fixed }

	env := signal.RawEnvelope{Payload: []byte("retry-me")}
	if err := d.Append(context.Background(), env, 1, signalerr.KindNetwork, errors.New("timeout")); err != nil {
		t.Fatalf("append: %v", err)
	}
	ids := d.Due(fixed.Add(time.Hour))
	if len(ids) != 1 {
		t.Fatalf("expected one due entry, got %v", ids)
	}

	q := queue.New(10, config.BackpressureBlock, nil, nil)
	if err := d.Reenqueue(context.Background(), ids[0], q); err != nil {
		t.Fatalf("reenqueue: %v", err)
	}
	if d.Backlog() != 0 {
		t.Fatalf("expected backlog to be empty after reenqueue, got %d", d.Backlog())
	}
	got, _, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if string(got.Envelope.Payload) != "retry-me" || got.AttemptCount != 2 {
		t.Fatalf("expected the reenqueued item to carry its attempt count forward, got %+v", got)
	}
}

func TestLoadRehydratesFromStorage(t *testing.T) {
	store := storage.NewMemoryAdapter()
	first := New(store, testConfig(), nil, nil)
	fixed := time.Now()
	first.now = func() time.Time { return fixed }
	env := signal.RawEnvelope{Payload: []byte("x")}
	_ = first.Append(context.Background(), env, 0, signalerr.KindNetwork, errors.New("e"))

	second := New(store, testConfig(), nil, nil)
	if err := second.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if second.Backlog() != 1 {
		t.Fatalf("expected the rehydrated DLQ to see 1 entry, got %d", second.Backlog())
	}
}
