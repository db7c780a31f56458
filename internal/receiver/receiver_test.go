package receiver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Ap3pp3rs94/signalbot/internal/config"
	"github.com/Ap3pp3rs94/signalbot/internal/metrics"
	"github.com/Ap3pp3rs94/signalbot/internal/queue"
	"github.com/Ap3pp3rs94/signalbot/internal/telemetry"
)

type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	idx      int
	closed   bool
	blockErr error
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idx < len(c.frames) {
		f := c.frames[c.idx]
		c.idx++
		return 1, f, nil
	}
	if c.blockErr != nil {
		return 0, nil, c.blockErr
	}
	return 0, nil, errors.New("eof")
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeDialer struct {
	mu      sync.Mutex
	conns   []Conn
	errs    []error
	calls   int
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.calls
	d.calls++
	if idx < len(d.errs) && d.errs[idx] != nil {
		return nil, d.errs[idx]
	}
	if idx < len(d.conns) {
		return d.conns[idx], nil
	}
	return nil, errors.New("no more connections configured")
}

func newReceiver(t *testing.T, d Dialer) (*Receiver, *queue.Queue) {
	t.Helper()
	q := queue.New(10, config.BackpressureBlock, nil, metrics.New())
	r, err := New("ws://localhost:9999", "+15550000", q, metrics.New(), telemetry.New(nil, telemetry.Options{}), Options{
		BackoffStart: time.Millisecond,
		BackoffMax:   5 * time.Millisecond,
		BackoffMul:   2,
	})
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}
	r.WithDialer(d)
	return r, q
}

func TestRunEnqueuesEveryFrame(t *testing.T) {
	conn := &fakeConn{frames: [][]byte{[]byte("one"), []byte("two")}}
	d := &fakeDialer{conns: []Conn{conn}}
	r, q := newReceiver(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	first, _, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	second, _, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if string(first.Envelope.Payload) != "one" || string(second.Envelope.Payload) != "two" {
		t.Fatalf("unexpected payloads: %s, %s", first.Envelope.Payload, second.Envelope.Payload)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after context cancellation")
	}
}

func TestRunReconnectsAfterDialFailure(t *testing.T) {
	conn := &fakeConn{frames: [][]byte{[]byte("ok")}}
	d := &fakeDialer{errs: []error{errors.New("connection refused")}, conns: []Conn{nil, conn}}
	r, q := newReceiver(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	dctx, dcancel := context.WithTimeout(ctx, time.Second)
	defer dcancel()
	item, _, err := q.Dequeue(dctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the receiver to reconnect and enqueue a frame")
	}
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if string(item.Envelope.Payload) != "ok" {
		t.Fatalf("expected frame 'ok', got %s", item.Envelope.Payload)
	}
}

func TestRunStopsOnAuthRejectionWithoutRetrying(t *testing.T) {
	d := &fakeDialer{errs: []error{&handshakeError{statusCode: 401, cause: errors.New("unauthorized")}}}
	r, _ := newReceiver(t, d)

	var fatal error
	var mu sync.Mutex
	r.onFatal = func(err error) {
		mu.Lock()
		fatal = err
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Run to return immediately on auth rejection")
	}

	mu.Lock()
	defer mu.Unlock()
	if fatal == nil {
		t.Fatalf("expected onFatal to be invoked with the auth error")
	}
	d.mu.Lock()
	calls := d.calls
	d.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly one dial attempt on auth rejection, got %d", calls)
	}
}

func TestNewRejectsInvalidServiceURL(t *testing.T) {
	q := queue.New(1, config.BackpressureBlock, nil, nil)
	if _, err := New("://bad-url", "+1", q, nil, telemetry.New(nil, telemetry.Options{}), Options{}); err == nil {
		t.Fatalf("expected New to reject a syntactically invalid service_url")
	}
}
