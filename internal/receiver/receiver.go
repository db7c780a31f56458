// Package receiver maintains a persistent websocket connection to the
// Signal gateway, reconnects with bounded exponential backoff and jitter,
// and hands every inbound frame to the Queue as a RawEnvelope.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ap3pp3rs94/signalbot/internal/metrics"
	"github.com/Ap3pp3rs94/signalbot/internal/queue"
	"github.com/Ap3pp3rs94/signalbot/internal/signal"
	"github.com/Ap3pp3rs94/signalbot/internal/signalerr"
	"github.com/Ap3pp3rs94/signalbot/internal/telemetry"
)

// Dialer abstracts gorilla/websocket's dial entry point so tests can
// substitute an in-memory connection.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Conn is the subset of *websocket.Conn the Receiver needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type gorillaDialer struct{}

func (gorillaDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return nil, &handshakeError{statusCode: resp.StatusCode, cause: err}
		}
		return nil, err
	}
	return conn, nil
}

// handshakeError carries the HTTP status the gateway rejected the upgrade
// with, since gorilla/websocket returns the response separately from the
// sentinel ErrBadHandshake rather than embedding it.
type handshakeError struct {
	statusCode int
	cause      error
}

func (e *handshakeError) Error() string { return e.cause.Error() }
func (e *handshakeError) Unwrap() error { return e.cause }

// Receiver owns the websocket connection lifecycle.
type Receiver struct {
	serviceURL string
	phone      string
	dialer     Dialer
	queue      *queue.Queue
	metrics    *metrics.Registry
	log        *telemetry.Logger

	backoffStart time.Duration
	backoffMax   time.Duration
	backoffMul   float64

	onFatal func(error)
}

// Options configures reconnect backoff; zero values take the runtime
// defaults (start 1s, cap 30s, multiplier 2, jitter +-25%).
type Options struct {
	BackoffStart time.Duration
	BackoffMax   time.Duration
	BackoffMul   float64
	OnFatal      func(error)
}

func New(serviceURL, phone string, q *queue.Queue, reg *metrics.Registry, log *telemetry.Logger, opt Options) (*Receiver, error) {
	if _, err := url.Parse(serviceURL); err != nil {
		return nil, signalerr.New(signalerr.KindConfig, "", fmt.Errorf("invalid service_url: %w", err))
	}
	if opt.BackoffStart == 0 {
		opt.BackoffStart = time.Second
	}
	if opt.BackoffMax == 0 {
		opt.BackoffMax = 30 * time.Second
	}
	if opt.BackoffMul == 0 {
		opt.BackoffMul = 2
	}
	return &Receiver{
		serviceURL:   serviceURL,
		phone:        phone,
		dialer:       gorillaDialer{},
		queue:        q,
		metrics:      reg,
		log:          log,
		backoffStart: opt.BackoffStart,
		backoffMax:   opt.BackoffMax,
		backoffMul:   opt.BackoffMul,
		onFatal:      opt.OnFatal,
	}, nil
}

// WithDialer overrides the dialer, used by tests to inject an in-memory
// connection.
func (r *Receiver) WithDialer(d Dialer) *Receiver {
	r.dialer = d
	return r
}

// Run connects and reads frames until ctx is cancelled, reconnecting with
// backoff on every transport error. It returns only when ctx is done or a
// fatal (auth/config) condition is hit.
func (r *Receiver) Run(ctx context.Context) {
	endpoint := r.endpointURL()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := r.dialer.Dial(ctx, endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if isAuthRejection(err) {
				r.log.Error("receiver_auth_rejected", map[string]any{"error": err.Error()})
				if r.onFatal != nil {
					r.onFatal(signalerr.New(signalerr.KindAuth, "", err))
				}
				return
			}
			r.log.Warn("receiver_dial_failed", map[string]any{"attempt": attempt, "error": err.Error()})
			if !r.sleepBackoff(ctx, attempt) {
				return
			}
			attempt++
			continue
		}
		attempt = 0
		r.log.Info("receiver_connected", nil)
		err = r.readLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		r.log.Warn("receiver_disconnected", map[string]any{"error": errString(err)})
		if !r.sleepBackoff(ctx, attempt) {
			return
		}
		attempt++
	}
}

func (r *Receiver) endpointURL() string {
	return fmt.Sprintf("%s/v1/receive/%s", r.serviceURL, r.phone)
}

func (r *Receiver) readLoop(ctx context.Context, conn Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		env := signal.RawEnvelope{Payload: payload, EnqueuedAt: time.Now()}
		if err := r.queue.Enqueue(ctx, queue.Item{Envelope: env}); err != nil {
			if errors.Is(err, queue.ErrRejected) {
				r.log.Warn("receiver_enqueue_rejected", nil)
				continue
			}
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return err
			}
			r.log.Error("receiver_enqueue_failed", map[string]any{"error": err.Error()})
		}
	}
}

// sleepBackoff waits the backoff duration for attempt, returning false if
// ctx was cancelled while waiting.
func (r *Receiver) sleepBackoff(ctx context.Context, attempt int) bool {
	d := r.backoffDuration(attempt)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (r *Receiver) backoffDuration(attempt int) time.Duration {
	base := float64(r.backoffStart)
	for i := 0; i < attempt; i++ {
		base *= r.backoffMul
	}
	if base > float64(r.backoffMax) {
		base = float64(r.backoffMax)
	}
	jitter := 1 + (rand.Float64()*2-1)*0.25 // +-25%
	return time.Duration(base * jitter)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// isAuthRejection reports whether a dial failure was the gateway refusing
// the handshake with 401/403, which is treated as a terminal auth failure.
// Retryable transport errors (connection refused, timeout, DNS) fall through.
func isAuthRejection(err error) bool {
	var herr *handshakeError
	if !errors.As(err, &herr) {
		return false
	}
	return herr.statusCode == 401 || herr.statusCode == 403
}
