// Package workerpool implements the fixed-size worker pool: dequeue,
// parse, route, dispatch, and DLQ routing on failure.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Ap3pp3rs94/signalbot/internal/dlq"
	"github.com/Ap3pp3rs94/signalbot/internal/handlerctx"
	"github.com/Ap3pp3rs94/signalbot/internal/lock"
	"github.com/Ap3pp3rs94/signalbot/internal/metrics"
	"github.com/Ap3pp3rs94/signalbot/internal/parser"
	"github.com/Ap3pp3rs94/signalbot/internal/queue"
	"github.com/Ap3pp3rs94/signalbot/internal/router"
	"github.com/Ap3pp3rs94/signalbot/internal/signalerr"
	"github.com/Ap3pp3rs94/signalbot/internal/telemetry"
)

// Deps bundles everything a worker needs per dequeued item.
type Deps struct {
	Queue         *queue.Queue
	Router        *router.Router
	Gateway       *handlerctx.Gateway
	Locks         lock.Manager
	DLQ           *dlq.DLQ
	Metrics       *metrics.Registry
	Log           *telemetry.Logger
	HandlerDeadline time.Duration // 0 means no deadline

	// OnFatal is invoked for Terminal.Auth/Terminal.Config errors, which
	// bubble up to trigger Application shutdown. May be nil.
	OnFatal func(error)
}

// Pool runs exactly Size long-lived worker goroutines between Start and
// Stop.
type Pool struct {
	deps Deps
	size int

	wg       sync.WaitGroup
	stopping chan struct{}
}

func New(deps Deps, size int) *Pool {
	return &Pool{deps: deps, size: size, stopping: make(chan struct{})}
}

// Start launches the worker goroutines. ctx cancellation begins shutdown;
// Stop additionally waits for in-flight items up to grace.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}
}

// Stop signals workers to refuse new dequeues and waits up to grace for
// in-flight items to finish.
func (p *Pool) Stop(grace time.Duration) {
	close(p.stopping)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
	}
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.deps.Log.With(map[string]any{"worker_id": id})
	for {
		select {
		case <-p.stopping:
			return
		case <-ctx.Done():
			return
		default:
		}

		item, latency, err := p.deps.Queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return
			}
			continue
		}
		_ = latency // already recorded onto the histogram by Queue.Dequeue
		p.handle(ctx, item, log)
	}
}

func (p *Pool) handle(ctx context.Context, item queue.Item, log *telemetry.Logger) {
	msg, err := parser.Parse(item.Envelope)
	if err != nil {
		p.toDLQ(ctx, item, signalerr.KindUnparseable, err, log)
		return
	}

	cmd := p.deps.Router.Match(msg)
	if cmd == nil {
		return // no trigger matched: silently ignored
	}

	hlog := log.With(map[string]any{
		"source":       msg.Source,
		"message_id":   msg.Timestamp,
		"command_name": cmd.Name,
	})

	callCtx := ctx
	var cancel context.CancelFunc
	if p.deps.HandlerDeadline > 0 {
		callCtx, cancel = context.WithTimeout(ctx, p.deps.HandlerDeadline)
		defer cancel()
	}

	hctx := handlerctx.New(callCtx, msg, p.deps.Gateway, p.deps.Locks, hlog)
	err = p.deps.Router.Dispatch(hctx, cmd)
	if err != nil {
		kind := signalerr.KindOf(err)
		hlog.Error("handler_failed", map[string]any{"error_kind": string(kind), "error": err.Error()})
		p.toDLQ(ctx, item, kind, err, log)
		return
	}

	if p.deps.Metrics != nil {
		p.deps.Metrics.CommandInvocations.WithLabelValues(cmd.Name).Inc()
	}
}

func (p *Pool) toDLQ(ctx context.Context, item queue.Item, kind signalerr.Kind, cause error, log *telemetry.Logger) {
	if p.deps.DLQ == nil {
		return
	}
	if err := p.deps.DLQ.Append(ctx, item.Envelope, item.AttemptCount, kind, cause); err != nil {
		log.Error("dlq_append_failed", map[string]any{"error": err.Error()})
	}
	if kind.Fatal() {
		log.Error("fatal_error", map[string]any{"error_kind": string(kind), "error": fmt.Sprint(cause)})
		if p.deps.OnFatal != nil {
			p.deps.OnFatal(cause)
		}
	}
}
