// Package app composes every component into a runnable Application: a
// single composition function plus a Start()/Stop() handle.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Ap3pp3rs94/signalbot/internal/admin"
	"github.com/Ap3pp3rs94/signalbot/internal/breaker"
	"github.com/Ap3pp3rs94/signalbot/internal/config"
	"github.com/Ap3pp3rs94/signalbot/internal/dlq"
	"github.com/Ap3pp3rs94/signalbot/internal/handlerctx"
	"github.com/Ap3pp3rs94/signalbot/internal/lock"
	"github.com/Ap3pp3rs94/signalbot/internal/metrics"
	"github.com/Ap3pp3rs94/signalbot/internal/queue"
	"github.com/Ap3pp3rs94/signalbot/internal/ratelimit"
	"github.com/Ap3pp3rs94/signalbot/internal/receiver"
	"github.com/Ap3pp3rs94/signalbot/internal/router"
	"github.com/Ap3pp3rs94/signalbot/internal/signal"
	"github.com/Ap3pp3rs94/signalbot/internal/storage"
	"github.com/Ap3pp3rs94/signalbot/internal/telemetry"
	"github.com/Ap3pp3rs94/signalbot/internal/workerpool"
)

var allResources = []string{
	signal.ResourceAccounts, signal.ResourceAttachments, signal.ResourceContacts,
	signal.ResourceDevices, signal.ResourceGeneral, signal.ResourceGroups,
	signal.ResourceIdentities, signal.ResourceMessages, signal.ResourceProfiles,
	signal.ResourceReactions, signal.ResourceReceipts, signal.ResourceSearch,
	signal.ResourceStickerPacks,
}

// Application is the composed runtime. Router is exposed so the embedding
// program can register commands and middleware before Start.
type Application struct {
	Router *router.Router

	cfg     config.Config
	log     *telemetry.Logger
	metrics *metrics.Registry

	store   storage.Adapter
	q       *queue.Queue
	dq      *dlq.DLQ
	limiter *ratelimit.Limiter
	br      *breaker.Breaker
	locks   lock.Manager
	gateway *handlerctx.Gateway
	recv    *receiver.Receiver
	pool    *workerpool.Pool
	admin   *admin.Server

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopOnce sync.Once
	fatalCh  chan error
}

// New composes every component from cfg. REST calls go through restClient;
// pass nil to use the default HTTP client bound to cfg.APIURL.
func New(cfg config.Config, logWriter telemetry.Options, restClient signal.RESTClient) (*Application, error) {
	log := telemetry.New(nil, logWriter)
	reg := metrics.New()

	store, err := storage.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	var durable storage.Adapter
	if cfg.DurableQueueEnabled {
		durable = store
	}
	q := queue.New(cfg.QueueCapacity, cfg.Backpressure, durable, reg)

	dq := dlq.New(store, cfg.DLQ, reg, log)

	limiter := ratelimit.New(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSecond, reg)
	br := breaker.New(breaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		OpenDuration:     cfg.CircuitBreaker.OpenDuration,
		RollingWindow:    cfg.CircuitBreaker.RollingWindow,
	}, reg)

	var locks lock.Manager
	if cfg.Storage == config.StorageKeyValue {
		kv, ok := store.(*storage.KVAdapter)
		if !ok {
			return nil, fmt.Errorf("key_value storage expected for cluster locks")
		}
		locks = lock.NewKVManager(kv.DB())
	} else {
		locks = lock.NewLocalManager()
	}

	if restClient == nil {
		restClient = signal.NewHTTPClient(cfg.APIURL, 30*time.Second)
	}
	gateway := handlerctx.NewGateway(restClient, limiter, br)

	rtr := router.New()

	adminSrv := admin.NewServer(cfg.AdminAddr, reg, q, dq, br, allResources)

	a := &Application{
		Router:  rtr,
		cfg:     cfg,
		log:     log,
		metrics: reg,
		store:   store,
		q:       q,
		dq:      dq,
		limiter: limiter,
		br:      br,
		locks:   locks,
		gateway: gateway,
		admin:   adminSrv,
		fatalCh: make(chan error, 1),
	}

	recv, err := receiver.New(cfg.ServiceURL, cfg.PhoneNumber, q, reg, log, receiver.Options{
		OnFatal: a.reportFatal,
	})
	if err != nil {
		return nil, err
	}
	a.recv = recv

	a.pool = workerpool.New(workerpool.Deps{
		Queue:   q,
		Router:  rtr,
		Gateway: gateway,
		Locks:   locks,
		DLQ:     dq,
		Metrics: reg,
		Log:     log,
		OnFatal: a.reportFatal,
	}, cfg.WorkerPoolSize)

	return a, nil
}

func (a *Application) reportFatal(err error) {
	select {
	case a.fatalCh <- err:
	default:
	}
	if a.cancel != nil {
		a.cancel()
	}
}

// Start brings every component up: rehydrates the queue and DLQ from
// storage, then launches the Receiver, Worker Pool, DLQ scheduler, and
// admin HTTP server. The returned context is cancelled on Stop or on a
// fatal error from any component.
func (a *Application) Start(ctx context.Context) (context.Context, error) {
	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	if err := a.q.Rehydrate(runCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("rehydrate queue: %w", err)
	}
	if err := a.dq.Load(runCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("load dlq: %w", err)
	}

	a.Router.Start()

	a.pool.Start(runCtx)
	go a.recv.Run(runCtx)
	go a.dq.RunScheduler(runCtx, a.q, a.cfg.DLQ.InitialBackoff)
	go func() {
		if err := a.admin.ListenAndServe(); err != nil {
			a.log.Error("admin_server_failed", map[string]any{"error": err.Error()})
		}
	}()

	return runCtx, nil
}

// Stop shuts the runtime down: stops accepting new work, drains the worker
// pool up to the configured grace period, then closes storage.
func (a *Application) Stop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		cancel := a.cancel
		a.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		a.q.Close()
		a.pool.Stop(a.cfg.ShutdownGracePeriod)
		_ = a.admin.Shutdown()
		_ = a.store.Close()
	})
}

// Fatal returns a channel that receives the first fatal (auth/config) error
// reported by any component, if any.
func (a *Application) Fatal() <-chan error {
	return a.fatalCh
}
