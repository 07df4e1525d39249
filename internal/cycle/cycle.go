// Package cycle runs periodic batch jobs: a ticker loop with explicit
// Start/Stop, a re-entrancy guard and an optional cross-replica lease.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/reminders/internal/metrics"
)

// ErrInProgress is returned when a cycle is asked to run while one is
// already running, in this process or, with a lease, in another replica.
var ErrInProgress = errors.New("cycle already in progress")

// ErrLeaseHeld is the replica-level flavour of ErrInProgress.
var ErrLeaseHeld = fmt.Errorf("%w: lease held by another replica", ErrInProgress)

// Lease is a cluster-wide lock, e.g. redis.Lease.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Renewer is a Lease whose hold can be extended while a cycle runs.
// Renew reports false once the lease belongs to someone else.
type Renewer interface {
	Lease
	Renew(ctx context.Context) (bool, error)
	TTL() time.Duration
}

// Guard lets at most one cycle run at a time.
type Guard struct {
	name    string
	lease   Lease
	logger  *zap.Logger
	running atomic.Bool
}

// NewGuard returns a guard for the named cycle. lease may be nil.
func NewGuard(name string, lease Lease, logger *zap.Logger) *Guard {
	return &Guard{name: name, lease: lease, logger: logger}
}

// Running reports whether a cycle currently holds the guard.
func (g *Guard) Running() bool {
	return g.running.Load()
}

// Run calls fn unless another cycle is running, in which case it returns
// ErrInProgress without waiting.
func (g *Guard) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if !g.running.CompareAndSwap(false, true) {
		metrics.RecordCycleSkipped(g.name, "local")
		return ErrInProgress
	}
	defer g.running.Store(false)

	if g.lease != nil {
		ok, err := g.lease.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire %s lease: %w", g.name, err)
		}
		if !ok {
			metrics.RecordCycleSkipped(g.name, "lease")
			return ErrLeaseHeld
		}
		defer func() {
			if err := g.lease.Release(context.WithoutCancel(ctx)); err != nil {
				g.logger.Warn("failed to release cycle lease",
					zap.String("cycle", g.name),
					zap.Error(err),
				)
			}
		}()

		if r, ok := g.lease.(Renewer); ok && r.TTL() > 0 {
			var stop func()
			ctx, stop = g.keepAlive(ctx, r)
			defer stop()
		}
	}

	return fn(ctx)
}

// keepAlive renews the lease every third of its TTL until stop is called.
// Losing the lease cancels the returned context so the cycle winds down
// before another replica's run overlaps it.
func (g *Guard) keepAlive(ctx context.Context, r Renewer) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.TTL() / 3)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := r.Renew(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					g.logger.Warn("failed to renew cycle lease",
						zap.String("cycle", g.name),
						zap.Error(err),
					)
					continue
				}
				if !ok {
					g.logger.Error("cycle lease lost, stopping run",
						zap.String("cycle", g.name),
					)
					metrics.RecordCycleSkipped(g.name, "lease_lost")
					cancel()
					return
				}
			}
		}
	}()

	return ctx, func() {
		cancel()
		<-done
	}
}

// Runner calls fn on every tick of interval until stopped.
type Runner struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRunner(name string, interval time.Duration, fn func(ctx context.Context), logger *zap.Logger) *Runner {
	return &Runner{name: name, interval: interval, fn: fn, logger: logger}
}

// Start launches the ticker goroutine. Calling Start on a running Runner
// is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.loop(ctx, r.done)
}

// Stop cancels the loop and waits for an in-flight tick to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("cycle runner started",
		zap.String("cycle", r.name),
		zap.Duration("interval", r.interval),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("cycle runner stopping", zap.String("cycle", r.name))
			return
		case <-ticker.C:
			r.fn(ctx)
		}
	}
}
