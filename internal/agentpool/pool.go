package agentpool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tarsy-labs/agentrun/internal/config"
	"github.com/tarsy-labs/agentrun/internal/runerr"
)

type pooledInstance struct {
	instance  Instance
	uses      int
	createdAt time.Time
}

type waiter struct {
	ch chan *pooledInstance
}

// Pool manages leasable instances of one named agent, honoring the
// concurrency, warm-pool, and retirement policy from the agent's
// AgentPoolConfig. The reservation pattern (increment the in-use count
// before releasing the lock, decrement on every exit path) mirrors the
// TOCTOU-safe slot accounting used for sub-agent dispatch in the retrieval
// pack's orchestrator runner.
type Pool struct {
	name    string
	cfg     config.AgentPoolConfig
	factory Factory
	log     *slog.Logger

	mu      sync.Mutex
	idle    []*pooledInstance
	waiters []*waiter
	active  int // instances currently leased out
	alive   int // active + len(idle): total instances in existence
	closed  bool
}

// New constructs a Pool for one agent name. It does not create any
// instances; call Start to eagerly fill the warm pool.
func New(name string, cfg config.AgentPoolConfig, factory Factory, log *slog.Logger) *Pool {
	return &Pool{name: name, cfg: cfg, factory: factory, log: log}
}

// Start eagerly creates cfg.MinIdle idle instances (the warm pool). It is
// safe to call once at startup; creation failures are logged and do not
// prevent the pool from serving lazy leases later.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.MinIdle; i++ {
		inst, err := p.factory(ctx, p.name)
		if err != nil {
			p.log.Warn("agent pool warm-up failed", "agent", p.name, "error", err)
			continue
		}
		pi := &pooledInstance{instance: inst, createdAt: time.Now()}
		p.mu.Lock()
		p.idle = append(p.idle, pi)
		p.alive++
		p.mu.Unlock()
	}
}

// Lease struct is the handle callers hold while using a leased instance.
type Lease struct {
	pool *Pool
	pi   *pooledInstance
}

// Instance returns the underlying leased Instance.
func (l *Lease) Instance() Instance { return l.pi.instance }

// Release returns the lease to its pool. healthy should be false if the
// caller observed the instance misbehave, forcing retirement regardless of
// the configured use/age limits.
func (l *Lease) Release(healthy bool) { l.pool.release(l.pi, healthy) }

// Acquire leases an idle instance if one exists, lazily creates a new one if
// below MaxConcurrent, or waits (FIFO, up to cfg.LeaseWait if positive, else
// until ctx is done) for one to free up.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, runerr.PoolExhausted("agent pool "+p.name+" is closed", nil)
	}
	if n := len(p.idle); n > 0 {
		pi := p.idle[0]
		p.idle = p.idle[1:]
		p.active++
		p.mu.Unlock()
		if err := pi.instance.HealthCheck(ctx); err != nil {
			p.log.Warn("agent pool retiring instance that failed its health check", "agent", p.name, "error", err)
			p.release(pi, false)
			return p.Acquire(ctx)
		}
		return &Lease{pool: p, pi: pi}, nil
	}
	if p.alive < p.cfg.MaxConcurrent {
		p.alive++
		p.active++
		p.mu.Unlock()
		inst, err := p.factory(ctx, p.name)
		if err != nil {
			p.mu.Lock()
			p.alive--
			p.active--
			p.mu.Unlock()
			return nil, runerr.ProviderError("failed to create agent instance for "+p.name, err)
		}
		return &Lease{pool: p, pi: &pooledInstance{instance: inst, createdAt: time.Now()}}, nil
	}

	w := &waiter{ch: make(chan *pooledInstance, 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	waitCtx := ctx
	if p.cfg.LeaseWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.cfg.LeaseWait)
		defer cancel()
	}

	select {
	case pi := <-w.ch:
		if pi == nil {
			return nil, runerr.PoolExhausted("agent pool "+p.name+" failed to provision a replacement instance", nil)
		}
		return &Lease{pool: p, pi: pi}, nil
	case <-waitCtx.Done():
		p.removeWaiter(w)
		if ctx.Err() != nil {
			return nil, runerr.Cancelled("lease wait for agent pool "+p.name+" cancelled", ctx.Err())
		}
		return nil, runerr.PoolExhausted("timed out waiting for an agent in pool "+p.name, nil)
	}
}

func (p *Pool) removeWaiter(target *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

func (p *Pool) shouldRetire(pi *pooledInstance, healthy bool) bool {
	if !healthy {
		return true
	}
	if p.cfg.MaxUses > 0 && pi.uses >= p.cfg.MaxUses {
		return true
	}
	if p.cfg.MaxAge > 0 && time.Since(pi.createdAt) >= p.cfg.MaxAge {
		return true
	}
	return false
}

func (p *Pool) release(pi *pooledInstance, healthy bool) {
	p.mu.Lock()
	pi.uses++
	retire := p.shouldRetire(pi, healthy) || p.closed
	p.active--

	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		if !retire {
			p.active++
			p.mu.Unlock()
			w.ch <- pi
			return
		}
		p.alive--
		p.mu.Unlock()
		_ = pi.instance.Close()

		fresh, err := p.newInstanceForWaiter()
		if err != nil {
			p.log.Warn("agent pool failed to provision replacement instance", "agent", p.name, "error", err)
			w.ch <- nil
			return
		}
		w.ch <- fresh
		return
	}

	if retire {
		p.alive--
		p.mu.Unlock()
		_ = pi.instance.Close()
		return
	}
	p.idle = append(p.idle, pi)
	p.mu.Unlock()
}

func (p *Pool) newInstanceForWaiter() (*pooledInstance, error) {
	inst, err := p.factory(context.Background(), p.name)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.alive++
	p.active++
	p.mu.Unlock()
	return &pooledInstance{instance: inst, createdAt: time.Now()}, nil
}

// Health reports the current pool occupancy for the health/metrics surface.
type Health struct {
	Name    string
	Active  int
	Idle    int
	Waiting int
}

func (p *Pool) Health() Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Health{Name: p.name, Active: p.active, Idle: len(p.idle), Waiting: len(p.waiters)}
}

// Close retires every idle instance and marks the pool closed to new leases.
// Instances already on lease are retired when their Lease is released.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, pi := range idle {
		_ = pi.instance.Close()
	}
}
