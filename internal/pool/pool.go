package pool

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("pool: closed")

// ErrAcquireTimeout is returned when no capacity frees up in time.
var ErrAcquireTimeout = errors.New("pool: acquire timed out")

// Resource is anything the pool can hold and recycle.
type Resource interface {
	// ID identifies the resource in logs.
	ID() string
	// Healthy reports whether the resource can be reused.
	Healthy() bool
	Close() error
}

// Options tunes the pool. Zero values fall back to defaults.
type Options struct {
	MaxConns            int
	AcquireTimeout      time.Duration
	IdleTimeout         time.Duration
	MaxLifetime         time.Duration
	MaintenanceInterval time.Duration
}

func (o *Options) withDefaults() {
	if o.MaxConns <= 0 {
		o.MaxConns = 10
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 5 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	if o.MaxLifetime <= 0 {
		o.MaxLifetime = time.Hour
	}
	if o.MaintenanceInterval <= 0 {
		o.MaintenanceInterval = 30 * time.Second
	}
}

type pooled[T Resource] struct {
	res       T
	createdAt time.Time
	idleSince time.Time
}

// Pool is a generic bounded resource pool. Capacity is enforced with a
// channel semaphore; a background goroutine evicts idle and overage
// resources on an interval so the pool shrinks back down after bursts.
type Pool[T Resource] struct {
	opts    Options
	permits chan struct{}

	mu     sync.Mutex
	idle   []pooled[T]
	closed bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// New starts the maintenance goroutine immediately.
func New[T Resource](opts Options) *Pool[T] {
	opts.withDefaults()
	p := &Pool[T]{
		opts:    opts,
		permits: make(chan struct{}, opts.MaxConns),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go p.maintain()
	return p
}

// Acquire returns a pooled resource, reusing a healthy idle one when
// available and otherwise invoking factory. It blocks up to AcquireTimeout
// for capacity; the caller's context can end the wait earlier.
func (p *Pool[T]) Acquire(ctx context.Context, factory func(ctx context.Context) (T, error)) (*Conn[T], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.opts.AcquireTimeout)
	defer timer.Stop()
	select {
	case p.permits <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.stop:
		return nil, ErrClosed
	case <-timer.C:
		return nil, ErrAcquireTimeout
	}

	// Holding a permit from here on; every exit path must release or hand
	// it to the Conn.
	for {
		item, ok := p.popIdle()
		if !ok {
			break
		}
		if item.res.Healthy() && !p.expired(item) {
			return &Conn[T]{pool: p, res: item.res, createdAt: item.createdAt}, nil
		}
		_ = item.res.Close()
	}

	res, err := factory(ctx)
	if err != nil {
		<-p.permits
		return nil, err
	}
	return &Conn[T]{pool: p, res: res, createdAt: p.now()}, nil
}

// Close rejects further acquires, evicts all idle resources, and stops the
// maintenance goroutine. Resources currently checked out are closed by
// their Conn's Release or Discard.
func (p *Pool[T]) Close() error {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done

	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, it := range idle {
		_ = it.res.Close()
	}
	return nil
}

// IdleLen reports how many resources are parked, for observability.
func (p *Pool[T]) IdleLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

func (p *Pool[T]) popIdle() (pooled[T], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) == 0 {
		return pooled[T]{}, false
	}
	it := p.idle[0]
	p.idle = p.idle[1:]
	return it, true
}

func (p *Pool[T]) expired(it pooled[T]) bool {
	now := p.now()
	if now.Sub(it.createdAt) >= p.opts.MaxLifetime {
		return true
	}
	return !it.idleSince.IsZero() && now.Sub(it.idleSince) >= p.opts.IdleTimeout
}

func (p *Pool[T]) release(res T, createdAt time.Time) {
	defer func() { <-p.permits }()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = res.Close()
		return
	}
	p.idle = append(p.idle, pooled[T]{res: res, createdAt: createdAt, idleSince: p.now()})
	p.mu.Unlock()
}

func (p *Pool[T]) maintain() {
	defer close(p.done)
	ticker := time.NewTicker(p.opts.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.evictStale()
		}
	}
}

func (p *Pool[T]) evictStale() {
	p.mu.Lock()
	var keep []pooled[T]
	var drop []pooled[T]
	for _, it := range p.idle {
		if p.expired(it) || !it.res.Healthy() {
			drop = append(drop, it)
		} else {
			keep = append(keep, it)
		}
	}
	p.idle = keep
	p.mu.Unlock()

	for _, it := range drop {
		_ = it.res.Close()
	}
}

// Conn is a checked-out resource. Exactly one of Release or Discard must be
// called; both are idempotent.
type Conn[T Resource] struct {
	pool      *Pool[T]
	res       T
	createdAt time.Time
	done      bool
}

// Get returns the underlying resource.
func (c *Conn[T]) Get() T { return c.res }

// Release parks the resource for reuse.
func (c *Conn[T]) Release() {
	if c.done {
		return
	}
	c.done = true
	c.pool.release(c.res, c.createdAt)
}

// Discard closes the resource instead of recycling it, freeing its slot.
// Use it when the resource failed mid-use.
func (c *Conn[T]) Discard() {
	if c.done {
		return
	}
	c.done = true
	_ = c.res.Close()
	<-c.pool.permits
}
