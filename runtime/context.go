// Package runtime bundles the pieces a program actually needs to run
// tasks — a thread pool, a default engine, and a timer service — into one
// bounded-lifetime struct, replacing the process-wide singletons
// (AIThreadPool, AIEngine, the resolver, the event loop) the original
// relied on. Construct one Context per program (or per test), pass it by
// reference to whatever needs a default queue, and Close it on shutdown.
package runtime

import (
	"context"
	"time"

	"github.com/carlowood/taskrt/engine"
	"github.com/carlowood/taskrt/internal/rtlog"
	"github.com/carlowood/taskrt/pool"
	"github.com/carlowood/taskrt/timer"
)

// Option configures a Context at construction.
type Option func(*config)

type config struct {
	logger          *rtlog.Logger
	workers         int
	queueCap        int
	intervals       timer.IntervalTable
	maxStepDuration time.Duration
}

// WithLogger attaches a structured logger shared by the pool, timer
// service, and engine.
func WithLogger(l *rtlog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithWorkers sets the thread pool's worker goroutine count. Default 1.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithDefaultQueueCapacity sets the capacity of the Context's single
// default priority queue. Default 1024.
func WithDefaultQueueCapacity(n int) Option {
	return func(c *config) { c.queueCap = n }
}

// WithIntervalTable overrides the timer service's fixed interval table.
// Default is a handful of common polling intervals.
func WithIntervalTable(table timer.IntervalTable) Option {
	return func(c *config) { c.intervals = table }
}

// WithMaxStepDuration caps the engine's per-pass wall-clock budget.
func WithMaxStepDuration(d time.Duration) Option {
	return func(c *config) { c.maxStepDuration = d }
}

// Context bundles one Pool, one default Engine, and one timer Service.
// All three are constructed together and share the same logger, so a
// program need only ever construct a single Context.
type Context struct {
	Pool   *pool.Pool
	Engine *engine.Engine
	Timer  *timer.Service

	// DefaultQueue is the Context's single Pool priority queue, registered
	// at construction for callers that don't need multiple priorities.
	DefaultQueue pool.QueueID

	cancel context.CancelFunc
	done   chan error
}

// A small fixed ladder of common polling intervals, grounded on the
// teacher's timer-example granularities (eventloop/examples/03_timers).
var defaultIntervalTable = timer.IntervalTable{
	10 * time.Millisecond, 100 * time.Millisecond, 1000 * time.Millisecond,
}

// New constructs a Context: a Pool with the configured worker count, a
// default priority queue on it, a timer Service over the configured
// interval table posting onto that pool, and an Engine. The Engine's
// Mainloop is started immediately on a new goroutine, driven by ctx;
// call Close to stop it.
func New(ctx context.Context, opts ...Option) (*Context, error) {
	cfg := &config{workers: 1, queueCap: 1024, intervals: defaultIntervalTable}
	for _, opt := range opts {
		opt(cfg)
	}

	var poolOpts []pool.Option
	if cfg.logger != nil {
		poolOpts = append(poolOpts, pool.WithLogger(cfg.logger))
	}
	p := pool.New(cfg.workers, poolOpts...)
	q := p.NewQueue(cfg.queueCap, 0)

	ts, err := timer.New(cfg.intervals, p, timerOpts(cfg)...)
	if err != nil {
		p.Close()
		return nil, err
	}

	var engineOpts []engine.Option
	if cfg.logger != nil {
		engineOpts = append(engineOpts, engine.WithLogger(cfg.logger))
	}
	if cfg.maxStepDuration > 0 {
		engineOpts = append(engineOpts, engine.WithMaxStepDuration(cfg.maxStepDuration))
	}
	e := engine.New(engineOpts...)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- e.Mainloop(runCtx) }()

	return &Context{
		Pool:         p,
		Engine:       e,
		Timer:        ts,
		DefaultQueue: q,
		cancel:       cancel,
		done:         done,
	}, nil
}

func timerOpts(cfg *config) []timer.Option {
	if cfg.logger != nil {
		return []timer.Option{timer.WithLogger(cfg.logger)}
	}
	return nil
}

// Close stops the Context's Engine mainloop, the timer service, and drains
// and stops the thread pool, in that order: timers must stop posting
// before the pool they post onto is closed, and the engine must stop
// before either (a terminating engine task may still be submitting to the
// pool via a Queue handler).
func (c *Context) Close() {
	c.cancel()
	<-c.done
	c.Timer.Close()
	c.Pool.Close()
}
