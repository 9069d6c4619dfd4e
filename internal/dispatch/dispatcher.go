package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/zep-us/httpjobs/internal/metrics"
	"github.com/zep-us/httpjobs/internal/request"
	"github.com/zep-us/httpjobs/internal/transport"
	"github.com/zep-us/httpjobs/internal/worker"
	"github.com/zep-us/httpjobs/pkg/logger"
)

// Strategy names an execution strategy
type Strategy string

const (
	StrategyCooperative Strategy = "async"
	StrategyThreaded    Strategy = "bg"
)

// Defaults applied by New
const (
	DefaultPoolSize      = 4
	DefaultShutdownGrace = 5 * time.Second
)

const cancelledBody = "cancelled: dispatcher shut down"

// Config configures a Dispatcher
type Config struct {
	Strategy Strategy
	// Capacity bounds outstanding jobs: submitted and not yet collected by Poll
	Capacity int
	// PoolSize is the threaded worker count, 0 means DefaultPoolSize
	PoolSize int
	// BlockingTick makes the cooperative strategy run each job inside the polling call
	// instead of on a helper goroutine
	BlockingTick bool
	// ShutdownGrace is how long Shutdown waits for outstanding work before cancelling it,
	// 0 means DefaultShutdownGrace. Pass Shutdown a done context to cancel at once.
	ShutdownGrace time.Duration
}

func (c *Config) normalize() error {
	switch c.Strategy {
	case StrategyCooperative, StrategyThreaded:
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, c.Strategy)
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("%w: pool size must not be negative, got %d", ErrInvalidConfig, c.PoolSize)
	}
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	return nil
}

// executor is the part of a strategy that moves jobs from pending to terminal
type executor interface {
	// enqueue hands a freshly added pending job to the strategy
	enqueue(id ID) error
	// tick advances caller-driven work; called at the start of every Poll
	tick()
	// stop waits up to grace (or ctx) for outstanding work, cancels what remains and
	// returns once no strategy goroutine is left. It reports whether everything drained in time.
	stop(ctx context.Context, grace time.Duration) bool
}

// Dispatcher accepts request specs, runs them through a Transport and queues their results
type Dispatcher struct {
	cfg       Config
	table     *Table
	transport Transport
	exec      executor
	stopped   *atomic.Bool
	log       *logger.Logger

	// admit makes Add+enqueue atomic with respect to Shutdown closing the table
	admit sync.RWMutex

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a dispatcher and starts its strategy
func New(cfg Config, tr Transport) (*Dispatcher, error) {
	if tr == nil {
		return nil, fmt.Errorf("%w: transport is nil", ErrInvalidConfig)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	d := &Dispatcher{
		cfg:       cfg,
		table:     NewTable(cfg.Capacity),
		transport: tr,
		stopped:   atomic.NewBool(false),
		log:       logger.Named("dispatch:" + string(cfg.Strategy)),
	}

	switch cfg.Strategy {
	case StrategyCooperative:
		d.exec = newCooperative(d, cfg.BlockingTick)
		d.log.Info("Dispatcher ready: capacity=%d, blockingTick=%t", cfg.Capacity, cfg.BlockingTick)
	case StrategyThreaded:
		d.exec = newThreaded(d, cfg.PoolSize, cfg.Capacity, cfg.ShutdownGrace)
		d.log.Info("Dispatcher ready: capacity=%d, workers=%d", cfg.Capacity, cfg.PoolSize)
	}
	return d, nil
}

// Strategy returns the dispatcher's execution strategy
func (d *Dispatcher) Strategy() Strategy {
	return d.cfg.Strategy
}

// Submit validates spec, stores a copy of it as a pending job and returns the job's ID.
// It never blocks. On error the ID is NoID.
func (d *Dispatcher) Submit(spec *request.Spec) (ID, error) {
	strategy := string(d.cfg.Strategy)

	if d.stopped.Load() {
		metrics.JobsRejectedCounter.WithLabelValues(strategy, "shutdown").Inc()
		return NoID, ErrShutdown
	}
	if spec == nil {
		metrics.JobsRejectedCounter.WithLabelValues(strategy, "invalid").Inc()
		return NoID, fmt.Errorf("%w: nil spec", ErrInvalidSpec)
	}
	if err := spec.Validate(); err != nil {
		metrics.JobsRejectedCounter.WithLabelValues(strategy, "invalid").Inc()
		return NoID, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}

	d.admit.RLock()
	defer d.admit.RUnlock()

	id, err := d.table.Add(spec.Clone())
	if err != nil {
		reason := "capacity"
		if errors.Is(err, ErrShutdown) {
			reason = "shutdown"
		}
		metrics.JobsRejectedCounter.WithLabelValues(strategy, reason).Inc()
		d.log.Debug("Submission rejected: %v", err)
		return NoID, err
	}
	metrics.JobsOutstandingGauge.WithLabelValues(strategy).Inc()

	// Shutdown cannot start while admit is held, so the job is still pending here
	if err := d.exec.enqueue(id); err != nil {
		d.table.Remove(id)
		metrics.JobsOutstandingGauge.WithLabelValues(strategy).Dec()
		d.log.Error("Job %d could not be queued: %v", id, err)
		if errors.Is(err, worker.ErrPoolStopped) {
			metrics.JobsRejectedCounter.WithLabelValues(strategy, "shutdown").Inc()
			return NoID, fmt.Errorf("%w: %v", ErrShutdown, err)
		}
		metrics.JobsRejectedCounter.WithLabelValues(strategy, "capacity").Inc()
		return NoID, fmt.Errorf("%w: %v", ErrCapacityExceeded, err)
	}

	metrics.JobsSubmittedCounter.WithLabelValues(strategy).Inc()
	d.log.Debug("Job %d submitted: %s %s", id, spec.EffectiveMethod(), spec.URL)
	return id, nil
}

// Poll advances caller-driven work, then returns the oldest completed result if there is one.
// It never blocks on I/O. A returned result is removed from the dispatcher.
func (d *Dispatcher) Poll() (Result, bool) {
	d.exec.tick()

	res, ok := d.table.Collect()
	if ok {
		metrics.JobsOutstandingGauge.WithLabelValues(string(d.cfg.Strategy)).Dec()
	}
	return res, ok
}

// Shutdown stops accepting jobs and waits up to the configured grace period, or until ctx is done,
// for outstanding work. Work still running after that is cancelled, and every job that did not
// finish is failed with transport.CodeCancelled. Results stay collectible through Poll.
// Shutdown returns ctx's error if ctx cut the wait short. Later calls return the first call's error.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.shutdownOnce.Do(func() {
		// waits for in-progress submissions; later ones see the closed table
		d.admit.Lock()
		d.stopped.Store(true)
		d.table.Close()
		d.admit.Unlock()

		start := time.Now()
		d.log.Info("Shutting down: %d jobs outstanding, grace %v", d.table.Stats().Outstanding, d.cfg.ShutdownGrace)

		drained := d.exec.stop(ctx, d.cfg.ShutdownGrace)

		n := d.table.CancelOutstanding(transport.CodeCancelled, cancelledBody)
		if n > 0 {
			metrics.JobsCompletedCounter.WithLabelValues(string(d.cfg.Strategy), "cancelled").Add(float64(n))
		}
		if !drained || n > 0 {
			d.log.Warn("Shutdown cancelled outstanding work: %d pending jobs failed", n)
		}
		d.log.Info("Shutdown complete in %v", time.Since(start))

		if !drained {
			d.shutdownErr = ctx.Err()
		}
	})
	return d.shutdownErr
}

// Stats returns current job counters
func (d *Dispatcher) Stats() Stats {
	s := d.table.Stats()
	s.Strategy = d.cfg.Strategy
	return s
}

// Job returns a snapshot of a job that has not been collected yet
func (d *Dispatcher) Job(id ID) (Job, bool) {
	return d.table.Get(id)
}

// execute runs one transport call and converts its outcome
func (d *Dispatcher) execute(ctx context.Context, id ID, spec *request.Spec) Result {
	strategy := string(d.cfg.Strategy)
	metrics.JobsRunningGauge.WithLabelValues(strategy).Inc()
	defer metrics.JobsRunningGauge.WithLabelValues(strategy).Dec()

	start := time.Now()
	resp, err := d.transport.Execute(ctx, spec)
	elapsed := time.Since(start)
	metrics.TransportDurationHistogram.WithLabelValues(strategy).Observe(elapsed.Seconds())

	return ResultFrom(id, resp, err, elapsed)
}

// finish records res for a running job
func (d *Dispatcher) finish(id ID, res Result) {
	state, ok := d.table.Complete(id, res)
	if !ok {
		return
	}

	outcome := "done"
	switch {
	case res.Code == transport.CodeCancelled:
		outcome = "cancelled"
	case state == StateFailed:
		outcome = "failed"
	}
	metrics.JobsCompletedCounter.WithLabelValues(string(d.cfg.Strategy), outcome).Inc()
	d.log.Debug("Job %d %s (code=%d) in %v", id, state, res.Code, res.Duration)
}
