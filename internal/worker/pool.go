package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/zep-us/httpjobs/internal/metrics"
	"github.com/zep-us/httpjobs/pkg/logger"
)

// DefaultWorkerCount is used when NewPool is given a non-positive worker count
const DefaultWorkerCount = 4

var (
	// ErrQueueFull is returned by Submit when running plus queued tasks reach capacity
	ErrQueueFull = errors.New("worker pool queue full")
	// ErrPoolStopped is returned by Submit after Stop has been called
	ErrPoolStopped = errors.New("worker pool stopped")
)

// Task is a unit of work run by one worker.
// ctx is cancelled when the pool's shutdown grace period runs out; tasks must return promptly after that.
type Task func(ctx context.Context)

// Pool represents a bounded goroutine worker pool
// Implements a fixed-size pool of workers processing tasks from a buffered channel in FIFO order
type Pool struct {
	workerCount     int
	taskQueue       chan Task
	wg              sync.WaitGroup
	stopOnce        sync.Once
	startOnce       sync.Once
	shutdownTimeout time.Duration // grace period before running tasks are cancelled
	permits         chan struct{} // counts in-flight + queued tasks for deterministic backpressure

	mu      sync.RWMutex // guards stopped against a concurrent close of taskQueue
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	active *atomic.Int32
	log    *logger.Logger
}

// NewPool creates a new worker pool
//
// Parameters:
//   - workerCount: number of worker goroutines (default: 4)
//   - queueSize: buffer capacity for queued tasks (default: workerCount)
//   - shutdownTimeout: how long Stop lets running and queued tasks finish before cancelling them
func NewPool(workerCount int, queueSize int, shutdownTimeout time.Duration) *Pool {
	log := logger.Named("worker")
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
		log.Info("Worker pool size not configured, using default: %d", workerCount)
	}
	if queueSize <= 0 {
		queueSize = workerCount
		log.Info("Task queue size not configured, using default: %d", queueSize)
	}

	log.Debug("Creating worker pool: workers=%d, queueSize=%d, shutdownTimeout=%v", workerCount, queueSize, shutdownTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workerCount:     workerCount,
		taskQueue:       make(chan Task, queueSize),
		shutdownTimeout: shutdownTimeout,
		permits:         make(chan struct{}, queueSize),
		ctx:             ctx,
		cancel:          cancel,
		active:          atomic.NewInt32(0),
		log:             log,
	}
}

// Start spawns all worker goroutines. Safe to call multiple times.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workerCount; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
		p.log.Debug("Worker pool started with %d workers", p.workerCount)
	})
}

// Submit queues task without blocking.
// Returns ErrQueueFull when capacity is exhausted and ErrPoolStopped after Stop.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.permits <- struct{}{}:
		// a permit guarantees buffer space, so this send never blocks
		p.taskQueue <- task
		metrics.QueueDepthGauge.Set(float64(len(p.taskQueue)))
		return nil
	default:
		p.log.Warn("Task queue full: rejecting new task (capacity: %d)", cap(p.permits))
		return fmt.Errorf("%w (capacity: %d)", ErrQueueFull, cap(p.permits))
	}
}

// Stop closes the queue and waits for workers to drain it.
// Tasks still running when the shutdown timeout or ctx expires are cancelled through their context,
// and Stop then waits for every worker to exit. Reports whether the queue drained within the grace period.
// Safe to call multiple times; later calls return true immediately.
func (p *Pool) Stop(ctx context.Context) bool {
	drained := true
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.taskQueue)
		p.mu.Unlock()

		// Start is idempotent; a never-started pool still needs workers to drain what was queued
		p.Start()

		done := make(chan struct{})
		go func() {
			defer close(done)
			p.wg.Wait()
		}()

		grace := time.NewTimer(p.shutdownTimeout)
		defer grace.Stop()

		select {
		case <-done:
			p.log.Debug("Worker pool stopped: all workers finished gracefully")
			p.cancel()
			return
		case <-grace.C:
			p.log.Warn("Worker pool grace period of %v expired: cancelling %d running tasks", p.shutdownTimeout, p.active.Load())
		case <-ctx.Done():
			p.log.Warn("Worker pool stop interrupted: cancelling %d running tasks", p.active.Load())
		}
		drained = false
		p.cancel()
		<-done
	})
	return drained
}

// QueueDepth returns the number of tasks waiting for a worker
func (p *Pool) QueueDepth() int {
	return len(p.taskQueue)
}

// Active returns the number of workers currently running a task
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Workers returns the configured worker count
func (p *Pool) Workers() int {
	return p.workerCount
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for task := range p.taskQueue {
		metrics.QueueDepthGauge.Set(float64(len(p.taskQueue)))
		p.run(id, task)
		<-p.permits
	}
}

func (p *Pool) run(id int, task Task) {
	p.active.Inc()
	metrics.ActiveWorkersGauge.Inc()
	defer func() {
		p.active.Dec()
		metrics.ActiveWorkersGauge.Dec()
		if r := recover(); r != nil {
			metrics.WorkerPanicsCounter.Inc()
			p.log.Error("Worker %d: task panicked: %v\n%s", id, r, debug.Stack())
		}
	}()
	task(p.ctx)
}
