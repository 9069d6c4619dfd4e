package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func sleepTask(d time.Duration, done *int32) Task {
	return func(ctx context.Context) {
		select {
		case <-time.After(d):
			atomic.AddInt32(done, 1)
		case <-ctx.Done():
		}
	}
}

// TestWorkerPool_BoundedConcurrency verifies no more than workerCount tasks run at once
func TestWorkerPool_BoundedConcurrency(t *testing.T) {
	var (
		current, maxSeen int32
		mu               sync.Mutex
		wg               sync.WaitGroup
	)

	pool := NewPool(2, 100, 5*time.Second)
	pool.Start()
	defer pool.Stop(context.Background())

	for i := 0; i < 10; i++ {
		wg.Add(1)
		err := pool.Submit(func(ctx context.Context) {
			defer wg.Done()
			n := atomic.AddInt32(&current, 1)
			mu.Lock()
			if n > maxSeen {
				maxSeen = n
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&current, -1)
		})
		if err != nil {
			t.Fatalf("failed to submit task %d: %v", i, err)
		}
	}
	wg.Wait()

	if maxSeen > 2 {
		t.Errorf("expected max 2 concurrent workers, got %d", maxSeen)
	}
}

// TestWorkerPool_FIFO verifies a single worker runs tasks in submission order
func TestWorkerPool_FIFO(t *testing.T) {
	pool := NewPool(1, 10, time.Second)
	pool.Start()

	var (
		mu    sync.Mutex
		order []int
	)
	for i := 0; i < 5; i++ {
		i := i
		if err := pool.Submit(func(ctx context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	pool.Stop(context.Background())

	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
	if len(order) != 5 {
		t.Fatalf("expected 5 tasks run, got %d", len(order))
	}
}

// TestWorkerPool_Backpressure verifies queue full returns ErrQueueFull
func TestWorkerPool_Backpressure(t *testing.T) {
	pool := NewPool(1, 2, time.Second)
	pool.Start()
	defer pool.Stop(context.Background())

	block := make(chan struct{})
	defer close(block)
	task := func(ctx context.Context) {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}

	// one running, one queued
	if err := pool.Submit(task); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := pool.Submit(task); err != nil {
		t.Fatalf("second submit: %v", err)
	}

	err := pool.Submit(task)
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull when capacity is exhausted, got %v", err)
	}
}

// TestWorkerPool_GracefulShutdown verifies queued and in-flight tasks complete within the grace period
func TestWorkerPool_GracefulShutdown(t *testing.T) {
	var completed int32

	pool := NewPool(2, 10, 5*time.Second)
	pool.Start()
	for i := 0; i < 5; i++ {
		if err := pool.Submit(sleepTask(50*time.Millisecond, &completed)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	if !pool.Stop(context.Background()) {
		t.Error("expected pool to drain within the grace period")
	}
	if completed != 5 {
		t.Errorf("expected 5 tasks completed, got %d", completed)
	}
}

// TestWorkerPool_ShutdownTimeoutCancelsTasks verifies Stop cancels tasks after the grace period and waits for them
func TestWorkerPool_ShutdownTimeoutCancelsTasks(t *testing.T) {
	var completed int32
	pool := NewPool(2, 10, 100*time.Millisecond)
	pool.Start()

	for i := 0; i < 4; i++ {
		_ = pool.Submit(sleepTask(3*time.Second, &completed))
	}
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	drained := pool.Stop(context.Background())
	elapsed := time.Since(start)

	if drained {
		t.Error("expected Stop to report cancelled tasks")
	}
	if elapsed > time.Second {
		t.Errorf("Stop() took %v, expected about the grace period", elapsed)
	}
	if completed != 0 {
		t.Errorf("expected no task to run to completion, got %d", completed)
	}
	if pool.Active() != 0 {
		t.Errorf("expected no active workers after Stop, got %d", pool.Active())
	}
}

// TestWorkerPool_StopHonoursContext verifies a done ctx cuts the grace period short
func TestWorkerPool_StopHonoursContext(t *testing.T) {
	var completed int32
	pool := NewPool(1, 1, time.Minute)
	pool.Start()
	_ = pool.Submit(sleepTask(time.Minute, &completed))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	pool.Stop(ctx)
	if time.Since(start) > time.Second {
		t.Errorf("Stop ignored context deadline")
	}
}

// TestWorkerPool_StartStopLifecycle verifies Start is idempotent, Stop is idempotent and Submit fails after Stop
func TestWorkerPool_StartStopLifecycle(t *testing.T) {
	pool := NewPool(2, 10, 5*time.Second)
	pool.Start()
	pool.Start()

	var completed int32
	if err := pool.Submit(sleepTask(time.Millisecond, &completed)); err != nil {
		t.Fatalf("failed to submit task after Start(): %v", err)
	}

	pool.Stop(context.Background())
	pool.Stop(context.Background())

	if err := pool.Submit(sleepTask(0, &completed)); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("expected ErrPoolStopped after Stop, got %v", err)
	}
}

// TestWorkerPool_PanicIsRecovered verifies a panicking task does not kill its worker
func TestWorkerPool_PanicIsRecovered(t *testing.T) {
	pool := NewPool(1, 10, time.Second)
	pool.Start()

	var completed int32
	_ = pool.Submit(func(ctx context.Context) { panic("boom") })
	_ = pool.Submit(sleepTask(time.Millisecond, &completed))
	pool.Stop(context.Background())

	if completed != 1 {
		t.Errorf("expected task after panic to run, got %d completions", completed)
	}
}

// TestWorkerPool_QueueDepth verifies queued tasks are visible while the only worker is busy
func TestWorkerPool_QueueDepth(t *testing.T) {
	pool := NewPool(1, 10, time.Second)
	pool.Start()
	defer pool.Stop(context.Background())

	if depth := pool.QueueDepth(); depth != 0 {
		t.Errorf("expected initial queue depth 0, got %d", depth)
	}

	block := make(chan struct{})
	defer close(block)
	for i := 0; i < 3; i++ {
		_ = pool.Submit(func(ctx context.Context) {
			select {
			case <-block:
			case <-ctx.Done():
			}
		})
	}

	time.Sleep(50 * time.Millisecond)
	if depth := pool.QueueDepth(); depth != 2 {
		t.Errorf("expected queue depth 2 with one busy worker, got %d", depth)
	}
}

// TestWorkerPool_Defaults verifies non-positive sizes fall back to defaults
func TestWorkerPool_Defaults(t *testing.T) {
	pool := NewPool(0, 0, time.Second)
	if pool.Workers() != DefaultWorkerCount {
		t.Errorf("expected %d workers, got %d", DefaultWorkerCount, pool.Workers())
	}
	pool.Stop(context.Background())
}
