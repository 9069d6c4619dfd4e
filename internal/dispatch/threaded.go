package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/zep-us/httpjobs/internal/transport"
	"github.com/zep-us/httpjobs/internal/worker"
)

// threaded runs jobs on a bounded worker pool. Jobs stay pending until a worker picks them up.
type threaded struct {
	d    *Dispatcher
	pool *worker.Pool
}

// The pool holds a task from enqueue until its worker returns, which is after the result became
// collectible. Admitted jobs are bounded by capacity and finished-but-unreturned tasks by workers,
// so capacity+workers permits never refuse a job the table admitted.
func newThreaded(d *Dispatcher, workers, capacity int, grace time.Duration) *threaded {
	pool := worker.NewPool(workers, capacity+workers, grace)
	pool.Start()
	return &threaded{d: d, pool: pool}
}

func (t *threaded) enqueue(id ID) error {
	return t.pool.Submit(func(ctx context.Context) {
		t.run(ctx, id)
	})
}

func (t *threaded) run(ctx context.Context, id ID) {
	// the grace period is over; shutdown fails whatever is still pending
	if ctx.Err() != nil {
		return
	}
	spec, ok := t.d.table.Start(id)
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			t.d.log.Error("Job %d panicked: %v", id, r)
			t.d.finish(id, panicResult(id, r))
		}
	}()
	t.d.finish(id, t.d.execute(ctx, id, spec))
}

func (t *threaded) tick() {}

func (t *threaded) stop(ctx context.Context, _ time.Duration) bool {
	// the pool was built with the grace period as its shutdown timeout
	return t.pool.Stop(ctx)
}

func panicResult(id ID, r interface{}) Result {
	return Result{
		ID:   id,
		Code: transport.CodeReceiveError,
		Body: []byte(fmt.Sprintf("panic: %v", r)),
	}
}
