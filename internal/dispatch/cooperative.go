package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/zep-us/httpjobs/internal/request"
)

// cooperative runs one job at a time, in submission order, and only advances when polled.
//
// In the default mode the current job's transport call runs on a helper goroutine, so a tick only
// checks whether that call finished; with blocking set, the tick itself performs the call.
type cooperative struct {
	d        *Dispatcher
	blocking bool

	mu      sync.Mutex // serializes ticks
	current *slot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// slot is the single in-flight job
type slot struct {
	id   ID
	res  Result
	done chan struct{} // closed once res is set
}

func newCooperative(d *Dispatcher, blocking bool) *cooperative {
	ctx, cancel := context.WithCancel(context.Background())
	return &cooperative{d: d, blocking: blocking, ctx: ctx, cancel: cancel}
}

func (c *cooperative) enqueue(ID) error {
	// the table's pending list is the queue
	return nil
}

// tick completes the current job if its outcome is ready, then starts the next pending job
// when the slot is free
func (c *cooperative) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur := c.current; cur != nil {
		select {
		case <-cur.done:
			c.d.finish(cur.id, cur.res)
			c.current = nil
		default:
			return
		}
	}

	if c.ctx.Err() != nil {
		return
	}
	id, spec, ok := c.d.table.StartNext()
	if !ok {
		return
	}

	if c.blocking {
		c.d.finish(id, c.run(id, spec))
		return
	}

	s := &slot{id: id, done: make(chan struct{})}
	c.current = s
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		s.res = c.run(id, spec)
		close(s.done)
	}()
}

func (c *cooperative) run(id ID, spec *request.Spec) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.d.log.Error("Job %d panicked: %v", id, r)
			res = panicResult(id, r)
		}
	}()
	return c.d.execute(c.ctx, id, spec)
}

func (c *cooperative) inFlight() *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// stop keeps ticking on the caller's behalf until nothing is pending or the grace period ends
func (c *cooperative) stop(ctx context.Context, grace time.Duration) bool {
	timer := time.AfterFunc(grace, c.cancel)
	defer timer.Stop()
	release := context.AfterFunc(ctx, c.cancel)
	defer release()

	for {
		c.tick()
		cur := c.inFlight()
		if cur == nil {
			if c.ctx.Err() != nil || !c.d.table.HasPending() {
				break
			}
			continue
		}
		select {
		case <-cur.done:
		case <-c.ctx.Done():
			<-cur.done
		}
	}

	drained := c.ctx.Err() == nil
	c.cancel()
	c.wg.Wait()
	c.tick() // records the result of a job whose call returned after cancellation
	return drained
}
