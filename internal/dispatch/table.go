package dispatch

import (
	"sync"
	"time"

	"github.com/zep-us/httpjobs/internal/request"
)

// Table holds every job of one dispatcher from submission until its result is collected.
// One mutex guards all state; no method blocks on I/O.
type Table struct {
	mu       sync.Mutex
	seq      uint64
	capacity int
	closed   bool
	jobs     map[ID]*Job
	pending  []ID // submission order
	done     []ID // completion order
	running  int
}

// NewTable creates a table admitting at most capacity outstanding jobs
func NewTable(capacity int) *Table {
	return &Table{
		capacity: capacity,
		jobs:     make(map[ID]*Job, capacity),
	}
}

// Add inserts a pending job and returns its new ID
func (t *Table) Add(spec *request.Spec) (ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return NoID, ErrShutdown
	}
	if len(t.jobs) >= t.capacity {
		return NoID, ErrCapacityExceeded
	}

	t.seq++
	id := ID(t.seq)
	t.jobs[id] = &Job{
		ID:          id,
		Spec:        spec,
		State:       StatePending,
		SubmittedAt: time.Now(),
	}
	t.pending = append(t.pending, id)
	return id, nil
}

// Remove drops a job whose ID was never handed to the caller
func (t *Table) Remove(id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[id]
	if !ok {
		return
	}
	if j.State == StateRunning {
		t.running--
	}
	delete(t.jobs, id)
	t.removePending(id)
	for i, d := range t.done {
		if d == id {
			t.done = append(t.done[:i], t.done[i+1:]...)
			break
		}
	}
}

// Start moves a pending job to running and returns its spec.
// It reports false when the job is gone or no longer pending, e.g. cancelled by shutdown.
func (t *Table) Start(id ID) (*request.Spec, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[id]
	if !ok || j.State != StatePending {
		return nil, false
	}
	t.removePending(id)
	t.markRunning(j)
	return j.Spec, true
}

// StartNext moves the oldest pending job to running
func (t *Table) StartNext() (ID, *request.Spec, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for len(t.pending) > 0 {
		id := t.pending[0]
		t.pending = t.pending[1:]
		j, ok := t.jobs[id]
		if !ok || j.State != StatePending {
			continue
		}
		t.markRunning(j)
		return id, j.Spec, true
	}
	return NoID, nil, false
}

// HasPending reports whether any job waits to be started
func (t *Table) HasPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending) > 0
}

// Complete records the result of a running job and queues it for collection.
// It returns the terminal state, and false unless the job is running.
// Pending jobs only reach a terminal state through CancelOutstanding.
func (t *Table) Complete(id ID, res Result) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[id]
	if !ok || j.State != StateRunning {
		return 0, false
	}
	t.running--
	t.finish(j, res)
	return j.State, true
}

// Collect removes and returns the oldest completed job's result
func (t *Table) Collect() (Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.done) == 0 {
		return Result{}, false
	}
	id := t.done[0]
	t.done[0] = NoID
	t.done = t.done[1:]

	j := t.jobs[id]
	delete(t.jobs, id)
	return *j.Result, true
}

// CancelOutstanding fails every pending or running job with code and body and returns how many it failed
func (t *Table) CancelOutstanding(code int, body string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	cancelled := func(id ID) {
		j, ok := t.jobs[id]
		if !ok || j.State.Terminal() {
			return
		}
		if j.State == StateRunning {
			t.running--
		}
		var elapsed time.Duration
		if !j.StartedAt.IsZero() {
			elapsed = time.Since(j.StartedAt)
		}
		t.finish(j, Result{ID: id, Code: code, Body: []byte(body), Duration: elapsed})
		n++
	}

	for _, id := range t.pending {
		cancelled(id)
	}
	t.pending = nil
	for id, j := range t.jobs {
		if j.State == StateRunning {
			cancelled(id)
		}
	}
	return n
}

// Close makes every later Add fail with ErrShutdown
func (t *Table) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// Get returns a snapshot of job id
func (t *Table) Get(id ID) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[id]
	if !ok {
		return Job{}, false
	}
	snap := *j
	if j.Result != nil {
		r := *j.Result
		snap.Result = &r
	}
	return snap, true
}

// Stats returns current counters
func (t *Table) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Stats{
		Pending:     len(t.pending),
		Running:     t.running,
		Completed:   len(t.done),
		Outstanding: len(t.jobs),
		Capacity:    t.capacity,
		Submitted:   t.seq,
	}
}

func (t *Table) markRunning(j *Job) {
	j.State = StateRunning
	j.StartedAt = time.Now()
	t.running++
}

func (t *Table) finish(j *Job, res Result) {
	res.ID = j.ID
	if res.Failed() {
		j.State = StateFailed
	} else {
		j.State = StateDone
	}
	j.Result = &res
	j.CompletedAt = time.Now()
	t.done = append(t.done, j.ID)
}

func (t *Table) removePending(id ID) {
	for i, p := range t.pending {
		if p == id {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return
		}
	}
}
