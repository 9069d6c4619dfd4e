// Package dispatch runs HTTP request specs as background jobs and hands back their results by polling.
//
// A Dispatcher owns a job table and one execution strategy. Submit never blocks: it records a
// pending job and returns its ID. Poll never blocks either: it returns at most one completed job,
// in completion order, and removes it from the table so each result is delivered once.
//
// Two strategies exist. The cooperative strategy ("async") runs one job at a time and only makes
// progress when the caller polls. The threaded strategy ("bg") runs jobs on a bounded worker pool.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zep-us/httpjobs/internal/request"
	"github.com/zep-us/httpjobs/internal/transport"
)

// ID identifies a job within one Dispatcher. IDs start at 1 and are never reused.
type ID uint64

// NoID is returned alongside a submission error
const NoID ID = 0

// State is the lifecycle state of a job
type State int

const (
	StatePending State = iota
	StateRunning
	StateDone   // the HTTP exchange completed, whatever its status
	StateFailed // transport failure, panic or cancellation
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether the job has finished
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Result is the outcome of one job.
// Code is the HTTP status, or a transport failure code below 100 in which case Body holds the error text.
type Result struct {
	ID       ID
	Code     int
	Header   []request.Header
	Body     []byte
	Duration time.Duration
}

// Failed reports whether Code is a transport failure code
func (r Result) Failed() bool {
	return transport.IsFailureCode(r.Code)
}

// Job is a snapshot of a job held by the table
type Job struct {
	ID          ID
	Spec        *request.Spec
	State       State
	Result      *Result
	SubmittedAt time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// Transport performs one blocking HTTP exchange.
// Implementations must return promptly once ctx is done. Errors exposing FailureCode() int
// keep their code in the Result; any other error is recorded as a receive failure.
type Transport interface {
	Execute(ctx context.Context, spec *request.Spec) (*request.Response, error)
}

type failureCoder interface {
	FailureCode() int
}

// ResultFrom turns a transport outcome into a Result for job id
func ResultFrom(id ID, resp *request.Response, err error, elapsed time.Duration) Result {
	if err != nil {
		code := transport.CodeReceiveError
		var fc failureCoder
		if errors.As(err, &fc) {
			code = fc.FailureCode()
		}
		return Result{ID: id, Code: code, Body: []byte(err.Error()), Duration: elapsed}
	}
	if resp == nil {
		return Result{ID: id, Code: transport.CodeReceiveError, Body: []byte("transport returned no response"), Duration: elapsed}
	}
	return Result{
		ID:       id,
		Code:     resp.StatusCode,
		Header:   resp.Header,
		Body:     resp.Body,
		Duration: elapsed,
	}
}

// Stats is a point-in-time view of a dispatcher's table
type Stats struct {
	Strategy    Strategy `json:"strategy"`
	Pending     int      `json:"pending"`
	Running     int      `json:"running"`
	Completed   int      `json:"completed"`   // terminal, waiting to be polled
	Outstanding int      `json:"outstanding"` // submitted, not yet polled
	Capacity    int      `json:"capacity"`
	Submitted   uint64   `json:"submitted"` // IDs issued so far
}
