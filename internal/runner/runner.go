// Package runner executes one run at a time in the background so request
// handlers can return immediately and collect the result later.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"comfyrun/internal/services"
)

// ErrBusy is returned by Start while a run is in flight.
var ErrBusy = errors.New("a run is already in progress")

// Executor runs a prepared request to completion.
type Executor interface {
	Execute(ctx context.Context, req services.RunRequest) (*services.RunOutcome, error)
}

// Result is a finished run as handed back by Poll.
type Result struct {
	RunID   string
	Outcome *services.RunOutcome
	Err     error
}

// Runner is a single-slot background task. The zero value is not usable; use New.
type Runner struct {
	exec Executor
	ctx  context.Context

	mu       sync.Mutex
	current  string
	done     chan Result
	finished chan struct{} // closed once the in-flight run has sent its result
	pending  *Result       // finished, not yet returned by Poll
	last     *Result
}

// New creates a Runner. Runs inherit ctx, so cancelling it aborts the
// in-flight run's polling.
func New(ctx context.Context, exec Executor) *Runner {
	return &Runner{
		exec: exec,
		ctx:  ctx,
		done: make(chan Result, 1),
	}
}

// Start launches req in the background and returns its run id. req.ID is
// generated when empty.
func (r *Runner) Start(req services.RunRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.collect()
	if r.current != "" {
		return "", ErrBusy
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	r.current = req.ID
	finished := make(chan struct{})
	r.finished = finished

	go func() {
		out, err := r.exec.Execute(r.ctx, req)
		r.done <- Result{RunID: req.ID, Outcome: out, Err: err}
		close(finished)
	}()
	return req.ID, nil
}

// Poll returns the finished result exactly once. It never blocks.
func (r *Runner) Poll() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.collect()
	if r.pending == nil {
		return Result{}, false
	}
	res := *r.pending
	r.pending = nil
	return res, true
}

// Wait blocks until the run with the given id has finished and returns its
// result without consuming it from Poll.
func (r *Runner) Wait(ctx context.Context, id string) (Result, error) {
	r.mu.Lock()
	r.collect()
	if r.last != nil && r.last.RunID == id {
		res := *r.last
		r.mu.Unlock()
		return res, nil
	}
	if r.current != id {
		r.mu.Unlock()
		return Result{}, fmt.Errorf("run %s is not known to the runner", id)
	}
	finished := r.finished
	r.mu.Unlock()

	select {
	case <-finished:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	return r.Wait(ctx, id)
}

// Busy reports whether a run is in flight.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collect()
	return r.current != ""
}

// Current returns the id of the in-flight run, or "".
func (r *Runner) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collect()
	return r.current
}

// Last returns the most recently finished result, whether or not Poll has
// already returned it.
func (r *Runner) Last() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collect()
	if r.last == nil {
		return Result{}, false
	}
	return *r.last, true
}

// collect moves a finished run out of the channel. Callers hold mu.
func (r *Runner) collect() {
	select {
	case res := <-r.done:
		r.current = ""
		r.pending = &res
		r.last = &res
	default:
	}
}
