package taskbridge

import (
	"fmt"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

// AdapterState identifies where a [TaskPromiseAdapter] is in its lifecycle.
type AdapterState int32

const (
	// AdapterConstructed means the first poll has been scheduled but has not
	// yet run.
	AdapterConstructed AdapterState = iota
	// AdapterPolling means the task is being polled right now.
	AdapterPolling
	// AdapterSuspended means the task returned pending and is waiting for a
	// wake.
	AdapterSuspended
	// AdapterFulfilled means the task reached a terminal result and the
	// fulfiller (if any) was signaled.
	AdapterFulfilled
	// AdapterDropped means the adapter was closed; the task was dropped and
	// no signal was or will be delivered.
	AdapterDropped
)

// String implements fmt.Stringer.
func (s AdapterState) String() string {
	switch s {
	case AdapterConstructed:
		return "constructed"
	case AdapterPolling:
		return "polling"
	case AdapterSuspended:
		return "suspended"
	case AdapterFulfilled:
		return "fulfilled"
	case AdapterDropped:
		return "dropped"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// TaskPromiseAdapter drives a [BoxedTask] to completion on a [Reactor] and
// delivers its terminal result exactly once, either to a [Fulfiller] or, via
// [TaskPromiseAdapter.Node], as a promise node that can itself be awaited.
//
// The adapter polls the task only on the reactor goroutine. Wakes arriving
// from the reactor's own awaiters arm a re-poll directly; wakes arriving
// from other goroutines are queued through [Reactor.Submit]. Redundant wakes
// coalesce: the task observes at most one re-poll per suspension, plus at
// most one final poll that it never observes (a terminal adapter ignores
// stray re-polls).
type TaskPromiseAdapter[T any] struct {
	_         noCopy
	r         Reactor
	task      *BoxedTask[T]
	fulfiller Fulfiller
	logger    *logiface.Logger[logiface.Event]
	state     atomic.Int32

	// Remaining fields are confined to the reactor goroutine.
	repoll bool
	value  any
	err    error
	fire   func()
}

// AdaptTask schedules task to be driven on r, signaling fulfiller (which may
// be nil) exactly once on completion. The first poll runs on a later reactor
// turn, never synchronously from AdaptTask. An error is returned only if the
// reactor refuses the initial scheduling.
func AdaptTask[T any](r Reactor, task *BoxedTask[T], fulfiller Fulfiller, opts ...AdapterOption) (*TaskPromiseAdapter[T], error) {
	if r == nil {
		return nil, fmt.Errorf("taskbridge: nil reactor")
	}
	if task == nil {
		return nil, fmt.Errorf("taskbridge: nil task")
	}
	var cfg adapterConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	a := &TaskPromiseAdapter[T]{r: r, task: task, fulfiller: fulfiller, logger: cfg.logger}
	if err := r.Submit(a.pollNow); err != nil {
		return nil, fmt.Errorf("taskbridge: schedule initial poll: %w", err)
	}
	a.logger.Debug().
		Str("component", "adapter").
		Log("initial poll scheduled")
	return a, nil
}

// TaskNode schedules task on r and returns its completion as a consumable
// [PromiseNode], so the task's result can be awaited like any other promise.
func TaskNode[T any](r Reactor, task *BoxedTask[T], opts ...AdapterOption) (*PromiseNode, error) {
	a, err := AdaptTask(r, task, nil, opts...)
	if err != nil {
		return nil, err
	}
	return a.Node(), nil
}

// State returns the adapter's current lifecycle state. Safe from any
// goroutine; by the time the caller observes a non-terminal state it may
// already be stale.
func (a *TaskPromiseAdapter[T]) State() AdapterState {
	return AdapterState(a.state.Load())
}

// Node returns a promise node handle for the adapter's terminal result. The
// adapter itself implements [ReactorNode]; destroying the returned handle
// closes the adapter.
func (a *TaskPromiseAdapter[T]) Node() *PromiseNode {
	return NewPromiseNode(a.r, a)
}

// Close releases the adapter without signaling the fulfiller. A pending task
// is dropped in place; wakes delivered afterwards are ignored. Close is
// idempotent and must run on the reactor goroutine (a task may close its own
// adapter from within its final poll).
func (a *TaskPromiseAdapter[T]) Close() {
	a.guard()
	switch AdapterState(a.state.Load()) {
	case AdapterDropped:
		return
	case AdapterFulfilled:
		a.state.Store(int32(AdapterDropped))
		a.fire = nil
		return
	}
	a.state.Store(int32(AdapterDropped))
	a.fire = nil
	a.task.Drop()
	a.logger.Debug().
		Str("component", "adapter").
		Log("dropped while pending")
}

// OnReady implements [ReactorNode].
func (a *TaskPromiseAdapter[T]) OnReady(fire func()) {
	a.guard()
	if fire == nil {
		a.fire = nil
		return
	}
	if AdapterState(a.state.Load()) == AdapterFulfilled {
		fire()
		return
	}
	a.fire = fire
}

// Result implements [ReactorNode]. Only valid once the adapter is fulfilled.
func (a *TaskPromiseAdapter[T]) Result() (any, error) {
	if AdapterState(a.state.Load()) != AdapterFulfilled {
		panic("taskbridge: result of an unfulfilled adapter")
	}
	return a.value, a.err
}

// Destroy implements [ReactorNode].
func (a *TaskPromiseAdapter[T]) Destroy() {
	a.Close()
}

func (a *TaskPromiseAdapter[T]) guard() {
	if !a.r.IsCurrent() {
		panic("taskbridge: adapter used off its reactor goroutine")
	}
}

func (a *TaskPromiseAdapter[T]) taskReactor() Reactor {
	return a.r
}

func (a *TaskPromiseAdapter[T]) schedulePoll() {
	// A failed submit means the reactor is terminated; the wake is moot.
	_ = a.r.Submit(a.pollNow)
}

func (a *TaskPromiseAdapter[T]) armDirect() {
	switch AdapterState(a.state.Load()) {
	case AdapterPolling:
		a.repoll = true
	case AdapterSuspended:
		a.schedulePoll()
	}
}

// pollNow runs on the reactor goroutine. Stray invocations against a
// terminal adapter are ignored, which is what makes redundant wakes safe.
func (a *TaskPromiseAdapter[T]) pollNow() {
	switch AdapterState(a.state.Load()) {
	case AdapterFulfilled, AdapterDropped:
		return
	}
	for {
		a.state.Store(int32(AdapterPolling))
		a.repoll = false
		scope := &pollScope{target: a}
		w := WakerForReactor(scope)
		var done, panicked bool
		var panicValue any
		func() {
			defer func() {
				if r := recover(); r != nil {
					panicked, panicValue = true, r
				}
			}()
			done = a.task.Poll(w)
		}()
		w.Drop()
		disposition := scope.reset()
		if AdapterState(a.state.Load()) == AdapterDropped {
			// The task closed its own adapter mid-poll; no signal is
			// delivered no matter how the poll came out.
			return
		}
		if panicked {
			a.task.Drop()
			a.finish(nil, &PanicError{Value: panicValue})
			return
		}
		if done {
			value, err := a.task.Take()
			a.task.Drop()
			a.finish(value, err)
			return
		}
		if a.repoll || disposition == pollWokenSync {
			continue
		}
		a.state.Store(int32(AdapterSuspended))
		if disposition == pollClonedPending {
			a.logger.Debug().
				Str("component", "adapter").
				Log("suspended awaiting cross-goroutine wake")
		}
		return
	}
}

func (a *TaskPromiseAdapter[T]) finish(value any, err error) {
	a.value, a.err = value, err
	a.state.Store(int32(AdapterFulfilled))
	b := a.logger.Debug().Str("component", "adapter")
	if err != nil {
		b = b.Err(err)
	}
	b.Log("task completed")
	if a.fulfiller != nil {
		if err != nil {
			a.fulfiller.Reject(err)
		} else {
			a.fulfiller.Fulfill(value)
		}
	}
	if a.fire != nil {
		fire := a.fire
		a.fire = nil
		fire()
	}
}
