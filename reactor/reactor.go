// Package reactor implements a cooperative, single-threaded run loop
// satisfying the taskbridge.Reactor interface, along with promise nodes and
// fulfillers bound to it.
//
// A Reactor owns exactly one goroutine, the one that calls [Reactor.Run].
// Work enters from any goroutine via [Reactor.Submit] and executes in
// submission order on the run goroutine. Promises created by
// [Reactor.NewPromise] settle on the run goroutine regardless of which
// goroutine invokes the fulfiller.
package reactor

import (
	"context"
	"errors"
	"log"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

var (
	// ErrAlreadyRunning is returned by Run when the reactor is already running.
	ErrAlreadyRunning = errors.New("reactor: reactor is already running")

	// ErrTerminated is returned when work is submitted to a reactor that has
	// fully terminated. Work submitted while shutdown is in progress is still
	// accepted and runs during the final drain.
	ErrTerminated = errors.New("reactor: reactor has been terminated")

	// ErrNilFunc is returned by Submit when fn is nil.
	ErrNilFunc = errors.New("reactor: nil function")
)

// Reactor is a single-threaded run loop. The zero value is not usable; use
// [New].
type Reactor struct {
	state *fastState

	mu    sync.Mutex
	queue []func()

	// wake has capacity 1; a buffered signal sent after enqueue is what
	// prevents a lost wakeup between the drain and the sleep transition.
	wake chan struct{}

	done     chan struct{}
	doneOnce sync.Once

	goroutineID atomic.Uint64

	logger *logiface.Logger[logiface.Event]
}

type config struct {
	logger        *logiface.Logger[logiface.Event]
	queueCapacity int
}

// Option configures a [Reactor] at construction.
type Option func(*config)

// WithLogger attaches a structured logger. Task panics and lifecycle events
// are logged through it; when unset, panics fall back to the standard log
// package so they are never silently swallowed.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithQueueCapacity preallocates the submission queue.
func WithQueueCapacity(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.queueCapacity = n
		}
	}
}

// New creates a reactor in the Awake state. It does not start running until
// [Reactor.Run] is called.
func New(opts ...Option) *Reactor {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Reactor{
		state:  newFastState(),
		queue:  make([]func(), 0, cfg.queueCapacity),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: cfg.logger,
	}
}

// Run executes the reactor on the calling goroutine until ctx is cancelled
// or [Reactor.Shutdown] is invoked. Work already queued when shutdown begins
// is drained before Run returns. Run returns ctx.Err() when stopped by
// cancellation, nil when stopped by Shutdown, and an error immediately if
// the reactor is not in the Awake state.
func (r *Reactor) Run(ctx context.Context) error {
	if !r.state.TryTransition(StateAwake, StateRunning) {
		switch r.state.Load() {
		case StateTerminating, StateTerminated:
			return ErrTerminated
		default:
			return ErrAlreadyRunning
		}
	}
	r.goroutineID.Store(getGoroutineID())
	defer func() {
		r.goroutineID.Store(0)
		r.state.Store(StateTerminated)
		r.closeDone()
	}()
	r.logger.Debug().
		Str("component", "reactor").
		Log("running")

	var cause error
	for {
		r.drain()
		if r.state.Load() == StateTerminating {
			r.finalDrain()
			return cause
		}
		if !r.state.TryTransition(StateRunning, StateSleeping) {
			// Lost the race with a shutdown request.
			continue
		}
		select {
		case <-r.wake:
			r.state.TryTransition(StateSleeping, StateRunning)
		case <-ctx.Done():
			cause = ctx.Err()
			r.state.TransitionAny([]State{StateSleeping, StateRunning}, StateTerminating)
		}
	}
}

// Shutdown requests termination and waits for the run loop to finish its
// final drain, or for ctx to expire. Shutdown of a reactor that never ran
// terminates it immediately. Safe from any goroutine, including the run
// goroutine's own tasks (in which case waiting would deadlock, so it returns
// without waiting).
func (r *Reactor) Shutdown(ctx context.Context) error {
	// CAS retry: the run loop may flip between Running and Sleeping while a
	// single transition attempt is in flight.
loop:
	for {
		switch r.state.Load() {
		case StateTerminating, StateTerminated:
			break loop
		case StateAwake:
			if r.state.TryTransition(StateAwake, StateTerminated) {
				r.closeDone()
				return nil
			}
		case StateRunning:
			if r.state.TryTransition(StateRunning, StateTerminating) {
				r.signalWake()
				break loop
			}
		case StateSleeping:
			if r.state.TryTransition(StateSleeping, StateTerminating) {
				r.signalWake()
				break loop
			}
		}
	}
	if r.IsCurrent() {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit schedules fn to run on the reactor goroutine, in submission order.
// Safe from any goroutine. On a running reactor a nil error means fn will
// run: submissions during shutdown are accepted and executed by the final
// drain, and ErrTerminated is only returned once the reactor can no longer
// run anything. The state check happens under the queue lock, which is also
// where the final drain commits the Terminated state, so accept-then-drop is
// not possible. (Work accepted by a reactor that is never run is never run
// either.)
func (r *Reactor) Submit(fn func()) error {
	if fn == nil {
		return ErrNilFunc
	}
	r.mu.Lock()
	if !r.state.CanAcceptWork() {
		r.mu.Unlock()
		return ErrTerminated
	}
	r.queue = append(r.queue, fn)
	r.mu.Unlock()
	r.signalWake()
	return nil
}

// IsCurrent reports whether the calling goroutine is the goroutine running
// this reactor.
func (r *Reactor) IsCurrent() bool {
	id := r.goroutineID.Load()
	return id != 0 && id == getGoroutineID()
}

// State returns the reactor's current state.
func (r *Reactor) State() State {
	return r.state.Load()
}

// Done returns a channel closed once the reactor has fully terminated.
func (r *Reactor) Done() <-chan struct{} {
	return r.done
}

func (r *Reactor) signalWake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Reactor) closeDone() {
	r.doneOnce.Do(func() { close(r.done) })
}

// finalDrain runs queued work until the queue is observed empty, then stores
// the Terminated state while still holding the queue lock. Submissions
// therefore either land before the commit (and run here) or observe
// Terminated and are refused.
func (r *Reactor) finalDrain() {
	for {
		r.mu.Lock()
		q := r.queue
		r.queue = nil
		if len(q) == 0 {
			r.state.Store(StateTerminated)
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()
		for _, fn := range q {
			r.safeExecute(fn)
		}
	}
}

func (r *Reactor) drain() {
	for {
		r.mu.Lock()
		q := r.queue
		r.queue = nil
		r.mu.Unlock()
		if len(q) == 0 {
			return
		}
		for _, fn := range q {
			r.safeExecute(fn)
		}
	}
}

func (r *Reactor) safeExecute(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			if r.logger != nil {
				r.logger.Err().
					Str("component", "reactor").
					Field("panic", rec).
					Log("task panicked")
			} else {
				log.Printf("ERROR: reactor: task panicked: %v", rec)
			}
		}
	}()
	fn()
}

// stackBufPool recycles the buffers handed to runtime.Stack. The buffer
// escapes through that call, so a stack-local array would allocate on every
// IsCurrent check.
var stackBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 64)
		return &buf
	},
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	bufp := stackBufPool.Get().(*[]byte)
	buf := *bufp
	n := runtime.Stack(buf, false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	stackBufPool.Put(bufp)
	return id
}
