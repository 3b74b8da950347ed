// Package gojabridge binds the taskbridge runtime to the Goja JavaScript
// runtime, so poll-based Go tasks and JavaScript promises can await each
// other on a shared reactor.
//
// # Thread Safety
//
// The adapter coordinates three components:
//
//   - Goja Runtime: not thread-safe; must only be accessed from the reactor
//     goroutine
//   - Reactor: processes work on its own goroutine
//   - Go Code: may complete tasks and settle fulfillers from any goroutine
//
// All adapter methods must be called on the reactor goroutine (typically via
// [reactor.Reactor.Submit] or from within callbacks); they return an error
// otherwise.
package gojabridge

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
	taskbridge "github.com/joeycumines/go-taskbridge"
	"github.com/joeycumines/go-taskbridge/reactor"
)

// RejectionError carries a JavaScript rejection reason across the bridge as
// a Go error.
type RejectionError struct {
	// Reason is the exported rejection value.
	Reason any
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	return fmt.Sprintf("gojabridge: promise rejected: %v", e.Reason)
}

// Adapter bridges a Goja runtime to a reactor, in both directions.
type Adapter struct {
	runtime *goja.Runtime
	reactor *reactor.Reactor
}

// New creates an adapter for the given reactor and runtime.
func New(r *reactor.Reactor, runtime *goja.Runtime) (*Adapter, error) {
	if r == nil {
		return nil, fmt.Errorf("reactor cannot be nil")
	}
	if runtime == nil {
		return nil, fmt.Errorf("runtime cannot be nil")
	}
	return &Adapter{runtime: runtime, reactor: r}, nil
}

// Reactor returns the reactor.
func (a *Adapter) Reactor() *reactor.Reactor {
	return a.reactor
}

// Runtime returns the Goja runtime.
func (a *Adapter) Runtime() *goja.Runtime {
	return a.runtime
}

// NodeFromValue subscribes to a thenable JavaScript value (a promise, or
// anything with a callable then) and returns a promise node that settles
// when it does. A fulfilled value is exported to its Go representation; a
// rejection surfaces as a [RejectionError].
func (a *Adapter) NodeFromValue(v goja.Value) (*taskbridge.PromiseNode, error) {
	if !a.reactor.IsCurrent() {
		return nil, fmt.Errorf("gojabridge: NodeFromValue called off the reactor goroutine")
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, fmt.Errorf("gojabridge: value is not thenable")
	}
	obj := v.ToObject(a.runtime)
	then, ok := goja.AssertFunction(obj.Get("then"))
	if !ok {
		return nil, fmt.Errorf("gojabridge: value is not thenable")
	}
	node, fulfiller := a.reactor.NewPromise()
	onFulfilled := a.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
		fulfiller.Fulfill(call.Argument(0).Export())
		return goja.Undefined()
	})
	onRejected := a.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
		fulfiller.Reject(&RejectionError{Reason: call.Argument(0).Export()})
		return goja.Undefined()
	})
	if _, err := then(obj, onFulfilled, onRejected); err != nil {
		node.Drop()
		return nil, fmt.Errorf("gojabridge: failed to subscribe to thenable: %w", err)
	}
	return node, nil
}

// PromiseFromTask schedules task on the reactor and returns a JavaScript
// promise for its result. Task completion resolves the promise with the
// value converted by the runtime; a task error rejects it, unwrapping
// [RejectionError] back to the original reason for values that round-trip
// from JavaScript.
func (a *Adapter) PromiseFromTask(task *taskbridge.BoxedTask[any], opts ...taskbridge.AdapterOption) (*goja.Promise, error) {
	if !a.reactor.IsCurrent() {
		return nil, fmt.Errorf("gojabridge: PromiseFromTask called off the reactor goroutine")
	}
	promise, resolve, reject := a.runtime.NewPromise()
	f := &jsFulfiller{resolve: resolve, reject: reject}
	if _, err := taskbridge.AdaptTask(a.reactor, task, f, opts...); err != nil {
		return nil, err
	}
	return promise, nil
}

// jsFulfiller settles a Goja promise. It is only ever invoked by the task
// adapter, on the reactor goroutine, which is also the only goroutine
// allowed to touch the runtime. The resolving functions only error when
// invoked off the goroutine that created the promise, which the adapter's
// confinement rules out.
type jsFulfiller struct {
	resolve func(result any) error
	reject  func(reason any) error
}

func (f *jsFulfiller) Fulfill(value any) {
	_ = f.resolve(value)
}

func (f *jsFulfiller) Reject(err error) {
	var rejection *RejectionError
	if errors.As(err, &rejection) {
		_ = f.reject(rejection.Reason)
		return
	}
	_ = f.reject(err)
}
