package gojabridge

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dop251/goja"
	taskbridge "github.com/joeycumines/go-taskbridge"
	"github.com/joeycumines/go-taskbridge/reactor"
)

type result struct {
	value any
	err   error
}

type chanFulfiller chan result

func (c chanFulfiller) Fulfill(value any) { c <- result{value: value} }
func (c chanFulfiller) Reject(err error)  { c <- result{err: err} }

type fixture struct {
	reactor *reactor.Reactor
	vm      *goja.Runtime
	adapter *Adapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r := reactor.New()
	go func() { _ = r.Run(context.Background()) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	fx := &fixture{reactor: r}
	fx.run(t, func() {
		fx.vm = goja.New()
		var err error
		fx.adapter, err = New(r, fx.vm)
		if err != nil {
			t.Error(err)
		}
	})
	return fx
}

// run executes fn on the reactor goroutine, which is the only goroutine
// allowed to touch the Goja runtime.
func (fx *fixture) run(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	if err := fx.reactor.Submit(func() {
		defer close(done)
		fn()
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reactor")
	}
}

// awaitReaction waits for a promise reaction, periodically re-entering the
// VM so queued reaction jobs drain even if settlement happened outside a VM
// call.
func (fx *fixture) awaitReaction(t *testing.T, c chan result) result {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case res := <-c:
			return res
		case <-deadline:
			t.Fatal("timed out waiting for promise reaction")
			return result{}
		case <-time.After(10 * time.Millisecond):
			fx.run(t, func() {
				if _, err := fx.vm.RunString(`void 0`); err != nil {
					t.Error(err)
				}
			})
		}
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, goja.New()); err == nil {
		t.Fatal("nil reactor accepted")
	}
	if _, err := New(reactor.New(), nil); err == nil {
		t.Fatal("nil runtime accepted")
	}
}

func TestNodeFromValue_ResolvedPromise(t *testing.T) {
	fx := newFixture(t)
	f := make(chanFulfiller, 1)
	fx.run(t, func() {
		v, err := fx.vm.RunString(`Promise.resolve(42)`)
		if err != nil {
			t.Error(err)
			return
		}
		node, err := fx.adapter.NodeFromValue(v)
		if err != nil {
			t.Error(err)
			return
		}
		task := taskbridge.BoxTask[any](taskbridge.AwaitNode(node))
		if _, err := taskbridge.AdaptTask[any](fx.reactor, task, f); err != nil {
			t.Error(err)
		}
	})
	res := fx.awaitReaction(t, f)
	if res.err != nil {
		t.Fatal(res.err)
	}
	if res.value != int64(42) {
		t.Fatalf("got %v (%T), want 42", res.value, res.value)
	}
}

func TestNodeFromValue_LateResolution(t *testing.T) {
	fx := newFixture(t)
	f := make(chanFulfiller, 1)
	fx.run(t, func() {
		if err := fx.vm.Set("defer_", func(call goja.FunctionCall) goja.Value {
			resolve, _ := goja.AssertFunction(call.Argument(0))
			if err := fx.reactor.Submit(func() {
				if _, err := resolve(goja.Undefined(), fx.vm.ToValue("late")); err != nil {
					t.Error(err)
				}
			}); err != nil {
				t.Error(err)
			}
			return goja.Undefined()
		}); err != nil {
			t.Error(err)
			return
		}
		v, err := fx.vm.RunString(`new Promise(resolve => defer_(resolve))`)
		if err != nil {
			t.Error(err)
			return
		}
		node, err := fx.adapter.NodeFromValue(v)
		if err != nil {
			t.Error(err)
			return
		}
		task := taskbridge.BoxTask[any](taskbridge.AwaitNode(node))
		if _, err := taskbridge.AdaptTask[any](fx.reactor, task, f); err != nil {
			t.Error(err)
		}
	})
	res := fx.awaitReaction(t, f)
	if res.err != nil {
		t.Fatal(res.err)
	}
	if res.value != "late" {
		t.Fatalf("got %v, want late", res.value)
	}
}

func TestNodeFromValue_Rejection(t *testing.T) {
	fx := newFixture(t)
	f := make(chanFulfiller, 1)
	fx.run(t, func() {
		v, err := fx.vm.RunString(`Promise.reject("boom")`)
		if err != nil {
			t.Error(err)
			return
		}
		node, err := fx.adapter.NodeFromValue(v)
		if err != nil {
			t.Error(err)
			return
		}
		task := taskbridge.BoxTask[any](taskbridge.AwaitNode(node))
		if _, err := taskbridge.AdaptTask[any](fx.reactor, task, f); err != nil {
			t.Error(err)
		}
	})
	res := fx.awaitReaction(t, f)
	var rejection *RejectionError
	if !errors.As(res.err, &rejection) {
		t.Fatalf("got %v, want RejectionError", res.err)
	}
	if rejection.Reason != "boom" {
		t.Fatalf("reason %v, want boom", rejection.Reason)
	}
}

func TestNodeFromValue_NotThenable(t *testing.T) {
	fx := newFixture(t)
	fx.run(t, func() {
		for _, v := range []goja.Value{
			nil,
			goja.Undefined(),
			goja.Null(),
			fx.vm.ToValue(42),
			fx.vm.NewObject(),
		} {
			if _, err := fx.adapter.NodeFromValue(v); err == nil {
				t.Errorf("accepted non-thenable %v", v)
			}
		}
	})
}

func TestNodeFromValue_OffReactorGoroutine(t *testing.T) {
	fx := newFixture(t)
	var v goja.Value
	fx.run(t, func() {
		var err error
		v, err = fx.vm.RunString(`Promise.resolve(1)`)
		if err != nil {
			t.Error(err)
		}
	})
	if _, err := fx.adapter.NodeFromValue(v); err == nil {
		t.Fatal("NodeFromValue accepted a call off the reactor goroutine")
	}
}

func TestPromiseFromTask_Resolution(t *testing.T) {
	fx := newFixture(t)
	settled := make(chan result, 1)
	fx.run(t, func() {
		if err := fx.vm.Set("capture", func(kind string, v goja.Value) {
			if kind == "ok" {
				settled <- result{value: v.Export()}
			} else {
				settled <- result{err: fmt.Errorf("rejected: %v", v.Export())}
			}
		}); err != nil {
			t.Error(err)
			return
		}
		task := taskbridge.BoxTask[any](taskbridge.TaskFunc[any](func(taskbridge.Waker) (any, error, bool) {
			return "hello", nil, true
		}))
		promise, err := fx.adapter.PromiseFromTask(task)
		if err != nil {
			t.Error(err)
			return
		}
		if err := fx.vm.Set("p", promise); err != nil {
			t.Error(err)
			return
		}
		if _, err := fx.vm.RunString(`p.then(v => capture("ok", v), e => capture("err", e))`); err != nil {
			t.Error(err)
		}
	})
	res := fx.awaitReaction(t, settled)
	if res.err != nil {
		t.Fatal(res.err)
	}
	if res.value != "hello" {
		t.Fatalf("got %v, want hello", res.value)
	}
}

func TestPromiseFromTask_Rejection(t *testing.T) {
	fx := newFixture(t)
	settled := make(chan result, 1)
	fx.run(t, func() {
		if err := fx.vm.Set("capture", func(kind string, v goja.Value) {
			settled <- result{value: v.Export(), err: fmt.Errorf("%s", kind)}
		}); err != nil {
			t.Error(err)
			return
		}
		task := taskbridge.BoxTask[any](taskbridge.TaskFunc[any](func(taskbridge.Waker) (any, error, bool) {
			return nil, &RejectionError{Reason: "nope"}, true
		}))
		promise, err := fx.adapter.PromiseFromTask(task)
		if err != nil {
			t.Error(err)
			return
		}
		if err := fx.vm.Set("p", promise); err != nil {
			t.Error(err)
			return
		}
		if _, err := fx.vm.RunString(`p.then(v => capture("ok", v), e => capture("err", e))`); err != nil {
			t.Error(err)
		}
	})
	res := fx.awaitReaction(t, settled)
	if res.err == nil || res.err.Error() != "err" {
		t.Fatalf("promise did not reject: %v", res.err)
	}
	if res.value != "nope" {
		t.Fatalf("reason %v, want nope (RejectionError should unwrap)", res.value)
	}
}

func TestPromiseFromTask_OffReactorGoroutine(t *testing.T) {
	fx := newFixture(t)
	task := taskbridge.BoxTask[any](taskbridge.TaskFunc[any](func(taskbridge.Waker) (any, error, bool) {
		return nil, nil, true
	}))
	if _, err := fx.adapter.PromiseFromTask(task); err == nil {
		t.Fatal("PromiseFromTask accepted a call off the reactor goroutine")
	}
}

func TestRoundTrip_JSToGoToJS(t *testing.T) {
	fx := newFixture(t)
	settled := make(chan result, 1)
	fx.run(t, func() {
		if err := fx.vm.Set("capture", func(kind string, v goja.Value) {
			settled <- result{value: v.Export()}
		}); err != nil {
			t.Error(err)
			return
		}
		v, err := fx.vm.RunString(`Promise.resolve(21)`)
		if err != nil {
			t.Error(err)
			return
		}
		node, err := fx.adapter.NodeFromValue(v)
		if err != nil {
			t.Error(err)
			return
		}
		inner := taskbridge.AwaitNode(node)
		doubler := taskbridge.TaskFunc[any](func(w taskbridge.Waker) (any, error, bool) {
			value, err, done := inner.Poll(w)
			if !done {
				return nil, nil, false
			}
			if err != nil {
				return nil, err, true
			}
			return value.(int64) * 2, nil, true
		})
		promise, err := fx.adapter.PromiseFromTask(taskbridge.BoxTask[any](doubler))
		if err != nil {
			t.Error(err)
			return
		}
		if err := fx.vm.Set("p", promise); err != nil {
			t.Error(err)
			return
		}
		if _, err := fx.vm.RunString(`p.then(v => capture("ok", v), e => capture("err", e))`); err != nil {
			t.Error(err)
		}
	})
	res := fx.awaitReaction(t, settled)
	if res.value != int64(42) {
		t.Fatalf("got %v (%T), want 42", res.value, res.value)
	}
}
