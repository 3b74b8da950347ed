package taskbridge

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testReactor is a manually pumped reactor. By default it considers the
// goroutine that created it to be the reactor goroutine, so tests can call
// goroutine-confined code directly and pump submitted work inline.
type testReactor struct {
	mu         sync.Mutex
	queue      []func()
	gid        atomic.Uint64
	terminated atomic.Bool
}

func newTestReactor() *testReactor {
	r := &testReactor{}
	r.gid.Store(goroutineID())
	return r
}

func (r *testReactor) Submit(fn func()) error {
	if r.terminated.Load() {
		return errors.New("test reactor terminated")
	}
	r.mu.Lock()
	r.queue = append(r.queue, fn)
	r.mu.Unlock()
	return nil
}

func (r *testReactor) IsCurrent() bool {
	id := r.gid.Load()
	return id != 0 && id == goroutineID()
}

// pump runs queued work until the queue is empty, returning the number of
// callbacks executed.
func (r *testReactor) pump() int {
	n := 0
	for {
		r.mu.Lock()
		q := r.queue
		r.queue = nil
		r.mu.Unlock()
		if len(q) == 0 {
			return n
		}
		for _, fn := range q {
			fn()
		}
		n += len(q)
	}
}

func (r *testReactor) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// waitPending blocks until work arrives from another goroutine.
func (r *testReactor) waitPending(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for r.pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for submitted work")
		}
		time.Sleep(time.Millisecond)
	}
}

// stackBufPool keeps goroutineID allocation-free: the buffer escapes through
// runtime.Stack, so a stack-local array would allocate on every call.
var stackBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 64)
		return &buf
	},
}

func goroutineID() uint64 {
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

// stubNode is a scriptable ReactorNode.
type stubNode struct {
	fire      func()
	value     any
	err       error
	settled   bool
	destroys  int
	cancels   int
	registers int
}

func (n *stubNode) OnReady(fire func()) {
	if fire == nil {
		n.fire = nil
		return
	}
	n.registers++
	if n.settled {
		fire()
		return
	}
	n.fire = fire
}

func (n *stubNode) Result() (any, error) {
	return n.value, n.err
}

func (n *stubNode) Destroy() {
	if n.destroys == 0 && !n.settled {
		n.cancels++
	}
	n.destroys++
	n.fire = nil
}

func (n *stubNode) resolve(value any) {
	n.settle(value, nil)
}

func (n *stubNode) fail(err error) {
	n.settle(nil, err)
}

func (n *stubNode) settle(value any, err error) {
	if n.settled {
		return
	}
	n.settled = true
	n.value, n.err = value, err
	if n.fire != nil {
		fire := n.fire
		n.fire = nil
		fire()
	}
}

// countingWaker is a HostCallback that tallies operations. Clone returns the
// receiver, so every clone's wake lands on the same counters.
type countingWaker struct {
	mu     sync.Mutex
	wakes  int
	clones int
	drops  int
}

func (w *countingWaker) Clone() HostCallback {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clones++
	return w
}

func (w *countingWaker) Wake() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.wakes++
}

func (w *countingWaker) WakeByRef() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.wakes++
}

func (w *countingWaker) Drop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.drops++
}

func (w *countingWaker) counts() (wakes, clones, drops int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wakes, w.clones, w.drops
}

// stubReactorWaker additionally satisfies ReactorWaker, pinned to r.
type stubReactorWaker struct {
	countingWaker
	r    Reactor
	arms int
}

func (w *stubReactorWaker) IsCurrent() bool {
	return w.r.IsCurrent()
}

func (w *stubReactorWaker) ArmPoll() {
	w.arms++
}

// countingFulfiller records terminal signals.
type countingFulfiller struct {
	fulfills int
	rejects  int
	value    any
	err      error
}

func (f *countingFulfiller) Fulfill(value any) {
	f.fulfills++
	f.value = value
}

func (f *countingFulfiller) Reject(err error) {
	f.rejects++
	f.err = err
}

// mustPanic asserts fn panics, returning the panic value.
func mustPanic(t *testing.T, fn func()) (recovered any) {
	t.Helper()
	defer func() {
		recovered = recover()
		if recovered == nil {
			t.Fatal("expected panic")
		}
	}()
	fn()
	return nil
}
