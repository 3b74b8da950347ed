package reactor

import (
	"errors"
	"sync/atomic"

	taskbridge "github.com/joeycumines/go-taskbridge"
)

// ErrNilRejection replaces a nil error passed to Fulfiller.Reject, so a
// rejected promise always carries a non-nil error.
var ErrNilRejection = errors.New("reactor: promise rejected with nil error")

// NewPromise returns a pending promise as a consumable node handle, paired
// with the fulfiller that settles it. The fulfiller is single-shot and safe
// from any goroutine; settlement always lands on the reactor goroutine.
func (r *Reactor) NewPromise() (*taskbridge.PromiseNode, taskbridge.Fulfiller) {
	return r.NewPromiseWithCancel(nil)
}

// NewPromiseWithCancel is [Reactor.NewPromise] with a cancellation hook:
// onCancel runs on the reactor goroutine if the node is destroyed while
// still pending (for example, when an awaiter holding it is dropped). It
// never runs after settlement.
func (r *Reactor) NewPromiseWithCancel(onCancel func()) (*taskbridge.PromiseNode, taskbridge.Fulfiller) {
	n := &promiseNode{r: r, onCancel: onCancel}
	return taskbridge.NewPromiseNode(r, n), &promiseFulfiller{node: n}
}

// promiseNode implements taskbridge.ReactorNode. All fields are confined to
// the reactor goroutine.
type promiseNode struct {
	r         *Reactor
	value     any
	err       error
	fire      func()
	onCancel  func()
	settled   bool
	destroyed bool
}

func (n *promiseNode) OnReady(fire func()) {
	if fire == nil {
		n.fire = nil
		return
	}
	if n.settled {
		fire()
		return
	}
	n.fire = fire
}

func (n *promiseNode) Result() (any, error) {
	if !n.settled {
		panic("reactor: result of an unsettled promise")
	}
	return n.value, n.err
}

func (n *promiseNode) Destroy() {
	if n.destroyed {
		return
	}
	n.destroyed = true
	n.fire = nil
	if !n.settled && n.onCancel != nil {
		cancel := n.onCancel
		n.onCancel = nil
		cancel()
	}
}

func (n *promiseNode) settle(value any, err error) {
	if n.destroyed || n.settled {
		return
	}
	n.settled = true
	n.value, n.err = value, err
	n.onCancel = nil
	if n.fire != nil {
		fire := n.fire
		n.fire = nil
		fire()
	}
}

// promiseFulfiller is the write side of a promiseNode. The first of Fulfill
// or Reject wins; later calls are ignored.
type promiseFulfiller struct {
	node *promiseNode
	once atomic.Bool
}

func (f *promiseFulfiller) Fulfill(value any) {
	f.settle(value, nil)
}

func (f *promiseFulfiller) Reject(err error) {
	if err == nil {
		err = ErrNilRejection
	}
	f.settle(nil, err)
}

func (f *promiseFulfiller) settle(value any, err error) {
	if !f.once.CompareAndSwap(false, true) {
		return
	}
	n := f.node
	if n.r.IsCurrent() {
		n.settle(value, err)
		return
	}
	// The node may already be destroyed by the time this runs; settle
	// tolerates that. A failed submit means the reactor terminated.
	_ = n.r.Submit(func() { n.settle(value, err) })
}
