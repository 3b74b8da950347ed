package taskbridge

// Reactor is the minimal surface the bridge needs from a cooperative,
// single-threaded event loop. Submit schedules fn to run on the reactor
// goroutine and is safe to call from any goroutine; it returns an error if
// the reactor can no longer run work. IsCurrent reports whether the calling
// goroutine is the reactor goroutine.
//
// The reactor subpackage provides a full implementation.
type Reactor interface {
	Submit(fn func()) error
	IsCurrent() bool
}

// ReactorNode is the reactor-side representation of one pending or settled
// promise. All methods are confined to the reactor goroutine.
//
// OnReady registers fire to be invoked, on the reactor goroutine, when the
// node settles; if the node is already settled, fire is invoked synchronously
// before OnReady returns. Registering nil clears any prior registration. At
// most one registration is active at a time, and fire is invoked at most
// once per registration.
//
// Result returns the settled value or error, and is only valid after the
// node has settled. Destroy releases the node, requesting cancellation of
// any still-pending work; it is idempotent, and after it returns fire will
// never be invoked.
type ReactorNode interface {
	OnReady(fire func())
	Result() (any, error)
	Destroy()
}

// Fulfiller receives the terminal signal of an adapted task. Exactly one of
// Fulfill or Reject is invoked, at most once; implementations must tolerate
// (and ignore) redundant calls.
type Fulfiller interface {
	Fulfill(value any)
	Reject(err error)
}

// PromiseNode is a move-only handle to a [ReactorNode]. It is consumed
// exactly once, either by [PromiseNode.Awaiter] (to await it from a task) or
// by [PromiseNode.Drop] (to cancel it). Consuming it twice panics. It is
// confined to the reactor goroutine.
type PromiseNode struct {
	_        noCopy
	node     ReactorNode
	reactor  Reactor
	consumed bool
}

// NewPromiseNode wraps node, which must belong to r, in a consumable handle.
func NewPromiseNode(r Reactor, node ReactorNode) *PromiseNode {
	if r == nil {
		panic("taskbridge: nil reactor")
	}
	if node == nil {
		panic("taskbridge: nil reactor node")
	}
	return &PromiseNode{node: node, reactor: r}
}

// Awaiter consumes the handle and returns an awaiter for it. The underlying
// node is not observed until the awaiter is first polled.
func (p *PromiseNode) Awaiter() *PromiseAwaiter {
	node, r := p.take()
	return &PromiseAwaiter{pending: node, reactor: r}
}

// Drop consumes the handle without awaiting it, destroying the underlying
// node and thereby requesting cancellation of pending work. Drop after the
// handle was already consumed is a no-op.
func (p *PromiseNode) Drop() {
	if p.consumed {
		return
	}
	p.consumed = true
	node := p.node
	p.node = nil
	node.Destroy()
}

func (p *PromiseNode) take() (ReactorNode, Reactor) {
	if p.consumed {
		panic("taskbridge: promise node handle consumed twice")
	}
	p.consumed = true
	node := p.node
	p.node = nil
	return node, p.reactor
}
