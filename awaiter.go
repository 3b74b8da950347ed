package taskbridge

// PromiseAwaiter suspends a poll-based task on a [PromiseNode], waking the
// task when the node settles. It is created via [PromiseNode.Awaiter] and is
// confined to the node's reactor goroutine.
//
// The first call to [PromiseAwaiter.Poll] arms the awaiter: the node is
// observed in place and a readiness subscription is constructed lazily, so
// an awaiter that is never polled never touches the node beyond destroying
// it on [PromiseAwaiter.Close].
type PromiseAwaiter struct {
	_       noCopy
	pending ReactorNode
	reactor Reactor
	sub     LazySlot[promiseSubscription]
	// waker outlives the subscription's registration with the node: the
	// subscription holds a pointer to it, so it is stored on the awaiter.
	waker  OptionWaker
	closed bool
}

// Poll reports whether the node has settled. While it returns false, the
// awaiter retains w (or, when w is the driving reactor's own waker, a direct
// arm of its poll event) so settlement triggers exactly one wake. Poll may
// be called again after readiness; it keeps returning true. It panics if
// called off the reactor goroutine, or after Close.
func (a *PromiseAwaiter) Poll(w Waker) bool {
	if a.closed {
		panic("taskbridge: poll of closed promise awaiter")
	}
	rw, _ := ReactorWakerFor(w)
	return a.subscription().poll(w, rw)
}

// TakeNode detaches the settled node as a fresh [PromiseNode] handle, so the
// result can be re-awaited, forwarded, or dropped. It panics if the awaiter
// was never polled, the node has not settled, or the node was already taken.
func (a *PromiseAwaiter) TakeNode() *PromiseNode {
	if !a.sub.Initialized() {
		panic("taskbridge: take from an awaiter that was never polled")
	}
	s := a.subscription()
	s.guard()
	if !s.ready {
		panic("taskbridge: take from an awaiter that is not ready")
	}
	if s.node == nil {
		panic("taskbridge: promise node already taken")
	}
	node := s.node
	s.node = nil
	return NewPromiseNode(a.reactor, node)
}

// TakeResult is shorthand for taking the settled node and extracting its
// value or error, releasing the node in the process.
func (a *PromiseAwaiter) TakeResult() (any, error) {
	n := a.TakeNode()
	defer n.Drop()
	return n.node.Result()
}

// Close releases the awaiter. If the node is still held (pending, or settled
// but untaken) it is destroyed, requesting cancellation of pending work.
// Close is idempotent and never panics on an already-settled awaiter.
func (a *PromiseAwaiter) Close() {
	if a.closed {
		return
	}
	a.closed = true
	if a.pending != nil {
		node := a.pending
		a.pending = nil
		node.Destroy()
	}
	a.sub.Destroy(func(s *promiseSubscription) { s.destroy() })
}

func (a *PromiseAwaiter) subscription() *promiseSubscription {
	return a.sub.GetOrInit(func(s *promiseSubscription) {
		node := a.pending
		a.pending = nil
		s.reactor = a.reactor
		s.waker = &a.waker
		s.node = node
		// Settled nodes fire synchronously here, before the first poll
		// inspects s.ready. No waker is stored yet, so no wake occurs.
		node.OnReady(s.fireReady)
	})
}

// promiseSubscription is the armed state of a PromiseAwaiter: the node, the
// awaiter's waker slot, and at most one of two wake routes. Either a cloned
// waker sits in *waker (generic route), or rw holds the driving reactor's
// own waker for a direct arm of its poll event (optimized route).
type promiseSubscription struct {
	reactor Reactor
	waker   *OptionWaker
	node    ReactorNode
	rw      ReactorWaker
	ready   bool
}

func (s *promiseSubscription) guard() {
	if !s.reactor.IsCurrent() {
		panic("taskbridge: promise awaiter used off its reactor goroutine")
	}
}

func (s *promiseSubscription) poll(w Waker, rw ReactorWaker) bool {
	s.guard()
	if s.ready {
		return true
	}
	if rw != nil {
		// The poller is the reactor's own scope. Arm its event directly on
		// readiness; any stale clone from an earlier poll is released.
		s.waker.SetNone()
		s.rw = rw
	} else {
		s.rw = nil
		s.waker.Set(w)
	}
	return false
}

// fireReady runs on the reactor goroutine when the node settles. Whichever
// wake route the latest poll installed is taken, exactly once.
func (s *promiseSubscription) fireReady() {
	if s.ready {
		return
	}
	s.ready = true
	if s.rw != nil {
		rw := s.rw
		s.rw = nil
		rw.ArmPoll()
		return
	}
	if s.waker.IsSet() {
		s.waker.Wake()
	}
}

func (s *promiseSubscription) destroy() {
	if s.node != nil {
		node := s.node
		s.node = nil
		node.OnReady(nil)
		node.Destroy()
	}
	s.rw = nil
	s.waker.SetNone()
}

// AwaitNode adapts a [PromiseNode] into a [Task] producing the node's
// settled value or error. The returned task implements Close, cancelling
// the node if it is dropped before settlement.
func AwaitNode(p *PromiseNode) Task[any] {
	return &nodeTask{awaiter: p.Awaiter()}
}

type nodeTask struct {
	awaiter *PromiseAwaiter
	done    bool
}

func (t *nodeTask) Poll(w Waker) (any, error, bool) {
	if t.done {
		panic("taskbridge: poll of completed node task")
	}
	if !t.awaiter.Poll(w) {
		return nil, nil, false
	}
	t.done = true
	value, err := t.awaiter.TakeResult()
	return value, err, true
}

func (t *nodeTask) Close() {
	t.awaiter.Close()
}
