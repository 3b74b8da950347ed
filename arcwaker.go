package taskbridge

import (
	"fmt"
	"sync/atomic"
)

// pollTarget is the adapter surface a poll scope and its cloned wakers
// signal back into.
type pollTarget interface {
	taskReactor() Reactor
	// schedulePoll submits a re-poll to the reactor queue. Any goroutine.
	schedulePoll()
	// armDirect requests a re-poll without queueing. Reactor goroutine only.
	armDirect()
}

// arcWaker is the cross-goroutine form of a poll scope's waker: a reference
// counted, one-shot wake handle. Clones taken during a poll may outlive the
// poll and be woken or released from any goroutine; the first wake schedules
// exactly one re-poll, and subsequent wakes on the same handle are no-ops.
type arcWaker struct {
	refs   atomic.Int64
	fired  atomic.Bool
	target pollTarget
}

func newArcWaker(target pollTarget) *arcWaker {
	a := &arcWaker{target: target}
	a.refs.Store(1)
	return a
}

func (a *arcWaker) Clone() HostCallback {
	if a.refs.Add(1) <= 1 {
		panic("taskbridge: clone of a released waker")
	}
	return a
}

func (a *arcWaker) Wake() {
	a.WakeByRef()
	a.Drop()
}

func (a *arcWaker) WakeByRef() {
	if a.fired.CompareAndSwap(false, true) {
		a.target.schedulePoll()
	}
}

func (a *arcWaker) Drop() {
	if a.refs.Add(-1) < 0 {
		panic("taskbridge: waker released more times than it was cloned")
	}
}

type pollDisposition uint8

const (
	// pollIdle: no wake was requested and no clone escaped the poll.
	pollIdle pollDisposition = iota
	// pollWokenSync: the task woke its waker during the poll itself.
	pollWokenSync
	// pollClonedPending: a clone escaped the poll; a wake may arrive later
	// from any goroutine.
	pollClonedPending
)

// pollScope is the waker the adapter lends to the task for the duration of
// one poll. It implements [ReactorWaker], so awaiters the task suspends on
// can recover it and arm the adapter directly instead of cloning.
//
// Except for clones (which are arcWakers and fully synchronized), a scope is
// only touched on the reactor goroutine during its poll; plain fields
// suffice.
type pollScope struct {
	target    pollTarget
	cloned    *arcWaker
	wakeCount int
	dropCount int
}

// Clone lazily promotes the scope to an arcWaker, shared by every clone
// taken during this poll.
func (s *pollScope) Clone() HostCallback {
	if s.cloned == nil {
		s.cloned = newArcWaker(s.target)
		s.cloned.refs.Add(1)
		return s.cloned
	}
	return s.cloned.Clone()
}

// Wake panics: the scope's waker is lent by reference for the duration of a
// poll and is never owned by the task, so a consuming wake is a contract
// violation.
func (s *pollScope) Wake() {
	panic("taskbridge: consuming wake of a borrowed poll waker")
}

func (s *pollScope) WakeByRef() {
	s.wakeCount++
}

func (s *pollScope) Drop() {
	s.dropCount++
}

func (s *pollScope) IsCurrent() bool {
	return s.target.taskReactor().IsCurrent()
}

func (s *pollScope) ArmPoll() {
	s.target.armDirect()
}

// reset concludes the poll and reports how it left the waker. The scope's
// lent waker must have been released exactly once.
func (s *pollScope) reset() pollDisposition {
	if s.dropCount != 1 {
		panic(fmt.Sprintf("taskbridge: poll waker released %d times, want exactly 1", s.dropCount))
	}
	cloned := s.cloned
	woken := s.wakeCount > 0
	s.cloned = nil
	s.wakeCount = 0
	s.dropCount = 0
	if cloned != nil {
		cloned.Drop()
	}
	switch {
	case woken:
		return pollWokenSync
	case cloned != nil:
		return pollClonedPending
	default:
		return pollIdle
	}
}
