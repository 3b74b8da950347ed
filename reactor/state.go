package reactor

import (
	"sync/atomic"
)

// State represents the current state of the reactor.
//
// State machine:
//
//	StateAwake → StateRunning          [Run]
//	StateRunning → StateSleeping       [idle via CAS]
//	StateSleeping → StateRunning       [wake via CAS]
//	StateRunning|Sleeping → StateTerminating [Shutdown / ctx cancel]
//	StateAwake → StateTerminated       [Shutdown before Run]
//	StateTerminating → StateTerminated [drain complete]
//
// Temporary states (Running, Sleeping) are only ever entered via CAS;
// terminal states are stored unconditionally.
type State uint64

const (
	// StateAwake indicates the reactor has been created but not started.
	StateAwake State = iota
	// StateRunning indicates the reactor is actively processing work.
	StateRunning
	// StateSleeping indicates the reactor is blocked waiting for work.
	StateSleeping
	// StateTerminating indicates shutdown has been requested but the final
	// drain has not completed.
	StateTerminating
	// StateTerminated indicates the reactor is fully shut down.
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state machine with cache-line padding to prevent
// false sharing between cores.
type fastState struct {
	_ [64]byte //nolint:unused
	v atomic.Uint64
	_ [56]byte //nolint:unused
}

func newFastState() *fastState {
	s := &fastState{}
	s.v.Store(uint64(StateAwake))
	return s
}

func (s *fastState) Load() State {
	return State(s.v.Load())
}

func (s *fastState) Store(state State) {
	s.v.Store(uint64(state))
}

func (s *fastState) TryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

func (s *fastState) TransitionAny(validFrom []State, to State) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint64(from), uint64(to)) {
			return true
		}
	}
	return false
}

// CanAcceptWork returns true if the reactor can accept new work. Terminating
// still accepts: queued work is executed by the final drain before the
// Terminated state is committed.
func (s *fastState) CanAcceptWork() bool {
	return s.Load() != StateTerminated
}
