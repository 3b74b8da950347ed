package taskbridge

// noCopy may be embedded into structs which must not be copied after first
// use. go vet's copylocks check reports copies of types containing it.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// LazySlot holds a value of type T that is constructed in place on first
// access and destroyed in place at most once. The value's address is stable
// for the lifetime of the slot, so the value may safely hand out interior
// pointers (for example, a readiness callback bound to itself).
//
// The zero value is an empty, usable slot. A LazySlot must not be copied
// after first use.
type LazySlot[T any] struct {
	_         noCopy
	value     T
	ready     bool
	destroyed bool
}

// GetOrInit returns the address of the slot's value, running init exactly
// once (on the first call) to construct it in place. init receives the
// zero-valued storage and must leave it fully constructed; it must not call
// back into the slot. GetOrInit panics if the slot has been destroyed.
func (s *LazySlot[T]) GetOrInit(init func(*T)) *T {
	if s.destroyed {
		panic("taskbridge: use of destroyed lazy slot")
	}
	if !s.ready {
		init(&s.value)
		s.ready = true
	}
	return &s.value
}

// Initialized reports whether the slot's value has been constructed.
func (s *LazySlot[T]) Initialized() bool {
	return s.ready
}

// Destroy runs dtor on the value if and only if the slot was initialized,
// then marks the slot destroyed. It is idempotent: repeat calls do nothing.
// A slot that was never initialized is destroyed without running dtor.
func (s *LazySlot[T]) Destroy(dtor func(*T)) {
	if s.destroyed {
		return
	}
	s.destroyed = true
	if s.ready && dtor != nil {
		dtor(&s.value)
	}
}
