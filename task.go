package taskbridge

// Task is a unit of poll-based work producing a value of type T. Poll either
// completes, returning the result with done true, or suspends, returning
// done false after arranging (via w) to be woken when progress is possible.
// A task that suspends without retaining a clone of w will never be polled
// again.
//
// Poll is confined to the reactor goroutine driving the task. Once Poll has
// returned done true, it must not be called again.
type Task[T any] interface {
	Poll(w Waker) (value T, err error, done bool)
}

// TaskFunc adapts a plain function to the [Task] interface.
type TaskFunc[T any] func(w Waker) (T, error, bool)

// Poll implements [Task].
func (f TaskFunc[T]) Poll(w Waker) (T, error, bool) {
	return f(w)
}

type boxedState uint8

const (
	boxedPending boxedState = iota
	boxedReady
	boxedConsumed
	boxedDropped
)

// BoxedTask owns a [Task] across the bridge boundary, enforcing its
// lifecycle: it is polled only until ready, its result is taken at most
// once, and it is dropped exactly once. After [BoxedTask.Drop], every other
// method panics.
//
// BoxedTask is confined to the reactor goroutine and must not be copied.
type BoxedTask[T any] struct {
	_     noCopy
	task  Task[T]
	value T
	err   error
	state boxedState
}

// BoxTask wraps t for ownership by a [TaskPromiseAdapter] or direct driving.
// If t implements Close(), it is called when the box is dropped, whether or
// not the task completed.
func BoxTask[T any](t Task[T]) *BoxedTask[T] {
	if t == nil {
		panic("taskbridge: nil task")
	}
	return &BoxedTask[T]{task: t}
}

// Poll advances the task, returning true once the result is available via
// [BoxedTask.Take]. Polling a task that already completed, or that was
// dropped, panics.
func (b *BoxedTask[T]) Poll(w Waker) bool {
	switch b.state {
	case boxedPending:
	case boxedDropped:
		panic("taskbridge: poll of dropped task")
	default:
		panic("taskbridge: poll of completed task")
	}
	value, err, done := b.task.Poll(w)
	if done {
		b.value, b.err = value, err
		b.state = boxedReady
	}
	return done
}

// Ready reports whether the task has completed and its result has not yet
// been taken.
func (b *BoxedTask[T]) Ready() bool {
	return b.state == boxedReady
}

// Take returns the completed task's result, at most once. It panics if the
// task has not completed, or if the result was already taken.
func (b *BoxedTask[T]) Take() (T, error) {
	if b.state != boxedReady {
		panic("taskbridge: take from a task that is not ready")
	}
	b.state = boxedConsumed
	value, err := b.value, b.err
	var zero T
	b.value, b.err = zero, nil
	return value, err
}

// Drop releases the task, calling its Close method if it has one. Drop is
// idempotent.
func (b *BoxedTask[T]) Drop() {
	if b.state == boxedDropped {
		return
	}
	b.state = boxedDropped
	task := b.task
	b.task = nil
	if c, ok := task.(interface{ Close() }); ok {
		c.Close()
	}
}
