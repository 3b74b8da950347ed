package taskbridge

import "fmt"

// PanicError wraps a value recovered from a panicking task poll so the panic
// can be reported through the normal rejection path instead of unwinding the
// reactor goroutine.
type PanicError struct {
	// Value is the value the task panicked with.
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("taskbridge: task panicked: %v", e.Value)
}

// Unwrap returns the panic value when it is itself an error, allowing
// errors.Is and errors.As to see through the wrapper.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
