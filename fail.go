package reentry

import (
	"fmt"
	"runtime/debug"
)

// A ComputationError is the failure recorded for a [Task] whose [Operation]
// panicked. The panic value and the stack trace captured at the panic site
// are retained.
type ComputationError struct {
	value any
	stack []byte
}

// Value returns the recovered panic value.
func (e *ComputationError) Value() any { return e.value }

func (e *ComputationError) Error() string {
	return fmt.Sprintf("reentry: task panicked: %v\n\n%s", e.value, e.stack)
}

// Unwrap exposes a panic value that is itself an error.
func (e *ComputationError) Unwrap() error {
	if err, ok := e.value.(error); ok {
		return err
	}
	return nil
}

// trap calls f, converting a panic into a *ComputationError.
// In order to keep the scheduler loop alive, a panicking poll is recovered
// immediately, which means capturing a stack trace with [debug.Stack] on
// every panic.
func trap(f func()) (err error) {
	done := false
	defer func() {
		if done {
			return
		}
		v := recover()
		if v == nil {
			panic("reentry: runtime.Goexit is not supported in an Operation")
		}
		err = &ComputationError{value: v, stack: debug.Stack()}
	}()
	f()
	done = true
	return nil
}
