package reentry

import (
	"errors"
	"fmt"
)

// ErrNestedOverflow is returned by [Runtime.NestedRun] (and by destroy paths
// that drain an asynchronous cleanup) when starting another nested frame
// would exceed the configured maximum nesting depth.
var ErrNestedOverflow = errors.New("reentry: nested run depth exceeded")

// ErrTimeout is the failure a [WithTimeout] task reports when the timer wins.
var ErrTimeout = errors.New("reentry: timed out")

// ErrReactorIdle is returned by a [Reactor] when it is asked to block for
// the next event but has no operation in flight. The runtime surfaces it
// from Run as a fatal error: nothing is ready and nothing can ever become
// ready again.
var ErrReactorIdle = errors.New("reentry: reactor has no pending events")

// A SubmissionError reports that a [Reactor] rejected a Schedule or Cancel
// request. It is surfaced synchronously to the caller; the runtime itself
// never retries.
type SubmissionError struct {
	Op     string // "schedule" or "cancel"
	Reason string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("reentry: reactor %s rejected: %s", e.Op, e.Reason)
}
