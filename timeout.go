package reentry

import "time"

// WithTimeout returns an [Operation] that runs op but gives up after d.
// It is sugar over [Select2] against a [Sleep] task: if op finishes first
// the timer is disarmed; if the timer fires first, op's task is destroyed,
// with its cleanup drained per [Runtime.Destroy], and the operation fails
// with [ErrTimeout].
func WithTimeout(op Operation, d time.Duration) Operation {
	var sel *Select
	var inner *Task
	return func(t *Task) Result {
		if sel == nil {
			sel = Select2(op, Sleep(d))
			inner = t.Spawn(sel.Op)
			return t.Await()
		}
		if !inner.Terminal() {
			return t.Await()
		}
		err := inner.Err()
		if derr := t.rt.Destroy(inner); err == nil {
			err = derr
		}
		if err != nil {
			return t.Fail(err)
		}
		if sel.Winner() == BranchB {
			return t.Fail(ErrTimeout)
		}
		return t.End()
	}
}
