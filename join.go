package reentry

// Join2 returns an [Operation] that runs a and b, each in its own child
// task, and completes once both children have reached a terminal state,
// in whichever order that happens. A child that finishes first keeps its
// result; it is not polled again and is never canceled by the join.
//
// If a child fails, the join still waits for the sibling, then fails with
// the earliest failure in settlement order, discarding the sibling's
// result.
func Join2(a, b Operation) Operation {
	var ta, tb *Task
	return func(t *Task) Result {
		if ta == nil {
			ta = t.Spawn(a)
			tb = t.Spawn(b)
			return t.Await()
		}
		if !ta.Terminal() || !tb.Terminal() {
			return t.Await()
		}
		first, second := ta, tb
		if tb.doneAt < ta.doneAt {
			first, second = tb, ta
		}
		var err error
		for _, c := range []*Task{first, second} {
			if err == nil {
				err = c.Err()
			}
			if derr := t.rt.Destroy(c); err == nil {
				err = derr
			}
		}
		if err != nil {
			return t.Fail(err)
		}
		return t.End()
	}
}
