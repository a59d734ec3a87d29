package reentry

import "time"

// Sleep returns an [Operation] that suspends the running task until the
// runtime's [Reactor] fires a timer after d.
//
// Sleep is the canonical resource-owning computation: while the timer is
// in flight, the task carries a cleanup that disarms it. Destroying the
// task mid-sleep cancels the timer and then awaits the reactor's
// asynchronous cancellation confirmation, which is exactly the case the
// nested run-to-completion primitive exists for.
func Sleep(d time.Duration) Operation {
	var tok Token
	armed := false
	return func(t *Task) Result {
		if !armed {
			tk, err := t.Schedule(TimerRequest{Duration: d})
			if err != nil {
				return t.Fail(err)
			}
			tok, armed = tk, true
			t.OnDestroy(cancelTimer(tok))
			return t.Await()
		}
		for {
			ev, ok := t.TakeEvent()
			if !ok {
				return t.Await()
			}
			if ev.Token == tok && !ev.Canceled {
				t.OnDestroy(nil)
				return t.End()
			}
		}
	}
}

// cancelTimer is the cleanup computation of a canceled [Sleep]: disarm
// the timer, then suspend until the reactor confirms the cancellation.
func cancelTimer(tok Token) Operation {
	return func(t *Task) Result {
		if err := t.Cancel(tok); err != nil {
			// The timer fired before the cancel landed; nothing is in
			// flight anymore.
			return t.End()
		}
		return t.Yield(func(t *Task) Result {
			for {
				ev, ok := t.TakeEvent()
				if !ok {
					return t.Await()
				}
				if ev.Token == tok && ev.Canceled {
					return t.End()
				}
			}
		})
	}
}
