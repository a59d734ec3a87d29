package reentry

import "fmt"

// A TaskID is the stable key of a [Task] in a [Runtime]'s task table.
// Parent/child and freeze-set relationships are stored as TaskIDs, never as
// owning pointers.
type TaskID uint64

type taskState uint8

const (
	stateReady taskState = iota
	stateRunning
	statePending
	stateCompleted
	stateFailed
)

func (s taskState) String() string {
	switch s {
	case stateReady:
		return "ready"
	case stateRunning:
		return "running"
	case statePending:
		return "pending"
	case stateCompleted:
		return "completed"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func validTransition(from, to taskState) bool {
	switch from {
	case stateReady:
		return to == stateRunning
	case stateRunning:
		return to == statePending || to == stateCompleted || to == stateFailed
	case statePending:
		return to == stateReady
	default:
		return false
	}
}

// A Task is an execution of code, similar to a goroutine but cooperative,
// stackless and single-threaded.
//
// A Task is created with a function called [Operation].
// A Task's job is to complete it.
// The [Runtime] runs the Task by calling the Operation function with
// the Task as the argument; the returned [Result] determines whether
// the Task completed, suspended, or switched to another Operation.
//
// A suspended Task resumes when an [Event] addressed to it is delivered, or
// when a child Task it spawned reaches a terminal state.
type Task struct {
	id      TaskID
	rt      *Runtime
	op      Operation
	state   taskState
	err     error
	frozen  bool // excluded from polling; a nested frame owns it
	polling bool // a poll of this task is live on the call stack
	woken   bool // resumed while polling or frozen; consumed later
	queued  bool // sitting in the ready queue
	doomed  bool // reaped while its poll was live; destroyed at poll end

	parent   TaskID
	children []TaskID
	inbox    []Event
	cleanup  Operation
	doneAt   uint64 // settlement stamp; orders terminal states across tasks
}

func (t *Task) setState(to taskState) {
	if !validTransition(t.state, to) {
		panic(fmt.Sprintf("reentry: internal error: task %d cannot go %s -> %s", t.id, t.state, to))
	}
	t.state = to
}

func (t *Task) terminal() bool {
	return t.state == stateCompleted || t.state == stateFailed
}

// ID returns the identity of t in its [Runtime]'s task table.
func (t *Task) ID() TaskID { return t.id }

// Runtime returns the [Runtime] that owns t.
func (t *Task) Runtime() *Runtime { return t.rt }

// Completed reports whether t has completed successfully.
func (t *Task) Completed() bool { return t.state == stateCompleted }

// Failed reports whether t has failed.
func (t *Task) Failed() bool { return t.state == stateFailed }

// Terminal reports whether t has reached a terminal state, either
// completed or failed. A terminal Task is never polled again.
func (t *Task) Terminal() bool { return t.terminal() }

// Err returns the failure of t, or nil if t completed or is still live.
func (t *Task) Err() error { return t.err }

// Frozen reports whether t is frozen, that is, temporarily excluded from
// polling because a poll of it is live on the call path of an active
// nested frame.
func (t *Task) Frozen() bool { return t.frozen }

// Spawn creates a child Task of t to work on op and marks it ready.
// The child is polled by whichever frame is currently driving the runtime;
// t is woken whenever one of its children reaches a terminal state.
func (t *Task) Spawn(op Operation) *Task {
	if t.terminal() {
		panic("reentry: spawn on a terminal task")
	}
	return t.rt.spawn(op, t.id)
}

// Schedule submits an asynchronous request to the runtime's [Reactor] on
// behalf of t. The completion [Event] is addressed to t.
func (t *Task) Schedule(req Request) (Token, error) {
	return t.rt.reactor.Schedule(t.id, req)
}

// Cancel asks the runtime's [Reactor] to cancel a previously scheduled
// operation. Cancellation is not immediate: the reactor confirms it with
// a later [Event] whose Canceled field is set.
func (t *Task) Cancel(tok Token) error {
	return t.rt.reactor.Cancel(tok)
}

// TakeEvent pops the oldest buffered [Event] delivered to t, if any.
// Events are delivered in arrival order and consumed exactly once.
func (t *Task) TakeEvent() (Event, bool) {
	if len(t.inbox) == 0 {
		return Event{}, false
	}
	ev := t.inbox[0]
	t.inbox = t.inbox[1:]
	return ev, true
}

// OnDestroy registers op as the cleanup computation of t, replacing any
// previous one. When t is destroyed, the runtime runs op, as a task, to
// completion before t is released; if op suspends, the destroy path drives
// it with a nested frame. Passing nil clears the registration: a Task
// whose resources are already released should do so, because a Task that
// reached a terminal state cannot be polled again, not even for cleanup.
func (t *Task) OnDestroy(op Operation) {
	t.cleanup = op
}

type action uint8

const (
	doEnd action = iota
	doYield
	doSwitch
	doFail
)

// Result is the type of the return value of an [Operation] function.
// A Result determines what next for a [Task] to do after one poll step.
//
// A Result is created by calling one of [Task.End], [Task.Await],
// [Task.Yield], [Task.Switch] or [Task.Fail].
type Result struct {
	action action
	op     Operation
	err    error
}

// End returns a [Result] that completes t.
func (t *Task) End() Result {
	return Result{action: doEnd}
}

// Await returns a [Result] that suspends t. When t is resumed, the same
// [Operation] is called again. An Operation returning Await must have
// registered interest in something that will wake t: a [Reactor] request,
// or the completion of a child Task.
func (t *Task) Await() Result {
	return Result{action: doYield}
}

// Yield returns a [Result] that suspends t. When t is resumed, op is
// called instead of the current [Operation].
func (t *Task) Yield(op Operation) Result {
	if op == nil {
		panic("reentry: Yield(nil)")
	}
	return Result{action: doYield, op: op}
}

// Switch returns a [Result] that makes t work on op immediately, within
// the same poll step.
func (t *Task) Switch(op Operation) Result {
	if op == nil {
		panic("reentry: Switch(nil)")
	}
	return Result{action: doSwitch, op: op}
}

// Fail returns a [Result] that fails t with err.
// The failure propagates to whoever observes t: a parent combinator,
// a nested frame driving t, or [Runtime.Run] if t is the root.
func (t *Task) Fail(err error) Result {
	if err == nil {
		panic("reentry: Fail(nil)")
	}
	return Result{action: doFail, err: err}
}

// An Operation is one step function of a suspendable computation.
// Each call advances the computation and returns a [Result] reporting
// whether it completed, suspended, switched, or failed. The argument is
// the [Task] driving the computation.
type Operation func(t *Task) Result

// Do returns an [Operation] that calls f, and then completes.
func Do(f func()) Operation {
	return func(t *Task) Result {
		f()
		return t.End()
	}
}

// Never returns an [Operation] that suspends forever.
func Never() Operation {
	return (*Task).Await
}

// Then returns an [Operation] that first works on op, then switches to
// next after op completes.
func (op Operation) Then(next Operation) Operation {
	if next == nil {
		panic("reentry: Then(nil)")
	}
	cur := op
	return func(t *Task) Result {
		switch res := cur(t); res.action {
		case doEnd:
			return Result{action: doSwitch, op: next}
		case doYield, doSwitch:
			if res.op != nil {
				cur = res.op
			}
			return Result{action: res.action}
		default:
			return res
		}
	}
}

// Chain returns an [Operation] that works on each of the provided
// Operations in sequence. When one completes, Chain works on the next.
func Chain(s ...Operation) Operation {
	switch len(s) {
	case 0:
		return (*Task).End
	case 1:
		return s[0]
	}
	var cur Operation
	rest := s
	return func(t *Task) Result {
		if cur == nil {
			cur, rest = rest[0], rest[1:]
		}
		switch res := cur(t); res.action {
		case doEnd:
			cur = nil
			if len(rest) == 0 {
				return t.End()
			}
			return Result{action: doSwitch}
		case doYield, doSwitch:
			if res.op != nil {
				cur = res.op
			}
			return Result{action: res.action}
		default:
			return res
		}
	}
}
