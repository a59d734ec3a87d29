package reentry

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// DefaultMaxNestedDepth bounds how many nested frames may be active at
// once when no [WithMaxNestedDepth] option is given.
const DefaultMaxNestedDepth = 64

// A nestedFrame is one activation of the nested run-to-completion
// primitive: the task it drives, and the tasks it froze because their
// polls are live on the call path that invoked it. Frames form a stack
// that mirrors the call stack exactly.
type nestedFrame struct {
	target TaskID
	frozen []TaskID
}

// A Runtime is a single-threaded cooperative scheduler. It owns the task
// table, the ready queue and the stack of nested frames, and drives
// polling against a [Reactor].
//
// A Runtime is not safe for concurrent use; everything runs on the one
// goroutine that calls [Runtime.Run].
type Runtime struct {
	reactor  Reactor
	log      *logrus.Logger
	maxDepth int

	tasks    map[TaskID]*Task
	nextID   TaskID
	doneSeq  uint64
	ready    []TaskID // FIFO; never contains a frozen task
	pollPath []TaskID // tasks with a live poll frame, outermost first
	frames   []nestedFrame
	deferred []Event // events addressed to frozen tasks, arrival order
}

// An Option configures a [Runtime].
type Option func(*Runtime)

// WithReactor sets the [Reactor] backend. The default is a fresh
// [TimerReactor].
func WithReactor(r Reactor) Option {
	return func(rt *Runtime) { rt.reactor = r }
}

// WithLogger sets the logger used for scheduling traces. The default
// logger discards everything.
func WithLogger(l *logrus.Logger) Option {
	return func(rt *Runtime) { rt.log = l }
}

// WithMaxNestedDepth sets how many nested frames may be active at once.
// One more nested run beyond the bound fails with [ErrNestedOverflow]
// instead of growing the call stack without limit.
func WithMaxNestedDepth(n int) Option {
	return func(rt *Runtime) { rt.maxDepth = n }
}

// New creates a [Runtime].
func New(opts ...Option) *Runtime {
	log := logrus.New()
	log.SetOutput(io.Discard)
	rt := &Runtime{
		reactor:  NewTimerReactor(),
		log:      log,
		maxDepth: DefaultMaxNestedDepth,
		tasks:    make(map[TaskID]*Task),
	}
	for _, o := range opts {
		o(rt)
	}
	return rt
}

// Reactor returns the runtime's [Reactor] backend.
func (rt *Runtime) Reactor() Reactor { return rt.reactor }

// Run builds the root task from root, registers it, and drives the
// scheduler until the root task reaches a terminal state. It returns the
// root task's failure, if any, or a fatal reactor error; it never swallows
// either.
//
// Run must not be called while the runtime is already running.
func (rt *Runtime) Run(root Operation) error {
	if len(rt.frames) != 0 || len(rt.pollPath) != 0 {
		panic("reentry: Run called while the runtime is already running")
	}
	t := rt.spawn(root, 0)
	err := rt.driveNested(t)
	if rt.tasks[t.id] == t {
		if derr := rt.Destroy(t); derr != nil && err == nil {
			err = derr
		}
	}
	rt.tasks = make(map[TaskID]*Task)
	rt.ready = nil
	rt.deferred = nil
	return err
}

// NestedRun builds a task from op and drives the scheduler until that
// task reaches a terminal state, then returns its failure, if any.
//
// NestedRun is callable from anywhere on the active call stack, including
// from inside an [Operation] or a cleanup computation. Every task whose
// poll is live on the invoking call path is frozen for the duration of
// the call: it is not polled, and events addressed to it are buffered and
// replayed, in arrival order, when it unfreezes. Any other ready task
// keeps making progress while the nested task is driven.
//
// A nested call cannot return before every call nested inside it has
// returned, even if its own task completes earlier; the frames unwind in
// strict stack order.
func (rt *Runtime) NestedRun(op Operation) error {
	if rt.nestedDepth() >= rt.maxDepth {
		return ErrNestedOverflow
	}
	t := rt.spawn(op, 0)
	err := rt.driveNested(t)
	if rt.tasks[t.id] == t {
		delete(rt.tasks, t.id)
	}
	return err
}

// Destroy removes t from the runtime, canceling it if it has not reached
// a terminal state. Live children of t are destroyed first.
//
// If t registered a cleanup computation with [Task.OnDestroy], Destroy
// runs it to completion before t is released. A canceled t is repurposed
// to work on the cleanup, keeping its identity so in-flight reactor
// events still reach it, and is driven by a nested frame per [Runtime.NestedRun].
// Destroy returns the cleanup's failure, [ErrNestedOverflow] if draining
// would exceed the nesting bound, or nil.
func (rt *Runtime) Destroy(t *Task) error {
	if t == nil || rt.tasks[t.id] != t {
		return nil
	}
	if t.polling || t.frozen {
		panic(fmt.Sprintf("reentry: destroying task %d while it is on the call stack", t.id))
	}
	rt.detach(t)
	rt.reapChildren(t)

	cl := t.cleanup
	t.cleanup = nil

	var err error
	switch {
	case cl == nil:
	case t.terminal():
		// Too late to poll t again; the cleanup runs under its own identity.
		err = rt.NestedRun(cl)
	default:
		rt.log.WithField("task", t.id).Debug("canceling; switching to cleanup")
		t.op = cl
		t.inbox = nil
		t.woken = false
		if t.state == statePending {
			t.setState(stateReady)
		}
		rt.enqueue(t)
		err = rt.driveNested(t)
	}
	delete(rt.tasks, t.id)
	return err
}

// Run's own driver occupies the bottom frame; only frames stacked on top
// of it count against the nesting bound.
const baseFrames = 1

func (rt *Runtime) nestedDepth() int {
	return len(rt.frames) - baseFrames
}

// driveNested pushes a frame for target, freezing every task with a live
// poll on the invoking call path, drives the scheduler until target is
// terminal, then unfreezes and pops. The frame cannot pop earlier, even
// if an enclosing frame's target completed first: enclosing frames are
// blocked below this call on the stack.
func (rt *Runtime) driveNested(target *Task) error {
	if rt.nestedDepth() >= rt.maxDepth {
		return ErrNestedOverflow
	}

	f := nestedFrame{target: target.id}
	for _, id := range rt.pollPath {
		t := rt.tasks[id]
		if t == nil || t.frozen {
			continue
		}
		t.frozen = true
		f.frozen = append(f.frozen, id)
	}
	rt.frames = append(rt.frames, f)
	nestedDepth.Set(float64(len(rt.frames)))
	rt.log.WithFields(logrus.Fields{"target": target.id, "frozen": len(f.frozen)}).Debug("frame pushed")

	// The frame must pop and its freeze set thaw even when the drive
	// unwinds with a panic; a leaked frame keeps those tasks frozen
	// forever.
	defer func() {
		for _, id := range f.frozen {
			if t := rt.tasks[id]; t != nil {
				t.frozen = false
			}
		}
		rt.frames = rt.frames[:len(rt.frames)-1]
		nestedDepth.Set(float64(len(rt.frames)))
		rt.log.WithField("target", target.id).Debug("frame popped")
	}()

	if err := rt.drive(target); err != nil {
		return err
	}
	return target.err
}

// drive is the poll loop shared by the outer run and every nested frame:
// replay deferred events whose targets have unfrozen, poll ready tasks,
// drain the reactor, and block on it only when nothing else can progress.
func (rt *Runtime) drive(target *Task) error {
	for {
		rt.replayDeferred()
		if target.terminal() {
			return nil
		}
		if len(rt.ready) != 0 {
			rt.pollNext()
			continue
		}
		if evs := rt.reactor.DrainEvents(); len(evs) != 0 {
			for _, ev := range evs {
				rt.deliver(ev)
			}
			continue
		}
		ev, err := rt.reactor.BlockUntilEvent()
		if err != nil {
			return fmt.Errorf("reentry: blocking for reactor event: %w", err)
		}
		rt.deliver(ev)
	}
}

func (rt *Runtime) spawn(op Operation, parent TaskID) *Task {
	if op == nil {
		panic("reentry: nil Operation")
	}
	rt.nextID++
	t := &Task{id: rt.nextID, rt: rt, op: op, state: stateReady, parent: parent}
	rt.tasks[t.id] = t
	if p := rt.tasks[parent]; p != nil {
		p.children = append(p.children, t.id)
	}
	rt.enqueue(t)
	tasksSpawned.Inc()
	rt.log.WithFields(logrus.Fields{"task": t.id, "parent": parent}).Debug("task spawned")
	return t
}

func (rt *Runtime) enqueue(t *Task) {
	if t.queued || t.frozen || t.terminal() {
		return
	}
	t.queued = true
	rt.ready = append(rt.ready, t.id)
}

func (rt *Runtime) pollNext() {
	id := rt.ready[0]
	rt.ready = rt.ready[1:]
	t := rt.tasks[id]
	if t == nil {
		return // destroyed while queued
	}
	t.queued = false
	if t.frozen {
		panic(fmt.Sprintf("reentry: internal error: frozen task %d in ready queue", t.id))
	}
	rt.poll(t)
}

// poll drives one step of t's computation. Switches run inline; the poll
// frame stays on pollPath for its whole duration so that a nested run
// invoked from within t.op knows t must be frozen.
func (rt *Runtime) poll(t *Task) {
	if t.polling {
		panic(fmt.Sprintf("reentry: internal error: double poll of task %d", t.id))
	}
	t.setState(stateRunning)
	t.polling = true
	rt.pollPath = append(rt.pollPath, t.id)
	finished := false
	finish := func() {
		if finished {
			return
		}
		finished = true
		rt.pollPath = rt.pollPath[:len(rt.pollPath)-1]
		t.polling = false
	}
	defer finish()

	var res Result
	for {
		if err := trap(func() { res = t.op(t) }); err != nil {
			res = Result{action: doFail, err: err}
		}
		if res.action != doSwitch {
			break
		}
		if res.op != nil {
			t.op = res.op
		}
	}

	finish()

	switch res.action {
	case doYield:
		if res.op != nil {
			t.op = res.op
		}
		t.setState(statePending)
		if t.woken {
			t.woken = false
			t.setState(stateReady)
			rt.enqueue(t)
		}
	case doEnd:
		rt.complete(t)
	case doFail:
		rt.fail(t, res.err)
	default:
		panic("reentry: internal error: unknown action")
	}

	if t.doomed && rt.tasks[t.id] == t {
		t.doomed = false
		if err := rt.Destroy(t); err != nil {
			rt.log.WithField("task", t.id).WithError(err).Warn("cleanup failed while destroying orphaned task")
		}
	}
}

func (rt *Runtime) complete(t *Task) {
	t.setState(stateCompleted)
	rt.doneSeq++
	t.doneAt = rt.doneSeq
	tasksCompleted.Inc()
	rt.log.WithField("task", t.id).Debug("task completed")
	rt.reapChildren(t)
	rt.wakeParent(t)
}

func (rt *Runtime) fail(t *Task, err error) {
	t.err = err
	t.setState(stateFailed)
	rt.doneSeq++
	t.doneAt = rt.doneSeq
	tasksFailed.Inc()
	rt.log.WithField("task", t.id).WithError(err).Debug("task failed")
	rt.reapChildren(t)
	rt.wakeParent(t)
}

func (rt *Runtime) wakeParent(t *Task) {
	if t.parent == 0 {
		return
	}
	if p := rt.tasks[t.parent]; p != nil && !p.terminal() {
		rt.wake(p)
	}
}

// reapChildren destroys any children still alive when t reaches a
// terminal state or is itself destroyed. A child whose poll is live on
// the call stack (frozen inside a nested frame, say) cannot be torn down
// from under itself; it is detached and doomed instead, and destroyed
// when that poll returns. A cleanup failure here has no caller left to
// report to; it is logged.
func (rt *Runtime) reapChildren(t *Task) {
	for len(t.children) != 0 {
		id := t.children[len(t.children)-1]
		c := rt.tasks[id]
		if c == nil {
			t.children = t.children[:len(t.children)-1]
			continue
		}
		if c.polling || c.frozen {
			c.doomed = true
			rt.detach(c)
			continue
		}
		if err := rt.Destroy(c); err != nil {
			rt.log.WithField("task", id).WithError(err).Warn("cleanup failed while reaping children")
		}
	}
}

// wake marks a task ready. A wake of a frozen task, or of a task whose
// poll is live on the call stack, is buffered in the woken flag and
// consumed when the task next becomes eligible; the ready queue never
// receives a frozen task.
func (rt *Runtime) wake(t *Task) {
	if t.terminal() {
		return
	}
	if t.frozen || t.polling {
		t.woken = true
		return
	}
	if t.state == statePending {
		t.setState(stateReady)
	}
	rt.enqueue(t)
}

// Wake marks the task identified by id ready, buffering the wake if the
// task is frozen. Unknown identities are ignored. Reactor backends and
// custom combinators may use it; ordinary code never needs to.
func (rt *Runtime) Wake(id TaskID) {
	if t := rt.tasks[id]; t != nil {
		rt.wake(t)
	}
}

func (rt *Runtime) deliver(ev Event) {
	t := rt.tasks[ev.Task]
	if t == nil || t.terminal() {
		rt.log.WithField("task", ev.Task).Debug("dropping event; target gone")
		return
	}
	if t.frozen {
		rt.deferred = append(rt.deferred, ev)
		eventsDeferred.Inc()
		rt.log.WithFields(logrus.Fields{"task": t.id, "token": ev.Token}).Debug("event deferred; target frozen")
		return
	}
	t.inbox = append(t.inbox, ev)
	eventsDelivered.Inc()
	rt.wake(t)
}

// replayDeferred scans the deferred list, in arrival order, for the first
// event whose target is no longer frozen, delivers it, and repeats until
// a full scan makes no progress. Events for tasks that are gone are
// dropped.
func (rt *Runtime) replayDeferred() {
	for {
		progressed := false
		for i, ev := range rt.deferred {
			t := rt.tasks[ev.Task]
			if t != nil && !t.terminal() && t.frozen {
				continue
			}
			rt.deferred = append(rt.deferred[:i], rt.deferred[i+1:]...)
			if t != nil && !t.terminal() {
				eventsReplayed.Inc()
				rt.log.WithFields(logrus.Fields{"task": t.id, "token": ev.Token}).Debug("replaying deferred event")
				t.inbox = append(t.inbox, ev)
				rt.wake(t)
			}
			progressed = true
			break
		}
		if !progressed {
			return
		}
	}
}

func (rt *Runtime) detach(t *Task) {
	p := rt.tasks[t.parent]
	t.parent = 0
	if p == nil {
		return
	}
	for i, id := range p.children {
		if id == t.id {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
}
