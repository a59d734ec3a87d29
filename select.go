package reentry

// A Branch identifies which side of a two-way combinator finished first.
type Branch uint8

const (
	BranchNone Branch = iota
	BranchA
	BranchB
)

func (b Branch) String() string {
	switch b {
	case BranchA:
		return "A"
	case BranchB:
		return "B"
	default:
		return "none"
	}
}

// A Select is the outcome record of a [Select2] combinator. Run its Op in
// a task; once that task is terminal, Winner reports which branch won.
type Select struct {
	a, b   Operation
	ta, tb *Task
	winner Branch
}

// Select2 builds a two-way select over a and b.
//
// The returned Select's Op runs both operations, each in its own child
// task. The first child to reach a terminal state wins; the sibling is
// then destroyed, which runs its cleanup computation, draining it with
// a nested frame if the cleanup suspends, strictly before the select
// task completes. A failing child wins like a completing one, and the
// select fails with its error after the sibling's cleanup has drained.
func Select2(a, b Operation) *Select {
	return &Select{a: a, b: b}
}

// Winner reports the branch that finished first, or BranchNone while the
// select is still running.
func (s *Select) Winner() Branch { return s.winner }

// Op is the [Operation] of the select; run it in a task.
func (s *Select) Op(t *Task) Result {
	if s.ta == nil {
		s.ta = t.Spawn(s.a)
		s.tb = t.Spawn(s.b)
		return t.Await()
	}
	var win, lose *Task
	switch {
	case s.ta.Terminal():
		win, lose, s.winner = s.ta, s.tb, BranchA
	case s.tb.Terminal():
		win, lose, s.winner = s.tb, s.ta, BranchB
	default:
		return t.Await()
	}
	werr := win.Err()
	derr := t.rt.Destroy(lose)
	if err := t.rt.Destroy(win); derr == nil {
		derr = err
	}
	// A cleanup that cannot be released outranks the race result.
	if derr != nil {
		return t.Fail(derr)
	}
	if werr != nil {
		return t.Fail(werr)
	}
	return t.End()
}
