package reentry_test

import (
	"errors"
	"fmt"
	"slices"
	"testing"

	"reentry"
)

func TestRunCompletesRootTask(t *testing.T) {
	rt := reentry.New(reentry.WithReactor(newStubReactor()))
	ran := false
	if err := rt.Run(reentry.Do(func() { ran = true })); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Error("root operation did not run")
	}
}

func TestRunPropagatesRootFailure(t *testing.T) {
	rt := reentry.New(reentry.WithReactor(newStubReactor()))
	errBoom := errors.New("boom")
	err := rt.Run(func(tk *reentry.Task) reentry.Result {
		return tk.Fail(errBoom)
	})
	if !errors.Is(err, errBoom) {
		t.Errorf("Run returned %v, want %v", err, errBoom)
	}
}

func TestRunTrapsPanicAsComputationError(t *testing.T) {
	rt := reentry.New(reentry.WithReactor(newStubReactor()))
	err := rt.Run(reentry.Do(func() { panic("bad arithmetic") }))
	var ce *reentry.ComputationError
	if !errors.As(err, &ce) {
		t.Fatalf("Run returned %v, want a ComputationError", err)
	}
	if ce.Value() != "bad arithmetic" {
		t.Errorf("recovered value = %v, want %q", ce.Value(), "bad arithmetic")
	}
}

func TestRunReportsIdleReactorDeadlock(t *testing.T) {
	rt := reentry.New(reentry.WithReactor(newStubReactor()))
	err := rt.Run(reentry.Never())
	if !errors.Is(err, reentry.ErrReactorIdle) {
		t.Errorf("Run returned %v, want %v", err, reentry.ErrReactorIdle)
	}
}

func TestEventDeliveredBetweenPolls(t *testing.T) {
	stub := newStubReactor()
	rt := reentry.New(reentry.WithReactor(stub))
	polls := 0
	var tok reentry.Token
	err := rt.Run(func(tk *reentry.Task) reentry.Result {
		polls++
		if tok == "" {
			tok, _ = tk.Schedule("io")
			stub.complete(tok)
			return tk.Await()
		}
		ev, ok := tk.TakeEvent()
		if !ok || ev.Token != tok {
			return tk.Fail(fmt.Errorf("expected completion of %s, got %v", tok, ev))
		}
		return tk.End()
	})
	if err != nil {
		t.Fatal(err)
	}
	if polls != 2 {
		t.Errorf("task polled %d times, want 2", polls)
	}
}

// A nested run must finish its target before the caller's next statement
// executes, with the caller's task frozen for the whole frame.
func TestNestedRunCompletesBeforeCallerResumes(t *testing.T) {
	stub := newStubReactor()
	rt := reentry.New(reentry.WithReactor(stub))
	var trace []string

	cleanup := func() reentry.Operation {
		var t1, t2 reentry.Token
		got := 0
		return func(ct *reentry.Task) reentry.Result {
			if t1 == "" {
				t1, _ = ct.Schedule("confirm-1")
				t2, _ = ct.Schedule("confirm-2")
				stub.completeOnBlock(t1)
				stub.completeOnBlock(t2)
				return ct.Await()
			}
			for {
				ev, ok := ct.TakeEvent()
				if !ok {
					return ct.Await()
				}
				if ev.Token == t1 || ev.Token == t2 {
					got++
					trace = append(trace, fmt.Sprintf("cleanup event %d", got))
				}
				if got == 2 {
					trace = append(trace, "cleanup done")
					return ct.End()
				}
			}
		}
	}

	err := rt.Run(func(tk *reentry.Task) reentry.Result {
		trace = append(trace, "job1")
		if err := tk.Runtime().NestedRun(cleanup()); err != nil {
			return tk.Fail(err)
		}
		trace = append(trace, "job2")
		return tk.End()
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"job1", "cleanup event 1", "cleanup event 2", "cleanup done", "job2"}
	if !slices.Equal(trace, want) {
		t.Errorf("trace = %q, want %q", trace, want)
	}
}

// Tasks outside the freezing call path keep running while a nested frame
// is active.
func TestNestedRunLetsUnrelatedTasksProgress(t *testing.T) {
	stub := newStubReactor()
	rt := reentry.New(reentry.WithReactor(stub))
	var trace []string

	ticks := 0
	scheduled := false
	var sibOp reentry.Operation = func(st *reentry.Task) reentry.Result {
		if !scheduled {
			scheduled = true
			for i := 1; i <= 3; i++ {
				tok, err := st.Schedule(fmt.Sprintf("tick-%d", i))
				if err != nil {
					return st.Fail(err)
				}
				stub.completeOnBlock(tok)
			}
			return st.Await()
		}
		for {
			if _, ok := st.TakeEvent(); !ok {
				break
			}
			ticks++
			trace = append(trace, fmt.Sprintf("sibling tick %d", ticks))
		}
		if ticks < 3 {
			return st.Await()
		}
		return st.End()
	}

	caller := func(ct *reentry.Task) reentry.Result {
		trace = append(trace, "nested begin")
		err := ct.Runtime().NestedRun(func() reentry.Operation {
			var tok reentry.Token
			return func(dt *reentry.Task) reentry.Result {
				if tok == "" {
					tok, _ = dt.Schedule("drain")
					stub.completeOnBlock(tok)
					return dt.Await()
				}
				trace = append(trace, "nested done")
				return dt.End()
			}
		}())
		if err != nil {
			return ct.Fail(err)
		}
		trace = append(trace, "caller resumed")
		return ct.End()
	}

	if err := rt.Run(reentry.Join2(sibOp, caller)); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"nested begin",
		"sibling tick 1", "sibling tick 2", "sibling tick 3",
		"nested done", "caller resumed",
	}
	if !slices.Equal(trace, want) {
		t.Errorf("trace = %q, want %q", trace, want)
	}
}

// Frames unwind in stack order: an outer frame cannot return while an
// inner frame is still active, even if the outer target finished first.
func TestNestedFramesUnwindInStackOrder(t *testing.T) {
	stub := newStubReactor()
	rt := reentry.New(reentry.WithReactor(stub))
	var trace []string

	await1 := func(name string) reentry.Operation {
		var tok reentry.Token
		return func(at *reentry.Task) reentry.Result {
			if tok == "" {
				tok, _ = at.Schedule(name)
				stub.completeOnBlock(tok)
				return at.Await()
			}
			trace = append(trace, name+" done")
			return at.End()
		}
	}

	foo := func() reentry.Operation {
		var tok reentry.Token
		return func(ft *reentry.Task) reentry.Result {
			if tok == "" {
				tok, _ = ft.Schedule("foo-io")
				stub.completeOnBlock(tok)
				return ft.Await()
			}
			trace = append(trace, "inner begin")
			if err := ft.Runtime().NestedRun(await1("inner cleanup")); err != nil {
				return ft.Fail(err)
			}
			trace = append(trace, "inner returned")
			return ft.End()
		}
	}

	bar := func(bt *reentry.Task) reentry.Result {
		trace = append(trace, "outer begin")
		if err := bt.Runtime().NestedRun(await1("outer cleanup")); err != nil {
			return bt.Fail(err)
		}
		trace = append(trace, "outer returned")
		return bt.End()
	}

	if err := rt.Run(reentry.Join2(foo(), bar)); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"outer begin",
		"inner begin",
		"outer cleanup done",
		"inner cleanup done",
		"inner returned",
		"outer returned",
	}
	if !slices.Equal(trace, want) {
		t.Errorf("trace = %q, want %q", trace, want)
	}
}

func TestNestedRunOverflow(t *testing.T) {
	rt := reentry.New(
		reentry.WithReactor(newStubReactor()),
		reentry.WithMaxNestedDepth(2),
	)
	var third error
	err := rt.Run(func(tk *reentry.Task) reentry.Result {
		err := tk.Runtime().NestedRun(func(t1 *reentry.Task) reentry.Result {
			err := t1.Runtime().NestedRun(func(t2 *reentry.Task) reentry.Result {
				third = t2.Runtime().NestedRun(reentry.Do(func() {
					t.Error("third nested frame must not run")
				}))
				return t2.End()
			})
			if err != nil {
				return t1.Fail(err)
			}
			return t1.End()
		})
		if err != nil {
			return tk.Fail(err)
		}
		return tk.End()
	})
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(third, reentry.ErrNestedOverflow) {
		t.Errorf("third nested run returned %v, want %v", third, reentry.ErrNestedOverflow)
	}
}

// Events arriving for a frozen task are buffered and replayed in arrival
// order, each exactly once, after the task thaws.
func TestFrozenTaskEventsReplayInOrder(t *testing.T) {
	stub := newStubReactor()
	rt := reentry.New(reentry.WithReactor(stub))

	var scheduled []reentry.Token
	var got []reentry.Token
	err := rt.Run(func(tk *reentry.Task) reentry.Result {
		if scheduled == nil {
			for i := 1; i <= 3; i++ {
				tok, err := tk.Schedule(fmt.Sprintf("io-%d", i))
				if err != nil {
					return tk.Fail(err)
				}
				scheduled = append(scheduled, tok)
				stub.completeOnBlock(tok)
			}
			err := tk.Runtime().NestedRun(func() reentry.Operation {
				var tok reentry.Token
				return func(ct *reentry.Task) reentry.Result {
					if tok == "" {
						tok, _ = ct.Schedule("cleanup-io")
						stub.completeOnBlock(tok)
						return ct.Await()
					}
					return ct.End()
				}
			}())
			if err != nil {
				return tk.Fail(err)
			}
			return tk.Await()
		}
		for {
			ev, ok := tk.TakeEvent()
			if !ok {
				break
			}
			got = append(got, ev.Token)
		}
		if len(got) < 3 {
			return tk.Await()
		}
		return tk.End()
	})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, scheduled) {
		t.Errorf("replayed tokens = %v, want %v in arrival order", got, scheduled)
	}
}

// The root reaches a terminal state while its child still sits inside a
// nested frame. The child cannot be reaped from under its own poll; it
// finishes the frame, resumes, and is destroyed, cleanup included, once
// its poll returns.
func TestParentCompletesWhileChildFrozen(t *testing.T) {
	stub := newStubReactor()
	rt := reentry.New(reentry.WithReactor(stub))
	var trace []string

	child := func(ct *reentry.Task) reentry.Result {
		trace = append(trace, "child begin")
		ct.OnDestroy(func(dt *reentry.Task) reentry.Result {
			trace = append(trace, "child cleanup")
			return dt.End()
		})
		err := ct.Runtime().NestedRun(func() reentry.Operation {
			var tok reentry.Token
			return func(it *reentry.Task) reentry.Result {
				if tok == "" {
					tok, _ = it.Schedule("inner")
					stub.completeOnBlock(tok)
					return it.Await()
				}
				trace = append(trace, "inner done")
				return it.End()
			}
		}())
		if err != nil {
			return ct.Fail(err)
		}
		trace = append(trace, "child resumed")
		return ct.End()
	}

	var rootTok reentry.Token
	err := rt.Run(func(tk *reentry.Task) reentry.Result {
		if rootTok == "" {
			tk.Spawn(child)
			var err error
			if rootTok, err = tk.Schedule("root-io"); err != nil {
				return tk.Fail(err)
			}
			stub.completeOnBlock(rootTok)
			return tk.Await()
		}
		trace = append(trace, "root done")
		return tk.End()
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"child begin", "root done", "inner done", "child resumed", "child cleanup"}
	if !slices.Equal(trace, want) {
		t.Errorf("trace = %q, want %q", trace, want)
	}
}

func TestNestedRunStandalone(t *testing.T) {
	stub := newStubReactor()
	rt := reentry.New(reentry.WithReactor(stub))
	ran := false
	if err := rt.NestedRun(reentry.Do(func() { ran = true })); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Error("standalone nested run did not execute its target")
	}
}

func TestChainRunsOperationsInOrder(t *testing.T) {
	rt := reentry.New(reentry.WithReactor(newStubReactor()))
	var trace []string
	err := rt.Run(reentry.Chain(
		reentry.Do(func() { trace = append(trace, "one") }),
		reentry.Do(func() { trace = append(trace, "two") }),
		reentry.Do(func() { trace = append(trace, "three") }),
	))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(trace, []string{"one", "two", "three"}) {
		t.Errorf("trace = %q", trace)
	}
}
