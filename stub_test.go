package reentry_test

import (
	"fmt"

	"reentry"
)

// stubReactor is a hand-driven Reactor: the test decides when each
// scheduled operation completes. An operation completed with complete is
// visible to the next drain; one completed with completeOnBlock is
// released only when the scheduler has nothing else to do and blocks.
// Cancellations are confirmed the same way, on the next block.
type stubReactor struct {
	n       int
	pending map[reentry.Token]reentry.TaskID
	ready   []reentry.Event
	waiting []reentry.Event
}

func newStubReactor() *stubReactor {
	return &stubReactor{pending: make(map[reentry.Token]reentry.TaskID)}
}

func (r *stubReactor) Schedule(task reentry.TaskID, req reentry.Request) (reentry.Token, error) {
	r.n++
	tok := reentry.Token(fmt.Sprintf("op-%d", r.n))
	r.pending[tok] = task
	return tok, nil
}

func (r *stubReactor) Cancel(tok reentry.Token) error {
	task, ok := r.pending[tok]
	if !ok {
		return &reentry.SubmissionError{Op: "cancel", Reason: "unknown token"}
	}
	delete(r.pending, tok)
	r.waiting = append(r.waiting, reentry.Event{Task: task, Token: tok, Canceled: true})
	return nil
}

func (r *stubReactor) DrainEvents() []reentry.Event {
	evs := r.ready
	r.ready = nil
	return evs
}

func (r *stubReactor) BlockUntilEvent() (reentry.Event, error) {
	if len(r.ready) != 0 {
		ev := r.ready[0]
		r.ready = r.ready[1:]
		return ev, nil
	}
	if len(r.waiting) == 0 {
		return reentry.Event{}, reentry.ErrReactorIdle
	}
	ev := r.waiting[0]
	r.waiting = r.waiting[1:]
	return ev, nil
}

func (r *stubReactor) complete(tok reentry.Token) {
	task, ok := r.pending[tok]
	if !ok {
		panic("stubReactor: complete of unknown token " + tok)
	}
	delete(r.pending, tok)
	r.ready = append(r.ready, reentry.Event{Task: task, Token: tok})
}

func (r *stubReactor) completeOnBlock(tok reentry.Token) {
	task, ok := r.pending[tok]
	if !ok {
		panic("stubReactor: completeOnBlock of unknown token " + tok)
	}
	delete(r.pending, tok)
	r.waiting = append(r.waiting, reentry.Event{Task: task, Token: tok})
}
