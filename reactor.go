package reentry

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// A Token identifies one in-flight operation submitted to a [Reactor].
// Tokens are opaque to the runtime.
type Token string

// A Request describes an asynchronous operation submitted to a [Reactor].
// Each Reactor implementation defines the request types it accepts;
// see [TimerRequest].
type Request any

// An Event is an asynchronous completion notification produced by
// a [Reactor] and delivered to the task that scheduled the operation.
// Events addressed to a frozen task are buffered by the runtime and
// replayed, in arrival order, once the task unfreezes.
type Event struct {
	Task     TaskID
	Token    Token
	Canceled bool // the event confirms a Cancel rather than a completion
	Value    any
}

// A Reactor is the asynchronous I/O backend of a [Runtime]: it accepts
// submission and cancellation requests keyed by task identity and reports
// completions as a stream of [Event] values.
//
// A Reactor is driven from the runtime's single thread; implementations
// need no locking.
type Reactor interface {
	// Schedule submits an asynchronous operation on behalf of a task.
	// The completion Event is addressed to that task.
	Schedule(task TaskID, req Request) (Token, error)

	// Cancel requests cancellation of a previously scheduled operation.
	// It has no immediate effect: confirmation arrives as a later Event
	// with Canceled set.
	Cancel(tok Token) error

	// DrainEvents returns, without blocking, every operation that has
	// completed or been canceled since the last drain, in completion order.
	DrainEvents() []Event

	// BlockUntilEvent waits for the next event. It is called only when no
	// task is ready and no progress is otherwise possible; if nothing is
	// in flight it returns [ErrReactorIdle].
	BlockUntilEvent() (Event, error)
}

// A TimerRequest asks a [TimerReactor] to fire an [Event] after Duration.
type TimerRequest struct {
	Duration time.Duration
}

type timer struct {
	tok      Token
	task     TaskID
	deadline time.Time
	index    int
}

type timerHeap []*timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any)         { tm := x.(*timer); tm.index = len(*h); *h = append(*h, tm) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	tm := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return tm
}

// A TimerReactor is a [Reactor] whose only asynchronous operation is
// a timer. It is the in-process stand-in for a kernel I/O backend:
// blocking for the next event sleeps until the earliest deadline.
type TimerReactor struct {
	timers timerHeap
	byTok  map[Token]*timer
	acks   []Event
}

// NewTimerReactor creates an empty [TimerReactor].
func NewTimerReactor() *TimerReactor {
	return &TimerReactor{byTok: make(map[Token]*timer)}
}

// Schedule accepts a [TimerRequest] and arms a timer addressed to task.
func (r *TimerReactor) Schedule(task TaskID, req Request) (Token, error) {
	tr, ok := req.(TimerRequest)
	if !ok {
		return "", &SubmissionError{Op: "schedule", Reason: fmt.Sprintf("unsupported request type %T", req)}
	}
	if tr.Duration < 0 {
		return "", &SubmissionError{Op: "schedule", Reason: "negative duration"}
	}
	tm := &timer{
		tok:      Token(ulid.Make().String()),
		task:     task,
		deadline: time.Now().Add(tr.Duration),
	}
	heap.Push(&r.timers, tm)
	r.byTok[tm.tok] = tm
	return tm.tok, nil
}

// Cancel disarms the timer identified by tok. The cancellation is
// confirmed by a later [Event] with Canceled set, delivered on the next
// drain; a token that already fired is rejected.
func (r *TimerReactor) Cancel(tok Token) error {
	tm, ok := r.byTok[tok]
	if !ok {
		return &SubmissionError{Op: "cancel", Reason: fmt.Sprintf("unknown token %s", tok)}
	}
	heap.Remove(&r.timers, tm.index)
	delete(r.byTok, tok)
	r.acks = append(r.acks, Event{Task: tm.task, Token: tm.tok, Canceled: true})
	return nil
}

// DrainEvents returns pending cancellation confirmations followed by
// every timer whose deadline has passed.
func (r *TimerReactor) DrainEvents() []Event {
	evs := r.acks
	r.acks = nil
	now := time.Now()
	for len(r.timers) != 0 && !r.timers[0].deadline.After(now) {
		tm := heap.Pop(&r.timers).(*timer)
		delete(r.byTok, tm.tok)
		evs = append(evs, Event{Task: tm.task, Token: tm.tok})
	}
	return evs
}

// BlockUntilEvent sleeps until the earliest armed timer fires and returns
// its [Event]. With no timers armed and no confirmations pending, it
// returns [ErrReactorIdle].
func (r *TimerReactor) BlockUntilEvent() (Event, error) {
	if len(r.acks) != 0 {
		ev := r.acks[0]
		r.acks = r.acks[1:]
		return ev, nil
	}
	if len(r.timers) == 0 {
		return Event{}, ErrReactorIdle
	}
	tm := heap.Pop(&r.timers).(*timer)
	delete(r.byTok, tm.tok)
	if d := time.Until(tm.deadline); d > 0 {
		time.Sleep(d)
	}
	return Event{Task: tm.task, Token: tm.tok}, nil
}
