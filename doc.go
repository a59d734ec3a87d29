// Package reentry is a single-threaded cooperative task runtime whose
// distinguishing feature is that the scheduler can be re-entered from
// arbitrary call-stack depth.
//
// Ordinary cooperative schedulers only resume suspended work when driven
// by an outer poll loop. That is a problem for a computation that must
// finish an asynchronous cleanup sequence at the moment it is destroyed
// (confirming cancellation of an in-flight operation, say), because a
// destroy path runs synchronously and has no poll loop of its own.
// [Runtime.NestedRun] solves this: it drives the scheduler from wherever
// it is called, including from inside another task's poll, until a given
// task completes, and only then returns to its caller.
//
// # Tasks and Operations
//
// A [Task] is a suspendable computation: an explicit state machine
// advanced one step at a time by calling its [Operation] function. The
// returned [Result] says whether the computation completed, suspended,
// switched to another Operation, or failed. Tasks live in a flat table
// keyed by [TaskID]; parent/child relationships are identity references,
// never owning links.
//
// A suspended task resumes when the [Reactor] delivers an [Event]
// addressed to it, or when a child it spawned reaches a terminal state.
//
// # Freezing
//
// When NestedRun is invoked, every task whose poll is currently live on
// the call path, from the outermost run loop down to the call site, is
// frozen: it is excluded from polling, and events addressed to it are
// buffered and replayed in arrival order once it unfreezes. Everything
// not on that path keeps making progress while the nested task is driven.
// Nested frames unwind in strict stack order: an enclosing frame cannot
// return before the frames nested inside it, even if its own target task
// completed earlier.
//
// # Combinators
//
// [Join2] runs two child tasks and completes when both have finished,
// never canceling either. [Select2] completes with the first and destroys
// the sibling; if the sibling's cleanup must suspend, the destroy path
// drains it through a nested frame before the select returns.
// [WithTimeout] is a select against a [Sleep] timer.
//
// # Scope
//
// The runtime is strictly single-threaded and tasks carry no result value
// beyond completion or failure. This is a research-grade design meant to
// validate that reentrant scheduling composes with asynchronous cleanup;
// it is not a hardened production runtime.
package reentry
