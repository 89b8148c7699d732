// Package shim connects the host's three entrypoints (fetch, scheduled and
// queue) to a lazily loaded handler module. A Shim runs the process-wide
// setup action and the module's start hook exactly once, whichever
// entrypoint is called first and however many calls race for it.
package shim

import (
	"context"
	"fmt"
	"sync/atomic"
)

// State is the lifecycle of a Gate.
type State int32

const (
	// NotStarted means the action has not run, or failed and may run again.
	NotStarted State = iota
	// InProgress means one caller is running the action.
	InProgress
	// Complete means the action succeeded; the gate never runs it again.
	Complete
	// Poisoned means the action failed under PoisonOnFailure.
	Poisoned
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Complete:
		return "complete"
	case Poisoned:
		return "poisoned"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as its String form.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FailurePolicy decides what a Gate does after its action fails.
type FailurePolicy int

const (
	// RetryOnFailure returns the gate to NotStarted so the next caller runs
	// the action again.
	RetryOnFailure FailurePolicy = iota
	// PoisonOnFailure makes every later call fail with ErrPoisoned.
	PoisonOnFailure
)

// ParseFailurePolicy maps "retry" and "poison" to a FailurePolicy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", "retry":
		return RetryOnFailure, nil
	case "poison":
		return PoisonOnFailure, nil
	default:
		return RetryOnFailure, fmt.Errorf("unknown failure policy %q (want retry or poison)", s)
	}
}

func (p FailurePolicy) String() string {
	if p == PoisonOnFailure {
		return "poison"
	}
	return "retry"
}

// Gate runs an action at most once to completion. Callers that arrive while
// the action is running wait for it and then observe its outcome.
type Gate struct {
	policy FailurePolicy
	sem    chan struct{}
	state  atomic.Int32
	cause  error
}

// NewGate creates a gate in the NotStarted state.
func NewGate(policy FailurePolicy) *Gate {
	return &Gate{
		policy: policy,
		sem:    make(chan struct{}, 1),
	}
}

// State returns the current state.
func (g *Gate) State() State {
	return State(g.state.Load())
}

// Do runs fn unless a previous call completed it. A caller that gives up
// waiting because ctx is done returns ctx.Err() and leaves the gate alone.
// fn gets a context that keeps ctx's values but not its cancellation, so
// the caller that happens to run it cannot fail the gate by going away.
func (g *Gate) Do(ctx context.Context, fn func(context.Context) error) error {
	switch g.State() {
	case Complete:
		return nil
	case Poisoned:
		return g.poisoned()
	}

	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.sem }()

	// Re-check: another caller may have finished while we waited.
	switch g.State() {
	case Complete:
		return nil
	case Poisoned:
		return g.poisoned()
	}

	g.state.Store(int32(InProgress))
	finished := false
	defer func() {
		if !finished {
			g.state.Store(int32(NotStarted))
		}
	}()

	err := fn(context.WithoutCancel(ctx))
	finished = true
	if err == nil {
		g.state.Store(int32(Complete))
		return nil
	}

	if g.policy == PoisonOnFailure {
		g.cause = err
		g.state.Store(int32(Poisoned))
		return g.poisoned()
	}
	g.state.Store(int32(NotStarted))
	return err
}

func (g *Gate) poisoned() error {
	return fmt.Errorf("%w: %w", ErrPoisoned, g.cause)
}
