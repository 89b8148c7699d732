package shim

import "context"

// Lazy holds a value that is loaded on first use and shared afterwards.
type Lazy[T any] struct {
	gate *Gate
	load func(context.Context) (T, error)
	val  T
}

// NewLazy creates a Lazy that calls load the first time Get is called.
func NewLazy[T any](load func(context.Context) (T, error), policy FailurePolicy) *Lazy[T] {
	return &Lazy[T]{
		gate: NewGate(policy),
		load: load,
	}
}

// Get returns the loaded value, loading it if needed.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	err := l.gate.Do(ctx, func(ctx context.Context) error {
		v, err := l.load(ctx)
		if err != nil {
			return err
		}
		l.val = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return l.val, nil
}

// Loaded reports whether Get has succeeded.
func (l *Lazy[T]) Loaded() bool {
	return l.gate.State() == Complete
}

// State returns the state of the underlying gate.
func (l *Lazy[T]) State() State {
	return l.gate.State()
}
