package shim

import "errors"

var (
	// ErrPoisoned is returned by a gate whose action failed under
	// PoisonOnFailure.
	ErrPoisoned = errors.New("initialization previously failed")

	// ErrMissingCapability is returned when the module does not implement
	// the handler an entrypoint delegates to.
	ErrMissingCapability = errors.New("module does not export capability")

	ErrModuleNotFound  = errors.New("module not registered")
	ErrBindingNotFound = errors.New("binding not found")
	ErrBindingType     = errors.New("binding has unexpected type")
)

// InitError reports a failure while preparing the module: running the setup
// action, loading the module, or running its start hook.
type InitError struct {
	Stage string
	Err   error
}

func (e *InitError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}
