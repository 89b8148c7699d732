package shim

import (
	"fmt"
	"sort"
)

// Env is what the host hands to every module call: plain string vars and
// named bindings to host resources.
type Env struct {
	vars     map[string]string
	bindings map[string]any
}

// NewEnv copies vars and bindings into a new Env.
func NewEnv(vars map[string]string, bindings map[string]any) *Env {
	e := &Env{
		vars:     make(map[string]string, len(vars)),
		bindings: make(map[string]any, len(bindings)),
	}
	for k, v := range vars {
		e.vars[k] = v
	}
	for k, v := range bindings {
		if v != nil {
			e.bindings[k] = v
		}
	}
	return e
}

// Var returns a string var.
func (e *Env) Var(name string) (string, bool) {
	if e == nil {
		return "", false
	}
	v, ok := e.vars[name]
	return v, ok
}

// BindingNames returns the sorted names of all bindings.
func (e *Env) BindingNames() []string {
	if e == nil {
		return nil
	}
	names := make([]string, 0, len(e.bindings))
	for name := range e.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Binding looks up a binding and checks it has type T.
func Binding[T any](env *Env, name string) (T, error) {
	var zero T
	if env == nil {
		return zero, fmt.Errorf("%w: %s", ErrBindingNotFound, name)
	}
	raw, ok := env.bindings[name]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrBindingNotFound, name)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T, want %T", ErrBindingType, name, raw, zero)
	}
	return v, nil
}
