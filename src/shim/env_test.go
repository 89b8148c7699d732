package shim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct{ name string }

func TestBindingLookup(t *testing.T) {
	env := NewEnv(map[string]string{"GREETING": "hi"}, map[string]any{
		"STORE": &fakeStore{name: "primary"},
		"EMPTY": nil,
	})

	store, err := Binding[*fakeStore](env, "STORE")
	require.NoError(t, err)
	assert.Equal(t, "primary", store.name)

	_, err = Binding[*fakeStore](env, "MISSING")
	assert.ErrorIs(t, err, ErrBindingNotFound)

	_, err = Binding[string](env, "STORE")
	assert.ErrorIs(t, err, ErrBindingType)

	_, err = Binding[*fakeStore](env, "EMPTY")
	assert.ErrorIs(t, err, ErrBindingNotFound)

	v, ok := env.Var("GREETING")
	assert.True(t, ok)
	assert.Equal(t, "hi", v)

	assert.Equal(t, []string{"STORE"}, env.BindingNames())
}

func TestNilEnv(t *testing.T) {
	var env *Env
	_, ok := env.Var("X")
	assert.False(t, ok)

	_, err := Binding[int](env, "X")
	assert.ErrorIs(t, err, ErrBindingNotFound)
}
