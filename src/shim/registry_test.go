package shim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	load := func(context.Context) (Module, error) { return fetchOnly{}, nil }

	require.NoError(t, r.Register("echo", load))
	require.Error(t, r.Register("echo", load))
	require.Error(t, r.Register("", load))

	got, err := r.Lookup("echo")
	require.NoError(t, err)
	mod, err := got(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Capability{CapFetch}, Capabilities(mod))

	_, err = r.Lookup("nope")
	assert.ErrorIs(t, err, ErrModuleNotFound)

	assert.Equal(t, []string{"echo"}, r.Names())
}
