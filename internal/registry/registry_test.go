package registry_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noctua-labs/jobqueue/internal/registry"
)

func TestLookupFindsRegisteredHandler(t *testing.T) {
	called := false
	reg := registry.NewBuilder().
		Register("email.send", func(ctx context.Context, payload json.RawMessage) error {
			called = true
			return nil
		}).
		Build()

	h, ok := reg.Lookup("email.send")
	require.True(t, ok)

	require.NoError(t, h(context.Background(), json.RawMessage(`{}`)))
	require.True(t, called)
}

func TestLookupMissesUnknownType(t *testing.T) {
	reg := registry.NewBuilder().Build()

	_, ok := reg.Lookup("does.not.exist")
	require.False(t, ok)
}

func TestRegisterPanicsOnDuplicate(t *testing.T) {
	b := registry.NewBuilder().Register("dup", func(context.Context, json.RawMessage) error { return nil })

	require.Panics(t, func() {
		b.Register("dup", func(context.Context, json.RawMessage) error { return nil })
	})
}

func TestBuildFreezesRegistrations(t *testing.T) {
	b := registry.NewBuilder()
	reg := b.Build()

	// Registering after Build must not affect the already-built registry.
	b.Register("late", func(context.Context, json.RawMessage) error { return nil })

	_, ok := reg.Lookup("late")
	require.False(t, ok)
}
