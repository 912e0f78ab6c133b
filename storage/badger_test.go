package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/mdstore/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerBackend(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend, err := NewBadgerBackend(t.TempDir(), false, logger)
	require.NoError(t, err)
	defer backend.Close()

	assert.True(t, backend.Available(ctx))

	_, err = backend.Load(ctx, "a")
	assert.ErrorIs(t, err, interfaces.ErrStoreNotFound)

	require.NoError(t, backend.Save(ctx, "a", []byte("one")))
	require.NoError(t, backend.Save(ctx, "b", []byte("two")))
	require.NoError(t, backend.Save(ctx, "a", []byte("three")))

	data, err := backend.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("three"), data)

	names, err := backend.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, backend.Delete(ctx, "a"))
	_, err = backend.Load(ctx, "a")
	assert.ErrorIs(t, err, interfaces.ErrStoreNotFound)
}

func TestBadgerBackend_InMemory(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend, err := NewBadgerBackend("", true, logger)
	require.NoError(t, err)
	assert.Equal(t, "badger-memory", backend.Name())

	require.NoError(t, backend.Save(ctx, "s", []byte("blob")))
	data, err := backend.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), data)

	require.NoError(t, backend.Close())
	assert.False(t, backend.Available(ctx))
}
