package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruteri/mdstore/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackend_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend, err := NewFileBackend(dir, logger)
	require.NoError(t, err)
	assert.True(t, backend.Available(ctx))

	_, err = backend.Load(ctx, "tenants")
	assert.ErrorIs(t, err, interfaces.ErrStoreNotFound)

	require.NoError(t, backend.Save(ctx, "tenants", []byte("v1")))
	require.NoError(t, backend.Save(ctx, "tenants", []byte("v2")))

	data, err := backend.Load(ctx, "tenants")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files are cleaned up")
	assert.Equal(t, "tenants"+fileSuffix, entries[0].Name())

	require.NoError(t, backend.Delete(ctx, "tenants"))
	require.NoError(t, backend.Delete(ctx, "tenants"))
	_, err = backend.Load(ctx, "tenants")
	assert.ErrorIs(t, err, interfaces.ErrStoreNotFound)
}

func TestFileBackend_RejectsUnsafeNames(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend, err := NewFileBackend(t.TempDir(), logger)
	require.NoError(t, err)

	for _, name := range []string{"", "../x", "a/b", ".hidden", "a..b", "_", "__x", "_../x"} {
		err := backend.Save(ctx, name, []byte("x"))
		assert.ErrorIs(t, err, interfaces.ErrInvalidStoreName, name)
	}

	// Reserved internal blobs are accepted by backends.
	require.NoError(t, backend.Save(ctx, "_keyring", []byte("x")))
	data, err := backend.Load(ctx, "_keyring")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
}

func TestFileBackend_Lock(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, logger)
	require.NoError(t, err)

	unlock, err := backend.Lock(context.Background(), "s")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "s"+fileSuffix+lockSuffix))

	// A second process-level handle must wait for the first to release.
	other, err := NewFileBackend(dir, logger)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = other.Lock(ctx, "s")
	assert.Error(t, err)

	require.NoError(t, unlock())

	unlock, err = other.Lock(context.Background(), "s")
	require.NoError(t, err)
	require.NoError(t, unlock())
}
