package kms

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/mdstore/cryptoutils"
	"github.com/ruteri/mdstore/interfaces"
	"github.com/ruteri/mdstore/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKeyring(t *testing.T, backend interfaces.StoreBackend, passphrase string) *Keyring {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	keyring, err := NewKeyring(backend, "keyring", passphrase, logger)
	require.NoError(t, err)
	return keyring
}

func TestKeyring(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend, err := storage.NewFileBackend(t.TempDir(), logger)
	require.NoError(t, err)

	keyring := newTestKeyring(t, backend, "passphrase")

	names, err := keyring.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = keyring.Get(ctx, "tenant-a")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	keyA, err := GeneratePartitionKey()
	require.NoError(t, err)
	keyB, err := GeneratePartitionKey()
	require.NoError(t, err)
	require.NoError(t, keyring.Put(ctx, "tenant-b", keyB))
	require.NoError(t, keyring.Put(ctx, "tenant-a", keyA))

	got, err := keyring.Get(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, keyA, got)

	names, err = keyring.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-a", "tenant-b"}, names)

	// The blob on disk is sealed and kept outside the store namespace.
	blob, err := backend.Load(ctx, "_keyring")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "tenant-a")
	_, err = backend.Load(ctx, "keyring")
	assert.ErrorIs(t, err, interfaces.ErrStoreNotFound)

	// A second handle with the same passphrase sees the same keys.
	reopened := newTestKeyring(t, backend, "passphrase")
	got, err = reopened.Get(ctx, "tenant-b")
	require.NoError(t, err)
	assert.Equal(t, keyB, got)

	wrong := newTestKeyring(t, backend, "wrong")
	_, err = wrong.Get(ctx, "tenant-a")
	assert.ErrorIs(t, err, cryptoutils.ErrSealOpen)
}

func TestKeyring_Validation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend, err := storage.NewFileBackend(t.TempDir(), logger)
	require.NoError(t, err)

	_, err = NewKeyring(backend, "../keyring", "p", logger)
	assert.ErrorIs(t, err, interfaces.ErrInvalidStoreName)

	_, err = NewKeyring(backend, "_keyring", "p", logger)
	assert.ErrorIs(t, err, interfaces.ErrInvalidStoreName)

	_, err = NewKeyring(backend, "keyring", "", logger)
	assert.Error(t, err)

	keyring := newTestKeyring(t, backend, "p")
	assert.ErrorIs(t, keyring.Put(context.Background(), "k", nil), interfaces.ErrEmptyPartitionKey)
}
