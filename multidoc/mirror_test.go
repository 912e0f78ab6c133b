package multidoc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/mdstore/interfaces"
	"github.com/ruteri/mdstore/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyBackend wraps a memoryBackend with switches for outages and failed
// writes.
type flakyBackend struct {
	*memoryBackend
	down      bool
	failSaves bool
}

func (f *flakyBackend) Save(ctx context.Context, name string, data []byte) error {
	if f.failSaves {
		return errors.New("write failed")
	}
	return f.memoryBackend.Save(ctx, name, data)
}

func (f *flakyBackend) Available(context.Context) bool { return !f.down }
func (f *flakyBackend) Name() string                   { return "flaky" }

func newMirroredService(t *testing.T) (*Service, *memoryBackend, *flakyBackend) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	primary := newMemoryBackend()
	mirror := &flakyBackend{memoryBackend: newMemoryBackend()}
	multi := storage.NewMultiStorageBackend([]interfaces.StoreBackend{primary, mirror}, logger)
	return newTestService(t, multi), primary, mirror
}

func TestService_MirrorFailedSaveRollsBack(t *testing.T) {
	ctx := context.Background()
	svc, primary, mirror := newMirroredService(t)
	require.NoError(t, svc.Create(ctx, "s", []byte("A"), "pwA", []byte("keyA")))
	original, err := primary.Load(ctx, "s")
	require.NoError(t, err)

	mirror.failSaves = true
	err = svc.Update(ctx, "s", []byte("B"), "pwB", []byte("keyB"))
	assert.ErrorIs(t, err, interfaces.ErrUpdateFailed)

	after, err := primary.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, original, after)

	mirror.failSaves = false
	got, err := svc.Decrypt(ctx, "s", "pwA", []byte("keyA"))
	require.NoError(t, err)
	assert.Equal(t, []byte("A"), got)
	_, err = svc.Decrypt(ctx, "s", "pwB", []byte("keyB"))
	assert.ErrorIs(t, err, interfaces.ErrUnknownPartition)

	// A failed first write leaves no store behind.
	mirror.failSaves = true
	err = svc.Create(ctx, "fresh", []byte("A"), "pwA", []byte("keyA"))
	assert.ErrorIs(t, err, interfaces.ErrUpdateFailed)
	_, err = primary.Load(ctx, "fresh")
	assert.ErrorIs(t, err, interfaces.ErrStoreNotFound)
}

func TestService_MirrorUnavailableBlocksUpdates(t *testing.T) {
	ctx := context.Background()
	svc, primary, mirror := newMirroredService(t)
	require.NoError(t, svc.Create(ctx, "s", []byte("A"), "pwA", []byte("keyA")))
	original, err := primary.Load(ctx, "s")
	require.NoError(t, err)

	mirror.down = true
	assert.False(t, svc.Available(ctx))
	err = svc.Update(ctx, "s", []byte("B"), "pwB", []byte("keyB"))
	assert.ErrorIs(t, err, interfaces.ErrUpdateFailed)
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)

	after, err := primary.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, original, after)

	// Once the mirror is back, both copies still agree.
	mirror.down = false
	require.NoError(t, svc.Update(ctx, "s", []byte("B"), "pwB", []byte("keyB")))
	got, err := svc.Decrypt(ctx, "s", "pwB", []byte("keyB"))
	require.NoError(t, err)
	assert.Equal(t, []byte("B"), got)
}

func TestService_StaleMirrorIsNotMergedOver(t *testing.T) {
	ctx := context.Background()
	svc, primary, mirror := newMirroredService(t)
	require.NoError(t, svc.Create(ctx, "s", []byte("A"), "pwA", []byte("keyA")))
	stale, err := mirror.Load(ctx, "s")
	require.NoError(t, err)

	require.NoError(t, svc.Update(ctx, "s", []byte("B"), "pwB", []byte("keyB")))
	current, err := primary.Load(ctx, "s")
	require.NoError(t, err)

	// The mirror lost the last write out of band.
	require.NoError(t, mirror.memoryBackend.Save(ctx, "s", stale))

	err = svc.Update(ctx, "s", []byte("C"), "pwC", []byte("keyC"))
	assert.ErrorIs(t, err, interfaces.ErrUpdateFailed)
	assert.ErrorIs(t, err, interfaces.ErrMirrorDiverged)

	_, err = svc.Decrypt(ctx, "s", "pwB", []byte("keyB"))
	assert.ErrorIs(t, err, interfaces.ErrMirrorDiverged)

	after, err := primary.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, current, after)
}
