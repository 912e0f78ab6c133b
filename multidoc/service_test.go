package multidoc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ruteri/mdstore/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// memoryBackend is an in-memory interfaces.StoreBackend.
type memoryBackend struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{blobs: make(map[string][]byte)}
}

func (m *memoryBackend) Load(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[name]
	if !ok {
		return nil, interfaces.ErrStoreNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *memoryBackend) Save(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = append([]byte(nil), data...)
	return nil
}

func (m *memoryBackend) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, name)
	return nil
}

func (m *memoryBackend) Available(context.Context) bool { return true }
func (m *memoryBackend) Name() string                   { return "memory" }
func (m *memoryBackend) LocationURI() string            { return "memory://" }

// MockStoreBackend implements interfaces.StoreBackend for testing
type MockStoreBackend struct {
	mock.Mock
}

func (m *MockStoreBackend) Load(ctx context.Context, name string) ([]byte, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStoreBackend) Save(ctx context.Context, name string, data []byte) error {
	args := m.Called(ctx, name, data)
	return args.Error(0)
}

func (m *MockStoreBackend) Delete(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockStoreBackend) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockStoreBackend) Name() string        { return "mock" }
func (m *MockStoreBackend) LocationURI() string { return "mock:" }

func newTestService(t *testing.T, backend interfaces.StoreBackend) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewService(backend, testConfig(), logger)
	require.NoError(t, err)
	return svc
}

func TestService_CreateUpdateDecrypt(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newMemoryBackend())

	require.NoError(t, svc.Create(ctx, "tenants", []byte(`{"user":"A"}`), "pwA", []byte("keyA")))
	err := svc.Create(ctx, "tenants", []byte("again"), "pwA", []byte("keyA"))
	assert.ErrorIs(t, err, interfaces.ErrStoreExists)

	require.NoError(t, svc.Update(ctx, "tenants", []byte(`{"user":"B"}`), "pwB", []byte("keyB")))

	got, err := svc.Decrypt(ctx, "tenants", "pwA", []byte("keyA"))
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"user":"A"}`), got)

	got, err = svc.Decrypt(ctx, "tenants", "pwB", []byte("keyB"))
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"user":"B"}`), got)

	summary, err := svc.Inspect(ctx, "tenants")
	require.NoError(t, err)
	assert.Equal(t, "tenants", summary.Name)
	assert.Len(t, summary.Metadata.Partitions, 2)
	assert.Equal(t, 2*summary.Metadata.Threshold, summary.ShareCount)
}

func TestService_Put(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newMemoryBackend())

	created, err := svc.Put(ctx, "s", []byte("v1"), "pw", []byte("k"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.Put(ctx, "s", []byte("v2"), "pw", []byte("k"))
	require.NoError(t, err)
	assert.False(t, created)

	got, err := svc.Decrypt(ctx, "s", "pw", []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestService_RemoveAndRotate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newMemoryBackend())

	require.NoError(t, svc.Create(ctx, "s", []byte("A"), "pwA", []byte("keyA")))
	require.NoError(t, svc.Update(ctx, "s", []byte("B"), "pwB", []byte("keyB")))

	require.NoError(t, svc.Rotate(ctx, "s", []byte("keyA"), "pwA", "pwA2"))
	got, err := svc.Decrypt(ctx, "s", "pwA2", []byte("keyA"))
	require.NoError(t, err)
	assert.Equal(t, []byte("A"), got)

	require.NoError(t, svc.Remove(ctx, "s", "pwB", []byte("keyB")))
	_, err = svc.Decrypt(ctx, "s", "pwB", []byte("keyB"))
	assert.ErrorIs(t, err, interfaces.ErrUnknownPartition)
}

func TestService_Errors(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newMemoryBackend())

	_, err := svc.Decrypt(ctx, "missing", "pw", []byte("k"))
	assert.ErrorIs(t, err, interfaces.ErrStoreNotFound)

	err = svc.Update(ctx, "missing", []byte("x"), "pw", []byte("k"))
	assert.ErrorIs(t, err, interfaces.ErrStoreNotFound)

	err = svc.Create(ctx, "../escape", []byte("x"), "pw", []byte("k"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidStoreName)

	require.NoError(t, svc.Create(ctx, "s", []byte("A"), "pwA", []byte("keyA")))
	err = svc.Update(ctx, "s", []byte("hijack"), "wrong", []byte("keyA"))
	assert.ErrorIs(t, err, interfaces.ErrDecryptionFailed)
	assert.NotErrorIs(t, err, interfaces.ErrUpdateFailed)
}

func TestService_FailedSaveLeavesStoreIntact(t *testing.T) {
	ctx := context.Background()

	mem := newMemoryBackend()
	seed := newTestService(t, mem)
	require.NoError(t, seed.Create(ctx, "s", []byte("A"), "pwA", []byte("keyA")))
	original, err := mem.Load(ctx, "s")
	require.NoError(t, err)

	backend := new(MockStoreBackend)
	backend.On("Load", mock.Anything, "s").Return(original, nil)
	backend.On("Save", mock.Anything, "s", mock.Anything).Return(errors.New("disk full"))

	svc := newTestService(t, backend)
	err = svc.Update(ctx, "s", []byte("B"), "pwB", []byte("keyB"))
	assert.ErrorIs(t, err, interfaces.ErrUpdateFailed)
	backend.AssertExpectations(t)

	// The persisted blob is whatever was there before the failed update.
	after, err := mem.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, original, after)

	got, err := seed.Decrypt(ctx, "s", "pwA", []byte("keyA"))
	require.NoError(t, err)
	assert.Equal(t, []byte("A"), got)
	_, err = seed.Decrypt(ctx, "s", "pwB", []byte("keyB"))
	assert.ErrorIs(t, err, interfaces.ErrUnknownPartition)
}

func TestService_LoadFailureIsUpdateFailed(t *testing.T) {
	backend := new(MockStoreBackend)
	backend.On("Load", mock.Anything, "s").Return(nil, interfaces.ErrBackendUnavailable)

	svc := newTestService(t, backend)
	err := svc.Update(context.Background(), "s", []byte("B"), "pwB", []byte("keyB"))
	assert.ErrorIs(t, err, interfaces.ErrUpdateFailed)
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	backend.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newMemoryBackend())
	require.NoError(t, svc.Create(ctx, "s", []byte("seed"), "pw", []byte("seed")))

	keys := []string{"k1", "k2", "k3", "k4"}
	var wg sync.WaitGroup
	errs := make([]error, len(keys))
	for i, k := range keys {
		wg.Add(1)
		go func(i int, k string) {
			defer wg.Done()
			errs[i] = svc.Update(ctx, "s", []byte("doc-"+k), "pw-"+k, []byte(k))
		}(i, k)
	}
	wg.Wait()

	for i, k := range keys {
		require.NoError(t, errs[i], k)
		got, err := svc.Decrypt(ctx, "s", "pw-"+k, []byte(k))
		require.NoError(t, err)
		assert.Equal(t, []byte("doc-"+k), got)
	}
	assert.Empty(t, svc.locks)
}

// lockingBackend fails to lock stores named "locked".
type lockingBackend struct {
	*memoryBackend
}

func (l *lockingBackend) Lock(_ context.Context, name string) (func() error, error) {
	if name == "locked" {
		return nil, errors.New("lock held elsewhere")
	}
	return func() error { return nil }, nil
}

func TestService_LocksAreReleased(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, &lockingBackend{newMemoryBackend()})

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, svc.Create(ctx, name, []byte("A"), "pwA", []byte("keyA")))
		require.NoError(t, svc.Update(ctx, name, []byte("B"), "pwB", []byte("keyB")))
	}
	assert.ErrorIs(t, svc.Update(ctx, "missing", []byte("B"), "pwB", []byte("keyB")), interfaces.ErrStoreNotFound)
	assert.Error(t, svc.Create(ctx, "locked", []byte("A"), "pwA", []byte("keyA")))
	assert.ErrorIs(t, svc.Create(ctx, "../bad", []byte("A"), "pwA", []byte("keyA")), interfaces.ErrInvalidStoreName)

	assert.Empty(t, svc.locks)
}
