package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/mdstore/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockStoreBackend implements interfaces.StoreBackend for testing
type MockStoreBackend struct {
	mock.Mock
	name string
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

func (m *MockStoreBackend) Name() string {
	return m.name
}

func (m *MockStoreBackend) LocationURI() string {
	return "mock:"
}

func TestMultiStorageBackend_Available(t *testing.T) {
	tests := []struct {
		name     string
		backends []bool
		expected bool
	}{
		{
			name:     "all backends available",
			backends: []bool{true, true, true},
			expected: true,
		},
		{
			name:     "one mirror down",
			backends: []bool{true, false, true},
			expected: false,
		},
		{
			name:     "no backends available",
			backends: []bool{false, false, false},
			expected: false,
		},
		{
			name:     "no backends",
			backends: []bool{},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var backends []interfaces.StoreBackend
			for i, available := range tt.backends {
				mockStorage := &MockStoreBackend{name: fmt.Sprintf("mock-A%x", i)}
				mockStorage.On("Available", mock.Anything).Return(available).Maybe()
				backends = append(backends, mockStorage)
			}

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			multi := NewMultiStorageBackend(backends, logger)

			assert.Equal(t, tt.expected, multi.Available(context.Background()))

			for _, backend := range backends {
				backend.(*MockStoreBackend).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_Load(t *testing.T) {
	testData := []byte("test data")
	testErr := errors.New("test error")

	tests := []struct {
		name          string
		setupMocks    func() []interfaces.StoreBackend
		expectedData  []byte
		expectedError error
	}{
		{
			name: "mirrors agree",
			setupMocks: func() []interfaces.StoreBackend {
				mock1 := &MockStoreBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Load", mock.Anything, "store").Return(testData, nil)

				mock2 := &MockStoreBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Load", mock.Anything, "store").Return([]byte("test data"), nil)

				return []interfaces.StoreBackend{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "missing everywhere",
			setupMocks: func() []interfaces.StoreBackend {
				mock1 := &MockStoreBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Load", mock.Anything, "store").Return(nil, interfaces.ErrStoreNotFound)

				mock2 := &MockStoreBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Load", mock.Anything, "store").Return(nil, interfaces.ErrStoreNotFound)

				return []interfaces.StoreBackend{mock1, mock2}
			},
			expectedError: interfaces.ErrStoreNotFound,
		},
		{
			name: "copies differ",
			setupMocks: func() []interfaces.StoreBackend {
				mock1 := &MockStoreBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Load", mock.Anything, "store").Return(testData, nil)

				mock2 := &MockStoreBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Load", mock.Anything, "store").Return([]byte("stale data"), nil)

				return []interfaces.StoreBackend{mock1, mock2}
			},
			expectedError: interfaces.ErrMirrorDiverged,
		},
		{
			name: "missing on one mirror",
			setupMocks: func() []interfaces.StoreBackend {
				mock1 := &MockStoreBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Load", mock.Anything, "store").Return(nil, interfaces.ErrStoreNotFound)

				mock2 := &MockStoreBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Load", mock.Anything, "store").Return(testData, nil)

				return []interfaces.StoreBackend{mock1, mock2}
			},
			expectedError: interfaces.ErrMirrorDiverged,
		},
		{
			name: "load error",
			setupMocks: func() []interfaces.StoreBackend {
				mock1 := &MockStoreBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Load", mock.Anything, "store").Return(nil, testErr)

				mock2 := &MockStoreBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)

				return []interfaces.StoreBackend{mock1, mock2}
			},
			expectedError: interfaces.ErrBackendUnavailable,
		},
		{
			name: "mirror unavailable",
			setupMocks: func() []interfaces.StoreBackend {
				mock1 := &MockStoreBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(false)

				mock2 := &MockStoreBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)

				return []interfaces.StoreBackend{mock1, mock2}
			},
			expectedError: interfaces.ErrBackendUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backends := tt.setupMocks()
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			multi := NewMultiStorageBackend(backends, logger)

			data, err := multi.Load(context.Background(), "store")

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expectedData, data)

			for _, backend := range backends {
				backend.(*MockStoreBackend).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_Save(t *testing.T) {
	testData := []byte("test data")
	oldData := []byte("old data")
	testErr := errors.New("test error")

	tests := []struct {
		name          string
		setupMocks    func() []interfaces.StoreBackend
		expectedError string
	}{
		{
			name: "all backends successful",
			setupMocks: func() []interfaces.StoreBackend {
				mock1 := &MockStoreBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Load", mock.Anything, "store").Return(oldData, nil)
				mock1.On("Save", mock.Anything, "store", testData).Return(nil)

				mock2 := &MockStoreBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Load", mock.Anything, "store").Return(oldData, nil)
				mock2.On("Save", mock.Anything, "store", testData).Return(nil)

				return []interfaces.StoreBackend{mock1, mock2}
			},
		},
		{
			name: "failed mirror rolls back the written ones",
			setupMocks: func() []interfaces.StoreBackend {
				mock1 := &MockStoreBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Load", mock.Anything, "store").Return(oldData, nil)
				mock1.On("Save", mock.Anything, "store", testData).Return(nil).Once()
				mock1.On("Save", mock.Anything, "store", oldData).Return(nil).Once()

				mock2 := &MockStoreBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Load", mock.Anything, "store").Return(oldData, nil)
				mock2.On("Save", mock.Anything, "store", testData).Return(testErr)

				return []interfaces.StoreBackend{mock1, mock2}
			},
			expectedError: "mock-B: test error",
		},
		{
			name: "failed first write deletes new store",
			setupMocks: func() []interfaces.StoreBackend {
				mock1 := &MockStoreBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Load", mock.Anything, "store").Return(nil, interfaces.ErrStoreNotFound)
				mock1.On("Save", mock.Anything, "store", testData).Return(nil)
				mock1.On("Delete", mock.Anything, "store").Return(nil)

				mock2 := &MockStoreBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Load", mock.Anything, "store").Return(nil, interfaces.ErrStoreNotFound)
				mock2.On("Save", mock.Anything, "store", testData).Return(testErr)

				return []interfaces.StoreBackend{mock1, mock2}
			},
			expectedError: "mock-B: test error",
		},
		{
			name: "rollback failure is reported",
			setupMocks: func() []interfaces.StoreBackend {
				mock1 := &MockStoreBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Load", mock.Anything, "store").Return(oldData, nil)
				mock1.On("Save", mock.Anything, "store", testData).Return(nil).Once()
				mock1.On("Save", mock.Anything, "store", oldData).Return(testErr).Once()

				mock2 := &MockStoreBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Load", mock.Anything, "store").Return(oldData, nil)
				mock2.On("Save", mock.Anything, "store", testData).Return(testErr)

				return []interfaces.StoreBackend{mock1, mock2}
			},
			expectedError: "rollback failed",
		},
		{
			name: "mirror unavailable",
			setupMocks: func() []interfaces.StoreBackend {
				mock1 := &MockStoreBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)

				mock2 := &MockStoreBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(false)

				return []interfaces.StoreBackend{mock1, mock2}
			},
			expectedError: "mock-B",
		},
		{
			name: "no backends",
			setupMocks: func() []interfaces.StoreBackend {
				return nil
			},
			expectedError: "no backends configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backends := tt.setupMocks()
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			multi := NewMultiStorageBackend(backends, logger)

			err := multi.Save(context.Background(), "store", testData)

			if tt.expectedError != "" {
				assert.ErrorContains(t, err, tt.expectedError)
			} else {
				assert.NoError(t, err)
			}

			for _, backend := range backends {
				backend.(*MockStoreBackend).AssertExpectations(t)
			}
		})
	}
}
