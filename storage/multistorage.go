package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/mdstore/interfaces"
)

// MultiStorageBackend implements interfaces.StoreBackend by mirroring stores
// across several backends.
//
// Every mirror must be reachable for Load and Save. Save either replaces the
// blob on all mirrors or restores the previous blob on the ones already
// written. Load compares the copies and refuses to pick one when they differ,
// so a stale mirror is never merged over newer data.
type MultiStorageBackend struct {
	backends []interfaces.StoreBackend
	log      *slog.Logger
}

// NewMultiStorageBackend creates a new multi-storage backend over mirrors.
func NewMultiStorageBackend(backends []interfaces.StoreBackend, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStorageBackend{
		backends: backends,
		log:      logger,
	}
}

// requireAvailable fails unless every mirror is reachable.
func (m *MultiStorageBackend) requireAvailable(ctx context.Context, name string) error {
	if len(m.backends) == 0 {
		return fmt.Errorf("%w: no backends configured for %s", interfaces.ErrBackendUnavailable, name)
	}
	var down []string
	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			down = append(down, backend.Name())
		}
	}
	if len(down) > 0 {
		m.log.Warn("Mirrors unavailable",
			slog.String("store", name),
			slog.String("backends", strings.Join(down, ",")))
		return fmt.Errorf("%w: %s", interfaces.ErrBackendUnavailable, strings.Join(down, ", "))
	}
	return nil
}

// snapshot reads the current blob from every mirror. A nil entry means the
// mirror has no blob under name.
func (m *MultiStorageBackend) snapshot(ctx context.Context, name string) ([][]byte, error) {
	copies := make([][]byte, len(m.backends))
	for i, backend := range m.backends {
		data, err := backend.Load(ctx, name)
		switch {
		case err == nil:
			copies[i] = data
		case errors.Is(err, interfaces.ErrStoreNotFound):
		default:
			m.log.Debug("Failed to load from backend",
				slog.String("backend_name", backend.Name()),
				slog.String("store", name),
				"err", err)
			return nil, fmt.Errorf("%w: %s: %w", interfaces.ErrBackendUnavailable, backend.Name(), err)
		}
	}
	return copies, nil
}

// Load returns the store once every mirror agrees on it.
func (m *MultiStorageBackend) Load(ctx context.Context, name string) ([]byte, error) {
	start := time.Now()
	if err := m.requireAvailable(ctx, name); err != nil {
		return nil, err
	}

	copies, err := m.snapshot(ctx, name)
	if err != nil {
		return nil, err
	}

	first := copies[0]
	for i, data := range copies[1:] {
		if (first == nil) != (data == nil) || !bytes.Equal(first, data) {
			m.log.Error("Mirrors hold different copies",
				slog.String("store", name),
				slog.String("backend_a", m.backends[0].Name()),
				slog.String("backend_b", m.backends[i+1].Name()))
			return nil, fmt.Errorf("%w: %s differs between %s and %s",
				interfaces.ErrMirrorDiverged, name, m.backends[0].Name(), m.backends[i+1].Name())
		}
	}
	if first == nil {
		return nil, interfaces.ErrStoreNotFound
	}

	m.log.Debug("Loaded store",
		slog.String("store", name),
		slog.Int("backends", len(m.backends)),
		slog.Duration("duration", time.Since(start)))
	return first, nil
}

// Save writes the store to every mirror. When a mirror fails, the mirrors
// already written get their previous blob back and the store is unchanged.
func (m *MultiStorageBackend) Save(ctx context.Context, name string, data []byte) error {
	start := time.Now()
	if err := m.requireAvailable(ctx, name); err != nil {
		return err
	}

	previous, err := m.snapshot(ctx, name)
	if err != nil {
		return err
	}

	for i, backend := range m.backends {
		if err := backend.Save(ctx, name, data); err != nil {
			m.log.Warn("Failed to save to backend, rolling back",
				slog.String("backend_name", backend.Name()),
				slog.String("store", name),
				"err", err)
			saveErr := fmt.Errorf("%s: %w", backend.Name(), err)
			if rbErr := m.rollback(ctx, name, previous[:i]); rbErr != nil {
				return fmt.Errorf("failed to save %s: %w; rollback failed: %w", name, saveErr, rbErr)
			}
			return fmt.Errorf("failed to save %s: %w", name, saveErr)
		}
	}

	m.log.Debug("Saved store",
		slog.String("store", name),
		slog.Int("backends", len(m.backends)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// rollback restores previous[i] on m.backends[i], deleting blobs that did not
// exist before.
func (m *MultiStorageBackend) rollback(ctx context.Context, name string, previous [][]byte) error {
	var errs []error
	for i, data := range previous {
		backend := m.backends[i]
		var err error
		if data == nil {
			err = backend.Delete(ctx, name)
		} else {
			err = backend.Save(ctx, name, data)
		}
		if err != nil {
			m.log.Error("Failed to roll back mirror",
				slog.String("backend_name", backend.Name()),
				slog.String("store", name),
				"err", err)
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Delete removes the store from every mirror. All mirrors must be reachable
// so that no stale copy survives.
func (m *MultiStorageBackend) Delete(ctx context.Context, name string) error {
	if err := m.requireAvailable(ctx, name); err != nil {
		return err
	}
	var errs []error
	for _, backend := range m.backends {
		if err := backend.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Lock takes the lock of every backend that supports locking, in order.
func (m *MultiStorageBackend) Lock(ctx context.Context, name string) (func() error, error) {
	var releases []func() error
	unlockAll := func() error {
		var errs []error
		for i := len(releases) - 1; i >= 0; i-- {
			if err := releases[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	for _, backend := range m.backends {
		locker, ok := backend.(interfaces.Locker)
		if !ok {
			continue
		}
		release, err := locker.Lock(ctx, name)
		if err != nil {
			_ = unlockAll()
			return nil, fmt.Errorf("%s: %w", backend.Name(), err)
		}
		releases = append(releases, release)
	}
	return unlockAll, nil
}

// Available reports whether every mirror is reachable, which Load and Save
// both need.
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	if len(m.backends) == 0 {
		return false
	}
	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			return false
		}
	}
	return true
}

// Name returns the name of this backend
func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI returns the URI of this backend
func (m *MultiStorageBackend) LocationURI() string {
	var locations []string
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}

	return "multi:[" + strings.Join(locations, ",") + "]"
}
