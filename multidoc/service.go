package multidoc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/mdstore/interfaces"
)

// Summary is the public view of a persisted store.
type Summary struct {
	Name       string
	Metadata   interfaces.StoreMetadata
	ShareCount int
}

// Service persists stores through a StoreBackend.
//
// Writers to the same store name are serialized within the process. When the
// backend implements interfaces.Locker the lock is also taken across
// processes. Every write stages the fully merged store, verifies that the
// written partition decrypts from the staged bytes and only then replaces the
// persisted blob; on any failure the old blob is left untouched.
type Service struct {
	backend interfaces.StoreBackend
	cfg     Config
	log     *slog.Logger

	mu    sync.Mutex
	locks map[string]*storeLock
}

// storeLock serializes writers of one store name. It is dropped from the
// map once no caller holds or waits for it.
type storeLock struct {
	mu   sync.Mutex
	refs int
}

// NewService creates a Service. cfg is used for stores created through it.
func NewService(backend interfaces.StoreBackend, cfg Config, log *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		backend: backend,
		cfg:     cfg,
		log:     log,
		locks:   make(map[string]*storeLock),
	}, nil
}

// Create persists a new store holding one document. It fails with
// ErrStoreExists if the name is taken.
func (s *Service) Create(ctx context.Context, name string, document []byte, password string, partitionKey []byte) error {
	unlock, err := s.lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()

	_, err = s.backend.Load(ctx, name)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", interfaces.ErrStoreExists, name)
	case !errors.Is(err, interfaces.ErrStoreNotFound):
		return fmt.Errorf("failed to check store %s: %w", name, err)
	}

	start := time.Now()
	store, err := Create(document, password, partitionKey, s.cfg)
	if err != nil {
		return err
	}
	if err := s.commit(ctx, name, store, &credentials{password, partitionKey}); err != nil {
		return err
	}

	s.log.Info("Created store",
		slog.String("store", name),
		slog.String("partition", shortID(partitionKey)),
		slog.Int("chunks", store.Metadata.Partitions[PartitionIDOf(partitionKey)].ChunkCount),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Update writes the partition's document into an existing store. Precondition
// failures (bad credentials, collisions, config) are returned as is; any I/O
// failure is wrapped in ErrUpdateFailed and leaves the persisted store intact.
func (s *Service) Update(ctx context.Context, name string, document []byte, password string, partitionKey []byte) error {
	return s.mutate(ctx, name, "Updated store", partitionKey, &credentials{password, partitionKey}, func(store *interfaces.EncryptedStore) (*interfaces.EncryptedStore, error) {
		return Update(store, document, password, partitionKey)
	})
}

// Put creates the store if it does not exist, otherwise updates it. It
// reports whether the store was created.
func (s *Service) Put(ctx context.Context, name string, document []byte, password string, partitionKey []byte) (bool, error) {
	err := s.Create(ctx, name, document, password, partitionKey)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, interfaces.ErrStoreExists) {
		return false, err
	}
	return false, s.Update(ctx, name, document, password, partitionKey)
}

// Remove deletes the partition from the store.
func (s *Service) Remove(ctx context.Context, name string, password string, partitionKey []byte) error {
	return s.mutate(ctx, name, "Removed partition", partitionKey, nil, func(store *interfaces.EncryptedStore) (*interfaces.EncryptedStore, error) {
		return Remove(store, password, partitionKey)
	})
}

// Rotate re-shares the partition's document under a new password.
func (s *Service) Rotate(ctx context.Context, name string, partitionKey []byte, oldPassword, newPassword string) error {
	return s.mutate(ctx, name, "Rotated partition password", partitionKey, &credentials{newPassword, partitionKey}, func(store *interfaces.EncryptedStore) (*interfaces.EncryptedStore, error) {
		return Rotate(store, partitionKey, oldPassword, newPassword)
	})
}

// Decrypt loads the store and reconstructs the partition's document.
func (s *Service) Decrypt(ctx context.Context, name string, password string, partitionKey []byte) ([]byte, error) {
	store, err := s.load(ctx, name)
	if err != nil {
		return nil, err
	}
	doc, err := Decrypt(store, password, partitionKey)
	if err != nil {
		s.log.Debug("Decryption rejected", slog.String("store", name), "err", err)
		return nil, err
	}
	return doc, nil
}

// Inspect returns the public metadata of a store.
func (s *Service) Inspect(ctx context.Context, name string) (Summary, error) {
	store, err := s.load(ctx, name)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Name: name, Metadata: store.Metadata, ShareCount: len(store.Shares)}, nil
}

// Available reports whether the storage backend is reachable.
func (s *Service) Available(ctx context.Context) bool {
	return s.backend.Available(ctx)
}

func (s *Service) load(ctx context.Context, name string) (*interfaces.EncryptedStore, error) {
	if err := interfaces.ValidateStoreName(name); err != nil {
		return nil, err
	}
	data, err := s.backend.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

// credentials identify the partition checked from the staged bytes.
type credentials struct {
	password     string
	partitionKey []byte
}

// mutate runs a load, transform, stage, commit cycle under the store lock.
// When verify is set, the named partition must decrypt from the staged bytes
// before commit.
func (s *Service) mutate(ctx context.Context, name, action string, partitionKey []byte, verify *credentials,
	fn func(*interfaces.EncryptedStore) (*interfaces.EncryptedStore, error)) error {
	unlock, err := s.lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()

	start := time.Now()
	data, err := s.backend.Load(ctx, name)
	if err != nil {
		if errors.Is(err, interfaces.ErrStoreNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", interfaces.ErrUpdateFailed, err)
	}
	current, err := Unmarshal(data)
	if err != nil {
		return err
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	if err := s.commit(ctx, name, next, verify); err != nil {
		return err
	}

	s.log.Info(action,
		slog.String("store", name),
		slog.String("partition", shortID(partitionKey)),
		slog.Int("partitions", len(next.Metadata.Partitions)),
		slog.Int("shares", len(next.Shares)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// commit stages the encoded store, optionally verifies one partition from
// the staged bytes, then atomically replaces the persisted blob.
func (s *Service) commit(ctx context.Context, name string, store *interfaces.EncryptedStore, verify *credentials) error {
	staged, err := Marshal(store)
	if err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrUpdateFailed, err)
	}

	if verify != nil {
		reloaded, err := Unmarshal(staged)
		if err != nil {
			return fmt.Errorf("%w: staged store does not parse: %w", interfaces.ErrUpdateFailed, err)
		}
		if _, err := Decrypt(reloaded, verify.password, verify.partitionKey); err != nil {
			return fmt.Errorf("%w: staged store does not decrypt: %w", interfaces.ErrUpdateFailed, err)
		}
	}

	if err := s.backend.Save(ctx, name, staged); err != nil {
		s.log.Error("Failed to commit store",
			slog.String("store", name),
			slog.String("backend", s.backend.Name()),
			"err", err)
		return fmt.Errorf("%w: %w", interfaces.ErrUpdateFailed, err)
	}
	return nil
}

func (s *Service) lock(ctx context.Context, name string) (func(), error) {
	if err := interfaces.ValidateStoreName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	l, ok := s.locks[name]
	if !ok {
		l = &storeLock{}
		s.locks[name] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	release := func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, name)
		}
		s.mu.Unlock()
	}

	locker, ok := s.backend.(interfaces.Locker)
	if !ok {
		return release, nil
	}

	unlockBackend, err := locker.Lock(ctx, name)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to lock store %s: %w", name, err)
	}
	return func() {
		if err := unlockBackend(); err != nil {
			s.log.Warn("Failed to release store lock", slog.String("store", name), "err", err)
		}
		release()
	}, nil
}

// shortID is a log-safe prefix of the public partition id.
func shortID(partitionKey []byte) string {
	if len(partitionKey) == 0 {
		return ""
	}
	return string(PartitionIDOf(partitionKey))[:8]
}
