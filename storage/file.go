package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/ruteri/mdstore/interfaces"
)

const (
	fileSuffix     = ".mdstore.json"
	lockSuffix     = ".lock"
	lockRetryDelay = 50 * time.Millisecond
)

// FileBackend implements a storage backend using the local file system.
// Each store is one file under the base directory. Saves go through a
// temporary file and a rename, and writers are serialized with flock.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a new file storage backend using the specified base directory.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Load reads the store file. Returns ErrStoreNotFound if the file doesn't exist.
func (b *FileBackend) Load(ctx context.Context, name string) ([]byte, error) {
	filePath, err := b.storePath(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, interfaces.ErrStoreNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	b.log.Debug("Loaded store from file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return data, nil
}

// Save writes data to a temporary file in the same directory, syncs it and
// renames it over the store file.
func (b *FileBackend) Save(ctx context.Context, name string, data []byte) error {
	filePath, err := b.storePath(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(b.baseDir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}

	b.log.Debug("Saved store to file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return nil
}

// Delete removes the store file.
func (b *FileBackend) Delete(ctx context.Context, name string) error {
	filePath, err := b.storePath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete store file: %w", err)
	}
	return nil
}

// Lock takes an exclusive advisory lock on the store's lock file, waiting
// until it is free or ctx is done.
func (b *FileBackend) Lock(ctx context.Context, name string) (func() error, error) {
	filePath, err := b.storePath(name)
	if err != nil {
		return nil, err
	}

	fl := flock.New(filePath + lockSuffix)
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", name, err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to lock %s: %w", name, ctx.Err())
	}
	return fl.Unlock, nil
}

// Available checks if the file backend is accessible by verifying the base directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) storePath(name string) (string, error) {
	if err := interfaces.ValidateBlobName(name); err != nil {
		return "", err
	}
	return filepath.Join(b.baseDir, name+fileSuffix), nil
}
