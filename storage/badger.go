package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/ruteri/mdstore/interfaces"
)

const badgerKeyPrefix = "store/"

// BadgerBackend implements a storage backend on an embedded BadgerDB.
// Each store is one key; a Save is a single committed transaction.
type BadgerBackend struct {
	db          *badger.DB
	path        string
	log         *slog.Logger
	locationURI string
}

// NewBadgerBackend opens (or creates) a BadgerDB at path. With inMemory set
// the path is ignored and nothing touches the disk.
func NewBadgerBackend(path string, inMemory bool, log *slog.Logger) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(path).WithSyncWrites(true)
	if inMemory {
		path = ""
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	uri := fmt.Sprintf("badger://%s", path)
	if inMemory {
		uri = "badger://?inmemory=true"
	}

	return &BadgerBackend{
		db:          db,
		path:        path,
		log:         log,
		locationURI: uri,
	}, nil
}

// Load returns the stored blob. Returns ErrStoreNotFound if the key doesn't exist.
func (b *BadgerBackend) Load(ctx context.Context, name string) ([]byte, error) {
	key, err := badgerKey(name)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, interfaces.ErrStoreNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read from badger: %w", err)
	}

	b.log.Debug("Loaded store from badger",
		slog.String("name", name),
		slog.Int("size", len(data)))

	return data, nil
}

// Save replaces the stored blob in one transaction.
func (b *BadgerBackend) Save(ctx context.Context, name string, data []byte) error {
	key, err := badgerKey(name)
	if err != nil {
		return err
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("failed to write to badger: %w", err)
	}

	b.log.Debug("Saved store to badger",
		slog.String("name", name),
		slog.Int("size", len(data)))

	return nil
}

// Delete removes the stored blob.
func (b *BadgerBackend) Delete(ctx context.Context, name string) error {
	key, err := badgerKey(name)
	if err != nil {
		return err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("failed to delete from badger: %w", err)
	}
	return nil
}

// List returns the names of all stores in the database.
func (b *BadgerBackend) List(ctx context.Context) ([]string, error) {
	var names []string
	prefix := []byte(badgerKeyPrefix)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			names = append(names, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list badger keys: %w", err)
	}
	return names, nil
}

// Available reports whether the database is open.
func (b *BadgerBackend) Available(ctx context.Context) bool {
	return !b.db.IsClosed()
}

// Close closes the underlying database.
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

// Name returns a unique identifier for this storage backend.
func (b *BadgerBackend) Name() string {
	if b.path == "" {
		return "badger-memory"
	}
	return fmt.Sprintf("badger-%s", b.path)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *BadgerBackend) LocationURI() string {
	return b.locationURI
}

func badgerKey(name string) ([]byte, error) {
	if err := interfaces.ValidateBlobName(name); err != nil {
		return nil, err
	}
	return []byte(badgerKeyPrefix + name), nil
}
