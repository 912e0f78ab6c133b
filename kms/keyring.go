package kms

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/ruteri/mdstore/cryptoutils"
	"github.com/ruteri/mdstore/interfaces"
)

// PartitionKeySize is the size of keys produced by GeneratePartitionKey.
const PartitionKeySize = 32

// GeneratePartitionKey returns a fresh random partition key.
func GeneratePartitionKey() ([]byte, error) {
	key := make([]byte, PartitionKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate partition key: %w", err)
	}
	return key, nil
}

// Keyring implements interfaces.KeyStore on top of a StoreBackend. All keys
// live in one blob sealed with a passphrase.
type Keyring struct {
	backend    interfaces.StoreBackend
	name       string
	passphrase string
	log        *slog.Logger

	mu sync.Mutex
}

// NewKeyring creates a Keyring stored in backend under the reserved blob
// name ReservedPrefix+name, outside the namespace of stores.
func NewKeyring(backend interfaces.StoreBackend, name, passphrase string, log *slog.Logger) (*Keyring, error) {
	if err := interfaces.ValidateStoreName(name); err != nil {
		return nil, err
	}
	if passphrase == "" {
		return nil, errors.New("empty keyring passphrase")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Keyring{backend: backend, name: interfaces.ReservedPrefix + name, passphrase: passphrase, log: log}, nil
}

// Get returns the key stored under name or ErrKeyNotFound.
func (k *Keyring) Get(ctx context.Context, name string) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	keys, err := k.load(ctx)
	if err != nil {
		return nil, err
	}
	key, ok := keys[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrKeyNotFound, name)
	}
	return key, nil
}

// Put stores key under name, replacing any previous key.
func (k *Keyring) Put(ctx context.Context, name string, key []byte) error {
	if name == "" {
		return errors.New("empty key name")
	}
	if len(key) == 0 {
		return interfaces.ErrEmptyPartitionKey
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	keys, err := k.load(ctx)
	if err != nil {
		return err
	}
	keys[name] = append([]byte(nil), key...)

	plain, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("failed to encode keyring: %w", err)
	}
	sealed, err := cryptoutils.SealWithPassword(k.passphrase, plain)
	wipeBytes(plain)
	if err != nil {
		return fmt.Errorf("failed to seal keyring: %w", err)
	}
	if err := k.backend.Save(ctx, k.name, sealed); err != nil {
		return fmt.Errorf("failed to save keyring: %w", err)
	}

	k.log.Debug("Stored partition key", slog.String("keyring", k.name), slog.String("key", name))
	return nil
}

// List returns all key names in lexical order.
func (k *Keyring) List(ctx context.Context) ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	keys, err := k.load(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for name := range keys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// load returns the decoded keyring; a missing blob is an empty keyring.
func (k *Keyring) load(ctx context.Context) (map[string][]byte, error) {
	sealed, err := k.backend.Load(ctx, k.name)
	if errors.Is(err, interfaces.ErrStoreNotFound) {
		return make(map[string][]byte), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load keyring: %w", err)
	}

	plain, err := cryptoutils.OpenWithPassword(k.passphrase, sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring %s: %w", k.name, err)
	}
	defer wipeBytes(plain)

	keys := make(map[string][]byte)
	if err := json.Unmarshal(plain, &keys); err != nil {
		return nil, fmt.Errorf("failed to decode keyring: %w", err)
	}
	return keys, nil
}
