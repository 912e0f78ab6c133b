// Package multidoc keeps several independent documents in one EncryptedStore.
//
// Each document belongs to a partition identified by a secret partition key.
// The document is framed, cut into ChunkSize-byte chunks and every chunk is
// Shamir-shared over share IDs chosen in two deterministic steps: the
// partition key allocates a subset of the share space (package partition) and
// the password plus store salt ranks that subset (package selector). The top
// threshold IDs carry the shares.
//
// Shares live in a map keyed by (chunk index, share id). Writing a partition
// only touches that partition's slots, so other partitions always survive.
//
// Create, Update, Remove, Rotate and Decrypt are pure functions over an
// in-memory store. Service adds persistence with all-or-nothing commits.
package multidoc

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"

	"github.com/ruteri/mdstore/interfaces"
	"github.com/ruteri/mdstore/partition"
	"github.com/ruteri/mdstore/selector"
	"github.com/ruteri/mdstore/sharing"
	"github.com/zeebo/blake3"
)

const partitionIDContext = "mdstore partition id v1"

// PartitionIDOf returns the public partition identifier for a partition key.
func PartitionIDOf(partitionKey []byte) interfaces.PartitionID {
	out := make([]byte, 16)
	blake3.DeriveKey(partitionIDContext, partitionKey, out)
	return interfaces.PartitionID(hex.EncodeToString(out))
}

// Create starts a new store with a fresh salt and writes the first document.
func Create(document []byte, password string, partitionKey []byte, cfg Config) (*interfaces.EncryptedStore, error) {
	return create(rand.Reader, document, password, partitionKey, cfg)
}

func create(rnd io.Reader, document []byte, password string, partitionKey []byte, cfg Config) (*interfaces.EncryptedStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	salt := make([]byte, interfaces.SaltSize)
	if _, err := io.ReadFull(rnd, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	store := interfaces.NewEncryptedStore(cfg.metadata(salt))
	if err := write(rnd, store, document, password, partitionKey); err != nil {
		return nil, err
	}
	return store, nil
}

// Update writes document as the partition's content and returns the merged
// store. The input store is never modified.
//
// The store's salt, threshold and allocation parameters are reused. Only the
// slots at this partition's selected share IDs are replaced; every other
// record is kept. Overwriting an existing partition requires its current
// password. If a new chunk would land on a slot held by another partition the
// update fails with ErrShareCollision.
//
// Update is not safe for concurrent callers on the same persisted store
// without external locking; see Service.
func Update(store *interfaces.EncryptedStore, document []byte, password string, partitionKey []byte) (*interfaces.EncryptedStore, error) {
	if err := validateMetadata(store.Metadata); err != nil {
		return nil, err
	}
	next := store.Clone()
	if err := write(rand.Reader, next, document, password, partitionKey); err != nil {
		return nil, err
	}
	return next, nil
}

// Decrypt reconstructs the partition's document.
//
// A partition key never written to the store yields ErrUnknownPartition. Any
// other credential or data problem yields ErrDecryptionFailed, joined with
// ErrInsufficientShares when a chunk is missing shares.
func Decrypt(store *interfaces.EncryptedStore, password string, partitionKey []byte) ([]byte, error) {
	if err := validateMetadata(store.Metadata); err != nil {
		return nil, err
	}
	if len(partitionKey) == 0 {
		return nil, interfaces.ErrEmptyPartitionKey
	}

	info, ok := store.Metadata.Partitions[PartitionIDOf(partitionKey)]
	if !ok {
		return nil, interfaces.ErrUnknownPartition
	}

	selected, err := selectIDs(store.Metadata, password, partitionKey)
	if err != nil {
		return nil, err
	}
	return reconstruct(store, selected, info.ChunkCount)
}

// Remove deletes the partition's shares and metadata entry. The current
// password is required. The input store is never modified.
func Remove(store *interfaces.EncryptedStore, password string, partitionKey []byte) (*interfaces.EncryptedStore, error) {
	if _, err := Decrypt(store, password, partitionKey); err != nil {
		return nil, err
	}
	selected, err := selectIDs(store.Metadata, password, partitionKey)
	if err != nil {
		return nil, err
	}

	next := store.Clone()
	pid := PartitionIDOf(partitionKey)
	clearSlots(next, selected, 0, next.Metadata.Partitions[pid].ChunkCount)
	delete(next.Metadata.Partitions, pid)
	return next, nil
}

// Rotate re-shares the partition's document under a new password. The input
// store is never modified.
func Rotate(store *interfaces.EncryptedStore, partitionKey []byte, oldPassword, newPassword string) (*interfaces.EncryptedStore, error) {
	document, err := Decrypt(store, oldPassword, partitionKey)
	if err != nil {
		return nil, err
	}
	next, err := Remove(store, oldPassword, partitionKey)
	if err != nil {
		return nil, err
	}
	if err := write(rand.Reader, next, document, newPassword, partitionKey); err != nil {
		return nil, err
	}
	return next, nil
}

// selectIDs is the single derivation path shared by every operation, so
// create, update and decrypt always agree on the share IDs.
func selectIDs(meta interfaces.StoreMetadata, password string, partitionKey []byte) ([]interfaces.ShareID, error) {
	allocated, err := partition.Allocate(partitionKey, meta.SpaceSize, meta.AllocationRatio)
	if err != nil {
		return nil, err
	}
	if err := partition.CheckRequest(allocated, meta.Threshold); err != nil {
		return nil, err
	}
	return selector.Select(password, meta.Salt, meta.KDF, allocated, meta.Threshold)
}

// write shares document into store in place under the partition's slots.
func write(rnd io.Reader, store *interfaces.EncryptedStore, document []byte, password string, partitionKey []byte) error {
	if len(partitionKey) == 0 {
		return interfaces.ErrEmptyPartitionKey
	}
	meta := &store.Metadata

	payload, err := encodePayload(document, meta.Compress)
	if err != nil {
		return err
	}
	chunks := splitChunks(payload)

	selected, err := selectIDs(*meta, password, partitionKey)
	if err != nil {
		return err
	}

	pid := PartitionIDOf(partitionKey)
	owned := 0
	if info, exists := meta.Partitions[pid]; exists {
		// Proving the password proves that the slots of chunks below the
		// recorded count are this partition's own.
		if _, err := reconstruct(store, selected, info.ChunkCount); err != nil {
			return err
		}
		owned = info.ChunkCount
	}

	for c := owned; c < len(chunks); c++ {
		for _, id := range selected {
			key := interfaces.ShareKey{ChunkIndex: c, ShareID: id}
			if _, taken := store.Shares[key]; taken {
				return fmt.Errorf("%w: slot %s", interfaces.ErrShareCollision, key)
			}
		}
	}

	generated := make(map[interfaces.ShareKey]*big.Int, len(chunks)*len(selected))
	for c, secret := range chunks {
		shares, err := sharing.GenerateShares(rnd, secret, meta.Threshold, selected)
		if err != nil {
			return fmt.Errorf("failed to share chunk %d: %w", c, err)
		}
		for _, s := range shares {
			generated[interfaces.ShareKey{ChunkIndex: c, ShareID: s.ID}] = s.Value
		}
	}

	clearSlots(store, selected, len(chunks), owned)
	for k, v := range generated {
		store.Shares[k] = v
	}
	meta.Partitions[pid] = interfaces.PartitionInfo{ChunkCount: len(chunks)}
	return nil
}

// clearSlots deletes the selected slots of chunks in [from, to).
func clearSlots(store *interfaces.EncryptedStore, selected []interfaces.ShareID, from, to int) {
	for c := from; c < to; c++ {
		for _, id := range selected {
			delete(store.Shares, interfaces.ShareKey{ChunkIndex: c, ShareID: id})
		}
	}
}

func reconstruct(store *interfaces.EncryptedStore, selected []interfaces.ShareID, chunkCount int) ([]byte, error) {
	threshold := store.Metadata.Threshold
	if chunkCount <= 0 || chunkCount > MaxChunkCount {
		return nil, interfaces.ErrDecryptionFailed
	}

	values := make([]*big.Int, chunkCount)
	for c := 0; c < chunkCount; c++ {
		shares := make([]sharing.Share, 0, len(selected))
		for _, id := range selected {
			if v, ok := store.Shares[interfaces.ShareKey{ChunkIndex: c, ShareID: id}]; ok {
				shares = append(shares, sharing.Share{ID: id, Value: v})
			}
		}
		if len(shares) < threshold {
			return nil, fmt.Errorf("%w: %w", interfaces.ErrDecryptionFailed, interfaces.ErrInsufficientShares)
		}

		secret, err := sharing.Interpolate(shares)
		if err != nil {
			return nil, interfaces.ErrDecryptionFailed
		}
		values[c] = secret
	}

	payload, err := joinChunks(values)
	if err != nil {
		return nil, err
	}
	return decodePayload(payload)
}
