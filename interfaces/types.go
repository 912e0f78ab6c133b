package interfaces

import (
	"fmt"
	"math/big"
	"sort"
)

// FormatVersion is the persisted store format written by this module.
const FormatVersion = "1"

// SaltSize is the size in bytes of the store-wide salt.
const SaltSize = 16

// ShareID identifies one point of the share ID space [1, N].
type ShareID uint32

// PartitionID is the public, one-way identifier of a partition as recorded in
// store metadata. It is derived from the partition key and never reveals it.
type PartitionID string

// ShareKey addresses one slot of the share map.
type ShareKey struct {
	ChunkIndex int
	ShareID    ShareID
}

// String returns a compact "chunk/id" representation used in logs and errors.
func (k ShareKey) String() string {
	return fmt.Sprintf("%d/%d", k.ChunkIndex, k.ShareID)
}

// ShareRecord is one Shamir share of one chunk of one partition's document.
type ShareRecord struct {
	ChunkIndex int
	ShareID    ShareID
	Value      *big.Int
}

// Key returns the map slot of the record.
func (r ShareRecord) Key() ShareKey {
	return ShareKey{ChunkIndex: r.ChunkIndex, ShareID: r.ShareID}
}

// KDFParams configures the password key derivation used for share selection.
type KDFParams struct {
	Algorithm string
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// KDFArgon2id is the only supported KDF algorithm name.
const KDFArgon2id = "argon2id"

// DefaultKDFParams mirrors the Argon2id parameters used for disk key derivation.
func DefaultKDFParams() KDFParams {
	return KDFParams{
		Algorithm: KDFArgon2id,
		Time:      1,
		MemoryKiB: 64 * 1024,
		Threads:   4,
	}
}

// PartitionInfo holds the per-partition metadata needed for decryption.
type PartitionInfo struct {
	ChunkCount int
}

// StoreMetadata is the public header of an EncryptedStore.
type StoreMetadata struct {
	FormatVersion   string
	Salt            []byte
	Threshold       int
	SpaceSize       int
	AllocationRatio float64
	ChunkSize       int
	Compress        bool
	KDF             KDFParams
	Partitions      map[PartitionID]PartitionInfo
}

// EncryptedStore is the metadata plus every share record of every partition.
// Shares are keyed by (chunk index, share id); a slot holds at most one value.
type EncryptedStore struct {
	Metadata StoreMetadata
	Shares   map[ShareKey]*big.Int
}

// NewEncryptedStore returns an empty store carrying the given metadata.
func NewEncryptedStore(meta StoreMetadata) *EncryptedStore {
	if meta.Partitions == nil {
		meta.Partitions = make(map[PartitionID]PartitionInfo)
	}
	return &EncryptedStore{
		Metadata: meta,
		Shares:   make(map[ShareKey]*big.Int),
	}
}

// Clone returns a deep copy of the store. Share values are copied so that the
// clone can be mutated without affecting the receiver.
func (s *EncryptedStore) Clone() *EncryptedStore {
	meta := s.Metadata
	meta.Salt = append([]byte(nil), s.Metadata.Salt...)
	meta.Partitions = make(map[PartitionID]PartitionInfo, len(s.Metadata.Partitions))
	for id, info := range s.Metadata.Partitions {
		meta.Partitions[id] = info
	}

	shares := make(map[ShareKey]*big.Int, len(s.Shares))
	for k, v := range s.Shares {
		shares[k] = new(big.Int).Set(v)
	}

	return &EncryptedStore{Metadata: meta, Shares: shares}
}

// Records returns all share records ordered by chunk index, then share id.
func (s *EncryptedStore) Records() []ShareRecord {
	records := make([]ShareRecord, 0, len(s.Shares))
	for k, v := range s.Shares {
		records = append(records, ShareRecord{ChunkIndex: k.ChunkIndex, ShareID: k.ShareID, Value: v})
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].ChunkIndex != records[j].ChunkIndex {
			return records[i].ChunkIndex < records[j].ChunkIndex
		}
		return records[i].ShareID < records[j].ShareID
	})
	return records
}

// PartitionIDs returns the recorded partition ids in lexical order.
func (s *EncryptedStore) PartitionIDs() []PartitionID {
	ids := make([]PartitionID, 0, len(s.Metadata.Partitions))
	for id := range s.Metadata.Partitions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
