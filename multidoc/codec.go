package multidoc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ruteri/mdstore/interfaces"
	"github.com/ruteri/mdstore/sharing"
)

type storeFile struct {
	Metadata metadataFile `json:"metadata"`
	Shares   []shareEntry `json:"shares"`
}

type metadataFile struct {
	FormatVersion   string                   `json:"format_version"`
	Salt            string                   `json:"salt"`
	Threshold       int                      `json:"threshold"`
	SpaceSize       int                      `json:"space_size"`
	AllocationRatio float64                  `json:"allocation_ratio"`
	ChunkSize       int                      `json:"chunk_size"`
	Compress        bool                     `json:"compress,omitempty"`
	KDF             kdfFile                  `json:"kdf"`
	Partitions      map[string]partitionFile `json:"partitions"`
}

type kdfFile struct {
	Algorithm string `json:"algorithm"`
	Time      uint32 `json:"time"`
	MemoryKiB uint32 `json:"memory_kib"`
	Threads   uint8  `json:"threads"`
}

type partitionFile struct {
	ChunkCount int `json:"chunk_count"`
}

type shareEntry struct {
	Chunk int    `json:"chunk"`
	ID    uint32 `json:"id"`
	Value string `json:"value"`
}

// Marshal encodes the store as JSON. Shares are written in (chunk, id) order
// so equal stores encode to equal bytes.
func Marshal(store *interfaces.EncryptedStore) ([]byte, error) {
	meta := store.Metadata
	file := storeFile{
		Metadata: metadataFile{
			FormatVersion:   meta.FormatVersion,
			Salt:            base64.StdEncoding.EncodeToString(meta.Salt),
			Threshold:       meta.Threshold,
			SpaceSize:       meta.SpaceSize,
			AllocationRatio: meta.AllocationRatio,
			ChunkSize:       meta.ChunkSize,
			Compress:        meta.Compress,
			KDF: kdfFile{
				Algorithm: meta.KDF.Algorithm,
				Time:      meta.KDF.Time,
				MemoryKiB: meta.KDF.MemoryKiB,
				Threads:   meta.KDF.Threads,
			},
			Partitions: make(map[string]partitionFile, len(meta.Partitions)),
		},
	}
	for id, info := range meta.Partitions {
		file.Metadata.Partitions[string(id)] = partitionFile{ChunkCount: info.ChunkCount}
	}

	records := store.Records()
	file.Shares = make([]shareEntry, len(records))
	for i, r := range records {
		file.Shares[i] = shareEntry{Chunk: r.ChunkIndex, ID: uint32(r.ShareID), Value: r.Value.String()}
	}

	data, err := json.Marshal(file)
	if err != nil {
		return nil, fmt.Errorf("failed to encode store: %w", err)
	}
	return data, nil
}

// Unmarshal decodes and validates a store produced by Marshal.
func Unmarshal(data []byte) (*interfaces.EncryptedStore, error) {
	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrUnsupportedFormat, err)
	}

	salt, err := base64.StdEncoding.DecodeString(file.Metadata.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: salt: %v", interfaces.ErrUnsupportedFormat, err)
	}

	meta := interfaces.StoreMetadata{
		FormatVersion:   file.Metadata.FormatVersion,
		Salt:            salt,
		Threshold:       file.Metadata.Threshold,
		SpaceSize:       file.Metadata.SpaceSize,
		AllocationRatio: file.Metadata.AllocationRatio,
		ChunkSize:       file.Metadata.ChunkSize,
		Compress:        file.Metadata.Compress,
		KDF: interfaces.KDFParams{
			Algorithm: file.Metadata.KDF.Algorithm,
			Time:      file.Metadata.KDF.Time,
			MemoryKiB: file.Metadata.KDF.MemoryKiB,
			Threads:   file.Metadata.KDF.Threads,
		},
		Partitions: make(map[interfaces.PartitionID]interfaces.PartitionInfo, len(file.Metadata.Partitions)),
	}
	if err := validateMetadata(meta); err != nil {
		return nil, err
	}
	maxChunks := 0
	for id, p := range file.Metadata.Partitions {
		if p.ChunkCount <= 0 || p.ChunkCount > MaxChunkCount {
			return nil, fmt.Errorf("%w: partition %s has %d chunks", interfaces.ErrUnsupportedFormat, id, p.ChunkCount)
		}
		meta.Partitions[interfaces.PartitionID(id)] = interfaces.PartitionInfo{ChunkCount: p.ChunkCount}
		maxChunks = max(maxChunks, p.ChunkCount)
	}

	store := interfaces.NewEncryptedStore(meta)
	prime := sharing.Prime()
	for _, e := range file.Shares {
		if e.Chunk < 0 || e.Chunk >= maxChunks || e.ID == 0 || int(e.ID) > meta.SpaceSize {
			return nil, fmt.Errorf("%w: share %d/%d out of range", interfaces.ErrUnsupportedFormat, e.Chunk, e.ID)
		}
		v, ok := new(big.Int).SetString(e.Value, 10)
		if !ok || v.Sign() < 0 || v.Cmp(prime) >= 0 {
			return nil, fmt.Errorf("%w: share %d/%d has an invalid value", interfaces.ErrUnsupportedFormat, e.Chunk, e.ID)
		}
		key := interfaces.ShareKey{ChunkIndex: e.Chunk, ShareID: interfaces.ShareID(e.ID)}
		if _, dup := store.Shares[key]; dup {
			return nil, fmt.Errorf("%w: duplicate share %s", interfaces.ErrUnsupportedFormat, key)
		}
		store.Shares[key] = v
	}
	return store, nil
}
