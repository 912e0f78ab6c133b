package interfaces

import "errors"

var (
	// ErrInvalidSpace is returned when the share ID space size is not positive
	// or exceeds the supported maximum.
	ErrInvalidSpace = errors.New("invalid share id space")

	// ErrInvalidRatio is returned when the allocation ratio is outside (0, 1].
	ErrInvalidRatio = errors.New("invalid allocation ratio")

	// ErrEmptyPartitionKey is returned when a partition key has no bytes.
	ErrEmptyPartitionKey = errors.New("empty partition key")

	// ErrAllocationTooLarge is returned when more IDs are requested than a
	// partition's allocated set contains.
	ErrAllocationTooLarge = errors.New("allocation too large")

	// ErrInsufficientCandidates is returned when a threshold exceeds the
	// number of candidate share IDs.
	ErrInsufficientCandidates = errors.New("insufficient candidates")

	// ErrInvalidThreshold is returned for thresholds below one.
	ErrInvalidThreshold = errors.New("invalid threshold")

	// ErrInvalidSalt is returned when a salt does not have SaltSize bytes.
	ErrInvalidSalt = errors.New("invalid salt")

	// ErrInvalidConfig is returned for store configuration that fails validation.
	ErrInvalidConfig = errors.New("invalid store configuration")

	// ErrUnknownPartition is returned when decryption is requested for a
	// partition that was never written to the store.
	ErrUnknownPartition = errors.New("unknown partition")

	// ErrInsufficientShares is returned when fewer than threshold matching
	// shares exist for some chunk. It is always joined with ErrDecryptionFailed.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrDecryptionFailed is the generic decryption error. It deliberately does
	// not tell whether the password, the partition data or the store is at fault.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrShareCollision is returned when an update would have to overwrite a
	// share slot held by another partition.
	ErrShareCollision = errors.New("share slot held by another partition")

	// ErrUpdateFailed is returned when a staged update could not be committed.
	// The previously persisted store is left intact.
	ErrUpdateFailed = errors.New("update failed")

	// ErrStoreExists is returned when creating a store under a name in use.
	ErrStoreExists = errors.New("store already exists")

	// ErrUnsupportedFormat is returned when a persisted store has an unknown
	// format version or cannot be parsed.
	ErrUnsupportedFormat = errors.New("unsupported store format")
)
