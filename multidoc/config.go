package multidoc

import (
	"fmt"

	"github.com/ruteri/mdstore/interfaces"
	"github.com/ruteri/mdstore/partition"
	"github.com/ruteri/mdstore/selector"
)

// MinThreshold is the smallest accepted threshold. A threshold of one would
// store every chunk in the clear.
const MinThreshold = 2

// Config holds the store-wide parameters fixed at creation time.
type Config struct {
	// SpaceSize is N of the share ID space [1, N].
	SpaceSize int
	// AllocationRatio is the fraction of the space allocated to each partition.
	AllocationRatio float64
	// Threshold is the number of shares generated and required per chunk.
	Threshold int
	// Compress enables LZMA compression of documents before chunking.
	Compress bool
	// KDF configures password key derivation for share selection.
	KDF interfaces.KDFParams
}

// DefaultConfig returns the recommended store parameters.
func DefaultConfig() Config {
	return Config{
		SpaceSize:       10000,
		AllocationRatio: 0.3,
		Threshold:       3,
		KDF:             interfaces.DefaultKDFParams(),
	}
}

// Validate checks the configuration and fails fast on the first problem.
func (c Config) Validate() error {
	allocated, err := partition.AllocationSize(c.SpaceSize, c.AllocationRatio)
	if err != nil {
		return err
	}
	if c.Threshold < MinThreshold {
		return fmt.Errorf("%w: threshold must be at least %d, got %d", interfaces.ErrInvalidThreshold, MinThreshold, c.Threshold)
	}
	if c.Threshold > allocated {
		return fmt.Errorf("%w: threshold %d exceeds the %d ids allocated per partition", interfaces.ErrAllocationTooLarge, c.Threshold, allocated)
	}
	return selector.ValidateKDFParams(c.KDF)
}

func (c Config) metadata(salt []byte) interfaces.StoreMetadata {
	return interfaces.StoreMetadata{
		FormatVersion:   interfaces.FormatVersion,
		Salt:            salt,
		Threshold:       c.Threshold,
		SpaceSize:       c.SpaceSize,
		AllocationRatio: c.AllocationRatio,
		ChunkSize:       ChunkSize,
		Compress:        c.Compress,
		KDF:             c.KDF,
		Partitions:      make(map[interfaces.PartitionID]interfaces.PartitionInfo),
	}
}

// validateMetadata checks a loaded store header before any derivation uses it.
func validateMetadata(meta interfaces.StoreMetadata) error {
	if meta.FormatVersion != interfaces.FormatVersion {
		return fmt.Errorf("%w: version %q", interfaces.ErrUnsupportedFormat, meta.FormatVersion)
	}
	if meta.ChunkSize != ChunkSize {
		return fmt.Errorf("%w: chunk size %d", interfaces.ErrUnsupportedFormat, meta.ChunkSize)
	}
	if len(meta.Salt) != interfaces.SaltSize {
		return fmt.Errorf("%w: salt of %d bytes", interfaces.ErrUnsupportedFormat, len(meta.Salt))
	}
	cfg := Config{
		SpaceSize:       meta.SpaceSize,
		AllocationRatio: meta.AllocationRatio,
		Threshold:       meta.Threshold,
		KDF:             meta.KDF,
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrUnsupportedFormat, err)
	}
	return nil
}
