// Package partition maps a secret partition key to a deterministic subset of
// the share ID space.
//
// The subset is drawn without replacement from a keyed blake2b XOF whose key
// is a blake3 derivation of the exact input tuple, so the same key, space size
// and ratio always produce the same set. No global or reseeded RNG state is
// involved.
//
// Subsets of distinct keys are independent draws. Two partitions at ratio r
// are expected to share about r² of the space (about 9% at r = 0.3); overlap
// is expected and the store must cope with it.
package partition

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/ruteri/mdstore/interfaces"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// MaxSpaceSize bounds the share ID space so that allocation stays cheap in
// memory and time.
const MaxSpaceSize = 1 << 24

const seedContext = "mdstore partition allocation v1"

// ratioEpsilon absorbs float error in space_size * ratio (0.3 * 10 must floor to 3).
const ratioEpsilon = 1e-9

// AllocationSize returns floor(spaceSize * ratio) after validating both inputs.
func AllocationSize(spaceSize int, ratio float64) (int, error) {
	if spaceSize <= 0 || spaceSize > MaxSpaceSize {
		return 0, fmt.Errorf("%w: space size %d not in [1, %d]", interfaces.ErrInvalidSpace, spaceSize, MaxSpaceSize)
	}
	if math.IsNaN(ratio) || ratio <= 0 || ratio > 1 {
		return 0, fmt.Errorf("%w: %v not in (0, 1]", interfaces.ErrInvalidRatio, ratio)
	}

	n := int(math.Floor(float64(spaceSize)*ratio + ratioEpsilon))
	if n > spaceSize {
		n = spaceSize
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: ratio %v allocates no ids in a space of %d", interfaces.ErrInvalidRatio, ratio, spaceSize)
	}
	return n, nil
}

// Allocate returns the sorted set of floor(spaceSize * ratio) unique share IDs
// in [1, spaceSize] owned by partitionKey.
func Allocate(partitionKey []byte, spaceSize int, ratio float64) ([]interfaces.ShareID, error) {
	if len(partitionKey) == 0 {
		return nil, interfaces.ErrEmptyPartitionKey
	}
	count, err := AllocationSize(spaceSize, ratio)
	if err != nil {
		return nil, err
	}

	s, err := newStream(seed(partitionKey, spaceSize, ratio))
	if err != nil {
		return nil, err
	}

	// Partial Fisher-Yates: the first count positions end up holding a
	// uniformly drawn subset, equivalent to drawing without replacement.
	space := make([]interfaces.ShareID, spaceSize)
	for i := range space {
		space[i] = interfaces.ShareID(i + 1)
	}
	for i := 0; i < count; i++ {
		j, err := s.uint64n(uint64(spaceSize - i))
		if err != nil {
			return nil, err
		}
		k := i + int(j)
		space[i], space[k] = space[k], space[i]
	}

	ids := make([]interfaces.ShareID, count)
	copy(ids, space[:count])
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids, nil
}

// CheckRequest fails with ErrAllocationTooLarge when n IDs are requested from
// an allocation holding fewer.
func CheckRequest(allocated []interfaces.ShareID, n int) error {
	if n > len(allocated) {
		return fmt.Errorf("%w: requested %d ids from an allocation of %d", interfaces.ErrAllocationTooLarge, n, len(allocated))
	}
	return nil
}

// ExpectedOverlap is the expected fraction of the space shared by the
// allocations of two distinct keys at the given ratio.
func ExpectedOverlap(ratio float64) float64 {
	return ratio * ratio
}

// Overlap counts the IDs present in both sorted sets.
func Overlap(a, b []interfaces.ShareID) int {
	n, i, j := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			n++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return n
}

func seed(partitionKey []byte, spaceSize int, ratio float64) []byte {
	material := make([]byte, 0, len(partitionKey)+16)
	material = append(material, partitionKey...)
	material = binary.BigEndian.AppendUint64(material, uint64(spaceSize))
	material = binary.BigEndian.AppendUint64(material, math.Float64bits(ratio))

	out := make([]byte, 32)
	blake3.DeriveKey(seedContext, material, out)
	return out
}

// stream is a deterministic source of uniform integers keyed by a seed.
type stream struct {
	xof blake2b.XOF
	buf [8]byte
}

func newStream(key []byte) (*stream, error) {
	xof, err := blake2b.NewXOF(blake2b.OutputLengthUnknown, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyed XOF: %w", err)
	}
	return &stream{xof: xof}, nil
}

func (s *stream) uint64() (uint64, error) {
	if _, err := s.xof.Read(s.buf[:]); err != nil {
		return 0, fmt.Errorf("failed to read keyed XOF: %w", err)
	}
	return binary.BigEndian.Uint64(s.buf[:]), nil
}

// uint64n returns a uniform value in [0, n) using rejection sampling.
func (s *stream) uint64n(n uint64) (uint64, error) {
	limit := math.MaxUint64 - math.MaxUint64%n
	for {
		v, err := s.uint64()
		if err != nil {
			return 0, err
		}
		if v < limit {
			return v % n, nil
		}
	}
}
