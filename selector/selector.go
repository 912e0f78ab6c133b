// Package selector ranks a partition's allocated share IDs with a password and
// the store salt, and picks the top-threshold IDs used for sharing.
//
// The ranking key is Argon2id(password, salt). Each candidate is scored by a
// blake3 keyed hash of its big-endian ID; candidates are ordered by score and
// then by ID, so the output is a pure function of its inputs.
package selector

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ruteri/mdstore/interfaces"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/argon2"
)

// KeySize is the length of the derived ranking key.
const KeySize = 32

// DeriveKey derives the ranking key from a password and the store salt.
func DeriveKey(password string, salt []byte, params interfaces.KDFParams) ([]byte, error) {
	if len(salt) != interfaces.SaltSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", interfaces.ErrInvalidSalt, len(salt), interfaces.SaltSize)
	}
	if err := ValidateKDFParams(params); err != nil {
		return nil, err
	}
	return argon2.IDKey([]byte(password), salt, params.Time, params.MemoryKiB, params.Threads, KeySize), nil
}

// ValidateKDFParams rejects unknown algorithms and degenerate Argon2 costs.
func ValidateKDFParams(params interfaces.KDFParams) error {
	if params.Algorithm != interfaces.KDFArgon2id {
		return fmt.Errorf("%w: unsupported kdf %q", interfaces.ErrInvalidConfig, params.Algorithm)
	}
	if params.Time == 0 || params.Threads == 0 || params.MemoryKiB < 8*uint32(params.Threads) {
		return fmt.Errorf("%w: kdf parameters time=%d memory=%dKiB threads=%d",
			interfaces.ErrInvalidConfig, params.Time, params.MemoryKiB, params.Threads)
	}
	return nil
}

// Selector ranks candidate IDs under one derived key. Deriving the key is the
// expensive step, so a Selector should be reused for every selection made
// with the same password and salt.
type Selector struct {
	key []byte
}

// New derives the ranking key and returns a Selector for it.
func New(password string, salt []byte, params interfaces.KDFParams) (*Selector, error) {
	key, err := DeriveKey(password, salt, params)
	if err != nil {
		return nil, err
	}
	return &Selector{key: key}, nil
}

// NewWithKey returns a Selector over an already derived ranking key.
func NewWithKey(key []byte) (*Selector, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("ranking key must be %d bytes, got %d", KeySize, len(key))
	}
	return &Selector{key: append([]byte(nil), key...)}, nil
}

// Score returns the 64-bit score of id under the selector key.
func (s *Selector) Score(id interfaces.ShareID) uint64 {
	h, err := blake3.NewKeyed(s.key)
	if err != nil {
		// Key length is checked at construction.
		panic(err)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	h.Write(buf[:])
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// ScoreFloat maps Score to a value in [0, 1).
func (s *Selector) ScoreFloat(id interfaces.ShareID) float64 {
	return float64(s.Score(id)>>11) / (1 << 53)
}

// Rank returns every candidate ordered by ascending score, ties broken by ID.
func (s *Selector) Rank(candidates []interfaces.ShareID) []interfaces.ShareID {
	type scored struct {
		id    interfaces.ShareID
		score uint64
	}

	ranked := make([]scored, 0, len(candidates))
	seen := make(map[interfaces.ShareID]struct{}, len(candidates))
	for _, id := range candidates {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ranked = append(ranked, scored{id: id, score: s.Score(id)})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score < ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})

	out := make([]interfaces.ShareID, len(ranked))
	for i, r := range ranked {
		out[i] = r.id
	}
	return out
}

// Select returns the threshold best-ranked candidates.
func (s *Selector) Select(candidates []interfaces.ShareID, threshold int) ([]interfaces.ShareID, error) {
	if threshold < 1 {
		return nil, fmt.Errorf("%w: %d", interfaces.ErrInvalidThreshold, threshold)
	}
	ranked := s.Rank(candidates)
	if threshold > len(ranked) {
		return nil, fmt.Errorf("%w: threshold %d exceeds %d candidates", interfaces.ErrInsufficientCandidates, threshold, len(ranked))
	}
	return ranked[:threshold], nil
}

// Select derives the ranking key from password and salt and returns the
// threshold best-ranked candidates.
func Select(password string, salt []byte, params interfaces.KDFParams, candidates []interfaces.ShareID, threshold int) ([]interfaces.ShareID, error) {
	if threshold < 1 {
		return nil, fmt.Errorf("%w: %d", interfaces.ErrInvalidThreshold, threshold)
	}
	if threshold > len(candidates) {
		return nil, fmt.Errorf("%w: threshold %d exceeds %d candidates", interfaces.ErrInsufficientCandidates, threshold, len(candidates))
	}
	s, err := New(password, salt, params)
	if err != nil {
		return nil, err
	}
	return s.Select(candidates, threshold)
}
