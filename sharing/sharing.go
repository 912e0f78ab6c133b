// Package sharing implements Shamir's Secret Sharing over a prime field with
// caller-chosen share IDs.
//
// GF(2^8) splitters such as hashicorp/vault/shamir pick their own x
// coordinates in [1, 255]. The store needs shares evaluated at arbitrary IDs
// of a share space of up to 2^24 points, so this package works in the P-256
// base field instead.
package sharing

import (
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/ruteri/mdstore/interfaces"
)

// SecretBytes is the largest secret size, in bytes, guaranteed to fit the field.
const SecretBytes = 31

var (
	// ErrSecretOutOfRange is returned for secrets outside [0, Prime).
	ErrSecretOutOfRange = errors.New("secret out of field range")

	// ErrInvalidShareIDs is returned for zero, duplicate or too few share IDs.
	ErrInvalidShareIDs = errors.New("invalid share ids")

	// ErrNoShares is returned when interpolating an empty share set.
	ErrNoShares = errors.New("no shares to interpolate")
)

var prime = new(big.Int).Set(elliptic.P256().Params().P)

// Prime returns a copy of the field modulus.
func Prime() *big.Int {
	return new(big.Int).Set(prime)
}

// Share is one evaluation of the sharing polynomial.
type Share struct {
	ID    interfaces.ShareID
	Value *big.Int
}

// GenerateShares splits secret with a random polynomial of degree
// threshold-1 and evaluates it at every id. Any threshold of the returned
// shares reconstruct the secret. A nil rnd uses crypto/rand.
func GenerateShares(rnd io.Reader, secret *big.Int, threshold int, ids []interfaces.ShareID) ([]Share, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	if secret == nil || secret.Sign() < 0 || secret.Cmp(prime) >= 0 {
		return nil, ErrSecretOutOfRange
	}
	if threshold < 1 {
		return nil, fmt.Errorf("%w: %d", interfaces.ErrInvalidThreshold, threshold)
	}
	if len(ids) < threshold {
		return nil, fmt.Errorf("%w: %d ids for threshold %d", ErrInvalidShareIDs, len(ids), threshold)
	}
	if err := checkIDs(ids); err != nil {
		return nil, err
	}

	coeffs := make([]*big.Int, threshold)
	coeffs[0] = new(big.Int).Set(secret)
	for i := 1; i < threshold; i++ {
		c, err := rand.Int(rnd, prime)
		if err != nil {
			return nil, fmt.Errorf("failed to sample coefficient: %w", err)
		}
		coeffs[i] = c
	}

	shares := make([]Share, len(ids))
	for i, id := range ids {
		shares[i] = Share{ID: id, Value: evaluate(coeffs, id)}
	}
	return shares, nil
}

// Interpolate recovers the polynomial value at zero from the given shares.
// With fewer than threshold shares, or with shares of different polynomials,
// the result is an unrelated field element; callers must verify it.
func Interpolate(shares []Share) (*big.Int, error) {
	if len(shares) == 0 {
		return nil, ErrNoShares
	}

	ids := make([]interfaces.ShareID, len(shares))
	for i, s := range shares {
		if s.Value == nil {
			return nil, fmt.Errorf("%w: share %d has no value", ErrInvalidShareIDs, s.ID)
		}
		ids[i] = s.ID
	}
	if err := checkIDs(ids); err != nil {
		return nil, err
	}

	secret := new(big.Int)
	num := new(big.Int)
	den := new(big.Int)
	tmp := new(big.Int)
	for i, si := range shares {
		xi := big.NewInt(int64(si.ID))
		num.SetInt64(1)
		den.SetInt64(1)
		for j, sj := range shares {
			if i == j {
				continue
			}
			xj := big.NewInt(int64(sj.ID))
			// basis_i(0) = prod x_j / (x_j - x_i)
			num.Mul(num, xj).Mod(num, prime)
			tmp.Sub(xj, xi).Mod(tmp, prime)
			den.Mul(den, tmp).Mod(den, prime)
		}
		if den.ModInverse(den, prime) == nil {
			return nil, fmt.Errorf("%w: non-invertible basis denominator", ErrInvalidShareIDs)
		}
		tmp.Mul(num, den).Mod(tmp, prime)
		tmp.Mul(tmp, si.Value).Mod(tmp, prime)
		secret.Add(secret, tmp).Mod(secret, prime)
	}
	return secret, nil
}

func evaluate(coeffs []*big.Int, id interfaces.ShareID) *big.Int {
	x := big.NewInt(int64(id))
	y := new(big.Int)
	for i := len(coeffs) - 1; i >= 0; i-- {
		y.Mul(y, x)
		y.Add(y, coeffs[i])
		y.Mod(y, prime)
	}
	return y
}

func checkIDs(ids []interfaces.ShareID) error {
	seen := make(map[interfaces.ShareID]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 {
			return fmt.Errorf("%w: zero id", ErrInvalidShareIDs)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate id %d", ErrInvalidShareIDs, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
