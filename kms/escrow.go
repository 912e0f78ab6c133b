package kms

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/shamir"
	"github.com/ruteri/mdstore/cryptoutils"
)

var (
	// ErrUnknownCustodian is returned for shares addressed to a custodian
	// outside the recovery's configuration.
	ErrUnknownCustodian = errors.New("unknown custodian")

	// ErrAlreadyRecovered is returned when submitting to a finished recovery.
	ErrAlreadyRecovered = errors.New("key already recovered")
)

// EscrowConfig contains configuration parameters for key escrow.
type EscrowConfig struct {
	// Threshold is the minimum number of shares required to recover the key
	Threshold int
	// Custodians is the list of custodian public keys in PEM format; each
	// receives exactly one share
	Custodians [][]byte
}

func (c EscrowConfig) validate() error {
	if c.Threshold < 2 {
		return errors.New("threshold must be at least 2")
	}
	if len(c.Custodians) < c.Threshold {
		return errors.New("custodian count must be at least equal to threshold")
	}
	if len(c.Custodians) > 255 {
		return errors.New("at most 255 custodians are supported")
	}
	return nil
}

// EscrowShare is one share of an escrowed key, encrypted to its custodian.
type EscrowShare struct {
	// Custodian is the fingerprint of the custodian's public key
	Custodian string `json:"custodian"`
	// Ciphertext is the share encrypted with cryptoutils.EncryptWithPublicKey
	Ciphertext []byte `json:"ciphertext"`
}

// SplitKey splits partitionKey into one encrypted share per custodian.
// Any Threshold of them recover the key.
func SplitKey(partitionKey []byte, config EscrowConfig) ([]EscrowShare, error) {
	if len(partitionKey) == 0 {
		return nil, errors.New("empty partition key")
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	parts, err := shamir.Split(partitionKey, len(config.Custodians), config.Threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split partition key: %w", err)
	}
	defer func() {
		for _, p := range parts {
			wipeBytes(p)
		}
	}()

	shares := make([]EscrowShare, len(parts))
	for i, publicKeyPEM := range config.Custodians {
		fingerprint, err := cryptoutils.Fingerprint(publicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("invalid custodian key %d: %w", i, err)
		}
		ciphertext, err := cryptoutils.EncryptWithPublicKey(publicKeyPEM, parts[i])
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt share for custodian %s: %w", fingerprint, err)
		}
		shares[i] = EscrowShare{Custodian: fingerprint, Ciphertext: ciphertext}
	}
	return shares, nil
}

// Recovery reassembles an escrowed key from custodian shares.
type Recovery struct {
	mu             sync.Mutex
	threshold      int
	custodians     map[string]bool   // Registered custodian fingerprints
	receivedShares map[string][]byte // Opened shares by custodian
	key            []byte            // The recovered key, once the threshold is met
}

// NewRecovery creates a Recovery for the given custodians.
func NewRecovery(config EscrowConfig) (*Recovery, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	r := &Recovery{
		threshold:      config.Threshold,
		custodians:     make(map[string]bool, len(config.Custodians)),
		receivedShares: make(map[string][]byte),
	}
	for i, publicKeyPEM := range config.Custodians {
		fingerprint, err := cryptoutils.Fingerprint(publicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("invalid custodian key %d: %w", i, err)
		}
		r.custodians[fingerprint] = true
	}
	return r, nil
}

// Submit opens a share with its custodian's private key. Opening proves
// possession of the key the share was encrypted to. When the threshold is
// reached the key is recovered and the shares are wiped.
func (r *Recovery) Submit(share EscrowShare, privateKeyPEM []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.key != nil {
		return ErrAlreadyRecovered
	}
	if !r.custodians[share.Custodian] {
		return fmt.Errorf("%w: %s", ErrUnknownCustodian, share.Custodian)
	}

	plain, err := cryptoutils.DecryptWithPrivateKey(privateKeyPEM, share.Ciphertext)
	if err != nil {
		return fmt.Errorf("failed to open share for custodian %s: %w", share.Custodian, err)
	}
	r.receivedShares[share.Custodian] = plain

	return r.tryReconstruct()
}

// tryReconstruct combines the received shares once there are enough of them.
func (r *Recovery) tryReconstruct() error {
	if len(r.receivedShares) < r.threshold {
		return nil
	}

	shares := make([][]byte, 0, len(r.receivedShares))
	for _, share := range r.receivedShares {
		shares = append(shares, share)
	}

	key, err := shamir.Combine(shares)
	if err != nil {
		return fmt.Errorf("failed to reconstruct partition key: %w", err)
	}
	r.key = key

	for c := range r.receivedShares {
		wipeBytes(r.receivedShares[c])
	}
	r.receivedShares = make(map[string][]byte)
	return nil
}

// Key returns the recovered key and whether recovery has completed.
func (r *Recovery) Key() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.key == nil {
		return nil, false
	}
	return append([]byte(nil), r.key...), true
}

// Pending returns how many more shares are needed.
func (r *Recovery) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.key != nil {
		return 0
	}
	return r.threshold - len(r.receivedShares)
}

func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
