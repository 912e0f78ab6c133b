// Package cryptoutils holds the public-key and password sealing primitives
// used for partition key escrow and the local keyring.
package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

const (
	eciesContext = "mdstore ecies v1"
	gcmNonceSize = 12
)

// ErrInvalidKey is returned for malformed or unsupported key material.
var ErrInvalidKey = errors.New("invalid key")

// GenerateKeypair returns a fresh P-256 key pair as PKIX public and SEC 1
// private PEM blocks.
func GenerateKeypair() (publicKeyPEM, privateKeyPEM []byte, err error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	privateKeyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, nil, err
	}
	pubkeyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, nil, err
	}

	publicKeyPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubkeyBytes})
	privateKeyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privateKeyBytes})
	return publicKeyPEM, privateKeyPEM, nil
}

// Fingerprint identifies a public key by the hash of its DER encoding.
func Fingerprint(publicKeyPEM []byte) (string, error) {
	pub, err := parsePublicKey(publicKeyPEM)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(pub.Bytes())
	return hex.EncodeToString(sum[:8]), nil
}

// EncryptWithPublicKey encrypts data using ECIES with the given public key PEM.
// A fresh ephemeral key is generated for each encryption; the AES-GCM key is
// derived from the ECDH secret bound to both public keys.
//
// Format: [ephemeral key length (2 bytes)][ephemeral key][iv][ciphertext]
func EncryptWithPublicKey(publicKeyPEM []byte, data []byte) ([]byte, error) {
	publicKey, err := parsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	ephemeralKey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	shared, err := ephemeralKey.ECDH(publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive shared secret: %w", err)
	}
	ephemeralBytes := ephemeralKey.PublicKey().Bytes()

	aesGCM, err := newGCM(shared, ephemeralBytes, publicKey.Bytes())
	if err != nil {
		return nil, err
	}

	iv := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	result := make([]byte, 2, 2+len(ephemeralBytes)+gcmNonceSize+len(data)+aesGCM.Overhead())
	binary.BigEndian.PutUint16(result, uint16(len(ephemeralBytes)))
	result = append(result, ephemeralBytes...)
	result = append(result, iv...)
	return aesGCM.Seal(result, iv, data, nil), nil
}

// DecryptWithPrivateKey decrypts data encrypted with EncryptWithPublicKey using the corresponding private key.
func DecryptWithPrivateKey(privateKeyPEM []byte, encryptedData []byte) ([]byte, error) {
	privateKey, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}

	if len(encryptedData) < 2 {
		return nil, errors.New("encrypted data too short")
	}
	ephemeralKeyLen := int(binary.BigEndian.Uint16(encryptedData[0:2]))
	if len(encryptedData) < 2+ephemeralKeyLen+gcmNonceSize {
		return nil, errors.New("encrypted data has invalid format")
	}

	ephemeralBytes := encryptedData[2 : 2+ephemeralKeyLen]
	ephemeralKey, err := ecdh.P256().NewPublicKey(ephemeralBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal ephemeral public key: %w", err)
	}
	shared, err := privateKey.ECDH(ephemeralKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive shared secret: %w", err)
	}

	aesGCM, err := newGCM(shared, ephemeralBytes, privateKey.PublicKey().Bytes())
	if err != nil {
		return nil, err
	}

	ivStart := 2 + ephemeralKeyLen
	iv := encryptedData[ivStart : ivStart+gcmNonceSize]
	plaintext, err := aesGCM.Open(nil, iv, encryptedData[ivStart+gcmNonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func newGCM(shared, ephemeral, recipient []byte) (cipher.AEAD, error) {
	material := make([]byte, 0, len(shared)+len(ephemeral)+len(recipient))
	material = append(material, shared...)
	material = append(material, ephemeral...)
	material = append(material, recipient...)

	key := make([]byte, 32)
	blake3.DeriveKey(eciesContext, material, key)

	aesBlock, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(aesBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}

func parsePublicKey(publicKeyPEM []byte) (*ecdh.PublicKey, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("%w: failed to decode public key PEM", ErrInvalidKey)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	ecdsaKey, ok := parsed.(*ecdsa.PublicKey)
	if !ok || ecdsaKey.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: not a P-256 public key", ErrInvalidKey)
	}
	return ecdsaKey.ECDH()
}

func parsePrivateKey(privateKeyPEM []byte) (*ecdh.PrivateKey, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, fmt.Errorf("%w: failed to decode private key PEM", ErrInvalidKey)
	}

	var ecdsaKey *ecdsa.PrivateKey
	switch block.Type {
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		ecdsaKey = key
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		k, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an ECDSA private key", ErrInvalidKey)
		}
		ecdsaKey = k
	default:
		return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrInvalidKey, block.Type)
	}

	if ecdsaKey.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: not a P-256 private key", ErrInvalidKey)
	}
	return ecdsaKey.ECDH()
}
