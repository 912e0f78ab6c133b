package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const sealSaltSize = 16

// ErrSealOpen is returned when sealed data cannot be opened, whether due to
// a wrong password or tampering.
var ErrSealOpen = errors.New("failed to open sealed data")

// SealWithPassword encrypts data under an Argon2id key derived from password.
//
// Format: [salt (16 bytes)][iv][ciphertext]
func SealWithPassword(password string, data []byte) ([]byte, error) {
	salt := make([]byte, sealSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	aesGCM, err := passwordGCM(password, salt)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	out := make([]byte, 0, sealSaltSize+gcmNonceSize+len(data)+aesGCM.Overhead())
	out = append(out, salt...)
	out = append(out, iv...)
	return aesGCM.Seal(out, iv, data, salt), nil
}

// OpenWithPassword decrypts data produced by SealWithPassword.
func OpenWithPassword(password string, sealed []byte) ([]byte, error) {
	if len(sealed) < sealSaltSize+gcmNonceSize {
		return nil, ErrSealOpen
	}
	salt := sealed[:sealSaltSize]
	iv := sealed[sealSaltSize : sealSaltSize+gcmNonceSize]

	aesGCM, err := passwordGCM(password, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := aesGCM.Open(nil, iv, sealed[sealSaltSize+gcmNonceSize:], salt)
	if err != nil {
		return nil, ErrSealOpen
	}
	return plaintext, nil
}

func passwordGCM(password string, salt []byte) (cipher.AEAD, error) {
	// Parameters: time=1, memory=64*1024, threads=4, keyLen=32
	key := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)

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
