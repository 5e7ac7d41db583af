// Package securestore provides AES-256-GCM encryption for cache stores.
// The returned codec plugs into leveldbstore and diskstore via their
// WithCodec options, encrypting metadata records and body files at rest.
// Keys are derived from a passphrase with scrypt.
package securestore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation.
	scryptN = 32768
	// scryptR is the block size parameter for scrypt.
	scryptR = 8
	// scryptP is the parallelization parameter for scrypt.
	scryptP = 1
	// keyLength is the derived key length for AES-256.
	keyLength = 32
)

// Codec encrypts and decrypts store payloads with AES-256-GCM.
// It implements cache.Codec.
type Codec struct {
	gcm cipher.AEAD
}

// New derives an AES-256 key from passphrase and returns a ready Codec.
// The passphrase must be non-empty and consistent across restarts; data
// sealed under a different passphrase reads as corruption and heals to an
// empty cache.
func New(passphrase string) (*Codec, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("securestore: passphrase cannot be empty")
	}
	salt := sha256.Sum256([]byte("httpclient-securestore-salt-v1"))
	key, err := scrypt.Key([]byte(passphrase), salt[:], scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, fmt.Errorf("securestore: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("securestore: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("securestore: create GCM: %w", err)
	}
	return &Codec{gcm: gcm}, nil
}

// Encrypt seals plaintext, prepending the random nonce.
func (c *Codec) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("securestore: generate nonce: %w", err)
	}
	return c.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a sealed payload produced by Encrypt.
func (c *Codec) Decrypt(ciphertext []byte) ([]byte, error) {
	ns := c.gcm.NonceSize()
	if len(ciphertext) < ns {
		return nil, fmt.Errorf("securestore: ciphertext too short")
	}
	plaintext, err := c.gcm.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("securestore: decrypt: %w", err)
	}
	return plaintext, nil
}
