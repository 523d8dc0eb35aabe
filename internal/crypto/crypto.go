// Package crypto protects the config file and checksums upload content.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/argon2"
)

const (
	// Argon2id parameters
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	keySize       = 32 // AES-256

	saltSize = 32
)

// ErrCiphertextTooShort is returned when the input cannot hold a nonce
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Key seals and opens data with AES-256 GCM. The nonce is stored in front of
// the ciphertext.
type Key struct {
	aead cipher.AEAD
}

// NewKey derives a key from password and salt with Argon2id
func NewKey(password string, salt []byte) (*Key, error) {
	raw := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, keySize)

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Key{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random nonce
func (k *Key) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, k.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return k.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal. A wrong password surfaces here as an
// authentication failure.
func (k *Key) Open(sealed []byte) ([]byte, error) {
	n := k.aead.NonceSize()
	if len(sealed) < n {
		return nil, ErrCiphertextTooShort
	}
	return k.aead.Open(nil, sealed[:n], sealed[n:], nil)
}

// WriteSalt creates a random salt and stores it base64 encoded at path
func WriteSalt(path string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(salt)
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return nil, err
	}
	return salt, nil
}

// ReadSalt loads a salt written by WriteSalt
func ReadSalt(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	salt, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("corrupt salt file: %w", err)
	}
	return salt, nil
}

// HashMD5 returns the hex MD5 digest of everything read from r.
// Drive reports md5Checksum in the same form.
func HashMD5(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
