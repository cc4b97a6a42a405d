// Package envelope implements the whole-file AEAD envelope used to store
// every regular file under a CipherMount source directory:
//
//	nonce(12) || ciphertext || tag(16)
//
// Encrypt and Decrypt operate on complete byte buffers; there is no
// block-level or streaming variant, since the backing file is always
// rewritten as a whole object.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	// KeySize is the length in bytes of a CipherMount key (AES-256).
	KeySize = 32

	// NonceSize is the length in bytes of the GCM nonce prefixed to every
	// blob.
	NonceSize = 12

	// TagSize is the length in bytes of the GCM authentication tag suffixed
	// to every blob.
	TagSize = 16

	// MinBlobSize is the smallest length a well-formed blob can have: an
	// empty plaintext still costs a nonce and a tag.
	MinBlobSize = NonceSize + TagSize
)

// ErrTooShort is returned by Decrypt when the input is shorter than
// MinBlobSize and therefore cannot possibly hold a nonce and a tag.
var ErrTooShort = errors.New("envelope: blob shorter than nonce+tag")

// ErrAuthFailed is returned by Decrypt when the GCM tag does not verify,
// which covers both a wrong key and a tampered or corrupted blob. The two
// causes are indistinguishable by design.
var ErrAuthFailed = errors.New("envelope: authentication failed")

// Key is a 32-byte AES-256 key held for the lifetime of the process.
type Key [KeySize]byte

// NewKey copies b into a Key, returning an error if b is not exactly
// KeySize bytes long.
func NewKey(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return k, fmt.Errorf("envelope: key must be %d bytes, got %d", KeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

func aead(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("envelope: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("envelope: new gcm: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext under key with a freshly sampled nonce and empty
// associated data, returning nonce||ciphertext||tag. Every call samples a
// new nonce from a cryptographic RNG; encrypting the same plaintext twice
// yields distinct blobs with overwhelming probability.
func Encrypt(key Key, plaintext []byte) ([]byte, error) {
	gcm, err := aead(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("envelope: sampling nonce: %w", err)
	}

	out := make([]byte, 0, NonceSize+len(plaintext)+TagSize)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Decrypt opens a blob produced by Encrypt under key, returning the
// original plaintext. It fails with ErrTooShort if blob cannot hold a
// nonce and a tag, and with ErrAuthFailed if the tag does not verify
// (wrong key or corrupted/tampered blob). No partial output is ever
// returned on failure.
func Decrypt(key Key, blob []byte) ([]byte, error) {
	if len(blob) < MinBlobSize {
		return nil, ErrTooShort
	}

	gcm, err := aead(key)
	if err != nil {
		return nil, err
	}

	nonce, ciphertext := blob[:NonceSize], blob[NonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
