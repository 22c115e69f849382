package localstore

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	saltLen  = 16
	nonceLen = 24
)

// ErrSealedValue indicates a sealed value that cannot be opened with the
// device secret (corrupt, truncated, or sealed by a different device).
var ErrSealedValue = errors.New("localstore: cannot open sealed value")

// deriveKey stretches the device secret into a secretbox key.
func deriveKey(secret, salt []byte) *[32]byte {
	var key [32]byte
	copy(key[:], argon2.IDKey(secret, salt, 1, 64*1024, 4, 32))
	return &key
}

// seal encrypts plaintext with a key derived from the device secret. Layout
// is salt || nonce || box.
func seal(secret, plaintext []byte) ([]byte, error) {
	var salt [saltLen]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	var nonce [nonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	key := deriveKey(secret, salt[:])
	out := make([]byte, 0, saltLen+nonceLen+len(plaintext)+secretbox.Overhead)
	out = append(out, salt[:]...)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plaintext, &nonce, key), nil
}

// open decrypts a value produced by seal.
func open(secret, sealed []byte) ([]byte, error) {
	if len(sealed) < saltLen+nonceLen+secretbox.Overhead {
		return nil, ErrSealedValue
	}
	salt := sealed[:saltLen]
	var nonce [nonceLen]byte
	copy(nonce[:], sealed[saltLen:saltLen+nonceLen])

	key := deriveKey(secret, salt)
	plaintext, ok := secretbox.Open(nil, sealed[saltLen+nonceLen:], &nonce, key)
	if !ok {
		return nil, ErrSealedValue
	}
	return plaintext, nil
}
