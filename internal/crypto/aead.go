package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// SymmetricKeySize is the key length for SealXChaCha/OpenXChaCha.
const SymmetricKeySize = chacha20poly1305.KeySize

// ErrCiphertextTooShort is returned when a sealed blob cannot hold a nonce and tag.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// NewSymmetricKey returns a random 32-byte key.
func NewSymmetricKey() ([]byte, error) {
	key := make([]byte, SymmetricKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("symmetric key: %w", err)
	}
	return key, nil
}

// SealXChaCha encrypts plaintext with XChaCha20-Poly1305 under a random
// nonce and returns nonce||ciphertext.
func SealXChaCha(key, plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, ad), nil
}

// OpenXChaCha reverses SealXChaCha.
func OpenXChaCha(key, sealed, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ct, ad)
}
