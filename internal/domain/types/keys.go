package types

import (
	"encoding/base64"
	"fmt"
)

// X25519Public is a Curve25519 public key.
type X25519Public [32]byte

// Slice returns the key as a []byte.
func (p X25519Public) Slice() []byte { return p[:] }

// String returns the standard base64 encoding of the key.
func (p X25519Public) String() string { return base64.StdEncoding.EncodeToString(p[:]) }

// IsZero reports whether the key is unset.
func (p X25519Public) IsZero() bool { return p == X25519Public{} }

// MarshalText encodes the key as base64 in JSON documents.
func (p X25519Public) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText reverses MarshalText.
func (p *X25519Public) UnmarshalText(b []byte) error { return decodeKey(p[:], b) }

// X25519Private is a Curve25519 private key.
type X25519Private [32]byte

// Slice returns the key as a []byte.
func (k X25519Private) Slice() []byte { return k[:] }

// Ed25519Public is an Ed25519 signing public key.
type Ed25519Public [32]byte

// Slice returns the key as a []byte.
func (p Ed25519Public) Slice() []byte { return p[:] }

// String returns the standard base64 encoding of the key.
func (p Ed25519Public) String() string { return base64.StdEncoding.EncodeToString(p[:]) }

// MarshalText encodes the key as base64 in JSON documents.
func (p Ed25519Public) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText reverses MarshalText.
func (p *Ed25519Public) UnmarshalText(b []byte) error { return decodeKey(p[:], b) }

// Ed25519Private is an Ed25519 signing private key.
type Ed25519Private [64]byte

// Slice returns the key as a []byte.
func (k Ed25519Private) Slice() []byte { return k[:] }

func decodeKey(dst, text []byte) error {
	raw, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("public key: %w", err)
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("public key: want %d bytes, got %d", len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}
