package store

import (
	"crypto/rand"
	"fmt"
	"path/filepath"

	"golang.org/x/crypto/scrypt"

	"waypoint/internal/crypto"
	"waypoint/internal/domain"
)

const (
	// The current supported version of the sealed keystore format.
	keystoreFormatVersion = 1

	keystoreMetaFile = "keystore.json"
	checkPlaintext   = "waypoint keystore check"
)

// ScryptParams tunes the passphrase key derivation.
type ScryptParams struct {
	N int `json:"scrypt_N"`
	R int `json:"scrypt_r"`
	P int `json:"scrypt_p"`
}

// DefaultScryptParams are the interactive-login parameters.
func DefaultScryptParams() ScryptParams { return ScryptParams{N: 1 << 15, R: 8, P: 1} }

// keystoreMeta is the on-disk JSON holding the KDF parameters and a check
// value proving the passphrase before any key file is opened.
type keystoreMeta struct {
	V      int          `json:"v"`
	Salt   []byte       `json:"salt"`
	Params ScryptParams `json:"params"`
	Check  []byte       `json:"check"`
}

// Sealer encrypts records at rest with a key derived once from the
// passphrase. Each record gets a fresh random nonce and is bound to its name.
type Sealer struct {
	kek []byte
}

// OpenSealer derives the key-encryption key for dir. The first call creates
// the salt; later calls fail with domain.ErrWrongPassphrase if passphrase
// does not match.
func OpenSealer(dir, passphrase string, params ScryptParams) (*Sealer, error) {
	path := filepath.Join(dir, keystoreMetaFile)

	var meta keystoreMeta
	if err := readJSON(path, &meta); err != nil {
		return nil, domain.Storage("read keystore meta", err)
	}
	if meta.V > keystoreFormatVersion {
		return nil, fmt.Errorf("%w: keystore version %d", domain.ErrUnsupportedVersion, meta.V)
	}

	if meta.V == 0 {
		return createSealer(path, passphrase, params)
	}

	kek, err := scrypt.Key([]byte(passphrase), meta.Salt, meta.Params.N, meta.Params.R, meta.Params.P, crypto.SymmetricKeySize)
	if err != nil {
		return nil, err
	}
	s := &Sealer{kek: kek}
	if _, err := s.Open(keystoreMetaFile, meta.Check); err != nil {
		return nil, err
	}
	return s, nil
}

func createSealer(path, passphrase string, params ScryptParams) (*Sealer, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	kek, err := scrypt.Key([]byte(passphrase), salt, params.N, params.R, params.P, crypto.SymmetricKeySize)
	if err != nil {
		return nil, err
	}
	s := &Sealer{kek: kek}
	check, err := s.Seal(keystoreMetaFile, []byte(checkPlaintext))
	if err != nil {
		return nil, err
	}
	meta := keystoreMeta{V: keystoreFormatVersion, Salt: salt, Params: params, Check: check}
	if err := writeJSON(path, meta, 0o600); err != nil {
		return nil, domain.Storage("write keystore meta", err)
	}
	return s, nil
}

// Seal encrypts raw, binding it to name.
func (s *Sealer) Seal(name string, raw []byte) ([]byte, error) {
	return crypto.SealXChaCha(s.kek, raw, []byte(name))
}

// Open reverses Seal. Any authentication failure is reported as
// domain.ErrWrongPassphrase.
func (s *Sealer) Open(name string, sealed []byte) ([]byte, error) {
	pt, err := crypto.OpenXChaCha(s.kek, sealed, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, domain.ErrWrongPassphrase)
	}
	return pt, nil
}
