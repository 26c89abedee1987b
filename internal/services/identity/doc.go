// Package identity manages the local long-term identity, signed pre-keys and
// the one-time pre-key pool.
//
// It generates X25519 and Ed25519 key pairs on first use, signs pre-keys,
// and persists everything through a domain.KeyStore. It also enforces the
// passphrase policy used when a keystore is first sealed.
package identity
