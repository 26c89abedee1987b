// Package crypto exposes the minimal primitives the conversation layer
// orchestrates.
//
// Contents
//
//   - X25519 key generation and Diffie–Hellman (GenerateX25519,
//     PublicFromPrivate, DH)
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     SignEd25519, VerifyEd25519)
//   - XChaCha20-Poly1305 sealing with a random nonce (NewSymmetricKey,
//     SealXChaCha, OpenXChaCha)
//   - Short identity fingerprints for out-of-band comparison (Fingerprint)
//
// # Notes
//
// Functions return the fixed-size array types defined in internal/domain.
// Callers treat returned secrets as sensitive and wipe them with
// util/memzero when practical.
package crypto
