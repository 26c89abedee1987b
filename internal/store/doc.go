// Package store provides file-based persistence for the local key material
// and conversation state.
//
// Every secret is sealed with XChaCha20-Poly1305 under a key derived once
// from the user's passphrase with scrypt (see Sealer). Files are written via
// a temp file and rename so that a crash never leaves a torn record. All
// methods are concurrency-safe via internal locking.
//
// The package includes:
//   - Identity, signed pre-keys and one-time pre-keys (KeyFileStore)
//   - Double Ratchet state plus skipped message keys, one file per
//     conversation (ConversationFileStore)
//
// The Postgres implementations of the same interfaces live in store/postgres.
package store
