// Package x3dh implements the asynchronous key agreement that bootstraps a
// Double Ratchet conversation between two identities.
//
// # Overview
//
// The responder publishes a bundle containing:
//   - Identity key (X25519) and signing key (Ed25519)
//   - Signed pre-key (X25519) and its Ed25519 signature
//   - Optional one-time pre-key (X25519)
//
// # Flows
//
// Initiator (InitiatorRoot):
//  1. Verify the signed pre-key signature; abort with domain.ErrSignatureInvalid.
//  2. Generate an ephemeral X25519 key pair.
//  3. Compute IKa·SPKb, EKa·IKb, EKa·SPKb[, EKa·OPKb] in that order.
//  4. HKDF the concatenated transcript to a 32-byte root key.
//  5. Return the root key and the invitation (IKa, EKa, SPK id[, OPKb]).
//
// Responder (ResponderRoot):
//  1. Receive the invitation and load the referenced signed pre-key.
//  2. Consume the one-time pre-key, if one was used.
//  3. Compute the mirrored DH set in the same order and the same HKDF.
//
// Both sides must produce byte-identical transcripts and use the same info
// label, otherwise the roots diverge and no message will ever decrypt.
package x3dh
