// Package ratchet implements the Double Ratchet that carries a conversation
// after the X3DH handshake.
//
// The algorithm maintains a root key and two message chains (send and
// receive). Each message advances a KDF chain so that keys are forward
// secure. When the remote side presents a new ratchet public key, both a
// receiving and a sending chain are derived from the root via DH.
//
// The initiator starts with a sending chain aimed at the responder's signed
// pre-key; the responder starts with the signed pre-key as its ratchet key
// and no chains, so it cannot send before the first message arrives.
//
// Messages that arrive out of order are handled by caching up to
// Config.MaxSkip derived keys per step; the cache is bounded by
// Config.MaxCache (oldest evicted) and Config.SkippedKeyTTL.
//
// Concurrency: Session is NOT safe for concurrent use. Callers must
// serialise access per conversation.
package ratchet
