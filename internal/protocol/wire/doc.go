// Package wire defines the byte formats that both peers must agree on:
// ratchet ciphertexts and group content keys.
//
// Every format is deterministic CBOR with integer map keys and a version
// under key 0. Decoders reject unknown versions with
// domain.ErrUnsupportedVersion and anything unparsable with
// domain.ErrMalformedMessage.
package wire
