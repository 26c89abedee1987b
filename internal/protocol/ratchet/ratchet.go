package ratchet

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"waypoint/internal/crypto"
	"waypoint/internal/domain"
	"waypoint/internal/util/memzero"
)

const (
	keySize   = 32
	nonceSize = chacha20poly1305.NonceSize

	rootInfo  = "waypoint|dr|rk"
	chainInfo = "waypoint|dr|ck"
)

// InitAsInitiator seeds the sending chain from the handshake root, a fresh
// ratchet key and the peer's signed pre-key as the first remote ratchet key.
func InitAsInitiator(root []byte, peerSignedPreKey domain.X25519Public) (domain.RatchetState, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.RatchetState{}, err
	}
	dh, err := crypto.DH(priv, peerSignedPreKey)
	if err != nil {
		return domain.RatchetState{}, fmt.Errorf("initiator dh: %w", err)
	}
	rk, sendCK, err := kdfRK(root, dh[:])
	memzero.Zero(dh[:])
	if err != nil {
		return domain.RatchetState{}, err
	}

	peer := peerSignedPreKey
	return domain.RatchetState{
		RootKey:                 rk,
		DiffieHellmanPrivate:    priv,
		DiffieHellmanPublic:     pub,
		PeerDiffieHellmanPublic: &peer,
		SendChainKey:            sendCK,
	}, nil
}

// InitAsResponder keeps the handshake root and uses the signed pre-key pair
// as the first local ratchet key. The responder has no chains until the
// initiator's first message arrives.
func InitAsResponder(root []byte, signedPreKey domain.SignedPreKeyPair) domain.RatchetState {
	return domain.RatchetState{
		RootKey:              append([]byte(nil), root...),
		DiffieHellmanPrivate: signedPreKey.Priv,
		DiffieHellmanPublic:  signedPreKey.Pub,
	}
}

// HeaderBytes is the canonical byte form of a header mixed into the AEAD
// associated data: DH || BE(PN) || BE(N).
func HeaderBytes(h domain.RatchetHeader) []byte {
	out := make([]byte, 0, len(h.DiffieHellmanPublicKey)+8)
	out = append(out, h.DiffieHellmanPublicKey[:]...)
	out = binary.BigEndian.AppendUint32(out, h.PreviousChainLength)
	out = binary.BigEndian.AppendUint32(out, h.MessageIndex)
	return out
}

func seal(mk []byte, header domain.RatchetHeader, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk[:keySize])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonceFor(header), plaintext, associatedData(ad, header)), nil
}

func open(mk []byte, header domain.RatchetHeader, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk[:keySize])
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonceFor(header), ciphertext, associatedData(ad, header))
}

// Each message key is used once, so a counter nonce is sufficient.
func nonceFor(h domain.RatchetHeader) []byte {
	nonce := make([]byte, nonceSize)
	binary.BigEndian.PutUint32(nonce[nonceSize-4:], h.MessageIndex)
	return nonce
}

func associatedData(ad []byte, h domain.RatchetHeader) []byte {
	out := make([]byte, 0, len(ad)+40)
	out = append(out, ad...)
	return append(out, HeaderBytes(h)...)
}

// kdfRK advances the root chain with a DH output.
func kdfRK(rk, dh []byte) (newRK, ck []byte, err error) {
	r := hkdf.New(sha256.New, dh, rk, []byte(rootInfo))
	newRK = make([]byte, keySize)
	ck = make([]byte, keySize)
	if _, err = io.ReadFull(r, newRK); err != nil {
		return nil, nil, err
	}
	if _, err = io.ReadFull(r, ck); err != nil {
		return nil, nil, err
	}
	return newRK, ck, nil
}

// kdfCK advances a symmetric chain by one step.
func kdfCK(ck []byte) (nextCK, mk []byte) {
	r := hkdf.New(sha256.New, ck, nil, []byte(chainInfo))
	nextCK = make([]byte, keySize)
	mk = make([]byte, keySize)
	_, _ = io.ReadFull(r, nextCK)
	_, _ = io.ReadFull(r, mk)
	return nextCK, mk
}
