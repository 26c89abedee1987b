package x3dh

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"waypoint/internal/crypto"
	"waypoint/internal/domain"
	"waypoint/internal/util/memzero"
)

const (
	rootKeySize = 32
	infoLabel   = "waypoint-x3dh-v1"
)

// VerifySignedPreKey checks the signed pre-key signature and returns
// domain.ErrSignatureInvalid if it does not verify.
func VerifySignedPreKey(signingKey domain.Ed25519Public, spk domain.X25519Public, sig []byte) error {
	if !crypto.VerifyEd25519(signingKey, spk.Slice(), sig) {
		return domain.ErrSignatureInvalid
	}
	return nil
}

// InitiatorRoot verifies the bundle, generates an ephemeral key and derives
// the root key. The returned invitation is what the responder needs to
// derive the same root.
func InitiatorRoot(
	identity domain.Identity,
	bundle domain.PreKeyBundle,
) ([]byte, domain.ConversationInvitation, error) {
	if err := VerifySignedPreKey(bundle.SigningKey, bundle.SignedPreKey, bundle.SignedPreKeySignature); err != nil {
		return nil, domain.ConversationInvitation{}, err
	}

	ephPriv, ephPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, domain.ConversationInvitation{}, err
	}
	defer memzero.Zero(ephPriv[:])

	dh1, err := crypto.DH(identity.XPriv, bundle.SignedPreKey) // DH(IKa, SPKb)
	if err != nil {
		return nil, domain.ConversationInvitation{}, fmt.Errorf("dh1: %w", err)
	}
	dh2, err := crypto.DH(ephPriv, bundle.IdentityKey) // DH(EKa, IKb)
	if err != nil {
		return nil, domain.ConversationInvitation{}, fmt.Errorf("dh2: %w", err)
	}
	dh3, err := crypto.DH(ephPriv, bundle.SignedPreKey) // DH(EKa, SPKb)
	if err != nil {
		return nil, domain.ConversationInvitation{}, fmt.Errorf("dh3: %w", err)
	}
	transcript := [][]byte{dh1[:], dh2[:], dh3[:]}

	inv := domain.ConversationInvitation{
		IdentityKey:    identity.XPub,
		EphemeralKey:   ephPub,
		SignedPreKeyID: bundle.SignedPreKeyID,
	}
	if bundle.OneTimePreKey != nil {
		dh4, err := crypto.DH(ephPriv, *bundle.OneTimePreKey) // DH(EKa, OPKb)
		if err != nil {
			return nil, domain.ConversationInvitation{}, fmt.Errorf("dh4: %w", err)
		}
		transcript = append(transcript, dh4[:])
		used := *bundle.OneTimePreKey
		inv.UsedOneTimePreKey = &used
	}

	root, err := deriveRoot(transcript)
	memzero.ZeroAll(transcript...)
	if err != nil {
		return nil, domain.ConversationInvitation{}, err
	}
	return root, inv, nil
}

// ResponderRoot recomputes the initiator's root key from the invitation.
// oneTimePriv must be the private half of inv.UsedOneTimePreKey, or nil when
// the invitation used none.
func ResponderRoot(
	identity domain.Identity,
	signedPreKeyPriv domain.X25519Private,
	oneTimePriv *domain.X25519Private,
	inv domain.ConversationInvitation,
) ([]byte, error) {
	if (oneTimePriv == nil) != (inv.UsedOneTimePreKey == nil) {
		return nil, domain.ErrOneTimePreKeyMissing
	}

	dh1, err := crypto.DH(signedPreKeyPriv, inv.IdentityKey) // DH(SPKb, IKa)
	if err != nil {
		return nil, fmt.Errorf("dh1: %w", err)
	}
	dh2, err := crypto.DH(identity.XPriv, inv.EphemeralKey) // DH(IKb, EKa)
	if err != nil {
		return nil, fmt.Errorf("dh2: %w", err)
	}
	dh3, err := crypto.DH(signedPreKeyPriv, inv.EphemeralKey) // DH(SPKb, EKa)
	if err != nil {
		return nil, fmt.Errorf("dh3: %w", err)
	}
	transcript := [][]byte{dh1[:], dh2[:], dh3[:]}

	if oneTimePriv != nil {
		dh4, err := crypto.DH(*oneTimePriv, inv.EphemeralKey) // DH(OPKb, EKa)
		if err != nil {
			return nil, fmt.Errorf("dh4: %w", err)
		}
		transcript = append(transcript, dh4[:])
	}

	root, err := deriveRoot(transcript)
	memzero.ZeroAll(transcript...)
	return root, err
}

// deriveRoot runs HKDF-SHA256 over F || DH1 || DH2 || DH3 [|| DH4] where F
// is 32 0xFF bytes, with a zero salt.
func deriveRoot(transcript [][]byte) ([]byte, error) {
	ikm := bytes.Repeat([]byte{0xFF}, 32)
	for _, part := range transcript {
		ikm = append(ikm, part...)
	}
	defer memzero.Zero(ikm)

	root := make([]byte, rootKeySize)
	r := hkdf.New(sha256.New, ikm, make([]byte, sha256.Size), []byte(infoLabel))
	if _, err := io.ReadFull(r, root); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return root, nil
}
