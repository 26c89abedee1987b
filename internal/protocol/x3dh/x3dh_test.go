package x3dh_test

import (
	"bytes"
	"errors"
	"testing"

	"waypoint/internal/crypto"
	"waypoint/internal/domain"
	"waypoint/internal/protocol/x3dh"
)

// makeIdentity creates a domain.Identity with fresh X25519 and Ed25519 pairs.
func makeIdentity(t *testing.T) domain.Identity {
	t.Helper()
	xPriv, xPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	edPriv, edPub, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	return domain.Identity{XPub: xPub, XPriv: xPriv, EdPub: edPub, EdPriv: edPriv}
}

// makeBundle returns bob's bundle plus the signed pre-key private half.
func makeBundle(t *testing.T, bob domain.Identity) (domain.PreKeyBundle, domain.X25519Private) {
	t.Helper()
	spkPriv, spkPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	return domain.PreKeyBundle{
		User:                  "bob",
		IdentityKey:           bob.XPub,
		SigningKey:            bob.EdPub,
		SignedPreKeyID:        "spk-test",
		SignedPreKey:          spkPub,
		SignedPreKeySignature: crypto.SignEd25519(bob.EdPriv, spkPub[:]),
	}, spkPriv
}

func TestInitiatorAndResponderRoot_NoOneTimePreKey(t *testing.T) {
	alice := makeIdentity(t)
	bob := makeIdentity(t)
	bundle, spkPriv := makeBundle(t, bob)

	rootInitiator, inv, err := x3dh.InitiatorRoot(alice, bundle)
	if err != nil {
		t.Fatalf("InitiatorRoot: %v", err)
	}
	if inv.SignedPreKeyID != "spk-test" {
		t.Fatalf("want signed pre-key id spk-test, got %q", inv.SignedPreKeyID)
	}
	if inv.UsedOneTimePreKey != nil {
		t.Fatal("want no one-time pre-key in invitation")
	}

	rootResponder, err := x3dh.ResponderRoot(bob, spkPriv, nil, inv)
	if err != nil {
		t.Fatalf("ResponderRoot: %v", err)
	}
	if !bytes.Equal(rootInitiator, rootResponder) {
		t.Fatal("root keys differ (no OPK)")
	}
}

func TestInitiatorAndResponderRoot_WithOneTimePreKey(t *testing.T) {
	alice := makeIdentity(t)
	bob := makeIdentity(t)
	bundle, spkPriv := makeBundle(t, bob)

	opkPriv, opkPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519 (opk): %v", err)
	}
	bundle.OneTimePreKey = &opkPub

	rootInitiator, inv, err := x3dh.InitiatorRoot(alice, bundle)
	if err != nil {
		t.Fatalf("InitiatorRoot: %v", err)
	}
	if inv.UsedOneTimePreKey == nil || *inv.UsedOneTimePreKey != opkPub {
		t.Fatal("invitation does not reference the one-time pre-key")
	}

	rootResponder, err := x3dh.ResponderRoot(bob, spkPriv, &opkPriv, inv)
	if err != nil {
		t.Fatalf("ResponderRoot: %v", err)
	}
	if !bytes.Equal(rootInitiator, rootResponder) {
		t.Fatal("root keys differ (with OPK)")
	}

	// Leaving out the one-time key on the responder side must not silently
	// produce a different root.
	if _, err := x3dh.ResponderRoot(bob, spkPriv, nil, inv); !errors.Is(err, domain.ErrOneTimePreKeyMissing) {
		t.Fatalf("want ErrOneTimePreKeyMissing, got %v", err)
	}
}

func TestInitiatorRoot_RejectsBadSignature(t *testing.T) {
	alice := makeIdentity(t)
	bob := makeIdentity(t)
	mallory := makeIdentity(t)
	bundle, _ := makeBundle(t, bob)

	bundle.SignedPreKeySignature = crypto.SignEd25519(mallory.EdPriv, bundle.SignedPreKey[:])

	if _, _, err := x3dh.InitiatorRoot(alice, bundle); !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("want ErrSignatureInvalid, got %v", err)
	}
}

func TestDifferentEphemeralsGiveDifferentRoots(t *testing.T) {
	alice := makeIdentity(t)
	bob := makeIdentity(t)
	bundle, _ := makeBundle(t, bob)

	r1, _, err := x3dh.InitiatorRoot(alice, bundle)
	if err != nil {
		t.Fatalf("InitiatorRoot: %v", err)
	}
	r2, _, err := x3dh.InitiatorRoot(alice, bundle)
	if err != nil {
		t.Fatalf("InitiatorRoot: %v", err)
	}
	if bytes.Equal(r1, r2) {
		t.Fatal("two handshakes produced the same root")
	}
}
