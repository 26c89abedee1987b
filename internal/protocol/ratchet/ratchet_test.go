package ratchet_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"waypoint/internal/crypto"
	"waypoint/internal/domain"
	"waypoint/internal/protocol/ratchet"
)

type sealed struct {
	header domain.RatchetHeader
	ct     []byte
}

// newPair returns an initiator and a responder session sharing a root.
func newPair(t *testing.T, cfg ratchet.Config) (alice, bob *ratchet.Session) {
	t.Helper()
	root := bytes.Repeat([]byte{0x42}, 32)

	spkPriv, spkPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	aState, err := ratchet.InitAsInitiator(root, spkPub)
	if err != nil {
		t.Fatalf("InitAsInitiator: %v", err)
	}
	bState := ratchet.InitAsResponder(root, domain.SignedPreKeyPair{ID: "spk", Priv: spkPriv, Pub: spkPub})

	return ratchet.NewSession(cfg, aState, domain.MessageKeyCache{}),
		ratchet.NewSession(cfg, bState, domain.MessageKeyCache{})
}

func encryptN(t *testing.T, s *ratchet.Session, n int) []sealed {
	t.Helper()
	out := make([]sealed, 0, n)
	for i := 0; i < n; i++ {
		h, ct, err := s.Encrypt([]byte(fmt.Sprintf("msg-%d", i)), nil)
		if err != nil {
			t.Fatalf("Encrypt %d: %v", i, err)
		}
		out = append(out, sealed{h, ct})
	}
	return out
}

func TestDoubleRatchet_RoundTrip(t *testing.T) {
	alice, bob := newPair(t, ratchet.Config{})

	h, ct, err := alice.Encrypt([]byte("hello"), []byte("ad"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := bob.Decrypt(h, ct, []byte("ad"))
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pt) != "hello" {
		t.Fatalf("got %q, want %q", pt, "hello")
	}

	h2, ct2, err := bob.Encrypt([]byte("hi"), []byte("ad"))
	if err != nil {
		t.Fatalf("Encrypt reply: %v", err)
	}
	if h2.DiffieHellmanPublicKey == h.DiffieHellmanPublicKey {
		t.Fatal("reply reused the initiator's ratchet key")
	}
	pt, err = alice.Decrypt(h2, ct2, []byte("ad"))
	if err != nil {
		t.Fatalf("Decrypt reply: %v", err)
	}
	if string(pt) != "hi" {
		t.Fatalf("got %q, want %q", pt, "hi")
	}
}

func TestDoubleRatchet_RoundTripSizes(t *testing.T) {
	alice, bob := newPair(t, ratchet.Config{})
	for _, size := range []int{0, 1, 31, 32, 1024, 64 * 1024} {
		msg := bytes.Repeat([]byte{byte(size)}, size)
		h, ct, err := alice.Encrypt(msg, nil)
		if err != nil {
			t.Fatalf("Encrypt(%d): %v", size, err)
		}
		pt, err := bob.Decrypt(h, ct, nil)
		if err != nil {
			t.Fatalf("Decrypt(%d): %v", size, err)
		}
		if !bytes.Equal(pt, msg) {
			t.Fatalf("size %d: plaintext mismatch", size)
		}
	}
}

func TestResponderCannotSendFirst(t *testing.T) {
	_, bob := newPair(t, ratchet.Config{})
	if _, _, err := bob.Encrypt([]byte("too early"), nil); !errors.Is(err, domain.ErrAwaitingFirstMessage) {
		t.Fatalf("want ErrAwaitingFirstMessage, got %v", err)
	}
}

func TestMonotonicMessageNumbers(t *testing.T) {
	alice, _ := newPair(t, ratchet.Config{})
	msgs := encryptN(t, alice, 10)
	seen := map[string]bool{}
	for i, m := range msgs {
		if m.header.MessageIndex != uint32(i) {
			t.Fatalf("message %d has index %d", i, m.header.MessageIndex)
		}
		if seen[string(m.ct)] {
			t.Fatalf("duplicate ciphertext at %d", i)
		}
		seen[string(m.ct)] = true
	}
	// Same plaintext twice still gives different ciphertexts.
	h1, c1, _ := alice.Encrypt([]byte("same"), nil)
	h2, c2, _ := alice.Encrypt([]byte("same"), nil)
	if h2.MessageIndex <= h1.MessageIndex || bytes.Equal(c1, c2) {
		t.Fatal("message keys repeated")
	}
}

func TestOutOfOrderDelivery(t *testing.T) {
	alice, bob := newPair(t, ratchet.Config{MaxSkip: 5})
	msgs := encryptN(t, alice, 5)

	for _, i := range []int{0, 2, 1, 4, 3} {
		pt, err := bob.Decrypt(msgs[i].header, msgs[i].ct, nil)
		if err != nil {
			t.Fatalf("Decrypt message %d: %v", i, err)
		}
		if want := fmt.Sprintf("msg-%d", i); string(pt) != want {
			t.Fatalf("got %q, want %q", pt, want)
		}
	}
	if n := bob.Cache().Len(); n != 0 {
		t.Fatalf("skipped-key cache holds %d keys, want 0", n)
	}
}

func TestOutOfOrderAcrossRatchetSteps(t *testing.T) {
	alice, bob := newPair(t, ratchet.Config{})
	first := encryptN(t, alice, 3)

	if _, err := bob.Decrypt(first[0].header, first[0].ct, nil); err != nil {
		t.Fatalf("Decrypt first[0]: %v", err)
	}
	h, ct, err := bob.Encrypt([]byte("reply"), nil)
	if err != nil {
		t.Fatalf("Encrypt reply: %v", err)
	}
	if _, err := alice.Decrypt(h, ct, nil); err != nil {
		t.Fatalf("Decrypt reply: %v", err)
	}

	// Alice's next chain says the old one had 3 messages; 1 and 2 are cached.
	second := encryptN(t, alice, 1)
	if second[0].header.PreviousChainLength != 3 {
		t.Fatalf("previous chain length %d, want 3", second[0].header.PreviousChainLength)
	}
	if _, err := bob.Decrypt(second[0].header, second[0].ct, nil); err != nil {
		t.Fatalf("Decrypt second[0]: %v", err)
	}
	if n := bob.Cache().Len(); n != 2 {
		t.Fatalf("cache holds %d keys, want 2", n)
	}
	for _, m := range first[1:] {
		if _, err := bob.Decrypt(m.header, m.ct, nil); err != nil {
			t.Fatalf("Decrypt late message %d: %v", m.header.MessageIndex, err)
		}
	}
	if n := bob.Cache().Len(); n != 0 {
		t.Fatalf("cache holds %d keys, want 0", n)
	}

	// The old chain is retired; a replay from it is obsolete, not a new ratchet.
	if _, err := bob.Decrypt(first[0].header, first[0].ct, nil); !errors.Is(err, domain.ErrDiscardedObsoleteMessage) {
		t.Fatalf("want ErrDiscardedObsoleteMessage, got %v", err)
	}
}

func TestMaxSkipExceeded(t *testing.T) {
	alice, bob := newPair(t, ratchet.Config{MaxSkip: 5})
	msgs := encryptN(t, alice, 7)

	before := bob.State()
	if _, err := bob.Decrypt(msgs[6].header, msgs[6].ct, nil); !errors.Is(err, domain.ErrMaxSkipExceeded) {
		t.Fatalf("want ErrMaxSkipExceeded, got %v", err)
	}
	after := bob.State()
	if after.PeerDiffieHellmanPublic != nil || !bytes.Equal(before.RootKey, after.RootKey) {
		t.Fatal("failed decrypt modified the session state")
	}

	// Exactly MaxSkip ahead is still accepted.
	if _, err := bob.Decrypt(msgs[5].header, msgs[5].ct, nil); err != nil {
		t.Fatalf("Decrypt at the skip bound: %v", err)
	}
}

func TestReplayIsObsolete(t *testing.T) {
	alice, bob := newPair(t, ratchet.Config{})
	msgs := encryptN(t, alice, 2)

	for _, m := range msgs {
		if _, err := bob.Decrypt(m.header, m.ct, nil); err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
	}
	if _, err := bob.Decrypt(msgs[0].header, msgs[0].ct, nil); !errors.Is(err, domain.ErrDiscardedObsoleteMessage) {
		t.Fatalf("want ErrDiscardedObsoleteMessage, got %v", err)
	}
}

func TestTamperedCiphertextLeavesStateUnchanged(t *testing.T) {
	alice, bob := newPair(t, ratchet.Config{})
	msgs := encryptN(t, alice, 1)

	bad := append([]byte(nil), msgs[0].ct...)
	bad[0] ^= 0xFF
	if _, err := bob.Decrypt(msgs[0].header, bad, nil); !errors.Is(err, domain.ErrDecryptionFailure) {
		t.Fatalf("want ErrDecryptionFailure, got %v", err)
	}
	if _, err := bob.Decrypt(msgs[0].header, msgs[0].ct, nil); err != nil {
		t.Fatalf("genuine message after tamper: %v", err)
	}
}

func TestCacheEvictionAndExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	alice, bob := newPair(t, ratchet.Config{MaxSkip: 10, MaxCache: 3, SkippedKeyTTL: time.Hour, Now: clock})
	msgs := encryptN(t, alice, 6)

	// Five skipped, the two oldest are evicted.
	if _, err := bob.Decrypt(msgs[5].header, msgs[5].ct, nil); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if n := bob.Cache().Len(); n != 3 {
		t.Fatalf("cache holds %d keys, want 3", n)
	}
	if _, err := bob.Decrypt(msgs[0].header, msgs[0].ct, nil); !errors.Is(err, domain.ErrDiscardedObsoleteMessage) {
		t.Fatalf("evicted key: want ErrDiscardedObsoleteMessage, got %v", err)
	}
	if _, err := bob.Decrypt(msgs[2].header, msgs[2].ct, nil); err != nil {
		t.Fatalf("cached key: %v", err)
	}

	// Past the TTL the remaining keys are gone.
	now = now.Add(2 * time.Hour)
	if _, err := bob.Decrypt(msgs[3].header, msgs[3].ct, nil); !errors.Is(err, domain.ErrDiscardedObsoleteMessage) {
		t.Fatalf("expired key: want ErrDiscardedObsoleteMessage, got %v", err)
	}
}

func TestNewSessionCopiesInput(t *testing.T) {
	root := bytes.Repeat([]byte{0x01}, 32)
	_, spkPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	state, err := ratchet.InitAsInitiator(root, spkPub)
	if err != nil {
		t.Fatalf("InitAsInitiator: %v", err)
	}
	orig := append([]byte(nil), state.SendChainKey...)

	s := ratchet.NewSession(ratchet.Config{}, state, domain.MessageKeyCache{})
	if _, _, err := s.Encrypt([]byte("x"), nil); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !bytes.Equal(state.SendChainKey, orig) {
		t.Fatal("session mutated the caller's state")
	}
}
