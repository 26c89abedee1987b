package ratchet

import (
	"fmt"
	"time"

	"waypoint/internal/crypto"
	"waypoint/internal/domain"
	"waypoint/internal/util/memzero"
)

// Defaults used when a Config field is left zero.
const (
	DefaultMaxSkip        = 1000
	DefaultMaxCache       = 2000
	DefaultMaxRetiredKeys = 8
)

// Config bounds the work a single Decrypt may do and how long skipped keys live.
type Config struct {
	// MaxSkip is the most message keys one Decrypt may derive ahead.
	MaxSkip int
	// MaxCache caps the stored skipped keys; the oldest are evicted first.
	MaxCache int
	// SkippedKeyTTL expires skipped keys by age. Zero keeps them forever.
	SkippedKeyTTL time.Duration
	// MaxRetiredKeys bounds the remembered previous remote ratchet keys.
	MaxRetiredKeys int
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxSkip <= 0 {
		c.MaxSkip = DefaultMaxSkip
	}
	if c.MaxCache <= 0 {
		c.MaxCache = DefaultMaxCache
	}
	if c.MaxRetiredKeys <= 0 {
		c.MaxRetiredKeys = DefaultMaxRetiredKeys
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Session runs the Double Ratchet over a private copy of a conversation's
// state and skipped-key cache. Encrypt and Decrypt either fully succeed and
// update the copy, or fail and leave it untouched. Callers persist State
// and Cache after each success.
//
// A Session is not safe for concurrent use.
type Session struct {
	cfg   Config
	state domain.RatchetState
	cache domain.MessageKeyCache
}

// NewSession copies state and cache into a new Session.
func NewSession(cfg Config, state domain.RatchetState, cache domain.MessageKeyCache) *Session {
	return &Session{
		cfg:   cfg.withDefaults(),
		state: cloneState(state),
		cache: cloneCache(cache),
	}
}

// State returns a copy of the current ratchet state.
func (s *Session) State() domain.RatchetState { return cloneState(s.state) }

// Cache returns a copy of the current skipped-key cache.
func (s *Session) Cache() domain.MessageKeyCache { return cloneCache(s.cache) }

// Encrypt advances the sending chain by one step. It returns
// domain.ErrAwaitingFirstMessage on a responder that has not received yet.
func (s *Session) Encrypt(plaintext, ad []byte) (domain.RatchetHeader, []byte, error) {
	if len(s.state.SendChainKey) == 0 {
		return domain.RatchetHeader{}, nil, domain.ErrAwaitingFirstMessage
	}

	nextCK, mk := kdfCK(s.state.SendChainKey)
	defer memzero.Zero(mk)

	header := domain.RatchetHeader{
		DiffieHellmanPublicKey: s.state.DiffieHellmanPublic,
		PreviousChainLength:    s.state.PreviousChainLength,
		MessageIndex:           s.state.SendMessageIndex,
	}
	ct, err := seal(mk, header, ad, plaintext)
	if err != nil {
		return domain.RatchetHeader{}, nil, err
	}

	memzero.Zero(s.state.SendChainKey)
	s.state.SendChainKey = nextCK
	s.state.SendMessageIndex++
	return header, ct, nil
}

// Decrypt opens a message, stepping the DH ratchet when the header carries
// a new remote key and caching keys for skipped messages.
//
// Errors: domain.ErrDiscardedObsoleteMessage for replays and messages whose
// key is gone, domain.ErrMaxSkipExceeded when the header is too far ahead,
// domain.ErrDecryptionFailure for authentication failures.
func (s *Session) Decrypt(header domain.RatchetHeader, ciphertext, ad []byte) ([]byte, error) {
	st := cloneState(s.state)
	cache := cloneCache(s.cache)
	now := s.cfg.Now()
	expire(&cache, now, s.cfg.SkippedKeyTTL)

	if mk, ok := take(&cache, header.DiffieHellmanPublicKey, header.MessageIndex); ok {
		pt, err := open(mk, header, ad, ciphertext)
		memzero.Zero(mk)
		if err != nil {
			return nil, fmt.Errorf("%w: skipped key: %v", domain.ErrDecryptionFailure, err)
		}
		s.commit(st, cache)
		return pt, nil
	}

	if s.isRetired(st, header.DiffieHellmanPublicKey) {
		return nil, domain.ErrDiscardedObsoleteMessage
	}

	current := st.PeerDiffieHellmanPublic != nil && *st.PeerDiffieHellmanPublic == header.DiffieHellmanPublicKey
	if current && header.MessageIndex < st.ReceiveMessageIndex {
		return nil, domain.ErrDiscardedObsoleteMessage
	}

	if !current {
		if err := s.skip(&st, &cache, header.PreviousChainLength, now); err != nil {
			return nil, err
		}
		if err := s.dhRatchet(&st, header.DiffieHellmanPublicKey); err != nil {
			return nil, err
		}
	}

	if err := s.skip(&st, &cache, header.MessageIndex, now); err != nil {
		return nil, err
	}

	nextCK, mk := kdfCK(st.ReceiveChainKey)
	defer memzero.Zero(mk)
	pt, err := open(mk, header, ad, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecryptionFailure, err)
	}
	st.ReceiveChainKey = nextCK
	st.ReceiveMessageIndex = header.MessageIndex + 1

	s.commit(st, cache)
	return pt, nil
}

func (s *Session) commit(st domain.RatchetState, cache domain.MessageKeyCache) {
	s.state = st
	s.cache = cache
}

// skip derives and caches receiving-chain keys up to (not including) until.
func (s *Session) skip(st *domain.RatchetState, cache *domain.MessageKeyCache, until uint32, now time.Time) error {
	if st.ReceiveChainKey == nil || st.PeerDiffieHellmanPublic == nil {
		return nil
	}
	if until <= st.ReceiveMessageIndex {
		return nil
	}
	if int64(until)-int64(st.ReceiveMessageIndex) > int64(s.cfg.MaxSkip) {
		return fmt.Errorf("%w: %d ahead of %d", domain.ErrMaxSkipExceeded, until, st.ReceiveMessageIndex)
	}
	for st.ReceiveMessageIndex < until {
		nextCK, mk := kdfCK(st.ReceiveChainKey)
		put(cache, domain.SkippedMessageKey{
			RatchetKey:   *st.PeerDiffieHellmanPublic,
			MessageIndex: st.ReceiveMessageIndex,
			Key:          mk,
			CreatedUTC:   now.Unix(),
		}, s.cfg.MaxCache)
		st.ReceiveChainKey = nextCK
		st.ReceiveMessageIndex++
	}
	return nil
}

// dhRatchet retires the current remote key, derives a receiving chain for
// peer and a sending chain from a fresh local ratchet key.
func (s *Session) dhRatchet(st *domain.RatchetState, peer domain.X25519Public) error {
	if st.PeerDiffieHellmanPublic != nil {
		st.RetiredPeerKeys = append(st.RetiredPeerKeys, *st.PeerDiffieHellmanPublic)
		if over := len(st.RetiredPeerKeys) - s.cfg.MaxRetiredKeys; over > 0 {
			st.RetiredPeerKeys = st.RetiredPeerKeys[over:]
		}
	}

	st.PreviousChainLength = st.SendMessageIndex
	st.SendMessageIndex = 0
	st.ReceiveMessageIndex = 0
	st.PeerDiffieHellmanPublic = &peer

	dh, err := crypto.DH(st.DiffieHellmanPrivate, peer)
	if err != nil {
		return fmt.Errorf("%w: ratchet dh: %v", domain.ErrDecryptionFailure, err)
	}
	rk, recvCK, err := kdfRK(st.RootKey, dh[:])
	memzero.Zero(dh[:])
	if err != nil {
		return err
	}

	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return err
	}
	dh, err = crypto.DH(priv, peer)
	if err != nil {
		return fmt.Errorf("%w: ratchet dh: %v", domain.ErrDecryptionFailure, err)
	}
	rk, sendCK, err := kdfRK(rk, dh[:])
	memzero.Zero(dh[:])
	if err != nil {
		return err
	}

	st.RootKey = rk
	st.ReceiveChainKey = recvCK
	st.SendChainKey = sendCK
	st.DiffieHellmanPrivate = priv
	st.DiffieHellmanPublic = pub
	return nil
}

func (s *Session) isRetired(st domain.RatchetState, key domain.X25519Public) bool {
	for _, k := range st.RetiredPeerKeys {
		if k == key {
			return true
		}
	}
	return false
}
