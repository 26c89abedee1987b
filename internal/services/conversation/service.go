package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"waypoint/internal/domain"
	"waypoint/internal/metrics"
	"waypoint/internal/protocol/ratchet"
	"waypoint/internal/protocol/wire"
	"waypoint/internal/protocol/x3dh"
	"waypoint/internal/util/memzero"
)

const (
	// DefaultPreKeyBatch is how many one-time pre-keys each renewal mints.
	DefaultPreKeyBatch = 100

	roleInitiator = "initiator"
	roleResponder = "responder"
)

// Config tunes the orchestrator.
type Config struct {
	Ratchet ratchet.Config
	// PreKeyBatch is the number of one-time pre-keys minted per renewal.
	PreKeyBatch int
	// RequireOneTimePreKey rejects handshakes that did not use a one-time pre-key.
	RequireOneTimePreKey bool
	Now                  func() time.Time
}

// DefaultConfig requires one-time pre-keys and uses the ratchet defaults.
func DefaultConfig() Config {
	return Config{PreKeyBatch: DefaultPreKeyBatch, RequireOneTimePreKey: true}
}

// Service composes key agreement, the ratchet and the conversation store.
//
// Every operation that touches a conversation holds that conversation's
// lock for the whole load-ratchet-save sequence. Nothing here does network
// I/O; publishing bundles and delivering ciphertexts happen outside.
type Service struct {
	self          domain.UserID
	keys          domain.IdentityKeyStore
	conversations domain.ConversationStore
	cfg           Config
	locks         *keyedMutex
	log           *zap.Logger
	metrics       *metrics.Crypto
}

// New builds the orchestrator for the local user self.
func New(
	self domain.UserID,
	keys domain.IdentityKeyStore,
	conversations domain.ConversationStore,
	cfg Config,
	log *zap.Logger,
	m *metrics.Crypto,
) *Service {
	if cfg.PreKeyBatch <= 0 {
		cfg.PreKeyBatch = DefaultPreKeyBatch
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Ratchet.Now == nil {
		cfg.Ratchet.Now = cfg.Now
	}
	return &Service{
		self:          self,
		keys:          keys,
		conversations: conversations,
		cfg:           cfg,
		locks:         newKeyedMutex(),
		log:           log.With(zap.String("user", self.String())),
		metrics:       m,
	}
}

// RenewHandshakeKeyMaterial loads or creates the identity and signed
// pre-key, mints a fresh batch of one-time pre-keys and returns the bundle
// to publish.
func (s *Service) RenewHandshakeKeyMaterial(
	ctx context.Context,
	signer domain.Signer,
) (domain.PublicKeyBundle, error) {
	id, err := s.keys.LoadOrCreateIdentity(ctx)
	if err != nil {
		return domain.PublicKeyBundle{}, err
	}
	spk, err := s.keys.LoadOrCreateSignedPreKey(ctx, signer)
	if err != nil {
		return domain.PublicKeyBundle{}, err
	}
	oneTime, err := s.keys.GenerateOneTimePreKeys(ctx, s.cfg.PreKeyBatch)
	if err != nil {
		return domain.PublicKeyBundle{}, err
	}
	return domain.PublicKeyBundle{
		User:                  s.self,
		SigningKey:            signer.SigningPublicKey(),
		IdentityKey:           id.XPub,
		SignedPreKeyID:        spk.ID,
		SignedPreKey:          spk.Pub,
		SignedPreKeySignature: spk.Signature,
		OneTimePreKeys:        oneTime,
	}, nil
}

// InitConversation runs the handshake as initiator against bundle, stores
// the new ratchet and returns the invitation for the peer. An existing
// conversation with the same key is replaced.
func (s *Service) InitConversation(
	ctx context.Context,
	peer domain.UserID,
	conversation domain.ConversationID,
	bundle domain.PreKeyBundle,
) (domain.ConversationInvitation, error) {
	if s.cfg.RequireOneTimePreKey && bundle.OneTimePreKey == nil {
		s.metrics.Handshake(roleInitiator, metrics.ResultError)
		return domain.ConversationInvitation{}, domain.ErrOneTimePreKeyMissing
	}
	id, err := s.keys.LoadOrCreateIdentity(ctx)
	if err != nil {
		return domain.ConversationInvitation{}, err
	}

	root, inv, err := x3dh.InitiatorRoot(id, bundle)
	if err != nil {
		s.metrics.Handshake(roleInitiator, metrics.ResultError)
		s.log.Warn("handshake aborted", zap.String("peer", peer.String()), zap.Error(err))
		return domain.ConversationInvitation{}, err
	}
	state, err := ratchet.InitAsInitiator(root, bundle.SignedPreKey)
	memzero.Zero(root)
	if err != nil {
		return domain.ConversationInvitation{}, err
	}

	key := domain.ConversationKey{Peer: peer, Conversation: conversation}
	unlock := s.locks.lock(key)
	defer unlock()

	if err := s.save(ctx, key, state, domain.MessageKeyCache{}, domain.Conversation{}); err != nil {
		return domain.ConversationInvitation{}, err
	}
	s.metrics.Handshake(roleInitiator, metrics.ResultOK)
	s.log.Info("conversation initiated", zap.String("conversation", key.String()))
	return inv, nil
}

// ProcessConversationInvitation runs the handshake as responder. The
// referenced one-time pre-key is consumed before any derivation, so a
// second invitation naming it fails with domain.ErrOneTimePreKeyMissing.
//
// If both sides initiated the same conversation and neither has received
// on it yet, the invitation of the user with the lower id wins: that user
// keeps its initiator state and rejects the other invitation with
// domain.ErrHandshakeCollision, while the other user accepts.
func (s *Service) ProcessConversationInvitation(
	ctx context.Context,
	invitation domain.ConversationInvitation,
	peer domain.UserID,
	conversation domain.ConversationID,
) error {
	if invitation.UsedOneTimePreKey == nil && s.cfg.RequireOneTimePreKey {
		s.metrics.Handshake(roleResponder, metrics.ResultError)
		return domain.ErrOneTimePreKeyMissing
	}

	key := domain.ConversationKey{Peer: peer, Conversation: conversation}
	unlock := s.locks.lock(key)
	defer unlock()

	err := s.acceptInvitation(ctx, key, invitation)
	if errors.Is(err, domain.ErrHandshakeCollision) {
		s.metrics.Handshake(roleResponder, metrics.ResultCollision)
		s.log.Info("kept own invitation after simultaneous handshake", zap.String("conversation", key.String()))
		return err
	}
	if err != nil {
		s.metrics.Handshake(roleResponder, metrics.ResultError)
		s.log.Warn("invitation rejected", zap.String("conversation", key.String()), zap.Error(err))
		return err
	}
	s.metrics.Handshake(roleResponder, metrics.ResultOK)
	s.log.Info("conversation accepted", zap.String("conversation", key.String()))
	return nil
}

func (s *Service) acceptInvitation(
	ctx context.Context,
	key domain.ConversationKey,
	inv domain.ConversationInvitation,
) error {
	existing, found, err := s.conversations.LoadConversation(ctx, key)
	if err != nil {
		return err
	}
	if found && existing.State.AwaitingReply() && s.self < key.Peer {
		if inv.UsedOneTimePreKey != nil {
			if err := s.keys.DeleteOneTimePreKey(ctx, *inv.UsedOneTimePreKey); err != nil {
				return err
			}
		}
		return fmt.Errorf("%w: %s", domain.ErrHandshakeCollision, key)
	}

	id, err := s.keys.LoadOrCreateIdentity(ctx)
	if err != nil {
		return err
	}
	spk, err := s.keys.LoadSignedPreKey(ctx, inv.SignedPreKeyID)
	if err != nil {
		return err
	}

	var oneTime *domain.X25519Private
	if inv.UsedOneTimePreKey != nil {
		priv, err := s.keys.ConsumeOneTimePreKey(ctx, *inv.UsedOneTimePreKey)
		if err != nil {
			return err
		}
		defer memzero.Zero(priv[:])
		oneTime = &priv
	}

	root, err := x3dh.ResponderRoot(id, spk.Priv, oneTime, inv)
	if err != nil {
		return err
	}
	state := ratchet.InitAsResponder(root, spk)
	memzero.Zero(root)

	if err := s.save(ctx, key, state, domain.MessageKeyCache{}, domain.Conversation{}); err != nil {
		return err
	}
	if inv.UsedOneTimePreKey != nil {
		if err := s.keys.DeleteOneTimePreKey(ctx, *inv.UsedOneTimePreKey); err != nil {
			return err
		}
	}
	return nil
}

// ConversationExisting reports whether a ratchet exists for peer and conversation.
func (s *Service) ConversationExisting(
	ctx context.Context,
	peer domain.UserID,
	conversation domain.ConversationID,
) (bool, error) {
	return s.conversations.ConversationExists(ctx, domain.ConversationKey{Peer: peer, Conversation: conversation})
}

// ConversationFingerprint reads the header of ciphertext without
// decrypting it and returns the base64 of its sender ratchet key.
func (s *Service) ConversationFingerprint(ciphertext []byte) (domain.Fingerprint, error) {
	h, err := wire.DecodeHeader(ciphertext)
	if err != nil {
		return "", err
	}
	return wire.HeaderFingerprint(h), nil
}

// Encrypt advances the sending chain, persists the new state and returns
// the encoded ciphertext. If persisting fails the ciphertext is discarded
// and the stored state is unchanged.
func (s *Service) Encrypt(
	ctx context.Context,
	plaintext []byte,
	peer domain.UserID,
	conversation domain.ConversationID,
) ([]byte, error) {
	key := domain.ConversationKey{Peer: peer, Conversation: conversation}
	unlock := s.locks.lock(key)
	defer unlock()

	conv, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	sess := ratchet.NewSession(s.cfg.Ratchet, conv.State, conv.Skipped)
	header, body, err := sess.Encrypt(plaintext, associatedData(s.self, peer, conversation))
	if err != nil {
		s.metrics.RatchetOp("encrypt", metrics.ResultError)
		return nil, err
	}
	out, err := wire.EncodeCiphertext(header, body)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, key, sess.State(), sess.Cache(), conv); err != nil {
		s.metrics.RatchetOp("encrypt", saveResult(err))
		return nil, err
	}
	s.metrics.RatchetOp("encrypt", metrics.ResultOK)
	return out, nil
}

// Decrypt opens ciphertext from peer and persists the advanced state.
//
// Stale or replayed messages return domain.ErrDiscardedObsoleteMessage,
// which callers may ignore. domain.ErrMaxSkipExceeded means the
// conversation must be renegotiated with InitConversation.
func (s *Service) Decrypt(
	ctx context.Context,
	ciphertext []byte,
	peer domain.UserID,
	conversation domain.ConversationID,
) ([]byte, error) {
	key := domain.ConversationKey{Peer: peer, Conversation: conversation}

	header, body, err := wire.DecodeCiphertext(ciphertext)
	if err != nil {
		s.metrics.RatchetOp("decrypt", metrics.ResultError)
		s.log.Warn("undecodable ciphertext", zap.String("conversation", key.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", domain.ErrDecryptionFailure, err)
	}

	unlock := s.locks.lock(key)
	defer unlock()

	conv, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	sess := ratchet.NewSession(s.cfg.Ratchet, conv.State, conv.Skipped)
	pt, err := sess.Decrypt(header, body, associatedData(peer, s.self, conversation))
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrDiscardedObsoleteMessage):
		s.metrics.RatchetOp("decrypt", metrics.ResultObsolete)
		s.log.Debug("discarded obsolete message",
			zap.String("conversation", key.String()), zap.Uint32("n", header.MessageIndex))
		return nil, err
	case errors.Is(err, domain.ErrMaxSkipExceeded):
		s.metrics.RatchetOp("decrypt", metrics.ResultMaxSkip)
		s.log.Warn("conversation needs renegotiation", zap.String("conversation", key.String()), zap.Error(err))
		return nil, err
	default:
		s.metrics.RatchetOp("decrypt", metrics.ResultError)
		s.log.Warn("decryption failed", zap.String("conversation", key.String()), zap.Error(err))
		return nil, err
	}

	if err := s.save(ctx, key, sess.State(), sess.Cache(), conv); err != nil {
		s.metrics.RatchetOp("decrypt", saveResult(err))
		return nil, err
	}
	s.metrics.RatchetOp("decrypt", metrics.ResultOK)
	return pt, nil
}

func (s *Service) load(ctx context.Context, key domain.ConversationKey) (domain.Conversation, error) {
	conv, ok, err := s.conversations.LoadConversation(ctx, key)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !ok {
		return domain.Conversation{}, fmt.Errorf("%w: %s", domain.ErrConversationNotInitialized, key)
	}
	return conv, nil
}

// save writes the whole record on top of prev, the record it was derived
// from. A zero prev marks a fresh handshake, which replaces any stored state.
func (s *Service) save(
	ctx context.Context,
	key domain.ConversationKey,
	state domain.RatchetState,
	cache domain.MessageKeyCache,
	prev domain.Conversation,
) error {
	now := s.cfg.Now().Unix()
	created := prev.CreatedUTC
	if created == 0 {
		created = now
	}
	return s.conversations.SaveConversation(ctx, domain.Conversation{
		Key:        key,
		State:      state,
		Skipped:    cache,
		Version:    prev.Version,
		CreatedUTC: created,
		UpdatedUTC: now,
	})
}

func saveResult(err error) string {
	if errors.Is(err, domain.ErrConcurrentUpdate) {
		return metrics.ResultConflict
	}
	return metrics.ResultError
}

// associatedData binds a ciphertext to its direction and conversation.
func associatedData(from, to domain.UserID, conversation domain.ConversationID) []byte {
	out := make([]byte, 0, len(from)+len(to)+len(conversation)+2)
	out = append(out, from...)
	out = append(out, 0)
	out = append(out, to...)
	out = append(out, 0)
	return append(out, conversation...)
}

// Compile-time assertion that Service implements domain.ConversationCrypto.
var _ domain.ConversationCrypto = (*Service)(nil)
