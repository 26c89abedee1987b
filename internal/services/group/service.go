package group

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"waypoint/internal/crypto"
	"waypoint/internal/domain"
	"waypoint/internal/metrics"
	"waypoint/internal/protocol/wire"
	"waypoint/internal/util/memzero"
)

// Handshaker opens the pairwise conversation with peer when none exists
// yet and returns the invitation that must travel with the first
// ciphertext, or nil if the conversation already existed.
//
// Delivered is told the outcome of every attempt to send on a conversation
// so that an invitation whose delivery failed is attached again next time.
type Handshaker interface {
	EnsureConversation(
		ctx context.Context,
		peer domain.UserID,
		conversation domain.ConversationID,
	) (*domain.ConversationInvitation, error)
	Delivered(
		peer domain.UserID,
		conversation domain.ConversationID,
		invitation *domain.ConversationInvitation,
		err error,
	)
}

// Sealed is a group payload encrypted once, plus one key envelope per
// recipient that could be served.
type Sealed struct {
	Message     domain.GroupMessage
	Envelopes   []domain.GroupKeyEnvelope
	Invitations map[domain.UserID]*domain.ConversationInvitation
	Report      domain.DeliveryReport
}

// Service encrypts group payloads once and fans the content key out over
// the pairwise conversations. The pairwise conversation used for a group is
// the one whose ConversationID equals the GroupID.
type Service struct {
	self       domain.UserID
	crypto     domain.ConversationCrypto
	transport  domain.Transport
	handshaker Handshaker
	log        *zap.Logger
	metrics    *metrics.Crypto
	now        func() time.Time
}

// New builds a group service. handshaker may be nil, in which case members
// without an established conversation are reported as failed.
func New(
	self domain.UserID,
	cc domain.ConversationCrypto,
	transport domain.Transport,
	handshaker Handshaker,
	log *zap.Logger,
	m *metrics.Crypto,
) *Service {
	return &Service{
		self:       self,
		crypto:     cc,
		transport:  transport,
		handshaker: handshaker,
		log:        log.With(zap.String("user", self.String())),
		metrics:    m,
		now:        time.Now,
	}
}

// Seal encrypts plaintext under a fresh content key and wraps that key for
// every member except ourselves. Per-member failures land in the report;
// an error is returned only when nothing could be sealed at all.
func (s *Service) Seal(
	ctx context.Context,
	group domain.GroupID,
	members []domain.UserID,
	plaintext []byte,
) (Sealed, error) {
	key, err := crypto.NewSymmetricKey()
	if err != nil {
		return Sealed{}, err
	}
	defer memzero.Zero(key)

	id := uuid.NewString()
	body, err := crypto.SealXChaCha(key, plaintext, wire.GroupAssociatedData(group, id, s.self))
	if err != nil {
		return Sealed{}, err
	}
	envelope, err := wire.EncodeGroupKey(wire.GroupKey{MessageID: id, Group: group, Key: key})
	if err != nil {
		return Sealed{}, err
	}
	defer memzero.Zero(envelope)

	out := Sealed{
		Message:     domain.GroupMessage{ID: id, Group: group, Sender: s.self, Ciphertext: body},
		Invitations: make(map[domain.UserID]*domain.ConversationInvitation),
		Report:      domain.DeliveryReport{MessageID: id},
	}
	conv := domain.ConversationID(group)
	for _, member := range recipients(s.self, members) {
		if s.handshaker != nil {
			inv, err := s.handshaker.EnsureConversation(ctx, member, conv)
			if err != nil {
				out.fail(member, err)
				s.metrics.GroupEnvelope(metrics.ResultError)
				continue
			}
			if inv != nil {
				out.Invitations[member] = inv
			}
		}
		ct, err := s.crypto.Encrypt(ctx, envelope, member, conv)
		if err != nil {
			out.fail(member, err)
			s.metrics.GroupEnvelope(metrics.ResultError)
			continue
		}
		out.Envelopes = append(out.Envelopes, domain.GroupKeyEnvelope{MessageID: id, Recipient: member, Ciphertext: ct})
		s.metrics.GroupEnvelope(metrics.ResultOK)
	}
	return out, nil
}

// Send seals plaintext and hands one delivery per recipient to the
// transport. The report lists who was served and why the others were not.
func (s *Service) Send(
	ctx context.Context,
	group domain.GroupID,
	members []domain.UserID,
	plaintext []byte,
	hint domain.DeliveryHint,
) (domain.DeliveryReport, error) {
	sealed, err := s.Seal(ctx, group, members, plaintext)
	if err != nil {
		return domain.DeliveryReport{}, err
	}
	report := sealed.Report
	conv := domain.ConversationID(group)
	for _, f := range report.Failed {
		if inv := sealed.Invitations[f.Recipient]; inv != nil {
			s.delivered(f.Recipient, conv, inv, f.Err)
		}
	}

	ts := s.now().Unix()
	for _, env := range sealed.Envelopes {
		msg := sealed.Message
		d := domain.Delivery{
			ID:           uuid.NewString(),
			Kind:         domain.DeliveryGroup,
			From:         s.self,
			To:           env.Recipient,
			Conversation: conv,
			Invitation:   sealed.Invitations[env.Recipient],
			Ciphertext:   env.Ciphertext,
			Group:        &msg,
			Timestamp:    ts,
		}
		err := s.transport.Deliver(ctx, d, hint)
		s.delivered(env.Recipient, conv, d.Invitation, err)
		if err != nil {
			report.Failed = append(report.Failed, domain.RecipientFailure{Recipient: env.Recipient, Err: err})
			continue
		}
		report.Delivered = append(report.Delivered, env.Recipient)
	}
	if len(report.Failed) > 0 {
		s.log.Warn("group send partially failed",
			zap.String("group", group.String()),
			zap.Int("delivered", len(report.Delivered)),
			zap.Int("failed", len(report.Failed)),
			zap.Error(report.Err()))
	}
	return report, nil
}

// Open recovers the content key from the pairwise ciphertext of d and
// decrypts the shared group payload.
func (s *Service) Open(ctx context.Context, d domain.Delivery) (domain.DecryptedMessage, error) {
	msg := d.Group
	if msg == nil {
		return domain.DecryptedMessage{}, fmt.Errorf("%w: group delivery without payload", domain.ErrMalformedMessage)
	}
	if msg.Sender != d.From {
		return domain.DecryptedMessage{}, fmt.Errorf("%w: sender mismatch", domain.ErrMalformedMessage)
	}

	raw, err := s.crypto.Decrypt(ctx, d.Ciphertext, d.From, d.Conversation)
	if err != nil {
		return domain.DecryptedMessage{}, err
	}
	gk, err := wire.DecodeGroupKey(raw)
	memzero.Zero(raw)
	if err != nil {
		return domain.DecryptedMessage{}, err
	}
	defer memzero.Zero(gk.Key)
	if gk.MessageID != msg.ID || gk.Group != msg.Group {
		return domain.DecryptedMessage{}, fmt.Errorf("%w: content key is for another message", domain.ErrMalformedMessage)
	}

	pt, err := crypto.OpenXChaCha(gk.Key, msg.Ciphertext, wire.GroupAssociatedData(msg.Group, msg.ID, msg.Sender))
	if err != nil {
		return domain.DecryptedMessage{}, fmt.Errorf("%w: group payload: %v", domain.ErrDecryptionFailure, err)
	}
	return domain.DecryptedMessage{
		ID:           msg.ID,
		From:         d.From,
		Conversation: d.Conversation,
		Group:        msg.Group,
		Plaintext:    pt,
		Timestamp:    d.Timestamp,
	}, nil
}

func (s *Service) delivered(
	peer domain.UserID,
	conv domain.ConversationID,
	inv *domain.ConversationInvitation,
	err error,
) {
	if s.handshaker != nil {
		s.handshaker.Delivered(peer, conv, inv, err)
	}
}

func (s *Sealed) fail(member domain.UserID, err error) {
	s.Report.Failed = append(s.Report.Failed, domain.RecipientFailure{Recipient: member, Err: err})
}

// recipients drops self and duplicates, keeping the caller's order.
func recipients(self domain.UserID, members []domain.UserID) []domain.UserID {
	seen := make(map[domain.UserID]struct{}, len(members))
	out := make([]domain.UserID, 0, len(members))
	for _, m := range members {
		if m == self || m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
