package message

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"waypoint/internal/domain"
	"waypoint/internal/metrics"
	"waypoint/internal/services/group"
)

// Service sends and receives messages over the relay.
//
// High-level flow:
//   - Send: if no conversation exists, fetch the peer's bundle, run the
//     handshake and attach the invitation, then encrypt and deliver.
//   - Receive: fetch deliveries, accept invitations, decrypt pairwise and
//     group payloads in order, then ack what was processed.
type Service struct {
	self   domain.UserID
	crypto domain.ConversationCrypto
	relay  domain.Relay
	groups *group.Service
	log    *zap.Logger
	now    func() time.Time

	// pending holds invitations whose first delivery failed, so the next
	// send on that conversation carries them again.
	mu      sync.Mutex
	pending map[domain.ConversationKey]*domain.ConversationInvitation
}

// New constructs a message service for self on top of the relay.
func New(
	self domain.UserID,
	cc domain.ConversationCrypto,
	relay domain.Relay,
	log *zap.Logger,
	m *metrics.Crypto,
) *Service {
	s := &Service{
		self:    self,
		crypto:  cc,
		relay:   relay,
		log:     log.With(zap.String("user", self.String())),
		now:     time.Now,
		pending: make(map[domain.ConversationKey]*domain.ConversationInvitation),
	}
	s.groups = group.New(self, cc, relay, s, log, m)
	return s
}

// EnsureConversation runs the handshake with peer if no conversation
// exists and returns the invitation to attach, or nil.
func (s *Service) EnsureConversation(
	ctx context.Context,
	peer domain.UserID,
	conversation domain.ConversationID,
) (*domain.ConversationInvitation, error) {
	key := domain.ConversationKey{Peer: peer, Conversation: conversation}
	s.mu.Lock()
	inv, ok := s.pending[key]
	s.mu.Unlock()
	if ok {
		return inv, nil
	}

	exists, err := s.crypto.ConversationExisting(ctx, peer, conversation)
	if err != nil || exists {
		return nil, err
	}
	fresh, err := s.handshake(ctx, peer, conversation)
	if err != nil {
		return nil, err
	}
	return &fresh, nil
}

// StartConversation runs a fresh handshake with peer, replacing any
// existing state, and delivers the invitation on its own. It is how a
// conversation is renegotiated after domain.ErrMaxSkipExceeded.
func (s *Service) StartConversation(
	ctx context.Context,
	peer domain.UserID,
	conversation domain.ConversationID,
) error {
	inv, err := s.handshake(ctx, peer, conversation)
	if err != nil {
		return err
	}
	return s.deliver(ctx, domain.Delivery{
		Kind:         domain.DeliveryMessage,
		To:           peer,
		Conversation: conversation,
		Invitation:   &inv,
	}, domain.DeliveryHint{Priority: domain.PriorityHigh, CollapseID: "invite:" + string(conversation)})
}

func (s *Service) handshake(
	ctx context.Context,
	peer domain.UserID,
	conversation domain.ConversationID,
) (domain.ConversationInvitation, error) {
	bundle, err := s.relay.FetchBundle(ctx, peer)
	if err != nil {
		return domain.ConversationInvitation{}, fmt.Errorf("fetch bundle for %s: %w", peer, err)
	}
	return s.crypto.InitConversation(ctx, peer, conversation, bundle)
}

// SendMessage encrypts plaintext for peer and posts it to the relay.
func (s *Service) SendMessage(
	ctx context.Context,
	to domain.UserID,
	conversation domain.ConversationID,
	plaintext []byte,
) error {
	inv, err := s.EnsureConversation(ctx, to, conversation)
	if err != nil {
		return err
	}
	ct, err := s.crypto.Encrypt(ctx, plaintext, to, conversation)
	if err != nil {
		return err
	}
	return s.deliver(ctx, domain.Delivery{
		Kind:         domain.DeliveryMessage,
		To:           to,
		Conversation: conversation,
		Invitation:   inv,
		Ciphertext:   ct,
	}, domain.DeliveryHint{Priority: domain.PriorityNormal})
}

// SendGroup fans plaintext out to members over their pairwise conversations.
func (s *Service) SendGroup(
	ctx context.Context,
	g domain.GroupID,
	members []domain.UserID,
	plaintext []byte,
) (domain.DeliveryReport, error) {
	return s.groups.Send(ctx, g, members, plaintext, domain.DeliveryHint{Priority: domain.PriorityNormal})
}

func (s *Service) deliver(ctx context.Context, d domain.Delivery, hint domain.DeliveryHint) error {
	d.ID = uuid.NewString()
	d.From = s.self
	d.Timestamp = s.now().Unix()

	err := s.relay.Deliver(ctx, d, hint)
	s.Delivered(d.To, d.Conversation, d.Invitation, err)
	return err
}

// Delivered keeps invitation pending for peer and conversation after a
// failed delivery and forgets it once anything was delivered there.
func (s *Service) Delivered(
	peer domain.UserID,
	conversation domain.ConversationID,
	invitation *domain.ConversationInvitation,
	err error,
) {
	key := domain.ConversationKey{Peer: peer, Conversation: conversation}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err != nil && invitation != nil:
		s.pending[key] = invitation
	case err == nil:
		delete(s.pending, key)
	}
}

// ReceiveMessages fetches pending deliveries and decrypts them in order.
//
// Deliveries that can never be read (bad signature, spent pre-key, tampered
// or stale ciphertext) are skipped and acked; their errors are joined into
// the returned error next to the messages that did decrypt. Storage and
// context errors stop processing so the rest stays queued.
func (s *Service) ReceiveMessages(ctx context.Context, limit int) ([]domain.DecryptedMessage, error) {
	deliveries, err := s.relay.FetchDeliveries(ctx, s.self, limit)
	if err != nil {
		return nil, err
	}

	var (
		out       = make([]domain.DecryptedMessage, 0, len(deliveries))
		failures  []error
		processed int
		stopErr   error
	)
	for _, d := range deliveries {
		msg, ok, err := s.receive(ctx, d)
		if err != nil && transient(ctx, err) {
			stopErr = err
			break
		}
		processed++
		switch {
		case errors.Is(err, domain.ErrDiscardedObsoleteMessage):
		case err != nil:
			failures = append(failures, fmt.Errorf("delivery %s from %s: %w", d.ID, d.From, err))
		case ok:
			out = append(out, msg)
		}
	}

	if processed > 0 {
		if err := s.relay.AckDeliveries(ctx, s.self, processed); err != nil {
			return out, fmt.Errorf("ack %d deliveries: %w", processed, err)
		}
	}
	if stopErr != nil {
		return out, stopErr
	}
	return out, errors.Join(failures...)
}

// receive handles one delivery. ok is false for invitation-only deliveries.
func (s *Service) receive(ctx context.Context, d domain.Delivery) (domain.DecryptedMessage, bool, error) {
	if d.Invitation != nil {
		if err := s.crypto.ProcessConversationInvitation(ctx, *d.Invitation, d.From, d.Conversation); err != nil {
			return domain.DecryptedMessage{}, false, err
		}
		// Our own invitation, if one was still pending, has been superseded.
		s.mu.Lock()
		delete(s.pending, domain.ConversationKey{Peer: d.From, Conversation: d.Conversation})
		s.mu.Unlock()
	}
	if len(d.Ciphertext) == 0 {
		return domain.DecryptedMessage{}, false, nil
	}

	if d.Kind == domain.DeliveryGroup {
		msg, err := s.groups.Open(ctx, d)
		return msg, err == nil, err
	}

	pt, err := s.crypto.Decrypt(ctx, d.Ciphertext, d.From, d.Conversation)
	if err != nil {
		return domain.DecryptedMessage{}, false, err
	}
	return domain.DecryptedMessage{
		ID:           d.ID,
		From:         d.From,
		Conversation: d.Conversation,
		Plaintext:    pt,
		Timestamp:    d.Timestamp,
	}, true, nil
}

func transient(ctx context.Context, err error) bool {
	return errors.Is(err, domain.ErrStorage) || ctx.Err() != nil
}

// Compile-time assertions.
var (
	_ domain.MessageService = (*Service)(nil)
	_ group.Handshaker      = (*Service)(nil)
)
