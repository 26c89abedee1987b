package group_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"waypoint/internal/domain"
	"waypoint/internal/services/conversation"
	"waypoint/internal/services/group"
	"waypoint/internal/services/identity"
	"waypoint/internal/store"
)

const gid = domain.GroupID("g1")

type member struct {
	user   domain.UserID
	svc    *conversation.Service
	signer domain.Signer
}

func newMember(t *testing.T, user domain.UserID) *member {
	t.Helper()
	home := t.TempDir()
	sealer, err := store.OpenSealer(home, "pw", store.ScryptParams{N: 1 << 10, R: 8, P: 1})
	require.NoError(t, err)
	ks, err := store.NewKeyFileStore(home, sealer)
	require.NoError(t, err)
	cs, err := store.NewConversationFileStore(home, sealer)
	require.NoError(t, err)
	keys := identity.New(ks, zap.NewNop(), nil)
	signer, err := keys.Signer(context.Background())
	require.NoError(t, err)

	cfg := conversation.DefaultConfig()
	cfg.PreKeyBatch = 2
	return &member{user: user, svc: conversation.New(user, keys, cs, cfg, zap.NewNop(), nil), signer: signer}
}

func pair(t *testing.T, from, to *member, conv domain.ConversationID) {
	t.Helper()
	ctx := context.Background()
	b, err := to.svc.RenewHandshakeKeyMaterial(ctx, to.signer)
	require.NoError(t, err)
	inv, err := from.svc.InitConversation(ctx, to.user, conv, b.Handshake(&b.OneTimePreKeys[0]))
	require.NoError(t, err)
	require.NoError(t, to.svc.ProcessConversationInvitation(ctx, inv, from.user, conv))
}

type recordingTransport struct {
	mu     sync.Mutex
	sent   []domain.Delivery
	failTo domain.UserID
}

func (r *recordingTransport) Deliver(_ context.Context, d domain.Delivery, _ domain.DeliveryHint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.To == r.failTo {
		return errors.New("unreachable")
	}
	r.sent = append(r.sent, d)
	return nil
}

func (r *recordingTransport) to(user domain.UserID) (domain.Delivery, bool) {
	for _, d := range r.sent {
		if d.To == user {
			return d, true
		}
	}
	return domain.Delivery{}, false
}

func TestGroupSend_FanOutAndOpen(t *testing.T) {
	ctx := context.Background()
	alice, bob, carol := newMember(t, "alice"), newMember(t, "bob"), newMember(t, "carol")
	pair(t, alice, bob, domain.ConversationID(gid))
	pair(t, alice, carol, domain.ConversationID(gid))

	tr := &recordingTransport{}
	sender := group.New(alice.user, alice.svc, tr, nil, zap.NewNop(), nil)

	report, err := sender.Send(ctx, gid, []domain.UserID{"alice", "bob", "carol", "bob", "dave"}, []byte("hello group"),
		domain.DeliveryHint{Priority: domain.PriorityNormal})
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.UserID{"bob", "carol"}, report.Delivered)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, domain.UserID("dave"), report.Failed[0].Recipient)
	assert.ErrorIs(t, report.Failed[0].Err, domain.ErrConversationNotInitialized)
	assert.ErrorIs(t, report.Err(), domain.ErrConversationNotInitialized)
	require.Len(t, tr.sent, 2)

	first, second := tr.sent[0], tr.sent[1]
	assert.Equal(t, first.Group.Ciphertext, second.Group.Ciphertext)
	assert.Equal(t, report.MessageID, first.Group.ID)
	assert.Equal(t, domain.DeliveryGroup, first.Kind)

	for _, m := range []*member{bob, carol} {
		d, ok := tr.to(m.user)
		require.True(t, ok)
		opener := group.New(m.user, m.svc, tr, nil, zap.NewNop(), nil)
		msg, err := opener.Open(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, "hello group", string(msg.Plaintext))
		assert.Equal(t, gid, msg.Group)
		assert.Equal(t, domain.UserID("alice"), msg.From)
	}
}

func TestGroupSend_TransportFailureIsPerRecipient(t *testing.T) {
	ctx := context.Background()
	alice, bob, carol := newMember(t, "alice"), newMember(t, "bob"), newMember(t, "carol")
	pair(t, alice, bob, domain.ConversationID(gid))
	pair(t, alice, carol, domain.ConversationID(gid))

	tr := &recordingTransport{failTo: "carol"}
	report, err := group.New(alice.user, alice.svc, tr, nil, zap.NewNop(), nil).
		Send(ctx, gid, []domain.UserID{"bob", "carol"}, []byte("x"), domain.DeliveryHint{})
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"bob"}, report.Delivered)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, domain.UserID("carol"), report.Failed[0].Recipient)
}

func TestGroupOpen_RejectsTamperedPayload(t *testing.T) {
	ctx := context.Background()
	alice, bob := newMember(t, "alice"), newMember(t, "bob")
	pair(t, alice, bob, domain.ConversationID(gid))

	tr := &recordingTransport{}
	_, err := group.New(alice.user, alice.svc, tr, nil, zap.NewNop(), nil).
		Send(ctx, gid, []domain.UserID{"bob"}, []byte("secret"), domain.DeliveryHint{})
	require.NoError(t, err)

	d := tr.sent[0]
	tampered := *d.Group
	tampered.Ciphertext = append([]byte(nil), d.Group.Ciphertext...)
	tampered.Ciphertext[len(tampered.Ciphertext)-1] ^= 0x01
	d.Group = &tampered

	_, err = group.New(bob.user, bob.svc, tr, nil, zap.NewNop(), nil).Open(ctx, d)
	require.ErrorIs(t, err, domain.ErrDecryptionFailure)
}

func TestGroupOpen_RejectsSenderMismatch(t *testing.T) {
	bob := newMember(t, "bob")
	d := domain.Delivery{
		From:  "mallory",
		Kind:  domain.DeliveryGroup,
		Group: &domain.GroupMessage{ID: "m", Group: gid, Sender: "alice"},
	}
	_, err := group.New(bob.user, bob.svc, &recordingTransport{}, nil, zap.NewNop(), nil).Open(context.Background(), d)
	require.ErrorIs(t, err, domain.ErrMalformedMessage)
}

type outcome struct {
	peer          domain.UserID
	hadInvitation bool
	err           error
}

type fixedHandshaker struct {
	alice, bob *member
	calls      int
	outcomes   []outcome
}

func (h *fixedHandshaker) Delivered(
	peer domain.UserID,
	_ domain.ConversationID,
	inv *domain.ConversationInvitation,
	err error,
) {
	h.outcomes = append(h.outcomes, outcome{peer: peer, hadInvitation: inv != nil, err: err})
}

func (h *fixedHandshaker) EnsureConversation(
	ctx context.Context,
	peer domain.UserID,
	conv domain.ConversationID,
) (*domain.ConversationInvitation, error) {
	h.calls++
	ok, err := h.alice.svc.ConversationExisting(ctx, peer, conv)
	if err != nil || ok {
		return nil, err
	}
	b, err := h.bob.svc.RenewHandshakeKeyMaterial(ctx, h.bob.signer)
	if err != nil {
		return nil, err
	}
	inv, err := h.alice.svc.InitConversation(ctx, peer, conv, b.Handshake(&b.OneTimePreKeys[0]))
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func TestGroupSend_AttachesInvitationForNewConversations(t *testing.T) {
	ctx := context.Background()
	alice, bob := newMember(t, "alice"), newMember(t, "bob")
	hs := &fixedHandshaker{alice: alice, bob: bob}
	tr := &recordingTransport{}
	sender := group.New(alice.user, alice.svc, tr, hs, zap.NewNop(), nil)

	_, err := sender.Send(ctx, gid, []domain.UserID{"bob"}, []byte("first"), domain.DeliveryHint{})
	require.NoError(t, err)
	_, err = sender.Send(ctx, gid, []domain.UserID{"bob"}, []byte("second"), domain.DeliveryHint{})
	require.NoError(t, err)
	require.Len(t, tr.sent, 2)
	require.NotNil(t, tr.sent[0].Invitation)
	assert.Nil(t, tr.sent[1].Invitation)

	opener := group.New(bob.user, bob.svc, tr, nil, zap.NewNop(), nil)
	require.NoError(t, bob.svc.ProcessConversationInvitation(ctx, *tr.sent[0].Invitation, alice.user, tr.sent[0].Conversation))
	for i, want := range []string{"first", "second"} {
		msg, err := opener.Open(ctx, tr.sent[i])
		require.NoError(t, err)
		assert.Equal(t, want, string(msg.Plaintext))
	}
}

func TestGroupSend_ReportsInvitationOutcomeToHandshaker(t *testing.T) {
	ctx := context.Background()
	alice, bob := newMember(t, "alice"), newMember(t, "bob")
	hs := &fixedHandshaker{alice: alice, bob: bob}
	tr := &recordingTransport{failTo: "bob"}
	sender := group.New(alice.user, alice.svc, tr, hs, zap.NewNop(), nil)

	report, err := sender.Send(ctx, gid, []domain.UserID{"bob"}, []byte("first"), domain.DeliveryHint{})
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)

	require.Len(t, hs.outcomes, 1)
	assert.Equal(t, domain.UserID("bob"), hs.outcomes[0].peer)
	assert.True(t, hs.outcomes[0].hadInvitation)
	assert.Error(t, hs.outcomes[0].err)
}
