package message_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"waypoint/internal/domain"
	"waypoint/internal/relay"
	"waypoint/internal/services/conversation"
	"waypoint/internal/services/identity"
	"waypoint/internal/services/message"
	"waypoint/internal/store"
)

type client struct {
	user domain.UserID
	conv *conversation.Service
	msgs *message.Service
}

func newClient(t *testing.T, user domain.UserID, r domain.Relay) *client {
	t.Helper()
	ctx := context.Background()
	home := t.TempDir()
	sealer, err := store.OpenSealer(home, "pw", store.ScryptParams{N: 1 << 10, R: 8, P: 1})
	require.NoError(t, err)
	ks, err := store.NewKeyFileStore(home, sealer)
	require.NoError(t, err)
	cs, err := store.NewConversationFileStore(home, sealer)
	require.NoError(t, err)

	keys := identity.New(ks, zap.NewNop(), nil)
	signer, err := keys.Signer(ctx)
	require.NoError(t, err)
	cfg := conversation.DefaultConfig()
	cfg.PreKeyBatch = 5
	conv := conversation.New(user, keys, cs, cfg, zap.NewNop(), nil)

	bundle, err := conv.RenewHandshakeKeyMaterial(ctx, signer)
	require.NoError(t, err)
	require.NoError(t, r.PublishBundle(ctx, bundle))

	return &client{user: user, conv: conv, msgs: message.New(user, conv, r, zap.NewNop(), nil)}
}

func receive(t *testing.T, c *client) []string {
	t.Helper()
	got, err := c.msgs.ReceiveMessages(context.Background(), 0)
	require.NoError(t, err)
	out := make([]string, 0, len(got))
	for _, m := range got {
		out = append(out, string(m.Plaintext))
	}
	return out
}

func TestSendAndReceive(t *testing.T) {
	ctx := context.Background()
	hub := relay.NewHub(0, nil, zap.NewNop(), nil)
	r := relay.NewLocal(hub)
	alice, bob := newClient(t, "alice", r), newClient(t, "bob", r)

	require.NoError(t, alice.msgs.SendMessage(ctx, "bob", "c1", []byte("hello")))
	require.NoError(t, alice.msgs.SendMessage(ctx, "bob", "c1", []byte("again")))

	queued := hub.Fetch("bob", 0)
	require.Len(t, queued, 2)
	require.NotNil(t, queued[0].Invitation)
	assert.Nil(t, queued[1].Invitation)

	assert.Equal(t, []string{"hello", "again"}, receive(t, bob))
	assert.Empty(t, hub.Fetch("bob", 0))

	require.NoError(t, bob.msgs.SendMessage(ctx, "alice", "c1", []byte("hi")))
	assert.Nil(t, hub.Fetch("alice", 0)[0].Invitation)
	assert.Equal(t, []string{"hi"}, receive(t, alice))
}

func TestReceive_SkipsObsoleteAndPoisonDeliveries(t *testing.T) {
	ctx := context.Background()
	hub := relay.NewHub(0, nil, zap.NewNop(), nil)
	r := relay.NewLocal(hub)
	alice, bob := newClient(t, "alice", r), newClient(t, "bob", r)

	require.NoError(t, alice.msgs.SendMessage(ctx, "bob", "c1", []byte("one")))
	first := hub.Fetch("bob", 0)[0]
	assert.Equal(t, []string{"one"}, receive(t, bob))

	replay := first
	replay.Invitation = nil
	require.NoError(t, hub.Enqueue(replay, domain.DeliveryHint{}))

	require.NoError(t, alice.msgs.SendMessage(ctx, "bob", "c1", []byte("two")))
	two := hub.Fetch("bob", 0)[1]
	hub.Ack("bob", 2)

	poison := two
	poison.ID = "poison"
	poison.Ciphertext = append([]byte(nil), two.Ciphertext...)
	poison.Ciphertext[len(poison.Ciphertext)-1] ^= 0x01
	for _, d := range []domain.Delivery{replay, poison, two} {
		require.NoError(t, hub.Enqueue(d, domain.DeliveryHint{}))
	}

	require.NoError(t, alice.msgs.SendMessage(ctx, "bob", "c1", []byte("three")))

	got, err := bob.msgs.ReceiveMessages(ctx, 0)
	require.ErrorIs(t, err, domain.ErrDecryptionFailure)
	texts := make([]string, 0, len(got))
	for _, m := range got {
		texts = append(texts, string(m.Plaintext))
	}
	assert.Equal(t, []string{"two", "three"}, texts)
	assert.Empty(t, hub.Fetch("bob", 0))
}

func TestStartConversation_Renegotiates(t *testing.T) {
	ctx := context.Background()
	hub := relay.NewHub(0, nil, zap.NewNop(), nil)
	r := relay.NewLocal(hub)
	alice, bob := newClient(t, "alice", r), newClient(t, "bob", r)

	require.NoError(t, alice.msgs.SendMessage(ctx, "bob", "c1", []byte("before")))
	assert.Equal(t, []string{"before"}, receive(t, bob))

	require.NoError(t, alice.msgs.StartConversation(ctx, "bob", "c1"))
	assert.Empty(t, receive(t, bob))

	require.NoError(t, alice.msgs.SendMessage(ctx, "bob", "c1", []byte("after")))
	assert.Equal(t, []string{"after"}, receive(t, bob))
}

type flakyRelay struct {
	domain.Relay
	failNext bool
}

func (f *flakyRelay) Deliver(ctx context.Context, d domain.Delivery, h domain.DeliveryHint) error {
	if f.failNext {
		f.failNext = false
		return errors.New("network down")
	}
	return f.Relay.Deliver(ctx, d, h)
}

func TestSend_RetriesInvitationAfterFailedDelivery(t *testing.T) {
	ctx := context.Background()
	hub := relay.NewHub(0, nil, zap.NewNop(), nil)
	flaky := &flakyRelay{Relay: relay.NewLocal(hub)}
	alice := newClient(t, "alice", flaky)
	bob := newClient(t, "bob", relay.NewLocal(hub))

	flaky.failNext = true
	require.Error(t, alice.msgs.SendMessage(ctx, "bob", "c1", []byte("lost")))
	require.NoError(t, alice.msgs.SendMessage(ctx, "bob", "c1", []byte("found")))

	queued := hub.Fetch("bob", 0)
	require.Len(t, queued, 1)
	require.NotNil(t, queued[0].Invitation)
	assert.Equal(t, []string{"found"}, receive(t, bob))
}

func TestSendGroup_OpensConversationsOnDemand(t *testing.T) {
	ctx := context.Background()
	hub := relay.NewHub(0, nil, zap.NewNop(), nil)
	r := relay.NewLocal(hub)
	alice, bob, carol := newClient(t, "alice", r), newClient(t, "bob", r), newClient(t, "carol", r)

	report, err := alice.msgs.SendGroup(ctx, "g1", []domain.UserID{"alice", "bob", "carol", "dave"}, []byte("hey all"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.UserID{"bob", "carol"}, report.Delivered)
	require.Len(t, report.Failed, 1)
	assert.ErrorIs(t, report.Failed[0].Err, relay.ErrUnknownUser)

	for _, c := range []*client{bob, carol} {
		got, err := c.msgs.ReceiveMessages(ctx, 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "hey all", string(got[0].Plaintext))
		assert.Equal(t, domain.GroupID("g1"), got[0].Group)
		assert.Equal(t, report.MessageID, got[0].ID)
	}

	ok, err := alice.conv.ConversationExisting(ctx, "bob", "g1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSendGroup_RetriesInvitationAfterFailedDelivery(t *testing.T) {
	ctx := context.Background()
	hub := relay.NewHub(0, nil, zap.NewNop(), nil)
	flaky := &flakyRelay{Relay: relay.NewLocal(hub)}
	alice := newClient(t, "alice", flaky)
	bob := newClient(t, "bob", relay.NewLocal(hub))

	flaky.failNext = true
	report, err := alice.msgs.SendGroup(ctx, "g1", []domain.UserID{"bob"}, []byte("lost"))
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)

	report, err = alice.msgs.SendGroup(ctx, "g1", []domain.UserID{"bob"}, []byte("found"))
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"bob"}, report.Delivered)

	queued := hub.Fetch("bob", 0)
	require.Len(t, queued, 1)
	require.NotNil(t, queued[0].Invitation)
	assert.Equal(t, []string{"found"}, receive(t, bob))

	// Delivered once, so later sends go without it.
	_, err = alice.msgs.SendGroup(ctx, "g1", []domain.UserID{"bob"}, []byte("later"))
	require.NoError(t, err)
	assert.Nil(t, hub.Fetch("bob", 0)[0].Invitation)
	assert.Equal(t, []string{"later"}, receive(t, bob))
}

func TestSendGroup_SimultaneousFirstContact(t *testing.T) {
	ctx := context.Background()
	hub := relay.NewHub(0, nil, zap.NewNop(), nil)
	r := relay.NewLocal(hub)
	alice, bob := newClient(t, "alice", r), newClient(t, "bob", r)

	_, err := alice.msgs.SendGroup(ctx, "g1", []domain.UserID{"alice", "bob"}, []byte("from alice"))
	require.NoError(t, err)
	_, err = bob.msgs.SendGroup(ctx, "g1", []domain.UserID{"alice", "bob"}, []byte("from bob"))
	require.NoError(t, err)

	// alice sorts first, so her invitation stands and bob's first message is lost.
	got, err := alice.msgs.ReceiveMessages(ctx, 0)
	require.ErrorIs(t, err, domain.ErrHandshakeCollision)
	assert.Empty(t, got)
	assert.Equal(t, []string{"from alice"}, receive(t, bob))

	for round := 0; round < 2; round++ {
		_, err = alice.msgs.SendGroup(ctx, "g1", []domain.UserID{"bob"}, []byte("a"))
		require.NoError(t, err)
		_, err = bob.msgs.SendGroup(ctx, "g1", []domain.UserID{"alice"}, []byte("b"))
		require.NoError(t, err)

		assert.Equal(t, []string{"a"}, receive(t, bob), "round %d", round)
		assert.Equal(t, []string{"b"}, receive(t, alice), "round %d", round)
	}
}
