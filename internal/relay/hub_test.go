package relay_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"waypoint/internal/domain"
	"waypoint/internal/relay"
)

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []domain.PreKeyStatus
}

func (r *recordingNotifier) NotifyLowPreKeys(_ context.Context, st domain.PreKeyStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
	return nil
}

func bundle(user domain.UserID, oneTime int) domain.PublicKeyBundle {
	b := domain.PublicKeyBundle{
		User:           user,
		IdentityKey:    domain.X25519Public{1},
		SignedPreKeyID: "spk-1",
		SignedPreKey:   domain.X25519Public{2},
	}
	for i := 0; i < oneTime; i++ {
		b.OneTimePreKeys = append(b.OneTimePreKeys, domain.X25519Public{3, byte(i)})
	}
	return b
}

func TestHub_HandsOutEachOneTimePreKeyOnce(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	hub := relay.NewHub(2, n, zap.NewNop(), nil)
	require.NoError(t, hub.PublishBundle(ctx, bundle("bob", 3)))

	seen := map[domain.X25519Public]bool{}
	for i := 0; i < 3; i++ {
		b, err := hub.TakeBundle(ctx, "bob")
		require.NoError(t, err)
		require.NotNil(t, b.OneTimePreKey)
		assert.False(t, seen[*b.OneTimePreKey])
		seen[*b.OneTimePreKey] = true
	}

	b, err := hub.TakeBundle(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, b.OneTimePreKey)
	assert.Equal(t, domain.SignedPreKeyID("spk-1"), b.SignedPreKeyID)

	require.NotEmpty(t, n.statuses)
	assert.True(t, n.statuses[0].Low)
	assert.Equal(t, 1, n.statuses[0].Remaining)
}

func TestHub_RepublishMergesOneTimePreKeys(t *testing.T) {
	ctx := context.Background()
	hub := relay.NewHub(0, nil, zap.NewNop(), nil)
	require.NoError(t, hub.PublishBundle(ctx, bundle("bob", 2)))

	more := bundle("bob", 0)
	more.OneTimePreKeys = []domain.X25519Public{{9}, {3, 0}}
	require.NoError(t, hub.PublishBundle(ctx, more))

	st, err := hub.Status("bob")
	require.NoError(t, err)
	assert.Equal(t, 3, st.Remaining)
	assert.True(t, st.Low)

	rotated := bundle("bob", 1)
	rotated.IdentityKey = domain.X25519Public{7}
	require.NoError(t, hub.PublishBundle(ctx, rotated))
	st, err = hub.Status("bob")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Remaining)
}

func TestHub_UnknownAndInvalid(t *testing.T) {
	ctx := context.Background()
	hub := relay.NewHub(0, nil, zap.NewNop(), nil)

	_, err := hub.TakeBundle(ctx, "nobody")
	require.ErrorIs(t, err, relay.ErrUnknownUser)
	_, err = hub.Status("nobody")
	require.ErrorIs(t, err, relay.ErrUnknownUser)
	require.ErrorIs(t, hub.PublishBundle(ctx, domain.PublicKeyBundle{User: "bob"}), relay.ErrInvalidBundle)
}

func TestHub_InboxFetchAckAndCollapse(t *testing.T) {
	hub := relay.NewHub(0, nil, zap.NewNop(), nil)

	require.NoError(t, hub.Enqueue(domain.Delivery{ID: "1", From: "alice", To: "bob"}, domain.DeliveryHint{}))
	require.NoError(t, hub.Enqueue(domain.Delivery{ID: "2", From: "alice", To: "bob"}, domain.DeliveryHint{CollapseID: "invite:c1"}))
	require.NoError(t, hub.Enqueue(domain.Delivery{ID: "3", From: "alice", To: "bob"}, domain.DeliveryHint{CollapseID: "invite:c1"}))
	require.NoError(t, hub.Enqueue(domain.Delivery{ID: "4", From: "carol", To: "bob"}, domain.DeliveryHint{CollapseID: "invite:c1"}))
	require.Error(t, hub.Enqueue(domain.Delivery{ID: "5"}, domain.DeliveryHint{}))

	got := hub.Fetch("bob", 0)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"1", "3", "4"}, []string{got[0].ID, got[1].ID, got[2].ID})

	assert.Len(t, hub.Fetch("bob", 2), 2)
	hub.Ack("bob", 2)
	got = hub.Fetch("bob", 10)
	require.Len(t, got, 1)
	assert.Equal(t, "4", got[0].ID)

	hub.Ack("bob", 5)
	assert.Empty(t, hub.Fetch("bob", 0))
}
