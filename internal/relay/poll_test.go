package relay_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"waypoint/internal/domain"
	"waypoint/internal/relay"
)

func TestPollSignals_FiresWhileLow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := relay.NewHub(2, nil, zap.NewNop(), nil)
	require.NoError(t, hub.PublishBundle(ctx, bundle("bob", 1)))

	poll := relay.NewPollSignals(relay.NewLocal(hub), 5*time.Millisecond, zap.NewNop())
	got := make(chan domain.PreKeyStatus, 16)
	done := make(chan error, 1)
	go func() {
		done <- poll.SubscribeLowPreKeys(ctx, "bob", func(st domain.PreKeyStatus) {
			select {
			case got <- st:
			default:
			}
		})
	}()

	select {
	case st := <-got:
		assert.Equal(t, 1, st.Remaining)
	case <-time.After(time.Second):
		t.Fatal("no signal")
	}
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
