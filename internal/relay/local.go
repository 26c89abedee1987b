package relay

import (
	"context"

	"waypoint/internal/domain"
)

// Local talks to a Hub in the same process.
type Local struct {
	Hub *Hub
}

// NewLocal wraps hub as a domain.Relay.
func NewLocal(hub *Hub) *Local { return &Local{Hub: hub} }

func (l *Local) PublishBundle(ctx context.Context, b domain.PublicKeyBundle) error {
	return l.Hub.PublishBundle(ctx, b)
}

func (l *Local) FetchBundle(ctx context.Context, user domain.UserID) (domain.PreKeyBundle, error) {
	return l.Hub.TakeBundle(ctx, user)
}

func (l *Local) PreKeyStatus(_ context.Context, user domain.UserID) (domain.PreKeyStatus, error) {
	return l.Hub.Status(user)
}

func (l *Local) Deliver(_ context.Context, d domain.Delivery, hint domain.DeliveryHint) error {
	return l.Hub.Enqueue(d, hint)
}

func (l *Local) FetchDeliveries(_ context.Context, user domain.UserID, limit int) ([]domain.Delivery, error) {
	return l.Hub.Fetch(user, limit), nil
}

func (l *Local) AckDeliveries(_ context.Context, user domain.UserID, count int) error {
	l.Hub.Ack(user, count)
	return nil
}

var _ domain.Relay = (*Local)(nil)
