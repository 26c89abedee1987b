package interfaces

import (
	"context"

	domaintypes "waypoint/internal/domain/types"
)

// BundlePublisher stores our published key bundle on the backend.
type BundlePublisher interface {
	PublishBundle(ctx context.Context, bundle domaintypes.PublicKeyBundle) error
}

// Transport delivers an opaque delivery to a named recipient.
type Transport interface {
	Deliver(ctx context.Context, delivery domaintypes.Delivery, hint domaintypes.DeliveryHint) error
}

// PreKeySignals subscribes to the backend's "running low on one-time
// pre-keys" signal for a user. Subscribe blocks until ctx is done or the
// subscription fails; handler runs once per signal.
type PreKeySignals interface {
	SubscribeLowPreKeys(
		ctx context.Context,
		user domaintypes.UserID,
		handler func(domaintypes.PreKeyStatus),
	) error
}

// Relay is how we talk to the central relay server, all with context.
type Relay interface {
	BundlePublisher
	Transport

	FetchBundle(ctx context.Context, user domaintypes.UserID) (domaintypes.PreKeyBundle, error)
	PreKeyStatus(ctx context.Context, user domaintypes.UserID) (domaintypes.PreKeyStatus, error)
	FetchDeliveries(
		ctx context.Context,
		user domaintypes.UserID,
		limit int,
	) ([]domaintypes.Delivery, error)
	AckDeliveries(ctx context.Context, user domaintypes.UserID, count int) error
}
