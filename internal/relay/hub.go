package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"waypoint/internal/domain"
	"waypoint/internal/metrics"
)

// DefaultLowWatermark is the one-time pre-key count below which a user is
// signalled to replenish.
const DefaultLowWatermark = 10

var (
	// ErrUnknownUser is returned when no bundle has been published for a user.
	ErrUnknownUser = errors.New("relay: unknown user")
	// ErrInvalidBundle is returned for bundles without a user or signed pre-key.
	ErrInvalidBundle = errors.New("relay: invalid bundle")
)

// Notifier is told whenever a user's one-time pre-key supply drops below
// the watermark.
type Notifier interface {
	NotifyLowPreKeys(ctx context.Context, status domain.PreKeyStatus) error
}

type queued struct {
	delivery domain.Delivery
	hint     domain.DeliveryHint
}

// Hub is the relay's in-memory state: published bundles and per-user
// inboxes. It hands out each one-time pre-key at most once.
type Hub struct {
	mu       sync.Mutex
	bundles  map[domain.UserID]domain.PublicKeyBundle
	inboxes  map[domain.UserID][]queued
	low      int
	notifier Notifier
	log      *zap.Logger
	metrics  *metrics.Crypto
	now      func() time.Time
}

// NewHub returns an empty hub. notifier may be nil.
func NewHub(lowWatermark int, notifier Notifier, log *zap.Logger, m *metrics.Crypto) *Hub {
	if lowWatermark <= 0 {
		lowWatermark = DefaultLowWatermark
	}
	return &Hub{
		bundles:  make(map[domain.UserID]domain.PublicKeyBundle),
		inboxes:  make(map[domain.UserID][]queued),
		low:      lowWatermark,
		notifier: notifier,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}

// PublishBundle stores b. One-time pre-keys are appended to those still
// unclaimed; the signed pre-key and identity replace the previous ones.
func (h *Hub) PublishBundle(_ context.Context, b domain.PublicKeyBundle) error {
	if b.User == "" || b.SignedPreKey.IsZero() {
		return ErrInvalidBundle
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.bundles[b.User]; ok && prev.IdentityKey == b.IdentityKey {
		b.OneTimePreKeys = mergeKeys(prev.OneTimePreKeys, b.OneTimePreKeys)
	}
	h.bundles[b.User] = b
	h.log.Info("bundle published", zap.String("user", b.User.String()), zap.Int("one_time_prekeys", len(b.OneTimePreKeys)))
	return nil
}

// TakeBundle returns user's bundle for one handshake, removing the one-time
// pre-key it carries. When the remaining supply is low the notifier fires.
func (h *Hub) TakeBundle(ctx context.Context, user domain.UserID) (domain.PreKeyBundle, error) {
	h.mu.Lock()
	b, ok := h.bundles[user]
	if !ok {
		h.mu.Unlock()
		return domain.PreKeyBundle{}, fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}
	var oneTime *domain.X25519Public
	if len(b.OneTimePreKeys) > 0 {
		k := b.OneTimePreKeys[0]
		oneTime = &k
		b.OneTimePreKeys = append([]domain.X25519Public(nil), b.OneTimePreKeys[1:]...)
		h.bundles[user] = b
	}
	status := h.statusLocked(user, b)
	h.mu.Unlock()

	h.metrics.BundleServed(oneTime != nil)
	if status.Low {
		h.notify(ctx, status)
	}
	return b.Handshake(oneTime), nil
}

// Status reports how many one-time pre-keys user has left.
func (h *Hub) Status(user domain.UserID) (domain.PreKeyStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.bundles[user]
	if !ok {
		return domain.PreKeyStatus{}, fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}
	return h.statusLocked(user, b), nil
}

func (h *Hub) statusLocked(user domain.UserID, b domain.PublicKeyBundle) domain.PreKeyStatus {
	n := len(b.OneTimePreKeys)
	return domain.PreKeyStatus{User: user, Remaining: n, Low: n < h.low}
}

func (h *Hub) notify(ctx context.Context, status domain.PreKeyStatus) {
	if h.notifier == nil {
		return
	}
	if err := h.notifier.NotifyLowPreKeys(ctx, status); err != nil {
		h.log.Warn("low pre-key signal failed", zap.String("user", status.User.String()), zap.Error(err))
	}
}

// Enqueue appends d to the recipient's inbox, stamping it if the sender did
// not. A non-empty CollapseID replaces an earlier queued delivery from the
// same sender with the same id instead.
func (h *Hub) Enqueue(d domain.Delivery, hint domain.DeliveryHint) error {
	if d.To == "" {
		return errors.New("relay: delivery without recipient")
	}
	if d.Timestamp == 0 {
		d.Timestamp = h.now().Unix()
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	inbox := h.inboxes[d.To]
	if hint.CollapseID != "" {
		for i := range inbox {
			if inbox[i].hint.CollapseID == hint.CollapseID && inbox[i].delivery.From == d.From {
				inbox[i] = queued{delivery: d, hint: hint}
				return nil
			}
		}
	}
	h.inboxes[d.To] = append(inbox, queued{delivery: d, hint: hint})
	return nil
}

// Fetch returns up to limit queued deliveries for user without removing them.
func (h *Hub) Fetch(user domain.UserID, limit int) []domain.Delivery {
	h.mu.Lock()
	defer h.mu.Unlock()
	inbox := h.inboxes[user]
	if limit <= 0 || limit > len(inbox) {
		limit = len(inbox)
	}
	out := make([]domain.Delivery, 0, limit)
	for _, q := range inbox[:limit] {
		out = append(out, q.delivery)
	}
	return out
}

// Ack drops the first count deliveries of user's inbox.
func (h *Hub) Ack(user domain.UserID, count int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inbox := h.inboxes[user]
	if count > len(inbox) {
		count = len(inbox)
	}
	if count <= 0 {
		return
	}
	h.inboxes[user] = append([]queued(nil), inbox[count:]...)
}

func mergeKeys(old, fresh []domain.X25519Public) []domain.X25519Public {
	seen := make(map[domain.X25519Public]struct{}, len(old)+len(fresh))
	out := make([]domain.X25519Public, 0, len(old)+len(fresh))
	for _, k := range append(append([]domain.X25519Public(nil), old...), fresh...) {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
