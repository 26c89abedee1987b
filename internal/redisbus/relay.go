package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"waypoint/internal/domain"
)

// ErrNoBundle is returned when a user has not published a bundle.
var ErrNoBundle = errors.New("redisbus: no bundle published")

// Notifier receives low pre-key signals; Signals implements it.
type Notifier interface {
	NotifyLowPreKeys(ctx context.Context, status domain.PreKeyStatus) error
}

type inboxEntry struct {
	Delivery domain.Delivery     `json:"delivery"`
	Hint     domain.DeliveryHint `json:"hint"`
}

// Relay implements domain.Relay directly on redis: a key directory under
// bundle:{user} and FIFO inboxes under inbox:{user}. One-time pre-keys are
// popped atomically, so each is handed out at most once.
type Relay struct {
	client   redis.UniversalClient
	low      int
	notifier Notifier
}

// NewRelay wraps client. notifier may be nil.
func NewRelay(client redis.UniversalClient, lowWatermark int, notifier Notifier) *Relay {
	return &Relay{client: client, low: lowWatermark, notifier: notifier}
}

// publishAttempts bounds the WATCH retries of PublishBundle.
const publishAttempts = 3

// PublishBundle stores the bundle. One-time pre-keys are appended to those
// still unclaimed while the identity key is unchanged; a new identity
// discards the old list in the same transaction.
func (r *Relay) PublishBundle(ctx context.Context, b domain.PublicKeyBundle) error {
	user := b.User.String()
	oneTime := b.OneTimePreKeys
	b.OneTimePreKeys = nil
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}

	publish := func(tx *redis.Tx) error {
		replace, err := identityChanged(ctx, tx, user, b.IdentityKey)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, bundleKey(user), raw, 0)
			if replace {
				p.Del(ctx, oneTimeKey(user))
			}
			if len(oneTime) > 0 {
				keys := make([]any, 0, len(oneTime))
				for _, k := range oneTime {
					keys = append(keys, k.String())
				}
				p.RPush(ctx, oneTimeKey(user), keys...)
			}
			return nil
		})
		return err
	}

	for range publishAttempts {
		err = r.client.Watch(ctx, publish, bundleKey(user))
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// identityChanged reports whether the stored bundle of user carries an
// identity other than identity. A missing bundle counts as changed.
func identityChanged(ctx context.Context, tx *redis.Tx, user string, identity domain.X25519Public) (bool, error) {
	raw, err := tx.Get(ctx, bundleKey(user)).Bytes()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	var prev domain.PublicKeyBundle
	if err := json.Unmarshal(raw, &prev); err != nil {
		return false, err
	}
	return prev.IdentityKey != identity, nil
}

// FetchBundle returns user's bundle with one one-time pre-key, if any remain.
func (r *Relay) FetchBundle(ctx context.Context, user domain.UserID) (domain.PreKeyBundle, error) {
	raw, err := r.client.Get(ctx, bundleKey(user.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PreKeyBundle{}, fmt.Errorf("%w: %s", ErrNoBundle, user)
	}
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	var b domain.PublicKeyBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return domain.PreKeyBundle{}, err
	}

	var oneTime *domain.X25519Public
	encoded, err := r.client.LPop(ctx, oneTimeKey(user.String())).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return domain.PreKeyBundle{}, err
	default:
		var k domain.X25519Public
		if err := k.UnmarshalText([]byte(encoded)); err != nil {
			return domain.PreKeyBundle{}, err
		}
		oneTime = &k
	}

	if r.notifier != nil {
		if st, err := r.PreKeyStatus(ctx, user); err == nil && st.Low {
			_ = r.notifier.NotifyLowPreKeys(ctx, st)
		}
	}
	return b.Handshake(oneTime), nil
}

// PreKeyStatus counts the unclaimed one-time pre-keys of user.
func (r *Relay) PreKeyStatus(ctx context.Context, user domain.UserID) (domain.PreKeyStatus, error) {
	n, err := r.client.LLen(ctx, oneTimeKey(user.String())).Result()
	if err != nil {
		return domain.PreKeyStatus{}, err
	}
	return domain.PreKeyStatus{User: user, Remaining: int(n), Low: int(n) < r.low}, nil
}

// Deliver appends d to the recipient's inbox. The hint travels with the
// entry; ordering is always FIFO.
func (r *Relay) Deliver(ctx context.Context, d domain.Delivery, hint domain.DeliveryHint) error {
	raw, err := json.Marshal(inboxEntry{Delivery: d, Hint: hint})
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, inboxKey(d.To.String()), raw).Err()
}

// FetchDeliveries reads up to limit deliveries without removing them.
func (r *Relay) FetchDeliveries(ctx context.Context, user domain.UserID, limit int) ([]domain.Delivery, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	items, err := r.client.LRange(ctx, inboxKey(user.String()), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Delivery, 0, len(items))
	for _, item := range items {
		var e inboxEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("inbox %s: %w", user, err)
		}
		out = append(out, e.Delivery)
	}
	return out, nil
}

// AckDeliveries drops the first count deliveries.
func (r *Relay) AckDeliveries(ctx context.Context, user domain.UserID, count int) error {
	if count <= 0 {
		return nil
	}
	return r.client.LTrim(ctx, inboxKey(user.String()), int64(count), -1).Err()
}

var _ domain.Relay = (*Relay)(nil)
