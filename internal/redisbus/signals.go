package redisbus

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"waypoint/internal/domain"
)

// Signals carries "running low on one-time pre-keys" over redis pub/sub.
// The relay publishes, clients subscribe.
type Signals struct {
	client redis.UniversalClient
	log    *zap.Logger
}

// NewSignals wraps client.
func NewSignals(client redis.UniversalClient, log *zap.Logger) *Signals {
	return &Signals{client: client, log: log}
}

// NotifyLowPreKeys publishes status on the user's channel.
func (s *Signals) NotifyLowPreKeys(ctx context.Context, status domain.PreKeyStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, lowPreKeysChannel(status.User.String()), payload).Err()
}

// SubscribeLowPreKeys calls handler for every signal published for user
// until ctx is done. Undecodable payloads are logged and dropped.
func (s *Signals) SubscribeLowPreKeys(
	ctx context.Context,
	user domain.UserID,
	handler func(domain.PreKeyStatus),
) error {
	sub := s.client.Subscribe(ctx, lowPreKeysChannel(user.String()))
	defer sub.Close()

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		status, err := decodeStatus(msg.Payload)
		if err != nil {
			s.log.Warn("dropping malformed pre-key signal", zap.String("channel", msg.Channel), zap.Error(err))
			continue
		}
		handler(status)
	}
}

func decodeStatus(payload string) (domain.PreKeyStatus, error) {
	var st domain.PreKeyStatus
	err := json.Unmarshal([]byte(payload), &st)
	return st, err
}

var _ domain.PreKeySignals = (*Signals)(nil)
