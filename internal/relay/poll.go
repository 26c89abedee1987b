package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"waypoint/internal/domain"
)

// StatusSource reports a user's remaining one-time pre-keys.
type StatusSource interface {
	PreKeyStatus(ctx context.Context, user domain.UserID) (domain.PreKeyStatus, error)
}

// PollSignals turns periodic status checks into low pre-key signals, for
// relays that cannot push.
type PollSignals struct {
	source   StatusSource
	interval time.Duration
	log      *zap.Logger
}

// NewPollSignals checks source every interval.
func NewPollSignals(source StatusSource, interval time.Duration, log *zap.Logger) *PollSignals {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PollSignals{source: source, interval: interval, log: log}
}

// SubscribeLowPreKeys checks once immediately and then on every tick until
// ctx is done. Failed checks are logged and retried on the next tick.
func (p *PollSignals) SubscribeLowPreKeys(
	ctx context.Context,
	user domain.UserID,
	handler func(domain.PreKeyStatus),
) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		st, err := p.source.PreKeyStatus(ctx, user)
		switch {
		case err != nil:
			p.log.Warn("pre-key status check failed", zap.String("user", user.String()), zap.Error(err))
		case st.Low:
			handler(st)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ domain.PreKeySignals = (*PollSignals)(nil)
