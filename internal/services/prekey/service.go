package prekey

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"waypoint/internal/domain"
	"waypoint/internal/metrics"
)

// Renewer mints fresh handshake material. conversation.Service implements it.
type Renewer interface {
	RenewHandshakeKeyMaterial(ctx context.Context, signer domain.Signer) (domain.PublicKeyBundle, error)
}

// Replenisher answers "running low on one-time pre-keys" signals by
// renewing the handshake material and republishing the bundle.
//
// Republishing is attempted once per call; a failed publish is logged and
// returned, never retried here.
type Replenisher struct {
	user      domain.UserID
	renewer   Renewer
	signer    domain.Signer
	publisher domain.BundlePublisher
	signals   domain.PreKeySignals
	log       *zap.Logger
	metrics   *metrics.Crypto

	// mu collapses overlapping signals into sequential renewals.
	mu sync.Mutex
}

// New builds a replenisher for user. signals may be nil when only
// Replenish is used.
func New(
	user domain.UserID,
	renewer Renewer,
	signer domain.Signer,
	publisher domain.BundlePublisher,
	signals domain.PreKeySignals,
	log *zap.Logger,
	m *metrics.Crypto,
) *Replenisher {
	return &Replenisher{
		user:      user,
		renewer:   renewer,
		signer:    signer,
		publisher: publisher,
		signals:   signals,
		log:       log.With(zap.String("user", user.String())),
		metrics:   m,
	}
}

// Replenish renews the handshake material and publishes the new bundle.
func (r *Replenisher) Replenish(ctx context.Context) (domain.PublicKeyBundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bundle, err := r.renewer.RenewHandshakeKeyMaterial(ctx, r.signer)
	if err != nil {
		r.metrics.Replenishment(metrics.ResultError)
		r.log.Error("renewing handshake material failed", zap.Error(err))
		return domain.PublicKeyBundle{}, err
	}
	if err := r.publisher.PublishBundle(ctx, bundle); err != nil {
		r.metrics.Replenishment(metrics.ResultError)
		r.log.Error("publishing bundle failed", zap.Error(err))
		return domain.PublicKeyBundle{}, err
	}
	r.metrics.Replenishment(metrics.ResultOK)
	r.log.Info("bundle published", zap.Int("one_time_prekeys", len(bundle.OneTimePreKeys)))
	return bundle, nil
}

// HandleStatus replenishes when status reports the user as low.
func (r *Replenisher) HandleStatus(ctx context.Context, status domain.PreKeyStatus) error {
	if !status.Low || (status.User != "" && status.User != r.user) {
		return nil
	}
	r.log.Info("one-time pre-keys running low", zap.Int("remaining", status.Remaining))
	_, err := r.Replenish(ctx)
	return err
}

// Run subscribes to low pre-key signals and replenishes on each one until
// ctx is done. Handler failures are logged and do not end the subscription.
func (r *Replenisher) Run(ctx context.Context) error {
	if r.signals == nil {
		return errors.New("prekey: no signal source configured")
	}
	err := r.signals.SubscribeLowPreKeys(ctx, r.user, func(status domain.PreKeyStatus) {
		_ = r.HandleStatus(ctx, status)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
