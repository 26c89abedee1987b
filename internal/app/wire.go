package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"waypoint/internal/domain"
	"waypoint/internal/logger"
	"waypoint/internal/metrics"
	"waypoint/internal/migrate"
	"waypoint/internal/redisbus"
	"waypoint/internal/relay"
	"waypoint/internal/services/conversation"
	"waypoint/internal/services/identity"
	"waypoint/internal/services/message"
	"waypoint/internal/services/prekey"
	"waypoint/internal/store"
	"waypoint/internal/store/postgres"
)

// ErrNoRelay is returned by operations that need a backend when neither a
// relay URL nor a redis address is configured.
var ErrNoRelay = errors.New("no relay configured (WAYPOINT_RELAY_URL, WAYPOINT_REDIS_ADDR or --relay)")

// Wire bundles all stores, services, and clients for the CLI.
type Wire struct {
	Config   Config
	Log      *zap.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Crypto

	Keys          *identity.Service
	Conversations *conversation.Service
	Messages      *message.Service // nil without a relay
	Relay         domain.Relay     // nil without a relay
	Signals       domain.PreKeySignals

	closers []func()
}

// NewWire constructs the dependency graph from cfg.
func NewWire(ctx context.Context, cfg Config) (_ *Wire, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	log = log.With(zap.String("user", cfg.User.String()))

	w := &Wire{Config: cfg, Log: log, Registry: prometheus.NewRegistry()}
	w.closers = append(w.closers, func() { _ = log.Sync() })
	defer func() {
		if err != nil {
			w.Close()
		}
	}()
	w.Metrics = metrics.New(w.Registry)

	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, err
	}
	sealer, err := store.OpenSealer(cfg.Home, cfg.Passphrase, cfg.Scrypt)
	if err != nil {
		return nil, err
	}

	keyStore, convStore, err := w.openStores(ctx, sealer)
	if err != nil {
		return nil, err
	}

	w.Keys = identity.New(keyStore, log, w.Metrics)
	w.Conversations = conversation.New(cfg.User, w.Keys, convStore, cfg.Conversation, log, w.Metrics)

	if err := w.openRelay(ctx); err != nil {
		return nil, err
	}
	if w.Relay != nil {
		w.Messages = message.New(cfg.User, w.Conversations, w.Relay, log, w.Metrics)
	}
	return w, nil
}

func (w *Wire) openStores(ctx context.Context, sealer *store.Sealer) (domain.KeyStore, domain.ConversationStore, error) {
	cfg := w.Config
	switch cfg.Store {
	case StorePostgres:
		if err := migrate.Up(ctx, cfg.PostgresDSN); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		db, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		w.closers = append(w.closers, db.Close)
		return postgres.NewKeyStore(db, cfg.User, sealer), postgres.NewConversationStore(db, cfg.User, sealer), nil
	default:
		ks, err := store.NewKeyFileStore(cfg.Home, sealer)
		if err != nil {
			return nil, nil, err
		}
		cs, err := store.NewConversationFileStore(cfg.Home, sealer)
		if err != nil {
			return nil, nil, err
		}
		return ks, cs, nil
	}
}

func (w *Wire) openRelay(ctx context.Context) error {
	cfg := w.Config
	var signals *redisbus.Signals
	if cfg.Redis.Addr != "" {
		client, err := redisbus.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		w.closers = append(w.closers, func() { _ = client.Close() })
		signals = redisbus.NewSignals(client, w.Log)
		w.Signals = signals
		if cfg.RelayURL == "" {
			w.Relay = redisbus.NewRelay(client, relay.DefaultLowWatermark, signals)
		}
	}
	if cfg.RelayURL != "" {
		w.Relay = relay.NewHTTP(cfg.RelayURL)
	}
	if w.Signals == nil && w.Relay != nil {
		w.Signals = relay.NewPollSignals(w.Relay, cfg.PollInterval, w.Log)
	}
	return nil
}

// RequireRelay returns ErrNoRelay when no backend is configured.
func (w *Wire) RequireRelay() error {
	if w.Relay == nil {
		return ErrNoRelay
	}
	if w.Config.User == "" {
		return errors.New("user is not set (WAYPOINT_USER or --user)")
	}
	return nil
}

// Replenisher builds the pre-key replenisher. It loads or creates the
// identity, whose signing key signs the renewed pre-keys.
func (w *Wire) Replenisher(ctx context.Context) (*prekey.Replenisher, error) {
	if err := w.RequireRelay(); err != nil {
		return nil, err
	}
	signer, err := w.Keys.Signer(ctx)
	if err != nil {
		return nil, err
	}
	return prekey.New(w.Config.User, w.Conversations, signer, w.Relay, w.Signals, w.Log, w.Metrics), nil
}

// Close releases pools and connections in reverse order of creation.
func (w *Wire) Close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
	w.closers = nil
}
