package identity

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"waypoint/internal/crypto"
	"waypoint/internal/domain"
	"waypoint/internal/metrics"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
)

// Service manages the local key material on top of a domain.KeyStore.
//
// The identity contains:
//   - X25519 key pair for Diffie-Hellman (X3DH).
//   - Ed25519 key pair for signing (for example, signing the Signed Pre-Key).
//
// Creation paths are serialised by a mutex so that concurrent first calls
// agree on one identity and one signed pre-key. One-time pre-key
// consumption relies on the store's atomic check-and-delete.
type Service struct {
	store   domain.KeyStore
	log     *zap.Logger
	metrics *metrics.Crypto
	now     func() time.Time

	mu sync.Mutex
}

// New returns an identity service backed by the given store.
func New(store domain.KeyStore, log *zap.Logger, m *metrics.Crypto) *Service {
	return &Service{store: store, log: log, metrics: m, now: time.Now}
}

// LoadOrCreateIdentity returns the stored identity, generating and
// persisting one on first use.
func (s *Service) LoadOrCreateIdentity(ctx context.Context) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadOrCreateIdentity(ctx)
}

func (s *Service) loadOrCreateIdentity(ctx context.Context) (domain.Identity, error) {
	id, ok, err := s.store.LoadIdentity(ctx)
	if err != nil {
		return domain.Identity{}, err
	}
	if ok {
		return id, nil
	}

	xPriv, xPub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.Identity{}, err
	}
	edPriv, edPub, err := crypto.GenerateEd25519()
	if err != nil {
		return domain.Identity{}, err
	}
	stored, err := s.store.CreateIdentityIfAbsent(ctx, domain.Identity{
		XPub:       xPub,
		XPriv:      xPriv,
		EdPub:      edPub,
		EdPriv:     edPriv,
		CreatedUTC: s.now().Unix(),
	})
	if err != nil {
		return domain.Identity{}, err
	}
	s.log.Info("identity created", zap.String("fingerprint", fingerprint(stored).String()))
	return stored, nil
}

// LoadOrCreateSignedPreKey returns the current signed pre-key, minting and
// signing one with signer if none exists yet.
func (s *Service) LoadOrCreateSignedPreKey(
	ctx context.Context,
	signer domain.Signer,
) (domain.SignedPreKeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok, err := s.store.CurrentSignedPreKeyID(ctx)
	if err != nil {
		return domain.SignedPreKeyPair{}, err
	}
	if ok {
		spk, found, err := s.store.LoadSignedPreKey(ctx, id)
		if err != nil {
			return domain.SignedPreKeyPair{}, err
		}
		if found {
			return spk, nil
		}
		s.log.Warn("current signed pre-key missing, minting a new one", zap.String("id", id.String()))
	}
	return s.mintSignedPreKey(ctx, signer)
}

// RotateSignedPreKey mints a new signed pre-key and makes it current.
// Older signed pre-keys stay loadable so in-flight invitations complete.
func (s *Service) RotateSignedPreKey(ctx context.Context, signer domain.Signer) (domain.SignedPreKeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mintSignedPreKey(ctx, signer)
}

func (s *Service) mintSignedPreKey(ctx context.Context, signer domain.Signer) (domain.SignedPreKeyPair, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.SignedPreKeyPair{}, err
	}
	spk := domain.SignedPreKeyPair{
		ID:         domain.SignedPreKeyID("spk-" + uuid.NewString()),
		Priv:       priv,
		Pub:        pub,
		Signature:  signer.Sign(pub.Slice()),
		CreatedUTC: s.now().Unix(),
	}
	if err := s.store.SaveSignedPreKey(ctx, spk); err != nil {
		return domain.SignedPreKeyPair{}, err
	}
	if err := s.store.SetCurrentSignedPreKeyID(ctx, spk.ID); err != nil {
		return domain.SignedPreKeyPair{}, err
	}
	s.log.Info("signed pre-key created", zap.String("id", spk.ID.String()))
	return spk, nil
}

// LoadSignedPreKey returns the signed pre-key with id, current or not.
func (s *Service) LoadSignedPreKey(ctx context.Context, id domain.SignedPreKeyID) (domain.SignedPreKeyPair, error) {
	spk, ok, err := s.store.LoadSignedPreKey(ctx, id)
	if err != nil {
		return domain.SignedPreKeyPair{}, err
	}
	if !ok {
		return domain.SignedPreKeyPair{}, fmt.Errorf("%w: %s", domain.ErrSignedPreKeyMissing, id)
	}
	return spk, nil
}

// GenerateOneTimePreKeys persists count fresh pairs and returns their public halves.
func (s *Service) GenerateOneTimePreKeys(ctx context.Context, count int) ([]domain.X25519Public, error) {
	pairs := make([]domain.OneTimePreKeyPair, 0, count)
	publics := make([]domain.X25519Public, 0, count)
	for i := 0; i < count; i++ {
		priv, pub, err := crypto.GenerateX25519()
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, domain.OneTimePreKeyPair{Priv: priv, Pub: pub})
		publics = append(publics, pub)
	}
	if err := s.store.SaveOneTimePreKeys(ctx, pairs); err != nil {
		return nil, err
	}
	s.metrics.PreKeysGenerated(count)
	s.log.Info("one-time pre-keys generated", zap.Int("count", count))
	return publics, nil
}

// ConsumeOneTimePreKey atomically removes pub and returns its private half.
// It fails with domain.ErrOneTimePreKeyMissing if pub is unknown or spent.
func (s *Service) ConsumeOneTimePreKey(ctx context.Context, pub domain.X25519Public) (domain.X25519Private, error) {
	pair, ok, err := s.store.ConsumeOneTimePreKey(ctx, pub)
	if err != nil {
		return domain.X25519Private{}, err
	}
	if !ok {
		return domain.X25519Private{}, domain.ErrOneTimePreKeyMissing
	}
	s.metrics.PreKeyConsumed()
	return pair.Priv, nil
}

// DeleteOneTimePreKey removes pub; deleting an already consumed key is a no-op.
func (s *Service) DeleteOneTimePreKey(ctx context.Context, pub domain.X25519Public) error {
	return s.store.DeleteOneTimePreKey(ctx, pub)
}

// CountOneTimePreKeys returns how many unconsumed pairs are held locally.
func (s *Service) CountOneTimePreKeys(ctx context.Context) (int, error) {
	pubs, err := s.store.ListOneTimePreKeyPublics(ctx)
	return len(pubs), err
}

// Signer returns a signer backed by the identity's Ed25519 key.
func (s *Service) Signer(ctx context.Context) (domain.Signer, error) {
	id, err := s.LoadOrCreateIdentity(ctx)
	if err != nil {
		return nil, err
	}
	return identitySigner{pub: id.EdPub, priv: id.EdPriv}, nil
}

// Fingerprint returns a short fingerprint over the identity's public keys,
// for out-of-band comparison.
func (s *Service) Fingerprint(ctx context.Context) (domain.Fingerprint, error) {
	id, err := s.LoadOrCreateIdentity(ctx)
	if err != nil {
		return "", err
	}
	return fingerprint(id), nil
}

// FingerprintOf computes the same fingerprint for a peer's published keys.
func FingerprintOf(identityKey domain.X25519Public, signingKey domain.Ed25519Public) domain.Fingerprint {
	return domain.Fingerprint(crypto.Fingerprint(identityKey.Slice(), signingKey.Slice()))
}

func fingerprint(id domain.Identity) domain.Fingerprint {
	return FingerprintOf(id.XPub, id.EdPub)
}

type identitySigner struct {
	pub  domain.Ed25519Public
	priv domain.Ed25519Private
}

func (s identitySigner) SigningPublicKey() domain.Ed25519Public { return s.pub }
func (s identitySigner) Sign(message []byte) []byte             { return crypto.SignEd25519(s.priv, message) }

// ValidatePassphrase enforces a basic strength policy.
func ValidatePassphrase(passphrase string) error {
	if !isSecurePassphrase(passphrase) {
		return ErrWeakPassphrase
	}
	return nil
}

func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// Compile-time assertion that Service implements domain.IdentityKeyStore.
var _ domain.IdentityKeyStore = (*Service)(nil)
