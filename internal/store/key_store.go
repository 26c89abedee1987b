package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"waypoint/internal/domain"
)

const (
	identityFile   = "identity.json.enc"
	spkPairsFile   = "spk_pairs.json.enc"
	opkPairsFile   = "opk_pairs.json.enc"
	prekeyMetaFile = "prekey_meta.json"
)

// KeyFileStore persists identity and pre-key material as sealed files.
// One mutex covers every file so that consume is an atomic read-delete-write.
type KeyFileStore struct {
	dir    string
	sealer *Sealer
	mu     sync.Mutex
}

// NewKeyFileStore returns a KeyFileStore rooted at dir, creating it if needed.
func NewKeyFileStore(dir string, sealer *Sealer) (*KeyFileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, domain.Storage("create key dir", err)
	}
	return &KeyFileStore{dir: dir, sealer: sealer}, nil
}

type prekeyMeta struct {
	CurrentSignedPreKeyID domain.SignedPreKeyID `json:"current_signed_pre_key_id"`
}

// LoadIdentity returns the stored identity, if any.
func (s *KeyFileStore) LoadIdentity(_ context.Context) (domain.Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadIdentity()
}

func (s *KeyFileStore) loadIdentity() (domain.Identity, bool, error) {
	var id domain.Identity
	ok, err := readSealed(s.sealer, s.path(identityFile), &id)
	if err != nil {
		return domain.Identity{}, false, domain.Storage("load identity", err)
	}
	return id, ok, nil
}

// CreateIdentityIfAbsent stores id unless one exists and returns the stored identity.
func (s *KeyFileStore) CreateIdentityIfAbsent(_ context.Context, id domain.Identity) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok, err := s.loadIdentity()
	if err != nil {
		return domain.Identity{}, err
	}
	if ok {
		return existing, nil
	}
	if err := writeSealed(s.sealer, s.path(identityFile), id); err != nil {
		return domain.Identity{}, domain.Storage("save identity", err)
	}
	return id, nil
}

// SaveSignedPreKey stores a signed pre-key by id.
func (s *KeyFileStore) SaveSignedPreKey(_ context.Context, spk domain.SignedPreKeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.signedPreKeys()
	if err != nil {
		return err
	}
	m[spk.ID] = spk
	if err := writeSealed(s.sealer, s.path(spkPairsFile), m); err != nil {
		return domain.Storage("save signed pre-key", err)
	}
	return nil
}

// LoadSignedPreKey retrieves a signed pre-key by id.
func (s *KeyFileStore) LoadSignedPreKey(
	_ context.Context,
	id domain.SignedPreKeyID,
) (domain.SignedPreKeyPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.signedPreKeys()
	if err != nil {
		return domain.SignedPreKeyPair{}, false, err
	}
	spk, ok := m[id]
	return spk, ok, nil
}

func (s *KeyFileStore) signedPreKeys() (map[domain.SignedPreKeyID]domain.SignedPreKeyPair, error) {
	m := map[domain.SignedPreKeyID]domain.SignedPreKeyPair{}
	if _, err := readSealed(s.sealer, s.path(spkPairsFile), &m); err != nil {
		return nil, domain.Storage("load signed pre-keys", err)
	}
	return m, nil
}

// SetCurrentSignedPreKeyID records which signed pre-key id is current.
func (s *KeyFileStore) SetCurrentSignedPreKeyID(_ context.Context, id domain.SignedPreKeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSON(s.path(prekeyMetaFile), prekeyMeta{CurrentSignedPreKeyID: id}, 0o600); err != nil {
		return domain.Storage("save pre-key meta", err)
	}
	return nil
}

// CurrentSignedPreKeyID returns the recorded current signed pre-key id.
func (s *KeyFileStore) CurrentSignedPreKeyID(_ context.Context) (domain.SignedPreKeyID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var meta prekeyMeta
	if err := readJSON(s.path(prekeyMetaFile), &meta); err != nil {
		return "", false, domain.Storage("load pre-key meta", err)
	}
	if meta.CurrentSignedPreKeyID == "" {
		return "", false, nil
	}
	return meta.CurrentSignedPreKeyID, true, nil
}

// SaveOneTimePreKeys merges the provided one-time pre-key pairs into the store.
func (s *KeyFileStore) SaveOneTimePreKeys(_ context.Context, pairs []domain.OneTimePreKeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.oneTimePreKeys()
	if err != nil {
		return err
	}
	for _, p := range pairs {
		m[p.Pub.String()] = p
	}
	return s.writeOneTimePreKeys(m)
}

// ConsumeOneTimePreKey removes and returns the pair for pub. ok is false if
// it was never stored or has already been consumed.
func (s *KeyFileStore) ConsumeOneTimePreKey(
	_ context.Context,
	pub domain.X25519Public,
) (domain.OneTimePreKeyPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.oneTimePreKeys()
	if err != nil {
		return domain.OneTimePreKeyPair{}, false, err
	}
	p, ok := m[pub.String()]
	if !ok {
		return domain.OneTimePreKeyPair{}, false, nil
	}
	delete(m, pub.String())
	if err := s.writeOneTimePreKeys(m); err != nil {
		return domain.OneTimePreKeyPair{}, false, err
	}
	return p, true, nil
}

// DeleteOneTimePreKey removes pub if present.
func (s *KeyFileStore) DeleteOneTimePreKey(_ context.Context, pub domain.X25519Public) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.oneTimePreKeys()
	if err != nil {
		return err
	}
	if _, ok := m[pub.String()]; !ok {
		return nil
	}
	delete(m, pub.String())
	return s.writeOneTimePreKeys(m)
}

// ListOneTimePreKeyPublics exposes only the public halves, in a stable order.
func (s *KeyFileStore) ListOneTimePreKeyPublics(_ context.Context) ([]domain.X25519Public, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.oneTimePreKeys()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]domain.X25519Public, 0, len(m))
	for _, k := range keys {
		out = append(out, m[k].Pub)
	}
	return out, nil
}

func (s *KeyFileStore) oneTimePreKeys() (map[string]domain.OneTimePreKeyPair, error) {
	m := map[string]domain.OneTimePreKeyPair{}
	if _, err := readSealed(s.sealer, s.path(opkPairsFile), &m); err != nil {
		return nil, domain.Storage("load one-time pre-keys", err)
	}
	return m, nil
}

func (s *KeyFileStore) writeOneTimePreKeys(m map[string]domain.OneTimePreKeyPair) error {
	if err := writeSealed(s.sealer, s.path(opkPairsFile), m); err != nil {
		return domain.Storage("save one-time pre-keys", err)
	}
	return nil
}

func (s *KeyFileStore) path(name string) string { return filepath.Join(s.dir, name) }

// Compile-time assertion that KeyFileStore implements domain.KeyStore.
var _ domain.KeyStore = (*KeyFileStore)(nil)
