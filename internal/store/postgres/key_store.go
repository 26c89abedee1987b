package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"waypoint/internal/domain"
	"waypoint/internal/protocol/wire"
)

// KeyStore implements domain.KeyStore for one owner.
type KeyStore struct {
	db     *DB
	owner  string
	sealer Sealer
}

// NewKeyStore constructs a key store scoped to owner.
func NewKeyStore(db *DB, owner domain.UserID, sealer Sealer) *KeyStore {
	return &KeyStore{db: db, owner: string(owner), sealer: sealer}
}

const (
	qSelectIdentity = `SELECT identity_sealed FROM keystore_identities WHERE owner=$1`
	qInsertIdentity = `INSERT INTO keystore_identities (owner, identity_sealed) VALUES ($1,$2) ON CONFLICT (owner) DO NOTHING`

	qUpsertSignedPreKey = `INSERT INTO signed_prekeys (owner, id, pair_sealed) VALUES ($1,$2,$3)
ON CONFLICT (owner, id) DO UPDATE SET pair_sealed = EXCLUDED.pair_sealed`
	qSelectSignedPreKey = `SELECT pair_sealed FROM signed_prekeys WHERE owner=$1 AND id=$2`

	qUpsertCurrentSPK = `INSERT INTO prekey_meta (owner, current_signed_pre_key_id) VALUES ($1,$2)
ON CONFLICT (owner) DO UPDATE SET current_signed_pre_key_id = EXCLUDED.current_signed_pre_key_id`
	qSelectCurrentSPK = `SELECT current_signed_pre_key_id FROM prekey_meta WHERE owner=$1`

	qInsertOneTimePreKey  = `INSERT INTO one_time_prekeys (owner, pub, priv_sealed) VALUES ($1,$2,$3) ON CONFLICT (owner, pub) DO NOTHING`
	qConsumeOneTimePreKey = `DELETE FROM one_time_prekeys WHERE owner=$1 AND pub=$2 RETURNING priv_sealed`
	qDeleteOneTimePreKey  = `DELETE FROM one_time_prekeys WHERE owner=$1 AND pub=$2`
	qListOneTimePreKeys   = `SELECT pub FROM one_time_prekeys WHERE owner=$1 ORDER BY pub`
)

// LoadIdentity returns the owner's identity, if any.
func (s *KeyStore) LoadIdentity(ctx context.Context) (domain.Identity, bool, error) {
	var sealed []byte
	err := s.db.Pool.QueryRow(ctx, qSelectIdentity, s.owner).Scan(&sealed)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Identity{}, false, nil
	}
	if err != nil {
		return domain.Identity{}, false, domain.Storage("load identity", err)
	}
	var id domain.Identity
	if err := s.open(s.name("identity"), sealed, &id); err != nil {
		return domain.Identity{}, false, domain.Storage("load identity", err)
	}
	return id, true, nil
}

// CreateIdentityIfAbsent inserts id unless the owner already has one and
// returns whichever identity is stored.
func (s *KeyStore) CreateIdentityIfAbsent(ctx context.Context, id domain.Identity) (domain.Identity, error) {
	sealed, err := s.seal(s.name("identity"), id)
	if err != nil {
		return domain.Identity{}, err
	}
	if _, err := s.db.Pool.Exec(ctx, qInsertIdentity, s.owner, sealed); err != nil {
		return domain.Identity{}, domain.Storage("create identity", err)
	}
	stored, ok, err := s.LoadIdentity(ctx)
	if err != nil {
		return domain.Identity{}, err
	}
	if !ok {
		return domain.Identity{}, domain.Storage("create identity", errors.New("identity vanished after insert"))
	}
	return stored, nil
}

// SaveSignedPreKey upserts spk by id.
func (s *KeyStore) SaveSignedPreKey(ctx context.Context, spk domain.SignedPreKeyPair) error {
	sealed, err := s.seal(s.name("spk", string(spk.ID)), spk)
	if err != nil {
		return err
	}
	if _, err := s.db.Pool.Exec(ctx, qUpsertSignedPreKey, s.owner, string(spk.ID), sealed); err != nil {
		return domain.Storage("save signed pre-key", err)
	}
	return nil
}

// LoadSignedPreKey returns the signed pre-key with id.
func (s *KeyStore) LoadSignedPreKey(
	ctx context.Context,
	id domain.SignedPreKeyID,
) (domain.SignedPreKeyPair, bool, error) {
	var sealed []byte
	err := s.db.Pool.QueryRow(ctx, qSelectSignedPreKey, s.owner, string(id)).Scan(&sealed)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SignedPreKeyPair{}, false, nil
	}
	if err != nil {
		return domain.SignedPreKeyPair{}, false, domain.Storage("load signed pre-key", err)
	}
	var spk domain.SignedPreKeyPair
	if err := s.open(s.name("spk", string(id)), sealed, &spk); err != nil {
		return domain.SignedPreKeyPair{}, false, domain.Storage("load signed pre-key", err)
	}
	return spk, true, nil
}

// SetCurrentSignedPreKeyID records which signed pre-key is current.
func (s *KeyStore) SetCurrentSignedPreKeyID(ctx context.Context, id domain.SignedPreKeyID) error {
	if _, err := s.db.Pool.Exec(ctx, qUpsertCurrentSPK, s.owner, string(id)); err != nil {
		return domain.Storage("set current signed pre-key", err)
	}
	return nil
}

// CurrentSignedPreKeyID returns the current signed pre-key id.
func (s *KeyStore) CurrentSignedPreKeyID(ctx context.Context) (domain.SignedPreKeyID, bool, error) {
	var id string
	err := s.db.Pool.QueryRow(ctx, qSelectCurrentSPK, s.owner).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.Storage("load current signed pre-key", err)
	}
	return domain.SignedPreKeyID(id), true, nil
}

// SaveOneTimePreKeys inserts the batch in one transaction.
func (s *KeyStore) SaveOneTimePreKeys(ctx context.Context, pairs []domain.OneTimePreKeyPair) error {
	sealed := make([][]byte, len(pairs))
	for i, p := range pairs {
		b, err := s.sealer.Seal(s.name("opk", p.Pub.String()), p.Priv.Slice())
		if err != nil {
			return err
		}
		sealed[i] = b
	}

	err := s.db.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for i, p := range pairs {
			if _, err := tx.Exec(ctx, qInsertOneTimePreKey, s.owner, p.Pub.Slice(), sealed[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Storage("save one-time pre-keys", err)
	}
	return nil
}

// ConsumeOneTimePreKey deletes and returns the pair for pub in one
// statement, so two concurrent consumers can never both receive it.
func (s *KeyStore) ConsumeOneTimePreKey(
	ctx context.Context,
	pub domain.X25519Public,
) (domain.OneTimePreKeyPair, bool, error) {
	var sealed []byte
	err := s.db.Pool.QueryRow(ctx, qConsumeOneTimePreKey, s.owner, pub.Slice()).Scan(&sealed)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OneTimePreKeyPair{}, false, nil
	}
	if err != nil {
		return domain.OneTimePreKeyPair{}, false, domain.Storage("consume one-time pre-key", err)
	}
	raw, err := s.sealer.Open(s.name("opk", pub.String()), sealed)
	if err != nil {
		return domain.OneTimePreKeyPair{}, false, domain.Storage("consume one-time pre-key", err)
	}
	pair := domain.OneTimePreKeyPair{Pub: pub}
	if len(raw) != len(pair.Priv) {
		return domain.OneTimePreKeyPair{}, false, domain.Storage("consume one-time pre-key",
			fmt.Errorf("private key length %d", len(raw)))
	}
	copy(pair.Priv[:], raw)
	return pair, true, nil
}

// DeleteOneTimePreKey removes pub; deleting a missing key is not an error.
func (s *KeyStore) DeleteOneTimePreKey(ctx context.Context, pub domain.X25519Public) error {
	if _, err := s.db.Pool.Exec(ctx, qDeleteOneTimePreKey, s.owner, pub.Slice()); err != nil {
		return domain.Storage("delete one-time pre-key", err)
	}
	return nil
}

// ListOneTimePreKeyPublics returns the remaining public halves.
func (s *KeyStore) ListOneTimePreKeyPublics(ctx context.Context) ([]domain.X25519Public, error) {
	rows, err := s.db.Pool.Query(ctx, qListOneTimePreKeys, s.owner)
	if err != nil {
		return nil, domain.Storage("list one-time pre-keys", err)
	}
	defer rows.Close()

	var out []domain.X25519Public
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, domain.Storage("list one-time pre-keys", err)
		}
		var pub domain.X25519Public
		copy(pub[:], raw)
		out = append(out, pub)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storage("list one-time pre-keys", err)
	}
	return out, nil
}

// name binds a sealed column to its owner and row.
func (s *KeyStore) name(parts ...string) string {
	out := "keystore|" + s.owner
	for _, p := range parts {
		out += "|" + p
	}
	return out
}

func (s *KeyStore) seal(name string, v any) ([]byte, error) {
	raw, err := wire.Marshal(v)
	if err != nil {
		return nil, err
	}
	return s.sealer.Seal(name, raw)
}

func (s *KeyStore) open(name string, sealed []byte, out any) error {
	raw, err := s.sealer.Open(name, sealed)
	if err != nil {
		return err
	}
	return wire.Unmarshal(raw, out)
}

// Compile-time assertion that KeyStore implements domain.KeyStore.
var _ domain.KeyStore = (*KeyStore)(nil)
