package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"waypoint/internal/domain"
	"waypoint/internal/protocol/wire"
)

// ConversationStore implements domain.ConversationStore for one owner. The
// ratchet state row and its skipped keys are replaced in one transaction.
type ConversationStore struct {
	db     *DB
	owner  string
	sealer Sealer
}

// NewConversationStore constructs a conversation store scoped to owner.
func NewConversationStore(db *DB, owner domain.UserID, sealer Sealer) *ConversationStore {
	return &ConversationStore{db: db, owner: string(owner), sealer: sealer}
}

const (
	qSelectConversation = `SELECT state_sealed, version, created_utc, updated_utc FROM conversations
WHERE owner=$1 AND peer=$2 AND conversation=$3`
	qLockConversation = `SELECT version FROM conversations
WHERE owner=$1 AND peer=$2 AND conversation=$3 FOR UPDATE`
	qSelectSkipped = `SELECT ratchet_key, message_index, key_sealed, created_utc FROM skipped_message_keys
WHERE owner=$1 AND peer=$2 AND conversation=$3 ORDER BY seq`
	qUpsertConversation = `INSERT INTO conversations (owner, peer, conversation, state_sealed, version, created_utc, updated_utc)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (owner, peer, conversation) DO UPDATE SET state_sealed = EXCLUDED.state_sealed,
version = EXCLUDED.version, created_utc = EXCLUDED.created_utc, updated_utc = EXCLUDED.updated_utc`
	qDeleteSkipped = `DELETE FROM skipped_message_keys WHERE owner=$1 AND peer=$2 AND conversation=$3`
	qInsertSkipped = `INSERT INTO skipped_message_keys
(owner, peer, conversation, seq, ratchet_key, message_index, key_sealed, created_utc)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	qConversationExists = `SELECT EXISTS (SELECT 1 FROM conversations WHERE owner=$1 AND peer=$2 AND conversation=$3)`
	qDeleteConversation = `DELETE FROM conversations WHERE owner=$1 AND peer=$2 AND conversation=$3`
)

var readOnly = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

// LoadConversation reads the state row and its skipped keys from one snapshot.
func (s *ConversationStore) LoadConversation(
	ctx context.Context,
	key domain.ConversationKey,
) (domain.Conversation, bool, error) {
	var (
		conv  = domain.Conversation{Key: key}
		found bool
	)
	err := s.db.inTx(ctx, readOnly, func(tx pgx.Tx) error {
		var sealed []byte
		err := tx.QueryRow(ctx, qSelectConversation, s.owner, string(key.Peer), string(key.Conversation)).
			Scan(&sealed, &conv.Version, &conv.CreatedUTC, &conv.UpdatedUTC)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err := s.sealer.Open(s.stateName(key), sealed)
		if err != nil {
			return err
		}
		if err := wire.Unmarshal(raw, &conv.State); err != nil {
			return err
		}
		found = true
		conv.Skipped, err = s.loadSkipped(ctx, tx, key)
		return err
	})
	if err != nil {
		return domain.Conversation{}, false, domain.Storage("load conversation", err)
	}
	if !found {
		return domain.Conversation{}, false, nil
	}
	return conv, true, nil
}

// SaveConversation replaces the state row and all skipped keys atomically.
// The row is locked first; a non-zero Version that no longer matches the
// stored one aborts the transaction with domain.ErrConcurrentUpdate.
func (s *ConversationStore) SaveConversation(ctx context.Context, conversation domain.Conversation) error {
	key := conversation.Key
	raw, err := wire.Marshal(conversation.State)
	if err != nil {
		return domain.Storage("save conversation", err)
	}
	sealed, err := s.sealer.Seal(s.stateName(key), raw)
	if err != nil {
		return domain.Storage("save conversation", err)
	}

	err = s.db.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var stored int64
		err := tx.QueryRow(ctx, qLockConversation, s.owner, string(key.Peer), string(key.Conversation)).Scan(&stored)
		found := err == nil
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		if conversation.Version != 0 && (!found || stored != conversation.Version) {
			return fmt.Errorf("%w: %s at version %d, stored %d", domain.ErrConcurrentUpdate, key, conversation.Version, stored)
		}

		if _, err := tx.Exec(ctx, qUpsertConversation, s.owner, string(key.Peer), string(key.Conversation),
			sealed, stored+1, conversation.CreatedUTC, conversation.UpdatedUTC); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, qDeleteSkipped, s.owner, string(key.Peer), string(key.Conversation)); err != nil {
			return err
		}
		for i, k := range conversation.Skipped.Keys {
			keySealed, err := s.sealer.Seal(s.skippedName(key, k), k.Key)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, qInsertSkipped, s.owner, string(key.Peer), string(key.Conversation),
				i, k.RatchetKey.Slice(), int64(k.MessageIndex), keySealed, k.CreatedUTC); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Storage("save conversation", err)
	}
	return nil
}

// ConversationExists reports whether a state row exists.
func (s *ConversationStore) ConversationExists(ctx context.Context, key domain.ConversationKey) (bool, error) {
	var exists bool
	err := s.db.Pool.QueryRow(ctx, qConversationExists, s.owner, string(key.Peer), string(key.Conversation)).
		Scan(&exists)
	if err != nil {
		return false, domain.Storage("conversation exists", err)
	}
	return exists, nil
}

// LoadMessageKeyCache returns only the skipped keys for key.
func (s *ConversationStore) LoadMessageKeyCache(
	ctx context.Context,
	key domain.ConversationKey,
) (domain.MessageKeyCache, error) {
	var cache domain.MessageKeyCache
	err := s.db.inTx(ctx, readOnly, func(tx pgx.Tx) error {
		var err error
		cache, err = s.loadSkipped(ctx, tx, key)
		return err
	})
	if err != nil {
		return domain.MessageKeyCache{}, domain.Storage("load message key cache", err)
	}
	return cache, nil
}

// DeleteConversation removes the state row; skipped keys cascade.
func (s *ConversationStore) DeleteConversation(ctx context.Context, key domain.ConversationKey) error {
	if _, err := s.db.Pool.Exec(ctx, qDeleteConversation, s.owner, string(key.Peer), string(key.Conversation)); err != nil {
		return domain.Storage("delete conversation", err)
	}
	return nil
}

func (s *ConversationStore) loadSkipped(
	ctx context.Context,
	tx pgx.Tx,
	key domain.ConversationKey,
) (domain.MessageKeyCache, error) {
	rows, err := tx.Query(ctx, qSelectSkipped, s.owner, string(key.Peer), string(key.Conversation))
	if err != nil {
		return domain.MessageKeyCache{}, err
	}
	defer rows.Close()

	var cache domain.MessageKeyCache
	for rows.Next() {
		var (
			ratchetKey []byte
			index      int64
			sealed     []byte
			created    int64
		)
		if err := rows.Scan(&ratchetKey, &index, &sealed, &created); err != nil {
			return domain.MessageKeyCache{}, err
		}
		k := domain.SkippedMessageKey{MessageIndex: uint32(index), CreatedUTC: created}
		if len(ratchetKey) != len(k.RatchetKey) {
			return domain.MessageKeyCache{}, fmt.Errorf("ratchet key length %d", len(ratchetKey))
		}
		copy(k.RatchetKey[:], ratchetKey)
		if k.Key, err = s.sealer.Open(s.skippedName(key, k), sealed); err != nil {
			return domain.MessageKeyCache{}, err
		}
		cache.Keys = append(cache.Keys, k)
	}
	return cache, rows.Err()
}

func (s *ConversationStore) stateName(key domain.ConversationKey) string {
	return fmt.Sprintf("conversation|%s|%s", s.owner, key)
}

func (s *ConversationStore) skippedName(key domain.ConversationKey, k domain.SkippedMessageKey) string {
	return fmt.Sprintf("skipped|%s|%s|%s|%d", s.owner, key, k.RatchetKey, k.MessageIndex)
}

// Compile-time assertion that ConversationStore implements domain.ConversationStore.
var _ domain.ConversationStore = (*ConversationStore)(nil)
