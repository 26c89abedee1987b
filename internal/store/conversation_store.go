package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"waypoint/internal/domain"
)

// ConversationFileStore keeps one sealed file per (peer, conversation).
// State and skipped keys live in the same file, so a save replaces both at
// once via rename.
type ConversationFileStore struct {
	dir    string
	sealer *Sealer
	mu     sync.RWMutex
}

// NewConversationFileStore returns a store rooted at dir, creating it if needed.
func NewConversationFileStore(dir string, sealer *Sealer) (*ConversationFileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, domain.Storage("create conversation dir", err)
	}
	return &ConversationFileStore{dir: dir, sealer: sealer}, nil
}

// LoadConversation returns the stored record for key.
func (s *ConversationFileStore) LoadConversation(
	_ context.Context,
	key domain.ConversationKey,
) (domain.Conversation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c domain.Conversation
	ok, err := readSealed(s.sealer, s.path(key), &c)
	if err != nil {
		return domain.Conversation{}, false, domain.Storage("load conversation", err)
	}
	return c, ok, nil
}

// SaveConversation replaces the record for conversation.Key. The revision
// check covers writers sharing this store value only.
func (s *ConversationFileStore) SaveConversation(_ context.Context, conversation domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(conversation.Key)
	var stored domain.Conversation
	found, err := readSealed(s.sealer, path, &stored)
	if err != nil {
		return domain.Storage("save conversation", err)
	}
	if conversation.Version != 0 && (!found || stored.Version != conversation.Version) {
		return domain.Storage("save conversation",
			fmt.Errorf("%w: %s at version %d", domain.ErrConcurrentUpdate, conversation.Key, conversation.Version))
	}

	conversation.Version = stored.Version + 1
	if err := writeSealed(s.sealer, path, conversation); err != nil {
		return domain.Storage("save conversation", err)
	}
	return nil
}

// ConversationExists reports whether a record exists without opening it.
func (s *ConversationFileStore) ConversationExists(_ context.Context, key domain.ConversationKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.path(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, domain.Storage("stat conversation", err)
	}
}

// LoadMessageKeyCache returns the skipped-key cache stored with key.
func (s *ConversationFileStore) LoadMessageKeyCache(
	ctx context.Context,
	key domain.ConversationKey,
) (domain.MessageKeyCache, error) {
	c, _, err := s.LoadConversation(ctx, key)
	if err != nil {
		return domain.MessageKeyCache{}, err
	}
	return c.Skipped, nil
}

// DeleteConversation removes the record; a missing record is not an error.
func (s *ConversationFileStore) DeleteConversation(_ context.Context, key domain.ConversationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return domain.Storage("delete conversation", err)
	}
	return nil
}

// path encodes both parts so that arbitrary ids are safe file names.
func (s *ConversationFileStore) path(key domain.ConversationKey) string {
	enc := base64.RawURLEncoding
	name := enc.EncodeToString([]byte(key.Peer)) + "." +
		enc.EncodeToString([]byte(key.Conversation)) + ".json.enc"
	return filepath.Join(s.dir, name)
}

// Compile-time assertion that ConversationFileStore implements domain.ConversationStore.
var _ domain.ConversationStore = (*ConversationFileStore)(nil)
