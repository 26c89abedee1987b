package interfaces

import (
	"context"

	domaintypes "waypoint/internal/domain/types"
)

// KeyStore persists the identity, signed pre-keys and one-time pre-keys.
// Implementations must make ConsumeOneTimePreKey an atomic check-and-delete.
type KeyStore interface {
	// Identity
	LoadIdentity(ctx context.Context) (domaintypes.Identity, bool, error)
	// CreateIdentityIfAbsent stores id unless an identity already exists and
	// returns whichever identity is stored afterwards.
	CreateIdentityIfAbsent(ctx context.Context, id domaintypes.Identity) (domaintypes.Identity, error)

	// Signed pre-key
	SaveSignedPreKey(ctx context.Context, spk domaintypes.SignedPreKeyPair) error
	LoadSignedPreKey(
		ctx context.Context,
		id domaintypes.SignedPreKeyID,
	) (domaintypes.SignedPreKeyPair, bool, error)

	// Current signed pre-key selection
	SetCurrentSignedPreKeyID(ctx context.Context, id domaintypes.SignedPreKeyID) error
	CurrentSignedPreKeyID(ctx context.Context) (domaintypes.SignedPreKeyID, bool, error)

	// One-time pre-keys
	SaveOneTimePreKeys(ctx context.Context, pairs []domaintypes.OneTimePreKeyPair) error
	ConsumeOneTimePreKey(
		ctx context.Context,
		pub domaintypes.X25519Public,
	) (domaintypes.OneTimePreKeyPair, bool, error)
	DeleteOneTimePreKey(ctx context.Context, pub domaintypes.X25519Public) error
	ListOneTimePreKeyPublics(ctx context.Context) ([]domaintypes.X25519Public, error)
}

// ConversationStore keeps per-conversation Double-Ratchet state together with
// its skipped message keys. SaveConversation replaces the whole record and
// bumps its Version; a stale non-zero Version is rejected with
// domain.ErrConcurrentUpdate.
type ConversationStore interface {
	LoadConversation(
		ctx context.Context,
		key domaintypes.ConversationKey,
	) (domaintypes.Conversation, bool, error)
	SaveConversation(ctx context.Context, conversation domaintypes.Conversation) error
	ConversationExists(ctx context.Context, key domaintypes.ConversationKey) (bool, error)
	LoadMessageKeyCache(
		ctx context.Context,
		key domaintypes.ConversationKey,
	) (domaintypes.MessageKeyCache, error)
	DeleteConversation(ctx context.Context, key domaintypes.ConversationKey) error
}
