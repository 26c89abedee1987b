package interfaces

import (
	"context"

	domaintypes "waypoint/internal/domain/types"
)

// Signer signs with the long-term signing key. The conversation service
// only needs the public half and the ability to sign a signed pre-key.
type Signer interface {
	SigningPublicKey() domaintypes.Ed25519Public
	Sign(message []byte) []byte
}

// IdentityKeyStore is the contract the handshake code needs from the local
// key material.
type IdentityKeyStore interface {
	LoadOrCreateIdentity(ctx context.Context) (domaintypes.Identity, error)
	LoadOrCreateSignedPreKey(ctx context.Context, signer Signer) (domaintypes.SignedPreKeyPair, error)
	LoadSignedPreKey(
		ctx context.Context,
		id domaintypes.SignedPreKeyID,
	) (domaintypes.SignedPreKeyPair, error)
	GenerateOneTimePreKeys(ctx context.Context, count int) ([]domaintypes.X25519Public, error)
	ConsumeOneTimePreKey(ctx context.Context, pub domaintypes.X25519Public) (domaintypes.X25519Private, error)
	DeleteOneTimePreKey(ctx context.Context, pub domaintypes.X25519Public) error
}

// ConversationCrypto is the orchestrator exposed to the rest of the system.
type ConversationCrypto interface {
	RenewHandshakeKeyMaterial(ctx context.Context, signer Signer) (domaintypes.PublicKeyBundle, error)
	InitConversation(
		ctx context.Context,
		peer domaintypes.UserID,
		conversation domaintypes.ConversationID,
		bundle domaintypes.PreKeyBundle,
	) (domaintypes.ConversationInvitation, error)
	ProcessConversationInvitation(
		ctx context.Context,
		invitation domaintypes.ConversationInvitation,
		peer domaintypes.UserID,
		conversation domaintypes.ConversationID,
	) error
	ConversationExisting(
		ctx context.Context,
		peer domaintypes.UserID,
		conversation domaintypes.ConversationID,
	) (bool, error)
	ConversationFingerprint(ciphertext []byte) (domaintypes.Fingerprint, error)
	Encrypt(
		ctx context.Context,
		plaintext []byte,
		peer domaintypes.UserID,
		conversation domaintypes.ConversationID,
	) ([]byte, error)
	Decrypt(
		ctx context.Context,
		ciphertext []byte,
		peer domaintypes.UserID,
		conversation domaintypes.ConversationID,
	) ([]byte, error)
}

// MessageService sends and receives pairwise and group messages over the relay.
type MessageService interface {
	SendMessage(
		ctx context.Context,
		to domaintypes.UserID,
		conversation domaintypes.ConversationID,
		plaintext []byte,
	) error
	ReceiveMessages(ctx context.Context, limit int) ([]domaintypes.DecryptedMessage, error)
}
