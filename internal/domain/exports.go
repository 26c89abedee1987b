package domain

import (
	interfaces "waypoint/internal/domain/interfaces"
	types "waypoint/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	UserID                 = types.UserID
	ConversationID         = types.ConversationID
	GroupID                = types.GroupID
	Fingerprint            = types.Fingerprint
	SignedPreKeyID         = types.SignedPreKeyID
	ConversationKey        = types.ConversationKey
	Identity               = types.Identity
	SignedPreKeyPair       = types.SignedPreKeyPair
	OneTimePreKeyPair      = types.OneTimePreKeyPair
	PublicKeyBundle        = types.PublicKeyBundle
	PreKeyBundle           = types.PreKeyBundle
	PreKeyStatus           = types.PreKeyStatus
	ConversationInvitation = types.ConversationInvitation
	RatchetHeader          = types.RatchetHeader
	RatchetState           = types.RatchetState
	SkippedMessageKey      = types.SkippedMessageKey
	MessageKeyCache        = types.MessageKeyCache
	Conversation           = types.Conversation
	DeliveryKind           = types.DeliveryKind
	Priority               = types.Priority
	DeliveryHint           = types.DeliveryHint
	Delivery               = types.Delivery
	DecryptedMessage       = types.DecryptedMessage
	GroupMessage           = types.GroupMessage
	GroupKeyEnvelope       = types.GroupKeyEnvelope
	RecipientFailure       = types.RecipientFailure
	DeliveryReport         = types.DeliveryReport
	X25519Public           = types.X25519Public
	X25519Private          = types.X25519Private
	Ed25519Public          = types.Ed25519Public
	Ed25519Private         = types.Ed25519Private
)

// Constants re-exported from the types subpackage.
const (
	DeliveryMessage = types.DeliveryMessage
	DeliveryGroup   = types.DeliveryGroup
	PriorityNormal  = types.PriorityNormal
	PriorityHigh    = types.PriorityHigh
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	KeyStore           = interfaces.KeyStore
	ConversationStore  = interfaces.ConversationStore
	BundlePublisher    = interfaces.BundlePublisher
	Transport          = interfaces.Transport
	PreKeySignals      = interfaces.PreKeySignals
	Relay              = interfaces.Relay
	Signer             = interfaces.Signer
	IdentityKeyStore   = interfaces.IdentityKeyStore
	ConversationCrypto = interfaces.ConversationCrypto
	MessageService     = interfaces.MessageService
)
