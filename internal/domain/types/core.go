package types

import "fmt"

// UserID identifies a user known to the surrounding application.
type UserID string

// String returns the string form of the user identifier.
func (u UserID) String() string { return string(u) }

// ConversationID identifies a conversation (a direct chat, a team or a meetup).
type ConversationID string

// String returns the string form of the conversation identifier.
func (id ConversationID) String() string { return string(id) }

// GroupID identifies a group whose members share group content keys.
type GroupID string

// String returns the string form of the group identifier.
func (id GroupID) String() string { return string(id) }

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// SignedPreKeyID uniquely identifies a signed pre-key.
type SignedPreKeyID string

// String returns the string form of the identifier.
func (id SignedPreKeyID) String() string { return string(id) }

// ConversationKey addresses one ratchet: the peer and the conversation shared with them.
type ConversationKey struct {
	Peer         UserID         `json:"peer"`
	Conversation ConversationID `json:"conversation"`
}

// String returns "peer/conversation".
func (k ConversationKey) String() string {
	return fmt.Sprintf("%s/%s", k.Peer, k.Conversation)
}
