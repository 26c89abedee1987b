package types

// SignedPreKeyPair is a medium-term agreement key pair plus the signature
// binding its public half to the signing key.
type SignedPreKeyPair struct {
	ID         SignedPreKeyID `json:"id"`
	Priv       X25519Private  `json:"priv"`
	Pub        X25519Public   `json:"pub"`
	Signature  []byte         `json:"signature"`
	CreatedUTC int64          `json:"created_utc"`
}

// OneTimePreKeyPair is a single-use agreement key pair. It is identified by
// its public half.
type OneTimePreKeyPair struct {
	Priv X25519Private `json:"priv"`
	Pub  X25519Public  `json:"pub"`
}

// PublicKeyBundle is what gets published to the backend on registration and
// on every replenishment.
type PublicKeyBundle struct {
	User                  UserID         `json:"user"`
	SigningKey            Ed25519Public  `json:"signing_key"`
	IdentityKey           X25519Public   `json:"identity_key"`
	SignedPreKeyID        SignedPreKeyID `json:"signed_pre_key_id"`
	SignedPreKey          X25519Public   `json:"signed_pre_key"`
	SignedPreKeySignature []byte         `json:"signed_pre_key_signature"`
	OneTimePreKeys        []X25519Public `json:"one_time_pre_keys,omitempty"`
}

// Handshake returns the single-use view of the bundle an initiator works
// with, optionally carrying one of the published one-time pre-keys.
func (b PublicKeyBundle) Handshake(oneTime *X25519Public) PreKeyBundle {
	return PreKeyBundle{
		User:                  b.User,
		SigningKey:            b.SigningKey,
		IdentityKey:           b.IdentityKey,
		SignedPreKeyID:        b.SignedPreKeyID,
		SignedPreKey:          b.SignedPreKey,
		SignedPreKeySignature: b.SignedPreKeySignature,
		OneTimePreKey:         oneTime,
	}
}

// PreKeyBundle is a peer's bundle as handed out for exactly one handshake.
type PreKeyBundle struct {
	User                  UserID         `json:"user"`
	SigningKey            Ed25519Public  `json:"signing_key"`
	IdentityKey           X25519Public   `json:"identity_key"`
	SignedPreKeyID        SignedPreKeyID `json:"signed_pre_key_id"`
	SignedPreKey          X25519Public   `json:"signed_pre_key"`
	SignedPreKeySignature []byte         `json:"signed_pre_key_signature"`
	OneTimePreKey         *X25519Public  `json:"one_time_pre_key,omitempty"`
}

// ConversationInvitation carries the handshake parameters from the
// initiator to the responder. It is sent once per conversation direction.
type ConversationInvitation struct {
	IdentityKey       X25519Public   `json:"identity_key"`
	EphemeralKey      X25519Public   `json:"ephemeral_key"`
	SignedPreKeyID    SignedPreKeyID `json:"signed_pre_key_id"`
	UsedOneTimePreKey *X25519Public  `json:"used_one_time_pre_key,omitempty"`
}

// PreKeyStatus reports how many one-time pre-keys a user has left on the backend.
type PreKeyStatus struct {
	User      UserID `json:"user"`
	Remaining int    `json:"remaining"`
	Low       bool   `json:"low"`
}
