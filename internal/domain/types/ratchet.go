package types

// RatchetHeader is sent alongside every ciphertext.
type RatchetHeader struct {
	DiffieHellmanPublicKey X25519Public `json:"dh_pub"`
	PreviousChainLength    uint32       `json:"pn"`
	MessageIndex           uint32       `json:"n"`
}

// RatchetState contains all fields the Double Ratchet needs to track.
// PeerDiffieHellmanPublic is nil on the responder until the first message
// arrives; the chain keys are nil until their chain has been derived.
type RatchetState struct {
	RootKey                 []byte         `json:"root_key"`
	DiffieHellmanPrivate    X25519Private  `json:"dh_priv"`
	DiffieHellmanPublic     X25519Public   `json:"dh_pub"`
	PeerDiffieHellmanPublic *X25519Public  `json:"peer_dh_pub,omitempty"`
	SendChainKey            []byte         `json:"send_ck,omitempty"`
	ReceiveChainKey         []byte         `json:"recv_ck,omitempty"`
	SendMessageIndex        uint32         `json:"ns"`
	ReceiveMessageIndex     uint32         `json:"nr"`
	PreviousChainLength     uint32         `json:"pn"`
	RetiredPeerKeys         []X25519Public `json:"retired_peer_keys,omitempty"`
}

// SkippedMessageKey is a message key derived ahead of time because its
// message has not arrived yet.
type SkippedMessageKey struct {
	RatchetKey   X25519Public `json:"ratchet_key"`
	MessageIndex uint32       `json:"n"`
	Key          []byte       `json:"key"`
	CreatedUTC   int64        `json:"created_utc"`
}

// MessageKeyCache holds skipped message keys, oldest first.
type MessageKeyCache struct {
	Keys []SkippedMessageKey `json:"keys,omitempty"`
}

// Len returns the number of cached keys.
func (c MessageKeyCache) Len() int { return len(c.Keys) }

// Conversation persists the ratchet state and the skipped-key cache for one
// ConversationKey. Both are always written together.
//
// Version is the stored revision, starting at 1. Saving with Version zero
// replaces whatever is stored (a new handshake); any other value must still
// match the stored revision or the save fails with domain.ErrConcurrentUpdate.
type Conversation struct {
	Key        ConversationKey `json:"key"`
	State      RatchetState    `json:"state"`
	Skipped    MessageKeyCache `json:"skipped"`
	Version    int64           `json:"version"`
	CreatedUTC int64           `json:"created_utc"`
	UpdatedUTC int64           `json:"updated_utc"`
}

// AwaitingReply reports whether this side initiated the conversation and
// has not received anything on it yet.
func (s RatchetState) AwaitingReply() bool {
	return s.PeerDiffieHellmanPublic != nil && len(s.SendChainKey) > 0 && len(s.ReceiveChainKey) == 0
}
