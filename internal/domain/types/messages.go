package types

import (
	"errors"
	"fmt"
)

// DeliveryKind distinguishes pairwise messages from group deliveries.
type DeliveryKind string

const (
	DeliveryMessage DeliveryKind = "message"
	DeliveryGroup   DeliveryKind = "group"
)

// Priority is a transport hint; the core never interprets it.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// DeliveryHint is passed to the transport alongside an opaque delivery.
type DeliveryHint struct {
	Priority   Priority `json:"priority"`
	CollapseID string   `json:"collapse_id,omitempty"`
}

// Delivery is the wire-format unit handed to the transport for a single
// recipient. Ciphertext is an encoded ratchet ciphertext; the first message
// of a conversation also carries the Invitation.
type Delivery struct {
	ID           string                  `json:"id"`
	Kind         DeliveryKind            `json:"kind"`
	From         UserID                  `json:"from"`
	To           UserID                  `json:"to"`
	Conversation ConversationID          `json:"conversation"`
	Invitation   *ConversationInvitation `json:"invitation,omitempty"`
	Ciphertext   []byte                  `json:"ciphertext,omitempty"`
	Group        *GroupMessage           `json:"group,omitempty"`
	Timestamp    int64                   `json:"timestamp"`
}

// DecryptedMessage is what the message service hands back to callers.
type DecryptedMessage struct {
	ID           string         `json:"id"`
	From         UserID         `json:"from"`
	Conversation ConversationID `json:"conversation"`
	Group        GroupID        `json:"group,omitempty"`
	Plaintext    []byte         `json:"plaintext"`
	Timestamp    int64          `json:"timestamp"`
}

// GroupMessage is the payload encrypted once under a group content key.
type GroupMessage struct {
	ID         string  `json:"id"`
	Group      GroupID `json:"group"`
	Sender     UserID  `json:"sender"`
	Ciphertext []byte  `json:"ciphertext"`
}

// GroupKeyEnvelope carries the group content key for one recipient,
// encrypted through that recipient's pairwise conversation.
type GroupKeyEnvelope struct {
	MessageID  string `json:"message_id"`
	Recipient  UserID `json:"recipient"`
	Ciphertext []byte `json:"ciphertext"`
}

// RecipientFailure records why one recipient of a group send was not served.
type RecipientFailure struct {
	Recipient UserID `json:"recipient"`
	Err       error  `json:"-"`
}

// DeliveryReport summarises a group send; failures are per recipient.
type DeliveryReport struct {
	MessageID string             `json:"message_id"`
	Delivered []UserID           `json:"delivered"`
	Failed    []RecipientFailure `json:"failed,omitempty"`
}

// Err joins the per-recipient failures, or returns nil if every recipient
// was served.
func (r DeliveryReport) Err() error {
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", f.Recipient, f.Err))
	}
	return errors.Join(errs...)
}
