package wire

import (
	"fmt"

	"waypoint/internal/domain"
)

type groupKeyV1 struct {
	Version   uint8  `cbor:"0,keyasint"`
	MessageID string `cbor:"1,keyasint"`
	Group     string `cbor:"2,keyasint"`
	Key       []byte `cbor:"3,keyasint"`
}

// GroupKey is the content key for one group message, as carried inside a
// pairwise ratchet ciphertext.
type GroupKey struct {
	MessageID string
	Group     domain.GroupID
	Key       []byte
}

// EncodeGroupKey serialises a group content key for pairwise delivery.
func EncodeGroupKey(k GroupKey) ([]byte, error) {
	return Marshal(groupKeyV1{
		Version:   Version1,
		MessageID: k.MessageID,
		Group:     string(k.Group),
		Key:       k.Key,
	})
}

// DecodeGroupKey reverses EncodeGroupKey.
func DecodeGroupKey(b []byte) (GroupKey, error) {
	if err := checkVersion(b); err != nil {
		return GroupKey{}, err
	}
	var v groupKeyV1
	if err := Unmarshal(b, &v); err != nil {
		return GroupKey{}, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	return GroupKey{MessageID: v.MessageID, Group: domain.GroupID(v.Group), Key: v.Key}, nil
}

// GroupAssociatedData binds a group payload to its group, message id and sender.
func GroupAssociatedData(group domain.GroupID, messageID string, sender domain.UserID) []byte {
	out := make([]byte, 0, len(group)+len(messageID)+len(sender)+2)
	out = append(out, group...)
	out = append(out, 0)
	out = append(out, messageID...)
	out = append(out, 0)
	out = append(out, sender...)
	return out
}
