package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the protocol, store and service layers.
// Callers match them with errors.Is.
var (
	// ErrOneTimePreKeyMissing means an invitation did not reference a one-time
	// pre-key, or the referenced key was already consumed.
	ErrOneTimePreKeyMissing = errors.New("one-time pre-key missing")

	// ErrSignedPreKeyMissing means an invitation referenced a signed pre-key we no longer hold.
	ErrSignedPreKeyMissing = errors.New("signed pre-key missing")

	// ErrSignatureInvalid means the signed pre-key signature did not verify; the handshake is aborted.
	ErrSignatureInvalid = errors.New("signed pre-key signature invalid")

	// ErrConversationNotInitialized means there is no ratchet for this peer and conversation.
	ErrConversationNotInitialized = errors.New("conversation not initialized")

	// ErrDiscardedObsoleteMessage means the message was already consumed or replayed. Safe to ignore.
	ErrDiscardedObsoleteMessage = errors.New("discarded obsolete message")

	// ErrMaxSkipExceeded means the message is too far ahead of the receiving chain.
	// The conversation has to be renegotiated.
	ErrMaxSkipExceeded = errors.New("max skip exceeded")

	// ErrDecryptionFailure is the generic authentication or format failure.
	ErrDecryptionFailure = errors.New("decryption failure")

	// ErrAwaitingFirstMessage means the responder has no sending chain until
	// the initiator's first message arrives.
	ErrAwaitingFirstMessage = errors.New("awaiting first message from initiator")

	// ErrMalformedMessage means an encoded message could not be parsed.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrUnsupportedVersion means an encoded message uses a newer format.
	ErrUnsupportedVersion = errors.New("unsupported wire version")

	// ErrWrongPassphrase means sealed key material could not be opened.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted key material")

	// ErrConcurrentUpdate means a conversation changed between load and save.
	// It is always wrapped in a StorageError, so the operation can be retried.
	ErrConcurrentUpdate = errors.New("conversation modified concurrently")

	// ErrHandshakeCollision means both sides opened the same conversation at
	// once and the peer's invitation lost the tie-break. The message that came
	// with it cannot be read.
	ErrHandshakeCollision = errors.New("handshake collision: peer invitation superseded")

	// ErrStorage is matched by every StorageError.
	ErrStorage = errors.New("storage failure")
)

// StorageError wraps a read or write failure of a key or conversation store.
type StorageError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) true for every StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Storage wraps err as a StorageError for op. A nil err stays nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
