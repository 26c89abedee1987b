// Package message sends and receives encrypted messages over the relay.
//
// It opens conversations on demand, carries invitations with the first
// ciphertext, and acks only the deliveries it has handled.
package message
