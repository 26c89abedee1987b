// Package conversation orchestrates pairwise end-to-end encryption: it runs
// the X3DH handshake on both sides, drives the Double Ratchet and persists
// each conversation after every successful operation.
package conversation
