// Package prekey keeps the published one-time pre-key supply topped up.
//
// A Replenisher listens for the backend's low-supply signal, renews the
// local handshake material and republishes the bundle.
package prekey
