// Package commands defines the waypoint CLI.
//
// Commands
//
//   - init                 Create the local identity
//   - fingerprint          Print the identity fingerprint
//   - register             Publish your key bundle to the relay
//   - replenish [--watch]  Top up one-time pre-keys, once or on every low signal
//   - start-conversation   Run the handshake with a peer (also renegotiates)
//   - send                 Encrypt and send a message
//   - recv                 Fetch and decrypt queued messages
//   - group-send           Send one message to several members
//   - message-fingerprint  Print the ratchet fingerprint of a ciphertext file
//
// # Implementation
//
// Settings come from WAYPOINT_* environment variables (and .env); flags
// override them. The root command builds the dependency graph (stores,
// services, relay client) before any subcommand runs and closes it after.
package commands
