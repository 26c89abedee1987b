// Package app wires application dependencies for the CLI.
//
// LoadConfig reads WAYPOINT_* environment variables (and a .env file).
// NewWire builds the sealer, the key and conversation stores (files or
// Postgres), the services and the relay client (HTTP or redis) from that
// Config and exposes them through the Wire struct for commands to use.
package app
