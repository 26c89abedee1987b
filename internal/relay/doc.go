// Package relay is the store-and-forward side of waypoint.
//
// Hub keeps published key bundles and per-user inboxes in memory and hands
// out each one-time pre-key at most once, signalling a Notifier when a
// user runs low. Server exposes a Hub over HTTP with gin; HTTP is the
// matching client and Local talks to a Hub in the same process. Both
// clients implement domain.Relay.
//
// Routes:
//   - POST /bundles, GET /bundles/:user
//   - GET /prekeys/:user/status
//   - POST /inbox/:user, GET /inbox/:user?limit=N, POST /inbox/:user/ack
//   - GET /metrics, GET /health
//
// All bodies are JSON. Non-2xx statuses come back as errors naming the
// method, path and status; 404 wraps ErrUnknownUser.
package relay
