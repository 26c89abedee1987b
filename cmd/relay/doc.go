// Command relay runs the in-memory HTTP relay used by waypoint during
// development and tests. It stores published key bundles and queues
// deliveries for recipients until they fetch them.
//
// HTTP API
//
//	POST /bundles
//	    Store a user's published bundle. One-time pre-keys are added to the
//	    ones still unclaimed.
//
//	GET /bundles/{user}
//	    Return {user}'s bundle carrying at most one one-time pre-key, which
//	    is removed from the pool.
//
//	GET /prekeys/{user}/status
//	    Return how many one-time pre-keys {user} has left and whether that
//	    is below the watermark.
//
//	POST /inbox/{user} {"delivery": ..., "hint": ...}
//	    Enqueue a delivery for {user}. A collapse id replaces an earlier
//	    queued delivery from the same sender with the same id.
//
//	GET /inbox/{user}?limit=N
//	    Return up to N queued deliveries for {user}.
//
//	POST /inbox/{user}/ack {"count": N}
//	    Drop the first N queued deliveries for {user}.
//
//	GET /metrics
//	    Prometheus metrics.
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - With -redis, low pre-key signals are published on prekeys:low:{user}.
//   - The default listen address is :8080.
//
// The relay never sees plaintext or private keys; it only stores
// ciphertext and public bundles.
package main
