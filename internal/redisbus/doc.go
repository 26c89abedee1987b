// Package redisbus carries waypoint's backend collaborators over redis:
// the low one-time pre-key signal (pub/sub), the key directory and the
// delivery inboxes (lists).
package redisbus
