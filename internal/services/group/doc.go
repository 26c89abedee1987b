// Package group implements sender-side fan-out for group messages: one
// payload encrypted under a fresh content key, and one small pairwise
// envelope per member carrying that key.
package group
