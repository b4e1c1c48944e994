// Package session implements the Redis-backed session cache: compact
// binary records keyed by primary id, an account index for bulk
// revocation, and absolute-lifetime expiry with a rewrite floor.
package session
