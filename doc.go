// Package stepauth provides an embeddable account authentication engine
// with tiered in-session access levels, one-time-code verification across
// email, phone, and authenticator channels, layered rate limiting, and
// Redis-backed session control.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// stepauth is the public surface. It exposes [Engine], [Builder],
// [Config], and value types (Session, LoginResult, MetricsSnapshot,
// AuditEvent). Durable account and session rows live behind the injected
// [AccountProvider] and [SessionProvider]; outbound delivery behind
// [EmailSender] and [PhoneVerifier]. Sub-packages hold the mechanical
// pieces: session encoding and caching under session, token signing under
// jwt, password hashing under password, HTTP guards under middleware, and
// counter exporters under metrics/export.
//
// # Trust model
//
// A session's access level only climbs while it lives. The base tier is
// granted at login; Medium requires an in-session ownership proof, either
// password re-entry or a one-time-code challenge. Sustained proof failures
// revoke the session outright rather than letting a hijacked session keep
// guessing.
package stepauth
