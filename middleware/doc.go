// Package middleware provides net/http middleware over the engine: bearer
// authentication, access-level gates, and the CSRF double-submit check.
package middleware
