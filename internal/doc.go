// Package internal holds helpers shared by the engine packages and not
// part of the public API.
package internal
