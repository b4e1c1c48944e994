// Package jwt wraps access-token signing and verification around
// github.com/golang-jwt/jwt/v5.
package jwt
