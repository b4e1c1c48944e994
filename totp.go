package stepauth

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"time"
)

const (
	totpPeriod     = 30
	totpDigits     = 6
	totpSecretSize = 20
)

var totpBase32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// deriveTOTPSecret derives the authenticator secret from the server key
// and the account's enrolled key material. Deterministic: the secret is
// never stored, only re-derived.
func deriveTOTPSecret(serverKey, accountKey []byte) []byte {
	mac := hmac.New(sha256.New, serverKey)
	mac.Write(accountKey)
	sum := mac.Sum(nil)
	return sum[:totpSecretSize]
}

// encodeTOTPSecret renders the secret the way provisioning QR payloads
// expect it, base32 without padding.
func encodeTOTPSecret(secret []byte) string {
	return totpBase32.EncodeToString(secret)
}

// totpCode computes the 6-digit code for the exact 30-second slot
// containing t. There is no skew window; only the current slot verifies.
func totpCode(secret []byte, t time.Time) string {
	counter := uint64(t.Unix() / totpPeriod)

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// RFC 4226 dynamic truncation.
	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	return fmt.Sprintf("%0*d", totpDigits, code%1_000_000)
}

// totpMatches compares a submitted code against the current slot in
// constant time.
func totpMatches(secret []byte, submitted string, now time.Time) bool {
	if len(submitted) != totpDigits {
		return false
	}
	expected := totpCode(secret, now)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(submitted)) == 1
}

// totpProvisionURI renders the otpauth:// URI encoding issuer, account
// label, and the derived secret.
func totpProvisionURI(issuer, accountLabel string, secret []byte) string {
	v := url.Values{}
	v.Set("secret", encodeTOTPSecret(secret))
	v.Set("issuer", issuer)
	v.Set("algorithm", "SHA1")
	v.Set("digits", fmt.Sprintf("%d", totpDigits))
	v.Set("period", fmt.Sprintf("%d", totpPeriod))

	label := url.PathEscape(issuer + ":" + accountLabel)
	return "otpauth://totp/" + label + "?" + v.Encode()
}
