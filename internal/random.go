package internal

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ID is the fixed-size random identifier used for session primary and
// secondary ids and for verification tokens.
type ID [16]byte

const verifierRawSize = 32

func NewID() (ID, error) {
	var id ID
	_, err := rand.Read(id[:])
	return id, err
}

func (id ID) Bytes() []byte {
	return id[:]
}

func (id ID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(id[:])
}

func ParseID(s string) (ID, error) {
	var id ID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid id size")
	}

	copy(id[:], raw)
	return id, nil
}

// NewCSRFToken returns a fresh 32-byte token in base64url form for the
// double-submit pair.
func NewCSRFToken() (string, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewCodeVerifier returns the lowercase hex form of 32 random bytes, the
// shape the code-exchange challenge is computed over.
func NewCodeVerifier() (string, error) {
	var raw [verifierRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}

// NewKey returns n bytes of cryptographic randomness.
func NewKey(n int) ([]byte, error) {
	key := make([]byte, n)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// NewOTP returns a uniformly random numeric code of the given length,
// leading zeros included.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}
