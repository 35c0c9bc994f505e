// Package totp implements time-based one-time passwords (RFC 6238) on top
// of its own SHA-1, HMAC-SHA1 and base32 primitives, together with secret,
// backup code and provisioning URI generation for authenticator apps.
package totp

import (
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const (
	// Period is the TOTP time step in seconds.
	Period = 30

	// Digits is the length of every generated code.
	Digits = 6

	// DefaultWindow accepts the previous and next time step as well as the current one.
	DefaultWindow = 1

	modulus = 1_000_000
)

// Counter returns the TOTP counter for t.
func Counter(t time.Time) uint64 {
	return uint64(t.Unix()) / Period
}

// HOTP returns the 6-digit RFC 4226 code for key at counter.
func HOTP(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	sum := HMACSHA1(key, msg[:])
	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	return fmt.Sprintf("%0*d", Digits, value%modulus)
}

// GenerateCode returns the code for a base32 secret at time t.
func GenerateCode(secret string, t time.Time) (string, error) {
	key, err := DecodeBase32(secret)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	return HOTP(key, Counter(t)), nil
}

// Verify reports whether code matches secret at t within window steps on
// either side. An undecodable secret or malformed code never verifies.
func Verify(secret, code string, t time.Time, window int) bool {
	code, ok := normalizeCode(code)
	if !ok {
		return false
	}
	key, err := DecodeBase32(secret)
	if err != nil || len(key) == 0 {
		return false
	}
	if window < 0 {
		window = 0
	}

	counter := int64(Counter(t))
	matched := 0
	for i := -window; i <= window; i++ {
		c := counter + int64(i)
		if c < 0 {
			continue
		}
		candidate := HOTP(key, uint64(c))
		matched |= subtle.ConstantTimeCompare([]byte(candidate), []byte(code))
	}
	return matched == 1
}

// normalizeCode strips whitespace and checks the code is exactly Digits
// ASCII digits.
func normalizeCode(code string) (string, bool) {
	code = strings.Join(strings.Fields(code), "")
	if len(code) != Digits {
		return "", false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return "", false
		}
	}
	return code, true
}
