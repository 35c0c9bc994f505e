package totp

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

const (
	// SecretSize is the number of random bytes in a generated secret.
	SecretSize = 20

	// DefaultBackupCodeCount is how many backup codes a 2FA setup issues.
	DefaultBackupCodeCount = 10

	// DefaultQRBaseURL renders the QR image for a provisioning URI.
	DefaultQRBaseURL = "https://api.qrserver.com/v1/create-qr-code/?size=300"
)

// GenerateSecret returns a new base32-encoded random secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, SecretSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random secret: %w", err)
	}
	return EncodeBase32(buf), nil
}

// GenerateBackupCodes returns n codes of the form XXXX-XXXX, each built from
// 4 random bytes as uppercase hex.
func GenerateBackupCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	buf := make([]byte, 4)
	for i := 0; i < n; i++ {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("read random backup code: %w", err)
		}
		h := strings.ToUpper(hex.EncodeToString(buf))
		codes = append(codes, h[:4]+"-"+h[4:])
	}
	return codes, nil
}

// NormalizeBackupCode uppercases code, trims surrounding space and restores
// the dash if the user typed the eight characters without it.
func NormalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) == 8 && !strings.Contains(code, "-") {
		code = code[:4] + "-" + code[4:]
	}
	return code
}

// MatchBackupCode returns the index of code in codes, or -1. Every stored
// code is compared so the timing does not depend on the match position.
func MatchBackupCode(codes []string, code string) int {
	code = NormalizeBackupCode(code)
	idx := -1
	for i, c := range codes {
		if subtle.ConstantTimeCompare([]byte(c), []byte(code)) == 1 && idx < 0 {
			idx = i
		}
	}
	return idx
}

// ProvisioningURI builds the otpauth URI an authenticator app imports.
func ProvisioningURI(issuer, account, secret string) string {
	label := url.PathEscape(issuer + ":" + account)
	return "otpauth://totp/" + label +
		"?secret=" + url.QueryEscape(secret) +
		"&issuer=" + url.QueryEscape(issuer)
}

// QRCodeURL embeds uri as the data parameter of a QR rendering service.
func QRCodeURL(baseURL, uri string) string {
	if baseURL == "" {
		baseURL = DefaultQRBaseURL
	}
	sep := "&"
	if !strings.Contains(baseURL, "?") {
		sep = "?"
	}
	return baseURL + sep + "data=" + url.QueryEscape(uri)
}
