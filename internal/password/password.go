// Package password hashes and verifies account passwords.
//
// Hashes are self-describing strings of the form
//
//	$2a$<rounds>$<saltHex>$<hashHex>
//
// where the hash is PBKDF2-HMAC-SHA256 with 2^rounds iterations, the hex
// salt text as the PBKDF2 salt and a 32-byte derived key.
package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultRounds gives 1024 PBKDF2 iterations.
	DefaultRounds = 10

	// MinRounds and MaxRounds bound the cost accepted from stored hashes.
	MinRounds = 4
	MaxRounds = 20

	version  = "2a"
	saltSize = 16
	keySize  = 32
)

// Hasher hashes passwords at a fixed cost.
type Hasher struct {
	Rounds int
}

// NewHasher returns a Hasher, clamping rounds into [MinRounds, MaxRounds].
// Zero selects DefaultRounds.
func NewHasher(rounds int) Hasher {
	switch {
	case rounds == 0:
		rounds = DefaultRounds
	case rounds < MinRounds:
		rounds = MinRounds
	case rounds > MaxRounds:
		rounds = MaxRounds
	}
	return Hasher{Rounds: rounds}
}

// Hash derives a new hash for password with a fresh random salt.
func (h Hasher) Hash(password string) (string, error) {
	rounds := h.Rounds
	if rounds == 0 {
		rounds = DefaultRounds
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	saltHex := hex.EncodeToString(salt)

	return fmt.Sprintf("$%s$%d$%s$%s", version, rounds, saltHex, derive(password, saltHex, rounds)), nil
}

// Verify reports whether password matches encoded. Malformed input returns false.
func (h Hasher) Verify(password, encoded string) bool {
	return Verify(password, encoded)
}

// Hash hashes password at DefaultRounds.
func Hash(password string) (string, error) {
	return Hasher{Rounds: DefaultRounds}.Hash(password)
}

// Verify reports whether password matches encoded. The cost is read from
// encoded, so hashes made at any accepted round count verify.
func Verify(password, encoded string) bool {
	rounds, saltHex, want, ok := parse(encoded)
	if !ok {
		return false
	}
	got := derive(password, saltHex, rounds)
	if len(got) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Rounds returns the round count recorded in encoded.
func Rounds(encoded string) (int, error) {
	rounds, _, _, ok := parse(encoded)
	if !ok {
		return 0, fmt.Errorf("malformed password hash")
	}
	return rounds, nil
}

func derive(password, saltHex string, rounds int) string {
	key := pbkdf2.Key([]byte(password), []byte(saltHex), 1<<rounds, keySize, sha256.New)
	return hex.EncodeToString(key)
}

func parse(encoded string) (rounds int, saltHex, hashHex string, ok bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != "" || parts[1] != version {
		return 0, "", "", false
	}

	rounds, err := strconv.Atoi(parts[2])
	if err != nil || rounds < MinRounds || rounds > MaxRounds {
		return 0, "", "", false
	}

	saltHex, hashHex = parts[3], strings.ToLower(parts[4])
	if saltHex == "" || len(hashHex) != keySize*2 {
		return 0, "", "", false
	}
	if _, err := hex.DecodeString(hashHex); err != nil {
		return 0, "", "", false
	}
	return rounds, saltHex, hashHex, true
}
