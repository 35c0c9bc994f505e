// Package kv is the storage layer for auth records.
//
// A Store is a small string key/value contract with TTLs. Remote backends
// (an HTTP command endpoint or Redis) are composed with a local store by
// Adapter, which serves every call from the local store whenever the remote
// fails, so an outage degrades consistency instead of availability.
package kv

import (
	"context"
	"strings"
	"time"
)

// Store is a string key/value store with per-key expiry.
//
// A ttl of zero means the key does not expire. Implementations must be safe
// for concurrent use.
type Store interface {
	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get returns the value for key and whether it was found.
	Get(ctx context.Context, key string) (string, bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Expire sets a new ttl on key and reports whether the key existed.
	// A non-positive ttl deletes the key.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Pinger is implemented by remote stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Key prefixes for the auth record namespaces.
const (
	PrefixUser    = "user:"
	PrefixSession = "session:"
	PrefixTemp    = "temp:"
)

// UserKey returns the key for the account with email. The email is lowercased.
func UserKey(email string) string {
	return PrefixUser + strings.ToLower(email)
}

// SessionKey returns the key for a session ID.
func SessionKey(id string) string {
	return PrefixSession + id
}

// TempKey returns the key for a pending second-factor token.
func TempKey(token string) string {
	return PrefixTemp + token
}

// TempClaimKey returns the key marking a temp token as consumed.
func TempClaimKey(token string) string {
	return PrefixTemp + "claim:" + token
}

// BackupLockKey returns the key guarding backup code redemption for a user.
func BackupLockKey(userID string) string {
	return PrefixTemp + "backup-lock:" + userID
}

// Namespace returns the prefix of key without the identifying part, so
// keys can be logged without leaking emails or tokens.
func Namespace(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return "unknown"
}
