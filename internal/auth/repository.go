package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/chathub/internal/errors"
	"github.com/felixgeelhaar/chathub/internal/kv"
)

// Repository maps records onto a kv.Store as JSON.
//
// Absent records are reported as (nil, nil). Sessions and temp tokens carry
// their own expiry: the store ttl is advisory, so reads check expiresAt and
// delete stale records.
type Repository struct {
	store kv.Store
	now   func() time.Time
}

// NewRepository creates a repository over store. A nil now uses time.Now.
func NewRepository(store kv.Store, now func() time.Time) *Repository {
	if now == nil {
		now = time.Now
	}
	return &Repository{store: store, now: now}
}

// Store returns the underlying store.
func (r *Repository) Store() kv.Store {
	return r.store
}

func corrupt(key string, err error) error {
	return errors.Wrap(errors.ErrCodeStoreCorrupt, fmt.Sprintf("stored record %s is not valid JSON", kv.Namespace(key)), err)
}

// load reads key into v. found is false when the key is absent.
func (r *Repository) load(ctx context.Context, key string, v any) (bool, error) {
	raw, found, err := r.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", kv.Namespace(key), err)
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, corrupt(key, err)
	}
	return true, nil
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	return string(b), nil
}

// GetUser returns the account for email.
func (r *Repository) GetUser(ctx context.Context, email string) (*UserRecord, error) {
	var rec UserRecord
	found, err := r.load(ctx, kv.UserKey(email), &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// UserExists reports whether an account exists for email.
func (r *Repository) UserExists(ctx context.Context, email string) (bool, error) {
	ok, err := r.store.Exists(ctx, kv.UserKey(email))
	if err != nil {
		return false, fmt.Errorf("exists user: %w", err)
	}
	return ok, nil
}

// CreateUser stores rec only if no account exists for its email. It
// reports false when the email is already taken.
func (r *Repository) CreateUser(ctx context.Context, rec *UserRecord) (bool, error) {
	value, err := encode(rec)
	if err != nil {
		return false, err
	}
	ok, err := r.store.SetNX(ctx, kv.UserKey(rec.Email), value, 0)
	if err != nil {
		return false, fmt.Errorf("create user: %w", err)
	}
	return ok, nil
}

// SaveUser overwrites the account record.
func (r *Repository) SaveUser(ctx context.Context, rec *UserRecord) error {
	value, err := encode(rec)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, kv.UserKey(rec.Email), value, 0); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// SaveSession stores s under id for ttl.
func (r *Repository) SaveSession(ctx context.Context, id string, s *Session, ttl time.Duration) error {
	value, err := encode(s)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, kv.SessionKey(id), value, ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession returns the live session for id. Expired sessions are deleted
// and reported as absent.
func (r *Repository) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	found, err := r.load(ctx, kv.SessionKey(id), &s)
	if err != nil || !found {
		return nil, err
	}
	if s.Expired(r.now().UnixMilli()) {
		_ = r.store.Delete(ctx, kv.SessionKey(id))
		return nil, nil
	}
	return &s, nil
}

// DeleteSession removes the session for id.
func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, kv.SessionKey(id)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// SaveTempToken stores t under token for ttl.
func (r *Repository) SaveTempToken(ctx context.Context, token string, t *TempToken, ttl time.Duration) error {
	value, err := encode(t)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, kv.TempKey(token), value, ttl); err != nil {
		return fmt.Errorf("save temp token: %w", err)
	}
	return nil
}

// GetTempToken returns the pending token, or nil if absent or expired.
func (r *Repository) GetTempToken(ctx context.Context, token string) (*TempToken, error) {
	var t TempToken
	found, err := r.load(ctx, kv.TempKey(token), &t)
	if err != nil || !found {
		return nil, err
	}
	if t.Expired(r.now().UnixMilli()) {
		_ = r.store.Delete(ctx, kv.TempKey(token))
		return nil, nil
	}
	return &t, nil
}

// DeleteTempToken removes token.
func (r *Repository) DeleteTempToken(ctx context.Context, token string) error {
	if err := r.store.Delete(ctx, kv.TempKey(token)); err != nil {
		return fmt.Errorf("delete temp token: %w", err)
	}
	return nil
}

// ClaimTempToken marks token as used and reports whether this caller was
// the first to do so.
func (r *Repository) ClaimTempToken(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	ok, err := r.store.SetNX(ctx, kv.TempClaimKey(token), "1", ttl)
	if err != nil {
		return false, fmt.Errorf("claim temp token: %w", err)
	}
	return ok, nil
}

// LockBackupCodes takes the backup code lock for userID. It reports false
// when another redemption holds it. The lock lapses after ttl.
func (r *Repository) LockBackupCodes(ctx context.Context, userID string, ttl time.Duration) (bool, error) {
	ok, err := r.store.SetNX(ctx, kv.BackupLockKey(userID), "1", ttl)
	if err != nil {
		return false, fmt.Errorf("lock backup codes: %w", err)
	}
	return ok, nil
}

// UnlockBackupCodes releases the lock taken by LockBackupCodes.
func (r *Repository) UnlockBackupCodes(ctx context.Context, userID string) {
	_ = r.store.Delete(ctx, kv.BackupLockKey(userID))
}
