package auth

// UserRecord is the persisted account stored under user:<email>.
//
// Timestamps are Unix milliseconds. Secret2FA and BackupCodes may be present
// while Has2FAEnabled is false: that is a setup awaiting confirmation.
type UserRecord struct {
	ID            string   `json:"id,omitempty"`
	Email         string   `json:"email"`
	PasswordHash  string   `json:"passwordHash"`
	Secret2FA     string   `json:"secret2FA,omitempty"`
	Has2FAEnabled bool     `json:"has2FAEnabled"`
	BackupCodes   []string `json:"backupCodes,omitempty"`
	CreatedAt     int64    `json:"createdAt"`
	LastLogin     int64    `json:"lastLogin,omitempty"`
}

// User converts the record to its public view.
func (r *UserRecord) User() *User {
	return &User{
		ID:            r.ID,
		Email:         r.Email,
		IsGuest:       false,
		Has2FAEnabled: r.Has2FAEnabled,
		CreatedAt:     r.CreatedAt,
	}
}

// Session is the persisted session stored under session:<id>.
type Session struct {
	UserID        string `json:"userId"`
	Email         string `json:"email"`
	IsGuest       bool   `json:"isGuest"`
	Has2FAEnabled bool   `json:"has2FAEnabled"`
	ExpiresAt     int64  `json:"expiresAt"`
}

// Expired reports whether the session is past its expiry at nowMillis.
func (s *Session) Expired(nowMillis int64) bool {
	return nowMillis >= s.ExpiresAt
}

// TempToken links a pending second-factor check to an account. It is
// stored under temp:<token>.
type TempToken struct {
	Email     string `json:"email"`
	UserID    string `json:"userId"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

// Expired reports whether the token is past its expiry at nowMillis.
// Tokens written without an expiry rely on the store ttl alone.
func (t *TempToken) Expired(nowMillis int64) bool {
	return t.ExpiresAt != 0 && nowMillis >= t.ExpiresAt
}

// User is the account view returned to clients. It never carries the
// password hash, the secret or backup codes.
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	IsGuest       bool   `json:"isGuest"`
	Has2FAEnabled bool   `json:"has2FAEnabled"`
	CreatedAt     int64  `json:"createdAt"`
}

// IssuedSession is a persisted session together with the id used to look
// it up again.
type IssuedSession struct {
	ID string `json:"sessionId"`
	Session
}

// AuthResult is returned by every operation that can establish a session.
//
// Exactly one of Session or TempToken is set on success: a TempToken with
// Requires2FA means the second factor is still outstanding.
type AuthResult struct {
	Message     string         `json:"message,omitempty"`
	User        *User          `json:"user,omitempty"`
	Session     *IssuedSession `json:"session,omitempty"`
	Requires2FA bool           `json:"requires2FA,omitempty"`
	TempToken   string         `json:"tempToken,omitempty"`

	// BackupCodesRemaining is set after a backup code was consumed.
	BackupCodesRemaining *int `json:"backupCodesRemaining,omitempty"`
}

// SetupResult carries a fresh, not yet enabled second factor.
type SetupResult struct {
	Secret      string   `json:"secret"`
	QRCode      string   `json:"qrCode"`
	BackupCodes []string `json:"backupCodes"`
}

// Success messages.
const (
	MsgGuestCreated   = "Guest session created"
	MsgRegistered     = "User registered successfully"
	MsgLoggedIn       = "Login successful"
	MsgEnter2FA       = "Enter 2FA code"
	MsgVerified2FA    = "2FA verification successful"
	MsgBackupAccepted = "Backup code accepted"
)
