// Package auth implements guest sessions, password accounts and the
// TOTP second factor on top of a kv.Store.
package auth

import (
	"context"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/chathub/internal/errors"
	"github.com/felixgeelhaar/chathub/internal/log"
	"github.com/felixgeelhaar/chathub/internal/metrics"
	"github.com/felixgeelhaar/chathub/internal/password"
	"github.com/felixgeelhaar/chathub/internal/telemetry"
	"github.com/felixgeelhaar/chathub/internal/totp"
)

// MinPasswordLength is the shortest password Register accepts, counted in
// UTF-16 code units.
const MinPasswordLength = 6

// Record lifetimes. They are fixed, not configurable.
const (
	SessionTTL   = 24 * time.Hour
	TempTokenTTL = 5 * time.Minute

	backupLockTTL = 10 * time.Second
)

// Config holds service tunables. Zero fields take the DefaultConfig value.
type Config struct {
	Issuer          string
	QRBaseURL       string
	HashRounds      int
	TOTPWindow      int
	BackupCodeCount int

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Issuer:          "ChatHub",
		QRBaseURL:       totp.DefaultQRBaseURL,
		HashRounds:      password.DefaultRounds,
		TOTPWindow:      totp.DefaultWindow,
		BackupCodeCount: totp.DefaultBackupCodeCount,
		Now:             time.Now,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Issuer == "" {
		c.Issuer = d.Issuer
	}
	if c.QRBaseURL == "" {
		c.QRBaseURL = d.QRBaseURL
	}
	if c.HashRounds == 0 {
		c.HashRounds = d.HashRounds
	}
	if c.TOTPWindow < 0 {
		c.TOTPWindow = 0
	}
	if c.BackupCodeCount <= 0 {
		c.BackupCodeCount = d.BackupCodeCount
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	return c
}

// Service runs the authentication flows.
//
// Every method returns either a result or a *errors.ChatHubError. Store and
// crypto failures are logged in full and surface as ErrCodeInternal.
type Service struct {
	repo    *Repository
	cfg     Config
	hasher  password.Hasher
	logger  *log.Logger
	metrics *metrics.Metrics
}

// NewService creates a Service. logger and m may be nil.
func NewService(repo *Repository, cfg Config, logger *log.Logger, m *metrics.Metrics) *Service {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &Service{
		repo:    repo,
		cfg:     cfg,
		hasher:  password.NewHasher(cfg.HashRounds),
		logger:  logger.With("component", "auth"),
		metrics: m,
	}
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) now() time.Time {
	return s.cfg.Now()
}

// begin starts a span for op. The returned func must be deferred with a
// pointer to the named error result.
func (s *Service) begin(ctx context.Context, op string) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := telemetry.StartAuthSpan(ctx, op)
	return ctx, func(errp *error) {
		s.track(ctx, op, start, errp)
		telemetry.End(span, *errp)
	}
}

// track logs and counts the outcome of op and replaces uncoded or store
// errors with an internal error.
func (s *Service) track(ctx context.Context, op string, start time.Time, errp *error) {
	err := *errp
	elapsed := time.Since(start)

	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "auth operation completed", "operation", op, "duration_ms", elapsed.Milliseconds())
	case isPublic(err):
		s.logger.WarnContext(ctx, "auth operation rejected",
			"operation", op,
			"error_code", string(errors.CodeOf(err)),
		)
	default:
		s.logger.WithError(err).ErrorContext(ctx, "auth operation failed", "operation", op)
		err = errors.NewInternalError(err)
		*errp = err
	}

	s.metrics.RecordAuth(op, err, elapsed)
}

// isPublic reports whether err is an expected rejection that can be shown
// to the caller as is.
func isPublic(err error) bool {
	switch errors.CodeOf(err) {
	case errors.ErrCodeInvalidInput,
		errors.ErrCodeConflict,
		errors.ErrCodeInvalidCredentials,
		errors.ErrCodeInvalidOrExpiredToken,
		errors.ErrCodeInvalidCode,
		errors.ErrCodeUserNotFound,
		errors.ErrCodeUnauthorized,
		errors.ErrCodeInternal:
		return true
	}
	return false
}

// NormalizeEmail trims and lowercases email, the form used as record key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// passwordLength counts pw in UTF-16 code units, so characters outside the
// BMP count twice.
func passwordLength(pw string) int {
	return len(utf16.Encode([]rune(pw)))
}

func (s *Service) issueSession(ctx context.Context, sess Session, method string) (*IssuedSession, error) {
	id := uuid.NewString()
	sess.ExpiresAt = s.now().Add(SessionTTL).UnixMilli()
	if err := s.repo.SaveSession(ctx, id, &sess, SessionTTL); err != nil {
		return nil, err
	}
	s.metrics.RecordSessionIssued(method)
	return &IssuedSession{ID: id, Session: sess}, nil
}

// CreateGuestSession issues a session for an anonymous guest.
func (s *Service) CreateGuestSession(ctx context.Context) (res *AuthResult, err error) {
	ctx, done := s.begin(ctx, "guest")
	defer done(&err)

	userID := "guest-" + uuid.NewString()
	issued, err := s.issueSession(ctx, Session{
		UserID:  userID,
		Email:   "guest",
		IsGuest: true,
	}, "guest")
	if err != nil {
		return nil, err
	}

	return &AuthResult{
		Message: MsgGuestCreated,
		User: &User{
			ID:        userID,
			Email:     "guest",
			IsGuest:   true,
			CreatedAt: s.now().UnixMilli(),
		},
		Session: issued,
	}, nil
}

// Register creates a password account and signs it in.
func (s *Service) Register(ctx context.Context, email, pw string) (res *AuthResult, err error) {
	ctx, done := s.begin(ctx, "register")
	defer done(&err)

	email = NormalizeEmail(email)
	if !strings.Contains(email, "@") {
		return nil, errors.NewInvalidInputError(errors.MsgInvalidEmail)
	}
	if passwordLength(pw) < MinPasswordLength {
		return nil, errors.NewInvalidInputError(errors.MsgPasswordTooShort)
	}

	// Cheap check first so duplicates do not pay for hashing. CreateUser
	// below is the authoritative claim.
	exists, err := s.repo.UserExists(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.NewConflictError()
	}

	hash, err := s.hasher.Hash(pw)
	if err != nil {
		return nil, err
	}

	rec := &UserRecord{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now().UnixMilli(),
	}
	created, err := s.repo.CreateUser(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, errors.NewConflictError()
	}

	issued, err := s.issueSession(ctx, Session{UserID: rec.ID, Email: email}, "password")
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", rec.ID)
	return &AuthResult{Message: MsgRegistered, User: rec.User(), Session: issued}, nil
}

// Login checks a password. Accounts with 2FA enabled get a temp token for
// Verify2FA or VerifyBackupCode instead of a session.
func (s *Service) Login(ctx context.Context, email, pw string) (res *AuthResult, err error) {
	ctx, done := s.begin(ctx, "login")
	defer done(&err)

	email = NormalizeEmail(email)
	rec, err := s.repo.GetUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if rec == nil || !s.hasher.Verify(pw, rec.PasswordHash) {
		return nil, errors.NewInvalidCredentialsError()
	}

	now := s.now()
	rec.LastLogin = now.UnixMilli()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := s.repo.SaveUser(ctx, rec); err != nil {
		return nil, err
	}

	if rec.Has2FAEnabled {
		token := uuid.NewString()
		if err := s.repo.SaveTempToken(ctx, token, &TempToken{
			Email:     rec.Email,
			UserID:    rec.ID,
			ExpiresAt: now.Add(TempTokenTTL).UnixMilli(),
		}, TempTokenTTL); err != nil {
			return nil, err
		}
		return &AuthResult{Message: MsgEnter2FA, Requires2FA: true, TempToken: token}, nil
	}

	issued, err := s.issueSession(ctx, Session{UserID: rec.ID, Email: rec.Email}, "password")
	if err != nil {
		return nil, err
	}
	return &AuthResult{Message: MsgLoggedIn, User: rec.User(), Session: issued}, nil
}

// pending resolves a temp token to its account.
func (s *Service) pending(ctx context.Context, tempToken string) (*TempToken, *UserRecord, error) {
	if tempToken == "" {
		return nil, nil, errors.NewInvalidTokenError()
	}
	t, err := s.repo.GetTempToken(ctx, tempToken)
	if err != nil {
		return nil, nil, err
	}
	if t == nil {
		return nil, nil, errors.NewInvalidTokenError()
	}

	rec, err := s.repo.GetUser(ctx, t.Email)
	if err != nil {
		return nil, nil, err
	}
	if rec == nil || rec.Secret2FA == "" {
		return nil, nil, errors.NewUserNotFoundError()
	}
	if rec.ID == "" {
		rec.ID = t.UserID
	}
	return t, rec, nil
}

// completeSecondFactor claims the temp token and issues the session. Only
// one caller can claim a token, so concurrent verifications of the same
// login issue a single session.
func (s *Service) completeSecondFactor(ctx context.Context, tempToken string, rec *UserRecord, method string) (*IssuedSession, error) {
	claimed, err := s.repo.ClaimTempToken(ctx, tempToken, TempTokenTTL)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, errors.NewInvalidTokenError()
	}
	if err := s.repo.DeleteTempToken(ctx, tempToken); err != nil {
		return nil, err
	}
	return s.issueSession(ctx, Session{
		UserID:        rec.ID,
		Email:         rec.Email,
		Has2FAEnabled: true,
	}, method)
}

// Verify2FA completes a 2FA login with a TOTP code.
func (s *Service) Verify2FA(ctx context.Context, tempToken, code string) (res *AuthResult, err error) {
	ctx, done := s.begin(ctx, "verify_2fa")
	defer done(&err)

	_, rec, err := s.pending(ctx, tempToken)
	if err != nil {
		return nil, err
	}

	// TODO: count failed codes per temp token and revoke it after a limit.
	if !totp.Verify(rec.Secret2FA, code, s.now(), s.cfg.TOTPWindow) {
		return nil, errors.NewInvalidCodeError()
	}

	issued, err := s.completeSecondFactor(ctx, tempToken, rec, "totp")
	if err != nil {
		return nil, err
	}
	return &AuthResult{Message: MsgVerified2FA, User: rec.User(), Session: issued}, nil
}

// VerifyBackupCode completes a 2FA login with a backup code. A code is
// accepted once.
func (s *Service) VerifyBackupCode(ctx context.Context, tempToken, code string) (res *AuthResult, err error) {
	ctx, done := s.begin(ctx, "verify_backup_code")
	defer done(&err)

	t, rec, err := s.pending(ctx, tempToken)
	if err != nil {
		return nil, err
	}

	// Redemptions for one account are serialized so two logins cannot
	// spend the same code or lose each other's removal.
	locked, err := s.repo.LockBackupCodes(ctx, rec.ID, backupLockTTL)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, errors.NewInvalidCodeError()
	}
	defer s.repo.UnlockBackupCodes(context.WithoutCancel(ctx), rec.ID)

	// Re-read under the lock.
	rec, err = s.repo.GetUser(ctx, t.Email)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Secret2FA == "" {
		return nil, errors.NewUserNotFoundError()
	}
	if rec.ID == "" {
		rec.ID = t.UserID
	}

	idx := totp.MatchBackupCode(rec.BackupCodes, code)
	if idx < 0 {
		return nil, errors.NewInvalidCodeError()
	}

	claimed, err := s.repo.ClaimTempToken(ctx, tempToken, TempTokenTTL)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, errors.NewInvalidTokenError()
	}

	remaining := make([]string, 0, len(rec.BackupCodes)-1)
	remaining = append(remaining, rec.BackupCodes[:idx]...)
	remaining = append(remaining, rec.BackupCodes[idx+1:]...)
	rec.BackupCodes = remaining
	if err := s.repo.SaveUser(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.repo.DeleteTempToken(ctx, tempToken); err != nil {
		return nil, err
	}

	issued, err := s.issueSession(ctx, Session{
		UserID:        rec.ID,
		Email:         rec.Email,
		Has2FAEnabled: true,
	}, "backup_code")
	if err != nil {
		return nil, err
	}

	left := len(remaining)
	s.logger.InfoContext(ctx, "backup code consumed", "user_id", rec.ID, "remaining", left)
	return &AuthResult{
		Message:              MsgBackupAccepted,
		User:                 rec.User(),
		Session:              issued,
		BackupCodesRemaining: &left,
	}, nil
}

// Setup2FA generates a secret and backup codes for email. They are stored
// but not active until Enable2FA confirms a code. Calling it again replaces
// any pending secret.
func (s *Service) Setup2FA(ctx context.Context, email string) (res *SetupResult, err error) {
	ctx, done := s.begin(ctx, "setup_2fa")
	defer done(&err)

	rec, err := s.repo.GetUser(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.NewUserNotFoundError()
	}

	secret, err := totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	codes, err := totp.GenerateBackupCodes(s.cfg.BackupCodeCount)
	if err != nil {
		return nil, err
	}

	rec.Secret2FA = secret
	rec.BackupCodes = codes
	if err := s.repo.SaveUser(ctx, rec); err != nil {
		return nil, err
	}

	uri := totp.ProvisioningURI(s.cfg.Issuer, rec.Email, secret)
	return &SetupResult{
		Secret:      secret,
		QRCode:      totp.QRCodeURL(s.cfg.QRBaseURL, uri),
		BackupCodes: codes,
	}, nil
}

// Enable2FA activates the pending secret once code verifies against it.
func (s *Service) Enable2FA(ctx context.Context, email, code string) (err error) {
	ctx, done := s.begin(ctx, "enable_2fa")
	defer done(&err)

	rec, err := s.repo.GetUser(ctx, NormalizeEmail(email))
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.NewUserNotFoundError()
	}
	if rec.Secret2FA == "" || !totp.Verify(rec.Secret2FA, code, s.now(), s.cfg.TOTPWindow) {
		return errors.NewInvalidCodeError()
	}

	rec.Has2FAEnabled = true
	if err := s.repo.SaveUser(ctx, rec); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "2fa enabled", "user_id", rec.ID)
	return nil
}

// Disable2FA removes the secret and backup codes in one write.
func (s *Service) Disable2FA(ctx context.Context, email string) (err error) {
	ctx, done := s.begin(ctx, "disable_2fa")
	defer done(&err)

	rec, err := s.repo.GetUser(ctx, NormalizeEmail(email))
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.NewUserNotFoundError()
	}

	rec.Has2FAEnabled = false
	rec.Secret2FA = ""
	rec.BackupCodes = nil
	if err := s.repo.SaveUser(ctx, rec); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "2fa disabled", "user_id", rec.ID)
	return nil
}

// ValidateSession returns the live session for sessionID.
func (s *Service) ValidateSession(ctx context.Context, sessionID string) (sess *Session, err error) {
	ctx, done := s.begin(ctx, "validate_session")
	defer done(&err)

	if sessionID == "" {
		return nil, errors.NewInvalidTokenError()
	}
	sess, err = s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, errors.NewInvalidTokenError()
	}
	return sess, nil
}

// Logout deletes the session. It always succeeds; store failures are
// only logged.
func (s *Service) Logout(ctx context.Context, sessionID string) {
	start := time.Now()
	ctx, span := telemetry.StartAuthSpan(ctx, "logout")
	defer span.End()

	var err error
	if sessionID != "" {
		err = s.repo.DeleteSession(ctx, sessionID)
	}
	if err != nil {
		s.logger.WithError(err).WarnContext(ctx, "logout could not delete session")
		span.RecordError(err)
	}
	s.metrics.RecordAuth("logout", nil, time.Since(start))
}
