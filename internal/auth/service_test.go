package auth

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/chathub/internal/errors"
	"github.com/felixgeelhaar/chathub/internal/kv"
	"github.com/felixgeelhaar/chathub/internal/log"
	"github.com/felixgeelhaar/chathub/internal/metrics"
	"github.com/felixgeelhaar/chathub/internal/password"
	"github.com/felixgeelhaar/chathub/internal/totp"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     *Service
	store   *kv.MemoryStore
	clock   *clock
	metrics *metrics.Metrics
	logs    *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := kv.NewMemoryStore()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	var logs bytes.Buffer
	logger := log.New(log.Config{Level: log.LevelDebug, Output: &logs})

	cfg := DefaultConfig()
	cfg.HashRounds = password.MinRounds
	cfg.Now = clk.Now

	svc := NewService(NewRepository(store, clk.Now), cfg, logger, m)
	return &fixture{svc: svc, store: store, clock: clk, metrics: m, logs: &logs}
}

// enable2FA registers email and turns on 2FA, returning the setup.
func (f *fixture) enable2FA(t *testing.T, email, pw string) *SetupResult {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Register(ctx, email, pw)
	require.NoError(t, err)

	setup, err := f.svc.Setup2FA(ctx, email)
	require.NoError(t, err)
	code, err := totp.GenerateCode(setup.Secret, f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.svc.Enable2FA(ctx, email, code))
	return setup
}

func assertCode(t *testing.T, err error, code errors.ErrorCode, msg string) {
	t.Helper()
	require.Error(t, err)
	var chErr *errors.ChatHubError
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, code, chErr.Code)
	if msg != "" {
		assert.Equal(t, msg, chErr.Message)
	}
}

func TestCreateGuestSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateGuestSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, MsgGuestCreated, res.Message)
	require.NotNil(t, res.Session)
	assert.True(t, res.Session.IsGuest)
	assert.Equal(t, "guest", res.Session.Email)
	assert.True(t, strings.HasPrefix(res.Session.UserID, "guest-"))
	assert.Equal(t, res.Session.UserID, res.User.ID)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour).UnixMilli(), res.Session.ExpiresAt)
	assert.Equal(t, 1, f.store.Count())

	sess, err := f.svc.ValidateSession(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.True(t, sess.IsGuest)

	other, err := f.svc.CreateGuestSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, res.Session.UserID, other.Session.UserID)
	assert.NotEqual(t, res.Session.ID, other.Session.ID)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.SessionsIssued.WithLabelValues("guest")))
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Register(ctx, "alice@test.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, MsgRegistered, res.Message)
	assert.Equal(t, "alice@test.com", res.User.Email)
	assert.False(t, res.User.Has2FAEnabled)
	assert.False(t, res.User.IsGuest)
	assert.NotEmpty(t, res.User.ID)
	assert.Equal(t, res.User.ID, res.Session.UserID)
	assert.False(t, res.Session.IsGuest)

	rec, err := f.svc.repo.GetUser(ctx, "alice@test.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, strings.HasPrefix(rec.PasswordHash, "$2a$4$"))
	assert.NotContains(t, rec.PasswordHash, "secret1")
	assert.Empty(t, rec.Secret2FA)
	assert.Equal(t, f.clock.Now().UnixMilli(), rec.CreatedAt)
}

func TestRegisterNormalizesEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, " Alice@Test.COM ", "secret1")
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, "alice@test.com", "another1")
	assertCode(t, err, errors.ErrCodeConflict, errors.MsgUserExists)

	res, err := f.svc.Login(ctx, "ALICE@test.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice@test.com", res.User.Email)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
		msg      string
	}{
		{"missing at sign", "alice.test.com", "secret1", errors.MsgInvalidEmail},
		{"empty email", "", "secret1", errors.MsgInvalidEmail},
		{"short password", "bob@test.com", "12345", errors.MsgPasswordTooShort},
		{"empty password", "bob@test.com", "", errors.MsgPasswordTooShort},
		{"two emoji are four code units", "bob@test.com", "\U0001F600\U0001F600", errors.MsgPasswordTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, tt.email, tt.password)
			assertCode(t, err, errors.ErrCodeInvalidInput, tt.msg)
		})
	}

	_, err := f.svc.Register(ctx, "bob@test.com", "123456")
	assert.NoError(t, err, "six characters is enough")

	_, err = f.svc.Register(ctx, "emoji@test.com", "\U0001F600\U0001F600\U0001F600")
	assert.NoError(t, err, "three emoji are six code units")
	assert.Equal(t, 5.0, testutil.ToFloat64(f.metrics.AuthErrors.WithLabelValues("register", "AUTH-001")))
}

func TestRegisterConcurrentSameEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Register(ctx, "race@test.com", "secret1")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.HasCode(err, errors.ErrCodeConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, "alice@test.com", "secret1")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	res, err := f.svc.Login(ctx, "alice@test.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, MsgLoggedIn, res.Message)
	assert.False(t, res.Requires2FA)
	assert.Empty(t, res.TempToken)
	require.NotNil(t, res.Session)
	assert.Equal(t, reg.User.ID, res.Session.UserID)
	assert.NotEqual(t, reg.Session.ID, res.Session.ID)

	rec, err := f.svc.repo.GetUser(ctx, "alice@test.com")
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().UnixMilli(), rec.LastLogin)
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "alice@test.com", "secret1")
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "alice@test.com", "wrong-password")
	assertCode(t, err, errors.ErrCodeInvalidCredentials, errors.MsgInvalidCredentials)

	_, err = f.svc.Login(ctx, "nobody@test.com", "secret1")
	assertCode(t, err, errors.ErrCodeInvalidCredentials, errors.MsgInvalidCredentials)

	assert.NotContains(t, f.logs.String(), "wrong-password")
	assert.NotContains(t, f.logs.String(), "secret1")
}

func TestLoginAssignsMissingUserID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hash, err := password.NewHasher(password.MinRounds).Hash("secret1")
	require.NoError(t, err)
	legacy := fmt.Sprintf(`{"email":"old@test.com","passwordHash":%q,"has2FAEnabled":false,"createdAt":1}`, hash)
	require.NoError(t, f.store.Set(ctx, kv.UserKey("old@test.com"), legacy, 0))

	res, err := f.svc.Login(ctx, "old@test.com", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.User.ID)

	again, err := f.svc.Login(ctx, "old@test.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, again.User.ID, "id is stable once assigned")
}

func TestTwoFactorFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setup := f.enable2FA(t, "alice@test.com", "secret1")

	res, err := f.svc.Login(ctx, "alice@test.com", "secret1")
	require.NoError(t, err)
	assert.True(t, res.Requires2FA)
	assert.Equal(t, MsgEnter2FA, res.Message)
	assert.NotEmpty(t, res.TempToken)
	assert.Nil(t, res.Session)

	f.clock.Advance(30 * time.Second)
	code, err := totp.GenerateCode(setup.Secret, f.clock.Now())
	require.NoError(t, err)

	verified, err := f.svc.Verify2FA(ctx, res.TempToken, code)
	require.NoError(t, err)
	assert.Equal(t, MsgVerified2FA, verified.Message)
	require.NotNil(t, verified.Session)
	assert.True(t, verified.Session.Has2FAEnabled)
	assert.Equal(t, "alice@test.com", verified.Session.Email)

	_, err = f.svc.Verify2FA(ctx, res.TempToken, code)
	assertCode(t, err, errors.ErrCodeInvalidOrExpiredToken, errors.MsgInvalidToken)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SessionsIssued.WithLabelValues("totp")))
}

func TestVerify2FAFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setup := f.enable2FA(t, "alice@test.com", "secret1")

	res, err := f.svc.Login(ctx, "alice@test.com", "secret1")
	require.NoError(t, err)

	t.Run("unknown token", func(t *testing.T) {
		_, err := f.svc.Verify2FA(ctx, "not-a-token", "123456")
		assertCode(t, err, errors.ErrCodeInvalidOrExpiredToken, errors.MsgInvalidToken)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := f.svc.Verify2FA(ctx, "", "123456")
		assertCode(t, err, errors.ErrCodeInvalidOrExpiredToken, "")
	})

	t.Run("wrong code keeps the token", func(t *testing.T) {
		code, err := totp.GenerateCode(setup.Secret, f.clock.Now().Add(10*time.Minute))
		require.NoError(t, err)
		_, err = f.svc.Verify2FA(ctx, res.TempToken, code)
		assertCode(t, err, errors.ErrCodeInvalidCode, errors.MsgInvalidCode)

		_, err = f.svc.Verify2FA(ctx, res.TempToken, "abc")
		assertCode(t, err, errors.ErrCodeInvalidCode, "")

		exists, err := f.store.Exists(ctx, kv.TempKey(res.TempToken))
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("user deleted", func(t *testing.T) {
		login, err := f.svc.Login(ctx, "alice@test.com", "secret1")
		require.NoError(t, err)
		require.NoError(t, f.store.Delete(ctx, kv.UserKey("alice@test.com")))

		_, err = f.svc.Verify2FA(ctx, login.TempToken, "123456")
		assertCode(t, err, errors.ErrCodeUserNotFound, errors.MsgUserNotFound)
	})
}

func TestTempTokenExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setup := f.enable2FA(t, "alice@test.com", "secret1")

	res, err := f.svc.Login(ctx, "alice@test.com", "secret1")
	require.NoError(t, err)

	f.clock.Advance(5*time.Minute + time.Second)
	code, err := totp.GenerateCode(setup.Secret, f.clock.Now())
	require.NoError(t, err)

	_, err = f.svc.Verify2FA(ctx, res.TempToken, code)
	assertCode(t, err, errors.ErrCodeInvalidOrExpiredToken, errors.MsgInvalidToken)

	exists, err := f.store.Exists(ctx, kv.TempKey(res.TempToken))
	require.NoError(t, err)
	assert.False(t, exists, "expired token is evicted on read")
}

func TestVerifyBackupCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setup := f.enable2FA(t, "alice@test.com", "secret1")
	require.Len(t, setup.BackupCodes, totp.DefaultBackupCodeCount)

	res, err := f.svc.Login(ctx, "alice@test.com", "secret1")
	require.NoError(t, err)

	_, err = f.svc.VerifyBackupCode(ctx, res.TempToken, "ZZZZ-ZZZZ")
	assertCode(t, err, errors.ErrCodeInvalidCode, errors.MsgInvalidCode)

	used := setup.BackupCodes[3]
	typed := strings.ToLower(strings.ReplaceAll(used, "-", ""))
	verified, err := f.svc.VerifyBackupCode(ctx, res.TempToken, typed)
	require.NoError(t, err)
	assert.Equal(t, MsgBackupAccepted, verified.Message)
	require.NotNil(t, verified.Session)
	assert.True(t, verified.Session.Has2FAEnabled)
	require.NotNil(t, verified.BackupCodesRemaining)
	assert.Equal(t, totp.DefaultBackupCodeCount-1, *verified.BackupCodesRemaining)

	rec, err := f.svc.repo.GetUser(ctx, "alice@test.com")
	require.NoError(t, err)
	assert.NotContains(t, rec.BackupCodes, used)
	assert.Len(t, rec.BackupCodes, totp.DefaultBackupCodeCount-1)

	again, err := f.svc.Login(ctx, "alice@test.com", "secret1")
	require.NoError(t, err)
	_, err = f.svc.VerifyBackupCode(ctx, again.TempToken, used)
	assertCode(t, err, errors.ErrCodeInvalidCode, errors.MsgInvalidCode)

	_, err = f.svc.VerifyBackupCode(ctx, again.TempToken, setup.BackupCodes[0])
	assert.NoError(t, err)
}

func TestVerify2FAConcurrentIssuesOneSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setup := f.enable2FA(t, "alice@test.com", "secret1")

	res, err := f.svc.Login(ctx, "alice@test.com", "secret1")
	require.NoError(t, err)
	code, err := totp.GenerateCode(setup.Secret, f.clock.Now())
	require.NoError(t, err)

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Verify2FA(ctx, res.TempToken, code)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.HasCode(err, errors.ErrCodeInvalidOrExpiredToken) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, rejected)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SessionsIssued.WithLabelValues("totp")))
}

func TestVerifyBackupCodeConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setup := f.enable2FA(t, "alice@test.com", "secret1")

	const n = 8
	tokens := make([]string, n)
	for i := range tokens {
		res, err := f.svc.Login(ctx, "alice@test.com", "secret1")
		require.NoError(t, err)
		tokens[i] = res.TempToken
	}

	// Half the logins race for the same code, the rest use their own.
	codes := make([]string, n)
	for i := range codes {
		if i < n/2 {
			codes[i] = setup.BackupCodes[0]
		} else {
			codes[i] = setup.BackupCodes[i]
		}
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		spent = map[string]int{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.svc.VerifyBackupCode(ctx, tokens[i], codes[i]); err == nil {
				mu.Lock()
				spent[codes[i]]++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	rec, err := f.svc.repo.GetUser(ctx, "alice@test.com")
	require.NoError(t, err)
	for _, c := range setup.BackupCodes {
		switch spent[c] {
		case 0:
			assert.Contains(t, rec.BackupCodes, c, "unspent code is kept")
		case 1:
			assert.NotContains(t, rec.BackupCodes, c, "spent code is removed")
		default:
			t.Errorf("code %s accepted %d times", c, spent[c])
		}
	}

	exists, err := f.store.Exists(ctx, kv.BackupLockKey(rec.ID))
	require.NoError(t, err)
	assert.False(t, exists, "lock is released")
}

func TestVerifyBackupCodeWhileLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setup := f.enable2FA(t, "alice@test.com", "secret1")

	res, err := f.svc.Login(ctx, "alice@test.com", "secret1")
	require.NoError(t, err)
	rec, err := f.svc.repo.GetUser(ctx, "alice@test.com")
	require.NoError(t, err)

	require.NoError(t, f.store.Set(ctx, kv.BackupLockKey(rec.ID), "1", time.Minute))
	_, err = f.svc.VerifyBackupCode(ctx, res.TempToken, setup.BackupCodes[0])
	assertCode(t, err, errors.ErrCodeInvalidCode, errors.MsgInvalidCode)

	require.NoError(t, f.store.Delete(ctx, kv.BackupLockKey(rec.ID)))
	_, err = f.svc.VerifyBackupCode(ctx, res.TempToken, setup.BackupCodes[0])
	require.NoError(t, err, "the token survives a busy lock")

	_, err = f.svc.VerifyBackupCode(ctx, res.TempToken, setup.BackupCodes[1])
	assertCode(t, err, errors.ErrCodeInvalidOrExpiredToken, errors.MsgInvalidToken)
}

func TestSetup2FA(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Setup2FA(ctx, "nobody@test.com")
	assertCode(t, err, errors.ErrCodeUserNotFound, errors.MsgUserNotFound)

	_, err = f.svc.Register(ctx, "alice@test.com", "secret1")
	require.NoError(t, err)

	setup, err := f.svc.Setup2FA(ctx, "alice@test.com")
	require.NoError(t, err)
	assert.Len(t, setup.Secret, 32)
	assert.Len(t, setup.BackupCodes, 10)
	assert.True(t, strings.HasPrefix(setup.QRCode, totp.DefaultQRBaseURL+"&data="))
	assert.Contains(t, setup.QRCode, "otpauth%3A%2F%2Ftotp%2FChatHub%3Aalice%40test.com")

	rec, err := f.svc.repo.GetUser(ctx, "alice@test.com")
	require.NoError(t, err)
	assert.Equal(t, setup.Secret, rec.Secret2FA)
	assert.False(t, rec.Has2FAEnabled, "setup alone does not enable")

	login, err := f.svc.Login(ctx, "alice@test.com", "secret1")
	require.NoError(t, err)
	assert.False(t, login.Requires2FA)

	second, err := f.svc.Setup2FA(ctx, "alice@test.com")
	require.NoError(t, err)
	assert.NotEqual(t, setup.Secret, second.Secret)

	rec, err = f.svc.repo.GetUser(ctx, "alice@test.com")
	require.NoError(t, err)
	assert.Equal(t, second.Secret, rec.Secret2FA, "repeat setup overwrites")
}

func TestEnable2FA(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.Enable2FA(ctx, "nobody@test.com", "123456")
	assertCode(t, err, errors.ErrCodeUserNotFound, "")

	_, err = f.svc.Register(ctx, "alice@test.com", "secret1")
	require.NoError(t, err)

	err = f.svc.Enable2FA(ctx, "alice@test.com", "123456")
	assertCode(t, err, errors.ErrCodeInvalidCode, "")

	setup, err := f.svc.Setup2FA(ctx, "alice@test.com")
	require.NoError(t, err)

	wrong, err := totp.GenerateCode(setup.Secret, f.clock.Now().Add(-time.Hour))
	require.NoError(t, err)
	err = f.svc.Enable2FA(ctx, "alice@test.com", wrong)
	assertCode(t, err, errors.ErrCodeInvalidCode, "")

	code, err := totp.GenerateCode(setup.Secret, f.clock.Now().Add(-30*time.Second))
	require.NoError(t, err)
	require.NoError(t, f.svc.Enable2FA(ctx, "alice@test.com", code), "previous step is inside the window")

	rec, err := f.svc.repo.GetUser(ctx, "alice@test.com")
	require.NoError(t, err)
	assert.True(t, rec.Has2FAEnabled)
}

func TestDisable2FA(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.Disable2FA(ctx, "nobody@test.com")
	assertCode(t, err, errors.ErrCodeUserNotFound, "")

	f.enable2FA(t, "alice@test.com", "secret1")
	require.NoError(t, f.svc.Disable2FA(ctx, "alice@test.com"))

	rec, err := f.svc.repo.GetUser(ctx, "alice@test.com")
	require.NoError(t, err)
	assert.False(t, rec.Has2FAEnabled)
	assert.Empty(t, rec.Secret2FA)
	assert.Empty(t, rec.BackupCodes)

	res, err := f.svc.Login(ctx, "alice@test.com", "secret1")
	require.NoError(t, err)
	assert.False(t, res.Requires2FA)
	assert.NotNil(t, res.Session)
}

func TestSessionExpiryAndLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Register(ctx, "alice@test.com", "secret1")
	require.NoError(t, err)
	id := res.Session.ID

	_, err = f.svc.ValidateSession(ctx, id)
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	_, err = f.svc.ValidateSession(ctx, id)
	assertCode(t, err, errors.ErrCodeInvalidOrExpiredToken, "")
	exists, err := f.store.Exists(ctx, kv.SessionKey(id))
	require.NoError(t, err)
	assert.False(t, exists)

	login, err := f.svc.Login(ctx, "alice@test.com", "secret1")
	require.NoError(t, err)
	f.svc.Logout(ctx, login.Session.ID)
	f.svc.Logout(ctx, login.Session.ID)
	f.svc.Logout(ctx, "")

	_, err = f.svc.ValidateSession(ctx, login.Session.ID)
	assertCode(t, err, errors.ErrCodeInvalidOrExpiredToken, "")

	_, err = f.svc.ValidateSession(ctx, "")
	assertCode(t, err, errors.ErrCodeInvalidOrExpiredToken, "")
}

func TestCorruptRecordIsInternal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, kv.UserKey("alice@test.com"), "{not json", 0))

	_, err := f.svc.Login(ctx, "alice@test.com", "secret1")
	assertCode(t, err, errors.ErrCodeInternal, errors.MsgInternal)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInternal))
	assert.Equal(t, errors.MsgInternal, errors.PublicMessage(err))

	assert.Contains(t, f.logs.String(), "auth operation failed")
	assert.Contains(t, f.logs.String(), "KV-002")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuthErrors.WithLabelValues("login", "AUTH-099")))
}

// failingStore fails every command, as a broken local store would.
type failingStore struct{}

var errBroken = fmt.Errorf("disk full")

func (failingStore) Set(context.Context, string, string, time.Duration) error { return errBroken }
func (failingStore) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errBroken
}
func (failingStore) Get(context.Context, string) (string, bool, error) { return "", false, errBroken }
func (failingStore) Delete(context.Context, string) error              { return errBroken }
func (failingStore) Exists(context.Context, string) (bool, error)      { return false, errBroken }
func (failingStore) Expire(context.Context, string, time.Duration) (bool, error) {
	return false, errBroken
}

func TestStoreFailuresAreInternal(t *testing.T) {
	var logs bytes.Buffer
	svc := NewService(NewRepository(failingStore{}, nil), Config{HashRounds: password.MinRounds},
		log.New(log.Config{Level: log.LevelWarn, Output: &logs}), nil)
	ctx := context.Background()

	_, err := svc.CreateGuestSession(ctx)
	assertCode(t, err, errors.ErrCodeInternal, errors.MsgInternal)

	_, err = svc.Register(ctx, "alice@test.com", "secret1")
	assertCode(t, err, errors.ErrCodeInternal, "")

	_, err = svc.ValidateSession(ctx, "abc")
	assertCode(t, err, errors.ErrCodeInternal, "")

	svc.Logout(ctx, "abc")
	assert.Contains(t, logs.String(), "logout could not delete session")
	assert.Contains(t, logs.String(), "disk full")
}

func TestServiceOverAdapterFallback(t *testing.T) {
	remote, err := kv.NewRedisStore("redis://127.0.0.1:1/0", 200*time.Millisecond)
	require.NoError(t, err)
	defer remote.Close()

	adapter := kv.NewAdapter(remote, kv.ModeRedis, nil, log.Discard(), nil)
	svc := NewService(NewRepository(adapter, nil), Config{HashRounds: password.MinRounds}, log.Discard(), nil)
	ctx := context.Background()

	_, err = svc.Register(ctx, "alice@test.com", "secret1")
	require.NoError(t, err)
	res, err := svc.Login(ctx, "alice@test.com", "secret1")
	require.NoError(t, err)
	assert.NotNil(t, res.Session)
}

func TestConfigDefaults(t *testing.T) {
	svc := NewService(NewRepository(kv.NewMemoryStore(), nil), Config{TOTPWindow: -3}, log.Discard(), nil)
	cfg := svc.Config()
	assert.Equal(t, "ChatHub", cfg.Issuer)
	assert.Equal(t, totp.DefaultQRBaseURL, cfg.QRBaseURL)
	assert.Equal(t, password.DefaultRounds, cfg.HashRounds)
	assert.Equal(t, 0, cfg.TOTPWindow)
	assert.Equal(t, 10, cfg.BackupCodeCount)
	assert.NotNil(t, cfg.Now)
}
