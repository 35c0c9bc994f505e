package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Auth errors (AUTH-001 to AUTH-099)
	ErrCodeInvalidInput          ErrorCode = "AUTH-001"
	ErrCodeConflict              ErrorCode = "AUTH-002"
	ErrCodeInvalidCredentials    ErrorCode = "AUTH-003"
	ErrCodeInvalidOrExpiredToken ErrorCode = "AUTH-004"
	ErrCodeInvalidCode           ErrorCode = "AUTH-005"
	ErrCodeUserNotFound          ErrorCode = "AUTH-006"
	ErrCodeUnauthorized          ErrorCode = "AUTH-007"
	ErrCodeInternal              ErrorCode = "AUTH-099"

	// Store errors (KV-001 to KV-099)
	ErrCodeStoreUnavailable ErrorCode = "KV-001"
	ErrCodeStoreCorrupt     ErrorCode = "KV-002"

	// Configuration errors (CONFIG-001 to CONFIG-099)
	ErrCodeConfigInvalid ErrorCode = "CONFIG-001"
	ErrCodeConfigRead    ErrorCode = "CONFIG-002"
)

// User-facing messages. Credential paths share one message so callers
// cannot tell a missing account from a wrong password.
const (
	MsgInvalidEmail       = "Invalid email address"
	MsgPasswordTooShort   = "Password must be at least 6 characters"
	MsgUserExists         = "User already exists"
	MsgInvalidCredentials = "Invalid credentials"
	MsgInvalidToken       = "Invalid or expired token"
	MsgUserNotFound       = "User not found"
	MsgInvalidCode        = "Invalid 2FA code"
	MsgInternal           = "Internal error"
)

// ChatHubError represents an error with a stable code, a message that is
// safe to show to end users, and an optional internal cause.
type ChatHubError struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	Cause       error
}

// Error implements the error interface
func (e *ChatHubError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *ChatHubError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a ChatHubError with the same code.
func (e *ChatHubError) Is(target error) bool {
	t, ok := target.(*ChatHubError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates a new ChatHubError
func New(code ErrorCode, message string) *ChatHubError {
	return &ChatHubError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new ChatHubError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *ChatHubError {
	return &ChatHubError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *ChatHubError) WithSuggestion(suggestion string) *ChatHubError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// CodeOf returns the code of the first ChatHubError in err's chain,
// or the empty code if there is none.
func CodeOf(err error) ErrorCode {
	var chErr *ChatHubError
	if stderrors.As(err, &chErr) {
		return chErr.Code
	}
	return ""
}

// HasCode reports whether err's chain contains a ChatHubError with code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// PublicMessage returns the user-facing message for err. Errors that are
// not ChatHubErrors never leak their text.
func PublicMessage(err error) string {
	var chErr *ChatHubError
	if stderrors.As(err, &chErr) && chErr.Message != "" {
		return chErr.Message
	}
	return MsgInternal
}

// Common error constructors

// NewInvalidInputError creates a validation error with a specific message.
func NewInvalidInputError(message string) *ChatHubError {
	return New(ErrCodeInvalidInput, message)
}

// NewConflictError creates a duplicate registration error.
func NewConflictError() *ChatHubError {
	return New(ErrCodeConflict, MsgUserExists)
}

// NewInvalidCredentialsError creates the generic credential failure.
func NewInvalidCredentialsError() *ChatHubError {
	return New(ErrCodeInvalidCredentials, MsgInvalidCredentials)
}

// NewInvalidTokenError creates a missing or expired token error.
func NewInvalidTokenError() *ChatHubError {
	return New(ErrCodeInvalidOrExpiredToken, MsgInvalidToken)
}

// NewInvalidCodeError creates a second-factor mismatch error.
func NewInvalidCodeError() *ChatHubError {
	return New(ErrCodeInvalidCode, MsgInvalidCode)
}

// NewUserNotFoundError creates a missing account error.
func NewUserNotFoundError() *ChatHubError {
	return New(ErrCodeUserNotFound, MsgUserNotFound)
}

// NewInternalError hides cause behind a generic message.
func NewInternalError(cause error) *ChatHubError {
	return Wrap(ErrCodeInternal, MsgInternal, cause)
}

// NewStoreUnavailableError creates a remote store failure.
func NewStoreUnavailableError(command string, cause error) *ChatHubError {
	return Wrap(ErrCodeStoreUnavailable, fmt.Sprintf("kv backend unavailable for %s", command), cause)
}

// NewConfigInvalidError creates a configuration validation error.
func NewConfigInvalidError(details string, cause error) *ChatHubError {
	return Wrap(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", details), cause).
		WithSuggestion("Check chathub.yaml and CHATHUB_* environment variables").
		WithSuggestion("Run 'chathub serve --help' to see flag defaults")
}
