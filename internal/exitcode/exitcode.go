// Package exitcode maps command errors to process exit codes.
package exitcode

import (
	"context"
	stderrors "errors"
	"os"
	"strings"

	"github.com/felixgeelhaar/chathub/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates successful execution
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage or configuration
	UsageError = 2

	// AuthError indicates a rejected credential, token or 2FA code
	AuthError = 3

	// StoreError indicates the KV backend could not be used
	StoreError = 4

	// Interrupted indicates the process stopped on SIGINT or SIGTERM
	Interrupted = 130
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	Exit(DetermineExitCode(err))
}

// DetermineExitCode picks an exit code from the error's code, falling back
// to cobra's usage messages.
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}
	if stderrors.Is(err, context.Canceled) {
		return Interrupted
	}

	code := string(errors.CodeOf(err))
	switch {
	case strings.HasPrefix(code, "CONFIG-"):
		return UsageError
	case strings.HasPrefix(code, "KV-"):
		return StoreError
	case code == string(errors.ErrCodeInvalidInput):
		return UsageError
	case code == string(errors.ErrCodeInternal):
		return GeneralError
	case strings.HasPrefix(code, "AUTH-"):
		return AuthError
	}

	errMsg := strings.ToLower(err.Error())
	for _, usage := range []string{"unknown command", "unknown flag", "invalid argument", "required flag", "accepts "} {
		if strings.Contains(errMsg, usage) {
			return UsageError
		}
	}
	return GeneralError
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags, arguments or configuration)"
	case AuthError:
		return "Authentication error"
	case StoreError:
		return "Key-value store error"
	case Interrupted:
		return "Interrupted"
	default:
		return "Unknown error"
	}
}
