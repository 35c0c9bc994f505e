package api

import (
	"encoding/json"
	"net/http"

	"github.com/felixgeelhaar/chathub/internal/errors"
)

// Messages produced by the HTTP layer itself.
const (
	MsgInvalidBody       = "Invalid request body"
	MsgMissingFields     = "Missing required fields"
	MsgSessionRequired   = "Session ID is required"
	MsgGuestForbidden    = "Guest sessions cannot manage 2FA"
	MsgEnableFailed      = "Invalid code or failed to enable 2FA"
	MsgEnabled           = "2FA enabled successfully"
	MsgDisabled          = "2FA disabled successfully"
	MsgLoggedOut         = "Logged out successfully"
	MsgEndpointNotFound  = "Endpoint not found"
	MsgMethodNotAllowed  = "Method not allowed"
	MsgInternalServerErr = "Internal server error"
)

// statusBody is the shape of every failed response and of successful
// responses without a payload.
type statusBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, statusBody{Success: false, Message: msg})
}

// statusFor maps an error code to the HTTP status of its response.
func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeInvalidInput,
		errors.ErrCodeConflict,
		errors.ErrCodeInvalidCredentials,
		errors.ErrCodeInvalidOrExpiredToken,
		errors.ErrCodeInvalidCode:
		return http.StatusBadRequest
	case errors.ErrCodeUserNotFound:
		return http.StatusNotFound
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with the status for its code. Uncoded errors
// become a 500 with a generic message.
func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := statusFor(code)
	msg := errors.PublicMessage(err)
	if status == http.StatusInternalServerError {
		msg = MsgInternalServerErr
	}
	writeMessage(w, status, msg)
}
