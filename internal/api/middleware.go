package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/felixgeelhaar/chathub/internal/auth"
	"github.com/felixgeelhaar/chathub/internal/errors"
	"github.com/felixgeelhaar/chathub/internal/telemetry"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	sessionContextKey   contextKey = "chathub_session"
	sessionIDContextKey contextKey = "chathub_session_id"
)

// BearerToken returns the token from an "Authorization: Bearer" header,
// or the empty string.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// SessionFrom returns the session attached by RequireSession.
func SessionFrom(ctx context.Context) (*auth.Session, string, bool) {
	sess, ok := ctx.Value(sessionContextKey).(*auth.Session)
	if !ok {
		return nil, "", false
	}
	id, _ := ctx.Value(sessionIDContextKey).(string)
	return sess, id, true
}

// RequireSession rejects requests without a live bearer session with 401
// and attaches the session to the request context otherwise.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := BearerToken(r)
		if id == "" {
			writeMessage(w, http.StatusUnauthorized, errors.MsgInvalidToken)
			return
		}

		sess, err := h.svc.ValidateSession(r.Context(), id)
		if err != nil {
			if errors.HasCode(err, errors.ErrCodeInvalidOrExpiredToken) {
				writeMessage(w, http.StatusUnauthorized, errors.MsgInvalidToken)
				return
			}
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, sess)
		ctx = context.WithValue(ctx, sessionIDContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RejectGuests answers 403 for guest sessions. It must run after
// RequireSession.
func RejectGuests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _, ok := SessionFrom(r.Context())
		if !ok || sess.IsGuest {
			writeMessage(w, http.StatusForbidden, MsgGuestForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// observe logs every request and records it in the HTTP metrics, labelled
// by route pattern so ids never become label values.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		ctx, span := telemetry.StartHTTPSpan(r.Context(), r.Method)
		r = r.WithContext(ctx)

		defer func() {
			elapsed := time.Since(start)
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			h.metrics.RecordHTTP(r.Method, route, status, elapsed)
			telemetry.SetRoute(span, r.Method, route, status)
			span.End()
			h.logger.InfoContext(r.Context(), "http request completed",
				"method", r.Method,
				"route", route,
				"status", status,
				"bytes", ww.BytesWritten(),
				"elapsed_ms", elapsed.Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// recoverer turns a panic into a logged 500.
func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.logger.ErrorContext(r.Context(), "http handler panic",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
				)
				writeMessage(w, http.StatusInternalServerError, MsgInternalServerErr)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
