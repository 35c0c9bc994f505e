// Package api serves the auth service over HTTP.
package api

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/felixgeelhaar/chathub/internal/auth"
	"github.com/felixgeelhaar/chathub/internal/errors"
	"github.com/felixgeelhaar/chathub/internal/log"
	"github.com/felixgeelhaar/chathub/internal/metrics"
)

// maxBodySize caps request bodies.
const maxBodySize = 64 << 10

// Options configures a Handler.
type Options struct {
	Service *auth.Service

	// KVMode is reported by the health endpoint.
	KVMode string

	Logger  *log.Logger
	Metrics *metrics.Metrics

	// Now overrides the health endpoint clock.
	Now func() time.Time
}

// Handler holds the HTTP handlers for the auth routes.
type Handler struct {
	svc     *auth.Service
	kvMode  string
	logger  *log.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a Handler.
func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.DefaultLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		svc:     opts.Service,
		kvMode:  opts.KVMode,
		logger:  logger.With("component", "api"),
		metrics: opts.Metrics,
		now:     now,
	}
}

// Router returns the route table.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.observe)
	r.Use(h.recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, MsgEndpointNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, MsgMethodNotAllowed)
	})

	r.Get("/api/health", h.Health)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/guest", h.Guest)
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/verify-2fa", h.Verify2FA)
		r.Post("/verify-backup-code", h.VerifyBackupCode)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireSession)
			r.Get("/session", h.Session)

			r.Group(func(r chi.Router) {
				r.Use(RejectGuests)
				r.Post("/setup-2fa", h.Setup2FA)
				r.Post("/enable-2fa", h.Enable2FA)
				r.Post("/disable-2fa", h.Disable2FA)
			})
		})
	})

	return r
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type secondFactorRequest struct {
	TempToken string `json:"tempToken"`
	Code      string `json:"code"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type logoutRequest struct {
	SessionID string `json:"sessionId"`
}

type authResponse struct {
	Success bool `json:"success"`
	*auth.AuthResult
}

type setupResponse struct {
	Success bool `json:"success"`
	*auth.SetupResult
}

type sessionResponse struct {
	Success bool                `json:"success"`
	Session *auth.IssuedSession `json:"session"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	KV        string `json:"kv,omitempty"`
}

// decode reads a JSON body into v. An empty body leaves v unchanged.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v)
	if err == nil || stderrors.Is(err, io.EOF) {
		return true
	}
	writeMessage(w, http.StatusBadRequest, MsgInvalidBody)
	return false
}

func (h *Handler) writeAuth(w http.ResponseWriter, res *auth.AuthResult, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Success: true, AuthResult: res})
}

// Health reports liveness and the active KV mode.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		KV:        h.kvMode,
	})
}

// Guest creates a guest session.
func (h *Handler) Guest(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CreateGuestSession(r.Context())
	h.writeAuth(w, res, err)
}

// Register creates an account.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Register(r.Context(), req.Email, req.Password)
	h.writeAuth(w, res, err)
}

// Login checks a password.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	h.writeAuth(w, res, err)
}

// Verify2FA completes a login with a TOTP code.
func (h *Handler) Verify2FA(w http.ResponseWriter, r *http.Request) {
	var req secondFactorRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TempToken == "" || req.Code == "" {
		writeMessage(w, http.StatusBadRequest, MsgMissingFields)
		return
	}
	res, err := h.svc.Verify2FA(r.Context(), req.TempToken, req.Code)
	h.writeAuth(w, res, err)
}

// VerifyBackupCode completes a login with a backup code.
func (h *Handler) VerifyBackupCode(w http.ResponseWriter, r *http.Request) {
	var req secondFactorRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TempToken == "" || req.Code == "" {
		writeMessage(w, http.StatusBadRequest, MsgMissingFields)
		return
	}
	res, err := h.svc.VerifyBackupCode(r.Context(), req.TempToken, req.Code)
	h.writeAuth(w, res, err)
}

// Session returns the caller's session.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	sess, id, _ := SessionFrom(r.Context())
	writeJSON(w, http.StatusOK, sessionResponse{
		Success: true,
		Session: &auth.IssuedSession{ID: id, Session: *sess},
	})
}

// Setup2FA starts 2FA enrolment for the caller.
func (h *Handler) Setup2FA(w http.ResponseWriter, r *http.Request) {
	sess, _, _ := SessionFrom(r.Context())
	res, err := h.svc.Setup2FA(r.Context(), sess.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, setupResponse{Success: true, SetupResult: res})
}

// Enable2FA confirms enrolment with a code.
func (h *Handler) Enable2FA(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeMessage(w, http.StatusBadRequest, MsgMissingFields)
		return
	}

	sess, _, _ := SessionFrom(r.Context())
	if err := h.svc.Enable2FA(r.Context(), sess.Email, req.Code); err != nil {
		if errors.HasCode(err, errors.ErrCodeInvalidCode) {
			writeMessage(w, http.StatusBadRequest, MsgEnableFailed)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Success: true, Message: MsgEnabled})
}

// Disable2FA removes the caller's second factor.
func (h *Handler) Disable2FA(w http.ResponseWriter, r *http.Request) {
	sess, _, _ := SessionFrom(r.Context())
	if err := h.svc.Disable2FA(r.Context(), sess.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Success: true, Message: MsgDisabled})
}

// Logout deletes the session named in the body or the bearer header.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !decode(w, r, &req) {
		return
	}
	id := req.SessionID
	if id == "" {
		id = BearerToken(r)
	}
	if id == "" {
		writeMessage(w, http.StatusBadRequest, MsgSessionRequired)
		return
	}
	h.svc.Logout(r.Context(), id)
	writeJSON(w, http.StatusOK, statusBody{Success: true, Message: MsgLoggedOut})
}
