package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/wonny/stocktop/internal/activity"
	"github.com/wonny/stocktop/internal/external/supabase"
	"github.com/wonny/stocktop/pkg/logger"
	"github.com/wonny/stocktop/pkg/redis"
)

// AuthHandler handles sign-up/in/out, session status and activity reporting
// ⭐ SSOT: 인증 API 핸들러는 이 구조체에서만
type AuthHandler struct {
	limiter     *redis.RateLimiter
	signInLimit int
	logger      *logger.Logger
}

// NewAuthHandler creates a new auth handler. limiter may be nil (no sign-in throttling).
func NewAuthHandler(limiter *redis.RateLimiter, signInLimit int, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		limiter:     limiter,
		signInLimit: signInLimit,
		logger:      log,
	}
}

// CredentialsRequest is the sign-up/sign-in body
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserResponse is the public view of the signed-in user
type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// SessionResponse describes the client's auth state
type SessionResponse struct {
	Authenticated      bool          `json:"authenticated"`
	User               *UserResponse `json:"user,omitempty"`
	Exempt             bool          `json:"exempt"`
	MonitorState       string        `json:"monitorState"`
	InactivityDeadline *time.Time    `json:"inactivityDeadline,omitempty"`
	SessionExpiresAt   *time.Time    `json:"sessionExpiresAt,omitempty"`
}

// SignUp registers a new account
// POST /api/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ws := WorkspaceFrom(r.Context())
	if res := ws.Auth.SignUp(r.Context(), req.Email, req.Password); !res.OK() {
		respondError(w, http.StatusBadRequest, res.Error)
		return
	}

	h.Session(w, r)
}

// SignIn signs in with email and password
// POST /api/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.limiter != nil && h.signInLimit > 0 {
		email := strings.ToLower(strings.TrimSpace(req.Email))
		allowed, _, err := h.limiter.Allow(ctx, redis.SignInRateLimit(email, h.signInLimit))
		if err != nil {
			// Redis 장애 시 로그인은 막지 않음
			h.logger.WithError(err).Warn("Sign-in rate limit check failed")
		} else if !allowed {
			respondError(w, http.StatusTooManyRequests, "too many sign-in attempts, try again later")
			return
		}
	}

	ws := WorkspaceFrom(ctx)
	if res := ws.Auth.SignIn(ctx, req.Email, req.Password); !res.OK() {
		respondError(w, http.StatusUnauthorized, res.Error)
		return
	}

	h.Session(w, r)
}

// SignOut signs the client out
// POST /api/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFrom(r.Context())
	if res := ws.Auth.SignOut(r.Context()); !res.OK() {
		respondError(w, http.StatusBadGateway, res.Error)
		return
	}

	h.Session(w, r)
}

// Session returns the current auth state
// GET /api/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ws := WorkspaceFrom(ctx)

	resp := SessionResponse{
		Authenticated: ws.Auth.Validate(ctx),
		Exempt:        ws.Auth.IsExempt(),
		MonitorState:  ws.Auth.MonitorState().String(),
	}

	if user := ws.Auth.User(); user != nil {
		resp.User = &UserResponse{ID: user.ID, Email: user.Email, Role: user.Role()}
	}
	if deadline := ws.Auth.InactivityDeadline(); !deadline.IsZero() {
		resp.InactivityDeadline = &deadline
	}
	if resp.Authenticated {
		if expiresAt, ok, err := ws.Store.ExpiresAt(ctx, supabase.StorageKey); err == nil && ok {
			resp.SessionExpiresAt = &expiresAt
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// ActivityRequest reports one user input event
type ActivityRequest struct {
	Kind string `json:"kind"`
}

// Activity forwards a user input event to the inactivity monitor
// POST /api/auth/activity
func (h *AuthHandler) Activity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	kind, err := activity.ParseEventKind(req.Kind)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ws := WorkspaceFrom(r.Context())
	accepted := ws.Auth.HandleActivity(kind)

	respondJSON(w, http.StatusOK, map[string]bool{"accepted": accepted})
}

// Visibility re-validates the session after the page becomes visible again
// POST /api/auth/visibility
func (h *AuthHandler) Visibility(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFrom(r.Context())
	ws.Auth.RecheckVisibility(r.Context())

	h.Session(w, r)
}

// Visit records a visit for the signed-in user
// POST /api/auth/visit
func (h *AuthHandler) Visit(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFrom(r.Context())
	if !ws.Auth.Validate(r.Context()) {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	ws.Auth.RecordVisit(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
