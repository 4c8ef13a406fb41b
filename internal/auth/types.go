// Package auth owns the signed-in user, session restoration and activity logging.
package auth

import (
	"context"
	"errors"
	"time"
)

// ErrNotAuthenticated is returned when an operation needs a signed-in user
var ErrNotAuthenticated = errors.New("not authenticated")

// ExemptRole is the profile role that bypasses session expiry and inactivity sign-out
const ExemptRole = "admin"

// Activity action types
const (
	ActionLogin  = "login"
	ActionLogout = "logout"
)

// Event is an auth-state change notification from the credential service
type Event string

// Auth-state events
const (
	EventInitialSession Event = "INITIAL_SESSION"
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
	EventUserUpdated    Event = "USER_UPDATED"
)

// User is the authenticated identity
type User struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	AppMetadata  map[string]interface{} `json:"app_metadata,omitempty"`
}

// Role returns the profile role, preferring user metadata
func (u *User) Role() string {
	if u == nil {
		return ""
	}
	if r, ok := u.UserMetadata["role"].(string); ok && r != "" {
		return r
	}
	if r, ok := u.AppMetadata["role"].(string); ok {
		return r
	}
	return ""
}

// IsExempt reports whether the user carries the exempt role
func (u *User) IsExempt() bool {
	return u.Role() == ExemptRole
}

// Session is the credential-service session
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *User     `json:"user"`
}

// StateChangeFunc receives auth-state notifications. session is nil after sign-out.
type StateChangeFunc func(event Event, session *Session)

// Backend is the credential service consumed by the manager
type Backend interface {
	SignUp(ctx context.Context, email, password string) (*Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	// GetSession returns the stored session, or nil when there is none (including silent expiry)
	GetSession(ctx context.Context) (*Session, error)
	// OnAuthStateChange subscribes to notifications; the returned func unsubscribes
	OnAuthStateChange(fn StateChangeFunc) (unsubscribe func())
}

// ActivityRecord is one append-only activity log row
type ActivityRecord struct {
	UserID     string                 `json:"user_id"`
	Email      string                 `json:"email"`
	ActionType string                 `json:"action_type"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// VisitRecord is the per-user last-access row
type VisitRecord struct {
	UserID        string    `json:"user_id"`
	Email         string    `json:"email"`
	LastVisitedAt time.Time `json:"last_visited_at"`
}

// ActivityWriter persists activity rows
type ActivityWriter interface {
	InsertActivity(ctx context.Context, rec ActivityRecord) error
	UpsertVisit(ctx context.Context, rec VisitRecord) error
}

// Result is what sign-up/sign-in/sign-out return: Error is empty on success
type Result struct {
	Error string `json:"error,omitempty"`
}

// OK reports success
func (r Result) OK() bool { return r.Error == "" }
