package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wonny/stocktop/internal/activity"
	"github.com/wonny/stocktop/internal/clock"
	"github.com/wonny/stocktop/internal/session"
	"github.com/wonny/stocktop/pkg/logger"
)

const defaultWriteTimeout = 10 * time.Second

// Config holds manager timing
type Config struct {
	InactivityTimeout time.Duration
	ActivityThrottle  time.Duration
	WriteTimeout      time.Duration // bound on each activity-log write
}

// Manager owns the current user and session for one client
// ⭐ SSOT: 로그인 상태와 활동 로그 기록은 여기서만
type Manager struct {
	backend      Backend
	writer       ActivityWriter
	store        *session.Store
	monitor      *activity.Monitor
	clock        clock.Clock
	logger       *logger.Logger
	writeTimeout time.Duration

	mu          sync.RWMutex
	user        *User
	sess        *Session
	exempt      bool
	unsubscribe func()
	onExpire    []func()

	wg sync.WaitGroup
}

// NewManager creates a manager. writer may be nil (activity logging disabled).
func NewManager(backend Backend, writer ActivityWriter, store *session.Store, clk clock.Clock, cfg Config, log *logger.Logger) *Manager {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	m := &Manager{
		backend:      backend,
		writer:       writer,
		store:        store,
		clock:        clk,
		logger:       log.Component("auth"),
		writeTimeout: cfg.WriteTimeout,
	}
	m.monitor = activity.NewMonitor(clk, cfg.InactivityTimeout, cfg.ActivityThrottle, m.handleInactivity, m.logger)
	return m
}

// Init subscribes to auth-state changes and restores any stored session
func (m *Manager) Init(ctx context.Context) error {
	unsubscribe := m.backend.OnAuthStateChange(m.handleEvent)

	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	sess, err := m.backend.GetSession(ctx)
	if err != nil {
		// 복원 실패는 로그인 안 된 상태로 취급
		m.logger.WithError(err).Warn("Session restore failed")
		sess = nil
	}

	m.applySession(ctx, sess)
	return nil
}

// Close unsubscribes, stops the monitor and waits for pending activity writes
func (m *Manager) Close() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.monitor.Stop()
	m.wg.Wait()
}

// OnExpire registers a listener called when a signed-in session ends without a sign-out request
// (inactivity or storage expiry)
func (m *Manager) OnExpire(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = append(m.onExpire, fn)
}

// User returns the signed-in user (nil when signed out)
func (m *Manager) User() *User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user
}

// Session returns the current session (nil when signed out)
func (m *Manager) Session() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sess
}

// IsAuthenticated reports whether a user is signed in
func (m *Manager) IsAuthenticated() bool {
	return m.User() != nil
}

// IsExempt reports whether the signed-in user is exempt
func (m *Manager) IsExempt() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exempt
}

// MonitorState returns the inactivity monitor state
func (m *Manager) MonitorState() activity.State {
	return m.monitor.State()
}

// InactivityDeadline returns when the idle sign-out fires (zero when idle)
func (m *Manager) InactivityDeadline() time.Time {
	return m.monitor.Deadline()
}

// SignUp registers a user. Errors come back as text, never as a Go error.
func (m *Manager) SignUp(ctx context.Context, email, password string) Result {
	if msg := validateCredentials(email, password); msg != "" {
		return Result{Error: msg}
	}

	if _, err := m.backend.SignUp(ctx, strings.TrimSpace(email), password); err != nil {
		m.logger.WithError(err).WithField("email", email).Warn("Sign-up failed")
		return Result{Error: err.Error()}
	}
	return Result{}
}

// SignIn authenticates with email and password
func (m *Manager) SignIn(ctx context.Context, email, password string) Result {
	if msg := validateCredentials(email, password); msg != "" {
		return Result{Error: msg}
	}

	if _, err := m.backend.SignInWithPassword(ctx, strings.TrimSpace(email), password); err != nil {
		m.logger.WithError(err).WithField("email", email).Warn("Sign-in failed")
		return Result{Error: err.Error()}
	}
	return Result{}
}

// SignOut writes the logout row first, then signs out of the backend
func (m *Manager) SignOut(ctx context.Context) Result {
	if m.IsAuthenticated() {
		m.LogActivity(ctx, ActionLogout, nil)
	}

	err := m.backend.SignOut(ctx)
	m.clearLocal()

	if err != nil {
		m.logger.WithError(err).Warn("Sign-out failed")
		return Result{Error: err.Error()}
	}
	return Result{}
}

// LogActivity appends an activity row for the signed-in user.
// No-op when signed out; failures are logged and never retried.
func (m *Manager) LogActivity(ctx context.Context, actionType string, detail map[string]interface{}) {
	user := m.User()
	if user == nil || m.writer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.writeTimeout)
	defer cancel()

	rec := ActivityRecord{
		UserID:     user.ID,
		Email:      user.Email,
		ActionType: actionType,
		Detail:     detail,
		CreatedAt:  m.clock.Now().UTC(),
	}
	if err := m.writer.InsertActivity(ctx, rec); err != nil {
		m.logger.WithError(err).WithField("action_type", actionType).Error("Activity log insert failed")
	}
}

// RecordVisit upserts the signed-in user's last-access row
func (m *Manager) RecordVisit(ctx context.Context) {
	user := m.User()
	if user == nil || m.writer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.writeTimeout)
	defer cancel()

	rec := VisitRecord{
		UserID:        user.ID,
		Email:         user.Email,
		LastVisitedAt: m.clock.Now().UTC(),
	}
	if err := m.writer.UpsertVisit(ctx, rec); err != nil {
		m.logger.WithError(err).Error("Visit upsert failed")
	}
}

// HandleActivity forwards an input event to the inactivity monitor
func (m *Manager) HandleActivity(kind activity.EventKind) bool {
	return m.monitor.Touch(kind)
}

// Validate re-reads the session from the backend. A backend report of no session clears
// local state and notifies the expiry listeners. Returns whether still signed in.
func (m *Manager) Validate(ctx context.Context) bool {
	wasSignedIn := m.IsAuthenticated()

	sess, err := m.backend.GetSession(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("Session check failed")
		return m.IsAuthenticated()
	}

	if sess == nil {
		m.clearLocal()
		if wasSignedIn {
			m.logger.Info("Session expired, clearing local state")
			m.notifyExpire()
		}
		return false
	}

	m.applySession(ctx, sess)
	return true
}

// RecheckVisibility re-validates the session when the page becomes visible.
// Covers expiry that outpaced a suspended background tab.
func (m *Manager) RecheckVisibility(ctx context.Context) bool {
	return m.Validate(ctx)
}

func (m *Manager) handleEvent(event Event, sess *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), m.writeTimeout)
	defer cancel()

	m.logger.WithField("event", string(event)).Debug("Auth state changed")

	switch event {
	case EventSignedOut:
		m.clearLocal()
		if err := m.store.SetExempt(ctx, false); err != nil {
			m.logger.WithError(err).Warn("Failed to clear exempt flag")
		}

	case EventSignedIn:
		m.applySession(ctx, sess)
		if sess == nil || sess.User == nil {
			return
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()

			bg, cancel := context.WithTimeout(context.Background(), m.writeTimeout)
			defer cancel()

			m.RecordVisit(bg)
			m.LogActivity(bg, ActionLogin, nil)
		}()

	default:
		m.applySession(ctx, sess)
	}
}

// applySession sets local state, syncs the exempt flag and drives the monitor
func (m *Manager) applySession(ctx context.Context, sess *Session) {
	var user *User
	if sess != nil {
		user = sess.User
	}
	exempt := user.IsExempt()

	m.mu.Lock()
	m.sess = sess
	m.user = user
	m.exempt = exempt
	m.mu.Unlock()

	if user != nil {
		if err := m.store.SetExempt(ctx, exempt); err != nil {
			m.logger.WithError(err).Warn("Failed to sync exempt flag")
		}
	}

	switch {
	case user == nil || exempt:
		m.monitor.Stop()
	case m.monitor.State() == activity.Idle:
		m.monitor.Start()
	}
}

func (m *Manager) clearLocal() {
	m.mu.Lock()
	m.user = nil
	m.sess = nil
	m.exempt = false
	m.mu.Unlock()

	m.monitor.Stop()
}

func (m *Manager) handleInactivity() {
	ctx, cancel := context.WithTimeout(context.Background(), m.writeTimeout)
	defer cancel()

	m.logger.Info("Signing out after inactivity")
	m.SignOut(ctx)
	m.notifyExpire()
}

func (m *Manager) notifyExpire() {
	m.mu.RLock()
	listeners := append([]func(){}, m.onExpire...)
	m.mu.RUnlock()

	for _, fn := range listeners {
		fn()
	}
}

func validateCredentials(email, password string) string {
	if strings.TrimSpace(email) == "" || password == "" {
		return "email and password are required"
	}
	return ""
}
