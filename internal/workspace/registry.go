// Package workspace keeps the per-browser-client state: session storage, auth, history view,
// paper-trading selection and preferences.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/wonny/stocktop/internal/auth"
	"github.com/wonny/stocktop/internal/clock"
	"github.com/wonny/stocktop/internal/composite"
	"github.com/wonny/stocktop/internal/external/supabase"
	"github.com/wonny/stocktop/internal/market"
	"github.com/wonny/stocktop/internal/papertrading"
	"github.com/wonny/stocktop/internal/preferences"
	"github.com/wonny/stocktop/internal/session"
	"github.com/wonny/stocktop/pkg/config"
	"github.com/wonny/stocktop/pkg/httputil"
	"github.com/wonny/stocktop/pkg/logger"
)

// CookieName carries the client identifier
const CookieName = "stocktop_client"

// ErrInvalidID is returned for identifiers that are not UUIDs
var ErrInvalidID = errors.New("invalid client id")

// Workspace is the state one browser client owns
type Workspace struct {
	ID           string
	Store        *session.Store
	Auth         *auth.Manager
	View         *market.View
	PaperTrading *papertrading.Aggregator
	Preferences  *preferences.Store
	Composite    *composite.Memo

	kv *session.Namespaced

	mu       sync.Mutex
	lastSeen time.Time
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastSeen = now
}

// LastSeen returns the time of the last request from this client
func (w *Workspace) LastSeen() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen
}

// Deps are the shared services every workspace is built from
type Deps struct {
	Config   *config.Config
	KV       session.KV // backing store shared by all workspaces (memory or Redis)
	HTTP     *httputil.Client
	Fetcher  *market.Fetcher
	Writer   auth.ActivityWriter // nil uses the credential-service REST tables
	Defaults preferences.Preferences
	Clock    clock.Clock
	Logger   *logger.Logger
}

// Registry lazily builds workspaces and evicts idle ones
// ⭐ SSOT: 클라이언트별 상태 생성/정리는 여기서만
type Registry struct {
	deps   Deps
	logger *logger.Logger
	group  singleflight.Group

	mu         sync.RWMutex
	workspaces map[string]*Workspace
	onCreate   []func(*Workspace)
	days       []*papertrading.Day
}

// NewRegistry creates an empty registry
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:       deps,
		logger:     deps.Logger.Component("workspace"),
		workspaces: make(map[string]*Workspace),
	}
}

// NewID returns a fresh client identifier
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id is a well-formed client identifier
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// OnCreate registers a hook run for every new workspace (before it is returned)
func (r *Registry) OnCreate(fn func(*Workspace)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCreate = append(r.onCreate, fn)
}

// Get returns the workspace for id, building and initializing it on first use
func (r *Registry) Get(ctx context.Context, id string) (*Workspace, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}

	if ws, ok := r.Lookup(id); ok {
		ws.touch(r.deps.Clock.Now())
		return ws, nil
	}

	v, err, _ := r.group.Do(id, func() (interface{}, error) {
		if ws, ok := r.Lookup(id); ok {
			return ws, nil
		}
		ws, err := r.build(ctx, id)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.workspaces[id] = ws
		days := append([]*papertrading.Day(nil), r.days...)
		r.mu.Unlock()

		for _, day := range days {
			ws.PaperTrading.Merge(day)
		}
		return ws, nil
	})
	if err != nil {
		return nil, err
	}

	ws := v.(*Workspace)
	ws.touch(r.deps.Clock.Now())
	return ws, nil
}

// Lookup returns an existing workspace without creating one
func (r *Registry) Lookup(id string) (*Workspace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ws, ok := r.workspaces[id]
	return ws, ok
}

// Len returns the number of live workspaces
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workspaces)
}

func (r *Registry) build(ctx context.Context, id string) (*Workspace, error) {
	cfg := r.deps.Config
	log := r.logger.WithField("client_id", id)

	kv := session.NewNamespaced(r.deps.KV, "ws:"+id)
	store := session.NewStore(kv, r.deps.Clock, cfg.Session.Duration, log)

	backend := supabase.NewClient(cfg.Supabase, r.deps.HTTP, store, r.deps.Clock, log)
	var writer auth.ActivityWriter = backend
	if r.deps.Writer != nil {
		writer = r.deps.Writer
	}

	manager := auth.NewManager(backend, writer, store, r.deps.Clock, auth.Config{
		InactivityTimeout: cfg.Session.InactivityTimeout,
		ActivityThrottle:  cfg.Session.ActivityThrottle,
	}, log)

	ws := &Workspace{
		ID:           id,
		Store:        store,
		Auth:         manager,
		View:         market.NewView(r.deps.Fetcher),
		PaperTrading: papertrading.NewAggregator(),
		Preferences:  preferences.NewStore(kv, r.deps.Defaults, log),
		Composite:    &composite.Memo{},
		kv:           kv,
	}

	r.mu.RLock()
	hooks := append([]func(*Workspace){}, r.onCreate...)
	r.mu.RUnlock()
	for _, fn := range hooks {
		fn(ws)
	}

	if err := manager.Init(ctx); err != nil {
		manager.Close()
		return nil, fmt.Errorf("init workspace %s: %w", id, err)
	}

	log.Debug("Workspace created")
	return ws, nil
}

// SetPaperTradingDays publishes loaded days to every workspace (and to ones created later).
// Re-published days keep each workspace's date selection and exclusions.
func (r *Registry) SetPaperTradingDays(days []*papertrading.Day) {
	r.mu.Lock()
	r.days = append([]*papertrading.Day(nil), days...)
	targets := r.snapshotLocked()
	r.mu.Unlock()

	for _, ws := range targets {
		for _, day := range days {
			ws.PaperTrading.Merge(day)
		}
	}
}

// EvictIdle closes workspaces not seen within ttl.
// Storage of a signed-out client is purged; a signed-in client's storage is kept so it can come back.
func (r *Registry) EvictIdle(ctx context.Context, ttl time.Duration) int {
	cutoff := r.deps.Clock.Now().Add(-ttl)

	r.mu.Lock()
	var idle []*Workspace
	for id, ws := range r.workspaces {
		if ws.LastSeen().Before(cutoff) {
			idle = append(idle, ws)
			delete(r.workspaces, id)
		}
	}
	r.mu.Unlock()

	for _, ws := range idle {
		signedIn := ws.Auth.IsAuthenticated()
		ws.Auth.Close()
		if !signedIn {
			if err := ws.kv.Purge(ctx); err != nil {
				r.logger.WithError(err).WithField("client_id", ws.ID).Warn("Failed to purge workspace storage")
			}
		}
	}

	if len(idle) > 0 {
		r.logger.WithField("count", len(idle)).Info("Evicted idle workspaces")
	}
	return len(idle)
}

// Sweep drops expired session entries in every live workspace and signs out
// clients whose stored session is gone
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	r.mu.RLock()
	targets := r.snapshotLocked()
	r.mu.RUnlock()

	total := 0
	for _, ws := range targets {
		n, err := ws.Store.Sweep(ctx)
		if err != nil {
			return total, fmt.Errorf("sweep workspace %s: %w", ws.ID, err)
		}
		total += n

		if !ws.Auth.IsAuthenticated() {
			continue
		}
		if _, live, err := ws.Store.Get(ctx, supabase.StorageKey); err == nil && !live {
			ws.Auth.Validate(ctx)
		}
	}
	return total, nil
}

// Close shuts every workspace down
func (r *Registry) Close() {
	r.mu.Lock()
	targets := r.snapshotLocked()
	r.workspaces = make(map[string]*Workspace)
	r.mu.Unlock()

	for _, ws := range targets {
		ws.Auth.Close()
	}
}

func (r *Registry) snapshotLocked() []*Workspace {
	out := make([]*Workspace, 0, len(r.workspaces))
	for _, ws := range r.workspaces {
		out = append(out, ws)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
