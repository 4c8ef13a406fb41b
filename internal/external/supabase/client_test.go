package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/stocktop/internal/auth"
	"github.com/wonny/stocktop/internal/clock"
	"github.com/wonny/stocktop/internal/session"
	"github.com/wonny/stocktop/pkg/config"
	"github.com/wonny/stocktop/pkg/httputil"
	"github.com/wonny/stocktop/pkg/logger"
)

const testAnonKey = "anon-key"

var testStart = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

// fakeService mimics the GoTrue and PostgREST endpoints used by the client
type fakeService struct {
	t     *testing.T
	clock *clock.Manual

	mu            sync.Mutex
	rows          map[string][]map[string]interface{}
	headers       map[string]http.Header
	refreshCount  int
	rejectRefresh bool
}

func (f *fakeService) header(path string) http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers[path]
}

func (f *fakeService) rowsFor(path string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[path]
}

func (f *fakeService) refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCount
}

func (f *fakeService) setRejectRefresh(reject bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectRefresh = reject
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	assert.Equal(f.t, testAnonKey, r.Header.Get("apikey"))
	f.headers[r.URL.Path] = r.Header.Clone()

	var body map[string]interface{}
	if r.ContentLength != 0 {
		json.NewDecoder(r.Body).Decode(&body)
	}

	switch {
	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "password":
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
			return
		}
		f.writeSession(w, "access-1", "refresh-1")

	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "refresh_token":
		f.refreshCount++
		if f.rejectRefresh {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":400,"error_code":"refresh_token_not_found","msg":"Invalid Refresh Token"}`))
			return
		}
		assert.Equal(f.t, "refresh-1", body["refresh_token"])
		f.writeSession(w, "access-2", "refresh-2")

	case r.URL.Path == "/auth/v1/signup":
		if body["email"] == "taken@example.com" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"code":422,"msg":"User already registered"}`))
			return
		}
		if body["email"] == "confirm@example.com" {
			w.Write([]byte(`{"id":"u-9","email":"confirm@example.com"}`))
			return
		}
		f.writeSession(w, "access-1", "refresh-1")

	case r.URL.Path == "/auth/v1/logout":
		w.WriteHeader(http.StatusNoContent)

	case r.URL.Path == "/rest/v1/"+ActivityTable || r.URL.Path == "/rest/v1/"+VisitTable:
		f.rows[r.URL.Path] = append(f.rows[r.URL.Path], body)
		w.WriteHeader(http.StatusCreated)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeService) writeSession(w http.ResponseWriter, access, refresh string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_in":    3600,
		"expires_at":    f.clock.Now().Add(time.Hour).Unix(),
		"refresh_token": refresh,
		"user": map[string]interface{}{
			"id":    "u-1",
			"email": "user@example.com",
		},
	})
}

type fixture struct {
	client  *Client
	service *fakeService
	store   *session.Store
	clock   *clock.Manual

	mu     sync.Mutex
	events []auth.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clk := clock.NewManual(testStart)
	service := &fakeService{
		t:       t,
		clock:   clk,
		rows:    make(map[string][]map[string]interface{}),
		headers: make(map[string]http.Header),
	}
	server := httptest.NewServer(service)
	t.Cleanup(server.Close)

	store := session.NewStore(session.NewMemoryKV(), clk, 8*time.Hour, logger.Nop())
	httpClient := httputil.New(&config.Config{}, logger.Nop()).DisableRetry()
	client := NewClient(config.SupabaseConfig{URL: server.URL + "/", AnonKey: testAnonKey}, httpClient, store, clk, logger.Nop())

	f := &fixture{client: client, service: service, store: store, clock: clk}
	client.OnAuthStateChange(func(event auth.Event, _ *auth.Session) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, event)
	})
	return f
}

func (f *fixture) recorded() []auth.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]auth.Event(nil), f.events...)
}

func TestSignInWithPassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sess, err := f.client.SignInWithPassword(ctx, "user@example.com", "secret")
	require.NoError(t, err)
	require.NotNil(t, sess)

	assert.Equal(t, "access-1", sess.AccessToken)
	assert.Equal(t, "u-1", sess.User.ID)
	assert.Equal(t, testStart.Add(time.Hour).Unix(), sess.ExpiresAt.Unix())
	assert.Equal(t, []auth.Event{auth.EventSignedIn}, f.recorded())

	raw, ok, err := f.store.Get(ctx, StorageKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, "access-1")

	restored, err := f.client.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, "access-1", restored.AccessToken)
}

func TestSignInWithPassword_InvalidCredentials(t *testing.T) {
	f := newFixture(t)

	sess, err := f.client.SignInWithPassword(context.Background(), "user@example.com", "wrong")
	require.Error(t, err)
	assert.Nil(t, sess)
	assert.Equal(t, "Invalid login credentials", err.Error())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Empty(t, f.recorded())
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		email       string
		wantSession bool
		wantErr     string
	}{
		{name: "immediate session", email: "new@example.com", wantSession: true},
		{name: "email confirmation pending", email: "confirm@example.com"},
		{name: "already registered", email: "taken@example.com", wantErr: "User already registered"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			sess, err := f.client.SignUp(ctx, tt.email, "secret")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSession, sess != nil)
		})
	}
}

func TestSignOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.client.SignInWithPassword(ctx, "user@example.com", "secret")
	require.NoError(t, err)

	require.NoError(t, f.client.SignOut(ctx))

	assert.Equal(t, "Bearer access-1", f.service.header("/auth/v1/logout").Get("Authorization"))
	assert.Equal(t, []auth.Event{auth.EventSignedIn, auth.EventSignedOut}, f.recorded())

	sess, err := f.client.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestGetSession_RefreshesExpiredToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.client.SignInWithPassword(ctx, "user@example.com", "secret")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)

	sess, err := f.client.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "access-2", sess.AccessToken)
	assert.Equal(t, 1, f.service.refreshes())
	assert.Equal(t, []auth.Event{auth.EventSignedIn, auth.EventTokenRefreshed}, f.recorded())

	// 갱신된 토큰은 다시 갱신하지 않음
	sess, err = f.client.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", sess.AccessToken)
	assert.Equal(t, 1, f.service.refreshes())
}

func TestGetSession_RejectedRefreshSignsOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.client.SignInWithPassword(ctx, "user@example.com", "secret")
	require.NoError(t, err)

	f.service.setRejectRefresh(true)
	f.clock.Advance(2 * time.Hour)

	sess, err := f.client.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Equal(t, []auth.Event{auth.EventSignedIn, auth.EventSignedOut}, f.recorded())
}

func TestGetSession_StoreExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.client.SignInWithPassword(ctx, "user@example.com", "secret")
	require.NoError(t, err)

	f.clock.Advance(8*time.Hour + time.Second)

	sess, err := f.client.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess, "store-expired session yields nil without refreshing")
	assert.Zero(t, f.service.refreshes())

	// 면제 사용자는 저장소 만료를 무시
	_, err = f.client.SignInWithPassword(ctx, "user@example.com", "secret")
	require.NoError(t, err)
	require.NoError(t, f.store.SetExempt(ctx, true))
	f.clock.Advance(8*time.Hour + time.Second)

	sess, err = f.client.GetSession(ctx)
	require.NoError(t, err)
	assert.NotNil(t, sess)
}

func TestActivityWriter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// 로그인 전에는 anon key로 호출
	require.NoError(t, f.client.InsertActivity(ctx, auth.ActivityRecord{
		UserID: "u-1", Email: "user@example.com", ActionType: auth.ActionLogin, CreatedAt: testStart,
	}))
	assert.Equal(t, "Bearer "+testAnonKey, f.service.header("/rest/v1/"+ActivityTable).Get("Authorization"))

	_, err := f.client.SignInWithPassword(ctx, "user@example.com", "secret")
	require.NoError(t, err)

	require.NoError(t, f.client.UpsertVisit(ctx, auth.VisitRecord{
		UserID: "u-1", Email: "user@example.com", LastVisitedAt: testStart,
	}))

	visitHeaders := f.service.header("/rest/v1/" + VisitTable)
	assert.Equal(t, "Bearer access-1", visitHeaders.Get("Authorization"))
	assert.Contains(t, visitHeaders.Get("Prefer"), "resolution=merge-duplicates")

	rows := f.service.rowsFor("/rest/v1/" + ActivityTable)
	require.Len(t, rows, 1)
	assert.Equal(t, "login", rows[0]["action_type"])

	visits := f.service.rowsFor("/rest/v1/" + VisitTable)
	require.Len(t, visits, 1)
	assert.Equal(t, "u-1", visits[0]["user_id"])
}

func TestOnAuthStateChange_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var calls int
	unsubscribe := f.client.OnAuthStateChange(func(auth.Event, *auth.Session) { calls++ })

	_, err := f.client.SignInWithPassword(ctx, "user@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	unsubscribe()
	require.NoError(t, f.client.SignOut(ctx))
	assert.Equal(t, 1, calls)
}
