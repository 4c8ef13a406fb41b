package activitylog

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/stocktop/internal/auth"
	"github.com/wonny/stocktop/pkg/config"
	"github.com/wonny/stocktop/pkg/database"
)

type execCall struct {
	sql  string
	args []any
}

type fakeExecer struct {
	calls []execCall
	err   error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

var visitedAt = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func TestInsertActivity(t *testing.T) {
	db := &fakeExecer{}
	w := NewWriter(db)

	err := w.InsertActivity(context.Background(), auth.ActivityRecord{
		UserID:     "u-1",
		Email:      "user@example.com",
		ActionType: auth.ActionLogin,
		Detail:     map[string]interface{}{"source": "signin"},
		CreatedAt:  visitedAt,
	})
	require.NoError(t, err)
	require.Len(t, db.calls, 1)

	call := db.calls[0]
	assert.Contains(t, call.sql, "INSERT INTO user_activity_logs")
	require.Len(t, call.args, 6)
	assert.IsType(t, uuid.UUID{}, call.args[0])
	assert.Equal(t, "u-1", call.args[1])
	assert.Equal(t, "login", call.args[3])
	assert.JSONEq(t, `{"source":"signin"}`, string(call.args[4].([]byte)))
	assert.Equal(t, visitedAt, call.args[5])
}

func TestInsertActivity_NoDetail(t *testing.T) {
	db := &fakeExecer{}
	w := NewWriter(db)

	require.NoError(t, w.InsertActivity(context.Background(), auth.ActivityRecord{UserID: "u-1", ActionType: auth.ActionLogout}))
	assert.Nil(t, db.calls[0].args[4])
}

func TestUpsertVisit(t *testing.T) {
	db := &fakeExecer{}
	w := NewWriter(db)

	require.NoError(t, w.UpsertVisit(context.Background(), auth.VisitRecord{UserID: "u-1", Email: "user@example.com", LastVisitedAt: visitedAt}))
	require.Len(t, db.calls, 1)
	assert.Contains(t, db.calls[0].sql, "ON CONFLICT (user_id) DO UPDATE")
	assert.Equal(t, []any{"u-1", "user@example.com", visitedAt}, db.calls[0].args)
}

func TestWriter_Errors(t *testing.T) {
	db := &fakeExecer{err: errors.New("connection refused")}
	w := NewWriter(db)
	ctx := context.Background()

	err := w.InsertActivity(ctx, auth.ActivityRecord{UserID: "u-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	err = w.UpsertVisit(ctx, auth.VisitRecord{UserID: "u-1"})
	require.Error(t, err)

	err = w.EnsureSchema(ctx)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "failed to create activity schema"))
}

// Integration test (requires running PostgreSQL)
func TestWriter_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.New(ctx, &config.Config{Database: config.DatabaseConfig{URL: url, MaxConns: 2, MinConns: 1}})
	require.NoError(t, err)
	defer db.Close()

	w := NewWriter(db.Pool)
	require.NoError(t, w.EnsureSchema(ctx))

	userID := "test-" + uuid.NewString()
	require.NoError(t, w.InsertActivity(ctx, auth.ActivityRecord{UserID: userID, Email: "it@example.com", ActionType: auth.ActionLogin, CreatedAt: time.Now()}))
	require.NoError(t, w.UpsertVisit(ctx, auth.VisitRecord{UserID: userID, Email: "it@example.com", LastVisitedAt: time.Now()}))
	require.NoError(t, w.UpsertVisit(ctx, auth.VisitRecord{UserID: userID, Email: "it@example.com", LastVisitedAt: time.Now()}))

	var count int
	require.NoError(t, db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM user_last_visits WHERE user_id = $1", userID).Scan(&count))
	assert.Equal(t, 1, count)

	_, err = db.Pool.Exec(ctx, "DELETE FROM user_activity_logs WHERE user_id = $1", userID)
	require.NoError(t, err)
	_, err = db.Pool.Exec(ctx, "DELETE FROM user_last_visits WHERE user_id = $1", userID)
	require.NoError(t, err)
}
