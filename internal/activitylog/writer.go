// Package activitylog persists auth activity rows directly to Postgres.
package activitylog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wonny/stocktop/internal/auth"
)

// Execer is the subset of pgxpool.Pool the writer needs
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS user_activity_logs (
		id          UUID PRIMARY KEY,
		user_id     TEXT NOT NULL,
		email       TEXT NOT NULL,
		action_type TEXT NOT NULL,
		detail      JSONB,
		created_at  TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_user_activity_logs_user ON user_activity_logs (user_id, created_at DESC);
	CREATE TABLE IF NOT EXISTS user_last_visits (
		user_id         TEXT PRIMARY KEY,
		email           TEXT NOT NULL,
		last_visited_at TIMESTAMPTZ NOT NULL
	);
`

// Writer implements auth.ActivityWriter on Postgres
// ⭐ SSOT: 활동 로그 DB 저장은 여기서만
type Writer struct {
	db Execer
}

// NewWriter creates a writer over a pool (or any Execer)
func NewWriter(db Execer) *Writer {
	return &Writer{db: db}
}

// EnsureSchema creates the activity tables when missing
func (w *Writer) EnsureSchema(ctx context.Context) error {
	if _, err := w.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create activity schema: %w", err)
	}
	return nil
}

// InsertActivity appends one activity row
func (w *Writer) InsertActivity(ctx context.Context, rec auth.ActivityRecord) error {
	var detail []byte
	if len(rec.Detail) > 0 {
		var err error
		detail, err = json.Marshal(rec.Detail)
		if err != nil {
			return fmt.Errorf("failed to encode activity detail: %w", err)
		}
	}

	query := `
		INSERT INTO user_activity_logs (id, user_id, email, action_type, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := w.db.Exec(ctx, query, uuid.New(), rec.UserID, rec.Email, rec.ActionType, detail, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

// UpsertVisit writes the last-visit row, replacing the previous one for the user
func (w *Writer) UpsertVisit(ctx context.Context, rec auth.VisitRecord) error {
	query := `
		INSERT INTO user_last_visits (user_id, email, last_visited_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			last_visited_at = EXCLUDED.last_visited_at
	`

	if _, err := w.db.Exec(ctx, query, rec.UserID, rec.Email, rec.LastVisitedAt); err != nil {
		return fmt.Errorf("failed to upsert visit: %w", err)
	}
	return nil
}
