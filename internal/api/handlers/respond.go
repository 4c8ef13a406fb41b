package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/wonny/stocktop/internal/workspace"
)

const maxBodyBytes = 1 << 20

type ctxKey struct{}

// WithWorkspace attaches the client workspace to a request context
func WithWorkspace(ctx context.Context, ws *workspace.Workspace) context.Context {
	return context.WithValue(ctx, ctxKey{}, ws)
}

// WorkspaceFrom returns the client workspace set by the workspace middleware
func WorkspaceFrom(ctx context.Context) *workspace.Workspace {
	ws, _ := ctx.Value(ctxKey{}).(*workspace.Workspace)
	return ws
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// decodeJSON reads a JSON body. An empty body leaves dest untouched.
func decodeJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
