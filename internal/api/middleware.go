package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/stocktop/internal/api/handlers"
	"github.com/wonny/stocktop/internal/workspace"
	"github.com/wonny/stocktop/pkg/logger"
)

const clientCookieMaxAge = 365 * 24 * 60 * 60

// statusRecorder captures the response status for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// Hijack keeps WebSocket upgrades working through the recorder
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rec.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					writeJSON(w, http.StatusInternalServerError, map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// workspaceMiddleware resolves the client cookie to its workspace, issuing a new id when absent
func workspaceMiddleware(registry *workspace.Registry, secure bool, log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id string
			if c, err := r.Cookie(workspace.CookieName); err == nil && workspace.ValidID(c.Value) {
				id = c.Value
			}
			if id == "" {
				id = workspace.NewID()
				http.SetCookie(w, &http.Cookie{
					Name:     workspace.CookieName,
					Value:    id,
					Path:     "/",
					MaxAge:   clientCookieMaxAge,
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ws, err := registry.Get(r.Context(), id)
			if err != nil {
				log.WithError(err).WithField("client_id", id).Error("Failed to open workspace")
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"error": "Internal server error",
				})
				return
			}

			next.ServeHTTP(w, r.WithContext(handlers.WithWorkspace(r.Context(), ws)))
		})
	}
}

// requireAuth rejects requests from clients without a live session.
// The stored session is re-read so storage expiry is enforced per request.
func requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws := handlers.WorkspaceFrom(r.Context())
		if ws == nil || !ws.Auth.Validate(r.Context()) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "not authenticated",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
