package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/stocktop/internal/api/handlers"
	"github.com/wonny/stocktop/internal/workspace"
	"github.com/wonny/stocktop/pkg/logger"
)

// Handlers bundles the route handlers
type Handlers struct {
	Auth         *handlers.AuthHandler
	Snapshot     *handlers.SnapshotHandler
	PaperTrading *handlers.PaperTradingHandler
	Preferences  *handlers.PreferencesHandler
	Events       *handlers.EventsHandler
}

// RouterConfig holds router-level settings
type RouterConfig struct {
	SecureCookies bool
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(h Handlers, registry *workspace.Registry, cfg RouterConfig, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler(registry)).Methods("GET")

	withWorkspace := workspaceMiddleware(registry, cfg.SecureCookies, log)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(withWorkspace)

	// Auth endpoints (no session required)
	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/signup", h.Auth.SignUp).Methods("POST")
	auth.HandleFunc("/signin", h.Auth.SignIn).Methods("POST")
	auth.HandleFunc("/signout", h.Auth.SignOut).Methods("POST")
	auth.HandleFunc("/session", h.Auth.Session).Methods("GET")
	auth.HandleFunc("/activity", h.Auth.Activity).Methods("POST")
	auth.HandleFunc("/visibility", h.Auth.Visibility).Methods("POST")
	auth.HandleFunc("/visit", h.Auth.Visit).Methods("POST")

	// Data endpoints (signed-in only)
	data := api.NewRoute().Subrouter()
	data.Use(requireAuth)

	data.HandleFunc("/snapshot", h.Snapshot.GetSnapshot).Methods("GET")
	data.HandleFunc("/snapshot/warning", h.Snapshot.DismissWarning).Methods("DELETE")
	data.HandleFunc("/snapshot/refresh", h.Snapshot.Refresh).Methods("POST")
	data.HandleFunc("/snapshot/refresh/status", h.Snapshot.RefreshStatus).Methods("GET")
	data.HandleFunc("/history", h.Snapshot.GetHistory).Methods("GET")
	data.HandleFunc("/history/select", h.Snapshot.SelectHistory).Methods("POST")
	data.HandleFunc("/history/live", h.Snapshot.BackToLive).Methods("POST")
	data.HandleFunc("/composite", h.Snapshot.GetComposite).Methods("GET")

	data.HandleFunc("/papertrading", h.PaperTrading.Overview).Methods("GET")
	data.HandleFunc("/papertrading/positions", h.PaperTrading.Positions).Methods("GET")
	data.HandleFunc("/papertrading/days/toggle-all", h.PaperTrading.ToggleAllDates).Methods("POST")
	data.HandleFunc("/papertrading/days/{date}", h.PaperTrading.Day).Methods("GET")
	data.HandleFunc("/papertrading/days/{date}/toggle", h.PaperTrading.ToggleDate).Methods("POST")
	data.HandleFunc("/papertrading/days/{date}/snapshot", h.PaperTrading.SelectSnapshot).Methods("POST")
	data.HandleFunc("/papertrading/stocks/toggle", h.PaperTrading.ToggleStock).Methods("POST")
	data.HandleFunc("/papertrading/stocks/toggle-all", h.PaperTrading.ToggleAllStocks).Methods("POST")
	data.HandleFunc("/papertrading/exclusions/reset", h.PaperTrading.ResetExcluded).Methods("POST")
	data.HandleFunc("/papertrading/sell-at-high", h.PaperTrading.SetSellAtHigh).Methods("PUT")

	data.HandleFunc("/preferences", h.Preferences.Get).Methods("GET")
	data.HandleFunc("/preferences", h.Preferences.Update).Methods("PUT")

	// Event stream
	ws := r.PathPrefix("/ws").Subrouter()
	ws.Use(withWorkspace, requireAuth)
	ws.HandleFunc("/events", h.Events.Serve).Methods("GET")

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(registry *workspace.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "ok",
			"service":    "stocktop-dashboard",
			"workspaces": registry.Len(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
