package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/wonny/stocktop/internal/activity"
	"github.com/wonny/stocktop/internal/events"
	"github.com/wonny/stocktop/internal/workspace"
	"github.com/wonny/stocktop/pkg/logger"
)

const visibilityCheckTimeout = 10 * time.Second

// EventsHandler upgrades /ws/events and routes browser frames to the workspace
type EventsHandler struct {
	hub    *events.Hub
	logger *logger.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(hub *events.Hub, log *logger.Logger) *EventsHandler {
	return &EventsHandler{
		hub:    hub,
		logger: log,
	}
}

// Serve streams events to the browser
// GET /ws/events
func (h *EventsHandler) Serve(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFrom(r.Context())
	h.hub.ServeWS(w, r, ws.ID, func(in events.Inbound) {
		h.handleInbound(ws, in)
	})
}

func (h *EventsHandler) handleInbound(ws *workspace.Workspace, in events.Inbound) {
	switch in.Type {
	case events.TypeActivity:
		var req ActivityRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			return
		}
		kind, err := activity.ParseEventKind(req.Kind)
		if err != nil {
			h.logger.WithField("kind", req.Kind).Debug("Ignoring unknown activity kind")
			return
		}
		ws.Auth.HandleActivity(kind)

	case events.TypeVisibility:
		ctx, cancel := context.WithTimeout(context.Background(), visibilityCheckTimeout)
		defer cancel()
		// 만료 시 session_expired 는 OnExpire 리스너가 보냄
		ws.Auth.RecheckVisibility(ctx)
	}
}
