package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/wonny/stocktop/internal/composite"
	"github.com/wonny/stocktop/internal/market"
	"github.com/wonny/stocktop/pkg/logger"
)

// SnapshotHandler serves the market snapshot, live refresh, history and composite views
// ⭐ SSOT: 시세 스냅샷 API 핸들러는 이 구조체에서만
type SnapshotHandler struct {
	fetcher *market.Fetcher
	logger  *logger.Logger
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(fetcher *market.Fetcher, log *logger.Logger) *SnapshotHandler {
	return &SnapshotHandler{
		fetcher: fetcher,
		logger:  log,
	}
}

// SnapshotResponse wraps the displayed snapshot with view state
type SnapshotResponse struct {
	Snapshot    *market.Snapshot     `json:"snapshot"`
	Warning     string               `json:"warning,omitempty"`
	Historical  *market.HistoryEntry `json:"historical,omitempty"`
	AutoRefresh bool                 `json:"autoRefresh"`
}

// RefreshStatus reports live refresh progress
type RefreshStatus struct {
	InFlight bool `json:"inFlight"`
	Elapsed  int  `json:"elapsed"`
}

// SelectHistoryRequest selects an archived snapshot by filename
type SelectHistoryRequest struct {
	Filename string `json:"filename"`
}

// GetSnapshot returns the live snapshot, or the selected archived one
// GET /api/snapshot
func (h *SnapshotHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFrom(r.Context())

	snap := ws.View.Current()
	if snap == nil {
		respondError(w, http.StatusServiceUnavailable, market.ErrNoSnapshot.Error())
		return
	}

	resp := SnapshotResponse{
		Snapshot:    snap,
		Warning:     h.fetcher.Warning(),
		AutoRefresh: ws.View.AutoRefresh(),
	}
	if entry, ok := ws.View.Selected(); ok {
		resp.Historical = &entry
	}

	respondJSON(w, http.StatusOK, resp)
}

// DismissWarning clears the data-load warning banner
// DELETE /api/snapshot/warning
func (h *SnapshotHandler) DismissWarning(w http.ResponseWriter, r *http.Request) {
	h.fetcher.DismissWarning()
	w.WriteHeader(http.StatusNoContent)
}

// Refresh runs a live refresh and falls back to static data on failure
// POST /api/snapshot/refresh
func (h *SnapshotHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFrom(r.Context())
	if !ws.View.AutoRefresh() {
		respondError(w, http.StatusConflict, "viewing history, return to live data first")
		return
	}

	// 브라우저가 끊겨도 갱신은 끝까지 진행 (다른 클라이언트도 결과를 받음)
	ctx := context.WithoutCancel(r.Context())

	result, err := h.fetcher.RefreshLive(ctx)
	if errors.Is(err, market.ErrRefreshInFlight) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Live refresh failed")
		respondError(w, http.StatusInternalServerError, "Failed to refresh data")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// RefreshStatus returns whether a live refresh is running and for how long
// GET /api/snapshot/refresh/status
func (h *SnapshotHandler) RefreshStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, RefreshStatus{
		InFlight: h.fetcher.InFlight(),
		Elapsed:  h.fetcher.Elapsed(),
	})
}

// GetHistory returns the archived snapshot index
// GET /api/history
func (h *SnapshotHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	index, err := h.fetcher.FetchHistoryIndex(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get history index")
		respondError(w, http.StatusBadGateway, "Failed to retrieve history index")
		return
	}

	respondJSON(w, http.StatusOK, index)
}

// SelectHistory switches the client to an archived snapshot
// POST /api/history/select
func (h *SnapshotHandler) SelectHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SelectHistoryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Filename == "" {
		respondError(w, http.StatusBadRequest, "filename is required")
		return
	}

	index, err := h.fetcher.FetchHistoryIndex(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get history index")
		respondError(w, http.StatusBadGateway, "Failed to retrieve history index")
		return
	}

	entry, ok := index.Find(req.Filename)
	if !ok {
		respondError(w, http.StatusNotFound, "history entry not found")
		return
	}

	ws := WorkspaceFrom(ctx)
	if _, err := ws.View.SelectHistory(ctx, entry); err != nil {
		h.logger.WithError(err).WithField("filename", entry.Filename).Warn("Failed to load history snapshot")
		respondError(w, http.StatusBadGateway, "Failed to load history snapshot")
		return
	}

	h.GetSnapshot(w, r)
}

// BackToLive leaves the archived snapshot
// POST /api/history/live
func (h *SnapshotHandler) BackToLive(w http.ResponseWriter, r *http.Request) {
	WorkspaceFrom(r.Context()).View.BackToLive()
	h.GetSnapshot(w, r)
}

// GetComposite returns the composite rising/falling lists, or the raw lists for legacy snapshots.
// mode and source default to the client's saved preferences.
// GET /api/composite?mode=&source=
func (h *SnapshotHandler) GetComposite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ws := WorkspaceFrom(ctx)

	snap := ws.View.Current()
	if snap == nil {
		respondError(w, http.StatusServiceUnavailable, market.ErrNoSnapshot.Error())
		return
	}

	prefs, err := ws.Preferences.Load(ctx)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to load preferences")
	}

	mode := prefs.CompositeMode
	if v := r.URL.Query().Get("mode"); v != "" {
		if mode, err = composite.ParseMode(v); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	src := prefs.FluctuationSource
	if v := r.URL.Query().Get("source"); v != "" {
		if src, err = composite.ParseSource(v); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if mode == "" {
		mode = composite.ModeAll
	}
	if src == "" {
		src = composite.SourceRecomputed
	}

	respondJSON(w, http.StatusOK, ws.Composite.Get(snap, mode, src))
}
