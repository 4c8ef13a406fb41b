package handlers

import (
	"errors"
	"net/http"

	"github.com/wonny/stocktop/internal/preferences"
	"github.com/wonny/stocktop/pkg/logger"
)

// PreferencesHandler reads and writes the client's UI preferences
type PreferencesHandler struct {
	logger *logger.Logger
}

// NewPreferencesHandler creates a new preferences handler
func NewPreferencesHandler(log *logger.Logger) *PreferencesHandler {
	return &PreferencesHandler{logger: log}
}

// Get returns the stored preferences (defaults where nothing is stored)
// GET /api/preferences
func (h *PreferencesHandler) Get(w http.ResponseWriter, r *http.Request) {
	prefs, err := WorkspaceFrom(r.Context()).Preferences.Load(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to load preferences")
		respondError(w, http.StatusInternalServerError, "Failed to load preferences")
		return
	}

	respondJSON(w, http.StatusOK, prefs)
}

// Update merges the body over the stored preferences and saves them
// PUT /api/preferences
func (h *PreferencesHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store := WorkspaceFrom(ctx).Preferences

	prefs, err := store.Load(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load preferences")
		respondError(w, http.StatusInternalServerError, "Failed to load preferences")
		return
	}

	// 본문에 없는 필드는 기존 값 유지
	if err := decodeJSON(r, &prefs); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := store.Save(ctx, prefs); err != nil {
		if errors.Is(err, preferences.ErrInvalid) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.WithError(err).Error("Failed to save preferences")
		respondError(w, http.StatusInternalServerError, "Failed to save preferences")
		return
	}

	respondJSON(w, http.StatusOK, prefs)
}
