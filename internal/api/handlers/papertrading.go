package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/stocktop/internal/papertrading"
	"github.com/wonny/stocktop/pkg/logger"
)

// PaperTradingHandler exposes the client's paper-trading selection and summary
// ⭐ SSOT: 모의투자 API 핸들러는 이 구조체에서만
type PaperTradingHandler struct {
	logger *logger.Logger
}

// NewPaperTradingHandler creates a new paper-trading handler
func NewPaperTradingHandler(log *logger.Logger) *PaperTradingHandler {
	return &PaperTradingHandler{logger: log}
}

// DayCard is one trading day in the overview
type DayCard struct {
	Date             string               `json:"date"`
	Selected         bool                 `json:"selected"`
	StockCount       int                  `json:"stockCount"`
	SnapshotCount    int                  `json:"snapshotCount"`
	SelectedSnapshot int                  `json:"selectedSnapshot"`
	Summary          papertrading.Summary `json:"summary"`
}

// OverviewResponse is the aggregate view across selected days
type OverviewResponse struct {
	Days          []DayCard            `json:"days"`
	Summary       papertrading.Summary `json:"summary"`
	SellAtHigh    bool                 `json:"sellAtHigh"`
	ExcludedCount int                  `json:"excludedCount"`
}

// DayResponse is one day's detail
type DayResponse struct {
	DayCard
	MorningTimestamp string                       `json:"morningTimestamp,omitempty"`
	CollectedAt      string                       `json:"collectedAt,omitempty"`
	PriceSnapshots   []papertrading.PriceSnapshot `json:"priceSnapshots,omitempty"`
	Positions        []papertrading.Position      `json:"positions"`
}

// StockToggleRequest names one position
type StockToggleRequest struct {
	Date string `json:"date"`
	Code string `json:"code"`
}

// StocksToggleRequest names a group of positions on one day
type StocksToggleRequest struct {
	Date  string   `json:"date"`
	Codes []string `json:"codes"`
}

// SnapshotSelectRequest picks the buy time; -1 restores the original buy price
type SnapshotSelectRequest struct {
	Index int `json:"index"`
}

// SellAtHighRequest switches valuation mode
type SellAtHighRequest struct {
	Enabled bool `json:"enabled"`
}

// Overview returns day cards and the aggregate summary
// GET /api/papertrading
func (h *PaperTradingHandler) Overview(w http.ResponseWriter, r *http.Request) {
	agg := WorkspaceFrom(r.Context()).PaperTrading

	dates := agg.Dates()
	resp := OverviewResponse{
		Days:          make([]DayCard, 0, len(dates)),
		Summary:       agg.Summary(),
		SellAtHigh:    agg.SellAtHigh(),
		ExcludedCount: agg.ExcludedCount(),
	}
	for _, date := range dates {
		if card, ok := dayCard(agg, date); ok {
			resp.Days = append(resp.Days, card)
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// Day returns one day with its positions
// GET /api/papertrading/days/{date}
func (h *PaperTradingHandler) Day(w http.ResponseWriter, r *http.Request) {
	agg := WorkspaceFrom(r.Context()).PaperTrading
	date := mux.Vars(r)["date"]

	day, ok := agg.Day(date)
	card, cardOK := dayCard(agg, date)
	if !ok || !cardOK {
		respondError(w, http.StatusNotFound, "trading day not found")
		return
	}

	positions, err := agg.DayPositions(date)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, DayResponse{
		DayCard:          card,
		MorningTimestamp: day.MorningTimestamp,
		CollectedAt:      day.CollectedAt,
		PriceSnapshots:   day.PriceSnapshots,
		Positions:        positions,
	})
}

// Positions returns the active (selected, non-excluded) positions
// GET /api/papertrading/positions
func (h *PaperTradingHandler) Positions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, WorkspaceFrom(r.Context()).PaperTrading.ActiveStocks())
}

// ToggleDate flips one date's selection
// POST /api/papertrading/days/{date}/toggle
func (h *PaperTradingHandler) ToggleDate(w http.ResponseWriter, r *http.Request) {
	agg := WorkspaceFrom(r.Context()).PaperTrading
	if err := agg.ToggleDate(mux.Vars(r)["date"]); err != nil {
		h.respondAggregatorError(w, err)
		return
	}
	h.Overview(w, r)
}

// ToggleAllDates selects every date, or clears the selection when all are selected
// POST /api/papertrading/days/toggle-all
func (h *PaperTradingHandler) ToggleAllDates(w http.ResponseWriter, r *http.Request) {
	WorkspaceFrom(r.Context()).PaperTrading.ToggleAllDates()
	h.Overview(w, r)
}

// SelectSnapshot picks the buy-time snapshot for a day
// POST /api/papertrading/days/{date}/snapshot
func (h *PaperTradingHandler) SelectSnapshot(w http.ResponseWriter, r *http.Request) {
	req := SnapshotSelectRequest{Index: papertrading.OriginalBuy}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	agg := WorkspaceFrom(r.Context()).PaperTrading
	if err := agg.SelectSnapshot(mux.Vars(r)["date"], req.Index); err != nil {
		h.respondAggregatorError(w, err)
		return
	}
	h.Day(w, r)
}

// ToggleStock flips exclusion of one position
// POST /api/papertrading/stocks/toggle
func (h *PaperTradingHandler) ToggleStock(w http.ResponseWriter, r *http.Request) {
	var req StockToggleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Date == "" || req.Code == "" {
		respondError(w, http.StatusBadRequest, "date and code are required")
		return
	}

	agg := WorkspaceFrom(r.Context()).PaperTrading
	excluded := agg.ToggleStock(req.Date, req.Code)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"excluded": excluded,
		"summary":  agg.Summary(),
	})
}

// ToggleAllStocks includes a group when all of it is excluded, otherwise excludes it
// POST /api/papertrading/stocks/toggle-all
func (h *PaperTradingHandler) ToggleAllStocks(w http.ResponseWriter, r *http.Request) {
	var req StocksToggleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Date == "" {
		respondError(w, http.StatusBadRequest, "date is required")
		return
	}

	WorkspaceFrom(r.Context()).PaperTrading.ToggleAllStocks(req.Date, req.Codes)
	h.Overview(w, r)
}

// ResetExcluded clears every exclusion
// POST /api/papertrading/exclusions/reset
func (h *PaperTradingHandler) ResetExcluded(w http.ResponseWriter, r *http.Request) {
	WorkspaceFrom(r.Context()).PaperTrading.ResetExcluded()
	h.Overview(w, r)
}

// SetSellAtHigh switches between close and intraday-high valuation
// PUT /api/papertrading/sell-at-high
func (h *PaperTradingHandler) SetSellAtHigh(w http.ResponseWriter, r *http.Request) {
	var req SellAtHighRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	WorkspaceFrom(r.Context()).PaperTrading.SetSellAtHigh(req.Enabled)
	h.Overview(w, r)
}

func (h *PaperTradingHandler) respondAggregatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, papertrading.ErrUnknownDate):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, papertrading.ErrInvalidSnapshot):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.WithError(err).Error("Paper trading update failed")
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func dayCard(agg *papertrading.Aggregator, date string) (DayCard, bool) {
	day, ok := agg.Day(date)
	if !ok {
		return DayCard{}, false
	}
	summary, err := agg.DaySummary(date)
	if err != nil {
		return DayCard{}, false
	}

	return DayCard{
		Date:             date,
		Selected:         agg.IsDateSelected(date),
		StockCount:       len(day.Stocks),
		SnapshotCount:    len(day.PriceSnapshots),
		SelectedSnapshot: agg.SelectedSnapshot(date),
		Summary:          summary,
	}, true
}
