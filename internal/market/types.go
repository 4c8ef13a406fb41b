// Package market holds the ranking snapshot model and the fetcher that loads it.
package market

import (
	"encoding/json"
	"errors"
)

// Sentinel errors
var (
	ErrNoSnapshot      = errors.New("no snapshot loaded")
	ErrRemote          = errors.New("live server reported an error")
	ErrRefreshInFlight = errors.New("live refresh already in progress")
)

// Market segments
const (
	Kospi  = "kospi"
	Kosdaq = "kosdaq"
)

// Stock is one ranking entry. Identity is Code; Rank is only meaningful inside its list.
type Stock struct {
	Rank         int     `json:"rank"`
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	CurrentPrice float64 `json:"current_price"`
	ChangePrice  float64 `json:"change_price"`
	ChangeRate   float64 `json:"change_rate"`
	Volume       float64 `json:"volume"`
	TradingValue float64 `json:"trading_value,omitempty"`
	Market       string  `json:"market,omitempty"`
}

// MarketLists is a ranked list split by market
type MarketLists struct {
	Kospi  []Stock `json:"kospi"`
	Kosdaq []Stock `json:"kosdaq"`
}

// ByMarket returns the list for a market segment
func (m MarketLists) ByMarket(market string) []Stock {
	if market == Kosdaq {
		return m.Kosdaq
	}
	return m.Kospi
}

// FluctuationLists is a change-rate ranking split by market and direction
type FluctuationLists struct {
	KospiUp    []Stock `json:"kospi_up"`
	KospiDown  []Stock `json:"kospi_down"`
	KosdaqUp   []Stock `json:"kosdaq_up"`
	KosdaqDown []Stock `json:"kosdaq_down"`
}

// Codes returns the union of up and down codes for a market
func (f FluctuationLists) Codes(market string) map[string]struct{} {
	up, down := f.KospiUp, f.KospiDown
	if market == Kosdaq {
		up, down = f.KosdaqUp, f.KosdaqDown
	}

	set := make(map[string]struct{}, len(up)+len(down))
	for _, s := range up {
		set[s.Code] = struct{}{}
	}
	for _, s := range down {
		set[s.Code] = struct{}{}
	}
	return set
}

// DailyChange is one day of a stock's recent history
type DailyChange struct {
	Date       string  `json:"date"`
	Close      float64 `json:"close"`
	ChangeRate float64 `json:"change_rate"`
}

// StockHistory is the last-N daily change rates for a stock
type StockHistory struct {
	Code            string        `json:"code"`
	Changes         []DailyChange `json:"changes"`
	TotalChangeRate float64       `json:"total_change_rate"`
}

// NewsItem is one article headline
type NewsItem struct {
	Title       string `json:"title"`
	Link        string `json:"link,omitempty"`
	Description string `json:"description,omitempty"`
	PubDate     string `json:"pubDate,omitempty"`
}

// StockNews holds headlines for a stock
type StockNews struct {
	Name string     `json:"name,omitempty"`
	News []NewsItem `json:"news"`
}

// Schema distinguishes snapshot generations
type Schema string

const (
	// SchemaLegacy snapshots lack trading-value or volume rankings; no composite view is possible
	SchemaLegacy Schema = "legacy"
	// SchemaComposite snapshots carry every list the composite engine needs
	SchemaComposite Schema = "composite"
)

// Origin records where the current snapshot came from
type Origin string

const (
	OriginStatic  Origin = "static"
	OriginLive    Origin = "live"
	OriginHistory Origin = "history"
	OriginDemo    Origin = "demo"
)

// Snapshot is the canonical in-memory model of one data file.
// Optional producer sections without derivation logic are kept as raw JSON.
type Snapshot struct {
	Timestamp         string                  `json:"timestamp"`
	Schema            Schema                  `json:"schema"`
	Origin            Origin                  `json:"origin"`
	Rising            MarketLists             `json:"rising"`
	Falling           MarketLists             `json:"falling"`
	Volume            MarketLists             `json:"volume"`
	TradingValue      MarketLists             `json:"trading_value"`
	Fluctuation       FluctuationLists        `json:"fluctuation"`
	FluctuationDirect FluctuationLists        `json:"fluctuation_direct"`
	History           map[string]StockHistory `json:"history"`
	News              map[string]StockNews    `json:"news"`
	Exchange          json.RawMessage         `json:"exchange,omitempty"`
	InvestorData      json.RawMessage         `json:"investor_data,omitempty"`
	InvestorEstimated bool                    `json:"investor_estimated,omitempty"`
	ThemeAnalysis     json.RawMessage         `json:"theme_analysis,omitempty"`
	CriteriaData      json.RawMessage         `json:"criteria_data,omitempty"`
	Warnings          []string                `json:"warnings,omitempty"`
}

// HasComposite reports whether the composite engine can run on this snapshot
func (s *Snapshot) HasComposite() bool {
	return s != nil && s.Schema == SchemaComposite
}

// HistoryEntry is one archived snapshot file
type HistoryEntry struct {
	Filename string `json:"filename"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Path     string `json:"path,omitempty"`
}

// HistoryIndex lists archived snapshots, newest first
type HistoryIndex struct {
	UpdatedAt string         `json:"updated_at"`
	Entries   []HistoryEntry `json:"entries"`
}

// Find returns the entry for a filename
func (h *HistoryIndex) Find(filename string) (HistoryEntry, bool) {
	for _, e := range h.Entries {
		if e.Filename == filename {
			return e, true
		}
	}
	return HistoryEntry{}, false
}
