package market

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// wireSnapshot mirrors latest.json. Pointer sections distinguish "absent" from "empty".
type wireSnapshot struct {
	Timestamp         string                  `json:"timestamp"`
	Error             *string                 `json:"error"`
	Exchange          json.RawMessage         `json:"exchange"`
	Rising            *MarketLists            `json:"rising"`
	Falling           *MarketLists            `json:"falling"`
	Volume            *MarketLists            `json:"volume"`
	TradingValue      *MarketLists            `json:"trading_value"`
	Fluctuation       *FluctuationLists       `json:"fluctuation"`
	FluctuationDirect *FluctuationLists       `json:"fluctuation_direct"`
	History           map[string]StockHistory `json:"history"`
	News              map[string]StockNews    `json:"news"`
	InvestorData      json.RawMessage         `json:"investor_data"`
	InvestorEstimated *bool                   `json:"investor_estimated"`
	ThemeAnalysis     json.RawMessage         `json:"theme_analysis"`
	CriteriaData      json.RawMessage         `json:"criteria_data"`
	Warnings          []string                `json:"_warnings"`
}

// Decode converts a producer file into the canonical model.
// The schema variant is decided here once; a payload carrying "error" returns ErrRemote.
func Decode(data []byte) (*Snapshot, error) {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	if w.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrRemote, *w.Error)
	}
	if w.Timestamp == "" {
		return nil, fmt.Errorf("decode snapshot: missing timestamp")
	}

	s := &Snapshot{
		Timestamp:     w.Timestamp,
		Schema:        SchemaLegacy,
		History:       w.History,
		News:          sanitizeNews(w.News),
		Exchange:      nullToEmpty(w.Exchange),
		InvestorData:  nullToEmpty(w.InvestorData),
		ThemeAnalysis: nullToEmpty(w.ThemeAnalysis),
		CriteriaData:  nullToEmpty(w.CriteriaData),
		Warnings:      w.Warnings,
	}

	if w.Rising != nil {
		s.Rising = *w.Rising
	}
	if w.Falling != nil {
		s.Falling = *w.Falling
	}
	if w.Fluctuation != nil {
		s.Fluctuation = *w.Fluctuation
	}
	if w.FluctuationDirect != nil {
		s.FluctuationDirect = *w.FluctuationDirect
	}
	if w.InvestorEstimated != nil {
		s.InvestorEstimated = *w.InvestorEstimated
	}

	// 거래대금/거래량 둘 다 있어야 복합 뷰 가능
	if w.Volume != nil && w.TradingValue != nil {
		s.Volume = *w.Volume
		s.TradingValue = *w.TradingValue
		s.Schema = SchemaComposite
	}

	if s.History == nil {
		s.History = map[string]StockHistory{}
	}

	return s, nil
}

// DecodeHistoryIndex parses history-index.json
func DecodeHistoryIndex(data []byte) (*HistoryIndex, error) {
	var idx HistoryIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decode history index: %w", err)
	}
	return &idx, nil
}

func nullToEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

// sanitizeNews strips markup and entities from headline text
func sanitizeNews(in map[string]StockNews) map[string]StockNews {
	out := make(map[string]StockNews, len(in))
	for code, n := range in {
		items := make([]NewsItem, 0, len(n.News))
		for _, item := range n.News {
			item.Title = stripHTML(item.Title)
			item.Description = stripHTML(item.Description)
			items = append(items, item)
		}
		n.News = items
		out[code] = n
	}
	return out
}

func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(doc.Text())
}
