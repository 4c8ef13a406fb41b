// Package papertrading aggregates simulated daily trades under user exclusions.
package papertrading

import (
	"encoding/json"
	"errors"
)

// Sentinel errors
var (
	ErrUnknownDate     = errors.New("unknown trading date")
	ErrInvalidSnapshot = errors.New("invalid price snapshot index")
)

// OriginalBuy selects the recorded morning buy price instead of an intraday snapshot
const OriginalBuy = -1

// Stock is one simulated position as computed by the collection job
type Stock struct {
	Code         string   `json:"code"`
	Name         string   `json:"name"`
	Theme        string   `json:"theme,omitempty"`
	BuyPrice     float64  `json:"buy_price"`
	ClosePrice   float64  `json:"close_price"`
	HighPrice    *float64 `json:"high_price,omitempty"`
	HighTime     *string  `json:"high_time,omitempty"`
	ProfitRate   float64  `json:"profit_rate"`
	ProfitAmount float64  `json:"profit_amount"`
}

// PriceSnapshot is an alternative intraday buy time
type PriceSnapshot struct {
	Timestamp string             `json:"timestamp"`
	Prices    map[string]float64 `json:"prices"`
}

// Day is one paper-trading file
type Day struct {
	TradeDate        string          `json:"trade_date"`
	MorningTimestamp string          `json:"morning_timestamp"`
	CollectedAt      string          `json:"collected_at"`
	PriceSnapshots   []PriceSnapshot `json:"price_snapshots,omitempty"`
	Stocks           []Stock         `json:"stocks"`
	Summary          json.RawMessage `json:"summary,omitempty"`
}

// IndexEntry is one day in the paper-trading index
type IndexEntry struct {
	Date            string  `json:"date"`
	Filename        string  `json:"filename"`
	TotalProfitRate float64 `json:"total_profit_rate"`
	StockCount      int     `json:"stock_count"`
}

// Index lists the available paper-trading days
type Index struct {
	Entries []IndexEntry `json:"entries"`
}

// Position is a Stock as it enters the aggregate: buy price after snapshot substitution,
// sell price after the sell-at-high choice, and the effective profit rate.
type Position struct {
	Date       string  `json:"date"`
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Theme      string  `json:"theme,omitempty"`
	BuyPrice   float64 `json:"buy_price"`
	SellPrice  float64 `json:"sell_price"`
	ProfitRate float64 `json:"profit_rate"`
	SoldAtHigh bool    `json:"sold_at_high"`
	Excluded   bool    `json:"excluded,omitempty"`
}

// Summary is the aggregate over a set of positions
type Summary struct {
	TotalStocks     int     `json:"total_stocks"`
	ProfitCount     int     `json:"profit_count"`
	LossCount       int     `json:"loss_count"`
	FlatCount       int     `json:"flat_count"`
	TotalInvested   float64 `json:"total_invested"`
	TotalValue      float64 `json:"total_value"`
	TotalProfit     float64 `json:"total_profit"`
	TotalProfitRate float64 `json:"total_profit_rate"`
}
