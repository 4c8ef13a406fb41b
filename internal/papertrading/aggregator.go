package papertrading

import (
	"fmt"
	"sort"
	"sync"
)

type exclusionKey struct {
	date string
	code string
}

// Aggregator holds one client's paper-trading state: loaded days, the selected dates,
// the exclusion set and the buy-time / sell-at-high choices.
// Newly merged days start selected.
type Aggregator struct {
	mu sync.RWMutex

	days     map[string]*Day
	selected map[string]struct{}
	excluded map[exclusionKey]struct{}
	buyIndex map[string]int
	atHigh   bool

	version     uint64
	memoVersion uint64
	memo        *Summary
}

// NewAggregator creates an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{
		days:     make(map[string]*Day),
		selected: make(map[string]struct{}),
		excluded: make(map[exclusionKey]struct{}),
		buyIndex: make(map[string]int),
	}
}

// Merge adds or replaces a day
func (a *Aggregator) Merge(day *Day) {
	if day == nil || day.TradeDate == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, known := a.days[day.TradeDate]; !known {
		a.selected[day.TradeDate] = struct{}{}
	}
	a.days[day.TradeDate] = day

	// 스냅샷 개수가 줄었으면 선택 초기화
	if idx, ok := a.buyIndex[day.TradeDate]; ok && idx >= len(day.PriceSnapshots) {
		delete(a.buyIndex, day.TradeDate)
	}
	a.version++
}

// Dates returns the loaded dates, newest first
func (a *Aggregator) Dates() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.datesLocked()
}

func (a *Aggregator) datesLocked() []string {
	dates := make([]string, 0, len(a.days))
	for d := range a.days {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates
}

// Day returns a loaded day
func (a *Aggregator) Day(date string) (*Day, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	d, ok := a.days[date]
	return d, ok
}

// IsDateSelected reports date membership
func (a *Aggregator) IsDateSelected(date string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.selected[date]
	return ok
}

// SelectedDates returns selected dates, newest first
func (a *Aggregator) SelectedDates() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := []string{}
	for _, d := range a.datesLocked() {
		if _, ok := a.selected[d]; ok {
			out = append(out, d)
		}
	}
	return out
}

// ToggleDate flips selection of a loaded date
func (a *Aggregator) ToggleDate(date string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.days[date]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDate, date)
	}

	if _, ok := a.selected[date]; ok {
		delete(a.selected, date)
	} else {
		a.selected[date] = struct{}{}
	}
	a.version++
	return nil
}

// ToggleAllDates clears the selection when every date is selected, otherwise selects all
func (a *Aggregator) ToggleAllDates() {
	a.mu.Lock()
	defer a.mu.Unlock()

	allSelected := true
	for d := range a.days {
		if _, ok := a.selected[d]; !ok {
			allSelected = false
			break
		}
	}

	if allSelected {
		a.selected = make(map[string]struct{})
	} else {
		for d := range a.days {
			a.selected[d] = struct{}{}
		}
	}
	a.version++
}

// ToggleStock flips exclusion of (date, code). Returns the new excluded state.
func (a *Aggregator) ToggleStock(date, code string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := exclusionKey{date: date, code: code}
	_, excluded := a.excluded[key]
	if excluded {
		delete(a.excluded, key)
	} else {
		a.excluded[key] = struct{}{}
	}
	a.version++
	return !excluded
}

// ToggleAllStocks includes every code when all are excluded, otherwise excludes every code
func (a *Aggregator) ToggleAllStocks(date string, codes []string) {
	if len(codes) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	allExcluded := true
	for _, code := range codes {
		if _, ok := a.excluded[exclusionKey{date: date, code: code}]; !ok {
			allExcluded = false
			break
		}
	}

	for _, code := range codes {
		key := exclusionKey{date: date, code: code}
		if allExcluded {
			delete(a.excluded, key)
		} else {
			a.excluded[key] = struct{}{}
		}
	}
	a.version++
}

// IsStockExcluded reports exclusion membership
func (a *Aggregator) IsStockExcluded(date, code string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.excluded[exclusionKey{date: date, code: code}]
	return ok
}

// ExcludedCount returns the size of the exclusion set
func (a *Aggregator) ExcludedCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.excluded)
}

// ResetExcluded clears the exclusion set
func (a *Aggregator) ResetExcluded() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.excluded = make(map[exclusionKey]struct{})
	a.version++
}

// SelectSnapshot chooses the buy time for a day: OriginalBuy or an index into its price snapshots
func (a *Aggregator) SelectSnapshot(date string, index int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	day, ok := a.days[date]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDate, date)
	}

	switch {
	case index == OriginalBuy:
		delete(a.buyIndex, date)
	case index >= 0 && index < len(day.PriceSnapshots):
		a.buyIndex[date] = index
	default:
		return fmt.Errorf("%w: %d for %s", ErrInvalidSnapshot, index, date)
	}
	a.version++
	return nil
}

// SelectedSnapshot returns the chosen buy-time index for a day
func (a *Aggregator) SelectedSnapshot(date string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if idx, ok := a.buyIndex[date]; ok {
		return idx
	}
	return OriginalBuy
}

// SetSellAtHigh switches valuation between close and intraday high
func (a *Aggregator) SetSellAtHigh(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.atHigh != on {
		a.atHigh = on
		a.version++
	}
}

// SellAtHigh reports the valuation mode
func (a *Aggregator) SellAtHigh() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.atHigh
}

// ActiveStocks flattens the selected days, newest first, skipping excluded positions
func (a *Aggregator) ActiveStocks() []Position {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.activeLocked()
}

func (a *Aggregator) activeLocked() []Position {
	out := []Position{}
	for _, date := range a.datesLocked() {
		if _, ok := a.selected[date]; !ok {
			continue
		}
		out = append(out, a.dayPositionsLocked(date)...)
	}
	return out
}

func (a *Aggregator) dayPositionsLocked(date string) []Position {
	day := a.days[date]

	var prices map[string]float64
	if idx, ok := a.buyIndex[date]; ok {
		prices = day.PriceSnapshots[idx].Prices
	}

	out := make([]Position, 0, len(day.Stocks))
	for _, st := range day.Stocks {
		if _, ok := a.excluded[exclusionKey{date: date, code: st.Code}]; ok {
			continue
		}
		out = append(out, a.position(date, st, prices))
	}
	return out
}

// DayPositions returns every position of a day, excluded ones included and flagged
func (a *Aggregator) DayPositions(date string) ([]Position, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	day, ok := a.days[date]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDate, date)
	}

	var prices map[string]float64
	if idx, ok := a.buyIndex[date]; ok {
		prices = day.PriceSnapshots[idx].Prices
	}

	out := make([]Position, 0, len(day.Stocks))
	for _, st := range day.Stocks {
		p := a.position(date, st, prices)
		_, p.Excluded = a.excluded[exclusionKey{date: date, code: st.Code}]
		out = append(out, p)
	}
	return out, nil
}

// position applies buy-time substitution and sell-at-high; codes missing from the
// snapshot keep their recorded buy price, stocks without a high keep their close
func (a *Aggregator) position(date string, st Stock, prices map[string]float64) Position {
	p := Position{
		Date:       date,
		Code:       st.Code,
		Name:       st.Name,
		Theme:      st.Theme,
		BuyPrice:   st.BuyPrice,
		SellPrice:  st.ClosePrice,
		ProfitRate: st.ProfitRate,
	}

	overridden := false
	if price, ok := prices[st.Code]; ok && price > 0 {
		p.BuyPrice = price
		overridden = true
	}

	if a.atHigh && st.HighPrice != nil {
		p.SellPrice = *st.HighPrice
		p.SoldAtHigh = true
	}

	if overridden || p.SoldAtHigh {
		p.ProfitRate = rateOf(p.BuyPrice, p.SellPrice)
	}
	return p
}

// Summary aggregates the active positions. Memoized until the next mutation.
func (a *Aggregator) Summary() Summary {
	a.mu.RLock()
	if a.memo != nil && a.memoVersion == a.version {
		s := *a.memo
		a.mu.RUnlock()
		return s
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.memo == nil || a.memoVersion != a.version {
		s := Summarize(a.activeLocked())
		a.memo = &s
		a.memoVersion = a.version
	}
	return *a.memo
}

// DaySummary aggregates one day's non-excluded positions regardless of date selection
func (a *Aggregator) DaySummary(date string) (Summary, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if _, ok := a.days[date]; !ok {
		return Summary{}, fmt.Errorf("%w: %s", ErrUnknownDate, date)
	}
	return Summarize(a.dayPositionsLocked(date)), nil
}
