// Package composite intersects independently ranked lists into one re-ranked view.
package composite

import (
	"fmt"
	"sync"

	"github.com/wonny/stocktop/internal/market"
)

// Mode selects which rankings are intersected
type Mode string

const (
	// ModeAll: trading value ∩ volume ∩ fluctuation
	ModeAll Mode = "all"
	// ModeTradingVolume: trading value ∩ volume
	ModeTradingVolume Mode = "trading_volume"
	// ModeTradingFluc: trading value ∩ fluctuation
	ModeTradingFluc Mode = "trading_fluc"
	// ModeVolumeFluc: volume ∩ fluctuation
	ModeVolumeFluc Mode = "volume_fluc"
)

// Source selects which fluctuation ranking supplies the membership set
type Source string

const (
	// SourceRecomputed is re-derived by the collector from volume-ranked data
	SourceRecomputed Source = "recomputed"
	// SourceDirect comes from the dedicated change-rate ranking endpoint
	SourceDirect Source = "direct"
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAll, ModeTradingVolume, ModeTradingFluc, ModeVolumeFluc:
		return m, nil
	}
	return "", fmt.Errorf("unknown composite mode %q", s)
}

// ParseSource validates a fluctuation source name
func ParseSource(s string) (Source, error) {
	switch src := Source(s); src {
	case SourceRecomputed, SourceDirect:
		return src, nil
	}
	return "", fmt.Errorf("unknown fluctuation source %q", s)
}

// Result is the rising/falling split, each list re-ranked from 1
type Result struct {
	Rising  market.MarketLists `json:"rising"`
	Falling market.MarketLists `json:"falling"`
}

// Derive computes the composite view.
// ok is false for legacy snapshots (and unknown modes); callers then use Lists.
func Derive(s *market.Snapshot, mode Mode, src Source) (*Result, bool) {
	if !s.HasComposite() {
		return nil, false
	}

	fluc := s.Fluctuation
	if src == SourceDirect {
		fluc = s.FluctuationDirect
	}

	res := &Result{}
	for _, m := range []string{market.Kospi, market.Kosdaq} {
		base, keep, ok := plan(s, fluc, mode, m)
		if !ok {
			return nil, false
		}

		rising, falling := split(filter(base, keep))
		if m == market.Kospi {
			res.Rising.Kospi, res.Falling.Kospi = rising, falling
		} else {
			res.Rising.Kosdaq, res.Falling.Kosdaq = rising, falling
		}
	}

	return res, true
}

// plan picks the base list and membership filter for one market
func plan(s *market.Snapshot, fluc market.FluctuationLists, mode Mode, m string) ([]market.Stock, func(code string) bool, bool) {
	flucSet := fluc.Codes(m)
	volSet := codeSet(s.Volume.ByMarket(m))
	inFluc := func(code string) bool { _, ok := flucSet[code]; return ok }
	inVol := func(code string) bool { _, ok := volSet[code]; return ok }

	switch mode {
	case ModeAll:
		return s.TradingValue.ByMarket(m), func(code string) bool { return inFluc(code) && inVol(code) }, true
	case ModeTradingVolume:
		return s.TradingValue.ByMarket(m), inVol, true
	case ModeTradingFluc:
		return s.TradingValue.ByMarket(m), inFluc, true
	case ModeVolumeFluc:
		return s.Volume.ByMarket(m), inFluc, true
	}
	return nil, nil, false
}

func codeSet(stocks []market.Stock) map[string]struct{} {
	set := make(map[string]struct{}, len(stocks))
	for _, st := range stocks {
		set[st.Code] = struct{}{}
	}
	return set
}

// filter keeps base order
func filter(base []market.Stock, keep func(code string) bool) []market.Stock {
	out := make([]market.Stock, 0, len(base))
	for _, st := range base {
		if keep(st.Code) {
			out = append(out, st)
		}
	}
	return out
}

// split partitions by sign and re-ranks each side; zero change rates belong to neither
func split(stocks []market.Stock) (rising, falling []market.Stock) {
	rising = []market.Stock{}
	falling = []market.Stock{}

	for _, st := range stocks {
		switch {
		case st.ChangeRate > 0:
			st.Rank = len(rising) + 1
			rising = append(rising, st)
		case st.ChangeRate < 0:
			st.Rank = len(falling) + 1
			falling = append(falling, st)
		}
	}
	return rising, falling
}

// Lists returns the raw rising/falling lists, unfiltered
func Lists(s *market.Snapshot) Result {
	if s == nil {
		return Result{}
	}
	return Result{Rising: s.Rising, Falling: s.Falling}
}

// View is what callers display: the composite result when possible, otherwise the raw lists
type View struct {
	Result
	Composite bool   `json:"composite"`
	Mode      Mode   `json:"mode"`
	Source    Source `json:"source"`
}

// Select derives the composite view or falls back to the raw lists
func Select(s *market.Snapshot, mode Mode, src Source) View {
	if res, ok := Derive(s, mode, src); ok {
		return View{Result: *res, Composite: true, Mode: mode, Source: src}
	}
	return View{Result: Lists(s), Mode: mode, Source: src}
}

type memoKey struct {
	snapshot *market.Snapshot
	mode     Mode
	source   Source
}

// Memo caches the last Select result keyed by (snapshot identity, mode, source)
type Memo struct {
	mu    sync.Mutex
	key   memoKey
	view  View
	valid bool
}

// Get returns the cached view or recomputes it
func (m *Memo) Get(s *market.Snapshot, mode Mode, src Source) View {
	key := memoKey{snapshot: s, mode: mode, source: src}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.valid && m.key == key {
		return m.view
	}

	m.key = key
	m.view = Select(s, mode, src)
	m.valid = true
	return m.view
}
