package market

import (
	"context"
	"sync"
)

// View is one client's choice between the live snapshot and an archived one
type View struct {
	fetcher *Fetcher

	mu         sync.RWMutex
	selected   *HistoryEntry
	historical *Snapshot
	generation uint64
}

// NewView creates a view showing live data
func NewView(fetcher *Fetcher) *View {
	return &View{fetcher: fetcher}
}

// SelectHistory loads an archived snapshot and shows it instead of live data.
// A response arriving after BackToLive (or a newer selection) is discarded.
func (v *View) SelectHistory(ctx context.Context, entry HistoryEntry) (*Snapshot, error) {
	v.mu.Lock()
	v.generation++
	gen := v.generation
	v.mu.Unlock()

	snap, err := v.fetcher.FetchHistory(ctx, entry)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if gen != v.generation {
		return v.historical, nil
	}
	e := entry
	v.selected = &e
	v.historical = snap
	return snap, nil
}

// BackToLive clears the archived selection
func (v *View) BackToLive() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.generation++
	v.selected = nil
	v.historical = nil
}

// Current returns the archived snapshot while one is selected, otherwise the live one
func (v *View) Current() *Snapshot {
	v.mu.RLock()
	historical := v.historical
	v.mu.RUnlock()

	if historical != nil {
		return historical
	}
	return v.fetcher.Current()
}

// Selected returns the archived entry being shown
func (v *View) Selected() (HistoryEntry, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.selected == nil {
		return HistoryEntry{}, false
	}
	return *v.selected, true
}

// AutoRefresh reports whether live auto-refresh applies (suspended while viewing history)
func (v *View) AutoRefresh() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.historical == nil
}
