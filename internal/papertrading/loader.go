package papertrading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/stocktop/internal/staticdata"
	"github.com/wonny/stocktop/pkg/logger"
)

// File names relative to the data root
const (
	IndexFile = "paper-trading-index.json"
	DayDir    = "paper-trading"
)

const defaultConcurrency = 8

// Loader fetches the paper-trading index and daily files
type Loader struct {
	files       staticdata.Source
	logger      *logger.Logger
	concurrency int
}

// NewLoader creates a loader
func NewLoader(files staticdata.Source, log *logger.Logger) *Loader {
	return &Loader{
		files:       files,
		logger:      log.Component("papertrading_loader"),
		concurrency: defaultConcurrency,
	}
}

// FetchIndex loads the index. A missing index is an empty one.
func (l *Loader) FetchIndex(ctx context.Context) (*Index, error) {
	data, err := l.files.Read(ctx, IndexFile)
	if errors.Is(err, staticdata.ErrNotFound) {
		return &Index{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch paper-trading index: %w", err)
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decode paper-trading index: %w", err)
	}
	return &idx, nil
}

// FetchDay loads one daily file
func (l *Loader) FetchDay(ctx context.Context, entry IndexEntry) (*Day, error) {
	if entry.Filename == "" || strings.ContainsAny(entry.Filename, `/\`) {
		return nil, fmt.Errorf("invalid paper-trading filename %q", entry.Filename)
	}

	data, err := l.files.Read(ctx, DayDir+"/"+entry.Filename)
	if err != nil {
		return nil, fmt.Errorf("fetch paper-trading day %s: %w", entry.Date, err)
	}

	var day Day
	if err := json.Unmarshal(data, &day); err != nil {
		return nil, fmt.Errorf("decode paper-trading day %s: %w", entry.Date, err)
	}
	if day.TradeDate == "" {
		day.TradeDate = entry.Date
	}
	return &day, nil
}

// LoadAll fetches every indexed day in parallel and merges each into agg as it arrives.
// A failing day is logged and skipped. Returns the number of days merged.
func (l *Loader) LoadAll(ctx context.Context, agg *Aggregator) (int, error) {
	idx, err := l.FetchIndex(ctx)
	if err != nil {
		return 0, err
	}

	var loaded int64
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)

	for _, entry := range idx.Entries {
		entry := entry
		g.Go(func() error {
			day, err := l.FetchDay(gCtx, entry)
			if err != nil {
				// 개별 일자 실패는 건너뜀
				l.logger.WithError(err).WithField("date", entry.Date).Warn("Skipping paper-trading day")
				return nil
			}
			agg.Merge(day)
			atomic.AddInt64(&loaded, 1)
			return nil
		})
	}

	_ = g.Wait()

	l.logger.WithFields(map[string]interface{}{
		"indexed": len(idx.Entries),
		"loaded":  loaded,
	}).Info("Paper-trading days loaded")

	return int(loaded), ctx.Err()
}
