package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/stocktop/internal/papertrading"
	"github.com/wonny/stocktop/pkg/logger"
)

// DayLoader loads every indexed paper-trading day into an aggregator
type DayLoader interface {
	LoadAll(ctx context.Context, agg *papertrading.Aggregator) (int, error)
}

// DayPublisher hands loaded days to the client workspaces
type DayPublisher interface {
	SetPaperTradingDays(days []*papertrading.Day)
}

// PaperTradingReloadJob reloads the paper-trading index and its days
type PaperTradingReloadJob struct {
	loader    DayLoader
	publisher DayPublisher
	schedule  string
	logger    *logger.Logger
}

// NewPaperTradingReloadJob creates a new paper-trading reload job
func NewPaperTradingReloadJob(loader DayLoader, publisher DayPublisher, schedule string, log *logger.Logger) *PaperTradingReloadJob {
	return &PaperTradingReloadJob{
		loader:    loader,
		publisher: publisher,
		schedule:  schedule,
		logger:    log,
	}
}

// Name returns the job name
func (j *PaperTradingReloadJob) Name() string {
	return "paper_trading_reload"
}

// Schedule returns the cron schedule
func (j *PaperTradingReloadJob) Schedule() string {
	return j.schedule
}

// Run loads all days and publishes them. Individual day failures are skipped by the loader.
func (j *PaperTradingReloadJob) Run(ctx context.Context) error {
	agg := papertrading.NewAggregator()

	loaded, err := j.loader.LoadAll(ctx, agg)
	if err != nil {
		return fmt.Errorf("load paper trading: %w", err)
	}

	dates := agg.Dates()
	days := make([]*papertrading.Day, 0, len(dates))
	for _, date := range dates {
		if day, ok := agg.Day(date); ok {
			days = append(days, day)
		}
	}
	j.publisher.SetPaperTradingDays(days)

	j.logger.WithField("days", loaded).Info("Paper trading reloaded")
	return nil
}
