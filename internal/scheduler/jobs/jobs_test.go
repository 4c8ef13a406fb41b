package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/stocktop/internal/papertrading"
	"github.com/wonny/stocktop/pkg/logger"
)

type fakeFetcher struct {
	inFlight bool
	err      error
	calls    int
}

func (f *fakeFetcher) InFlight() bool { return f.inFlight }

func (f *fakeFetcher) FetchStatic(context.Context) error {
	f.calls++
	return f.err
}

func TestSnapshotReloadJob(t *testing.T) {
	tests := []struct {
		name      string
		fetcher   *fakeFetcher
		wantCalls int
		wantErr   bool
	}{
		{name: "reloads", fetcher: &fakeFetcher{}, wantCalls: 1},
		{name: "skips while live refresh in flight", fetcher: &fakeFetcher{inFlight: true}, wantCalls: 0},
		{name: "reports failure", fetcher: &fakeFetcher{err: errors.New("404")}, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewSnapshotReloadJob(tt.fetcher, "0 */5 * * * *", logger.Nop())
			assert.Equal(t, "snapshot_reload", job.Name())
			assert.Equal(t, "0 */5 * * * *", job.Schedule())

			err := job.Run(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, tt.fetcher.calls)
		})
	}
}

type fakeLoader struct {
	days []*papertrading.Day
	err  error
}

func (l *fakeLoader) LoadAll(_ context.Context, agg *papertrading.Aggregator) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	for _, d := range l.days {
		agg.Merge(d)
	}
	return len(l.days), nil
}

type fakePublisher struct {
	published [][]*papertrading.Day
}

func (p *fakePublisher) SetPaperTradingDays(days []*papertrading.Day) {
	p.published = append(p.published, days)
}

func TestPaperTradingReloadJob(t *testing.T) {
	loader := &fakeLoader{days: []*papertrading.Day{{TradeDate: "2024-03-04"}, {TradeDate: "2024-03-05"}}}
	publisher := &fakePublisher{}

	job := NewPaperTradingReloadJob(loader, publisher, "0 */30 * * * *", logger.Nop())
	assert.Equal(t, "paper_trading_reload", job.Name())

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, publisher.published, 1)

	days := publisher.published[0]
	require.Len(t, days, 2)
	assert.Equal(t, "2024-03-05", days[0].TradeDate)

	loader.err = errors.New("index unavailable")
	assert.Error(t, job.Run(context.Background()))
	assert.Len(t, publisher.published, 1, "nothing published on failure")
}

type fakeWorkspaces struct {
	ttl      time.Duration
	evicted  int
	swept    int
	sweepErr error
}

func (w *fakeWorkspaces) EvictIdle(_ context.Context, ttl time.Duration) int {
	w.ttl = ttl
	return w.evicted
}

func (w *fakeWorkspaces) Sweep(context.Context) (int, error) {
	return w.swept, w.sweepErr
}

func TestWorkspaceCleanupJob(t *testing.T) {
	ws := &fakeWorkspaces{evicted: 2, swept: 3}
	job := NewWorkspaceCleanupJob(ws, 12*time.Hour, "0 */10 * * * *", logger.Nop())
	assert.Equal(t, "workspace_cleanup", job.Name())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 12*time.Hour, ws.ttl)

	ws.sweepErr = errors.New("redis down")
	assert.Error(t, job.Run(context.Background()))
}
