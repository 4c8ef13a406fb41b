package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/stocktop/pkg/logger"
)

// SnapshotFetcher is the part of market.Fetcher the reload job drives
type SnapshotFetcher interface {
	InFlight() bool
	FetchStatic(ctx context.Context) error
}

// SnapshotReloadJob re-reads latest.json on a schedule
// ⭐ SSOT: 정적 스냅샷 주기 갱신은 이 Job에서만
type SnapshotReloadJob struct {
	fetcher  SnapshotFetcher
	schedule string
	logger   *logger.Logger
}

// NewSnapshotReloadJob creates a new snapshot reload job
func NewSnapshotReloadJob(fetcher SnapshotFetcher, schedule string, log *logger.Logger) *SnapshotReloadJob {
	return &SnapshotReloadJob{
		fetcher:  fetcher,
		schedule: schedule,
		logger:   log,
	}
}

// Name returns the job name
func (j *SnapshotReloadJob) Name() string {
	return "snapshot_reload"
}

// Schedule returns the cron schedule
func (j *SnapshotReloadJob) Schedule() string {
	return j.schedule
}

// Run reloads the static snapshot unless a live refresh is in flight
func (j *SnapshotReloadJob) Run(ctx context.Context) error {
	// 실시간 갱신 중이면 그 결과가 스냅샷을 교체하므로 건너뜀
	if j.fetcher.InFlight() {
		j.logger.Debug("Live refresh in flight, skipping snapshot reload")
		return nil
	}

	if err := j.fetcher.FetchStatic(ctx); err != nil {
		return fmt.Errorf("reload snapshot: %w", err)
	}

	j.logger.Debug("Snapshot reloaded")
	return nil
}
