package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/stocktop/pkg/logger"
)

// Workspaces is the part of workspace.Registry the cleanup job drives
type Workspaces interface {
	EvictIdle(ctx context.Context, ttl time.Duration) int
	Sweep(ctx context.Context) (int, error)
}

// WorkspaceCleanupJob evicts idle client workspaces and drops expired session entries
type WorkspaceCleanupJob struct {
	workspaces Workspaces
	idleTTL    time.Duration
	schedule   string
	logger     *logger.Logger
}

// NewWorkspaceCleanupJob creates a new workspace cleanup job
func NewWorkspaceCleanupJob(ws Workspaces, idleTTL time.Duration, schedule string, log *logger.Logger) *WorkspaceCleanupJob {
	return &WorkspaceCleanupJob{
		workspaces: ws,
		idleTTL:    idleTTL,
		schedule:   schedule,
		logger:     log,
	}
}

// Name returns the job name
func (j *WorkspaceCleanupJob) Name() string {
	return "workspace_cleanup"
}

// Schedule returns the cron schedule
func (j *WorkspaceCleanupJob) Schedule() string {
	return j.schedule
}

// Run evicts idle workspaces, then sweeps the remaining ones
func (j *WorkspaceCleanupJob) Run(ctx context.Context) error {
	evicted := j.workspaces.EvictIdle(ctx, j.idleTTL)

	swept, err := j.workspaces.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep sessions: %w", err)
	}

	if evicted > 0 || swept > 0 {
		j.logger.WithFields(map[string]interface{}{
			"evicted": evicted,
			"swept":   swept,
		}).Info("Workspace cleanup completed")
	}
	return nil
}
