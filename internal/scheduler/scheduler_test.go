package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/stocktop/pkg/logger"
)

type fakeJob struct {
	name     string
	schedule string

	mu       sync.Mutex
	calls    int
	failures int // 처음 n번은 실패
}

func (j *fakeJob) Name() string     { return j.name }
func (j *fakeJob) Schedule() string { return j.schedule }

func (j *fakeJob) Run(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls++
	if j.calls <= j.failures {
		return errors.New("transient failure")
	}
	return nil
}

func (j *fakeJob) callCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}

func newTestScheduler() *Scheduler {
	return New(logger.Nop(), WithRetry(2, time.Millisecond), WithTimeout(time.Second))
}

func TestAddJob(t *testing.T) {
	s := newTestScheduler()

	require.NoError(t, s.AddJob(&fakeJob{name: "b", schedule: "0 */5 * * * *"}))
	require.NoError(t, s.AddJob(&fakeJob{name: "a", schedule: "@hourly"}))

	err := s.AddJob(&fakeJob{name: "a", schedule: "@hourly"})
	assert.Error(t, err)

	err = s.AddJob(&fakeJob{name: "bad", schedule: "every five minutes"})
	assert.Error(t, err)

	assert.Equal(t, []string{"a", "b"}, s.GetAllJobs())

	require.NoError(t, s.RemoveJob("a"))
	assert.Error(t, s.RemoveJob("a"))
	assert.Equal(t, []string{"b"}, s.GetAllJobs())
}

func TestRunNow_Retry(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantOK    bool
		wantCalls int
	}{
		{name: "first attempt succeeds", failures: 0, wantOK: true, wantCalls: 1},
		{name: "succeeds after retry", failures: 2, wantOK: true, wantCalls: 3},
		{name: "exhausts retries", failures: 5, wantOK: false, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler()
			job := &fakeJob{name: "job", schedule: "@hourly", failures: tt.failures}
			require.NoError(t, s.AddJob(job))

			result, err := s.RunNow(context.Background(), "job")
			require.NoError(t, err)

			assert.Equal(t, tt.wantOK, result.Success)
			assert.Equal(t, tt.wantCalls, job.callCount())
			if !tt.wantOK {
				assert.Equal(t, "transient failure", result.Error)
			}
		})
	}
}

func TestRunNow_UnknownJob(t *testing.T) {
	_, err := newTestScheduler().RunNow(context.Background(), "missing")
	assert.Error(t, err)
}

func TestRunNow_CancelledContextStopsRetries(t *testing.T) {
	s := New(logger.Nop(), WithRetry(3, time.Hour))
	job := &fakeJob{name: "job", schedule: "@hourly", failures: 10}
	require.NoError(t, s.AddJob(job))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := s.RunNow(ctx, "job")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, job.callCount())
	assert.Equal(t, context.Canceled.Error(), result.Error)
}

func TestJobStats(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.AddJob(&fakeJob{name: "ok", schedule: "@hourly"}))
	require.NoError(t, s.AddJob(&fakeJob{name: "broken", schedule: "@hourly", failures: 100}))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := s.RunNow(ctx, "ok")
		require.NoError(t, err)
	}
	_, err := s.RunNow(ctx, "broken")
	require.NoError(t, err)

	stats := s.GetJobStats()
	require.Len(t, stats, 2)

	assert.Equal(t, 2, stats["ok"].TotalRuns)
	assert.Equal(t, 1.0, stats["ok"].SuccessRate)
	assert.NotNil(t, stats["ok"].LastSuccess)
	assert.Nil(t, stats["ok"].LastFailure)

	assert.Equal(t, 1, stats["broken"].FailureCount)
	assert.NotNil(t, stats["broken"].LastFailure)

	history, err := s.GetJobHistory("ok")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestJobHistory_Bounded(t *testing.T) {
	h := &JobHistory{}
	for i := 0; i < maxHistory+10; i++ {
		h.AddResult(JobResult{Success: i%2 == 0})
	}
	assert.Len(t, h.Results, maxHistory)
	assert.Equal(t, 0.5, h.GetSuccessRate())
	assert.Len(t, h.GetLatestResults(3), 3)
	assert.Empty(t, (&JobHistory{}).GetLatestResults(3))
}
