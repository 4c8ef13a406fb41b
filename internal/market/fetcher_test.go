package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/stocktop/internal/clock"
	"github.com/wonny/stocktop/internal/staticdata"
	"github.com/wonny/stocktop/pkg/config"
	"github.com/wonny/stocktop/pkg/httputil"
	"github.com/wonny/stocktop/pkg/logger"
)

type fakeSource struct {
	mu    sync.Mutex
	files map[string]string
	reads int
}

func newFakeSource(files map[string]string) *fakeSource {
	return &fakeSource{files: files}
}

func (s *fakeSource) Read(_ context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	body, ok := s.files[name]
	if !ok {
		return nil, staticdata.ErrNotFound
	}
	return []byte(body), nil
}

func (s *fakeSource) set(name, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = body
}

func (s *fakeSource) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func newTestFetcher(src staticdata.Source, liveURL string, clk clock.Clock) *Fetcher {
	cfg := config.DataConfig{
		LiveAPIURL:     liveURL,
		HealthTimeout:  200 * time.Millisecond,
		RefreshTimeout: 2 * time.Second,
	}
	client := httputil.New(&config.Config{}, logger.Nop())
	return NewFetcher(src, client, cfg, clk, logger.Nop())
}

func TestFetchStatic(t *testing.T) {
	src := newFakeSource(map[string]string{LatestFile: compositeJSON})
	f := newTestFetcher(src, "", clock.NewReal())

	var updated *Snapshot
	f.OnUpdate(func(s *Snapshot) { updated = s })

	require.NoError(t, f.FetchStatic(context.Background()))

	cur := f.Current()
	require.NotNil(t, cur)
	assert.Equal(t, OriginStatic, cur.Origin)
	assert.Same(t, cur, updated)
	assert.Empty(t, f.Warning())
}

func TestFetchStatic_FailureFallbacks(t *testing.T) {
	t.Run("never loaded uses demo", func(t *testing.T) {
		f := newTestFetcher(newFakeSource(map[string]string{}), "", clock.NewReal())

		err := f.FetchStatic(context.Background())
		require.Error(t, err)

		require.NotNil(t, f.Current())
		assert.Equal(t, OriginDemo, f.Current().Origin)
		assert.NotEmpty(t, f.Warning())

		f.DismissWarning()
		assert.Empty(t, f.Warning())
	})

	t.Run("keeps last known good", func(t *testing.T) {
		src := newFakeSource(map[string]string{LatestFile: compositeJSON})
		f := newTestFetcher(src, "", clock.NewReal())
		require.NoError(t, f.FetchStatic(context.Background()))
		good := f.Current()

		src.set(LatestFile, `{not json`)
		require.Error(t, f.FetchStatic(context.Background()))

		assert.Same(t, good, f.Current())
		assert.NotEmpty(t, f.Warning())
	})
}

func TestRefreshLive_HealthFailureSkipsRefresh(t *testing.T) {
	var refreshHits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/health":
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		case "/api/refresh":
			atomic.AddInt32(&refreshHits, 1)
			w.Write([]byte(compositeJSON))
		}
	}))
	defer server.Close()

	src := newFakeSource(map[string]string{LatestFile: compositeJSON})
	f := newTestFetcher(src, server.URL, clock.NewReal())

	result, err := f.RefreshLive(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Live)
	assert.Empty(t, result.Message, "health failure is not surfaced to the user")
	assert.Equal(t, int32(0), atomic.LoadInt32(&refreshHits))
	assert.Equal(t, 1, src.readCount(), "static path invoked")
	assert.Equal(t, OriginStatic, f.Current().Origin)
	assert.False(t, f.InFlight())
}

func TestRefreshLive_Outcomes(t *testing.T) {
	tests := []struct {
		name        string
		refresh     http.HandlerFunc
		timeout     time.Duration
		wantLive    bool
		wantMessage string
		wantOrigin  Origin
	}{
		{
			name:       "success",
			refresh:    func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(compositeJSON)) },
			wantLive:   true,
			wantOrigin: OriginLive,
		},
		{
			name:        "error payload",
			refresh:     func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"error":"KIS unavailable"}`)) },
			wantMessage: MsgRefreshFailed,
			wantOrigin:  OriginStatic,
		},
		{
			name:        "server error",
			refresh:     func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
			wantMessage: MsgRefreshFailed,
			wantOrigin:  OriginStatic,
		},
		{
			name: "timeout",
			refresh: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			timeout:     50 * time.Millisecond,
			wantMessage: MsgRefreshTimedOut,
			wantOrigin:  OriginStatic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"status":"ok"}`))
			})
			mux.HandleFunc("/api/refresh", tt.refresh)
			server := httptest.NewServer(mux)
			defer server.Close()

			src := newFakeSource(map[string]string{LatestFile: compositeJSON})
			f := newTestFetcher(src, server.URL, clock.NewReal())
			if tt.timeout > 0 {
				f.cfg.RefreshTimeout = tt.timeout
			}

			var settled []RefreshResult
			f.OnSettle(func(r RefreshResult) { settled = append(settled, r) })

			result, err := f.RefreshLive(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tt.wantLive, result.Live)
			assert.Equal(t, tt.wantMessage, result.Message)
			assert.Equal(t, tt.wantOrigin, f.Current().Origin)
			assert.Equal(t, "2025-03-10 10:00:00", result.Timestamp)
			require.Len(t, settled, 1)
			assert.Equal(t, tt.wantMessage, settled[0].Message)
		})
	}
}

func TestRefreshLive_ElapsedCounter(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/refresh", func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.Write([]byte(compositeJSON))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	clk := clock.NewManual(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	f := newTestFetcher(newFakeSource(map[string]string{}), server.URL, clk)

	var ticks []int
	var tickMu sync.Mutex
	f.OnTick(func(n int) {
		tickMu.Lock()
		ticks = append(ticks, n)
		tickMu.Unlock()
	})

	done := make(chan RefreshResult)
	go func() {
		result, _ := f.RefreshLive(context.Background())
		done <- result
	}()

	<-entered
	assert.True(t, f.InFlight())

	_, err := f.RefreshLive(context.Background())
	assert.True(t, errors.Is(err, ErrRefreshInFlight))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for want := 1; want <= 3; want++ {
		require.NoError(t, clk.BlockUntilContext(ctx, 1))
		clk.Advance(time.Second)
		require.Eventually(t, func() bool {
			tickMu.Lock()
			defer tickMu.Unlock()
			return len(ticks) == want
		}, time.Second, time.Millisecond)
	}
	assert.Equal(t, 3, f.Elapsed())

	close(release)
	result := <-done

	assert.True(t, result.Live)
	assert.Equal(t, 3, result.ElapsedSeconds)
	assert.Equal(t, 0, f.Elapsed())
	assert.False(t, f.InFlight())

	// 정산 후에는 더 이상 틱이 없음
	clk.Advance(5 * time.Second)
	assert.Equal(t, 0, f.Elapsed())

	tickMu.Lock()
	assert.Equal(t, []int{1, 2, 3}, ticks)
	tickMu.Unlock()
}

func TestHistory_DoesNotTouchLive(t *testing.T) {
	src := newFakeSource(map[string]string{
		LatestFile:                          compositeJSON,
		HistoryDir + "/2024-11-01_0930.json": legacyJSON,
	})
	f := newTestFetcher(src, "", clock.NewReal())
	require.NoError(t, f.FetchStatic(context.Background()))
	live := f.Current()

	idx, err := f.FetchHistoryIndex(context.Background())
	require.NoError(t, err)
	assert.Empty(t, idx.Entries, "missing index is an empty archive")

	view := NewView(f)
	assert.True(t, view.AutoRefresh())

	entry := HistoryEntry{Filename: "2024-11-01_0930.json", Date: "2024-11-01", Time: "09:30"}
	snap, err := view.SelectHistory(context.Background(), entry)
	require.NoError(t, err)

	assert.Equal(t, OriginHistory, snap.Origin)
	assert.Same(t, snap, view.Current())
	assert.Same(t, live, f.Current())
	assert.False(t, view.AutoRefresh())

	selected, ok := view.Selected()
	assert.True(t, ok)
	assert.Equal(t, entry, selected)

	view.BackToLive()
	assert.Same(t, live, view.Current())
	assert.True(t, view.AutoRefresh())
}

func TestFetchHistory_Errors(t *testing.T) {
	src := newFakeSource(map[string]string{})
	f := newTestFetcher(src, "", clock.NewReal())

	_, err := f.FetchHistory(context.Background(), HistoryEntry{Filename: "../latest.json"})
	assert.Error(t, err)

	_, err = f.FetchHistory(context.Background(), HistoryEntry{Filename: "2020-01-01_0900.json"})
	assert.ErrorIs(t, err, staticdata.ErrNotFound)
}
