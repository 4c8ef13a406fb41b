package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/wonny/stocktop/internal/clock"
	"github.com/wonny/stocktop/internal/staticdata"
	"github.com/wonny/stocktop/pkg/config"
	"github.com/wonny/stocktop/pkg/httputil"
	"github.com/wonny/stocktop/pkg/logger"
)

// User-facing refresh messages
const (
	MsgRefreshTimedOut = "server response timed out"
	MsgRefreshFailed   = "live refresh failed, reloading existing data"
)

// File names relative to the data root
const (
	LatestFile       = "latest.json"
	HistoryIndexFile = "history-index.json"
	HistoryDir       = "history"
)

// RefreshResult is the outcome of a live refresh attempt. Live is false whenever static data was reloaded.
type RefreshResult struct {
	Live           bool   `json:"live"`
	Message        string `json:"message,omitempty"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
	Timestamp      string `json:"timestamp,omitempty"`
}

// Fetcher owns the current (live-or-static) snapshot
// ⭐ SSOT: latest.json 로드와 실시간 갱신은 여기서만
type Fetcher struct {
	files  staticdata.Source
	live   *httputil.Client
	cfg    config.DataConfig
	clock  clock.Clock
	logger *logger.Logger

	mu       sync.RWMutex
	current  *Snapshot
	warning  string
	inFlight bool
	elapsed  int
	ticker   clock.Timer
	tickGen  uint64

	onTick   []func(elapsed int)
	onSettle []func(RefreshResult)
	onUpdate []func(*Snapshot)
}

// NewFetcher creates a fetcher. live may be nil when no live endpoint is configured.
func NewFetcher(files staticdata.Source, live *httputil.Client, cfg config.DataConfig, clk clock.Clock, log *logger.Logger) *Fetcher {
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 120 * time.Second
	}

	f := &Fetcher{
		files:  files,
		cfg:    cfg,
		clock:  clk,
		logger: log.Component("market_fetcher"),
	}

	// 헬스체크/갱신은 재시도 없이 요청별 타임아웃만 적용
	if live != nil {
		f.live = live.Clone().DisableRetry().WithoutTimeout().WithLimiter(nil)
	}

	return f
}

// OnTick registers a listener called once per second while a live refresh is in flight
func (f *Fetcher) OnTick(fn func(elapsed int)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTick = append(f.onTick, fn)
}

// OnSettle registers a listener called when a live refresh finishes
func (f *Fetcher) OnSettle(fn func(RefreshResult)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSettle = append(f.onSettle, fn)
}

// OnUpdate registers a listener called whenever the current snapshot is replaced
func (f *Fetcher) OnUpdate(fn func(*Snapshot)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onUpdate = append(f.onUpdate, fn)
}

// Current returns the current snapshot (nil before the first load)
func (f *Fetcher) Current() *Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Warning returns the dismissable load warning, if any
func (f *Fetcher) Warning() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.warning
}

// DismissWarning clears the load warning
func (f *Fetcher) DismissWarning() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warning = ""
}

// InFlight reports whether a live refresh is running
func (f *Fetcher) InFlight() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.inFlight
}

// Elapsed returns whole seconds since the running live refresh started (0 when idle)
func (f *Fetcher) Elapsed() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.elapsed
}

// FetchStatic loads latest.json.
// On failure the last-known-good snapshot is kept (or the demo dataset when none exists),
// a warning is recorded and the error is returned.
func (f *Fetcher) FetchStatic(ctx context.Context) error {
	data, err := f.files.Read(ctx, LatestFile)
	if err == nil {
		var snap *Snapshot
		if snap, err = Decode(data); err == nil {
			snap.Origin = OriginStatic
			f.replace(snap)
			f.logger.WithField("timestamp", snap.Timestamp).Debug("Loaded static snapshot")
			return nil
		}
	}

	f.recordFailure(err)
	return fmt.Errorf("fetch static snapshot: %w", err)
}

func (f *Fetcher) recordFailure(err error) {
	f.logger.WithError(err).Error("Failed to load snapshot")

	f.mu.Lock()
	f.warning = "failed to load latest data, showing previous data"
	if f.current != nil {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	demo, demoErr := Demo()
	if demoErr != nil {
		f.logger.WithError(demoErr).Error("Failed to load demo snapshot")
		return
	}

	f.mu.Lock()
	f.warning = "failed to load data, showing demo data"
	if f.current != nil {
		f.mu.Unlock()
		return
	}
	f.current = demo
	listeners := append([]func(*Snapshot){}, f.onUpdate...)
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(demo)
	}
}

func (f *Fetcher) replace(snap *Snapshot) {
	f.mu.Lock()
	f.current = snap
	f.warning = ""
	listeners := append([]func(*Snapshot){}, f.onUpdate...)
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// RefreshLive re-collects data through the live server.
// A failed health probe falls back to static data silently; a failed refresh falls back
// to static data with a user-facing message. Only one refresh runs at a time.
func (f *Fetcher) RefreshLive(ctx context.Context) (RefreshResult, error) {
	if !f.begin() {
		return RefreshResult{}, ErrRefreshInFlight
	}

	result := f.refresh(ctx)
	result.ElapsedSeconds = f.settle(result)
	if cur := f.Current(); cur != nil {
		result.Timestamp = cur.Timestamp
	}

	return result, nil
}

func (f *Fetcher) refresh(ctx context.Context) RefreshResult {
	if f.live == nil || f.cfg.LiveAPIURL == "" {
		f.logger.Warn("Live API not configured, reloading static data")
		_ = f.FetchStatic(ctx)
		return RefreshResult{}
	}

	if err := f.probeHealth(ctx); err != nil {
		f.logger.WithError(err).Warn("Live server health check failed, using static data")
		_ = f.FetchStatic(ctx)
		return RefreshResult{}
	}

	snap, err := f.fetchLive(ctx)
	if err != nil {
		msg := MsgRefreshFailed
		if isTimeout(err) {
			msg = MsgRefreshTimedOut
		}
		f.logger.WithError(err).Warn("Live refresh failed, falling back to static data")
		_ = f.FetchStatic(ctx)
		return RefreshResult{Message: msg}
	}

	snap.Origin = OriginLive
	f.replace(snap)
	f.logger.WithFields(map[string]interface{}{
		"timestamp": snap.Timestamp,
		"warnings":  len(snap.Warnings),
	}).Info("Live refresh completed")

	return RefreshResult{Live: true}
}

func (f *Fetcher) probeHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.HealthTimeout)
	defer cancel()

	resp, err := f.live.Get(ctx, f.endpoint("/api/health"))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httputil.StatusError{StatusCode: resp.StatusCode, URL: f.endpoint("/api/health")}
	}
	return nil
}

func (f *Fetcher) fetchLive(ctx context.Context) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.RefreshTimeout)
	defer cancel()

	resp, err := f.live.Get(ctx, f.endpoint("/api/refresh"))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read refresh response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httputil.StatusError{StatusCode: resp.StatusCode, URL: f.endpoint("/api/refresh")}
	}

	return Decode(body)
}

func (f *Fetcher) endpoint(path string) string {
	return strings.TrimRight(f.cfg.LiveAPIURL, "/") + path
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// begin marks a refresh in flight and starts the elapsed ticker
func (f *Fetcher) begin() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.inFlight {
		return false
	}
	f.inFlight = true
	f.elapsed = 0
	f.tickGen++
	f.armTickLocked(f.tickGen)
	return true
}

func (f *Fetcher) armTickLocked(gen uint64) {
	f.ticker = f.clock.AfterFunc(time.Second, func() { f.tick(gen) })
}

func (f *Fetcher) tick(gen uint64) {
	f.mu.Lock()
	if gen != f.tickGen || !f.inFlight {
		f.mu.Unlock()
		return
	}
	f.elapsed++
	elapsed := f.elapsed
	f.armTickLocked(gen)
	listeners := append([]func(int){}, f.onTick...)
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(elapsed)
	}
}

// settle stops the ticker and resets the counter. Returns the final elapsed seconds.
func (f *Fetcher) settle(result RefreshResult) int {
	f.mu.Lock()
	elapsed := f.elapsed
	f.inFlight = false
	f.elapsed = 0
	f.tickGen++
	if f.ticker != nil {
		f.ticker.Stop()
		f.ticker = nil
	}
	listeners := append([]func(RefreshResult){}, f.onSettle...)
	f.mu.Unlock()

	result.ElapsedSeconds = elapsed
	for _, fn := range listeners {
		fn(result)
	}
	return elapsed
}

// FetchHistoryIndex loads the archive index. A missing index is an empty archive.
func (f *Fetcher) FetchHistoryIndex(ctx context.Context) (*HistoryIndex, error) {
	data, err := f.files.Read(ctx, HistoryIndexFile)
	if errors.Is(err, staticdata.ErrNotFound) {
		return &HistoryIndex{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch history index: %w", err)
	}
	return DecodeHistoryIndex(data)
}

// FetchHistory loads one archived snapshot. The live snapshot is never touched.
func (f *Fetcher) FetchHistory(ctx context.Context, entry HistoryEntry) (*Snapshot, error) {
	if entry.Filename == "" || strings.ContainsAny(entry.Filename, `/\`) {
		return nil, fmt.Errorf("invalid history filename %q", entry.Filename)
	}

	data, err := f.files.Read(ctx, HistoryDir+"/"+entry.Filename)
	if err != nil {
		return nil, fmt.Errorf("fetch history %s: %w", entry.Filename, err)
	}

	snap, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("fetch history %s: %w", entry.Filename, err)
	}
	snap.Origin = OriginHistory
	return snap, nil
}
