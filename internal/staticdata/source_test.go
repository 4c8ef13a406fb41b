package staticdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/stocktop/internal/clock"
	"github.com/wonny/stocktop/pkg/config"
	"github.com/wonny/stocktop/pkg/httputil"
	"github.com/wonny/stocktop/pkg/logger"
)

func TestHTTP_CacheBusting(t *testing.T) {
	var gotPath, gotT string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotT = r.URL.Query().Get("t")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	clk := clock.NewManual(time.UnixMilli(1741568400000))
	client := httputil.New(&config.Config{}, logger.Nop()).DisableRetry()
	src := New(server.URL+"/data/", client, clk)

	body, err := src.Read(context.Background(), "latest.json")
	require.NoError(t, err)

	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, "/data/latest.json", gotPath)
	assert.Equal(t, "1741568400000", gotT)
}

func TestHTTP_NotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := httputil.New(&config.Config{}, logger.Nop()).DisableRetry()
	src := NewHTTP(server.URL, client, clock.NewReal())

	_, err := src.Read(context.Background(), "paper-trading/2025-01-02.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTP_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := httputil.New(&config.Config{}, logger.Nop()).DisableRetry()
	src := NewHTTP(server.URL, client, clock.NewReal())

	_, err := src.Read(context.Background(), "latest.json")
	require.Error(t, err)

	var statusErr *httputil.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Contains(t, statusErr.URL, "/latest.json")
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "history"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "history", "a.json"), []byte(`[]`), 0o644))

	src := New(root, nil, clock.NewReal())

	body, err := src.Read(context.Background(), "history/a.json")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))

	_, err = src.Read(context.Background(), "missing.json")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = src.Read(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)
}
