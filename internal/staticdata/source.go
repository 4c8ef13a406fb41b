// Package staticdata reads the JSON files published by the collection jobs,
// either from a static web host or from a local directory.
package staticdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wonny/stocktop/internal/clock"
	"github.com/wonny/stocktop/pkg/httputil"
)

// ErrNotFound is returned when the named file does not exist
var ErrNotFound = errors.New("data file not found")

// Source reads a named file relative to the data root (e.g. "latest.json", "history/2025-03-10_0930.json")
type Source interface {
	Read(ctx context.Context, name string) ([]byte, error)
}

// New picks an HTTP source for http(s) bases and a directory source otherwise
func New(base string, client *httputil.Client, clk clock.Clock) Source {
	if strings.HasPrefix(base, "http://") || strings.HasPrefix(base, "https://") {
		return NewHTTP(base, client, clk)
	}
	return NewDir(base)
}

// HTTP reads files from a static web host
type HTTP struct {
	baseURL string
	client  *httputil.Client
	clock   clock.Clock
}

// NewHTTP creates an HTTP source
func NewHTTP(baseURL string, client *httputil.Client, clk clock.Clock) *HTTP {
	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		clock:   clk,
	}
}

// Read fetches base/name with a cache-busting t=<unix millis> query
func (h *HTTP) Read(ctx context.Context, name string) ([]byte, error) {
	u, err := url.Parse(h.baseURL + "/" + strings.TrimLeft(name, "/"))
	if err != nil {
		return nil, fmt.Errorf("build url for %s: %w", name, err)
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(h.clock.Now().UnixMilli(), 10))
	u.RawQuery = q.Encode()

	resp, err := h.client.Get(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httputil.StatusError{StatusCode: resp.StatusCode, URL: u.String()}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return body, nil
}

// Dir reads files from a local directory
type Dir struct {
	root string
}

// NewDir creates a directory source
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Read returns root/name. Names escaping the root are rejected.
func (d *Dir) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clean := path.Clean("/" + name)
	data, err := os.ReadFile(filepath.Join(d.root, filepath.FromSlash(clean)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}
