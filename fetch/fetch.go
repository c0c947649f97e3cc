// Package fetch retrieves document packages by URI.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/h2non/filetype"
	"go.uber.org/zap"

	"lectern/misc"
)

// ErrNotPackage is returned when fetched data is not a zip based document package.
var ErrNotPackage = errors.New("payload is not a document package")

// sniffLen is enough for filetype to recognize any archive signature.
const sniffLen = 262

// Fetcher retrieves raw bytes for URI.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Client fetches local files and http(s) resources.
type Client struct {
	http *http.Client
	log  *zap.Logger
}

// New returns fetcher. When hc is nil http.DefaultClient is used.
func New(hc *http.Client, log *zap.Logger) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{http: hc, log: log.Named("fetch")}
}

// Fetch returns whole resource, data is validated to be a package.
func (c *Client) Fetch(ctx context.Context, uri string) ([]byte, error) {
	data, err := c.Raw(ctx, uri)
	if err != nil {
		return nil, err
	}
	if err := Validate(data); err != nil {
		return nil, fmt.Errorf("%s: %w", uri, err)
	}
	return data, nil
}

// Raw returns whole resource without validation.
func (c *Client) Raw(ctx context.Context, uri string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("malformed uri %q: %w", uri, err)
	}

	switch u.Scheme {
	case "http", "https":
		return c.get(ctx, u.String())
	case "file":
		return os.ReadFile(filepath.FromSlash(u.Path))
	case "":
		return os.ReadFile(uri)
	default:
		return nil, fmt.Errorf("unsupported uri scheme %q", u.Scheme)
	}
}

func (c *Client) get(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", misc.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status fetching %s: %s", uri, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", uri, err)
	}
	c.log.Debug("Fetched", zap.String("uri", uri), zap.Int("size", len(data)))
	return data, nil
}

// Validate checks data signature, only zip based packages are accepted.
func Validate(data []byte) error {
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if !filetype.IsArchive(head) {
		return ErrNotPackage
	}
	return nil
}

// FileURI returns file:// URI for local path.
func FileURI(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}
