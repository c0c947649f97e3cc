package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"lectern/catalog"
	"lectern/config"
	"lectern/fetch"
	"lectern/misc"
)

const packageMediaType = "application/epub+zip"

type mergeRequest struct {
	ChapterID string `json:"chapter_id"`
	Source    string `json:"source"`
	Metadata  string `json:"metadata,omitempty"`
}

// HTTP talks to remote merge service.
type HTTP struct {
	base   *url.URL
	token  config.SecretString
	client *http.Client
	log    *zap.Logger
}

// NewHTTP returns client for configured service.
func NewHTTP(cfg *config.BackendConfig, log *zap.Logger) (*HTTP, error) {
	if len(cfg.URL) == 0 {
		return nil, fmt.Errorf("%w: url is empty", ErrNotConfigured)
	}
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("malformed backend url: %w", err)
	}
	return &HTTP{
		base:   base,
		token:  cfg.Token,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.Named("backend"),
	}, nil
}

// Merge asks service to merge chapter and returns merged package.
func (b *HTTP) Merge(ctx context.Context, ch catalog.Chapter) ([]byte, error) {
	body, err := json.Marshal(mergeRequest{ChapterID: ch.ID, Source: ch.Source, Metadata: ch.Metadata})
	if err != nil {
		return nil, err
	}
	data, err := b.do(ctx, http.MethodPost, b.base.JoinPath("merge"), "application/json", body)
	if err != nil {
		return nil, fmt.Errorf("merge %s: %w", ch.ID, err)
	}
	if err := fetch.Validate(data); err != nil {
		return nil, fmt.Errorf("merge %s: %w", ch.ID, err)
	}
	b.log.Debug("Merged remotely", zap.String("chapter", ch.ID), zap.Int("size", len(data)))
	return data, nil
}

// PersistMerged uploads merged package so service can hand it out as pre-merged asset.
func (b *HTTP) PersistMerged(ctx context.Context, ch catalog.Chapter, payload []byte) error {
	if _, err := b.do(ctx, http.MethodPut, b.base.JoinPath("chapters", ch.ID, "merged"), packageMediaType, payload); err != nil {
		return fmt.Errorf("persist %s: %w", ch.ID, err)
	}
	b.log.Debug("Merged package persisted", zap.String("chapter", ch.ID))
	return nil
}

func (b *HTTP) do(ctx context.Context, method string, u *url.URL, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", misc.UserAgent())
	if token := b.token.Reveal(); len(token) > 0 {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := data
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, fmt.Errorf("unexpected status %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	return data, nil
}
