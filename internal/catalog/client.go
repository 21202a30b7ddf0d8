package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "shopwatch/pkg/logx"
)

const (
	DefaultURL     = "https://fortnite-api.com/v2/shop/br"
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 16 << 20
)

type ClientConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client performs single catalog requests. It never retries.
type Client struct {
	cfg  ClientConfig
	http *http.Client
	log  logx.Logger
	now  func() time.Time
}

func NewClient(cfg ClientConfig, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
		now:  time.Now,
	}
}

// Fetch requests the catalog once. Every failure is logged and returned as a
// *FetchError.
func (c *Client) Fetch(ctx context.Context) (*Snapshot, error) {
	snap, err := c.fetch(ctx)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			c.log.Warn("catalog fetch failed", logx.String("kind", string(fe.Kind)), logx.Int("status", fe.Status), logx.Err(fe.Err))
		}
		return nil, err
	}
	return snap, nil
}

func (c *Client) fetch(ctx context.Context) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, http.NoBody)
	if err != nil {
		return nil, &FetchError{Kind: Unreachable, Err: err}
	}
	req.Header.Set("Authorization", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: Unreachable, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{Kind: Unreachable, Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &FetchError{Kind: AuthRejected, Status: resp.StatusCode, Err: errors.New(apiError(body, resp.Status))}
	case resp.StatusCode/100 != 2:
		return nil, &FetchError{Kind: Unreachable, Status: resp.StatusCode, Err: errors.New(apiError(body, resp.Status))}
	}

	var env response
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &FetchError{Kind: MalformedResponse, Status: resp.StatusCode, Err: err}
	}
	if len(bytes.TrimSpace(env.Data)) == 0 || bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		return nil, &FetchError{Kind: MalformedResponse, Status: resp.StatusCode, Err: errors.New("missing data")}
	}
	snap, err := NewSnapshot(env.Data, c.now())
	if err != nil {
		return nil, &FetchError{Kind: MalformedResponse, Status: resp.StatusCode, Err: fmt.Errorf("decode data: %w", err)}
	}
	return snap, nil
}

// apiError extracts {"error": "..."} from an API error body, falling back to the
// HTTP status line.
func apiError(body []byte, status string) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && strings.TrimSpace(e.Error) != "" {
		return e.Error
	}
	return status
}
