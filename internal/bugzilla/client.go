// Package bugzilla implements the bug-tracker lookup client used to map a
// bug id to its "product :: component" routing key.
package bugzilla

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/roasbeef/pulsebot/internal/lookup"
)

// DefaultTimeout bounds a single bug lookup round trip.
const DefaultTimeout = 10 * time.Second

// Config holds configuration for the bug-tracker client.
type Config struct {
	// APIBase is the base URL of the tracker's REST API, e.g.
	// "https://bugzilla.mozilla.org/rest".
	APIBase string

	// Timeout bounds each HTTP round trip.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults for the given API
// base URL.
func DefaultConfig(apiBase string) Config {
	return Config{
		APIBase: apiBase,
		Timeout: DefaultTimeout,
	}
}

// wireResponse mirrors the tracker's GET /bug/{id} payload.
type wireResponse struct {
	Bugs []struct {
		Product   string `json:"product"`
		Component string `json:"component"`
	} `json:"bugs"`
}

// Client looks up bug metadata over HTTP.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

// NewClient creates a bug-tracker client.
func NewClient(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With("component", "bugzilla"),
	}
}

// Component resolves the bug's "product :: component" routing key. Within
// one handler invocation repeated calls for the same bug id are served from
// the invocation's lookup scope.
func (c *Client) Component(ctx context.Context, bugID string) (string, error) {
	key := "bugzilla/bug/" + bugID

	return lookup.Memoize(ctx, key,
		func(ctx context.Context) (string, error) {
			return c.fetch(ctx, bugID)
		},
	)
}

// fetch performs the HTTP lookup.
func (c *Client) fetch(ctx context.Context, bugID string) (string, error) {
	url := fmt.Sprintf(
		"%s/bug/%s", strings.TrimRight(c.cfg.APIBase, "/"), bugID,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("bug %s: %w", bugID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf(
			"bug %s: unexpected status %s", bugID, resp.Status,
		)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return "", fmt.Errorf("bug %s: decode response: %w", bugID, err)
	}
	if len(wire.Bugs) == 0 {
		return "", fmt.Errorf("bug %s: empty response", bugID)
	}

	bug := wire.Bugs[0]
	return fmt.Sprintf("%s :: %s", bug.Product, bug.Component), nil
}
