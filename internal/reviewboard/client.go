// Package reviewboard implements the review-tracker lookup client. Calls
// are memoized per handler invocation via the lookup package, so resolving
// the same request id several times while handling one event costs one
// round trip.
package reviewboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/roasbeef/pulsebot/internal/lookup"
)

const (
	// DefaultTimeout bounds a single lookup round trip.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxAttempts is how many times a lookup is tried before the
	// affected recipient is skipped.
	DefaultMaxAttempts = 3

	// retryBackoff is the pause between lookup attempts.
	retryBackoff = 500 * time.Millisecond
)

// Config holds configuration for the review-tracker client.
type Config struct {
	// APIBase is the base URL of the tracker's REST API, up to and
	// including the path prefix, e.g.
	// "https://reviewboard.mozilla.org/api".
	APIBase string

	// Timeout bounds each HTTP round trip.
	Timeout time.Duration

	// MaxAttempts is the per-lookup retry budget.
	MaxAttempts int
}

// DefaultConfig returns a Config with sensible defaults for the given API
// base URL.
func DefaultConfig(apiBase string) Config {
	return Config{
		APIBase:     apiBase,
		Timeout:     DefaultTimeout,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// RequestInfo is the slice of review-request metadata the notification
// handlers need. It is never persisted; its lifetime is one lookup scope.
type RequestInfo struct {
	// ID is the review request id.
	ID int

	// Summary is the request's one-line summary, empty when the tracker
	// response omits it.
	Summary string

	// Reviewers are the nicks assigned to review the request. Empty when
	// the tracker response carries no target people.
	Reviewers []string

	// Approved reports whether r+ has been granted.
	Approved bool

	// OpenIssueCount is the number of unresolved review issues.
	OpenIssueCount int

	// LinkedBugID is the bug id extracted from the request's commit
	// identifier, when one is present.
	LinkedBugID fn.Option[string]
}

// wireResponse mirrors the tracker's GET /review-requests/{id}/ payload.
type wireResponse struct {
	ReviewRequest struct {
		Approved       bool   `json:"approved"`
		IssueOpenCount int    `json:"issue_open_count"`
		TargetPeople   []struct {
			Title string `json:"title"`
		} `json:"target_people"`
		Summary  string `json:"summary"`
		CommitID string `json:"commit_id"`
	} `json:"review_request"`
}

// Client looks up review-request metadata over HTTP.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

// NewClient creates a review-tracker client.
func NewClient(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With("component", "reviewboard"),
	}
}

// RequestInfo returns the metadata for the given review request id. Within
// one handler invocation repeated calls for the same id are served from the
// invocation's lookup scope.
func (c *Client) RequestInfo(ctx context.Context, id int) (RequestInfo, error) {
	key := fmt.Sprintf("reviewboard/request/%d", id)

	return lookup.Memoize(ctx, key,
		func(ctx context.Context) (RequestInfo, error) {
			return c.fetch(ctx, id)
		},
	)
}

// fetch performs the HTTP lookup with a bounded retry budget.
func (c *Client) fetch(ctx context.Context, id int) (RequestInfo, error) {
	url := fmt.Sprintf(
		"%s/review-requests/%d/",
		strings.TrimRight(c.cfg.APIBase, "/"), id,
	)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				return RequestInfo{}, ctx.Err()
			}
		}

		info, err := c.fetchOnce(ctx, url, id)
		if err == nil {
			return info, nil
		}
		lastErr = err

		c.log.WarnContext(ctx, "review request lookup failed",
			"id", id, "attempt", attempt, "err", err)
	}

	return RequestInfo{}, fmt.Errorf(
		"review request %d: %w", id, lastErr,
	)
}

// fetchOnce performs a single HTTP round trip and decodes the response.
func (c *Client) fetchOnce(ctx context.Context, url string,
	id int) (RequestInfo, error) {

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return RequestInfo{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return RequestInfo{}, fmt.Errorf("lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return RequestInfo{}, fmt.Errorf(
			"lookup: unexpected status %s", resp.Status,
		)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return RequestInfo{}, fmt.Errorf("decode response: %w", err)
	}

	// Absent fields decode to zero values, which are the neutral
	// results we want: no reviewers, empty summary.
	info := RequestInfo{
		ID:             id,
		Summary:        wire.ReviewRequest.Summary,
		Approved:       wire.ReviewRequest.Approved,
		OpenIssueCount: wire.ReviewRequest.IssueOpenCount,
		LinkedBugID:    bugIDFromCommitID(wire.ReviewRequest.CommitID),
	}
	for _, person := range wire.ReviewRequest.TargetPeople {
		if person.Title == "" {
			continue
		}
		info.Reviewers = append(info.Reviewers, person.Title)
	}

	return info, nil
}

// bugIDFromCommitID extracts the bug id from a commit identifier of the
// form "scheme://bugId/user": segment index 2 when split on "/".
func bugIDFromCommitID(commitID string) fn.Option[string] {
	parts := strings.Split(commitID, "/")
	if len(parts) < 3 || parts[2] == "" {
		return fn.None[string]()
	}

	return fn.Some(parts[2])
}

// BuildRequestURL builds the user-facing review request URL from the
// tracker base URL carried in the event and a request id.
func BuildRequestURL(baseURL string, id int) string {
	return fmt.Sprintf("%sr/%d", baseURL, id)
}
