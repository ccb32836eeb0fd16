package emby

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const headerToken = "X-Emby-Token"

// Client is a thin client for the upstream Emby server. Outbound calls use
// the configured server token unless a per-request session token is given.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  zerolog.Logger
}

func NewClient(baseURL, apiKey string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger.With().Str("component", "emby").Logger(),
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// PlaybackInfo fetches the upstream playback descriptor for an item as raw
// JSON, so the caller can rewrite it without disturbing fields it does not
// know about. serverBase overrides the configured upstream when non-empty;
// callers validate it before handing it in.
func (c *Client) PlaybackInfo(ctx context.Context, serverBase, itemID, userID, mediaSourceID, token string) ([]byte, error) {
	base := c.baseURL
	if serverBase != "" {
		base = strings.TrimRight(serverBase, "/")
	}
	q := url.Values{}
	if userID != "" {
		q.Set("UserId", userID)
	}
	if mediaSourceID != "" {
		q.Set("MediaSourceId", mediaSourceID)
	}
	endpoint := fmt.Sprintf("%s/emby/Items/%s/PlaybackInfo", base, url.PathEscape(itemID))
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("emby: building request: %w", err)
	}
	if token == "" {
		token = c.apiKey
	}
	req.Header.Set(headerToken, token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("emby: playback info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("emby: playback info returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// RefreshLibrary asks Emby to rescan its libraries. Fired once per
// aggregation bucket instead of once per episode.
func (c *Client) RefreshLibrary(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/emby/Library/Refresh", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("emby: building request: %w", err)
	}
	req.Header.Set(headerToken, c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("emby: library refresh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("emby: library refresh returned %d", resp.StatusCode)
	}
	return nil
}

// Ping checks upstream reachability without authentication.
func (c *Client) Ping(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/emby/System/Info/Public", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("emby: status %d", resp.StatusCode)
	}
	return nil
}
