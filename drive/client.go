package drive

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// DirectLink is a time-limited URL issued by the drive for one file. The
// headers must accompany any fetch of the URL; the drive binds links to the
// requesting User-Agent.
type DirectLink struct {
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	Size      int64             `json:"size"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// ValidFor reports whether the link is still usable margin from now.
func (l *DirectLink) ValidFor(margin time.Duration) bool {
	return time.Now().Add(margin).Before(l.ExpiresAt)
}

// Resolver turns a pickcode plus a session credential into a DirectLink.
type Resolver interface {
	Resolve(ctx context.Context, pickcode, cookie string) (*DirectLink, error)
}

const (
	defaultLinkLifetime = time.Hour
	maxRetryElapsed     = 4 * time.Second
)

// Client talks to the drive's download-url endpoint. Resolution is
// idempotent, so transient failures are retried with exponential backoff; a
// circuit breaker sheds load when the drive is persistently down.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker[*DirectLink]
	logger    zerolog.Logger

	// retryElapsed caps the total time spent on backoff retries.
	retryElapsed time.Duration
}

func NewClient(baseURL, userAgent string, logger zerolog.Logger) *Client {
	c := &Client{
		baseURL:   baseURL,
		userAgent: userAgent,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:       logger.With().Str("component", "drive").Logger(),
		retryElapsed: maxRetryElapsed,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*DirectLink](gobreaker.Settings{
		Name:    "drive-resolve",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 8
		},
	})
	return c
}

type downloadResponse struct {
	State   bool   `json:"state"`
	Msg     string `json:"msg"`
	MsgCode int    `json:"msg_code"`
	FileURL string `json:"file_url"`
	Size    int64  `json:"file_size"`
}

// Resolve fetches a direct link for pickcode using the account cookie.
// Only retryable failures (timeout, rate limit, upstream errors) are
// retried; credential and not-found failures return immediately.
func (c *Client) Resolve(ctx context.Context, pickcode, cookie string) (*DirectLink, error) {
	if pickcode == "" {
		return nil, newError(KindNotFound, "empty pickcode", nil)
	}
	if cookie == "" {
		return nil, newError(KindInvalidCredential, "no drive cookie configured", nil)
	}

	link, err := c.breaker.Execute(func() (*DirectLink, error) {
		return c.resolveWithRetry(ctx, pickcode, cookie)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, newError(KindUnreachable, "drive temporarily unavailable", err)
		}
		return nil, err
	}
	return link, nil
}

func (c *Client) resolveWithRetry(ctx context.Context, pickcode, cookie string) (*DirectLink, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = c.retryElapsed

	var link *DirectLink
	operation := func() error {
		var err error
		link, err = c.resolveOnce(ctx, pickcode, cookie)
		if err == nil {
			return nil
		}
		var de *Error
		if errors.As(err, &de) && !de.Retryable() {
			return backoff.Permanent(err)
		}
		c.logger.Debug().Err(err).Str("pickcode", pickcode).Msg("retrying resolution")
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return link, nil
}

func (c *Client) resolveOnce(ctx context.Context, pickcode, cookie string) (*DirectLink, error) {
	endpoint := fmt.Sprintf("%s/files/download?pickcode=%s", c.baseURL, url.QueryEscape(pickcode))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, newError(KindUnreachable, "building request", err)
	}
	req.Header.Set("Cookie", cookie)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, newError(KindInvalidCredential, "drive rejected credential", nil)
	case resp.StatusCode == http.StatusNotFound:
		return nil, newError(KindNotFound, "file not found", nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		e := newError(KindRateLimited, "drive rate limit", nil)
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, e
	case resp.StatusCode >= 500:
		return nil, newError(KindUnreachable, fmt.Sprintf("drive returned %d", resp.StatusCode), nil)
	}

	var body downloadResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, newError(KindUnreachable, "undecodable drive response", err)
	}
	if !body.State || body.FileURL == "" {
		return nil, classifyAPIFailure(body)
	}

	return &DirectLink{
		URL: body.FileURL,
		Headers: map[string]string{
			"User-Agent": c.userAgent,
			"Cookie":     cookie,
		},
		Size:      body.Size,
		ExpiresAt: linkExpiry(body.FileURL),
	}, nil
}

func classifyTransport(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, "resolution timed out", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return newError(KindTimeout, "resolution timed out", err)
	}
	return newError(KindUnreachable, "drive unreachable", err)
}

// Body-level failure codes observed from the drive API: 911 is the account
// risk check (credential no longer accepted), 50003 an unknown pickcode.
func classifyAPIFailure(body downloadResponse) *Error {
	switch body.MsgCode {
	case 911:
		return newError(KindInvalidCredential, body.Msg, nil)
	case 50003:
		return newError(KindNotFound, body.Msg, nil)
	}
	msg := body.Msg
	if msg == "" {
		msg = "drive reported failure"
	}
	return newError(KindUnreachable, msg, nil)
}

// linkExpiry reads the expiry the drive embeds in the signed URL (unix
// seconds in the t parameter). Links without one get a conservative
// default lifetime.
func linkExpiry(raw string) time.Time {
	if u, err := url.Parse(raw); err == nil {
		if t := u.Query().Get("t"); t != "" {
			if sec, err := strconv.ParseInt(t, 10, 64); err == nil && sec > 0 {
				return time.Unix(sec, 0)
			}
		}
	}
	return time.Now().Add(defaultLinkLifetime)
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if sec, err := strconv.Atoi(value); err == nil && sec > 0 {
		return time.Duration(sec) * time.Second
	}
	return 0
}
