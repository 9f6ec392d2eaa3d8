package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"hlsget/internal/logger"
)

// StatusError reports a non-2xx HTTP response for a URL.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.Code, e.URL)
}

// Client performs header-annotated GET requests against the origin.
// The header set is fixed at construction time and sent with every
// request, so a Client doubles as the identity of a download target.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	limiter    *rate.Limiter
	logger     logger.Logger

	// RequestTimeout bounds a single attempt, not the whole retry loop.
	RequestTimeout time.Duration
}

const (
	maxAttempts  = 3
	retryDelay   = 100 * time.Millisecond
	readChunkLen = 16 * 1024
)

// NewClient creates a fetch client. bytesPerSec <= 0 disables rate limiting.
func NewClient(log logger.Logger, headers map[string]string, bytesPerSec int) *Client {
	transport := &http.Transport{
		ResponseHeaderTimeout: 10 * time.Second,
	}

	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[k] = v
	}

	var limiter *rate.Limiter
	if bytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(bytesPerSec), readChunkLen)
	}

	return &Client{
		httpClient:     &http.Client{Transport: transport},
		headers:        h,
		limiter:        limiter,
		logger:         log,
		RequestTimeout: 30 * time.Second,
	}
}

// Headers returns a copy of the header set sent with every request.
func (c *Client) Headers() map[string]string {
	h := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		h[k] = v
	}
	return h
}

// Fetch retrieves the full payload at rawURL. Transport failures and
// 5xx responses are retried a fixed number of times with a short delay;
// other non-2xx responses fail immediately with a StatusError. Retry
// stops as soon as ctx is done.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		data, retryable, err := c.fetchOnce(ctx, rawURL)
		if err == nil {
			return data, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
		c.logger.Warnf("fetch attempt %d/%d for %s failed: %v", attempt, maxAttempts, rawURL, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}

	return nil, fmt.Errorf("fetch %s failed after %d attempts: %w", rawURL, maxAttempts, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, rawURL string) (data []byte, retryable bool, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request for %s: %w", rawURL, err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{URL: rawURL, Code: resp.StatusCode}
		return nil, resp.StatusCode >= 500, statusErr
	}

	body := io.Reader(resp.Body)
	if c.limiter != nil {
		body = &throttledReader{r: resp.Body, limiter: c.limiter, ctx: reqCtx}
	}

	data, err = io.ReadAll(body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("failed to read body of %s: %w", rawURL, err)
	}
	return data, false, nil
}

// throttledReader paces reads through a shared rate limiter so that
// concurrent downloads collectively respect the configured bandwidth.
type throttledReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if len(p) > readChunkLen {
		p = p[:readChunkLen]
	}
	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
