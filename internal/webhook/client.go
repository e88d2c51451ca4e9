package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Result is a delivery outcome. Failures are values, never panics or
// propagated errors: one endpoint's failure must not abort its siblings.
type Result struct {
	OK         bool
	StatusCode int
	Err        error
}

// Client performs single-attempt outbound deliveries. Retry policy, if
// any, belongs to the caller.
type Client struct {
	http      *http.Client
	userAgent string
}

// NewClient builds a delivery client with a bounded per-attempt timeout.
func NewClient(timeout time.Duration, userAgent string) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Send POSTs the body to url with the given extra headers. Any non-2xx
// response or transport error is a failure result.
func (c *Client) Send(ctx context.Context, url string, body []byte, headers http.Header) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Err: fmt.Errorf("post %s: %w", url, err)}
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("endpoint returned status %d", resp.StatusCode),
		}
	}
	return Result{OK: true, StatusCode: resp.StatusCode}
}
