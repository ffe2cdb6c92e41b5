package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client is a JSON HTTP client with retries on throttling and server errors
type Client struct {
	baseURL string
	http    *resty.Client
}

// NewClient creates a client for baseURL. An empty token disables auth.
func NewClient(baseURL, token string) *Client {
	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
	}

	client.http = resty.New().
		SetHeader("User-Agent", "stocksync/1.0").
		SetHeader("Accept", "application/json").
		SetTimeout(60 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Retry on 429 (Too Many Requests) and 5xx server errors
			return r.StatusCode() == 429 || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})
	if token != "" {
		client.http.SetAuthToken(token)
	}

	return client
}

// Get performs a GET request
func (c *Client) Get(ctx context.Context, endpoint string, params map[string]string) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx)

	if params != nil {
		req.SetQueryParams(params)
	}

	return req.Get(c.buildURL(endpoint))
}

// Post performs a POST request with a JSON body
func (c *Client) Post(ctx context.Context, endpoint string, payload interface{}) (*resty.Response, error) {
	return c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(c.buildURL(endpoint))
}

// Delete performs a DELETE request
func (c *Client) Delete(ctx context.Context, endpoint string, params map[string]string) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx)

	if params != nil {
		req.SetQueryParams(params)
	}

	return req.Delete(c.buildURL(endpoint))
}

// Download streams a GET of an absolute URL into dest
func (c *Client) Download(ctx context.Context, url, dest string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetOutput(dest).
		Get(url)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("failed to download %s: HTTP %d", url, resp.StatusCode())
	}
	return nil
}

// buildURL constructs the full URL for an endpoint
func (c *Client) buildURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	endpoint = strings.TrimPrefix(endpoint, "/")
	return fmt.Sprintf("%s/%s", c.baseURL, endpoint)
}

// SetTimeout allows customizing the timeout for specific operations
func (c *Client) SetTimeout(timeout time.Duration) {
	c.http.SetTimeout(timeout)
}

// DisableRetries makes every request a single attempt, for calls that are
// not safe to repeat
func (c *Client) DisableRetries() {
	c.http.SetRetryCount(0)
}

// SetRetryWait overrides the retry back-off bounds
func (c *Client) SetRetryWait(wait, maxWait time.Duration) {
	c.http.SetRetryWaitTime(wait).SetRetryMaxWaitTime(maxWait)
}

// statusError turns a non-2xx response into an error
func statusError(op string, resp *resty.Response) error {
	body := strings.TrimSpace(string(resp.Body()))
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Errorf("%s: HTTP %d: %s", op, resp.StatusCode(), body)
}
