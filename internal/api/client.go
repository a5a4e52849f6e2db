package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"gpudeploy/internal/logging"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// APIError is returned for any non-2xx control-plane response. The full
// raw body is captured so provisioning failures can be diagnosed from the
// run log.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control plane returned %d: %s", e.Status, logging.Truncate(e.Body))
}

// Client is a bearer-token JSON client for the control plane. Idempotent
// reads go through a retrying HTTP client; mutations (instance create and
// delete) use a non-retrying client because a silently repeated create
// could allocate a duplicate billable resource.
type Client struct {
	baseURL string
	token   string
	read    *retryablehttp.Client
	write   *retryablehttp.Client
}

// NewClient creates a control-plane client for the given base URL and
// bearer token.
func NewClient(baseURL, token string) *Client {
	read := retryablehttp.NewClient()
	read.RetryMax = 3
	read.RetryWaitMin = 500 * time.Millisecond
	read.RetryWaitMax = 5 * time.Second
	read.Logger = nil

	write := retryablehttp.NewClient()
	write.RetryMax = 0
	write.Logger = nil

	return &Client{
		baseURL: baseURL,
		token:   token,
		read:    read,
		write:   write,
	}
}

// do issues a request and decodes a JSON response into out (when out is
// non-nil). A non-2xx status or an empty body on a required read becomes
// an *APIError.
func (c *Client) do(ctx context.Context, hc *retryablehttp.Client, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.Logger().Error("control-plane error response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", logging.Truncate(string(raw))))
		return &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	if out != nil {
		if len(raw) == 0 {
			// An empty body where data is expected would silently corrupt
			// whatever is built from it (e.g. the availability catalog).
			return &APIError{Status: resp.StatusCode, Body: "empty response body"}
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode response for %s %s: %w", method, path, err)
		}
	}

	return nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, c.read, http.MethodGet, path, nil, out)
}
