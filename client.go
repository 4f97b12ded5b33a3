package cortex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient substitutes the HTTP client, e.g. to add a transport with
// custom TLS settings.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-request timeout on the default HTTP client.
// Precision votes can legitimately run for tens of seconds; size this above
// the server's hard deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// Client is an HTTP client for the Cortex orchestrator API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client for the given base URL
// (e.g. "http://localhost:8080").
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("cortex: baseURL is required")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Route answers a question from the document corpus. k limits the number of
// sources; zero means the server default.
func (c *Client) Route(ctx context.Context, query string, k int) (*RouteResponse, error) {
	params := url.Values{}
	params.Set("q", query)
	if k > 0 {
		params.Set("k", strconv.Itoa(k))
	}

	var resp RouteResponse
	if err := c.get(ctx, "/route?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Vote runs a committee vote. A timeout outcome is returned as a
// VoteOutcome with Status "timeout", not as an error.
func (c *Client) Vote(ctx context.Context, req VoteRequest) (*VoteOutcome, error) {
	var resp VoteOutcome
	if err := c.post(ctx, "/vote", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks the server's health and dependency status.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PredictSchedule retrieves the capacity plan for the current hour.
func (c *Client) PredictSchedule(ctx context.Context) (*SchedulePlan, error) {
	var resp SchedulePlan
	if err := c.get(ctx, "/schedule/predict", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SwapModels asks the server to prewarm the given models.
func (c *Client) SwapModels(ctx context.Context, models []string) (*SwapResponse, error) {
	body := map[string]any{"prewarm": models}
	var resp SwapResponse
	if err := c.post(ctx, "/models/swap", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("cortex: create request: %w", err)
	}
	return c.doRequest(req, dest)
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("cortex: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("cortex: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("cortex: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("cortex: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("cortex: decode response: %w", err)
	}
	return nil
}

// errorEnvelope is the server's error wire format.
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}
	return apiErr
}
