package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// retryBackoff is the linear backoff unit between the first attempt and the
// single retry.
const retryBackoff = 1500 * time.Millisecond

// prewarmTimeout bounds each best-effort model-load request.
const prewarmTimeout = 10 * time.Second

// Client talks to an Ollama-compatible server over /api/generate.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for the given base URL. The http.Client carries
// no global timeout: every call is bounded by its own per-call budget.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     logger.With("component", "llm"),
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	NumPredict    int     `json:"num_predict,omitempty"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	RepeatPenalty float64 `json:"repeat_penalty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate produces a completion, retrying at most once on transient backend
// failure with linear backoff. Per-call timeouts are not retried; neither is
// cancellation of the parent context.
func (c *Client) Generate(ctx context.Context, model, prompt string, opts Options, timeout time.Duration) (string, error) {
	opts = opts.withDefaults()

	var lastErr *Error
	for attempt := 1; attempt <= 2; attempt++ {
		text, err := c.generateOnce(ctx, model, prompt, opts, timeout)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			// Parent canceled or out of budget: surface the context error
			// so callers can discard the task rather than record a vote.
			return "", ctx.Err()
		}
		var genErr *Error
		if !errors.As(err, &genErr) {
			return "", err
		}
		lastErr = genErr
		if genErr.Kind == KindTimeout || attempt == 2 {
			break
		}
		c.logger.Debug("generate retry", "model", model, "attempt", attempt, "error", err)
		select {
		case <-time.After(retryBackoff * time.Duration(attempt)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

func (c *Client) generateOnce(ctx context.Context, model, prompt string, opts Options, timeout time.Duration) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqBody, err := json.Marshal(generateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			NumPredict:    opts.MaxTokens,
			Temperature:   opts.Temperature,
			TopP:          opts.TopP,
			RepeatPenalty: opts.RepeatPenalty,
		},
	})
	if err != nil {
		return "", &Error{Kind: KindBackend, Model: model, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return "", &Error{Kind: KindBackend, Model: model, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", &Error{Kind: KindTimeout, Model: model, Timeout: timeout, Err: callCtx.Err()}
		}
		return "", &Error{Kind: KindBackend, Model: model, Err: fmt.Errorf("send request: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &Error{Kind: KindBackend, Model: model, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &Error{Kind: KindBackend, Model: model, Err: fmt.Errorf("decode response: %w", err)}
	}

	text := strings.TrimSpace(result.Response)
	if text == "" {
		return "", &Error{Kind: KindBackend, Model: model, Err: fmt.Errorf("empty response")}
	}
	return text, nil
}

// Prewarm fires a one-token generation per unique model so weights are
// resident before latency-sensitive work starts. All failures are ignored.
func (c *Client) Prewarm(ctx context.Context, models []string) {
	seen := make(map[string]struct{}, len(models))
	var wg sync.WaitGroup
	for _, m := range models {
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}

		wg.Add(1)
		go func(model string) {
			defer wg.Done()
			// Single attempt, no retry: a cold model either loads or it
			// does not, and the caller never waits on the answer.
			_, err := c.generateOnce(ctx, model, "ok", Options{MaxTokens: 1}.withDefaults(), prewarmTimeout)
			if err != nil {
				c.logger.Debug("prewarm skipped", "model", model, "error", err)
			}
		}(m)
	}
	wg.Wait()
}

// Health reports whether the backend answers its tags endpoint.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}
