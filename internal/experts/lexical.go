package experts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/orchestre-ai/cortex/internal/fusion"
)

// maxSnippetLen caps document text carried into fusion and answers.
const maxSnippetLen = 500

// SearchConfig configures the lexical search backend (Meilisearch-compatible
// REST API).
type SearchConfig struct {
	URL     string
	Index   string
	APIKey  string
	Timeout time.Duration
}

// LexicalExpert queries the lexical index with the backend's default
// relevance ranking.
type LexicalExpert struct {
	client *searchClient
}

// NewLexicalExpert creates the lexical adapter.
func NewLexicalExpert(cfg SearchConfig, logger *slog.Logger) *LexicalExpert {
	return &LexicalExpert{client: newSearchClient(cfg, TagLexical, logger)}
}

// Tag returns "lexical".
func (e *LexicalExpert) Tag() string { return TagLexical }

// Search returns the backend's relevance-ranked hits.
func (e *LexicalExpert) Search(ctx context.Context, query string, k int) []fusion.Document {
	return e.client.search(ctx, query, k, "")
}

// Health reports whether the search backend answers.
func (e *LexicalExpert) Health(ctx context.Context) bool {
	return e.client.health(ctx)
}

// TemporalExpert is the lexical index queried with descending-time ordering:
// same backend, same contract, recency-ranked buckets.
type TemporalExpert struct {
	client *searchClient
}

// NewTemporalExpert creates the temporal adapter.
func NewTemporalExpert(cfg SearchConfig, logger *slog.Logger) *TemporalExpert {
	return &TemporalExpert{client: newSearchClient(cfg, TagTemporal, logger)}
}

// Tag returns "temporal".
func (e *TemporalExpert) Tag() string { return TagTemporal }

// Search returns the newest matching documents first.
func (e *TemporalExpert) Search(ctx context.Context, query string, k int) []fusion.Document {
	return e.client.search(ctx, query, k, "timestamp:desc")
}

// searchClient is the shared HTTP client for the lexical backend.
type searchClient struct {
	baseURL    string
	index      string
	apiKey     string
	timeout    time.Duration
	tag        string
	httpClient *http.Client
	logger     *slog.Logger
}

func newSearchClient(cfg SearchConfig, tag string, logger *slog.Logger) *searchClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 4 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &searchClient{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		index:      cfg.Index,
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		tag:        tag,
		httpClient: &http.Client{},
		logger:     logger.With("component", "experts", "expert", tag),
	}
}

type searchRequest struct {
	Q     string   `json:"q"`
	Limit int      `json:"limit"`
	Sort  []string `json:"sort,omitempty"`
}

type searchHit struct {
	ID        any    `json:"id"`
	Content   string `json:"content"`
	Text      string `json:"text"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

type searchResponse struct {
	Hits []searchHit `json:"hits"`
}

// search runs one bounded query. Every failure degrades to an empty bucket.
func (c *searchClient) search(ctx context.Context, query string, k int, sort string) []fusion.Document {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := searchRequest{Q: query, Limit: k}
	if sort != "" {
		req.Sort = []string{sort}
	}
	body, err := json.Marshal(req)
	if err != nil {
		c.logger.Debug("search skipped: marshal failed", "error", err)
		return nil
	}

	url := fmt.Sprintf("%s/indexes/%s/search", c.baseURL, c.index)
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.logger.Debug("search skipped: create request failed", "error", err)
		return nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug("search failed", "error", err)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		drained, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Debug("search failed", "status", resp.StatusCode, "body", string(drained))
		return nil
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.logger.Debug("search failed: decode", "error", err)
		return nil
	}

	// Rank within the bucket is the backend's ordering; the score only needs
	// to be monotonic in rank because fusion re-normalizes per bucket.
	docs := make([]fusion.Document, 0, len(result.Hits))
	for i, hit := range result.Hits {
		text := hit.Content
		if text == "" {
			text = hit.Text
		}
		if text == "" {
			continue
		}
		docs = append(docs, fusion.Document{
			ID:     hitID(hit, i),
			Text:   truncate(text, maxSnippetLen),
			Source: hit.Source,
			Score:  1.0 / float64(i+1),
			Expert: c.tag,
		})
	}
	return docs
}

// health probes the backend's /health endpoint with a short budget.
func (c *searchClient) health(ctx context.Context) bool {
	callCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// hitID renders a stable document id from whatever the backend returned.
func hitID(hit searchHit, rank int) string {
	switch v := hit.ID.(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("hit-%d", rank)
}

// truncate shortens s to at most n runes; documents are French text, so
// cutting on a byte boundary would split accented characters.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
