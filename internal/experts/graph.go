package experts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/orchestre-ai/cortex/internal/fusion"
)

// GraphConfig configures the graph neighbor backend. An empty URL means the
// expert is not constructed and the graph weight column simply contributes
// nothing.
type GraphConfig struct {
	URL     string
	Timeout time.Duration
}

// GraphExpert retrieves entity-neighborhood snippets from the knowledge
// graph service.
type GraphExpert struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGraphExpert creates the graph adapter.
func NewGraphExpert(cfg GraphConfig, logger *slog.Logger) *GraphExpert {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphExpert{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
		logger:     logger.With("component", "experts", "expert", TagGraph),
	}
}

// Tag returns "graph".
func (e *GraphExpert) Tag() string { return TagGraph }

type graphRequest struct {
	Q     string `json:"q"`
	Limit int    `json:"limit"`
}

type graphNode struct {
	ID      string  `json:"id"`
	Label   string  `json:"label"`
	Snippet string  `json:"snippet"`
	Weight  float64 `json:"weight"`
}

type graphResponse struct {
	Nodes []graphNode `json:"nodes"`
}

// Search returns neighborhood snippets for entities matched by the query.
// Failures degrade to an empty bucket.
func (e *GraphExpert) Search(ctx context.Context, query string, k int) []fusion.Document {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := json.Marshal(graphRequest{Q: query, Limit: k})
	if err != nil {
		e.logger.Debug("search skipped: marshal failed", "error", err)
		return nil
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, e.baseURL+"/graph/neighbors", bytes.NewReader(body))
	if err != nil {
		e.logger.Debug("search skipped: create request failed", "error", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.logger.Debug("search failed", "error", err)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		e.logger.Debug("search failed", "status", resp.StatusCode)
		return nil
	}

	var result graphResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		e.logger.Debug("search failed: decode", "error", err)
		return nil
	}

	docs := make([]fusion.Document, 0, len(result.Nodes))
	for i, node := range result.Nodes {
		text := node.Snippet
		if text == "" {
			text = node.Label
		}
		if text == "" {
			continue
		}
		id := node.ID
		if id == "" {
			id = fmt.Sprintf("node-%d", i)
		}
		docs = append(docs, fusion.Document{
			ID:     id,
			Text:   truncate(text, maxSnippetLen),
			Source: "graph:" + node.Label,
			Score:  node.Weight,
			Expert: TagGraph,
		})
	}
	return docs
}
