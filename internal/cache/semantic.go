package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/orchestre-ai/cortex/internal/embedding"
	"github.com/orchestre-ai/cortex/internal/fusion"
)

// Entry is the stored form of a semantic cache record.
type Entry struct {
	Query     string                 `json:"query"`
	Embedding []float32              `json:"embedding"`
	Answer    string                 `json:"answer"`
	Sources   []fusion.FusedDocument `json:"sources,omitempty"`
	StoredAt  time.Time              `json:"stored_at"`
}

// Hit is a successful semantic lookup.
type Hit struct {
	Answer  string
	Sources []fusion.FusedDocument
	Cosine  float64
}

// Semantic caches answers keyed by query embedding: a lookup embeds the
// query, scans a bounded number of stored entries and returns the best
// match above the cosine threshold.
type Semantic struct {
	store     Store
	embedder  embedding.Provider
	threshold float64
	maxScan   int
	ttl       time.Duration
	logger    *slog.Logger
}

// NewSemantic creates a semantic cache. threshold is the minimum cosine for
// a hit; maxScan bounds the entries examined per lookup.
func NewSemantic(store Store, embedder embedding.Provider, threshold float64, maxScan int, ttl time.Duration, logger *slog.Logger) *Semantic {
	if logger == nil {
		logger = slog.Default()
	}
	return &Semantic{
		store:     store,
		embedder:  embedder,
		threshold: threshold,
		maxScan:   maxScan,
		ttl:       ttl,
		logger:    logger.With("component", "cache"),
	}
}

// Get returns the closest cached answer with cosine at or above the
// threshold. Every failure path (embedder down, backend down, undecodable
// entries) reports a miss and never blocks the caller beyond ctx.
func (c *Semantic) Get(ctx context.Context, query string) (Hit, bool) {
	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		c.logger.Debug("semantic get: embed failed, treating as miss", "error", err)
		return Hit{}, false
	}

	raws, err := c.store.ScanValues(ctx, semanticPrefix, c.maxScan)
	if err != nil {
		c.logger.Debug("semantic get: scan failed, treating as miss", "error", err)
		return Hit{}, false
	}

	var (
		best       Entry
		bestCosine float64
		found      bool
	)
	for _, raw := range raws {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil || len(e.Embedding) == 0 {
			continue
		}
		if cos := fusion.Cosine(vec, e.Embedding); !found || cos > bestCosine {
			best, bestCosine, found = e, cos, true
		}
	}

	if !found || bestCosine < c.threshold {
		return Hit{}, false
	}
	return Hit{Answer: best.Answer, Sources: best.Sources, Cosine: bestCosine}, true
}

// Set stores an answer under the query's hash key. Best-effort: embedding or
// backend failures are logged and swallowed.
func (c *Semantic) Set(ctx context.Context, query, answer string, sources []fusion.FusedDocument) {
	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		c.logger.Debug("semantic set skipped: embed failed", "error", err)
		return
	}

	raw, err := json.Marshal(Entry{
		Query:     query,
		Embedding: vec,
		Answer:    answer,
		Sources:   sources,
		StoredAt:  time.Now().UTC(),
	})
	if err != nil {
		c.logger.Debug("semantic set skipped: marshal failed", "error", err)
		return
	}

	if err := c.store.SetEx(ctx, semanticKey(query), raw, c.ttl); err != nil {
		c.logger.Debug("semantic set failed", "error", err)
	}
}
