// Package router implements the MoME retrieval route: classify the query,
// fan out to the configured experts, fuse their buckets with weighted RRF
// and frame a grounded answer.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/orchestre-ai/cortex/internal/cache"
	"github.com/orchestre-ai/cortex/internal/embedding"
	"github.com/orchestre-ai/cortex/internal/experts"
	"github.com/orchestre-ai/cortex/internal/fusion"
	"github.com/orchestre-ai/cortex/internal/metrics"
)

// fusionMethod is reported in every response; the weights vary per query,
// the algorithm does not.
const fusionMethod = "rrf_adaptive"

// framedSnippetLen bounds each quoted source in the framed answer.
const framedSnippetLen = 200

// Response is the wire shape of a route result.
type Response struct {
	Answer        string                 `json:"answer"`
	Sources       []fusion.FusedDocument `json:"sources"`
	ExpertsUsed   []string               `json:"experts_used"`
	QueryType     QueryClass             `json:"query_type"`
	FusionMethod  string                 `json:"fusion_method"`
	FusionWeights map[string]float64     `json:"fusion_weights"`
	CacheHit      bool                   `json:"cache_hit"`
	ElapsedMS     int64                  `json:"elapsed_ms"`
}

// Config tunes the router.
type Config struct {
	TopK      int     // results kept after fusion (default 5)
	FetchK    int     // documents requested per expert (default 20)
	RRFK      int     // RRF smoothing constant (default 60)
	MMRLambda float64 // 0 disables MMR diversification
}

// Router coordinates the retrieval route. The semantic cache and metrics
// are optional; a nil cache means every query hits the experts.
type Router struct {
	experts  []experts.Expert
	cfg      Config
	semCache *cache.Semantic
	embedder embedding.Provider
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a router over the given experts. embedder is only needed when
// MMR is enabled.
func New(exps []experts.Expert, cfg Config, semCache *cache.Semantic, embedder embedding.Provider, m *metrics.Metrics, logger *slog.Logger) *Router {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.FetchK <= 0 {
		cfg.FetchK = 20
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = fusion.DefaultK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		experts:  exps,
		cfg:      cfg,
		semCache: semCache,
		embedder: embedder,
		metrics:  m,
		logger:   logger.With("component", "router"),
	}
}

// Route answers a retrieval query. k overrides the configured TopK when
// positive. Expert failures surface only as thinner fusion input; the route
// itself fails only on an empty query.
func (r *Router) Route(ctx context.Context, query string, k int) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("router: empty query")
	}
	if k <= 0 {
		k = r.cfg.TopK
	}
	start := time.Now()

	if r.semCache != nil {
		if hit, ok := r.semCache.Get(ctx, query); ok {
			r.metrics.CacheHit("semantic")
			r.logger.Debug("semantic cache hit", "cosine", hit.Cosine)
			return &Response{
				Answer:       hit.Answer,
				Sources:      hit.Sources,
				FusionMethod: fusionMethod,
				QueryType:    Classify(query),
				CacheHit:     true,
				ElapsedMS:    time.Since(start).Milliseconds(),
			}, nil
		}
		r.metrics.CacheMissed("semantic")
	}

	class := Classify(query)
	weights := r.weightsFor(query, class)

	buckets := r.dispatch(ctx, query, weights)

	fused := fusion.Dedup(fusion.WeightedRRF(buckets, weights, r.cfg.RRFK))
	if r.cfg.MMRLambda > 0 && r.embedder != nil && len(fused) > 1 {
		fused = r.diversify(ctx, fused, k)
	}
	if len(fused) > k {
		fused = fused[:k]
	}

	resp := &Response{
		Answer:        FrameAnswer(query, fused),
		Sources:       fused,
		ExpertsUsed:   expertsUsed(buckets),
		QueryType:     class,
		FusionMethod:  fusionMethod,
		FusionWeights: weights,
		ElapsedMS:     time.Since(start).Milliseconds(),
	}

	if r.semCache != nil {
		r.semCache.Set(ctx, query, resp.Answer, resp.Sources)
	}
	r.metrics.ObserveLatency("route", time.Since(start).Seconds())
	return resp, nil
}

// weightsFor picks the weight row. With exactly the lexical and semantic
// experts configured, the length-adaptive override applies instead of the
// class table.
func (r *Router) weightsFor(query string, class QueryClass) map[string]float64 {
	if len(r.experts) == 2 && r.hasExpert(experts.TagLexical) && r.hasExpert(experts.TagSemantic) {
		return AdaptiveWeights(query)
	}
	return Weights(class)
}

func (r *Router) hasExpert(tag string) bool {
	for _, e := range r.experts {
		if e.Tag() == tag {
			return true
		}
	}
	return false
}

// dispatch queries every positively-weighted expert in parallel. Empty
// buckets are kept out of the map so experts_used reflects contributors.
func (r *Router) dispatch(ctx context.Context, query string, weights map[string]float64) map[string][]fusion.Document {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		buckets = make(map[string][]fusion.Document)
	)
	for _, e := range r.experts {
		if weights[e.Tag()] <= 0 {
			continue
		}
		wg.Add(1)
		go func(e experts.Expert) {
			defer wg.Done()
			docs := e.Search(ctx, query, r.cfg.FetchK)
			if len(docs) == 0 {
				return
			}
			mu.Lock()
			buckets[e.Tag()] = docs
			mu.Unlock()
		}(e)
	}
	wg.Wait()
	return buckets
}

// diversify re-ranks the fused pool with MMR. Embedding failure skips
// diversification rather than failing the route.
func (r *Router) diversify(ctx context.Context, fused []fusion.FusedDocument, k int) []fusion.FusedDocument {
	texts := make([]string, len(fused))
	for i, d := range fused {
		texts[i] = d.Text
	}
	embs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		r.logger.Debug("mmr skipped: embed failed", "error", err)
		return fused
	}
	return fusion.MMR(fused, embs, r.cfg.MMRLambda, k)
}

func expertsUsed(buckets map[string][]fusion.Document) []string {
	used := make([]string, 0, len(buckets))
	for tag := range buckets {
		used = append(used, tag)
	}
	sort.Strings(used)
	return used
}

// FrameAnswer composes the deterministic answer from the top sources. No
// LLM is invoked on the route path; the framing quotes up to three fused
// snippets verbatim.
func FrameAnswer(query string, sources []fusion.FusedDocument) string {
	if len(sources) == 0 {
		return fmt.Sprintf("Aucune source trouvée pour «%s».", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "D'après %d source(s) pour «%s»:\n", len(sources), query)
	for i, s := range sources {
		if i == 3 {
			break
		}
		snippet := strings.TrimSpace(truncateRunes(s.Text, framedSnippetLen))
		fmt.Fprintf(&b, "%d. %s", i+1, snippet)
		if s.Source != "" {
			fmt.Fprintf(&b, " (%s)", s.Source)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
