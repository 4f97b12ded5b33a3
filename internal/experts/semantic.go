package experts

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/singleflight"

	"github.com/orchestre-ai/cortex/internal/embedding"
	"github.com/orchestre-ai/cortex/internal/fusion"
)

// QdrantConfig holds the connection settings for the vector backend.
type QdrantConfig struct {
	URL        string // e.g. "http://localhost:6333" or "https://xyz.cloud.qdrant.io:6334"
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// SemanticExpert retrieves by dense-vector similarity: the query is embedded,
// then matched against the Qdrant collection.
type SemanticExpert struct {
	client     *qdrant.Client
	collection string
	embedder   embedding.Provider
	timeout    time.Duration
	logger     *slog.Logger

	healthGroup singleflight.Group
	healthErr   atomic.Value // stores *error; inner error may be nil
	healthAt    atomic.Int64 // unix nanos of last check
}

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL.
// The REST port 6333 is mapped to the gRPC port 6334, which is what the
// official client speaks.
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("experts: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("experts: invalid port in qdrant URL: %q", portStr)
		}
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// NewSemanticExpert connects to Qdrant over gRPC.
func NewSemanticExpert(cfg QdrantConfig, embedder embedding.Provider, logger *slog.Logger) (*SemanticExpert, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("experts: connect to qdrant at %s:%d: %w", host, port, err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SemanticExpert{
		client:     client,
		collection: cfg.Collection,
		embedder:   embedder,
		timeout:    cfg.Timeout,
		logger:     logger.With("component", "experts", "expert", TagSemantic),
	}, nil
}

// Tag returns "semantic".
func (e *SemanticExpert) Tag() string { return TagSemantic }

// Search embeds the query and runs a dense similarity query with payloads.
// Embedding failure, query failure and timeout all degrade to an empty
// bucket.
func (e *SemanticExpert) Search(ctx context.Context, query string, k int) []fusion.Document {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vec, err := e.embedder.Embed(callCtx, query)
	if err != nil {
		e.logger.Debug("search skipped: embed failed", "error", err)
		return nil
	}

	limit := uint64(k) //nolint:gosec // k is a small positive request bound
	scored, err := e.client.Query(callCtx, &qdrant.QueryPoints{
		CollectionName: e.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		e.logger.Debug("search failed", "error", err)
		return nil
	}

	docs := make([]fusion.Document, 0, len(scored))
	for i, sp := range scored {
		text := payloadString(sp.Payload, "text", "content")
		if text == "" {
			continue
		}
		docs = append(docs, fusion.Document{
			ID:     pointID(sp.Id, i),
			Text:   truncate(text, maxSnippetLen),
			Source: payloadString(sp.Payload, "source"),
			Score:  float64(sp.Score),
			Expert: TagSemantic,
		})
	}
	return docs
}

// EnsureCollection creates the collection with cosine distance if it does
// not exist yet. Ingestion pipelines own the real collection; this exists
// for dev bootstrap and tests.
func (e *SemanticExpert) EnsureCollection(ctx context.Context, dims uint64) error {
	exists, err := e.client.CollectionExists(ctx, e.collection)
	if err != nil {
		return fmt.Errorf("experts: check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := e.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: e.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dims,
			Distance: qdrant.Distance_Cosine,
		}),
	}); err != nil {
		return fmt.Errorf("experts: create collection %q: %w", e.collection, err)
	}
	e.logger.Info("qdrant: created collection", "collection", e.collection, "dims", dims)
	return nil
}

// Healthy returns nil if Qdrant is reachable. Results are cached for 5
// seconds and concurrent checks are coalesced via singleflight, so the
// health endpoint never amplifies load on the backend.
func (e *SemanticExpert) Healthy(ctx context.Context) error {
	if time.Since(time.Unix(0, e.healthAt.Load())) < 5*time.Second {
		return e.loadHealthErr()
	}

	// context.Background() rather than the caller's ctx: singleflight reuses
	// the first caller's context, and its cancellation would poison every
	// waiter with a stale error.
	result, _, _ := e.healthGroup.Do("health", func() (any, error) {
		checkCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		_, err := e.client.HealthCheck(checkCtx)
		if err != nil {
			e.storeHealthErr(fmt.Errorf("experts: qdrant unhealthy: %w", err))
		} else {
			e.storeHealthErr(nil)
		}
		e.healthAt.Store(time.Now().UnixNano())
		return e.loadHealthErr(), nil
	})
	if result == nil {
		return nil
	}
	return result.(error)
}

func (e *SemanticExpert) storeHealthErr(err error) {
	e.healthErr.Store(&err)
}

func (e *SemanticExpert) loadHealthErr() error {
	v := e.healthErr.Load()
	if v == nil {
		return nil
	}
	return *v.(*error)
}

// Close shuts down the gRPC connection.
func (e *SemanticExpert) Close() error {
	return e.client.Close()
}

// pointID renders a stable id from a Qdrant point id (uuid or numeric).
func pointID(id *qdrant.PointId, rank int) string {
	if id != nil {
		if s := id.GetUuid(); s != "" {
			return s
		}
		if n := id.GetNum(); n != 0 {
			return strconv.FormatUint(n, 10)
		}
	}
	return fmt.Sprintf("point-%d", rank)
}

// payloadString returns the first non-empty string payload among keys.
func payloadString(payload map[string]*qdrant.Value, keys ...string) string {
	for _, key := range keys {
		if v, ok := payload[key]; ok {
			if s := v.GetStringValue(); s != "" {
				return s
			}
		}
	}
	return ""
}
