// Command cortexd runs the Cortex orchestrator: the retrieval router, the
// consensus voting engine, and the HTTP API in front of them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/orchestre-ai/cortex/api"
	"github.com/orchestre-ai/cortex/internal/cache"
	"github.com/orchestre-ai/cortex/internal/config"
	"github.com/orchestre-ai/cortex/internal/consensus"
	"github.com/orchestre-ai/cortex/internal/embedding"
	"github.com/orchestre-ai/cortex/internal/experts"
	"github.com/orchestre-ai/cortex/internal/gate"
	"github.com/orchestre-ai/cortex/internal/grounding"
	"github.com/orchestre-ai/cortex/internal/llm"
	"github.com/orchestre-ai/cortex/internal/mcp"
	"github.com/orchestre-ai/cortex/internal/metrics"
	"github.com/orchestre-ai/cortex/internal/ratelimit"
	"github.com/orchestre-ai/cortex/internal/router"
	"github.com/orchestre-ai/cortex/internal/schedule"
	"github.com/orchestre-ai/cortex/internal/server"
	"github.com/orchestre-ai/cortex/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	logLevel := slog.LevelInfo
	if strings.EqualFold(os.Getenv("CORTEX_LOG_LEVEL"), "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("fatal", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// A missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Info("starting cortexd", "version", version, "port", cfg.Port)

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	// Validate the committee file up front: a typo in a deadline key should
	// fail the boot, not the first precision vote.
	committee, err := consensus.LoadFile(cfg.CommitteeConfig)
	if err != nil {
		return err
	}

	llmClient := llm.NewClient(cfg.OllamaURL, logger)
	heavyGate := gate.New(cfg.HeavyCapacity)
	m := metrics.New(heavyGate)

	store := newCacheStore(cfg.RedisURL, logger)
	defer func() { _ = store.Close() }()

	embedder := newEmbeddingProvider(cfg, logger)

	exactCache := cache.NewExact(store, cfg.CacheTTL, logger)
	semCache := cache.NewSemantic(store, embedder, cfg.CacheSimilarity, cfg.CacheMaxScan, cfg.CacheTTL, logger)

	glossary, err := grounding.Load(cfg.GlossaryPath)
	if err != nil {
		return err
	}

	engine := consensus.New(llmClient, heavyGate, exactCache, glossary, cfg.CommitteeConfig, m, logger)

	searchCfg := experts.SearchConfig{
		URL:     cfg.SearchURL,
		Index:   cfg.SearchIndex,
		APIKey:  cfg.SearchAPIKey,
		Timeout: cfg.ExpertTimeout,
	}
	lexical := experts.NewLexicalExpert(searchCfg, logger)
	temporal := experts.NewTemporalExpert(searchCfg, logger)
	exps := []experts.Expert{lexical, temporal}

	semantic, err := experts.NewSemanticExpert(experts.QdrantConfig{
		URL:        cfg.QdrantURL,
		APIKey:     cfg.QdrantAPIKey,
		Collection: cfg.VectorCollection,
		Timeout:    cfg.ExpertTimeout,
	}, embedder, logger)
	if err != nil {
		// The router degrades to lexical-only retrieval; routes still answer.
		logger.Warn("semantic expert disabled", "error", err)
	} else {
		exps = append(exps, semantic)
		defer func() { _ = semantic.Close() }()
	}

	if cfg.GraphURL != "" {
		exps = append(exps, experts.NewGraphExpert(experts.GraphConfig{
			URL:     cfg.GraphURL,
			Timeout: cfg.ExpertTimeout,
		}, logger))
		logger.Info("graph expert: enabled", "url", cfg.GraphURL)
	} else {
		logger.Info("graph expert: disabled")
	}

	rtr := router.New(exps, router.Config{
		TopK:      cfg.RouteTopK,
		MMRLambda: cfg.MMRLambda,
	}, semCache, embedder, m, logger)

	sched := newScheduler(committee)

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.RateLimitPerMinute > 0 {
		memLimiter := ratelimit.NewMemoryLimiter(cfg.RateLimitPerMinute)
		defer func() { _ = memLimiter.Close() }()
		limiter = memLimiter
		logger.Info("vote rate limiting: enabled", "per_minute", cfg.RateLimitPerMinute)
	} else {
		logger.Info("vote rate limiting: disabled")
	}

	srvCfg := server.ServerConfig{
		Router:              rtr,
		Voter:               engine,
		Scheduler:           sched,
		Warmer:              llmClient,
		Probes:              buildProbes(lexical, semantic, llmClient, store),
		Gate:                heavyGate,
		Metrics:             m,
		Logger:              logger,
		Limiter:             limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
	}
	if cfg.MCPEnabled {
		srvCfg.MCPServer = mcp.New(rtr, engine, sched, logger).MCPServer()
		logger.Info("mcp surface: enabled")
	}

	srv := server.New(srvCfg)

	if cfg.PrewarmInterval > 0 {
		go prewarmLoop(ctx, cfg.PrewarmInterval, sched, llmClient, logger)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "port", cfg.Port)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	// In-flight precision votes can legitimately run for tens of seconds;
	// give them a real chance to finish before the process exits.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// newCacheStore connects to Redis, falling back to an in-process store when
// Redis is unreachable. Caching is an accelerator here, never a dependency.
func newCacheStore(redisURL string, logger *slog.Logger) cache.Store {
	redisStore, err := cache.NewRedisStore(redisURL)
	if err != nil {
		logger.Warn("redis unavailable, using in-memory cache", "error", err)
		return cache.NewMemoryStore()
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := redisStore.Ping(pingCtx); err != nil {
		logger.Warn("redis unreachable, using in-memory cache", "error", err)
		_ = redisStore.Close()
		return cache.NewMemoryStore()
	}

	logger.Info("cache store: redis")
	return redisStore
}

// newEmbeddingProvider picks Ollama embeddings when the backend is
// reachable and the deterministic hash provider otherwise, so routes and
// the semantic cache work in environments without a model server.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	if ollamaReachable(cfg.OllamaURL) {
		logger.Info("embeddings: ollama", "model", cfg.EmbedModel)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.EmbedModel, cfg.EmbedDimensions)
	}
	logger.Warn("embeddings: ollama unreachable, using hash provider")
	return embedding.NewHashProvider(cfg.EmbedDimensions)
}

func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// newScheduler splits the committee file's models into heavy and light sets
// so the capacity planner preloads what the configured modes actually use.
func newScheduler(committee *consensus.File) *schedule.Scheduler {
	seen := make(map[string]struct{})
	var heavy, light []string
	add := func(model string) {
		if _, ok := seen[model]; ok {
			return
		}
		seen[model] = struct{}{}
		if gate.IsHeavy(model) {
			heavy = append(heavy, model)
		} else {
			light = append(light, model)
		}
	}
	for _, mode := range committee.Modes {
		for _, id := range mode.ModelIDs() {
			add(id)
		}
	}
	if committee.Conductor.Model != "" {
		add(committee.Conductor.Model)
	}
	return schedule.New(heavy, light, nil)
}

func buildProbes(lexical *experts.LexicalExpert, semantic *experts.SemanticExpert, llmClient *llm.Client, store cache.Store) map[string]server.Probe {
	probes := map[string]server.Probe{
		"meili": lexical.Health,
		"llm":   llmClient.Health,
		"cache": func(ctx context.Context) bool { return store.Ping(ctx) == nil },
	}
	if semantic != nil {
		probes["qdrant"] = func(ctx context.Context) bool { return semantic.Healthy(ctx) == nil }
	} else {
		probes["qdrant"] = func(context.Context) bool { return false }
	}
	return probes
}

// prewarmLoop keeps the plan's models loaded ahead of demand. Each tick asks
// the scheduler what the current hour needs and warms exactly that set.
func prewarmLoop(ctx context.Context, interval time.Duration, sched *schedule.Scheduler, warmer *llm.Client, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			plan := sched.Predict()
			if len(plan.PreloadModels) == 0 {
				continue
			}
			logger.Debug("prewarming models", "models", plan.PreloadModels, "peak", plan.Explain.Peak)
			warmCtx, cancel := context.WithTimeout(ctx, interval)
			warmer.Prewarm(warmCtx, plan.PreloadModels)
			cancel()
		}
	}
}
