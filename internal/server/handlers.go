package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/orchestre-ai/cortex/internal/consensus"
	"github.com/orchestre-ai/cortex/internal/gate"
	"github.com/orchestre-ai/cortex/internal/metrics"
	"github.com/orchestre-ai/cortex/internal/router"
	"github.com/orchestre-ai/cortex/internal/schedule"
)

// Router answers retrieval queries. *router.Router implements it.
type Router interface {
	Route(ctx context.Context, query string, k int) (*router.Response, error)
}

// Voter runs consensus votes. *consensus.Engine implements it.
type Voter interface {
	Vote(ctx context.Context, prompt, userContext, mode string) (consensus.Outcome, error)
}

// Predictor produces capacity plans. *schedule.Scheduler implements it.
type Predictor interface {
	Predict() schedule.Plan
}

// Warmer loads models ahead of demand. *llm.Client implements it.
type Warmer interface {
	Prewarm(ctx context.Context, models []string)
}

// Probe reports one dependency's liveness within ctx's budget.
type Probe func(ctx context.Context) bool

// probeTimeout bounds each health probe so a dead backend cannot stall
// the endpoint.
const probeTimeout = 2 * time.Second

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	router              Router
	votes               Voter
	scheduler           Predictor
	warmer              Warmer
	probes              map[string]Probe
	gate                *gate.Gate
	metrics             *metrics.Metrics
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Scheduler, Warmer, Probes, Gate, Metrics, OpenAPISpec.
type HandlersDeps struct {
	Router              Router
	Voter               Voter
	Scheduler           Predictor
	Warmer              Warmer
	Probes              map[string]Probe
	Gate                *gate.Gate
	Metrics             *metrics.Metrics
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		router:              d.Router,
		votes:               d.Voter,
		scheduler:           d.Scheduler,
		warmer:              d.Warmer,
		probes:              d.Probes,
		gate:                d.Gate,
		metrics:             d.Metrics,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		openapiSpec:         d.OpenAPISpec,
	}
}

type healthResponse struct {
	Status        string          `json:"status"`
	Version       string          `json:"version,omitempty"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Deps          map[string]bool `json:"deps"`
	SuggestedMode string          `json:"suggested_mode"`
}

// HandleHealth handles GET /health. Dependencies are probed concurrently;
// the overall status follows the LLM backend since nothing useful happens
// without it.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	deps := make(map[string]bool, len(h.probes))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, probe := range h.probes {
		wg.Add(1)
		go func(name string, probe Probe) {
			defer wg.Done()
			up := probe(ctx)
			mu.Lock()
			deps[name] = up
			mu.Unlock()
		}(name, probe)
	}
	wg.Wait()

	status := "ok"
	if !deps["llm"] {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Deps:          deps,
		SuggestedMode: h.suggestedMode(deps["llm"]),
	})
}

// suggestedMode recommends precision only when the backend is up and no
// heavy call is in flight; otherwise the caller is better served by the
// light committee.
func (h *Handlers) suggestedMode(llmUp bool) string {
	if !llmUp {
		return "interactive"
	}
	if h.gate != nil {
		if inUse, _ := h.gate.Metrics(); inUse > 0 {
			return "interactive"
		}
	}
	return "precision"
}

// HandleRoute handles GET /route?q=<query>&k=<int>.
func (h *Handlers) HandleRoute(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "query parameter q is required")
		return
	}

	k := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "k must be a non-negative integer")
			return
		}
		k = n
	}

	resp, err := h.router.Route(r.Context(), query, k)
	if err != nil {
		h.metrics.RouteError()
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type voteRequest struct {
	Prompt  string `json:"prompt"`
	Context string `json:"context"`
	Mode    string `json:"mode"`
}

// HandleVote handles POST /vote. Configuration problems map to 4xx; a
// timeout outcome is still a 200 with status=timeout, per the wire contract.
func (h *Handlers) HandleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "prompt is required")
		return
	}
	if req.Mode == "" {
		req.Mode = "interactive"
	}

	outcome, err := h.votes.Vote(r.Context(), req.Prompt, req.Context, req.Mode)
	if err != nil {
		if errors.Is(err, consensus.ErrUnknownMode) {
			writeError(w, r, http.StatusBadRequest, "unknown_mode", err.Error())
			return
		}
		// Unreadable or invalid committee file. Still the caller's 4xx per
		// the error taxonomy: the request named a configuration that cannot
		// be served.
		writeError(w, r, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// HandleSchedulePredict handles GET /schedule/predict.
func (h *Handlers) HandleSchedulePredict(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "scheduler disabled")
		return
	}
	writeJSON(w, http.StatusOK, h.scheduler.Predict())
}

type swapRequest struct {
	Prewarm []string `json:"prewarm"`
}

type swapResponse struct {
	OK     bool     `json:"ok"`
	Models []string `json:"models"`
}

// HandleModelsSwap handles POST /models/swap: best-effort prewarm of the
// requested models. Responds after dispatch completes; prewarm itself never
// reports per-model failure.
func (h *Handlers) HandleModelsSwap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed JSON body: "+err.Error())
		return
	}
	if len(req.Prewarm) == 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "prewarm must name at least one model")
		return
	}
	if h.warmer != nil {
		h.warmer.Prewarm(r.Context(), req.Prewarm)
	}
	writeJSON(w, http.StatusOK, swapResponse{OK: true, Models: req.Prewarm})
}

// HandleOpenAPISpec serves the embedded OpenAPI document.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		writeError(w, r, http.StatusNotFound, "not_found", "openapi spec not embedded")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}
