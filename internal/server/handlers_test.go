package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestre-ai/cortex/internal/consensus"
	"github.com/orchestre-ai/cortex/internal/gate"
	"github.com/orchestre-ai/cortex/internal/ratelimit"
	"github.com/orchestre-ai/cortex/internal/router"
	"github.com/orchestre-ai/cortex/internal/schedule"
	"github.com/orchestre-ai/cortex/internal/testutil"
)

type fakeRouter struct {
	resp *router.Response
	err  error
}

func (f *fakeRouter) Route(_ context.Context, query string, _ int) (*router.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	resp := *f.resp
	resp.Answer = "réponse pour " + query
	return &resp, nil
}

type fakeVoter struct {
	outcome consensus.Outcome
	err     error
	lastReq struct {
		prompt, userContext, mode string
	}
}

func (f *fakeVoter) Vote(_ context.Context, prompt, userContext, mode string) (consensus.Outcome, error) {
	f.lastReq.prompt, f.lastReq.userContext, f.lastReq.mode = prompt, userContext, mode
	if f.err != nil {
		return consensus.Outcome{}, f.err
	}
	return f.outcome, nil
}

type fakeWarmer struct {
	models []string
}

func (f *fakeWarmer) Prewarm(_ context.Context, models []string) {
	f.models = models
}

func upProbe(context.Context) bool   { return true }
func downProbe(context.Context) bool { return false }

type serverOpts struct {
	llmDown bool
	gate    *gate.Gate
	limiter ratelimit.Limiter
	voter   *fakeVoter
	warmer  *fakeWarmer
}

func newTestServer(t *testing.T, opts serverOpts) *Server {
	t.Helper()
	llmProbe := upProbe
	if opts.llmDown {
		llmProbe = downProbe
	}
	if opts.voter == nil {
		opts.voter = &fakeVoter{outcome: consensus.Outcome{Status: "ok", FinalAnswer: "synthèse", Confidence: 0.7, Mode: "interactive"}}
	}
	if opts.warmer == nil {
		opts.warmer = &fakeWarmer{}
	}
	fixed := func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local) }

	return New(ServerConfig{
		Router:    &fakeRouter{resp: &router.Response{FusionMethod: "rrf_adaptive"}},
		Voter:     opts.voter,
		Scheduler: schedule.New([]string{"qwen2.5:32b"}, []string{"mistral:7b"}, fixed),
		Warmer:    opts.warmer,
		Probes: map[string]Probe{
			"meili":  upProbe,
			"qdrant": upProbe,
			"llm":    llmProbe,
			"cache":  downProbe,
		},
		Gate:                opts.gate,
		Limiter:             opts.limiter,
		Logger:              testutil.DiscardLogger(),
		Port:                0,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
}

func doRequest(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealthAllUp(t *testing.T) {
	s := newTestServer(t, serverOpts{gate: gate.New(1)})
	rec := doRequest(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Deps["llm"])
	assert.False(t, resp.Deps["cache"], "cache probe is down in this fixture")
	assert.Equal(t, "precision", resp.SuggestedMode)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHandleHealthLLMDown(t *testing.T) {
	s := newTestServer(t, serverOpts{llmDown: true})
	rec := doRequest(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "interactive", resp.SuggestedMode)
}

func TestHandleHealthBusyGate(t *testing.T) {
	g := gate.New(1)
	release, err := g.Acquire(context.Background(), "qwen2.5:32b")
	require.NoError(t, err)
	defer release()

	s := newTestServer(t, serverOpts{gate: g})
	rec := doRequest(t, s, http.MethodGet, "/health", "")

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status, "a busy gate does not degrade health")
	assert.Equal(t, "interactive", resp.SuggestedMode)
}

func TestHandleRoute(t *testing.T) {
	s := newTestServer(t, serverOpts{})
	rec := doRequest(t, s, http.MethodGet, "/route?q=architecture&k=3", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp router.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "réponse pour architecture", resp.Answer)
	assert.Equal(t, "rrf_adaptive", resp.FusionMethod)
}

func TestHandleRouteMissingQuery(t *testing.T) {
	s := newTestServer(t, serverOpts{})
	rec := doRequest(t, s, http.MethodGet, "/route", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")
}

func TestHandleRouteBadK(t *testing.T) {
	s := newTestServer(t, serverOpts{})
	rec := doRequest(t, s, http.MethodGet, "/route?q=x&k=beaucoup", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleVote(t *testing.T) {
	voter := &fakeVoter{outcome: consensus.Outcome{Status: "ok", FinalAnswer: "synthèse", Confidence: 0.85, Mode: "precision"}}
	s := newTestServer(t, serverOpts{voter: voter})

	rec := doRequest(t, s, http.MethodPost, "/vote", `{"prompt":"Quelle architecture ?","mode":"precision"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var out consensus.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "synthèse", out.FinalAnswer)
	assert.Equal(t, "precision", voter.lastReq.mode)
}

func TestHandleVoteDefaultsMode(t *testing.T) {
	voter := &fakeVoter{}
	s := newTestServer(t, serverOpts{voter: voter})

	rec := doRequest(t, s, http.MethodPost, "/vote", `{"prompt":"q"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "interactive", voter.lastReq.mode)
}

func TestHandleVoteUnknownMode(t *testing.T) {
	voter := &fakeVoter{err: consensus.ErrUnknownMode}
	s := newTestServer(t, serverOpts{voter: voter})

	rec := doRequest(t, s, http.MethodPost, "/vote", `{"prompt":"q","mode":"turbo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown_mode")
}

func TestHandleVoteValidation(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	rec := doRequest(t, s, http.MethodPost, "/vote", `{"prompt":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/vote", `{"prompt":"q","surprise":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown body fields are rejected")

	rec = doRequest(t, s, http.MethodPost, "/vote", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleVoteRateLimited(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(1)
	defer func() { _ = limiter.Close() }()
	s := newTestServer(t, serverOpts{limiter: limiter})

	rec := doRequest(t, s, http.MethodPost, "/vote", `{"prompt":"q"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/vote", `{"prompt":"q"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Other endpoints stay unthrottled.
	rec = doRequest(t, s, http.MethodGet, "/route?q=x", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleSchedulePredict(t *testing.T) {
	s := newTestServer(t, serverOpts{})
	rec := doRequest(t, s, http.MethodGet, "/schedule/predict", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var plan schedule.Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	assert.True(t, plan.Explain.Peak, "fixture clock sits at 09:00")
	assert.Contains(t, plan.PreloadModels, "qwen2.5:32b")
}

func TestHandleModelsSwap(t *testing.T) {
	warmer := &fakeWarmer{}
	s := newTestServer(t, serverOpts{warmer: warmer})

	rec := doRequest(t, s, http.MethodPost, "/models/swap", `{"prewarm":["qwen2.5:32b","mistral:7b"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp swapResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, []string{"qwen2.5:32b", "mistral:7b"}, resp.Models)
	assert.Equal(t, []string{"qwen2.5:32b", "mistral:7b"}, warmer.models)
}

func TestHandleModelsSwapEmpty(t *testing.T) {
	s := newTestServer(t, serverOpts{})
	rec := doRequest(t, s, http.MethodPost, "/models/swap", `{"prewarm":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, serverOpts{})
	rec := doRequest(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDPropagated(t *testing.T) {
	s := newTestServer(t, serverOpts{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-ID"))
}
