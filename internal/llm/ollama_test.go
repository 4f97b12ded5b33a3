package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func generateHandler(t *testing.T, reply func(req generateRequest) string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := json.NewEncoder(w).Encode(generateResponse{Response: reply(req)}); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}
}

func TestGenerate(t *testing.T) {
	var got generateRequest
	server := httptest.NewServer(generateHandler(t, func(req generateRequest) string {
		got = req
		return "  the answer\n"
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)
	text, err := c.Generate(context.Background(), "test-model", "question?", Options{MaxTokens: 64, Temperature: 0.2}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if text != "the answer" {
		t.Errorf("expected trimmed answer, got %q", text)
	}
	if got.Stream {
		t.Error("stream should be false")
	}
	if got.Options.NumPredict != 64 {
		t.Errorf("expected num_predict 64, got %d", got.Options.NumPredict)
	}
	// Unset sampling knobs take their documented defaults.
	if got.Options.TopP != 0.9 {
		t.Errorf("expected default top_p 0.9, got %g", got.Options.TopP)
	}
	if got.Options.RepeatPenalty != 1.1 {
		t.Errorf("expected default repeat_penalty 1.1, got %g", got.Options.RepeatPenalty)
	}
}

func TestGenerateBackendError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model not found", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)
	_, err := c.Generate(context.Background(), "bad", "q", Options{}, time.Second)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var genErr *Error
	if !errors.As(err, &genErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if genErr.Kind != KindBackend {
		t.Errorf("expected KindBackend, got %d", genErr.Kind)
	}
	if !strings.HasPrefix(genErr.Sentinel(), "[ERROR") {
		t.Errorf("unexpected sentinel: %q", genErr.Sentinel())
	}
	// One retry after the initial failure, no more.
	if n := calls.Load(); n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}
}

func TestGenerateRetrySucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "recovered"})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)
	text, err := c.Generate(context.Background(), "m", "q", Options{}, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if text != "recovered" {
		t.Errorf("expected recovered answer, got %q", text)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}
}

func TestGenerateTimeoutNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)
	_, err := c.Generate(context.Background(), "slow", "q", Options{}, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	var genErr *Error
	if !errors.As(err, &genErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if genErr.Kind != KindTimeout {
		t.Errorf("expected KindTimeout, got %d", genErr.Kind)
	}
	if !strings.HasPrefix(genErr.Sentinel(), "[TIMEOUT_") {
		t.Errorf("unexpected sentinel: %q", genErr.Sentinel())
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("timeouts must not be retried, got %d attempts", n)
	}
}

func TestGenerateParentCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	c := NewClient(server.URL, nil)
	_, err := c.Generate(ctx, "m", "q", Options{}, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPrewarmDedupes(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	server := httptest.NewServer(generateHandler(t, func(req generateRequest) string {
		mu.Lock()
		seen[req.Model]++
		mu.Unlock()
		return "ok"
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)
	c.Prewarm(context.Background(), []string{"a", "b", "a", "", "b"})

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen["a"] != 1 || seen["b"] != 1 {
		t.Errorf("expected one prewarm per unique model, got %v", seen)
	}
}

func TestPrewarmIgnoresFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "loading", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)
	// Must return without error or panic.
	c.Prewarm(context.Background(), []string{"a"})
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)
	if !c.Health(context.Background()) {
		t.Error("expected healthy")
	}

	server.Close()
	if c.Health(context.Background()) {
		t.Error("expected unhealthy after server close")
	}
}

func TestIsSentinel(t *testing.T) {
	for _, s := range []string{"[ERROR status 500]", "[TIMEOUT_45s]"} {
		if !IsSentinel(s) {
			t.Errorf("expected %q to be a sentinel", s)
		}
	}
	if IsSentinel("a real answer") {
		t.Error("real answers are not sentinels")
	}
}
