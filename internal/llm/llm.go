// Package llm provides a client for an Ollama-compatible text generation API.
//
// Failures never panic across the boundary: every call returns an error whose
// Sentinel() form ("[ERROR ...]" / "[TIMEOUT_<s>s]") can travel inline inside
// vote answers, matching the wire format downstream consumers already parse.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Generator is the surface the consensus engine and router depend on.
// *Client implements it; tests substitute fakes.
type Generator interface {
	// Generate produces a completion for prompt on the given model,
	// bounded by timeout. The returned text is trimmed and non-empty on
	// success.
	Generate(ctx context.Context, model, prompt string, opts Options, timeout time.Duration) (string, error)

	// Prewarm sends a trivial one-token request to each unique model so
	// model-load latency is paid before a deadline clock starts.
	// Best-effort: failures are ignored.
	Prewarm(ctx context.Context, models []string)
}

// Options carries generation parameters for a single call.
// Zero TopP and RepeatPenalty fall back to 0.9 and 1.1; zero MaxTokens
// leaves the backend's default in place. Temperature is sent as-is
// (zero means greedy decoding).
type Options struct {
	MaxTokens     int
	Temperature   float64
	TopP          float64
	RepeatPenalty float64
}

func (o Options) withDefaults() Options {
	if o.TopP == 0 {
		o.TopP = 0.9
	}
	if o.RepeatPenalty == 0 {
		o.RepeatPenalty = 1.1
	}
	return o
}

// ErrorKind classifies a generation failure.
type ErrorKind int

const (
	// KindBackend covers HTTP errors, connection failures and malformed
	// responses. Eligible for one retry.
	KindBackend ErrorKind = iota
	// KindTimeout means the per-call budget elapsed. Never retried.
	KindTimeout
)

// Error is a generation failure with enough context to render the inline
// sentinel form.
type Error struct {
	Kind    ErrorKind
	Model   string
	Timeout time.Duration // budget that elapsed, for KindTimeout
	Err     error
}

func (e *Error) Error() string {
	if e.Kind == KindTimeout {
		return fmt.Sprintf("llm: %s: timeout after %s", e.Model, e.Timeout)
	}
	return fmt.Sprintf("llm: %s: %v", e.Model, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Sentinel renders the failure as the inline string carried inside vote
// answers: "[TIMEOUT_45s]" or "[ERROR ...]".
func (e *Error) Sentinel() string {
	if e.Kind == KindTimeout {
		return fmt.Sprintf("[TIMEOUT_%ds]", int(e.Timeout.Seconds()))
	}
	return fmt.Sprintf("[ERROR %v]", e.Err)
}

// IsSentinel reports whether s is an inline failure marker rather than a
// real answer.
func IsSentinel(s string) bool {
	return strings.HasPrefix(s, "[ERROR") || strings.HasPrefix(s, "[TIMEOUT")
}
