// Package consensus implements the committee voting engine: fan a prompt
// out to a committee of models, collect answers under a soft/grace/hard
// deadline policy, synthesize them through a conductor model and cache the
// outcome.
package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/orchestre-ai/cortex/internal/cache"
	"github.com/orchestre-ai/cortex/internal/gate"
	"github.com/orchestre-ai/cortex/internal/grounding"
	"github.com/orchestre-ai/cortex/internal/llm"
	"github.com/orchestre-ai/cortex/internal/metrics"
)

// Outcome statuses.
const (
	StatusOK      = "ok"
	StatusTimeout = "timeout"
)

// timeoutAnswer is the fixed answer when precision mode could not get a
// heavy vote before the hard deadline.
const timeoutAnswer = "Mode précision: 32B indisponible."

// conductorTimeout bounds the synthesis call regardless of mode deadlines.
const conductorTimeout = 10 * time.Second

// Vote is one committee member's contribution. A failed call keeps its
// sentinel string as the answer with Success=false.
type Vote struct {
	Role    string `json:"role"`
	Model   string `json:"model"`
	Answer  string `json:"answer"`
	Success bool   `json:"success"`
}

// Outcome is the result of a consensus vote.
type Outcome struct {
	Status         string  `json:"status"`
	FinalAnswer    string  `json:"final_answer"`
	Votes          []Vote  `json:"votes"`
	Confidence     float64 `json:"confidence"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Mode           string  `json:"mode"`
	CacheHit       bool    `json:"cache_hit"`
}

// Engine runs consensus votes. The exact cache and metrics are optional.
type Engine struct {
	llm        llm.Generator
	gate       *gate.Gate
	exact      *cache.Exact
	glossary   *grounding.Glossary
	configPath string
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates an engine reading mode configuration from configPath on every
// vote, so committee changes apply without a restart.
func New(generator llm.Generator, g *gate.Gate, exact *cache.Exact, glossary *grounding.Glossary, configPath string, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if glossary == nil {
		glossary, _ = grounding.Load("")
	}
	return &Engine{
		llm:        generator,
		gate:       g,
		exact:      exact,
		glossary:   glossary,
		configPath: configPath,
		metrics:    m,
		logger:     logger.With("component", "consensus"),
	}
}

// Vote runs the full pipeline for one prompt. Configuration problems
// (unreadable file, unknown mode) are the only errors; every backend
// failure is absorbed into the outcome.
func (e *Engine) Vote(ctx context.Context, prompt, userContext, mode string) (Outcome, error) {
	key := cache.ExactKey(prompt, userContext, mode, e.configPath)
	if e.exact != nil {
		var cached Outcome
		if e.exact.Get(ctx, key, &cached) {
			e.metrics.CacheHit("exact")
			cached.CacheHit = true
			return cached, nil
		}
		e.metrics.CacheMissed("exact")
	}

	file, err := LoadFile(e.configPath)
	if err != nil {
		e.metrics.VoteError()
		return Outcome{}, err
	}
	mc, err := file.Mode(mode)
	if err != nil {
		e.metrics.VoteError()
		return Outcome{}, err
	}

	// Pay model-load latency before the deadline clock starts.
	e.llm.Prewarm(ctx, mc.ModelIDs())

	grounded := e.glossary.BuildContext(userContext, e.glossary.Keys())

	start := time.Now()
	taskCtx, cancel := context.WithCancel(ctx)
	resCh := make(chan Vote, len(mc.Committee))
	for _, member := range mc.Committee {
		go e.runMember(taskCtx, member, grounded, prompt, resCh)
	}

	votes := e.collect(ctx, resCh, mc, start)
	cancel() // CLOSED: pending tasks observe this at their next call boundary.

	for _, v := range votes {
		e.metrics.Vote(v.Success)
	}

	var outcome Outcome
	if mc.RequireHeavy && !hasHeavySuccess(votes) {
		e.metrics.VoteError()
		outcome = Outcome{
			Status:      StatusTimeout,
			FinalAnswer: timeoutAnswer,
			Votes:       votes,
			Confidence:  0.0,
			Mode:        mode,
		}
	} else {
		outcome = Outcome{
			Status:      StatusOK,
			FinalAnswer: e.synthesize(ctx, file.Conductor, mc, grounded, votes),
			Votes:       votes,
			Confidence:  confidence(mc, votes),
			Mode:        mode,
		}
	}
	outcome.ElapsedSeconds = round2(time.Since(start).Seconds())

	if e.exact != nil {
		// Timeout outcomes are cached too: a stampede of identical prompts
		// must not pile onto a heavy model that just proved unavailable.
		e.exact.Set(ctx, key, outcome)
	}
	e.metrics.ObserveLatency("vote", time.Since(start).Seconds())
	return outcome, nil
}

// runMember executes one committee call. Heavy models hold the gate for the
// duration of the call; cancellation while waiting produces no vote.
func (e *Engine) runMember(ctx context.Context, member Member, grounded, prompt string, out chan<- Vote) {
	release, err := e.gate.Acquire(ctx, member.Model)
	if err != nil {
		return
	}
	defer release()

	full := member.System + "\n" + grounded + "\n\nQuestion: " + prompt
	text, err := e.llm.Generate(ctx, member.Model, full, llm.Options{
		MaxTokens:     member.MaxTokens,
		Temperature:   member.Temperature,
		TopP:          member.TopP,
		RepeatPenalty: member.RepeatPenalty,
	}, member.Timeout())
	if err != nil {
		var genErr *llm.Error
		if !errors.As(err, &genErr) {
			// Canceled or deadline from the vote itself: discard silently.
			return
		}
		// Adapter failures stay in the outcome as sentinel votes.
		out <- Vote{Role: member.Role, Model: member.Model, Answer: genErr.Sentinel(), Success: false}
		return
	}
	out <- Vote{Role: member.Role, Model: member.Model, Answer: text, Success: true}
}

// collect drives the deadline state machine: SOFT waits for the first
// completion, GRACE and HARD only open when a required heavy vote is still
// missing.
func (e *Engine) collect(ctx context.Context, resCh <-chan Vote, mc ModeConfig, start time.Time) []Vote {
	total := len(mc.Committee)
	var votes []Vote

	// SOFT: first completion or the soft deadline, whichever comes first,
	// then everything already available.
	votes = append(votes, waitVotes(ctx, resCh, 1, mc.Soft())...)
	votes = append(votes, drainVotes(resCh)...)

	if !mc.RequireHeavy || hasHeavySuccess(votes) || len(votes) == total {
		return votes
	}

	// GRACE: an extra window for still-pending tasks.
	e.logger.Debug("entering grace window", "have", len(votes), "of", total)
	votes = append(votes, waitVotes(ctx, resCh, total-len(votes), mc.Grace())...)

	if hasHeavySuccess(votes) || len(votes) == total {
		return votes
	}

	// HARD: everything left until hard-deadline from fan-out start.
	e.logger.Debug("entering hard window", "have", len(votes), "of", total)
	votes = append(votes, waitVotes(ctx, resCh, total-len(votes), time.Until(start.Add(mc.Hard())))...)
	return votes
}

// waitVotes receives up to n votes within d. Context cancellation ends the
// wait early.
func waitVotes(ctx context.Context, ch <-chan Vote, n int, d time.Duration) []Vote {
	if n <= 0 || d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	var got []Vote
	for len(got) < n {
		select {
		case v := <-ch:
			got = append(got, v)
		case <-timer.C:
			return got
		case <-ctx.Done():
			return got
		}
	}
	return got
}

// drainVotes collects whatever is immediately available.
func drainVotes(ch <-chan Vote) []Vote {
	var got []Vote
	for {
		select {
		case v := <-ch:
			got = append(got, v)
		default:
			return got
		}
	}
}

// synthesize produces the final answer from the successful votes. A single-
// member committee skips the conductor; a conductor failure keeps its
// sentinel as the answer (sentinels are data until the outer boundary).
func (e *Engine) synthesize(ctx context.Context, conductor Member, mc ModeConfig, grounded string, votes []Vote) string {
	successes := successfulVotes(votes)
	if len(successes) == 0 {
		return ""
	}
	if len(mc.Committee) == 1 && len(successes) == 1 {
		return successes[0].Answer
	}

	serialized, err := json.Marshal(successes)
	if err != nil {
		e.logger.Warn("conductor skipped: marshal votes", "error", err)
		return successes[0].Answer
	}
	prompt := fmt.Sprintf("%s\nContext:\n%s\n\nRéponses du comité:\n%s\n\nProduis une synthèse courte et fidèle au contexte.",
		conductor.System, grounded, serialized)

	text, err := e.llm.Generate(ctx, conductor.Model, prompt, llm.Options{
		MaxTokens:   conductor.MaxTokens,
		Temperature: conductor.Temperature,
	}, conductorTimeout)
	if err != nil {
		var genErr *llm.Error
		if errors.As(err, &genErr) {
			e.logger.Warn("conductor failed", "error", err)
			return genErr.Sentinel()
		}
		return successes[0].Answer
	}
	return text
}

// confidence reflects committee composition, not answer agreement: a heavy
// success raises the base, a single-member committee gets a fixed 0.9.
func confidence(mc ModeConfig, votes []Vote) float64 {
	successes := successfulVotes(votes)
	if len(mc.Committee) == 1 && len(successes) == 1 {
		return 0.9
	}
	base := 0.55
	if hasHeavySuccess(votes) {
		base = 0.70
	}
	return round2(math.Min(0.95, base+0.15))
}

func hasHeavySuccess(votes []Vote) bool {
	for _, v := range votes {
		if v.Success && gate.IsHeavy(v.Model) {
			return true
		}
	}
	return false
}

func successfulVotes(votes []Vote) []Vote {
	var out []Vote
	for _, v := range votes {
		if v.Success {
			out = append(out, v)
		}
	}
	return out
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
