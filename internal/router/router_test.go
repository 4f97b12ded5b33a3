package router

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestre-ai/cortex/internal/cache"
	"github.com/orchestre-ai/cortex/internal/embedding"
	"github.com/orchestre-ai/cortex/internal/experts"
	"github.com/orchestre-ai/cortex/internal/fusion"
)

// fakeExpert returns a fixed bucket and counts invocations.
type fakeExpert struct {
	tag   string
	docs  []fusion.Document
	calls atomic.Int64
}

func (f *fakeExpert) Tag() string { return f.tag }

func (f *fakeExpert) Search(context.Context, string, int) []fusion.Document {
	f.calls.Add(1)
	return f.docs
}

func fakeDoc(id, text string) fusion.Document {
	return fusion.Document{ID: id, Text: text, Source: "src/" + id}
}

func newTestRouter(exps ...experts.Expert) *Router {
	return New(exps, Config{TopK: 5}, nil, nil, nil, nil)
}

func TestRouteFusesExpertBuckets(t *testing.T) {
	lex := &fakeExpert{tag: experts.TagLexical, docs: []fusion.Document{
		fakeDoc("d1", "réponse lexicale une"), fakeDoc("d2", "réponse lexicale deux"),
	}}
	sem := &fakeExpert{tag: experts.TagSemantic, docs: []fusion.Document{
		fakeDoc("d2", "réponse lexicale deux"), fakeDoc("d3", "réponse sémantique"),
	}}
	tmp := &fakeExpert{tag: experts.TagTemporal}
	r := New([]experts.Expert{lex, sem, tmp}, Config{TopK: 5}, nil, nil, nil, nil)

	resp, err := r.Route(context.Background(), "architecture du système", 0)
	require.NoError(t, err)

	assert.Equal(t, ClassDefault, resp.QueryType)
	assert.Equal(t, "rrf_adaptive", resp.FusionMethod)
	assert.Equal(t, Weights(ClassDefault), resp.FusionWeights)
	assert.False(t, resp.CacheHit)

	// Temporal returned nothing, so only two experts contributed.
	assert.Equal(t, []string{"lexical", "semantic"}, resp.ExpertsUsed)

	// d2 appears in both buckets and must rank first.
	require.NotEmpty(t, resp.Sources)
	assert.Equal(t, "d2", resp.Sources[0].ID)
	assert.ElementsMatch(t, []string{"lexical", "semantic"}, resp.Sources[0].Experts)

	assert.Contains(t, resp.Answer, "réponse lexicale deux")
	assert.Contains(t, resp.Answer, "src/d2")
}

func TestRouteSkipsZeroWeightExperts(t *testing.T) {
	lex := &fakeExpert{tag: experts.TagLexical, docs: []fusion.Document{fakeDoc("a", "t")}}
	off := &fakeExpert{tag: "custom"} // not in any weight row → weight 0
	r := newTestRouter(lex, off)

	_, err := r.Route(context.Background(), "architecture du système", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, lex.calls.Load())
	assert.EqualValues(t, 0, off.calls.Load(), "zero-weight expert must not be invoked")
}

func TestRouteAdaptiveOverrideForTwoExperts(t *testing.T) {
	lex := &fakeExpert{tag: experts.TagLexical, docs: []fusion.Document{fakeDoc("a", "t")}}
	sem := &fakeExpert{tag: experts.TagSemantic, docs: []fusion.Document{fakeDoc("b", "u")}}
	r := newTestRouter(lex, sem)

	resp, err := r.Route(context.Background(), "qdrant", 0)
	require.NoError(t, err)
	assert.Equal(t, 0.7, resp.FusionWeights["lexical"], "short query favors lexical")

	resp, err = r.Route(context.Background(), "comment configurer la collection qdrant pour le routage sémantique", 0)
	require.NoError(t, err)
	assert.Equal(t, 0.7, resp.FusionWeights["semantic"], "long query favors semantic")
}

func TestRouteTopKLimit(t *testing.T) {
	docs := make([]fusion.Document, 10)
	for i := range docs {
		docs[i] = fakeDoc(string(rune('a'+i)), "texte")
	}
	lex := &fakeExpert{tag: experts.TagLexical, docs: docs}
	r := newTestRouter(lex)

	resp, err := r.Route(context.Background(), "architecture", 3)
	require.NoError(t, err)
	assert.Len(t, resp.Sources, 3)
}

func TestRouteEmptyQuery(t *testing.T) {
	r := newTestRouter()
	_, err := r.Route(context.Background(), "  ", 0)
	assert.Error(t, err)
}

func TestRouteNoSources(t *testing.T) {
	r := newTestRouter(&fakeExpert{tag: experts.TagLexical})
	resp, err := r.Route(context.Background(), "introuvable", 0)
	require.NoError(t, err)
	assert.Empty(t, resp.Sources)
	assert.Contains(t, resp.Answer, "Aucune source")
}

func TestRouteSemanticCacheRoundTrip(t *testing.T) {
	embedder := embedding.NewHashProvider(64)
	store := cache.NewMemoryStore()
	semCache := cache.NewSemantic(store, embedder, 0.93, 200, time.Hour, nil)

	lex := &fakeExpert{tag: experts.TagLexical, docs: []fusion.Document{fakeDoc("d1", "contenu")}}
	r := New([]experts.Expert{lex}, Config{TopK: 5}, semCache, embedder, nil, nil)

	first, err := r.Route(context.Background(), "architecture du système", 0)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := r.Route(context.Background(), "architecture du système", 0)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Answer, second.Answer)
	assert.EqualValues(t, 1, lex.calls.Load(), "cache hit must not invoke experts")
}

func TestFrameAnswerQuotesTopThree(t *testing.T) {
	sources := []fusion.FusedDocument{
		{Document: fakeDoc("1", "premier"), FinalScore: 3},
		{Document: fakeDoc("2", "deuxième"), FinalScore: 2},
		{Document: fakeDoc("3", "troisième"), FinalScore: 1},
		{Document: fakeDoc("4", "quatrième"), FinalScore: 0.5},
	}
	out := FrameAnswer("q", sources)
	assert.Contains(t, out, "premier")
	assert.Contains(t, out, "troisième")
	assert.NotContains(t, out, "quatrième")

	// Deterministic.
	assert.Equal(t, out, FrameAnswer("q", sources))
}
