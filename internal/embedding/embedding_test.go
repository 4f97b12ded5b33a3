package embedding

import (
	"context"
	"math"
	"testing"
)

func TestHashProviderDeterministic(t *testing.T) {
	p := NewHashProvider(384)

	a1, err := p.Embed(context.Background(), "bonjour le monde")
	if err != nil {
		t.Fatal(err)
	}
	a2, err := p.Embed(context.Background(), "bonjour le monde")
	if err != nil {
		t.Fatal(err)
	}

	if len(a1) != 384 {
		t.Fatalf("expected 384 dims, got %d", len(a1))
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatalf("identical texts must embed identically, differ at %d", i)
		}
	}
}

func TestHashProviderUnitNorm(t *testing.T) {
	p := NewHashProvider(256)
	vec, err := p.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatal(err)
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-4 {
		t.Errorf("expected unit norm, got %g", math.Sqrt(norm))
	}
}

func TestHashProviderDistinctTexts(t *testing.T) {
	p := NewHashProvider(256)
	a, _ := p.Embed(context.Background(), "première question")
	b, _ := p.Embed(context.Background(), "sujet complètement différent")

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	// Unit hash vectors of unrelated texts should be far from parallel.
	if dot > 0.5 {
		t.Errorf("distinct texts too similar: cosine %g", dot)
	}
}

func TestHashProviderBatch(t *testing.T) {
	p := NewHashProvider(64)
	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	if p.Dimensions() != 64 {
		t.Fatalf("expected 64 dims, got %d", p.Dimensions())
	}
}
