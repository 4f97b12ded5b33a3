// Package fusion implements rank aggregation for multi-expert retrieval:
// min-max score normalization, weighted reciprocal rank fusion and MMR
// diversification. Everything here is pure computation; no I/O.
package fusion

import (
	"math"
	"sort"
)

// DefaultK is the standard RRF smoothing constant.
const DefaultK = 60

// scoreEpsilon is the span under which min-max normalization collapses to a
// uniform 0.5.
const scoreEpsilon = 1e-9

// Document is one ranked hit from a retrieval expert.
type Document struct {
	ID     string  `json:"id"`
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
	Expert string  `json:"expert"`
}

// FusedDocument is a Document with its combined score and the set of experts
// that returned it.
type FusedDocument struct {
	Document
	FinalScore float64  `json:"final_score"`
	Experts    []string `json:"experts"`
}

// canonicalExperts fixes bucket iteration order so RRF ties resolve the same
// way regardless of map insertion order.
var canonicalExperts = []string{"lexical", "semantic", "temporal", "graph"}

// docKey is the fusion identity of a document: its ID when present, else its
// text.
func docKey(d Document) string {
	if d.ID != "" {
		return d.ID
	}
	return d.Text
}

// Normalize min-max scales scores into [0,1], returning a new slice. When all
// scores are within scoreEpsilon of each other every document gets 0.5.
func Normalize(docs []Document) []Document {
	if len(docs) == 0 {
		return nil
	}
	lo, hi := docs[0].Score, docs[0].Score
	for _, d := range docs[1:] {
		if d.Score < lo {
			lo = d.Score
		}
		if d.Score > hi {
			hi = d.Score
		}
	}

	out := make([]Document, len(docs))
	copy(out, docs)
	span := hi - lo
	for i := range out {
		if span < scoreEpsilon {
			out[i].Score = 0.5
		} else {
			out[i].Score = (out[i].Score - lo) / span
		}
	}
	return out
}

// WeightedRRF fuses per-expert ranked buckets. Each document at 1-based rank
// r in expert e contributes weights[e] / (k + r) to its fused score. Buckets
// are visited in canonical expert order (then alphabetically for unknown
// tags); ties keep first-appearance order. Experts absent from weights
// contribute zero.
func WeightedRRF(buckets map[string][]Document, weights map[string]float64, k int) []FusedDocument {
	if k <= 0 {
		k = DefaultK
	}

	type entry struct {
		doc     Document
		score   float64
		experts []string
	}
	byKey := make(map[string]*entry)
	var order []string

	for _, expert := range bucketOrder(buckets) {
		w := weights[expert]
		for i, doc := range buckets[expert] {
			key := docKey(doc)
			e, ok := byKey[key]
			if !ok {
				e = &entry{doc: doc}
				byKey[key] = e
				order = append(order, key)
			}
			e.score += w / float64(k+i+1)
			if !containsString(e.experts, expert) {
				e.experts = append(e.experts, expert)
			}
		}
	}

	fused := make([]FusedDocument, 0, len(order))
	for _, key := range order {
		e := byKey[key]
		fused = append(fused, FusedDocument{
			Document:   e.doc,
			FinalScore: e.score,
			Experts:    e.experts,
		})
	}
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].FinalScore > fused[j].FinalScore
	})
	return fused
}

func bucketOrder(buckets map[string][]Document) []string {
	seen := make(map[string]bool, len(buckets))
	order := make([]string, 0, len(buckets))
	for _, e := range canonicalExperts {
		if _, ok := buckets[e]; ok {
			order = append(order, e)
			seen[e] = true
		}
	}
	var rest []string
	for e := range buckets {
		if !seen[e] {
			rest = append(rest, e)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Dedup removes repeated documents by fusion identity, keeping the first
// occurrence. Idempotent.
func Dedup(docs []FusedDocument) []FusedDocument {
	seen := make(map[string]bool, len(docs))
	out := make([]FusedDocument, 0, len(docs))
	for _, d := range docs {
		key := docKey(d.Document)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	return out
}

// MMR greedily selects up to topK candidates maximizing
// (1-lambda)*relevance - lambda*maxSimilarity(selected), where relevance is
// the min-max-normalized fused score and similarity is embedding cosine.
// The first pick is pure relevance. embeddings is parallel to candidates;
// a nil embedding contributes zero similarity.
func MMR(candidates []FusedDocument, embeddings [][]float32, lambda float64, topK int) []FusedDocument {
	if len(candidates) == 0 || topK <= 0 {
		return nil
	}
	if topK > len(candidates) {
		topK = len(candidates)
	}

	rel := minMax(scoresOf(candidates))

	selected := make([]FusedDocument, 0, topK)
	selectedEmb := make([][]float32, 0, topK)
	remaining := make([]int, len(candidates))
	for i := range remaining {
		remaining[i] = i
	}

	for len(selected) < topK {
		bestPos, bestScore := -1, math.Inf(-1)
		for pos, idx := range remaining {
			score := rel[idx]
			if len(selected) > 0 {
				var maxSim float64
				if embeddings != nil && embeddings[idx] != nil {
					for _, se := range selectedEmb {
						if se == nil {
							continue
						}
						if sim := Cosine(embeddings[idx], se); sim > maxSim {
							maxSim = sim
						}
					}
				}
				score = (1-lambda)*rel[idx] - lambda*maxSim
			}
			if score > bestScore {
				bestPos, bestScore = pos, score
			}
		}

		idx := remaining[bestPos]
		selected = append(selected, candidates[idx])
		if embeddings != nil {
			selectedEmb = append(selectedEmb, embeddings[idx])
		} else {
			selectedEmb = append(selectedEmb, nil)
		}
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}
	return selected
}

func scoresOf(docs []FusedDocument) []float64 {
	out := make([]float64, len(docs))
	for i, d := range docs {
		out[i] = d.FinalScore
	}
	return out
}

func minMax(vals []float64) []float64 {
	if len(vals) == 0 {
		return nil
	}
	lo, hi := vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	out := make([]float64, len(vals))
	span := hi - lo
	for i, v := range vals {
		if span < scoreEpsilon {
			out[i] = 0.5
		} else {
			out[i] = (v - lo) / span
		}
	}
	return out
}

// Cosine computes cosine similarity, treating a zero norm as 1.0 so the
// result degrades to 0 instead of dividing by zero.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		denom = 1.0
	}
	return dot / denom
}
