package router

import "strings"

// QueryClass selects the weight row used for fusion.
type QueryClass string

// Query classes, from most to least specific.
const (
	ClassFactual    QueryClass = "factual"
	ClassConceptual QueryClass = "conceptual"
	ClassRecent     QueryClass = "recent"
	ClassDefault    QueryClass = "default"
)

// Keyword tables for deterministic classification. The corpus is French;
// year tokens catch "actualité 2025"-style phrasing regardless of wording.
var (
	recentMarkers     = []string{"récent", "dernier", "nouveau", "aujourd'hui", "2024", "2025", "2026"}
	factualMarkers    = []string{"qui est", "qu'est-ce", "définition", "combien", "quand"}
	conceptualMarkers = []string{"pourquoi", "comment", "expliquer", "concept", "principe"}
)

// Classify buckets a query by keyword inspection of its lowercased text.
// Recency wins over factual wins over conceptual; anything else is default.
func Classify(query string) QueryClass {
	q := strings.ToLower(query)
	switch {
	case containsAny(q, recentMarkers):
		return ClassRecent
	case containsAny(q, factualMarkers):
		return ClassFactual
	case containsAny(q, conceptualMarkers):
		return ClassConceptual
	default:
		return ClassDefault
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// weightTable is the fixed per-class expert weighting.
var weightTable = map[QueryClass]map[string]float64{
	ClassFactual:    {"lexical": 0.4, "semantic": 0.3, "temporal": 0.2, "graph": 0.1},
	ClassConceptual: {"lexical": 0.2, "semantic": 0.5, "temporal": 0.15, "graph": 0.15},
	ClassRecent:     {"lexical": 0.25, "semantic": 0.2, "temporal": 0.5, "graph": 0.05},
	ClassDefault:    {"lexical": 0.35, "semantic": 0.35, "temporal": 0.2, "graph": 0.1},
}

// Weights returns a copy of the weight row for class.
func Weights(class QueryClass) map[string]float64 {
	row, ok := weightTable[class]
	if !ok {
		row = weightTable[ClassDefault]
	}
	out := make(map[string]float64, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// Thresholds below which a query counts as short for the adaptive override.
const (
	shortQueryChars  = 20
	shortQueryTokens = 3
)

// AdaptiveWeights is the two-expert override used when only the lexical and
// semantic experts are configured: short queries favor exact term matching,
// long ones favor embeddings.
func AdaptiveWeights(query string) map[string]float64 {
	if len(query) <= shortQueryChars || len(strings.Fields(query)) <= shortQueryTokens {
		return map[string]float64{"lexical": 0.7, "semantic": 0.3}
	}
	return map[string]float64{"lexical": 0.3, "semantic": 0.7}
}
