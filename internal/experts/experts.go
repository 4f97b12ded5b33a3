// Package experts provides the per-source retrieval adapters behind the
// MoME router.
//
// Every expert follows the same contract: Search enforces its own timeout
// and returns an empty bucket on any failure. An empty bucket is a
// first-class value (the fusion kernel simply gets one fewer contributor),
// so no error crosses this boundary.
package experts

import (
	"context"

	"github.com/orchestre-ai/cortex/internal/fusion"
)

// Expert tags, also the keys of the router's weight tables.
const (
	TagLexical  = "lexical"
	TagSemantic = "semantic"
	TagTemporal = "temporal"
	TagGraph    = "graph"
)

// Expert is a single retrieval source. Implementations must be safe for
// concurrent use.
type Expert interface {
	// Tag identifies the expert in weight tables and fused results.
	Tag() string

	// Search returns up to k documents ranked best-first. Failures and
	// timeouts yield an empty slice, never an error.
	Search(ctx context.Context, query string, k int) []fusion.Document
}
