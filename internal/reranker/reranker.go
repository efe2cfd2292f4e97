// Package reranker orders retrieved documents by LLM judgment.
//
// Reranking sees the query and every candidate document together, which
// gives it more signal than vector similarity scores alone. There is no
// fallback to input order on failure: a parse error, timeout, or empty
// model response surfaces as a *FailureError instead of silently
// keeping the vector ranking.
package reranker

import (
	"context"

	"github.com/knoguchi/docchat/internal/docmodel"
)

// Reranker defines the interface for re-ranking retrieved documents.
type Reranker interface {
	// Rerank takes a query and a deduplicated document list, and returns
	// up to returnK of them reordered by relevance.
	Rerank(ctx context.Context, query string, docs []docmodel.Document, returnK int) ([]docmodel.Document, error)
}
