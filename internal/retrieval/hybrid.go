package retrieval

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/knoguchi/docchat/internal/sparse"
	"github.com/knoguchi/docchat/internal/vectorstore"
)

// HybridConfig configures the Hybrid Searcher.
type HybridConfig struct {
	Collections              []string
	DenseVectorName          string
	SparseVectorName         string
	PrefetchLimit            int
	RRFK                     int
	QueryTimeout             time.Duration
	FailOnPartialSearchError bool
	TopK                     int
}

// DefaultHybridConfig returns the spec's documented defaults.
func DefaultHybridConfig(collections []string) HybridConfig {
	return HybridConfig{
		Collections:              collections,
		DenseVectorName:          "dense",
		SparseVectorName:         "bm25",
		PrefetchLimit:            20,
		RRFK:                     60,
		QueryTimeout:             5 * time.Second,
		FailOnPartialSearchError: true,
		TopK:                     20,
	}
}

// HybridSearcher fans a query across a fixed set of collections in
// parallel, fusing each collection's dense and sparse prefetch stages
// with Reciprocal Rank Fusion, then merges across collections by point
// identity.
type HybridSearcher struct {
	client vectorstore.Client
	cfg    HybridConfig
}

// NewHybridSearcher builds a searcher over the given client and config.
func NewHybridSearcher(client vectorstore.Client, cfg HybridConfig) *HybridSearcher {
	return &HybridSearcher{client: client, cfg: cfg}
}

// SearchOutcome carries the merged results plus any collections that
// failed under the partial-failure policy.
type SearchOutcome struct {
	Points          []vectorstore.ScoredPoint
	FailedCollections []string
}

// Search fans the dense vector and sparse vector out across every
// configured collection within a single deadline. Under strict mode
// (FailOnPartialSearchError), any collection failure aborts the whole
// search with a *PartialFailureError. Under lenient mode, failed
// collections contribute zero results and are listed in the outcome.
func (h *HybridSearcher) Search(ctx context.Context, dense []float32, sparseVec sparse.Vector, filter *vectorstore.Filter, limit int) (*SearchOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.QueryTimeout)
	defer cancel()

	type collectionResult struct {
		collection string
		points     []vectorstore.ScoredPoint
		err        error
	}

	results := make([]collectionResult, len(h.cfg.Collections))

	g, gctx := errgroup.WithContext(ctx)
	for i, collection := range h.cfg.Collections {
		i, collection := i, collection
		g.Go(func() error {
			points, err := h.searchCollection(gctx, collection, dense, sparseVec, filter)
			results[i] = collectionResult{collection: collection, points: points, err: err}
			if err != nil && h.cfg.FailOnPartialSearchError {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, &TimeoutError{Elapsed: h.cfg.QueryTimeout.String()}
		}
		var failed []string
		var causes []error
		for _, r := range results {
			if r.err != nil {
				failed = append(failed, r.collection)
				causes = append(causes, r.err)
			}
		}
		return nil, &PartialFailureError{Collections: failed, Causes: causes}
	}

	var failed []string
	lists := make([][]vectorstore.ScoredPoint, 0, len(results))
	for _, r := range results {
		if r.err != nil {
			failed = append(failed, r.collection)
			continue
		}
		lists = append(lists, r.points)
	}

	merged := vectorstore.MergeByID(limit, lists...)
	return &SearchOutcome{Points: merged, FailedCollections: failed}, nil
}

func (h *HybridSearcher) searchCollection(ctx context.Context, collection string, dense []float32, sparseVec sparse.Vector, filter *vectorstore.Filter) ([]vectorstore.ScoredPoint, error) {
	var denseHits, sparseHits []vectorstore.ScoredPoint

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := h.client.QueryDense(gctx, collection, h.cfg.DenseVectorName, dense, h.cfg.PrefetchLimit, filter)
		if err != nil {
			return fmt.Errorf("collection %q dense stage: %w", collection, err)
		}
		denseHits = hits
		return nil
	})

	if !sparseVec.Empty() {
		g.Go(func() error {
			hits, err := h.client.QuerySparse(gctx, collection, h.cfg.SparseVectorName, sparseVec, h.cfg.PrefetchLimit, filter)
			if err != nil {
				return fmt.Errorf("collection %q sparse stage: %w", collection, err)
			}
			sparseHits = hits
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := vectorstore.FuseRRF(h.cfg.RRFK, h.cfg.TopK, denseHits, sparseHits)
	for i := range fused {
		fused[i].Payload = annotateCollection(fused[i].Payload, collection)
	}
	return fused, nil
}

func annotateCollection(payload map[string]string, collection string) map[string]string {
	if payload == nil {
		payload = make(map[string]string, 1)
	}
	payload["collection"] = collection
	return payload
}
