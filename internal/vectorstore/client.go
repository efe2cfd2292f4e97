package vectorstore

import (
	"context"

	"github.com/knoguchi/docchat/internal/sparse"
)

// Client defines the interface the Hybrid Searcher consumes to run a
// single named-vector query against a collection. Fusion across the
// dense and sparse prefetch stages happens in the caller (see FuseRRF)
// so that the RRF constant k stays a caller-configurable parameter
// rather than a store-side default.
type Client interface {
	// QueryDense runs a nearest-neighbor query against the collection's
	// dense named vector.
	QueryDense(ctx context.Context, collection, vectorName string, vector []float32, limit int, filter *Filter) ([]ScoredPoint, error)

	// QuerySparse runs a nearest-neighbor query against the collection's
	// sparse (bm25) named vector. Callers must not invoke this with an
	// empty sparse.Vector; the Hybrid Searcher skips the stage instead.
	QuerySparse(ctx context.Context, collection, vectorName string, vector sparse.Vector, limit int, filter *Filter) ([]ScoredPoint, error)

	// CreateHybridCollection provisions a collection with both a dense
	// and a sparse named vector.
	CreateHybridCollection(ctx context.Context, collection string, dimension int, denseVectorName, sparseVectorName string) error

	// CollectionExists reports whether a collection has been created.
	CollectionExists(ctx context.Context, collection string) (bool, error)

	// DeleteCollection removes a collection entirely.
	DeleteCollection(ctx context.Context, collection string) error

	// Upsert writes points into a collection.
	Upsert(ctx context.Context, collection string, points []Point, denseVectorName, sparseVectorName string) error

	// DeleteByIDs removes specific points by ID.
	DeleteByIDs(ctx context.Context, collection string, ids []string) error
}
