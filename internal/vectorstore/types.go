// Package vectorstore provides interfaces and implementations for querying
// a vector database's named dense and sparse vectors.
package vectorstore

import "github.com/knoguchi/docchat/internal/sparse"

// ScoredPoint is a server-returned candidate: a stable identifier, a
// score (higher is better), and a payload of string metadata fields.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// Point is a chunk ready to be written to the store: a dense vector, an
// optional sparse vector, and a metadata payload.
type Point struct {
	ID           string
	DenseVector  []float32
	SparseVector *sparse.Vector
	Payload      map[string]string
}

// Filter is a narrow server-side keyword filter. Only equality matches on
// a handful of metadata fields are needed by this system; anything richer
// belongs to the ingestion side.
type Filter struct {
	DocVersion string
}

// Empty reports whether the filter carries no conditions.
func (f *Filter) Empty() bool {
	return f == nil || f.DocVersion == ""
}
