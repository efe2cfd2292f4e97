package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/docchat/internal/sparse"
	"github.com/knoguchi/docchat/internal/vectorstore"
)

type fakeClient struct {
	vectorstore.Client
	dense  map[string][]vectorstore.ScoredPoint
	sparse map[string][]vectorstore.ScoredPoint
	errs   map[string]error
	delay  map[string]time.Duration
}

func (f *fakeClient) QueryDense(ctx context.Context, collection, vectorName string, vector []float32, limit int, filter *vectorstore.Filter) ([]vectorstore.ScoredPoint, error) {
	if d, ok := f.delay[collection]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := f.errs[collection]; ok {
		return nil, err
	}
	return f.dense[collection], nil
}

func (f *fakeClient) QuerySparse(ctx context.Context, collection, vectorName string, vector sparse.Vector, limit int, filter *vectorstore.Filter) ([]vectorstore.ScoredPoint, error) {
	if err, ok := f.errs[collection]; ok {
		return nil, err
	}
	return f.sparse[collection], nil
}

func pts(ids ...string) []vectorstore.ScoredPoint {
	out := make([]vectorstore.ScoredPoint, len(ids))
	for i, id := range ids {
		out[i] = vectorstore.ScoredPoint{ID: id, Score: float32(len(ids) - i), Payload: map[string]string{}}
	}
	return out
}

func TestHybridSearch_MergesAcrossCollections(t *testing.T) {
	client := &fakeClient{
		dense: map[string][]vectorstore.ScoredPoint{
			"c1": pts("a", "b"),
			"c2": pts("c", "d"),
		},
		sparse: map[string][]vectorstore.ScoredPoint{},
	}
	cfg := DefaultHybridConfig([]string{"c1", "c2"})
	searcher := NewHybridSearcher(client, cfg)

	outcome, err := searcher.Search(context.Background(), []float32{0.1}, sparse.Vector{}, nil, 20)
	require.NoError(t, err)
	assert.Len(t, outcome.Points, 4)
	assert.Empty(t, outcome.FailedCollections)
}

func TestHybridSearch_StrictModeAbortsOnFailure(t *testing.T) {
	client := &fakeClient{
		dense: map[string][]vectorstore.ScoredPoint{"c1": pts("a")},
		errs:  map[string]error{"c2": errors.New("boom")},
	}
	cfg := DefaultHybridConfig([]string{"c1", "c2"})
	cfg.FailOnPartialSearchError = true
	searcher := NewHybridSearcher(client, cfg)

	_, err := searcher.Search(context.Background(), []float32{0.1}, sparse.Vector{}, nil, 20)
	require.Error(t, err)
	var pfe *PartialFailureError
	require.ErrorAs(t, err, &pfe)
	assert.Equal(t, []string{"c2"}, pfe.Collections)
}

func TestHybridSearch_LenientModeReturnsFailedCollections(t *testing.T) {
	client := &fakeClient{
		dense: map[string][]vectorstore.ScoredPoint{"c1": pts("a")},
		errs:  map[string]error{"c2": errors.New("boom")},
	}
	cfg := DefaultHybridConfig([]string{"c1", "c2"})
	cfg.FailOnPartialSearchError = false
	searcher := NewHybridSearcher(client, cfg)

	outcome, err := searcher.Search(context.Background(), []float32{0.1}, sparse.Vector{}, nil, 20)
	require.NoError(t, err)
	assert.Len(t, outcome.Points, 1)
	assert.Equal(t, []string{"c2"}, outcome.FailedCollections)
}

func TestHybridSearch_SkipsSparseStageWhenEmpty(t *testing.T) {
	calls := 0
	client := &countingSparseClient{fakeClient: fakeClient{
		dense: map[string][]vectorstore.ScoredPoint{"c1": pts("a")},
	}, calls: &calls}

	cfg := DefaultHybridConfig([]string{"c1"})
	searcher := NewHybridSearcher(client, cfg)

	_, err := searcher.Search(context.Background(), []float32{0.1}, sparse.Vector{}, nil, 20)
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}

type countingSparseClient struct {
	fakeClient
	calls *int
}

func (c *countingSparseClient) QuerySparse(ctx context.Context, collection, vectorName string, vector sparse.Vector, limit int, filter *vectorstore.Filter) ([]vectorstore.ScoredPoint, error) {
	*c.calls++
	return c.fakeClient.QuerySparse(ctx, collection, vectorName, vector, limit, filter)
}

func TestHybridSearch_PermutationInvariantUUIDSet(t *testing.T) {
	client1 := &fakeClient{
		dense: map[string][]vectorstore.ScoredPoint{
			"c1": pts("a", "b"),
			"c2": pts("c", "d"),
		},
	}
	client2 := &fakeClient{
		dense: map[string][]vectorstore.ScoredPoint{
			"c1": pts("a", "b"),
			"c2": pts("c", "d"),
		},
		delay: map[string]time.Duration{"c1": 5 * time.Millisecond},
	}

	cfg := DefaultHybridConfig([]string{"c1", "c2"})
	out1, err := NewHybridSearcher(client1, cfg).Search(context.Background(), []float32{0.1}, sparse.Vector{}, nil, 20)
	require.NoError(t, err)
	out2, err := NewHybridSearcher(client2, cfg).Search(context.Background(), []float32{0.1}, sparse.Vector{}, nil, 20)
	require.NoError(t, err)

	assert.ElementsMatch(t, idSet(out1.Points), idSet(out2.Points))
}

func idSet(points []vectorstore.ScoredPoint) []string {
	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	return ids
}
