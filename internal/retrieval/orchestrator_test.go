package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/docchat/internal/docmodel"
	"github.com/knoguchi/docchat/internal/prompt"
	"github.com/knoguchi/docchat/internal/sparse"
	"github.com/knoguchi/docchat/internal/vectorstore"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}
func (f *fakeEmbedder) Dimension() int    { return len(f.vec) }
func (f *fakeEmbedder) ModelName() string { return "fake" }

type identityReranker struct {
	err error
}

func (r *identityReranker) Rerank(ctx context.Context, query string, docs []docmodel.Document, returnK int) ([]docmodel.Document, error) {
	if r.err != nil {
		return nil, r.err
	}
	if len(docs) > returnK {
		docs = docs[:returnK]
	}
	return docs, nil
}

func newTestOrchestrator(client vectorstore.Client, emb *fakeEmbedder, rr *identityReranker) *Orchestrator {
	searcher := NewHybridSearcher(client, DefaultHybridConfig([]string{"c1"}))
	assembler := prompt.NewAssembler("system prompt", 5000)
	return NewOrchestrator(emb, sparse.NewEncoder(), searcher, rr, assembler, DefaultOrchestratorConfig())
}

func pointWithPayload(id string, payload map[string]string) vectorstore.ScoredPoint {
	return vectorstore.ScoredPoint{ID: id, Score: 1, Payload: payload}
}

func TestOrchestrator_Answer_HappyPath(t *testing.T) {
	client := &fakeClient{
		dense: map[string][]vectorstore.ScoredPoint{
			"c1": {
				pointWithPayload("p1", map[string]string{"url": "u1", "title": "T1", "content": "some document text long enough to count as high quality content here"}),
				pointWithPayload("p2", map[string]string{"url": "u2", "title": "T2", "content": "another document text long enough to count as high quality content here too"}),
			},
		},
	}
	o := newTestOrchestrator(client, &fakeEmbedder{vec: []float32{0.1, 0.2}}, &identityReranker{})

	result, err := o.Answer(context.Background(), "what is new", nil)
	require.NoError(t, err)
	assert.Len(t, result.Citations, 2)
	assert.NotEmpty(t, result.Prompt.Segments)
}

func TestOrchestrator_Answer_EmbeddingErrorPropagates(t *testing.T) {
	client := &fakeClient{}
	o := newTestOrchestrator(client, &fakeEmbedder{err: errors.New("embedding down")}, &identityReranker{})

	_, err := o.Answer(context.Background(), "query", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding down")
}

func TestOrchestrator_Answer_SearchErrorPropagates(t *testing.T) {
	client := &fakeClient{errs: map[string]error{"c1": errors.New("store down")}}
	o := newTestOrchestrator(client, &fakeEmbedder{vec: []float32{0.1}}, &identityReranker{})

	_, err := o.Answer(context.Background(), "query", nil)
	require.Error(t, err)
	var pfe *PartialFailureError
	require.ErrorAs(t, err, &pfe)
}

func TestOrchestrator_Answer_RerankErrorPropagatesNoFallback(t *testing.T) {
	client := &fakeClient{
		dense: map[string][]vectorstore.ScoredPoint{
			"c1": {pointWithPayload("p1", map[string]string{"url": "u1", "content": "doc"})},
		},
	}
	o := newTestOrchestrator(client, &fakeEmbedder{vec: []float32{0.1}}, &identityReranker{err: errors.New("rerank down")})

	_, err := o.Answer(context.Background(), "query", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rerank down")
}

func TestOrchestrator_Answer_NoDocumentsYieldsEmptyCitations(t *testing.T) {
	client := &fakeClient{dense: map[string][]vectorstore.ScoredPoint{"c1": {}}}
	o := newTestOrchestrator(client, &fakeEmbedder{vec: []float32{0.1}}, &identityReranker{})

	result, err := o.Answer(context.Background(), "query", nil)
	require.NoError(t, err)
	assert.Empty(t, result.Citations)
}
