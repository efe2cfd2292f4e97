package reranker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/docchat/internal/docmodel"
	"github.com/knoguchi/docchat/internal/llm"
)

type fakeLLM struct {
	response string
	err      error
	calls    int
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLLM) GenerateStream(ctx context.Context, prompt string, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("not implemented")
}

func docs() []docmodel.Document {
	return []docmodel.Document{
		{Text: "a", Metadata: docmodel.Metadata{URL: "u1", Title: "A"}},
		{Text: "b", Metadata: docmodel.Metadata{URL: "u2", Title: "B"}},
		{Text: "c", Metadata: docmodel.Metadata{URL: "u3", Title: "C"}},
	}
}

func TestRerank_ParsesFencedJSON(t *testing.T) {
	fake := &fakeLLM{response: "```json\n{\"order\":[2,0,1]}\n```"}
	r := NewLLMReranker(fake)

	out, err := r.Rerank(context.Background(), "q", docs(), 3)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "u3", out[0].Metadata.URL)
	assert.Equal(t, "u1", out[1].Metadata.URL)
}

func TestRerank_ParsesBalancedBraces(t *testing.T) {
	fake := &fakeLLM{response: "Here is the answer: {\"order\":[1,0,2]} thanks"}
	r := NewLLMReranker(fake)

	out, err := r.Rerank(context.Background(), "q", docs(), 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "u2", out[0].Metadata.URL)
}

func TestRerank_SkipsInvalidIndices(t *testing.T) {
	fake := &fakeLLM{response: `{"order":[5,-1,null,0,0,1]}`}
	r := NewLLMReranker(fake)

	out, err := r.Rerank(context.Background(), "q", docs(), 5)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "u1", out[0].Metadata.URL)
	assert.Equal(t, "u2", out[1].Metadata.URL)
}

func TestRerank_EmptyOrderFails(t *testing.T) {
	fake := &fakeLLM{response: `{"order":[]}`}
	r := NewLLMReranker(fake)

	_, err := r.Rerank(context.Background(), "q", docs(), 3)
	require.Error(t, err)
	var fe *FailureError
	require.ErrorAs(t, err, &fe)
}

func TestRerank_UnparseableResponseFails(t *testing.T) {
	fake := &fakeLLM{response: "I cannot help with that"}
	r := NewLLMReranker(fake)

	_, err := r.Rerank(context.Background(), "q", docs(), 3)
	require.Error(t, err)
	var fe *FailureError
	require.ErrorAs(t, err, &fe)
}

func TestRerank_ModelErrorPropagatesNoFallback(t *testing.T) {
	fake := &fakeLLM{err: errors.New("connection refused")}
	r := NewLLMReranker(fake)

	_, err := r.Rerank(context.Background(), "q", docs(), 3)
	require.Error(t, err)
	var fe *FailureError
	require.ErrorAs(t, err, &fe)
}

func TestRerank_CacheHitAvoidsSecondCall(t *testing.T) {
	fake := &fakeLLM{response: `{"order":[2,1,0]}`}
	r := NewLLMReranker(fake)

	first, err := r.Rerank(context.Background(), "same query", docs(), 3)
	require.NoError(t, err)

	second, err := r.Rerank(context.Background(), "same query", docs(), 3)
	require.NoError(t, err)

	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, first, second)
}

func TestRerank_EmptyInputReturnsNil(t *testing.T) {
	r := NewLLMReranker(&fakeLLM{})
	out, err := r.Rerank(context.Background(), "q", nil, 3)
	require.NoError(t, err)
	assert.Nil(t, out)
}
