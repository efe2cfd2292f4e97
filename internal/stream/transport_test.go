package stream

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/docchat/internal/docmodel"
	"github.com/knoguchi/docchat/internal/llm"
)

func chunksFrom(tokens []string) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk, len(tokens)+1)
	for _, tok := range tokens {
		ch <- llm.StreamChunk{Token: tok}
	}
	ch <- llm.StreamChunk{Done: true}
	close(ch)
	return ch
}

func TestTransportRun_NormalizesAndPersists(t *testing.T) {
	rec := httptest.NewRecorder()
	sink, err := NewSink(rec)
	require.NoError(t, err)

	tr := NewTransport(DefaultConfig())

	tokens := []string{"bytecode", " ", ".", " Use", " general", " -purpose"}
	opener := func(ctx context.Context) (<-chan llm.StreamChunk, error) {
		return chunksFrom(tokens), nil
	}

	var persisted string
	citations := []docmodel.Citation{{URL: "u1", Title: "T1"}}

	err = tr.Run(context.Background(), sink, opener, citations,
		func(raw string) string { return raw },
		func(rendered string) { persisted = rendered },
	)
	require.NoError(t, err)

	assert.Equal(t, "bytecode. Use general-purpose", persisted)

	body := rec.Body.String()
	assert.NotContains(t, body, "[DONE]")
	assert.Equal(t, 1, strings.Count(body, "event: citation"))
	assert.Contains(t, body, "event: done")
	assert.Contains(t, body, `"text":"bytecode`)
}

func TestTransportRun_EmitsTextEventsInOrder(t *testing.T) {
	rec := httptest.NewRecorder()
	sink, err := NewSink(rec)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.CoalesceMaxTokens = 1
	tr := NewTransport(cfg)

	opener := func(ctx context.Context) (<-chan llm.StreamChunk, error) {
		return chunksFrom([]string{"one", " two", " three"}), nil
	}

	err = tr.Run(context.Background(), sink, opener, nil,
		func(raw string) string { return raw },
		func(string) {},
	)
	require.NoError(t, err)

	body := rec.Body.String()
	firstIdx := strings.Index(body, "one")
	secondIdx := strings.Index(body, "two")
	thirdIdx := strings.Index(body, "three")
	assert.True(t, firstIdx < secondIdx)
	assert.True(t, secondIdx < thirdIdx)
}

func TestTransportRun_CancellationPropagates(t *testing.T) {
	rec := httptest.NewRecorder()
	sink, err := NewSink(rec)
	require.NoError(t, err)

	tr := NewTransport(DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan llm.StreamChunk)
	opener := func(ctx context.Context) (<-chan llm.StreamChunk, error) {
		return ch, nil
	}

	done := make(chan error, 1)
	go func() {
		done <- tr.Run(ctx, sink, opener, nil, func(s string) string { return s }, func(string) {})
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestTransportRun_MidStreamErrorEmitsErrorEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	sink, err := NewSink(rec)
	require.NoError(t, err)

	tr := NewTransport(DefaultConfig())

	ch := make(chan llm.StreamChunk, 2)
	ch <- llm.StreamChunk{Token: "partial"}
	ch <- llm.StreamChunk{Error: assertErr{}}
	close(ch)

	opener := func(ctx context.Context) (<-chan llm.StreamChunk, error) {
		return ch, nil
	}

	err = tr.Run(context.Background(), sink, opener, nil,
		func(s string) string { return s }, func(string) {})
	require.Error(t, err)

	body := rec.Body.String()
	assert.Contains(t, body, "event: error")
}

type assertErr struct{}

func (assertErr) Error() string { return "upstream failure" }
