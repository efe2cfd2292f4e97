package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/docchat/internal/docmodel"
	"github.com/knoguchi/docchat/internal/session"
)

// textOfTokens returns a string whose EstimateTokens() is exactly tokens.
func textOfTokens(tokens int) string {
	length := (tokens-1)*4 - 3
	return strings.Repeat("a", length)
}

func TestEstimateTokens_MatchesFormula(t *testing.T) {
	assert.Equal(t, 1, EstimateTokens(""))
	assert.Equal(t, 30, EstimateTokens(textOfTokens(30)))
	assert.Equal(t, 10, EstimateTokens(textOfTokens(10)))
	assert.Equal(t, 20, EstimateTokens(textOfTokens(20)))
}

// TestTruncation_S4 follows the spec scenario exactly: budget 100,
// SYSTEM 30 tokens, QUERY 10 tokens, HISTORY oldest-to-newest token
// sizes [20, 20, 20], CONTEXT in reranker order [30, 30]. Only the two
// newest history turns fit; no context entries fit.
func TestTruncation_S4(t *testing.T) {
	a := &Assembler{}

	history := []session.Turn{
		{Role: session.RoleUser, Text: textOfTokens(20)},
		{Role: session.RoleAssistant, Text: textOfTokens(20)},
		{Role: session.RoleUser, Text: textOfTokens(20)},
	}

	remaining := 100 - 30 - 10 // 60, after reserving SYSTEM + QUERY

	historySegs, remaining := a.fitHistory(history, remaining)
	require.Len(t, historySegs, 2)
	assert.Equal(t, history[1].Text, historySegs[0].Text)
	assert.Equal(t, history[2].Text, historySegs[1].Text)
	assert.Equal(t, 20, remaining)

	// Each context entry renders as "<url>\n<text>"; size its text so the
	// whole entry costs exactly 30 tokens, same as the spec scenario.
	contextEntryText := func(tokens int) string {
		entryLen := (tokens-1)*4 - 3
		return strings.Repeat("a", entryLen-1) // minus the "\n" separator byte
	}
	contextDocs := []docmodel.Document{
		{Text: contextEntryText(30)},
		{Text: contextEntryText(30)},
	}
	require.Equal(t, 30, EstimateTokens(contextText(contextDocs[0])))

	contextSegs, remaining := a.fitContext(contextDocs, remaining)
	assert.Empty(t, contextSegs)
	assert.Equal(t, 20, remaining)
}

func TestAssemble_MinimalPromptOnTooSmall(t *testing.T) {
	a := NewAssembler(textOfTokens(90), 50)

	p, err := a.Assemble(textOfTokens(20), nil, nil)
	require.Error(t, err)
	var tooSmall *TooSmallError
	require.ErrorAs(t, err, &tooSmall)

	require.Len(t, p.Segments, 2)
	assert.Equal(t, SegmentSystem, p.Segments[0].Kind)
	assert.Equal(t, SegmentQuery, p.Segments[1].Kind)
}

func TestAssemble_ContextMarkersReindexedContiguous(t *testing.T) {
	a := NewAssembler("system prompt", 5000)

	docs := []docmodel.Document{
		{Text: "first document body", Metadata: docmodel.Metadata{URL: "u1", SourceKind: "vector"}},
		{Text: "second document body", Metadata: docmodel.Metadata{URL: "u2", SourceKind: "vector"}},
		{Text: "third document body", Metadata: docmodel.Metadata{URL: "u3", SourceKind: "vector"}},
	}

	p, err := a.Assemble("what is new", nil, docs)
	require.NoError(t, err)

	var ctxIndices []int
	for _, seg := range p.Segments {
		if seg.Kind == SegmentContext {
			ctxIndices = append(ctxIndices, seg.CtxIndex)
		}
	}
	assert.Equal(t, []int{1, 2, 3}, ctxIndices)
}

func TestAssemble_PreservesHistoryChronologicalOrder(t *testing.T) {
	a := NewAssembler("system prompt", 5000)

	history := []session.Turn{
		{Role: session.RoleUser, Text: "first"},
		{Role: session.RoleAssistant, Text: "second"},
		{Role: session.RoleUser, Text: "third"},
	}

	p, err := a.Assemble("query text", history, nil)
	require.NoError(t, err)

	var historyTexts []string
	for _, seg := range p.Segments {
		if seg.Kind == SegmentHistory {
			historyTexts = append(historyTexts, seg.Text)
		}
	}
	assert.Equal(t, []string{"first", "second", "third"}, historyTexts)
}

func TestClassifyQuality_None(t *testing.T) {
	q, _ := ClassifyQuality(nil)
	assert.Equal(t, QualityNone, q)
}

func TestClassifyQuality_HighWhenAllLong(t *testing.T) {
	docs := []docmodel.Document{
		{Text: strings.Repeat("x", 150)},
		{Text: strings.Repeat("y", 200)},
	}
	q, high := ClassifyQuality(docs)
	assert.Equal(t, QualityHigh, q)
	assert.Equal(t, 2, high)
}

func TestClassifyQuality_MixedWhenSomeShort(t *testing.T) {
	docs := []docmodel.Document{
		{Text: strings.Repeat("x", 150)},
		{Text: "short"},
	}
	q, high := ClassifyQuality(docs)
	assert.Equal(t, QualityMixed, q)
	assert.Equal(t, 1, high)
}

func TestClassifyQuality_KeywordFallback(t *testing.T) {
	docs := []docmodel.Document{
		{Text: strings.Repeat("x", 150), Metadata: docmodel.Metadata{SourceKind: "keyword"}},
	}
	q, _ := ClassifyQuality(docs)
	assert.Equal(t, QualityKeyword, q)
}

func TestRender_IncludesRoleTagsAndMarkers(t *testing.T) {
	p := StructuredPrompt{Segments: []Segment{
		{Kind: SegmentSystem, Text: "sys"},
		{Kind: SegmentHistory, Text: "hi", HistoryRole: "user"},
		{Kind: SegmentContext, Text: "ctx body", CtxIndex: 1},
		{Kind: SegmentQuery, Text: "what now"},
	}}

	out := Render(p)
	assert.Contains(t, out, "sys")
	assert.Contains(t, out, "user: hi")
	assert.Contains(t, out, "[CTX 1] ctx body")
	assert.Contains(t, out, "user: what now")
}
