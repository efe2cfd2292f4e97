// Package prompt assembles a structured, token-bounded prompt from a
// system preamble, conversation history, and reranked context documents.
package prompt

import (
	"fmt"

	"github.com/knoguchi/docchat/internal/docmodel"
	"github.com/knoguchi/docchat/internal/session"
)

// SegmentKind is the closed set of structured prompt segment types.
type SegmentKind string

const (
	SegmentSystem  SegmentKind = "SYSTEM"
	SegmentContext SegmentKind = "CONTEXT"
	SegmentHistory SegmentKind = "HISTORY"
	SegmentQuery   SegmentKind = "QUERY"
)

// Priority orders segments for truncation. Higher wins.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func priorityFor(kind SegmentKind) Priority {
	switch kind {
	case SegmentSystem:
		return PriorityCritical
	case SegmentQuery:
		return PriorityHigh
	case SegmentHistory:
		return PriorityMedium
	case SegmentContext:
		return PriorityLow
	default:
		return PriorityLow
	}
}

// Segment is one piece of a StructuredPrompt.
type Segment struct {
	Kind Kind
	Text string

	// CtxIndex is the marker number for CONTEXT segments, 1-based, set
	// after truncation re-indexing.
	CtxIndex int

	// HistoryRole is "user" or "assistant" for HISTORY segments.
	HistoryRole string
}

// Kind is an alias kept for readability at call sites.
type Kind = SegmentKind

// StructuredPrompt is an ordered sequence of typed segments.
type StructuredPrompt struct {
	Segments []Segment
}

// SearchQuality classifies retrieval result quality for the system
// annotation appended before truncation.
type SearchQuality string

const (
	QualityNone      SearchQuality = "NONE"
	QualityKeyword   SearchQuality = "KEYWORD_SEARCH"
	QualityHigh      SearchQuality = "HIGH_QUALITY"
	QualityMixed     SearchQuality = "MIXED_QUALITY"
	minHighQualityLen             = 100
)

// ClassifyQuality derives the SearchQuality tag from the retained
// documents that will populate CONTEXT.
func ClassifyQuality(docs []docmodel.Document) (SearchQuality, int) {
	if len(docs) == 0 {
		return QualityNone, 0
	}

	highCount := 0
	keywordOnly := false
	for _, d := range docs {
		if len(d.Text) >= minHighQualityLen {
			highCount++
		}
		if d.Metadata.SourceKind == "keyword" {
			keywordOnly = true
		}
	}

	if keywordOnly {
		return QualityKeyword, highCount
	}
	if highCount == len(docs) {
		return QualityHigh, highCount
	}
	return QualityMixed, highCount
}

func qualityAnnotation(q SearchQuality, highCount, total int) string {
	switch q {
	case QualityNone:
		return "Retrieval note: no supporting documents were found for this query."
	case QualityKeyword:
		return "Retrieval note: results came from keyword-only fallback search. Hedge confidence and prefer qualified statements."
	case QualityHigh:
		return "Retrieval note: retrieval quality is high."
	case QualityMixed:
		return fmt.Sprintf("Retrieval note: mixed retrieval quality (%d/%d high-confidence documents). Hedge confidence and prefer qualified statements.", highCount, total)
	default:
		return ""
	}
}

// TooSmallError reports that SYSTEM + QUERY alone exceeded the token
// budget. The caller still receives a minimal prompt containing exactly
// those two segments.
type TooSmallError struct {
	SystemTokens int
	QueryTokens  int
	Budget       int
}

func (e *TooSmallError) Error() string {
	return fmt.Sprintf("prompt too small: system(%d) + query(%d) > budget(%d)", e.SystemTokens, e.QueryTokens, e.Budget)
}

// EstimateTokens approximates token count for truncation accounting.
// This formula is fixed by contract; do not replace with a tokenizer.
func EstimateTokens(text string) int {
	return (len(text)+3)/4 + 1
}

// Assembler builds StructuredPrompts from a system preamble, session
// history, and reranked context documents, applying priority-aware
// truncation to a fixed token budget.
type Assembler struct {
	systemPreamble string
	budget         int
}

// NewAssembler builds a prompt assembler with a fixed per-model budget.
func NewAssembler(systemPreamble string, budget int) *Assembler {
	return &Assembler{systemPreamble: systemPreamble, budget: budget}
}

// Assemble composes a StructuredPrompt from the query, prior session
// turns (oldest first), and reranked context documents (reranker order).
// Returns a *TooSmallError alongside the minimal SYSTEM+QUERY prompt when
// the budget cannot hold even those two segments.
func (a *Assembler) Assemble(query string, history []session.Turn, docs []docmodel.Document) (StructuredPrompt, error) {
	quality, highCount := ClassifyQuality(docs)
	systemText := a.systemPreamble
	if note := qualityAnnotation(quality, highCount, len(docs)); note != "" {
		systemText = systemText + "\n\n" + note
	}

	systemTokens := EstimateTokens(systemText)
	queryTokens := EstimateTokens(query)

	systemSeg := Segment{Kind: SegmentSystem, Text: systemText}
	querySeg := Segment{Kind: SegmentQuery, Text: query}

	if systemTokens+queryTokens > a.budget {
		return StructuredPrompt{Segments: []Segment{systemSeg, querySeg}},
			&TooSmallError{SystemTokens: systemTokens, QueryTokens: queryTokens, Budget: a.budget}
	}

	remaining := a.budget - systemTokens - queryTokens

	historySegs, remaining := a.fitHistory(history, remaining)
	contextSegs, remaining := a.fitContext(docs, remaining)
	_ = remaining

	segments := make([]Segment, 0, 2+len(historySegs)+len(contextSegs))
	segments = append(segments, systemSeg)
	segments = append(segments, historySegs...)
	segments = append(segments, contextSegs...)
	segments = append(segments, querySeg)

	return StructuredPrompt{Segments: segments}, nil
}

// fitHistory greedily adds turns newest to oldest, then restores their
// original chronological order among survivors.
func (a *Assembler) fitHistory(history []session.Turn, budget int) ([]Segment, int) {
	kept := make([]bool, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		tokens := EstimateTokens(history[i].Text)
		if tokens >= budget {
			continue
		}
		kept[i] = true
		budget -= tokens
	}

	segs := make([]Segment, 0, len(history))
	for i, turn := range history {
		if !kept[i] {
			continue
		}
		segs = append(segs, Segment{
			Kind:        SegmentHistory,
			Text:        turn.Text,
			HistoryRole: string(turn.Role),
		})
	}
	return segs, budget
}

// fitContext greedily adds documents in reranker order, then re-indexes
// surviving [CTX N] markers to contiguous 1..k.
func (a *Assembler) fitContext(docs []docmodel.Document, budget int) ([]Segment, int) {
	segs := make([]Segment, 0, len(docs))
	idx := 0
	for _, d := range docs {
		text := contextText(d)
		tokens := EstimateTokens(text)
		if tokens >= budget {
			continue
		}
		idx++
		segs = append(segs, Segment{
			Kind:     SegmentContext,
			Text:     text,
			CtxIndex: idx,
		})
		budget -= tokens
	}
	return segs, budget
}

func contextText(d docmodel.Document) string {
	return fmt.Sprintf("%s\n%s", d.Metadata.URL, d.Text)
}

// Render flattens a StructuredPrompt into the literal text sent to the
// language model, with [CTX N] markers and history role tags.
func Render(p StructuredPrompt) string {
	out := ""
	for _, seg := range p.Segments {
		switch seg.Kind {
		case SegmentSystem:
			out += seg.Text + "\n\n"
		case SegmentHistory:
			out += fmt.Sprintf("%s: %s\n", seg.HistoryRole, seg.Text)
		case SegmentContext:
			out += fmt.Sprintf("[CTX %d] %s\n\n", seg.CtxIndex, seg.Text)
		case SegmentQuery:
			out += "user: " + seg.Text
		}
	}
	return out
}
