package retrieval

import (
	"context"
	"strings"

	"github.com/knoguchi/docchat/internal/dedup"
	"github.com/knoguchi/docchat/internal/docmodel"
	"github.com/knoguchi/docchat/internal/embedder"
	"github.com/knoguchi/docchat/internal/prompt"
	"github.com/knoguchi/docchat/internal/reranker"
	"github.com/knoguchi/docchat/internal/session"
	"github.com/knoguchi/docchat/internal/sparse"
	"github.com/knoguchi/docchat/internal/versionhint"
	"github.com/knoguchi/docchat/internal/vectorstore"
)

// OrchestratorConfig bundles the tunables not already carried by the
// Hybrid Searcher.
type OrchestratorConfig struct {
	SearchTopK    int
	SearchReturnK int
}

// DefaultOrchestratorConfig returns the spec's documented defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{SearchTopK: 20, SearchReturnK: 8}
}

// Orchestrator wires the Version Hint Extractor, Embedding Client,
// Sparse Encoder, Hybrid Searcher, Deduper, Reranker, and Prompt
// Assembler together for a single user query.
type Orchestrator struct {
	embedder  embedder.Embedder
	encoder   *sparse.Encoder
	searcher  *HybridSearcher
	reranker  reranker.Reranker
	assembler *prompt.Assembler
	cfg       OrchestratorConfig
}

// NewOrchestrator builds an Orchestrator from its wired components.
func NewOrchestrator(
	emb embedder.Embedder,
	encoder *sparse.Encoder,
	searcher *HybridSearcher,
	rr reranker.Reranker,
	assembler *prompt.Assembler,
	cfg OrchestratorConfig,
) *Orchestrator {
	return &Orchestrator{
		embedder:  emb,
		encoder:   encoder,
		searcher:  searcher,
		reranker:  rr,
		assembler: assembler,
		cfg:       cfg,
	}
}

// Result carries everything the streaming layer needs: the assembled
// prompt and the citations derived from the reranked documents.
type Result struct {
	Prompt          prompt.StructuredPrompt
	Citations       []docmodel.Citation
	RerankedDocs    []docmodel.Document
	FailedCollections []string
}

// Answer runs the full retrieval pipeline for one user query: version
// boost, embedding, sparse encoding, hybrid search, dedup, rerank, and
// prompt assembly. It returns any retrieval error unwrapped, before a
// stream is opened, matching the no-partial-stream-on-retrieval-failure
// policy.
func (o *Orchestrator) Answer(ctx context.Context, query string, history []session.Turn) (*Result, error) {
	reranked, failedCollections, err := o.retrieveAndRerank(ctx, query)
	if err != nil {
		return nil, err
	}

	p, err := o.assembler.Assemble(query, history, reranked)
	var tooSmall *prompt.TooSmallError
	if err != nil && !isTooSmall(err, &tooSmall) {
		return nil, err
	}

	return &Result{
		Prompt:            p,
		Citations:         citationsFrom(reranked),
		RerankedDocs:      reranked,
		FailedCollections: failedCollections,
	}, err
}

// Citations runs retrieval and reranking only, for the standalone
// citations endpoint; it performs no prompt assembly or generation.
func (o *Orchestrator) Citations(ctx context.Context, query string) ([]docmodel.Citation, error) {
	reranked, _, err := o.retrieveAndRerank(ctx, query)
	if err != nil {
		return nil, err
	}
	return citationsFrom(reranked), nil
}

func (o *Orchestrator) retrieveAndRerank(ctx context.Context, query string) ([]docmodel.Document, []string, error) {
	hint := versionhint.Extract(query)

	dense, err := o.embedder.Embed(ctx, hint.Query)
	if err != nil {
		return nil, nil, err
	}
	sparseVec := o.encoder.Encode(hint.Query)

	var filter *vectorstore.Filter
	if hint.Hint != nil {
		filter = &vectorstore.Filter{DocVersion: hint.Hint.DocVersion}
	}

	outcome, err := o.searcher.Search(ctx, dense, sparseVec, filter, o.cfg.SearchTopK)
	if err != nil {
		return nil, nil, err
	}

	docs := DocumentsFromPoints(outcome.Points)
	if filter != nil {
		docs = applyClientSideVersionFallback(docs, hint.Hint)
	}

	deduped := dedup.Dedupe(docs)

	reranked, err := o.reranker.Rerank(ctx, query, deduped, o.cfg.SearchReturnK)
	if err != nil {
		return nil, nil, err
	}

	return reranked, outcome.FailedCollections, nil
}

// applyClientSideVersionFallback keeps documents that carry the matched
// docVersion metadata, whose URL/title match the version hint's fallback
// token list, or that have no docVersion at all (e.g. legacy points
// without a docVersion field).
func applyClientSideVersionFallback(docs []docmodel.Document, hint *versionhint.Hint) []docmodel.Document {
	out := make([]docmodel.Document, 0, len(docs))
	for _, d := range docs {
		if d.Metadata.DocVersion == hint.DocVersion {
			out = append(out, d)
			continue
		}
		if matchesAnyToken(d.Metadata.URL, hint.URLTokens) || matchesAnyToken(d.Metadata.Title, hint.URLTokens) {
			out = append(out, d)
			continue
		}
		if d.Metadata.DocVersion == "" {
			out = append(out, d)
		}
	}
	return out
}

func matchesAnyToken(s string, tokens []string) bool {
	lower := strings.ToLower(s)
	for _, tok := range tokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

func isTooSmall(err error, target **prompt.TooSmallError) bool {
	if e, ok := err.(*prompt.TooSmallError); ok {
		*target = e
		return true
	}
	return false
}

func citationsFrom(docs []docmodel.Document) []docmodel.Citation {
	citations := make([]docmodel.Citation, 0, len(docs))
	for _, d := range docs {
		citations = append(citations, docmodel.Citation{
			URL:     d.Metadata.URL,
			Title:   d.Metadata.Title,
			Snippet: snippet(d.Text),
		})
	}
	return citations
}

func snippet(text string) string {
	const maxLen = 240
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
