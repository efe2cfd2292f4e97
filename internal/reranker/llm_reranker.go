package reranker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/knoguchi/docchat/internal/docmodel"
	"github.com/knoguchi/docchat/internal/llm"
)

const (
	// DefaultCacheSize bounds the number of cached rerank orders.
	DefaultCacheSize = 10000

	// DefaultCacheTTL is how long a cache entry lives before it expires;
	// an entry can leave earlier when DefaultCacheSize forces eviction.
	DefaultCacheTTL = 30 * time.Minute

	// DefaultTimeout is the per-call reranker deadline.
	DefaultTimeout = 12 * time.Second

	// maxDocChars is how much of each candidate's text is shown to the model.
	maxDocChars = 500
)

// FailureError reports that reranking could not produce an ordering:
// timeout, network failure, an unparseable response, or an empty order.
// There is no fallback to input order.
type FailureError struct {
	Reason string
	Cause  error
}

func (e *FailureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("reranking failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("reranking failed: %s", e.Reason)
}

func (e *FailureError) Unwrap() error { return e.Cause }

// LLMReranker orders candidates by asking a language model to judge
// relevance, with a bounded cache of past orderings keyed by query and
// candidate set.
type LLMReranker struct {
	llmClient llm.LLM
	model     string
	timeout   time.Duration
	cache     *lru.LRU[string, []string]
}

// Option configures an LLMReranker.
type Option func(*LLMReranker)

// WithModel overrides the reranking model.
func WithModel(model string) Option {
	return func(r *LLMReranker) { r.model = model }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *LLMReranker) { r.timeout = d }
}

// WithCache overrides the cache size and TTL.
func WithCache(size int, ttl time.Duration) Option {
	return func(r *LLMReranker) {
		r.cache = lru.NewLRU[string, []string](size, nil, ttl)
	}
}

// NewLLMReranker builds a reranker backed by an LLM client.
func NewLLMReranker(llmClient llm.LLM, opts ...Option) *LLMReranker {
	r := &LLMReranker{
		llmClient: llmClient,
		model:     "llama3.2",
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = lru.NewLRU[string, []string](DefaultCacheSize, nil, DefaultCacheTTL)
	}
	return r
}

// Rerank orders docs by LLM judgment of relevance to query, returning up
// to returnK of them. Candidates missing a URL are keyed by their text
// hash for caching purposes.
func (r *LLMReranker) Rerank(ctx context.Context, query string, docs []docmodel.Document, returnK int) ([]docmodel.Document, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	keys := candidateKeys(docs)
	ck := cacheKey(query, keys, returnK)

	if order, ok := r.cache.Get(ck); ok {
		return projectOrder(order, docs, returnK), nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	prompt := buildPrompt(query, docs)
	opts := llm.GenerateOptions{
		Model:       r.model,
		Temperature: 0.0,
		MaxTokens:   1024,
	}

	response, err := r.llmClient.Generate(ctx, prompt, opts)
	if err != nil {
		return nil, &FailureError{Reason: "model call failed", Cause: err}
	}

	order, err := parseOrder(response, len(docs))
	if err != nil {
		return nil, &FailureError{Reason: "unparseable response", Cause: err}
	}
	if len(order) == 0 {
		return nil, &FailureError{Reason: "empty order"}
	}

	orderedKeys := make([]string, len(order))
	for i, idx := range order {
		orderedKeys[i] = keys[idx]
	}
	r.cache.Add(ck, orderedKeys)

	result := make([]docmodel.Document, 0, len(order))
	for _, idx := range order {
		result = append(result, docs[idx])
	}
	if len(result) > returnK {
		result = result[:returnK]
	}
	return result, nil
}

func candidateKeys(docs []docmodel.Document) []string {
	keys := make([]string, len(docs))
	for i, d := range docs {
		if d.Metadata.URL != "" {
			keys[i] = d.Metadata.URL
			continue
		}
		keys[i] = sha(d.Text)
	}
	return keys
}

func cacheKey(query string, keys []string, returnK int) string {
	return sha(query) + "|" + sha(strings.Join(keys, "\x00")) + "|" + fmt.Sprint(returnK)
}

func sha(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// projectOrder re-applies a cached URL/hash ordering onto the current
// document list, skipping entries no longer present.
func projectOrder(order []string, docs []docmodel.Document, returnK int) []docmodel.Document {
	byKey := make(map[string]docmodel.Document, len(docs))
	for _, d := range docs {
		k := d.Metadata.URL
		if k == "" {
			k = sha(d.Text)
		}
		byKey[k] = d
	}

	out := make([]docmodel.Document, 0, len(order))
	for _, k := range order {
		if d, ok := byKey[k]; ok {
			out = append(out, d)
		}
	}
	if len(out) > returnK {
		out = out[:returnK]
	}
	return out
}

func buildPrompt(query string, docs []docmodel.Document) string {
	var sb strings.Builder

	sb.WriteString("You are a relevance judge for programming documentation search results.\n")
	sb.WriteString("Order the documents below from most to least relevant to the query.\n")
	sb.WriteString("Prioritize: domain relevance, version relevance, source authority ")
	sb.WriteString("(official sources over vendor blogs over other sources), stable over ")
	sb.WriteString("preview content, and pedagogical value.\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")

	for i, d := range docs {
		content := d.Text
		if len(content) > maxDocChars {
			content = content[:maxDocChars]
		}
		sb.WriteString(fmt.Sprintf("[%d] %s | %s\n%s\n\n", i, d.Metadata.Title, d.Metadata.URL, content))
	}

	sb.WriteString(`Respond with ONLY a JSON object of the form {"order":[indices]} listing every index from most to least relevant. No explanation.`)

	return sb.String()
}

type orderResponse struct {
	Order []*int `json:"order"`
}

// parseOrder extracts the ordering from a model response: prefer content
// inside a fenced code block, otherwise find the first balanced {...} by
// brace-depth counting. Indices that are null, negative, out of range, or
// duplicated are skipped.
func parseOrder(response string, numDocs int) ([]int, error) {
	candidate := extractFencedJSON(response)
	if candidate == "" {
		candidate = extractBalancedBraces(response)
	}
	if candidate == "" {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	var parsed orderResponse
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order: %w", err)
	}

	seen := make(map[int]struct{}, len(parsed.Order))
	order := make([]int, 0, len(parsed.Order))
	for _, idx := range parsed.Order {
		if idx == nil || *idx < 0 || *idx >= numDocs {
			continue
		}
		if _, dup := seen[*idx]; dup {
			continue
		}
		seen[*idx] = struct{}{}
		order = append(order, *idx)
	}

	return order, nil
}

func extractFencedJSON(s string) string {
	markers := []string{"```json", "```"}
	for _, marker := range markers {
		idx := strings.Index(s, marker)
		if idx == -1 {
			continue
		}
		start := idx + len(marker)
		end := strings.Index(s[start:], "```")
		if end == -1 {
			continue
		}
		return strings.TrimSpace(s[start : start+end])
	}
	return ""
}

func extractBalancedBraces(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// Ensure LLMReranker implements Reranker interface.
var _ Reranker = (*LLMReranker)(nil)
