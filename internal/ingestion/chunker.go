// Package ingestion handles document processing: chunking, text extraction, and pipeline orchestration.
package ingestion

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"

	"github.com/knoguchi/docchat/internal/repository"
)

var (
	tikOnce sync.Once
	tikEnc  *tiktoken.Tiktoken
)

// tokenEncoder lazily loads the cl100k_base encoding used by the Ollama
// LLM family's tokenizer lineage. If it cannot be loaded (e.g. no network
// access to fetch the BPE ranks on first use), callers fall back to the
// word-count proxy rather than fail ingestion.
func tokenEncoder() *tiktoken.Tiktoken {
	tikOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			tikEnc = enc
		}
	})
	return tikEnc
}

// estimateTokens counts tokens with the cl100k_base encoder, falling back
// to a word-count proxy if the encoder could not be loaded. ChunkerConfig's
// TargetSize/MaxSize/Overlap are all documented as token counts; every
// chunking method below budgets against this function, not word counts.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	if enc := tokenEncoder(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len(strings.Fields(text))
}

// Chunk represents a piece of chunked content from a single ingested
// document. There is no tenant or collection on the chunk itself; the
// caller (internal/ingestion.Pipeline, cmd/docingest) attaches document
// and collection identity after chunking.
type Chunk struct {
	Content  string
	Index    int
	Metadata map[string]string
}

// Chunker splits document content into token-budgeted chunks using one of
// three strategies selected by ChunkerConfig.Method.
type Chunker struct {
	config repository.ChunkerConfig
}

// NewChunker creates a new Chunker with the given configuration
func NewChunker(config repository.ChunkerConfig) *Chunker {
	if config.TargetSize <= 0 {
		config.TargetSize = 512
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 1024
	}
	if config.Overlap < 0 {
		config.Overlap = 50
	}
	if config.Method == "" {
		config.Method = "semantic"
	}

	return &Chunker{config: config}
}

// Chunk splits content into chunks based on the configured method
func (c *Chunker) Chunk(content string) []Chunk {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	switch c.config.Method {
	case "fixed":
		return c.chunkFixed(content)
	case "sentence":
		return c.chunkSentence(content)
	case "semantic":
		return c.chunkSemantic(content)
	default:
		return c.chunkSemantic(content)
	}
}

// ============================================================================
// Token-budgeted windowing (shared by fixed, sentence, and semantic methods)
// ============================================================================

// tailByTokens returns trailing units (words or sentences), working
// backward from the end of units and adding units while the summed
// estimated token count is below budget; the last unit added can take
// the sum past budget. It seeds the overlap window for the next chunk
// in all three chunking methods below.
func tailByTokens(units []string, budget int) ([]string, int) {
	if budget <= 0 || len(units) == 0 {
		return nil, 0
	}
	var tail []string
	total := 0
	for i := len(units) - 1; i >= 0 && total < budget; i-- {
		total += estimateTokens(units[i])
		tail = append([]string{units[i]}, tail...)
	}
	return tail, total
}

// windowByTokens slides a fixed-size, overlapping window across units
// (words), flushing a chunk once the accumulated token estimate reaches
// targetTokens. Used for fixed-size chunking and for splitting individual
// oversized sentences.
func windowByTokens(units []string, targetTokens, overlapTokens, startIndex int, method string, extra map[string]string) []Chunk {
	var chunks []Chunk
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		text := strings.Join(current, " ")
		meta := map[string]string{
			"method":      method,
			"word_count":  intToString(len(current)),
			"token_count": intToString(currentTokens),
		}
		for k, v := range extra {
			meta[k] = v
		}
		chunks = append(chunks, Chunk{
			Content:  text,
			Index:    startIndex + len(chunks),
			Metadata: meta,
		})
	}

	for _, u := range units {
		current = append(current, u)
		currentTokens += estimateTokens(u)
		if currentTokens >= targetTokens {
			flush()
			current, currentTokens = tailByTokens(current, overlapTokens)
		}
	}
	flush()

	return chunks
}

// ============================================================================
// Fixed Chunking
// ============================================================================

// chunkFixed slides a fixed token-budget window across the document's
// words, overlapping by Overlap tokens between consecutive chunks.
func (c *Chunker) chunkFixed(content string) []Chunk {
	words := strings.Fields(content)
	if len(words) == 0 {
		return nil
	}
	return windowByTokens(words, c.config.TargetSize, c.config.Overlap, 0, "fixed", nil)
}

// ============================================================================
// Sentence Chunking
// ============================================================================

// chunkSentence groups whole sentences until the token budget is reached,
// carrying a token-bounded tail of sentences forward as overlap.
// Sentences that alone exceed MaxSize are routed through windowByTokens
// at the word level since no smaller semantic unit is available.
func (c *Chunker) chunkSentence(content string) []Chunk {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		text := strings.Join(current, " ")
		chunks = append(chunks, Chunk{
			Content: strings.TrimSpace(text),
			Index:   len(chunks),
			Metadata: map[string]string{
				"method":         "sentence",
				"sentence_count": intToString(len(current)),
				"word_count":     intToString(len(strings.Fields(text))),
				"token_count":    intToString(currentTokens),
			},
		})
	}

	for _, sentence := range sentences {
		sentenceTokens := estimateTokens(sentence)

		if sentenceTokens > c.config.MaxSize {
			if currentTokens > 0 {
				flush()
				current, currentTokens = nil, 0
			}
			chunks = append(chunks, c.splitLongSentence(sentence, len(chunks))...)
			continue
		}

		if currentTokens+sentenceTokens > c.config.MaxSize && currentTokens > 0 {
			flush()
			current, currentTokens = tailByTokens(current, c.config.Overlap)
		}

		current = append(current, sentence)
		currentTokens += sentenceTokens

		if currentTokens >= c.config.TargetSize {
			flush()
			current, currentTokens = tailByTokens(current, c.config.Overlap)
		}
	}

	flush()

	return chunks
}

// splitLongSentence splits a single sentence whose token count exceeds
// MaxSize into word-level, token-budgeted windows.
func (c *Chunker) splitLongSentence(sentence string, startIndex int) []Chunk {
	words := strings.Fields(sentence)
	return windowByTokens(words, c.config.TargetSize, c.config.Overlap, startIndex, "sentence", map[string]string{"split": "true"})
}

// ============================================================================
// Semantic Chunking (Markdown-Aware)
// ============================================================================

// contentBlock represents a semantic block of content
type contentBlock struct {
	blockType string // "header", "paragraph", "code", "table", "list"
	content   string
	header    string // Current section header context
	level     int    // Header level (1-6)
}

// chunkSemantic performs smart semantic chunking that:
// 1. Preserves code blocks and tables as atomic units
// 2. Keeps header context for each chunk
// 3. Groups related paragraphs together
func (c *Chunker) chunkSemantic(content string) []Chunk {
	blocks := c.parseIntoBlocks(content)
	chunks := c.groupBlocksIntoChunks(blocks)

	if c.config.Overlap > 0 {
		chunks = c.addSemanticOverlap(chunks)
	}

	for i := range chunks {
		chunks[i].Index = i
	}

	return chunks
}

// parseIntoBlocks parses markdown content into semantic blocks
func (c *Chunker) parseIntoBlocks(content string) []contentBlock {
	var blocks []contentBlock
	currentHeader := ""
	currentLevel := 0

	headerPattern := regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	codeBlockPattern := regexp.MustCompile("(?s)```(\\w*)\\n(.*?)```")
	tablePattern := regexp.MustCompile(`(?m)^\|.+\|$`)

	codeBlocks := codeBlockPattern.FindAllStringSubmatchIndex(content, -1)
	codeBlockMap := make(map[string]string)

	processedContent := content
	for i := len(codeBlocks) - 1; i >= 0; i-- {
		match := codeBlocks[i]
		codeContent := content[match[0]:match[1]]
		placeholder := "___CODE_BLOCK_" + strconv.Itoa(i) + "___"
		codeBlockMap[placeholder] = codeContent
		processedContent = processedContent[:match[0]] + placeholder + processedContent[match[1]:]
	}

	paragraphs := regexp.MustCompile(`\n\s*\n`).Split(processedContent, -1)

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if strings.HasPrefix(para, "___CODE_BLOCK_") && strings.HasSuffix(para, "___") {
			if codeContent, ok := codeBlockMap[para]; ok {
				blocks = append(blocks, contentBlock{
					blockType: "code",
					content:   codeContent,
					header:    currentHeader,
					level:     currentLevel,
				})
				continue
			}
		}

		if headerMatch := headerPattern.FindStringSubmatch(para); headerMatch != nil {
			currentLevel = len(headerMatch[1])
			currentHeader = headerMatch[2]
			blocks = append(blocks, contentBlock{
				blockType: "header",
				content:   para,
				header:    currentHeader,
				level:     currentLevel,
			})
			continue
		}

		if tablePattern.MatchString(para) {
			blocks = append(blocks, contentBlock{
				blockType: "table",
				content:   para,
				header:    currentHeader,
				level:     currentLevel,
			})
			continue
		}

		if isListBlock(para) {
			blocks = append(blocks, contentBlock{
				blockType: "list",
				content:   para,
				header:    currentHeader,
				level:     currentLevel,
			})
			continue
		}

		blocks = append(blocks, contentBlock{
			blockType: "paragraph",
			content:   para,
			header:    currentHeader,
			level:     currentLevel,
		})
	}

	return blocks
}

// isListBlock checks if a block is a list
func isListBlock(content string) bool {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return false
	}
	firstLine := strings.TrimSpace(lines[0])
	return strings.HasPrefix(firstLine, "- ") ||
		strings.HasPrefix(firstLine, "* ") ||
		strings.HasPrefix(firstLine, "+ ") ||
		regexp.MustCompile(`^\d+\.\s`).MatchString(firstLine)
}

// groupBlocksIntoChunks groups blocks into token-budgeted chunks
func (c *Chunker) groupBlocksIntoChunks(blocks []contentBlock) []Chunk {
	var chunks []Chunk
	var currentBlocks []contentBlock
	currentTokens := 0
	currentHeader := ""

	flushChunk := func() {
		if len(currentBlocks) == 0 {
			return
		}

		var contentParts []string
		headerAdded := false
		for _, block := range currentBlocks {
			if block.header != "" && !headerAdded {
				prefix := strings.Repeat("#", block.level) + " " + block.header
				if currentBlocks[0].blockType != "header" || currentBlocks[0].content != prefix {
					contentParts = append(contentParts, "[Section: "+block.header+"]")
					headerAdded = true
				}
			}
			contentParts = append(contentParts, block.content)
		}

		content := strings.Join(contentParts, "\n\n")

		metadata := map[string]string{
			"method":      "semantic",
			"word_count":  intToString(len(strings.Fields(content))),
			"token_count": intToString(estimateTokens(content)),
		}

		blockTypes := make(map[string]int)
		for _, block := range currentBlocks {
			blockTypes[block.blockType]++
		}
		if blockTypes["code"] > 0 {
			metadata["contains_code"] = "true"
		}
		if blockTypes["table"] > 0 {
			metadata["contains_table"] = "true"
		}
		if currentHeader != "" {
			metadata["section"] = currentHeader
		}

		chunks = append(chunks, Chunk{
			Content:  strings.TrimSpace(content),
			Index:    len(chunks),
			Metadata: metadata,
		})

		currentBlocks = nil
		currentTokens = 0
	}

	for _, block := range blocks {
		blockTokens := estimateTokens(block.content)

		if block.blockType == "header" {
			currentHeader = block.header
		}

		isAtomic := block.blockType == "code" || block.blockType == "table"

		if blockTokens > c.config.MaxSize {
			flushChunk()

			if isAtomic {
				currentBlocks = append(currentBlocks, block)
				flushChunk()
			} else {
				chunks = append(chunks, c.splitLargeBlock(block)...)
			}
			continue
		}

		if currentTokens+blockTokens > c.config.TargetSize && currentTokens > 0 {
			if isAtomic && currentTokens+blockTokens <= c.config.MaxSize {
				currentBlocks = append(currentBlocks, block)
				currentTokens += blockTokens
				flushChunk()
				continue
			}

			flushChunk()
		}

		currentBlocks = append(currentBlocks, block)
		currentTokens += blockTokens
	}

	flushChunk()

	return chunks
}

// splitLargeBlock splits a block whose estimated token count exceeds
// MaxSize into sentence-grouped, token-budgeted chunks, carrying the
// block's section header forward on every resulting chunk.
func (c *Chunker) splitLargeBlock(block contentBlock) []Chunk {
	sentences := splitSentences(block.content)

	var chunks []Chunk
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		content := strings.Join(current, " ")
		if block.header != "" {
			content = "[Section: " + block.header + "]\n\n" + content
		}
		chunks = append(chunks, Chunk{
			Content: strings.TrimSpace(content),
			Index:   len(chunks),
			Metadata: map[string]string{
				"method":      "semantic",
				"word_count":  intToString(len(strings.Fields(strings.Join(current, " ")))),
				"token_count": intToString(currentTokens),
				"section":     block.header,
				"split":       "true",
			},
		})
		current = nil
		currentTokens = 0
	}

	for _, sentence := range sentences {
		sentenceTokens := estimateTokens(sentence)
		if currentTokens+sentenceTokens > c.config.TargetSize && currentTokens > 0 {
			flush()
		}
		current = append(current, sentence)
		currentTokens += sentenceTokens
	}
	flush()

	return chunks
}

// addSemanticOverlap prepends a token-bounded tail of the previous
// chunk's content to each chunk after the first.
func (c *Chunker) addSemanticOverlap(chunks []Chunk) []Chunk {
	if len(chunks) <= 1 {
		return chunks
	}

	result := make([]Chunk, len(chunks))

	for i, chunk := range chunks {
		result[i] = Chunk{
			Content:  chunk.Content,
			Index:    chunk.Index,
			Metadata: copyMetadata(chunk.Metadata),
		}

		if i > 0 && c.config.Overlap > 0 {
			prevWords := strings.Fields(chunks[i-1].Content)
			tail, tailTokens := tailByTokens(prevWords, c.config.Overlap)
			overlapText := strings.Join(tail, " ")

			if overlapText != "" && !strings.HasPrefix(overlapText, "[Section:") {
				result[i].Content = "[...] " + overlapText + "\n\n" + result[i].Content
				result[i].Metadata["has_overlap"] = "true"
				result[i].Metadata["overlap_tokens"] = intToString(tailTokens)
			}
		}
	}

	return result
}

// ============================================================================
// Utility Functions
// ============================================================================

// splitSentences splits text into sentences
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// Simple sentence splitting on . ! ? followed by space or end
	// This is a simplified approach; production would need more sophisticated NLP
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				sentence := strings.TrimSpace(current.String())
				if sentence != "" && !isAbbreviation(sentence) {
					sentences = append(sentences, sentence)
					current.Reset()
				}
			}
		}
	}

	remaining := strings.TrimSpace(current.String())
	if remaining != "" {
		sentences = append(sentences, remaining)
	}

	return sentences
}

// isAbbreviation checks if a sentence ends with a common abbreviation
func isAbbreviation(text string) bool {
	abbreviations := []string{
		"mr.", "mrs.", "ms.", "dr.", "prof.",
		"inc.", "ltd.", "corp.",
		"etc.", "e.g.", "i.e.",
		"vs.", "v.",
		"st.", "ave.", "blvd.",
		"no.", "vol.", "pg.",
	}

	lower := strings.ToLower(text)
	for _, abbr := range abbreviations {
		if strings.HasSuffix(lower, abbr) {
			return true
		}
	}
	return false
}

// intToString converts int to string
func intToString(n int) string {
	return strconv.Itoa(n)
}

// copyMetadata creates a copy of metadata map
func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return make(map[string]string)
	}
	result := make(map[string]string, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
