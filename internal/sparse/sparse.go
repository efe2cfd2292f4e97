// Package sparse converts text to sparse term-frequency vectors for BM25-style retrieval.
package sparse

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/spaolacci/murmur3"
)

// MaxIndices bounds the number of distinct hashed terms kept per vector.
const MaxIndices = 256

// Vector is a sparse term-frequency vector: strictly index-ascending,
// indices and values of equal length. Values are raw term counts; IDF
// weighting is the vector store's job at query time.
type Vector struct {
	Indices []uint64
	Values  []uint32
}

// Empty reports whether the vector carries no terms.
func (v Vector) Empty() bool {
	return len(v.Indices) == 0
}

// Encoder tokenizes text and hashes tokens into a bounded sparse vector.
type Encoder struct{}

// NewEncoder returns a stateless sparse encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

type term struct {
	hash  uint64
	count uint32
	first int
}

// Encode produces a deterministic sparse vector for text. Tokens shorter
// than two characters are discarded. When more than MaxIndices distinct
// hashes remain, the lowest-count ones are dropped, ties broken by
// earliest appearance.
func (e *Encoder) Encode(text string) Vector {
	counts := make(map[uint64]*term)
	order := make([]uint64, 0, 64)

	hasher := murmur3.New32WithSeed(0)

	pos := 0
	for _, tok := range tokenize(text) {
		pos++
		if utf8.RuneCountInString(tok) < 2 {
			continue
		}
		hasher.Reset()
		_, _ = hasher.Write([]byte(tok))
		h := uint64(hasher.Sum32())
		t, ok := counts[h]
		if !ok {
			t = &term{hash: h, first: pos}
			counts[h] = t
			order = append(order, h)
		}
		t.count++
	}

	terms := make([]*term, 0, len(order))
	for _, h := range order {
		terms = append(terms, counts[h])
	}

	if len(terms) > MaxIndices {
		sort.SliceStable(terms, func(i, j int) bool {
			if terms[i].count != terms[j].count {
				return terms[i].count > terms[j].count
			}
			return terms[i].first < terms[j].first
		})
		terms = terms[:MaxIndices]
	}

	sort.Slice(terms, func(i, j int) bool { return terms[i].hash < terms[j].hash })

	v := Vector{
		Indices: make([]uint64, len(terms)),
		Values:  make([]uint32, len(terms)),
	}
	for i, t := range terms {
		v.Indices[i] = t.hash
		v.Values[i] = t.count
	}
	return v
}

// tokenize lowercases, strips diacritics to base letters where possible,
// and splits on runs of letters/digits, mirroring a StandardAnalyzer-style
// unicode word tokenizer.
func tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range text {
		r = stripDiacritic(r)
		switch {
		case unicode.IsLetter(r):
			cur.WriteRune(unicode.ToLower(r))
		case unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	return tokens
}

// stripDiacritic maps common Latin accented letters to their base form.
// It is a pragmatic subset, not a full Unicode normalization.
var diacriticFold = map[rune]rune{
	'á': 'a', 'à': 'a', 'â': 'a', 'ä': 'a', 'ã': 'a', 'å': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e',
	'í': 'i', 'ì': 'i', 'î': 'i', 'ï': 'i',
	'ó': 'o', 'ò': 'o', 'ô': 'o', 'ö': 'o', 'õ': 'o',
	'ú': 'u', 'ù': 'u', 'û': 'u', 'ü': 'u',
	'ñ': 'n', 'ç': 'c', 'ý': 'y',
	'Á': 'A', 'À': 'A', 'Â': 'A', 'Ä': 'A', 'Ã': 'A', 'Å': 'A',
	'É': 'E', 'È': 'E', 'Ê': 'E', 'Ë': 'E',
	'Í': 'I', 'Ì': 'I', 'Î': 'I', 'Ï': 'I',
	'Ó': 'O', 'Ò': 'O', 'Ô': 'O', 'Ö': 'O', 'Õ': 'O',
	'Ú': 'U', 'Ù': 'U', 'Û': 'U', 'Ü': 'U',
	'Ñ': 'N', 'Ç': 'C', 'Ý': 'Y',
}

func stripDiacritic(r rune) rune {
	if folded, ok := diacriticFold[r]; ok {
		return folded
	}
	return r
}
