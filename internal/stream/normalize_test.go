package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestAppendDelta_S5 follows the spec scenario exactly.
func TestAppendDelta_S5(t *testing.T) {
	tokens := []string{"bytecode", " ", ".", " Use", " general", " -purpose"}
	var buf string
	for _, tok := range tokens {
		buf = appendDelta(buf, tok)
	}
	assert.Equal(t, "bytecode. Use general-purpose", buf)
}

func TestAppendDelta_StripsSpaceBeforeClosingParen(t *testing.T) {
	buf := appendDelta("(see note ", ")")
	assert.Equal(t, "(see note)", buf)
}

func TestAppendDelta_ContractionNoExtraSpace(t *testing.T) {
	var buf string
	buf = appendDelta(buf, "don")
	buf = appendDelta(buf, "'t")
	assert.Equal(t, "don't", buf)
}

func TestAppendDelta_EmptyDeltaNoop(t *testing.T) {
	assert.Equal(t, "hello", appendDelta("hello", ""))
}

func TestAppendDelta_EmptyBufferReturnsDelta(t *testing.T) {
	assert.Equal(t, "hello", appendDelta("", "hello"))
}

func TestAppendDelta_OrdinaryWordsKeepSpace(t *testing.T) {
	buf := appendDelta("hello", " world")
	assert.Equal(t, "hello world", buf)
}
