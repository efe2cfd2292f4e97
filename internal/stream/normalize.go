package stream

import (
	"strings"
	"unicode"
)

// joinPunct is the set of characters that should attach directly to the
// preceding token, stripping any separating whitespace.
const joinPunct = `.,;:!?)]}"'”’%`

// appendDelta appends an upstream delta d to the running buffer b,
// applying token-join normalization: punctuation and hyphen continuations
// attach without an intervening space; everything else is appended as-is.
func appendDelta(b, d string) string {
	if d == "" {
		return b
	}
	if b == "" {
		return d
	}

	dTrimmed := strings.TrimLeft(d, " \t")
	bTrimmed := strings.TrimRight(b, " \t")
	separatorPresent := bTrimmed != b || dTrimmed != d

	if separatorPresent && dTrimmed != "" {
		if startsWithJoinPunct(dTrimmed) {
			return bTrimmed + dTrimmed
		}
		if dTrimmed[0] == '-' && endsWithLetter(bTrimmed) {
			return bTrimmed + dTrimmed
		}
	}

	return b + d
}

func startsWithJoinPunct(s string) bool {
	r := rune(s[0])
	return strings.ContainsRune(joinPunct, r)
}

func endsWithLetter(s string) bool {
	if s == "" {
		return false
	}
	r := []rune(s)
	return unicode.IsLetter(r[len(r)-1])
}
