// Package versionhint detects a Java version token in a user query and
// produces a boosted query plus server- and client-side filter hints.
package versionhint

import (
	"fmt"
	"regexp"
)

const preambleFmt = "JDK %s Java SE %s Java %s release features documentation: "

var versionPattern = regexp.MustCompile(`(?i)(?:java se|javase|java|jdk)[\s-]*([0-9]{1,3})\b`)

// Hint carries the server-side filter and the client-side fallback when
// the store cannot apply the filter itself.
type Hint struct {
	DocVersion  string
	URLTokens   []string
	TextTokens  []string
}

// Result is the output of Extract: the (possibly boosted) query and an
// optional filter hint.
type Result struct {
	Query string
	Hint  *Hint
}

// Extract detects a trailing version number after a Java/JDK token and
// returns a boosted query plus a filter hint. When no version is found,
// Query equals the input unchanged and Hint is nil.
func Extract(query string) Result {
	m := versionPattern.FindStringSubmatch(query)
	if m == nil {
		return Result{Query: query}
	}

	v := m[1]
	return Result{
		Query: fmt.Sprintf(preambleFmt, v, v, v) + query,
		Hint: &Hint{
			DocVersion: v,
			URLTokens: []string{
				"java" + v, "jdk" + v, "java-" + v, "jdk-" + v, "/javase/" + v,
			},
			TextTokens: []string{
				"java se " + v, "jdk " + v,
			},
		},
	}
}
