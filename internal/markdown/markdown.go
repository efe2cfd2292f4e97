// Package markdown renders the final assistant turn from raw markdown to
// HTML before it is persisted to session history.
package markdown

import (
	mdparse "gitlab.com/golang-commonmark/markdown"
)

// Renderer converts raw markdown text to HTML. It is safe for concurrent
// use; the underlying parser holds no per-call mutable state.
type Renderer struct {
	md *mdparse.Markdown
}

// NewRenderer builds a Renderer configured for chat responses: HTML
// passthrough disabled, links auto-detected, typographic quotes enabled.
func NewRenderer() *Renderer {
	md := mdparse.New(
		mdparse.HTML(false),
		mdparse.Linkify(true),
		mdparse.Typographer(true),
		mdparse.Tables(true),
		mdparse.XHTMLOutput(false),
	)
	return &Renderer{md: md}
}

// Render converts raw markdown to HTML. Empty input renders to empty
// output.
func (r *Renderer) Render(raw string) string {
	if raw == "" {
		return ""
	}
	return r.md.RenderToString([]byte(raw))
}
