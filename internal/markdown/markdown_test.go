package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender_EmptyInput(t *testing.T) {
	r := NewRenderer()
	assert.Equal(t, "", r.Render(""))
}

func TestRender_BasicMarkdown(t *testing.T) {
	r := NewRenderer()
	out := r.Render("# Title\n\nSome **bold** text.")
	assert.Contains(t, out, "<h1>")
	assert.Contains(t, out, "<strong>bold</strong>")
}

func TestRender_CodeFence(t *testing.T) {
	r := NewRenderer()
	out := r.Render("```go\nfmt.Println(\"hi\")\n```")
	assert.Contains(t, out, "<pre>")
	assert.Contains(t, out, "<code")
}

func TestRender_LinkifyAutoDetectsURLs(t *testing.T) {
	r := NewRenderer()
	out := r.Render("See https://example.com/docs for details.")
	assert.Contains(t, out, `<a href="https://example.com/docs"`)
}
