// Package render converts markdown document content to HTML for the
// rendered presentation mode. Pure content in, HTML out; styling and theme
// concerns stay with the host.
package render

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Renderer converts markdown to HTML.
type Renderer struct {
	md goldmark.Markdown
}

// New creates a markdown renderer with GitHub-flavored extensions.
func New() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

// HTML renders markdown content to an HTML fragment.
func (r *Renderer) HTML(content string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}
