package widget

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"
)

// RenderCapabilities selects how agent markdown is shaped for chat bubbles.
type RenderCapabilities struct {
	// Inline flattens paragraph wrapping to inline flow so bubbles don't
	// gain vertical spacing from <p> margins.
	Inline bool
	// LinksInNewTab makes every link open in a new viewing context, which
	// keeps navigation out of the embedding iframe.
	LinksInNewTab bool
}

// Renderer converts agent message markdown into HTML for the chat bubble.
type Renderer interface {
	Render(markdown string) (string, error)
}

type markdownRenderer struct {
	md goldmark.Markdown
}

// NewMarkdownRenderer builds a goldmark-backed renderer with the given
// capability set applied as node-renderer overrides.
func NewMarkdownRenderer(caps RenderCapabilities) Renderer {
	return &markdownRenderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(
				renderer.WithNodeRenderers(
					util.Prioritized(&bubbleNodeRenderer{caps: caps}, 100),
				),
			),
		),
	}
}

// Render converts markdown to HTML.
func (r *markdownRenderer) Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// bubbleNodeRenderer overrides link and paragraph rendering according to the
// capability set; all other nodes fall through to goldmark's defaults.
type bubbleNodeRenderer struct {
	caps RenderCapabilities
}

func (r *bubbleNodeRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	if r.caps.LinksInNewTab {
		reg.Register(ast.KindLink, r.renderLink)
	}
	if r.caps.Inline {
		reg.Register(ast.KindParagraph, r.renderParagraph)
	}
}

func (r *bubbleNodeRenderer) renderLink(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		_, _ = w.WriteString("</a>")
		return ast.WalkContinue, nil
	}

	n := node.(*ast.Link)
	_, _ = w.WriteString(`<a href="`)
	if !html.IsDangerousURL(n.Destination) {
		_, _ = w.Write(util.EscapeHTML(util.URLEscape(n.Destination, true)))
	}
	_ = w.WriteByte('"')
	if n.Title != nil {
		_, _ = w.WriteString(` title="`)
		_, _ = w.Write(util.EscapeHTML(n.Title))
		_ = w.WriteByte('"')
	}
	_, _ = w.WriteString(` target="_blank" rel="noopener noreferrer">`)
	return ast.WalkContinue, nil
}

func (r *bubbleNodeRenderer) renderParagraph(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	// No <p> wrapper; paragraphs after the first become a line break.
	if entering && node.PreviousSibling() != nil {
		_, _ = w.WriteString("<br>")
	}
	return ast.WalkContinue, nil
}
