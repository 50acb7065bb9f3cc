package bot

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

// FormatWhatsApp converts Markdown produced by the model into WhatsApp
// markup: *bold*, _italic_, ~strike~ and ```mono```.
func FormatWhatsApp(md string) string {
	if strings.TrimSpace(md) == "" {
		return md
	}
	src := []byte(md)
	doc := markdown.Parser().Parse(text.NewReader(src))
	w := &waWriter{src: src}
	return strings.TrimSpace(w.blocks(doc, ""))
}

type waWriter struct {
	src []byte
}

// blocks renders the block children of n separated by blank lines.
func (w *waWriter) blocks(n ast.Node, indent string) string {
	var out []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if s := w.block(c, indent); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n\n")
}

func (w *waWriter) block(n ast.Node, indent string) string {
	switch n := n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		return w.inlines(n)
	case *ast.Heading:
		return "*" + w.inlines(n) + "*"
	case *ast.List:
		return w.list(n, indent)
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		return "```\n" + strings.TrimRight(w.lines(n), "\n") + "\n```"
	case *ast.Blockquote:
		inner := w.blocks(n, "")
		lines := strings.Split(inner, "\n")
		for i, l := range lines {
			lines[i] = "> " + l
		}
		return strings.Join(lines, "\n")
	case *ast.HTMLBlock:
		return strings.TrimRight(w.lines(n), "\n")
	case *ast.ThematicBreak:
		return ""
	default:
		return w.blocks(n, indent)
	}
}

func (w *waWriter) list(l *ast.List, indent string) string {
	var items []string
	i := l.Start
	if i == 0 {
		i = 1
	}
	for c := l.FirstChild(); c != nil; c = c.NextSibling() {
		marker := "- "
		if l.IsOrdered() {
			marker = fmt.Sprintf("%d. ", i)
			i++
		}
		var parts []string
		for b := c.FirstChild(); b != nil; b = b.NextSibling() {
			if nested, ok := b.(*ast.List); ok {
				parts = append(parts, w.list(nested, indent+"  "))
				continue
			}
			if s := w.block(b, indent); s != "" {
				parts = append(parts, s)
			}
		}
		items = append(items, indent+marker+strings.Join(parts, "\n"))
	}
	return strings.Join(items, "\n")
}

func (w *waWriter) lines(n ast.Node) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(w.src))
	}
	return sb.String()
}

func (w *waWriter) inlines(n ast.Node) string {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		sb.WriteString(w.inline(c))
	}
	return sb.String()
}

func (w *waWriter) inline(n ast.Node) string {
	switch n := n.(type) {
	case *ast.Text:
		s := string(n.Segment.Value(w.src))
		if n.SoftLineBreak() || n.HardLineBreak() {
			s += "\n"
		}
		return s
	case *ast.String:
		return string(n.Value)
	case *ast.Emphasis:
		mark := "_"
		if n.Level >= 2 {
			mark = "*"
		}
		return mark + w.inlines(n) + mark
	case *east.Strikethrough:
		return "~" + w.inlines(n) + "~"
	case *ast.CodeSpan:
		return "```" + w.inlines(n) + "```"
	case *ast.Link:
		label := w.inlines(n)
		dest := string(n.Destination)
		if label == "" || label == dest {
			return dest
		}
		return label + " (" + dest + ")"
	case *ast.AutoLink:
		return string(n.URL(w.src))
	case *ast.Image:
		alt := w.inlines(n)
		if alt == "" {
			return string(n.Destination)
		}
		return alt + " (" + string(n.Destination) + ")"
	case *ast.RawHTML:
		var sb strings.Builder
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			sb.Write(seg.Value(w.src))
		}
		return sb.String()
	default:
		return w.inlines(n)
	}
}
