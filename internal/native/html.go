package native

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/mattjoyce/transformd/internal/command"
)

// OptExtract selects what HTMLToText keeps: "article" (default) runs
// readability and falls back to all visible text when it finds nothing;
// "all" always keeps all visible text.
const OptExtract = "extract"

// HTMLToText extracts readable text from an HTML document.
func HTMLToText(_ context.Context, src, dst string, opts command.Options) error {
	doc, err := readText(src, opts[OptSourceEncoding])
	if err != nil {
		return err
	}
	if strings.TrimSpace(doc) == "" {
		return os.WriteFile(dst, nil, 0o644)
	}

	mode := strings.ToLower(strings.TrimSpace(opts[OptExtract]))
	var text string
	switch mode {
	case "", "article":
		text = articleText(doc, src)
		if text == "" {
			text, err = visibleText(doc)
		}
	case "all":
		text, err = visibleText(doc)
	default:
		return fmt.Errorf("option %s: unknown mode %q", OptExtract, mode)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(dst, []byte(text), 0o644)
}

// articleText returns the title and main content found by readability, or ""
// when it finds nothing.
func articleText(doc, src string) string {
	abs, err := filepath.Abs(src)
	if err != nil {
		abs = src
	}
	pageURL := &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}

	art, err := readability.FromReader(strings.NewReader(doc), pageURL)
	if err != nil {
		return ""
	}
	body := normalizeLines(art.TextContent)
	if body == "" {
		return ""
	}
	if title := strings.TrimSpace(art.Title); title != "" && !strings.HasPrefix(body, title) {
		return title + "\n\n" + body
	}
	return body
}

// visibleText returns every text node outside script-like elements, with
// block elements on their own lines.
func visibleText(doc string) (string, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.DataAtom] {
			b.WriteByte('\n')
		}
	}
	walk(root)
	return normalizeLines(b.String()), nil
}

var blockElements = map[atom.Atom]bool{
	atom.Title: true, atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Tr: true, atom.Table: true, atom.Section: true, atom.Article: true,
	atom.Header: true, atom.Footer: true, atom.Blockquote: true, atom.Pre: true,
}

// normalizeLines collapses runs of whitespace inside lines and drops blank
// lines. The result ends with a newline unless empty.
func normalizeLines(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
