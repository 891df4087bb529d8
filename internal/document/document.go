// Package document holds the in-memory HTML document a scan reads: its element
// tree, its stylesheets in document order, and helpers for the marker attributes
// the engine writes onto flagged elements.
package document

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	// ErrCrossOrigin marks a linked stylesheet from another origin that may not be read.
	ErrCrossOrigin = errors.New("cross-origin stylesheet")
	// ErrNotLoaded marks a linked stylesheet that has not been fetched yet.
	ErrNotLoaded = errors.New("stylesheet not loaded")
	// ErrUnsupportedScheme marks a stylesheet URL the loader cannot fetch.
	ErrUnsupportedScheme = errors.New("unsupported stylesheet scheme")
)

// Stylesheet is one entry of the document's stylesheet list.
type Stylesheet struct {
	Index      int
	Href       string     // resolved URL for linked sheets, empty for inline <style>
	Text       string     // stylesheet source text
	Owner      *html.Node // the <style> or <link> element
	Inline     bool
	Accessible bool
	Err        error // why the sheet is not accessible
}

// Document is a parsed HTML document plus its stylesheets.
type Document struct {
	Source      string
	BaseURL     *url.URL
	Root        *html.Node
	Stylesheets []*Stylesheet
}

// Parse parses an HTML document. Inline <style> sheets are accessible
// immediately; <link rel="stylesheet"> sheets are recorded unresolved and must
// be loaded by a Loader (or filled in by the caller) before scanning.
func Parse(r io.Reader, source string) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing html %s: %w", source, err)
	}

	doc := &Document{
		Source:  source,
		BaseURL: baseURL(source),
		Root:    root,
	}
	doc.collectStylesheets()
	return doc, nil
}

// ParseString is a convenience wrapper around Parse.
func ParseString(src, source string) (*Document, error) {
	return Parse(strings.NewReader(src), source)
}

func baseURL(source string) *url.URL {
	if u, err := url.Parse(source); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return u
	}
	abs, err := filepath.Abs(source)
	if err != nil {
		abs = source
	}
	return &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
}

func (d *Document) collectStylesheets() {
	walk(d.Root, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		switch n.DataAtom {
		case atom.Style:
			d.Stylesheets = append(d.Stylesheets, &Stylesheet{
				Index:      len(d.Stylesheets),
				Text:       TextContent(n),
				Owner:      n,
				Inline:     true,
				Accessible: true,
			})
		case atom.Link:
			rel, _ := Attr(n, "rel")
			href, ok := Attr(n, "href")
			if !ok || !hasToken(rel, "stylesheet") {
				return
			}
			d.Stylesheets = append(d.Stylesheets, &Stylesheet{
				Index: len(d.Stylesheets),
				Href:  d.resolve(href),
				Owner: n,
				Err:   ErrNotLoaded,
			})
		}
	})
}

func (d *Document) resolve(href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil || d.BaseURL == nil {
		return href
	}
	return d.BaseURL.ResolveReference(ref).String()
}

// Elements returns a snapshot of all element nodes in document order.
// Callers hold elements by index into the returned slice.
func (d *Document) Elements() []*html.Node {
	var out []*html.Node
	walk(d.Root, func(n *html.Node) {
		if n.Type == html.ElementNode {
			out = append(out, n)
		}
	})
	return out
}

// Render writes the document, including any marker attributes, as HTML.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.Root)
}

// ClearAttr removes the attribute from every element and returns how many
// elements carried it.
func (d *Document) ClearAttr(key string) int {
	removed := 0
	walk(d.Root, func(n *html.Node) {
		if n.Type == html.ElementNode && RemoveAttr(n, key) {
			removed++
		}
	})
	return removed
}

// FindByAttr returns the first element whose attribute equals value.
func (d *Document) FindByAttr(key, value string) *html.Node {
	var found *html.Node
	walk(d.Root, func(n *html.Node) {
		if found != nil || n.Type != html.ElementNode {
			return
		}
		if v, ok := Attr(n, key); ok && v == value {
			found = n
		}
	})
	return found
}

// Attr returns the value of an attribute on n.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets or replaces an attribute on n.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes an attribute from n and reports whether it was present.
func RemoveAttr(n *html.Node, key string) bool {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return true
		}
	}
	return false
}

// HasAncestorAttr reports whether n or any of its ancestors carries the attribute.
func HasAncestorAttr(n *html.Node, key string) bool {
	for p := n; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		if _, ok := Attr(p, key); ok {
			return true
		}
	}
	return false
}

// TextContent concatenates the text children of n.
func TextContent(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if strings.EqualFold(f, token) {
			return true
		}
	}
	return false
}

func walk(n *html.Node, fn func(*html.Node)) {
	if n == nil {
		return
	}
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}
