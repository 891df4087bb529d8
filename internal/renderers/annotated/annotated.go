package annotated

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/dejo1307/tokenaudit/internal/document"
	"github.com/dejo1307/tokenaudit/internal/findings"
)

// AnnotatedFile is the artifact name of the annotated document.
const AnnotatedFile = "annotated.html"

var headSelector = cascadia.MustCompile("head")

// AnnotatedRenderer writes a copy of the scanned document in which every
// flagged element is outlined and carries a tooltip listing its violations.
type AnnotatedRenderer struct {
	markerAttr string
	uiAttr     string
}

// New creates an AnnotatedRenderer. markerAttr is the attribute carrying
// violation ids; uiAttr marks the injected highlight stylesheet so that a
// rescan of the output ignores it.
func New(markerAttr, uiAttr string) *AnnotatedRenderer {
	return &AnnotatedRenderer{markerAttr: markerAttr, uiAttr: uiAttr}
}

func (r *AnnotatedRenderer) Name() string {
	return "annotated_html"
}

// Render leaves doc untouched; annotations are applied to a reparsed copy.
func (r *AnnotatedRenderer) Render(ctx context.Context, report *findings.Report, doc *document.Document) ([]findings.Artifact, error) {
	if doc == nil {
		return nil, nil
	}

	var buf bytes.Buffer
	if err := doc.Render(&buf); err != nil {
		return nil, fmt.Errorf("rendering document: %w", err)
	}
	cp, err := document.Parse(&buf, doc.Source)
	if err != nil {
		return nil, err
	}

	tips := make(map[string][]string)
	for _, v := range report.Results.Ordered() {
		tips[v.ID] = append(tips[v.ID], fmt.Sprintf("%s: %s (%s)", v.Property, v.Value, v.Category))
	}
	for id, lines := range tips {
		if n := cp.FindByAttr(r.markerAttr, id); n != nil {
			document.SetAttr(n, "title", strings.Join(lines, "\n"))
		}
	}

	if head := headSelector.MatchFirst(cp.Root); head != nil {
		head.AppendChild(r.highlightStyle())
	}

	var out bytes.Buffer
	if err := cp.Render(&out); err != nil {
		return nil, fmt.Errorf("rendering annotated document: %w", err)
	}
	return []findings.Artifact{
		{
			Name:    AnnotatedFile,
			Content: out.Bytes(),
			Type:    "text/html",
		},
	}, nil
}

func (r *AnnotatedRenderer) highlightStyle() *html.Node {
	style := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Style,
		Data:     "style",
		Attr:     []html.Attribute{{Key: r.uiAttr, Val: "highlight"}},
	}
	style.AppendChild(&html.Node{
		Type: html.TextNode,
		Data: fmt.Sprintf("[%s] { outline: 2px dashed #d00000; outline-offset: 1px; }", r.markerAttr),
	})
	return style
}
