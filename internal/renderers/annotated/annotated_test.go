package annotated

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dejo1307/tokenaudit/internal/document"
	"github.com/dejo1307/tokenaudit/internal/findings"
)

const (
	marker = "data-token-audit-id"
	ui     = "data-token-audit-ui"
)

func TestRender_AnnotatesFlaggedElements(t *testing.T) {
	doc, err := document.ParseString(`<html><head></head><body><p data-token-audit-id="tv-1-1">hi</p><span>ok</span></body></html>`, "page.html")
	require.NoError(t, err)

	report := &findings.Report{
		Results: findings.Results{
			findings.Colors:  {{ID: "tv-1-1", Selector: "p", Property: "color", Value: "#ff0000", Category: findings.Colors}},
			findings.Spacing: {{ID: "tv-1-1", Selector: "p", Property: "margin", Value: "4px", Category: findings.Spacing}},
		},
	}

	artifacts, err := New(marker, ui).Render(context.Background(), report, doc)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, AnnotatedFile, artifacts[0].Name)

	out, err := document.ParseString(string(artifacts[0].Content), "annotated.html")
	require.NoError(t, err)

	p := out.FindByAttr(marker, "tv-1-1")
	require.NotNil(t, p)
	title, ok := document.Attr(p, "title")
	require.True(t, ok)
	assert.Contains(t, title, "color: #ff0000 (Colors)")
	assert.Contains(t, title, "margin: 4px (Spacing)")

	style := out.FindByAttr(ui, "highlight")
	require.NotNil(t, style)
	assert.True(t, strings.Contains(document.TextContent(style), "[data-token-audit-id]"))
}

func TestRender_LeavesSourceDocumentUntouched(t *testing.T) {
	src := `<html><head></head><body><p data-token-audit-id="tv-1-1">hi</p></body></html>`
	doc, err := document.ParseString(src, "page.html")
	require.NoError(t, err)

	report := &findings.Report{Results: findings.Results{
		findings.Colors: {{ID: "tv-1-1", Property: "color", Value: "red", Category: findings.Colors}},
	}}
	_, err = New(marker, ui).Render(context.Background(), report, doc)
	require.NoError(t, err)

	p := doc.FindByAttr(marker, "tv-1-1")
	require.NotNil(t, p)
	_, ok := document.Attr(p, "title")
	assert.False(t, ok)
	assert.Nil(t, doc.FindByAttr(ui, "highlight"))
}

func TestRender_NilDocument(t *testing.T) {
	artifacts, err := New(marker, ui).Render(context.Background(), &findings.Report{}, nil)
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}
