package markdown

import (
	"context"
	"fmt"
	"strings"

	"github.com/dejo1307/tokenaudit/internal/document"
	"github.com/dejo1307/tokenaudit/internal/findings"
)

// ReportFile is the artifact name of the markdown report.
const ReportFile = "report.md"

// MarkdownRenderer produces a compact markdown report of a scan.
type MarkdownRenderer struct {
	maxTokens int
}

// New creates a new MarkdownRenderer with the given token budget.
func New(maxTokens int) *MarkdownRenderer {
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	return &MarkdownRenderer{maxTokens: maxTokens}
}

func (r *MarkdownRenderer) Name() string {
	return "markdown"
}

// section holds a rendered section with its display name.
type section struct {
	name    string
	content string
}

// Render produces report.md using progressive summarization. Sections are
// ordered by priority; lower-priority sections are omitted first when the
// token budget is tight.
func (r *MarkdownRenderer) Render(ctx context.Context, report *findings.Report, _ *document.Document) ([]findings.Artifact, error) {
	sections := []section{
		{"Summary", r.renderSummary(report)},
	}
	for _, c := range findings.Categories {
		sections = append(sections, section{string(c), r.renderCategory(c, report.Results[c])})
	}
	sections = append(sections,
		section{"Token Suggestions", r.renderInsights(report)},
		section{"Element Index", r.renderIndex(report)},
		section{"Meta", r.renderMeta(report)},
	)

	header := "# Design Token Audit\n\n"
	maxChars := r.maxTokens * 4 // rough estimate: 1 token ~= 4 chars
	remaining := maxChars - len(header)

	var sb strings.Builder
	sb.WriteString(header)

	for i, sec := range sections {
		if sec.content == "" {
			continue
		}
		if len(sec.content) <= remaining {
			sb.WriteString(sec.content)
			remaining -= len(sec.content)
			continue
		}
		if remaining > 200 {
			cut := lastLineBreak(sec.content, remaining-100)
			sb.WriteString(sec.content[:cut])
			sb.WriteString(fmt.Sprintf("\n\n---\n*[Truncated in: %s]*\n", sec.name))
			break
		}
		var omitted []string
		for _, s := range sections[i:] {
			if s.content != "" {
				omitted = append(omitted, s.name)
			}
		}
		sb.WriteString(fmt.Sprintf("\n\n---\n*[Omitted: %s]*\n", strings.Join(omitted, ", ")))
		break
	}

	return []findings.Artifact{
		{
			Name:    ReportFile,
			Content: []byte(sb.String()),
			Type:    "text/markdown",
		},
	}, nil
}

func (r *MarkdownRenderer) renderSummary(report *findings.Report) string {
	var sb strings.Builder
	sb.WriteString("## Summary\n\n")

	if report.Meta.Error != "" {
		sb.WriteString(fmt.Sprintf("**Scan failed:** %s\n\n", report.Meta.Error))
	}

	sb.WriteString(fmt.Sprintf("Source: `%s`\n\n", report.Meta.Source))
	sb.WriteString("| Category | Violations |\n")
	sb.WriteString("|----------|------------|\n")
	for _, c := range findings.Categories {
		sb.WriteString(fmt.Sprintf("| %s | %d |\n", c, len(report.Results[c])))
	}
	sb.WriteString(fmt.Sprintf("| **Total** | **%d** |\n\n", report.Results.Total()))

	sb.WriteString(fmt.Sprintf("%d flagged elements, %d rules from %d stylesheets",
		report.Meta.ElementCount, report.Meta.Rules, report.Meta.Stylesheets))
	if report.Meta.Inaccessible > 0 {
		sb.WriteString(fmt.Sprintf(" (%d inaccessible, skipped)", report.Meta.Inaccessible))
	}
	sb.WriteString(".\n\n")
	return sb.String()
}

func (r *MarkdownRenderer) renderCategory(c findings.Category, vs []findings.Violation) string {
	if len(vs) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s\n\n", c))
	sb.WriteString("| ID | Element | Property | Value | Rule |\n")
	sb.WriteString("|----|---------|----------|-------|------|\n")
	for _, v := range vs {
		property := v.Property
		if v.SourceProperty != "" {
			property = fmt.Sprintf("%s (%s)", v.Property, v.SourceProperty)
		}
		value := fmt.Sprintf("`%s`", v.Value)
		if v.Flagged {
			value += " (deny-listed)"
		}
		sb.WriteString(fmt.Sprintf("| %s | `%s` | %s | %s | `%s` |\n",
			v.ID, escape(v.Selector), property, escape(value), escape(v.RuleSelector)))
	}
	sb.WriteString("\n")
	return sb.String()
}

func (r *MarkdownRenderer) renderInsights(report *findings.Report) string {
	if len(report.Insights) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Token Suggestions\n\n")
	for _, in := range report.Insights {
		sb.WriteString(fmt.Sprintf("- **%s** (confidence: %.0f%%): %s\n", in.Title, in.Confidence*100, in.Description))
		for _, a := range in.Actions {
			sb.WriteString(fmt.Sprintf("  - %s\n", a))
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

func (r *MarkdownRenderer) renderIndex(report *findings.Report) string {
	if len(report.Index) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Element Index\n\n")
	for _, id := range orderedIDs(report) {
		loc := report.Index[id]
		path := loc.Path
		if path == "" {
			path = loc.Selector
		}
		sb.WriteString(fmt.Sprintf("- `%s`: `%s`\n", id, path))
	}
	sb.WriteString("\n")
	return sb.String()
}

func (r *MarkdownRenderer) renderMeta(report *findings.Report) string {
	var sb strings.Builder
	sb.WriteString("---\n\n")
	sb.WriteString(fmt.Sprintf("*Run %s (generation %d) at %s in %s. %d violations, %d insights.*\n",
		report.Meta.RunID, report.Meta.Generation, report.Meta.GeneratedAt, report.Meta.Duration,
		report.Meta.ViolationCount, len(report.Insights)))
	return sb.String()
}

// orderedIDs lists ids in the order their first violation was discovered.
func orderedIDs(report *findings.Report) []string {
	seen := make(map[string]bool, len(report.Index))
	var ids []string
	for _, v := range report.Results.Ordered() {
		if v.ID != "" && !seen[v.ID] {
			seen[v.ID] = true
			ids = append(ids, v.ID)
		}
	}
	return ids
}

// lastLineBreak returns the position after the last newline at or before
// limit, or limit when there is none.
func lastLineBreak(s string, limit int) int {
	if limit <= 0 {
		return 0
	}
	if limit > len(s) {
		limit = len(s)
	}
	if i := strings.LastIndexByte(s[:limit], '\n'); i >= 0 {
		return i + 1
	}
	return limit
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
