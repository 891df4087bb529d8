package suggestions

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dejo1307/tokenaudit/internal/findings"
)

// maxEvidence bounds the evidence attached to one insight.
const maxEvidence = 10

// SuggestionExplainer proposes design tokens for literal values that recur
// across elements, and reports deny-listed tokens still in use.
type SuggestionExplainer struct {
	minOccurrences int
}

// New creates a SuggestionExplainer. Values hardcoded on fewer than
// minOccurrences distinct elements are not reported.
func New(minOccurrences int) *SuggestionExplainer {
	if minOccurrences < 2 {
		minOccurrences = 2
	}
	return &SuggestionExplainer{minOccurrences: minOccurrences}
}

func (e *SuggestionExplainer) Name() string {
	return "suggestions"
}

type group struct {
	category   findings.Category
	value      string
	selectors  map[string]struct{}
	properties []string
	violations []findings.Violation
}

func (g *group) add(v findings.Violation) {
	g.selectors[v.Selector] = struct{}{}
	g.violations = append(g.violations, v)
	for _, p := range g.properties {
		if p == v.Property {
			return
		}
	}
	g.properties = append(g.properties, v.Property)
}

// Explain groups violations by (category, value) and emits an insight per
// group that is large enough, plus one per deny-listed reference.
func (e *SuggestionExplainer) Explain(ctx context.Context, store *findings.Store) ([]findings.Insight, error) {
	literals := make(map[string]*group)
	denied := make(map[string]*group)

	for _, v := range store.All() {
		target := literals
		if v.Flagged {
			target = denied
		}
		key := string(v.Category) + "\x00" + normalize(v.Value)
		g, ok := target[key]
		if !ok {
			g = &group{category: v.Category, value: v.Value, selectors: make(map[string]struct{})}
			target[key] = g
		}
		g.add(v)
	}

	var insights []findings.Insight
	for _, g := range sorted(denied) {
		insights = append(insights, findings.Insight{
			Title:       fmt.Sprintf("Deny-listed token %s in use", g.value),
			Description: fmt.Sprintf("%s is on the deny-list but is still referenced by %d element(s) through %s.", g.value, len(g.selectors), strings.Join(g.properties, ", ")),
			Confidence:  1.0,
			Evidence:    evidence(g),
			Actions:     []string{fmt.Sprintf("Replace %s with its successor token", g.value)},
		})
	}

	for _, g := range sorted(literals) {
		n := len(g.selectors)
		if n < e.minOccurrences {
			continue
		}
		token := tokenName(g.category, g.value)
		insights = append(insights, findings.Insight{
			Title:       fmt.Sprintf("Repeated %s value %s", g.category, g.value),
			Description: fmt.Sprintf("%s is hardcoded on %d elements (%s). A shared token would keep these in sync.", g.value, n, strings.Join(g.properties, ", ")),
			Confidence:  confidence(n, e.minOccurrences),
			Evidence:    evidence(g),
			Actions: []string{
				fmt.Sprintf("Introduce %s: %s and reference it as var(%s)", token, g.value, token),
			},
		})
	}
	return insights, nil
}

// sorted orders groups by element count, then category and value.
func sorted(groups map[string]*group) []*group {
	out := make([]*group, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].selectors) != len(out[j].selectors) {
			return len(out[i].selectors) > len(out[j].selectors)
		}
		if out[i].category != out[j].category {
			return out[i].category < out[j].category
		}
		return out[i].value < out[j].value
	})
	return out
}

func evidence(g *group) []findings.Evidence {
	var ev []findings.Evidence
	for _, v := range g.violations {
		if len(ev) == maxEvidence {
			break
		}
		ev = append(ev, findings.Evidence{
			ID:       v.ID,
			Selector: v.Selector,
			Property: v.Property,
			Detail:   v.Path,
		})
	}
	return ev
}

func confidence(n, threshold int) float64 {
	c := 0.5 + 0.1*float64(n-threshold)
	if c > 0.95 {
		c = 0.95
	}
	return c
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// tokenName proposes a custom property name such as --color-ff0000 or
// --spacing-12px.
func tokenName(c findings.Category, value string) string {
	prefix := map[findings.Category]string{
		findings.Colors:     "color",
		findings.Typography: "type",
		findings.Spacing:    "spacing",
		findings.Border:     "radius",
	}[c]
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(value), "-"), "-")
	return "--" + prefix + "-" + slug
}

func normalize(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), "")
}
