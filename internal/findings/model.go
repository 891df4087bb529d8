package findings

import "strings"

// Category is the closed set of finding categories.
type Category string

const (
	Colors     Category = "Colors"
	Typography Category = "Typography"
	Spacing    Category = "Spacing"
	Border     Category = "Border"
)

// Categories lists every category in report order.
var Categories = []Category{Colors, Typography, Spacing, Border}

// ParseCategory returns the category with the given name, case-insensitively.
func ParseCategory(name string) (Category, bool) {
	for _, c := range Categories {
		if strings.EqualFold(string(c), name) {
			return c, true
		}
	}
	return "", false
}

// Violation is a hardcoded value, or a deny-listed token reference, authored
// in a rule that applies to an element.
type Violation struct {
	ID             string   `json:"id"`                        // scan-scoped, shared by all violations of one element
	Selector       string   `json:"selector"`                  // element descriptor, e.g. "div#main.card"
	Property       string   `json:"property"`                  // canonical property name
	SourceProperty string   `json:"source_property,omitempty"` // authored longhand when it differs from Property
	Value          string   `json:"value"`                     // verbatim authored value
	Category       Category `json:"category"`
	Path           string   `json:"path"` // ancestor breadcrumb
	RuleSelector   string   `json:"rule_selector,omitempty"`
	SheetIndex     int      `json:"sheet_index"`
	RuleIndex      int      `json:"rule_index"`
	Flagged        bool     `json:"flagged_variable,omitempty"` // value is a deny-listed token reference
}

// Locator is what the id index keeps for each flagged element.
type Locator struct {
	Selector string `json:"selector"`
	Path     string `json:"path"`
}

// TokenUsage records a property that referenced a custom property.
type TokenUsage struct {
	Selector  string `json:"selector"`
	Property  string `json:"property"`
	Reference string `json:"reference"`
}

// Results maps each category to its violations in discovery order.
type Results map[Category][]Violation

// Insight is a post-scan observation produced by an explainer.
type Insight struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Confidence  float64    `json:"confidence"` // 0.0 - 1.0
	Evidence    []Evidence `json:"evidence"`
	Actions     []string   `json:"suggested_actions,omitempty"`
}

// Evidence links an insight back to concrete violations.
type Evidence struct {
	ID       string `json:"id,omitempty"`
	Selector string `json:"selector,omitempty"`
	Property string `json:"property,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Artifact represents a generated output file.
type Artifact struct {
	Name    string `json:"name"` // e.g. "report.md"
	Content []byte `json:"-"`
	Type    string `json:"type"` // MIME type hint
}

// Report holds the complete, published result of one scan.
type Report struct {
	Meta      Meta               `json:"meta"`
	Results   Results            `json:"results"`
	Index     map[string]Locator `json:"index"`
	Usages    []TokenUsage       `json:"token_usages,omitempty"`
	Insights  []Insight          `json:"insights"`
	Artifacts []Artifact         `json:"artifacts"`
}

// Meta describes a scan run.
type Meta struct {
	RunID          string   `json:"run_id"`
	Generation     uint64   `json:"generation"`
	Source         string   `json:"source"`
	GeneratedAt    string   `json:"generated_at"`
	Duration       string   `json:"duration"`
	Stylesheets    int      `json:"stylesheets"`
	Inaccessible   int      `json:"inaccessible_stylesheets"`
	Rules          int      `json:"rules"`
	Elements       int      `json:"elements"`
	ViolationCount int      `json:"violation_count"`
	ElementCount   int      `json:"flagged_element_count"`
	DenyListSize   int      `json:"deny_list_size"`
	Explainers     []string `json:"explainers"`
	Renderers      []string `json:"renderers"`
	Error          string   `json:"error,omitempty"`
}

// Total returns the number of violations across all categories.
func (r Results) Total() int {
	n := 0
	for _, vs := range r {
		n += len(vs)
	}
	return n
}

// Ordered returns all violations, category by category in report order.
func (r Results) Ordered() []Violation {
	var out []Violation
	for _, c := range Categories {
		out = append(out, r[c]...)
	}
	return out
}
