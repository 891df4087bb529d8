// Package classify decides whether an authored property value is a hardcoded
// design value and which category it belongs to.
package classify

import (
	"regexp"
	"strings"

	"github.com/dejo1307/tokenaudit/internal/findings"
)

// PropertyCheck is one row of the fixed table of inspected properties.
type PropertyCheck struct {
	Property string
	Category findings.Category
}

// Checks is the ordered property table. Iteration order decides which member
// of a grouped property is recorded first.
var Checks = []PropertyCheck{
	{"color", findings.Colors},
	{"background-color", findings.Colors},
	{"border-color", findings.Colors},
	{"border-top-color", findings.Colors},
	{"border-right-color", findings.Colors},
	{"border-bottom-color", findings.Colors},
	{"border-left-color", findings.Colors},
	{"outline-color", findings.Colors},

	{"font-size", findings.Typography},
	{"font-weight", findings.Typography},
	{"line-height", findings.Typography},

	{"margin", findings.Spacing},
	{"margin-top", findings.Spacing},
	{"margin-right", findings.Spacing},
	{"margin-bottom", findings.Spacing},
	{"margin-left", findings.Spacing},
	{"padding", findings.Spacing},
	{"padding-top", findings.Spacing},
	{"padding-right", findings.Spacing},
	{"padding-bottom", findings.Spacing},
	{"padding-left", findings.Spacing},

	{"border-radius", findings.Border},
	{"border-top-left-radius", findings.Border},
	{"border-top-right-radius", findings.Border},
	{"border-bottom-right-radius", findings.Border},
	{"border-bottom-left-radius", findings.Border},
}

var (
	hexColor   = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
	funcColor  = regexp.MustCompile(`(?i)^(?:rgba?|hsla?)\([^()]*\)$`)
	pxLength   = regexp.MustCompile(`(?i)^[-+]?(?:\d+\.?\d*|\.\d+)px$`)
	bareInt    = regexp.MustCompile(`^\d+$`)
	lineHeight = regexp.MustCompile(`(?i)^(?:\d+\.?\d*|\.\d+)(?:em|%|px)?$`)
	zeroNumber = regexp.MustCompile(`^[-+]?(?:0+\.?0*|\.0+)px$`)
	varRef     = regexp.MustCompile(`(?i)^var\(\s*--`)
)

// neutralColors are never reported. Compared after lowercasing and removing
// whitespace.
var neutralColors = map[string]bool{
	"#000":                true,
	"#000000":             true,
	"#fff":                true,
	"#ffffff":             true,
	"rgb(0,0,0)":          true,
	"rgb(255,255,255)":    true,
	"rgba(0,0,0,0)":       true,
	"rgba(255,255,255,1)": true,
}

// IsTokenReference reports whether value is a `var(--…)` reference.
func IsTokenReference(value string) bool {
	return varRef.MatchString(strings.TrimSpace(value))
}

// IsNeutralColor reports whether value is on the neutral allowlist.
func IsNeutralColor(value string) bool {
	return neutralColors[normalize(value)]
}

type rule struct {
	category findings.Category
	applies  func(property string) bool
	matches  func(property, value string) bool
}

// rules are evaluated top to bottom; the first rule that applies and matches
// fixes the category.
var rules = []rule{
	{
		category: findings.Colors,
		applies:  isColorProperty,
		matches: func(_, v string) bool {
			return (hexColor.MatchString(v) || funcColor.MatchString(v)) && !IsNeutralColor(v)
		},
	},
	{
		category: findings.Spacing,
		applies: func(p string) bool {
			return strings.HasPrefix(p, "margin") || strings.HasPrefix(p, "padding")
		},
		matches: func(_, v string) bool {
			for _, part := range strings.Fields(v) {
				if pxLength.MatchString(part) && !zeroNumber.MatchString(part) {
					return true
				}
			}
			return false
		},
	},
	{
		category: findings.Typography,
		applies: func(p string) bool {
			return p == "font-size" || p == "font-weight" || p == "line-height"
		},
		matches: func(p, v string) bool {
			switch p {
			case "font-size":
				return pxLength.MatchString(v)
			case "font-weight":
				return bareInt.MatchString(v)
			default:
				return lineHeight.MatchString(v)
			}
		},
	},
	{
		category: findings.Border,
		applies:  isRadiusProperty,
		matches: func(_, v string) bool {
			for _, part := range strings.Fields(strings.ReplaceAll(v, "/", " ")) {
				if pxLength.MatchString(part) {
					return true
				}
			}
			return false
		},
	},
}

// Classify decides whether a literal value of property is a hardcoded value.
// Token references are never hardcoded values; they go through the deny-list
// check instead.
func Classify(property, value string) (findings.Category, bool) {
	property = strings.ToLower(strings.TrimSpace(property))
	value = strings.TrimSpace(value)
	if value == "" || IsTokenReference(value) {
		return "", false
	}
	for _, r := range rules {
		if !r.applies(property) {
			continue
		}
		if r.matches(property, value) {
			return r.category, true
		}
		return "", false
	}
	return "", false
}

func isColorProperty(p string) bool {
	return p == "color" || p == "background-color" || p == "outline-color" ||
		p == "border-color" || (strings.HasPrefix(p, "border-") && strings.HasSuffix(p, "-color"))
}

func isRadiusProperty(p string) bool {
	return p == "border-radius" || (strings.HasPrefix(p, "border-") && strings.HasSuffix(p, "-radius"))
}

func normalize(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), "")
}
