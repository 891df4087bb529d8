package findings

import "strings"

// canonical maps grouped longhands onto the shorthand they are reported as.
var canonical = map[string]string{
	"border-top-color":           "border-color",
	"border-right-color":         "border-color",
	"border-bottom-color":        "border-color",
	"border-left-color":          "border-color",
	"border-top-left-radius":     "border-radius",
	"border-top-right-radius":    "border-radius",
	"border-bottom-right-radius": "border-radius",
	"border-bottom-left-radius":  "border-radius",
}

// Canonical returns the name a property is reported under.
func Canonical(property string) string {
	property = strings.ToLower(property)
	if c, ok := canonical[property]; ok {
		return c
	}
	return property
}

type groupKey struct {
	selector string
	property string
	value    string
}

// Grouper deduplicates violations within one scan. The first violation seen
// for a (selector, canonical property, value) key is admitted and every later
// one with the same key is dropped.
type Grouper struct {
	seen map[groupKey]struct{}
}

// NewGrouper creates an empty Grouper.
func NewGrouper() *Grouper {
	return &Grouper{seen: make(map[groupKey]struct{})}
}

// Admit canonicalizes v and reports whether it is the first of its group.
// On admission v.Property holds the canonical name and v.SourceProperty the
// authored longhand, if different.
func (g *Grouper) Admit(v *Violation) bool {
	authored := strings.ToLower(v.Property)
	property := Canonical(authored)
	key := groupKey{selector: v.Selector, property: property, value: v.Value}
	if _, ok := g.seen[key]; ok {
		return false
	}
	g.seen[key] = struct{}{}

	v.Property = property
	if authored != property {
		v.SourceProperty = authored
	}
	return true
}
