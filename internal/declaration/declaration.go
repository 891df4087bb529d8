// Package declaration splits a CSS declaration block into declarations and
// extracts literal authored values from it.
package declaration

import "strings"

// Declaration is one `property: value` entry of a block.
type Declaration struct {
	Property  string // lowercased property name
	Value     string // authored value, trimmed, without !important
	Important bool
}

// Parse splits a declaration block (the text between the braces) on top-level
// semicolons. Quoted strings, parenthesized groups and comments are respected,
// so `url("a;b")` or `/* ; */` never split a declaration. Entries without a
// top-level colon are dropped.
func Parse(block string) []Declaration {
	var out []Declaration
	for _, raw := range splitTopLevel(block, ';') {
		d, ok := parseOne(raw)
		if ok {
			out = append(out, d)
		}
	}
	return out
}

// Last returns the last declaration of property in decls. The match is on the
// exact property name, so "color" never matches "background-color".
func Last(decls []Declaration, property string) (Declaration, bool) {
	property = strings.ToLower(strings.TrimSpace(property))
	for i := len(decls) - 1; i >= 0; i-- {
		if decls[i].Property == property {
			return decls[i], true
		}
	}
	return Declaration{}, false
}

// String formats d as a declaration list entry, without the trailing semicolon.
func (d Declaration) String() string {
	if d.Important {
		return d.Property + ": " + d.Value + " !important"
	}
	return d.Property + ": " + d.Value
}

// Serialize joins decls into a declaration block.
func Serialize(decls []Declaration) string {
	if len(decls) == 0 {
		return ""
	}
	parts := make([]string, len(decls))
	for i, d := range decls {
		parts[i] = d.String()
	}
	return strings.Join(parts, "; ") + ";"
}

// ignoredValues never carry a hardcoded design value.
var ignoredValues = map[string]bool{
	"inherit":      true,
	"initial":      true,
	"transparent":  true,
	"currentcolor": true,
}

// Discarded reports whether an extracted value must be dropped before classification.
func Discarded(value string) bool {
	v := strings.TrimSpace(value)
	return v == "" || ignoredValues[strings.ToLower(v)]
}

func parseOne(raw string) (Declaration, bool) {
	parts := splitTopLevel(raw, ':')
	if len(parts) < 2 {
		return Declaration{}, false
	}
	prop := strings.ToLower(strings.TrimSpace(stripComments(parts[0])))
	if prop == "" {
		return Declaration{}, false
	}

	// Everything after the first top-level colon is the value.
	value := trimComments(raw[len(parts[0])+1:])
	value, important := cutImportant(value)
	return Declaration{Property: prop, Value: trimComments(value), Important: important}, true
}

func cutImportant(value string) (string, bool) {
	lower := strings.ToLower(value)
	idx := strings.LastIndex(lower, "!")
	if idx < 0 {
		return value, false
	}
	if strings.TrimSpace(lower[idx+1:]) != "important" {
		return value, false
	}
	return strings.TrimSpace(value[:idx]), true
}

// splitTopLevel splits s on sep where sep is outside strings, parentheses and
// comments. Comment text stays in the returned pieces.
func splitTopLevel(s string, sep byte) []string {
	var (
		parts   []string
		depth   int
		quote   byte
		start   int
		comment bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case comment:
			if c == '*' && i+1 < len(s) && s[i+1] == '/' {
				comment = false
				i++
			}
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			comment = true
			i++
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	if start <= len(s) {
		parts = append(parts, s[start:])
	}
	if sep == ';' {
		// Drop empty trailing/interior segments.
		kept := parts[:0]
		for _, p := range parts {
			if strings.TrimSpace(p) != "" {
				kept = append(kept, p)
			}
		}
		parts = kept
	}
	return parts
}

// trimComments removes comments surrounding a value but keeps interior text
// intact, so the result is still a verbatim slice of the authored value.
func trimComments(s string) string {
	for {
		s = strings.TrimSpace(s)
		switch {
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s[2:], "*/")
			if end < 0 {
				return ""
			}
			s = s[2+end+2:]
		case strings.HasSuffix(s, "*/"):
			open := strings.LastIndex(s, "/*")
			if open < 0 {
				return s
			}
			s = s[:open]
		default:
			return s
		}
	}
}

func stripComments(s string) string {
	for {
		open := strings.Index(s, "/*")
		if open < 0 {
			return s
		}
		end := strings.Index(s[open+2:], "*/")
		if end < 0 {
			return s[:open]
		}
		s = s[:open] + s[open+2+end+2:]
	}
}
