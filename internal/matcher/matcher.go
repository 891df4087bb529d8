package matcher

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/dejo1307/tokenaudit/internal/document"
	"github.com/dejo1307/tokenaudit/internal/logger"
	"github.com/dejo1307/tokenaudit/internal/stylesheet"
)

// nonVisual tags never render boxes and are excluded before matching.
var nonVisual = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"meta":     true,
	"link":     true,
	"title":    true,
	"head":     true,
	"base":     true,
	"template": true,
}

// Match is a rule that applies to an element.
type Match struct {
	Rule        int // index into the rule list given to Bind
	Specificity cascadia.Specificity
}

// Binding associates an element (by index into the element snapshot) with the
// rules it matches, in rule order.
type Binding struct {
	Element int
	Rules   []Match
}

type compiledSelector struct {
	group cascadia.SelectorGroup
	err   error
}

// Matcher binds elements to rules for a single scan. Its caches are only valid
// while the document is not mutated, so a Matcher must not outlive its scan.
type Matcher struct {
	uiAttribute string
	depth       int
	selectors   *lru.Cache[string, compiledSelector]
	descriptors map[string]string
	log         *zap.SugaredLogger

	invalid int
}

// Options configures a Matcher.
type Options struct {
	UIAttribute     string
	BreadcrumbDepth int
	CacheSize       int
}

// New creates a Matcher.
func New(opts Options) (*Matcher, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.BreadcrumbDepth <= 0 {
		opts.BreadcrumbDepth = 4
	}
	cache, err := lru.New[string, compiledSelector](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating selector cache: %w", err)
	}
	return &Matcher{
		uiAttribute: opts.UIAttribute,
		depth:       opts.BreadcrumbDepth,
		selectors:   cache,
		descriptors: make(map[string]string),
		log:         logger.For(logger.ComponentMatcher),
	}, nil
}

// Bind matches every eligible element against every rule in one pass. Only
// elements with at least one matching rule get a Binding.
func (m *Matcher) Bind(elements []*html.Node, rules []stylesheet.Rule) []Binding {
	var bindings []Binding
	for i, el := range elements {
		if !m.Eligible(el) {
			continue
		}
		var matches []Match
		for ri, rule := range rules {
			if spec, ok := m.match(el, rule.Selector); ok {
				matches = append(matches, Match{Rule: ri, Specificity: spec})
			}
		}
		if len(matches) > 0 {
			bindings = append(bindings, Binding{Element: i, Rules: matches})
		}
	}
	if m.invalid > 0 {
		m.log.Debugf("%d selectors could not be compiled and match nothing", m.invalid)
	}
	return bindings
}

// Eligible reports whether el takes part in matching: visual, and not part of
// the tool's own UI.
func (m *Matcher) Eligible(el *html.Node) bool {
	if el == nil || el.Type != html.ElementNode {
		return false
	}
	if nonVisual[strings.ToLower(el.Data)] {
		return false
	}
	if m.uiAttribute != "" && document.HasAncestorAttr(el, m.uiAttribute) {
		return false
	}
	return true
}

// match reports whether el matches the selector group and, if so, the highest
// specificity among the matching selectors. Invalid selectors and selectors
// targeting pseudo-elements never match.
func (m *Matcher) match(el *html.Node, selector string) (cascadia.Specificity, bool) {
	compiled := m.compile(selector)
	if compiled.err != nil {
		return cascadia.Specificity{}, false
	}

	var (
		best    cascadia.Specificity
		matched bool
	)
	for _, sel := range compiled.group {
		if sel.PseudoElement() != "" {
			continue
		}
		if !sel.Match(el) {
			continue
		}
		spec := sel.Specificity()
		if !matched || best.Less(spec) {
			best = spec
		}
		matched = true
	}
	return best, matched
}

func (m *Matcher) compile(selector string) compiledSelector {
	if c, ok := m.selectors.Get(selector); ok {
		return c
	}
	group, err := cascadia.ParseGroup(selector)
	c := compiledSelector{group: group, err: err}
	if err != nil {
		m.invalid++
		m.log.Debugf("invalid selector %q: %v", selector, err)
	}
	m.selectors.Add(selector, c)
	return c
}

// Descriptor returns a selector-like label for el: tag, #id and .classes.
// Labels are cached per (tag, id, class) so repeated shapes such as table rows
// are built once.
func (m *Matcher) Descriptor(el *html.Node) string {
	tag := strings.ToLower(el.Data)
	id, _ := document.Attr(el, "id")
	class, _ := document.Attr(el, "class")

	key := tag + "\x00" + id + "\x00" + class
	if d, ok := m.descriptors[key]; ok {
		return d
	}

	var sb strings.Builder
	sb.WriteString(tag)
	if id = strings.TrimSpace(id); id != "" {
		sb.WriteString("#")
		sb.WriteString(id)
	}
	for _, c := range strings.Fields(class) {
		sb.WriteString(".")
		sb.WriteString(c)
	}
	d := sb.String()
	m.descriptors[key] = d
	return d
}

// Breadcrumb returns the descriptor chain from el up to, but excluding, <body>,
// outermost first, bounded to the configured depth.
func (m *Matcher) Breadcrumb(el *html.Node) string {
	var segments []string
	for n := el; n != nil && len(segments) < m.depth; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		tag := strings.ToLower(n.Data)
		if tag == "body" || tag == "html" {
			break
		}
		segments = append(segments, m.Descriptor(n))
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return strings.Join(segments, " > ")
}
