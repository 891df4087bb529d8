package stylesheet

import (
	"bytes"
	"strings"

	"go.uber.org/zap"

	"github.com/dejo1307/tokenaudit/internal/config"
	"github.com/dejo1307/tokenaudit/internal/declaration"
	"github.com/dejo1307/tokenaudit/internal/document"
	"github.com/dejo1307/tokenaudit/internal/logger"

	sitter "github.com/tree-sitter/go-tree-sitter"
	css "github.com/tree-sitter/tree-sitter-css/bindings/go"
)

// Rule is a style rule with its selector and literal declaration text.
type Rule struct {
	Selector     string `json:"selector"`
	Declarations string `json:"declarations"`
	SheetIndex   int    `json:"sheet_index"`
	RuleIndex    int    `json:"rule_index"`
	// Literal is false when Declarations had to be rebuilt because the
	// authored block did not parse cleanly or contained nested rules.
	Literal bool `json:"literal"`
}

// Collector enumerates the style rules of a document's accessible stylesheets.
type Collector struct {
	ignorePrefixes []string
	uiAttribute    string
	log            *zap.SugaredLogger
}

// NewCollector creates a Collector using the stylesheet filters from cfg.
func NewCollector(cfg *config.Config) *Collector {
	return &Collector{
		ignorePrefixes: cfg.IgnoreStylesheets,
		uiAttribute:    cfg.UIAttribute,
		log:            logger.For(logger.ComponentCollector),
	}
}

// Collect returns the rules of every accessible, foreign stylesheet in
// document order. Inaccessible sheets and the tool's own sheets contribute
// nothing and produce no error.
func (c *Collector) Collect(sheets []*document.Stylesheet) []Rule {
	var rules []Rule
	for _, sheet := range sheets {
		if !sheet.Accessible {
			c.log.Debugf("sheet %d (%s) inaccessible: %v", sheet.Index, sheet.Href, sheet.Err)
			continue
		}
		if c.isOwn(sheet) {
			c.log.Debugf("sheet %d (%s) belongs to tokenaudit, skipping", sheet.Index, sheet.Href)
			continue
		}
		sheetRules := ParseRules([]byte(sheet.Text), sheet.Index)
		c.log.Debugf("sheet %d: %d rules", sheet.Index, len(sheetRules))
		rules = append(rules, sheetRules...)
	}
	return rules
}

func (c *Collector) isOwn(sheet *document.Stylesheet) bool {
	for _, prefix := range c.ignorePrefixes {
		if prefix != "" && strings.HasPrefix(sheet.Href, prefix) {
			return true
		}
	}
	if sheet.Owner != nil && c.uiAttribute != "" {
		return document.HasAncestorAttr(sheet.Owner, c.uiAttribute)
	}
	return false
}

// ParseRules parses stylesheet source and returns its style rules. Rules nested
// in conditional group at-rules (@media, @supports, @layer, @container) are
// included in source order; keyframes, font-face and nested CSS rules are not.
func ParseRules(src []byte, sheetIndex int) []Rule {
	parser := sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(sitter.NewLanguage(css.Language())); err != nil {
		return nil
	}

	tree := parser.Parse(src, nil)
	if tree == nil {
		return nil
	}
	defer tree.Close()

	var rules []Rule
	collectRules(tree.RootNode(), src, sheetIndex, &rules)
	return rules
}

func collectRules(node *sitter.Node, src []byte, sheetIndex int, rules *[]Rule) {
	for i := range node.NamedChildCount() {
		child := node.NamedChild(i)
		switch child.Kind() {
		case "rule_set":
			if r, ok := buildRule(child, src); ok {
				r.SheetIndex = sheetIndex
				r.RuleIndex = len(*rules)
				*rules = append(*rules, r)
			}
		case "media_statement", "supports_statement", "at_rule":
			if isGroupingAtRule(child, src) {
				if block := findChildByKind(child, "block"); block != nil {
					collectRules(block, src, sheetIndex, rules)
				}
			}
		}
	}
}

// isGroupingAtRule reports whether an at-rule wraps ordinary style rules.
func isGroupingAtRule(node *sitter.Node, src []byte) bool {
	switch node.Kind() {
	case "media_statement", "supports_statement":
		return true
	}
	kw := findChildByKind(node, "at_keyword")
	if kw == nil {
		return false
	}
	switch strings.ToLower(nodeText(kw, src)) {
	case "@layer", "@container", "@scope", "@document":
		return true
	}
	return false
}

func buildRule(node *sitter.Node, src []byte) (Rule, bool) {
	selectors := findChildByKind(node, "selectors")
	block := findChildByKind(node, "block")
	if selectors == nil || block == nil {
		return Rule{}, false
	}

	selector := strings.TrimSpace(nodeText(selectors, src))
	if selector == "" {
		return Rule{}, false
	}

	if findChildByKind(block, "rule_set") != nil {
		return Rule{Selector: selector, Declarations: serializeBlock(block, src)}, true
	}
	text := innerText(block, src)
	if block.HasError() {
		return Rule{Selector: selector, Declarations: declaration.Serialize(declaration.Parse(text))}, true
	}
	return Rule{Selector: selector, Declarations: text, Literal: true}, true
}

// innerText returns the authored text between the braces of a block. Error
// recovery can end the block node before its closing brace, in which case the
// text runs on to the next brace in the source.
func innerText(block *sitter.Node, src []byte) string {
	start, end := block.StartByte(), block.EndByte()
	if end == start || src[end-1] != '}' {
		if i := bytes.IndexByte(src[end:], '}'); i >= 0 {
			end += uint(i) + 1
		}
	}
	text := strings.TrimPrefix(string(src[start:end]), "{")
	return strings.TrimSuffix(text, "}")
}

// serializeBlock rebuilds a declaration list from the well-formed declaration
// nodes of a block that also contains nested rules.
func serializeBlock(block *sitter.Node, src []byte) string {
	var parts []string
	for i := range block.NamedChildCount() {
		child := block.NamedChild(i)
		if child.Kind() != "declaration" || child.HasError() {
			continue
		}
		text := strings.TrimSpace(nodeText(child, src))
		text = strings.TrimSuffix(text, ";")
		if text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "; ") + ";"
}

func findChildByKind(node *sitter.Node, kind string) *sitter.Node {
	for i := range node.ChildCount() {
		child := node.Child(i)
		if child.Kind() == kind {
			return child
		}
	}
	return nil
}

func nodeText(node *sitter.Node, src []byte) string {
	return string(src[node.StartByte():node.EndByte()])
}
