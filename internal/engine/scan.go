package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/dejo1307/tokenaudit/internal/classify"
	"github.com/dejo1307/tokenaudit/internal/config"
	"github.com/dejo1307/tokenaudit/internal/declaration"
	"github.com/dejo1307/tokenaudit/internal/denylist"
	"github.com/dejo1307/tokenaudit/internal/document"
	"github.com/dejo1307/tokenaudit/internal/findings"
	"github.com/dejo1307/tokenaudit/internal/matcher"
	"github.com/dejo1307/tokenaudit/internal/metrics"
	"github.com/dejo1307/tokenaudit/internal/stylesheet"
)

// scan is the working state of one scan. Nothing in it outlives the scan
// except the store, which the engine publishes.
type scan struct {
	generation uint64
	runID      string
	cfg        *config.Config
	doc        *document.Document
	denyList   *denylist.List
	lifecycle  *fsm.FSM
	log        *zap.SugaredLogger
	metrics    *metrics.Metrics

	rules    []stylesheet.Rule
	parsed   map[int][]declaration.Declaration // rule index -> declarations
	elements []*html.Node
	matcher  *matcher.Matcher
	bindings []matcher.Binding

	grouper *findings.Grouper
	store   *findings.Store
	ids     map[int]string // element index -> id
	order   []int          // flagged element indices in id order

	inaccessible int
	phaseStart   time.Time
	phase        string
}

func newScan(cfg *config.Config, generation uint64, runID string, doc *document.Document, log *zap.SugaredLogger, m *metrics.Metrics) *scan {
	s := &scan{
		generation: generation,
		runID:      runID,
		cfg:        cfg,
		doc:        doc,
		log:        log,
		metrics:    m,
		parsed:     make(map[int][]declaration.Declaration),
		grouper:    findings.NewGrouper(),
		store:      findings.NewStore(),
		ids:        make(map[int]string),
	}
	s.lifecycle = newLifecycle(log, s.enter)
	return s
}

func (s *scan) enter(state string) {
	now := time.Now()
	if s.phase != "" && s.metrics != nil {
		s.metrics.ObservePhase(s.phase, now.Sub(s.phaseStart))
	}
	s.phase, s.phaseStart = state, now
	if state == StateDone || state == StateError {
		s.phase = ""
	}
}

// State returns the lifecycle state of the scan.
func (s *scan) State() string {
	return s.lifecycle.Current()
}

// advance fires a lifecycle event. Transitions are driven with a background
// context; cancellation never interrupts a scan midway.
func (s *scan) advance(event string) error {
	if err := s.lifecycle.Event(context.Background(), event); err != nil {
		return fmt.Errorf("scan transition %s from %s: %w", event, s.lifecycle.Current(), err)
	}
	return nil
}

// run executes the document-touching phases. The caller holds the document
// lock. A fault in any phase is recovered, leaves the scan in the error state,
// and is returned as the error detail.
func (s *scan) run() (fault error) {
	defer func() {
		if r := recover(); r != nil {
			fault = fmt.Errorf("scan panicked: %v", r)
		}
		if fault != nil {
			s.fail(fault)
		}
	}()

	steps := []struct {
		event string
		fn    func() error
	}{
		{EventCollect, s.collect},
		{EventMatch, s.match},
		{EventClassify, s.classify},
		{EventAggregate, s.aggregate},
	}
	for _, step := range steps {
		if err := s.advance(step.event); err != nil {
			return err
		}
		if err := step.fn(); err != nil {
			return err
		}
	}
	return s.advance(EventFinish)
}

func (s *scan) fail(err error) {
	s.log.Errorf("scan generation %d failed: %v", s.generation, err)
	if s.lifecycle.Can(EventFail) {
		if ferr := s.lifecycle.Event(context.Background(), EventFail); ferr != nil {
			s.log.Warnf("entering error state: %v", ferr)
		}
	}
	// Leave no partial result behind.
	s.store.Clear()
	s.untag()
}

// collect clears the previous scan's markers and enumerates the rules of every
// accessible foreign stylesheet.
func (s *scan) collect() error {
	if cleared := s.doc.ClearAttr(s.cfg.MarkerAttribute); cleared > 0 {
		s.log.Debugf("cleared %d stale markers", cleared)
	}

	for _, sheet := range s.doc.Stylesheets {
		if !sheet.Accessible {
			s.inaccessible++
		}
	}
	s.rules = stylesheet.NewCollector(s.cfg).Collect(s.doc.Stylesheets)
	if s.metrics != nil {
		s.metrics.ObserveStylesheets(len(s.doc.Stylesheets)-s.inaccessible, s.inaccessible)
		s.metrics.AddRules(len(s.rules))
	}
	s.log.Debugf("collected %d rules from %d stylesheets (%d inaccessible)",
		len(s.rules), len(s.doc.Stylesheets), s.inaccessible)
	return nil
}

// match snapshots the element tree and binds every element to its rules.
func (s *scan) match() error {
	m, err := matcher.New(matcher.Options{
		UIAttribute:     s.cfg.UIAttribute,
		BreadcrumbDepth: s.cfg.BreadcrumbDepth,
		CacheSize:       s.cfg.SelectorCacheSize,
	})
	if err != nil {
		return err
	}
	s.matcher = m
	s.elements = s.doc.Elements()
	s.bindings = m.Bind(s.elements, s.rules)
	s.log.Debugf("%d of %d elements matched at least one rule", len(s.bindings), len(s.elements))
	return nil
}

// candidate is one rule's literal declaration of a property on an element.
type candidate struct {
	decl        declaration.Declaration
	rule        int
	specificity cascadia.Specificity
}

// wins reports whether c overrides other in the cascade.
func (c candidate) wins(other candidate) bool {
	if c.decl.Important != other.decl.Important {
		return c.decl.Important
	}
	if c.specificity != other.specificity {
		return other.specificity.Less(c.specificity)
	}
	return c.rule > other.rule
}

// classify walks bindings in document order and properties in check-table
// order, so discovery order is stable for an unchanged document.
func (s *scan) classify() error {
	for _, b := range s.bindings {
		el := s.elements[b.Element]
		for _, check := range classify.Checks {
			c, ok := s.winner(b, check.Property)
			if !ok || declaration.Discarded(c.decl.Value) {
				continue
			}
			s.check(b.Element, el, check, c)
		}
	}
	return nil
}

func (s *scan) winner(b matcher.Binding, property string) (candidate, bool) {
	var (
		best  candidate
		found bool
	)
	for _, m := range b.Rules {
		decl, ok := s.lookup(m.Rule, property)
		if !ok {
			continue
		}
		c := candidate{decl: decl, rule: m.Rule, specificity: m.Specificity}
		if !found || c.wins(best) {
			best, found = c, true
		}
	}
	return best, found
}

// lookup returns the last declaration of property in a rule, parsing each
// rule's block at most once per scan.
func (s *scan) lookup(rule int, property string) (declaration.Declaration, bool) {
	decls, ok := s.parsed[rule]
	if !ok {
		decls = declaration.Parse(s.rules[rule].Declarations)
		s.parsed[rule] = decls
	}
	return declaration.Last(decls, property)
}

func (s *scan) check(idx int, el *html.Node, check classify.PropertyCheck, c candidate) {
	value := c.decl.Value
	selector := s.matcher.Descriptor(el)

	var (
		category findings.Category
		flagged  bool
		denied   bool
	)
	if classify.IsTokenReference(value) {
		s.store.RecordUsage(findings.TokenUsage{Selector: selector, Property: check.Property, Reference: value})
		if !s.denyList.Contains(value) {
			return
		}
		category, flagged, denied = check.Category, true, true
	} else {
		category, flagged = classify.Classify(check.Property, value)
	}
	if !flagged {
		return
	}

	rule := s.rules[c.rule]
	v := findings.Violation{
		Selector:     selector,
		Property:     check.Property,
		Value:        value,
		Category:     category,
		RuleSelector: rule.Selector,
		SheetIndex:   rule.SheetIndex,
		RuleIndex:    rule.RuleIndex,
		Flagged:      denied,
	}
	if !s.grouper.Admit(&v) {
		return
	}
	v.ID = s.idFor(idx)
	v.Path = s.matcher.Breadcrumb(el)
	s.store.Add(v)
}

// idFor returns the element's id, assigning the next one on first use.
func (s *scan) idFor(idx int) string {
	if id, ok := s.ids[idx]; ok {
		return id
	}
	id := fmt.Sprintf("tv-%d-%d", s.generation, len(s.order)+1)
	s.ids[idx] = id
	s.order = append(s.order, idx)
	return id
}

// aggregate tags every flagged element with its id in a separate pass over
// the owned element snapshot.
func (s *scan) aggregate() error {
	if s.cfg.MarkerAttribute == "" {
		return nil
	}
	for _, idx := range s.order {
		document.SetAttr(s.elements[idx], s.cfg.MarkerAttribute, s.ids[idx])
	}
	return nil
}

// untag removes the markers this scan wrote.
func (s *scan) untag() {
	if s.cfg.MarkerAttribute == "" {
		return
	}
	prefix := fmt.Sprintf("tv-%d-", s.generation)
	for _, idx := range s.order {
		el := s.elements[idx]
		if v, ok := document.Attr(el, s.cfg.MarkerAttribute); ok && strings.HasPrefix(v, prefix) {
			document.RemoveAttr(el, s.cfg.MarkerAttribute)
		}
	}
}

// report assembles the scan's published artifact.
func (s *scan) report(start time.Time, fault error) *findings.Report {
	results := s.store.Results()
	meta := findings.Meta{
		RunID:          s.runID,
		Generation:     s.generation,
		Source:         s.doc.Source,
		GeneratedAt:    time.Now().UTC().Format(time.RFC3339),
		Duration:       time.Since(start).String(),
		Stylesheets:    len(s.doc.Stylesheets),
		Inaccessible:   s.inaccessible,
		Rules:          len(s.rules),
		Elements:       len(s.elements),
		ViolationCount: results.Total(),
		ElementCount:   len(s.store.IDs()),
		DenyListSize:   s.denyList.Len(),
		Explainers:     []string{},
		Renderers:      []string{},
	}
	if fault != nil {
		meta.Error = fault.Error()
	}
	return &findings.Report{
		Meta:    meta,
		Results: results,
		Index:   s.store.Index(),
		Usages:  s.store.Usages(),
	}
}
