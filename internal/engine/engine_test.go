package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dejo1307/tokenaudit/internal/config"
	"github.com/dejo1307/tokenaudit/internal/denylist"
	"github.com/dejo1307/tokenaudit/internal/document"
	"github.com/dejo1307/tokenaudit/internal/findings"
	"github.com/dejo1307/tokenaudit/internal/metrics"
	"github.com/dejo1307/tokenaudit/internal/renderers/markdown"
)

// --- helpers ---

type staticDenyList struct {
	list *denylist.List
}

func (s staticDenyList) Fetch(context.Context) *denylist.List {
	return s.list
}

// gatedDenyList blocks the first Fetch until release is closed.
type gatedDenyList struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func newGatedDenyList() *gatedDenyList {
	return &gatedDenyList{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedDenyList) Fetch(context.Context) *denylist.List {
	if g.calls.Add(1) == 1 {
		close(g.entered)
		<-g.release
	}
	return denylist.New(nil)
}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Dir = t.TempDir()
	opts = append([]Option{WithDenyList(staticDenyList{}), WithMetrics(metrics.New())}, opts...)
	eng, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng
}

func page(t *testing.T, css, body string) *document.Document {
	t.Helper()
	doc, err := document.ParseString("<html><head><style>"+css+"</style></head><body>"+body+"</body></html>", "page.html")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func mustScan(t *testing.T, eng *Engine, doc *document.Document) *findings.Report {
	t.Helper()
	report, err := eng.Scan(context.Background(), doc)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	return report
}

func withoutIDs(r findings.Results) findings.Results {
	out := findings.Results{}
	for c, vs := range r {
		for _, v := range vs {
			v.ID = ""
			out[c] = append(out[c], v)
		}
	}
	return out
}

func markers(doc *document.Document, attr string) []string {
	var ids []string
	for _, el := range doc.Elements() {
		if v, ok := document.Attr(el, attr); ok {
			ids = append(ids, v)
		}
	}
	return ids
}

// --- tests ---

func TestNew_NilConfig(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestScan_NilDocument(t *testing.T) {
	eng := newEngine(t)
	if _, err := eng.Scan(context.Background(), nil); !errors.Is(err, ErrNilDocument) {
		t.Errorf("err = %v, want ErrNilDocument", err)
	}
}

func TestScan_NeutralColorsNeverFlagged(t *testing.T) {
	eng := newEngine(t)
	doc := page(t,
		`p { color: #fff; background-color: rgba(0, 0, 0, 0); border-color: #000000; outline-color: rgb(255,255,255) }`,
		`<p>text</p>`)

	report := mustScan(t, eng, doc)
	if total := report.Results.Total(); total != 0 {
		t.Errorf("got %d violations, want 0: %+v", total, report.Results)
	}
}

func TestScan_ZeroSpacingIgnored(t *testing.T) {
	eng := newEngine(t)
	doc := page(t,
		`.a { margin: 0px } .b { margin: 4px }`,
		`<div class="a"></div><div class="b"></div>`)

	report := mustScan(t, eng, doc)
	spacing := report.Results[findings.Spacing]
	if len(spacing) != 1 {
		t.Fatalf("got %d spacing violations, want 1: %+v", len(spacing), spacing)
	}
	if spacing[0].Selector != "div.b" || spacing[0].Value != "4px" {
		t.Errorf("violation = %+v", spacing[0])
	}
}

func TestScan_BorderSidesCollapse(t *testing.T) {
	eng := newEngine(t)
	doc := page(t,
		`div { border-top-color: #ff0000; border-right-color: #ff0000; border-bottom-color: #ff0000; border-left-color: #ff0000 }`,
		`<div></div>`)

	report := mustScan(t, eng, doc)
	colors := report.Results[findings.Colors]
	if len(colors) != 1 {
		t.Fatalf("got %d color violations, want 1: %+v", len(colors), colors)
	}
	v := colors[0]
	if v.Property != "border-color" || v.Value != "#ff0000" || v.SourceProperty != "border-top-color" {
		t.Errorf("violation = %+v", v)
	}
}

func TestScan_RadiusLonghandsWithDistinctValues(t *testing.T) {
	eng := newEngine(t)
	doc := page(t,
		`div { border-radius: 1px; border-top-left-radius: 2px; border-top-right-radius: 3px; border-bottom-right-radius: 5px; border-bottom-left-radius: 6px }`,
		`<div></div>`)

	report := mustScan(t, eng, doc)
	border := report.Results[findings.Border]
	if len(border) != 5 {
		t.Fatalf("got %d border violations, want 5: %+v", len(border), border)
	}
	for _, v := range border {
		if v.Property != "border-radius" {
			t.Errorf("property = %q, want border-radius", v.Property)
		}
	}
	if report.Meta.ElementCount != 1 {
		t.Errorf("element count = %d, want 1", report.Meta.ElementCount)
	}
}

func TestScan_DenyListedReferences(t *testing.T) {
	eng := newEngine(t, WithDenyList(staticDenyList{denylist.New([]string{"var(--legacy-red)"})}))
	doc := page(t,
		`.legacy { color: var(--legacy-red) } .brand { color: var(--brand-red) }`,
		`<span class="legacy"></span><span class="brand"></span>`)

	report := mustScan(t, eng, doc)
	colors := report.Results[findings.Colors]
	if len(colors) != 1 {
		t.Fatalf("got %d color violations, want 1: %+v", len(colors), colors)
	}
	v := colors[0]
	if v.Selector != "span.legacy" || v.Property != "color" || v.Value != "var(--legacy-red)" || !v.Flagged {
		t.Errorf("violation = %+v", v)
	}
	if len(report.Usages) != 2 {
		t.Errorf("usages = %d, want 2", len(report.Usages))
	}
	if report.Meta.DenyListSize != 1 {
		t.Errorf("deny-list size = %d, want 1", report.Meta.DenyListSize)
	}
}

func TestScan_CascadeWinner(t *testing.T) {
	tests := []struct {
		name string
		css  string
		body string
		want string
	}{
		{
			"important beats specificity",
			`p { color: #111111 !important } p.x { color: #222222 }`,
			`<p class="x"></p>`,
			"#111111",
		},
		{
			"specificity beats order",
			`#a { margin: 4px } div { margin: 8px }`,
			`<div id="a"></div>`,
			"4px",
		},
		{
			"later rule wins on equal specificity",
			`p { font-size: 12px } p { font-size: 14px }`,
			`<p></p>`,
			"14px",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newEngine(t)
			report := mustScan(t, eng, page(t, tt.css, tt.body))
			all := report.Results.Ordered()
			if len(all) != 1 {
				t.Fatalf("got %d violations, want 1: %+v", len(all), all)
			}
			if all[0].Value != tt.want {
				t.Errorf("value = %q, want %q", all[0].Value, tt.want)
			}
		})
	}
}

func TestScan_ValuesReportedVerbatim(t *testing.T) {
	eng := newEngine(t)
	report := mustScan(t, eng, page(t, `p { color: #FF0000; padding: 0 12px }`, `<p></p>`))

	if got := report.Results[findings.Colors][0].Value; got != "#FF0000" {
		t.Errorf("color value = %q, want #FF0000", got)
	}
	if got := report.Results[findings.Spacing][0].Value; got != "0 12px" {
		t.Errorf("padding value = %q, want %q", got, "0 12px")
	}
}

func TestScan_ToolUIIgnored(t *testing.T) {
	eng := newEngine(t)
	doc, err := document.ParseString(`<html><head>
<style data-token-audit-ui="panel">p { color: #ff0000 }</style>
<style>.card { margin: 4px }</style>
</head><body><div data-token-audit-ui="panel"><div class="card"></div></div></body></html>`, "page.html")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	report := mustScan(t, eng, doc)
	if total := report.Results.Total(); total != 0 {
		t.Errorf("got %d violations, want 0: %+v", total, report.Results)
	}
}

func TestScan_InaccessibleStylesheetSkipped(t *testing.T) {
	eng := newEngine(t)
	doc, err := document.ParseString(`<html><head>
<link rel="stylesheet" href="https://cdn.example.com/theme.css">
<style>p { margin: 4px }</style>
</head><body><p></p></body></html>`, "page.html")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	report := mustScan(t, eng, doc)
	if report.Meta.Inaccessible != 1 {
		t.Errorf("inaccessible = %d, want 1", report.Meta.Inaccessible)
	}
	if report.Results.Total() != 1 {
		t.Errorf("got %d violations, want 1", report.Results.Total())
	}
	if report.Meta.Error != "" {
		t.Errorf("unexpected error: %s", report.Meta.Error)
	}
}

func TestScan_MarkersAndLookup(t *testing.T) {
	eng := newEngine(t)
	doc := page(t, `.a { margin: 4px } .b { color: #123456 }`,
		`<main><div class="a"></div><span class="b"></span></main>`)

	report := mustScan(t, eng, doc)
	if len(report.Index) != 2 {
		t.Fatalf("index size = %d, want 2", len(report.Index))
	}
	for id, loc := range report.Index {
		el := doc.FindByAttr(eng.Config().MarkerAttribute, id)
		if el == nil {
			t.Errorf("no element carries id %s", id)
			continue
		}
		got, ok := eng.Lookup(id)
		if !ok || got != loc {
			t.Errorf("Lookup(%s) = %+v, %v", id, got, ok)
		}
		if !strings.HasPrefix(loc.Path, "main > ") {
			t.Errorf("path = %q, want main > ...", loc.Path)
		}
	}
	if _, ok := eng.Lookup("tv-9-9"); ok {
		t.Error("unknown id must not resolve")
	}
}

func TestScan_RescanIdenticalExceptIDs(t *testing.T) {
	eng := newEngine(t)
	doc := page(t, `.a { margin: 4px; color: #ff0000 } .b { border-radius: 3px }`,
		`<div class="a"></div><div class="b"></div><div class="a"></div>`)

	first := mustScan(t, eng, doc)
	second := mustScan(t, eng, doc)

	a, b := withoutIDs(first.Results), withoutIDs(second.Results)
	for _, c := range findings.Categories {
		if len(a[c]) != len(b[c]) {
			t.Fatalf("%s: %d vs %d violations", c, len(a[c]), len(b[c]))
		}
		for i := range a[c] {
			if a[c][i] != b[c][i] {
				t.Errorf("%s[%d]: %+v vs %+v", c, i, a[c][i], b[c][i])
			}
		}
	}

	ids := markers(doc, eng.Config().MarkerAttribute)
	if len(ids) != second.Meta.ElementCount {
		t.Errorf("markers = %d, want %d", len(ids), second.Meta.ElementCount)
	}
	for _, id := range ids {
		if !strings.HasPrefix(id, "tv-2-") {
			t.Errorf("stale marker %s left from the first scan", id)
		}
		if _, ok := second.Index[id]; !ok {
			t.Errorf("marker %s not in the published index", id)
		}
	}
}

func TestScan_SupersededScanDiscarded(t *testing.T) {
	gate := newGatedDenyList()
	eng := newEngine(t, WithDenyList(gate))
	stale := page(t, `p { margin: 4px }`, `<p></p>`)
	fresh := page(t, `p { margin: 8px }`, `<p></p>`)

	errc := make(chan error, 1)
	go func() {
		_, err := eng.Scan(context.Background(), stale)
		errc <- err
	}()
	<-gate.entered

	report := mustScan(t, eng, fresh)
	close(gate.release)

	select {
	case err := <-errc:
		if !errors.Is(err, ErrSuperseded) {
			t.Errorf("stale scan err = %v, want ErrSuperseded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stale scan did not return")
	}

	published := eng.Report()
	if published != report || published.Meta.Generation != 2 {
		t.Errorf("published generation = %d, want 2", published.Meta.Generation)
	}
	if got := published.Results[findings.Spacing][0].Value; got != "8px" {
		t.Errorf("published value = %q, want 8px", got)
	}
	if ids := markers(stale, eng.Config().MarkerAttribute); len(ids) != 0 {
		t.Errorf("stale scan left markers: %v", ids)
	}
}

func TestScan_ConcurrentScansPublishLatest(t *testing.T) {
	eng := newEngine(t)

	docs := make([]*document.Document, 4)
	for i := range docs {
		docs[i] = page(t, `p { margin: 4px }`, `<p></p>`)
	}

	var wg sync.WaitGroup
	for _, doc := range docs {
		wg.Add(1)
		go func(doc *document.Document) {
			defer wg.Done()
			_, err := eng.Scan(context.Background(), doc)
			if err != nil && !errors.Is(err, ErrSuperseded) {
				t.Errorf("Scan: %v", err)
			}
		}(doc)
	}
	wg.Wait()

	report := eng.Report()
	if report == nil {
		t.Fatal("no report published")
	}
	if report.Meta.Generation != eng.Generation() {
		t.Errorf("published generation %d, latest %d", report.Meta.Generation, eng.Generation())
	}
}

func TestScan_LifecycleState(t *testing.T) {
	eng := newEngine(t)
	if got := eng.State(); got != StateIdle {
		t.Errorf("state before scan = %q, want %q", got, StateIdle)
	}
	mustScan(t, eng, page(t, `p { margin: 4px }`, `<p></p>`))
	if got := eng.State(); got != StateDone {
		t.Errorf("state after scan = %q, want %q", got, StateDone)
	}
}

func TestScan_RendersEnabledArtifacts(t *testing.T) {
	eng := newEngine(t)
	eng.RegisterRenderer(markdown.New(4000))

	report := mustScan(t, eng, page(t, `p { margin: 4px }`, `<p></p>`))
	if len(report.Meta.Renderers) != 1 || report.Meta.Renderers[0] != "markdown" {
		t.Errorf("renderers = %v", report.Meta.Renderers)
	}
	content, err := eng.GetArtifact(markdown.ReportFile)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if !strings.Contains(string(content), "## Spacing") {
		t.Error("markdown report lacks the Spacing section")
	}
}

func TestGetArtifact(t *testing.T) {
	eng := newEngine(t)
	if _, err := eng.GetArtifact(ViolationsFile); !errors.Is(err, ErrNoReport) {
		t.Errorf("err = %v, want ErrNoReport", err)
	}

	mustScan(t, eng, page(t, `p { margin: 4px }`, `<p></p>`))
	for _, name := range []string{ViolationsFile, ResultsFile, MetaFile} {
		data, err := eng.GetArtifact(name)
		if err != nil || len(data) == 0 {
			t.Errorf("GetArtifact(%s) = %d bytes, %v", name, len(data), err)
		}
	}
	if _, err := eng.GetArtifact("missing.txt"); err == nil {
		t.Error("expected error for unknown artifact")
	}
}

func TestWriteArtifactsAndLoadPrevious(t *testing.T) {
	eng := newEngine(t)
	report := mustScan(t, eng, page(t, `.a { margin: 4px } .b { color: #ff0000 }`,
		`<div class="a"></div><p class="b"></p>`))

	dir := t.TempDir()
	if err := eng.WriteArtifacts(dir); err != nil {
		t.Fatalf("WriteArtifacts: %v", err)
	}
	for _, name := range []string{ViolationsFile, ResultsFile, MetaFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}

	restored := newEngine(t)
	if err := restored.LoadPrevious(dir); err != nil {
		t.Fatalf("LoadPrevious: %v", err)
	}
	got := restored.Report()
	if got == nil {
		t.Fatal("no report after LoadPrevious")
	}
	if got.Meta.RunID != report.Meta.RunID || got.Results.Total() != report.Results.Total() {
		t.Errorf("restored meta = %+v", got.Meta)
	}
	if restored.Generation() != report.Meta.Generation {
		t.Errorf("generation = %d, want %d", restored.Generation(), report.Meta.Generation)
	}
	for id := range report.Index {
		if _, ok := restored.Lookup(id); !ok {
			t.Errorf("id %s not restored", id)
		}
	}

	// A fresh scan on the restored engine never reuses a restored id.
	next := mustScan(t, restored, page(t, `p { margin: 4px }`, `<p></p>`))
	for id := range next.Index {
		if _, clash := report.Index[id]; clash {
			t.Errorf("id %s reused after restore", id)
		}
	}
}

func TestLoadPrevious_MissingDir(t *testing.T) {
	eng := newEngine(t)
	if err := eng.LoadPrevious(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing output dir")
	}
	if eng.Report() != nil {
		t.Error("failed restore must not publish a report")
	}
}

func scanCount(t *testing.T, m *metrics.Metrics, outcome string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != "tokenaudit_scans_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == outcome {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestScan_InternalFaultYieldsEmptyReport(t *testing.T) {
	m := metrics.New()
	eng := newEngine(t, WithMetrics(m))
	doc := page(t, `.a { margin: 4px; color: #ff0000 }`, `<div class="a"></div>`)

	mustScan(t, eng, doc)
	if got := markers(doc, eng.Config().MarkerAttribute); len(got) != 1 {
		t.Fatalf("markers after first scan = %v, want 1", got)
	}

	// A nil sheet makes the collect phase fault.
	doc.Stylesheets = append(doc.Stylesheets, nil)

	report, err := eng.Scan(context.Background(), doc)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got := eng.State(); got != StateError {
		t.Errorf("state = %q, want %q", got, StateError)
	}
	if !strings.HasPrefix(report.Meta.Error, "scan panicked:") {
		t.Errorf("meta error = %q", report.Meta.Error)
	}
	if total := report.Results.Total(); total != 0 {
		t.Errorf("got %d violations, want 0", total)
	}
	if len(report.Index) != 0 {
		t.Errorf("index size = %d, want 0", len(report.Index))
	}
	if got := markers(doc, eng.Config().MarkerAttribute); len(got) != 0 {
		t.Errorf("markers left after fault: %v", got)
	}
	if eng.Report() != report {
		t.Error("failed scan must still publish its empty report")
	}
	if got := scanCount(t, m, metrics.OutcomeFailed); got != 1 {
		t.Errorf("failed scans = %v, want 1", got)
	}
}
