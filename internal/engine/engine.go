package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dejo1307/tokenaudit/internal/config"
	"github.com/dejo1307/tokenaudit/internal/denylist"
	"github.com/dejo1307/tokenaudit/internal/document"
	"github.com/dejo1307/tokenaudit/internal/explainers"
	"github.com/dejo1307/tokenaudit/internal/findings"
	"github.com/dejo1307/tokenaudit/internal/logger"
	"github.com/dejo1307/tokenaudit/internal/metrics"
	"github.com/dejo1307/tokenaudit/internal/renderers"
)

// Generated file names written next to the renderer artifacts.
const (
	ViolationsFile = "violations.jsonl"
	ResultsFile    = "results.json"
	MetaFile       = "scan.meta.json"
)

var (
	// ErrNoReport is returned when no scan has been published yet.
	ErrNoReport = errors.New("no scan report available")
	// ErrNilDocument is returned by Scan when given no document.
	ErrNilDocument = errors.New("nil document")
	// ErrSuperseded is returned by a scan whose results were dropped because a
	// newer scan started before it could publish.
	ErrSuperseded = errors.New("scan superseded by a newer scan")
)

// FlaggedVariableSource supplies the deny-list for a scan. Fetch never fails;
// an unavailable list is an empty list.
type FlaggedVariableSource interface {
	Fetch(ctx context.Context) *denylist.List
}

// Engine runs scans and holds the latest published report.
type Engine struct {
	cfg        *config.Config
	denyList   FlaggedVariableSource
	loader     *document.Loader
	explainers *explainers.Registry
	renderers  *renderers.Registry
	metrics    *metrics.Metrics
	log        *zap.SugaredLogger

	generation atomic.Uint64
	docMu      sync.Mutex // held by the document-touching phases

	mu      sync.RWMutex
	current *scan
	store   *findings.Store
	report  *findings.Report
}

// Option customizes an Engine.
type Option func(*Engine)

// WithDenyList replaces the deny-list source built from the config.
func WithDenyList(src FlaggedVariableSource) Option {
	return func(e *Engine) { e.denyList = src }
}

// WithLoader replaces the document loader used by ScanSource.
func WithLoader(l *document.Loader) Option {
	return func(e *Engine) { e.loader = l }
}

// WithMetrics makes the engine report to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates a new Engine with the given config.
// Explainers and renderers must be registered after creation.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: nil config")
	}
	e := &Engine{
		cfg:        cfg,
		explainers: explainers.NewRegistry(),
		renderers:  renderers.NewRegistry(),
		store:      findings.NewStore(),
		log:        logger.For(logger.ComponentEngine),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.denyList == nil {
		e.denyList = denylist.NewSource(cfg.DenyList, cfg)
	}
	if e.loader == nil {
		e.loader = document.NewLoader(cfg)
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	return e, nil
}

// RegisterExplainer adds an explainer to the engine.
func (e *Engine) RegisterExplainer(exp explainers.Explainer) {
	e.explainers.Register(exp)
}

// RegisterRenderer adds a renderer to the engine.
func (e *Engine) RegisterRenderer(rnd renderers.Renderer) {
	e.renderers.Register(rnd)
}

// Config returns the engine config.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// Store returns the store of the latest published scan.
func (e *Engine) Store() *findings.Store {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store
}

// Report returns the latest published report, or nil.
func (e *Engine) Report() *findings.Report {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.report
}

// State returns the lifecycle state of the most recently started scan.
func (e *Engine) State() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return StateIdle
	}
	return e.current.State()
}

// Generation returns the generation of the most recently started scan.
func (e *Engine) Generation() uint64 {
	return e.generation.Load()
}

// Lookup resolves a violation id to its element locator in the latest report.
func (e *Engine) Lookup(id string) (findings.Locator, bool) {
	return e.Store().Lookup(id)
}

// ScanSource loads the document at source (file path or URL) and scans it.
// A non-nil denyList replaces the engine's deny-list source for this scan.
func (e *Engine) ScanSource(ctx context.Context, source string, denyList FlaggedVariableSource) (*findings.Report, error) {
	if source == "" {
		source = e.cfg.Source
	}
	doc, err := e.loader.Load(ctx, source)
	if err != nil {
		return nil, err
	}
	return e.ScanWith(ctx, doc, denyList)
}

// Scan runs the full pipeline over doc: fetch deny-list -> collect -> match ->
// classify -> aggregate -> explain -> render, then publishes the report if no
// newer scan has started meanwhile.
//
// Internal faults never surface as errors; they produce an empty report with
// Meta.Error set. Errors are returned only for a nil document and for a scan
// that was superseded (ErrSuperseded).
func (e *Engine) Scan(ctx context.Context, doc *document.Document) (*findings.Report, error) {
	return e.ScanWith(ctx, doc, nil)
}

// ScanWith is Scan with a per-call deny-list source; nil uses the engine's.
func (e *Engine) ScanWith(ctx context.Context, doc *document.Document, denyList FlaggedVariableSource) (*findings.Report, error) {
	if denyList == nil {
		denyList = e.denyList
	}
	if doc == nil {
		return nil, ErrNilDocument
	}
	start := time.Now()
	gen := e.generation.Add(1)
	sc := newScan(e.cfg, gen, uuid.NewString(), doc, e.log, e.metrics)

	e.mu.Lock()
	e.current = sc
	e.mu.Unlock()
	e.log.Infof("scan generation %d started for %s", gen, doc.Source)

	// The only suspension point: a newer scan may start while this one waits.
	sc.denyList = denyList.Fetch(ctx)

	e.docMu.Lock()
	defer e.docMu.Unlock()

	if !e.isLatest(gen) {
		return nil, e.discard(sc, start)
	}

	fault := sc.run()
	report := sc.report(start, fault)
	if fault == nil {
		report.Insights, report.Meta.Explainers = e.runExplainers(ctx, sc.store)
		report.Artifacts, report.Meta.Renderers = e.runRenderers(ctx, report, doc)
	}

	e.mu.Lock()
	if gen != e.generation.Load() {
		e.mu.Unlock()
		sc.untag()
		return nil, e.discard(sc, start)
	}
	e.store = sc.store
	e.report = report
	e.mu.Unlock()

	outcome := metrics.OutcomePublished
	if fault != nil {
		outcome = metrics.OutcomeFailed
	}
	e.metrics.ObserveScan(outcome, time.Since(start))
	e.metrics.SetPublishedGeneration(gen)
	e.metrics.SetDenyListSize(sc.denyList.Len())
	for c, vs := range report.Results {
		e.metrics.AddViolations(string(c), len(vs))
	}

	e.log.Infof("scan generation %d: %d violations on %d elements in %s",
		gen, report.Meta.ViolationCount, report.Meta.ElementCount, time.Since(start))
	return report, nil
}

func (e *Engine) isLatest(gen uint64) bool {
	return gen == e.generation.Load()
}

func (e *Engine) discard(sc *scan, start time.Time) error {
	e.metrics.ObserveScan(metrics.OutcomeStale, time.Since(start))
	e.log.Infof("discarding results of scan generation %d: generation %d is newer",
		sc.generation, e.generation.Load())
	return fmt.Errorf("generation %d: %w", sc.generation, ErrSuperseded)
}

// runExplainers runs all enabled explainers.
func (e *Engine) runExplainers(ctx context.Context, store *findings.Store) ([]findings.Insight, []string) {
	allInsights := []findings.Insight{}
	usedNames := []string{}

	for _, exp := range e.explainers.All() {
		if !e.cfg.IsExplainerEnabled(exp.Name()) {
			continue
		}

		insights, err := exp.Explain(ctx, store)
		if err != nil {
			e.log.Warnf("explainer %s error: %v", exp.Name(), err)
			continue
		}

		allInsights = append(allInsights, insights...)
		usedNames = append(usedNames, exp.Name())
		e.log.Debugf("explainer %s: produced %d insights", exp.Name(), len(insights))
	}

	return allInsights, usedNames
}

// runRenderers runs all enabled renderers.
func (e *Engine) runRenderers(ctx context.Context, report *findings.Report, doc *document.Document) ([]findings.Artifact, []string) {
	var artifacts []findings.Artifact
	usedNames := []string{}

	for _, rnd := range e.renderers.All() {
		if !e.cfg.IsRendererEnabled(rnd.Name()) {
			continue
		}

		out, err := rnd.Render(ctx, report, doc)
		if err != nil {
			e.log.Warnf("renderer %s error: %v", rnd.Name(), err)
			continue
		}

		artifacts = append(artifacts, out...)
		usedNames = append(usedNames, rnd.Name())
	}

	return artifacts, usedNames
}

// WriteArtifacts writes all report artifacts to dir (the configured output
// dir when empty), including violations.jsonl, results.json and scan.meta.json.
func (e *Engine) WriteArtifacts(dir string) error {
	e.mu.RLock()
	report, store := e.report, e.store
	e.mu.RUnlock()
	if report == nil {
		return ErrNoReport
	}
	if dir == "" {
		dir = e.cfg.Output.Dir
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	for _, a := range report.Artifacts {
		path := filepath.Join(dir, a.Name)
		if err := os.WriteFile(path, a.Content, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", a.Name, err)
		}
		e.log.Debugf("wrote %s (%d bytes)", path, len(a.Content))
	}

	if err := store.WriteJSONLFile(filepath.Join(dir, ViolationsFile)); err != nil {
		return fmt.Errorf("writing %s: %w", ViolationsFile, err)
	}

	for name, v := range map[string]any{ResultsFile: report.Results, MetaFile: report.Meta} {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}

	e.log.Infof("wrote %d artifacts to %s", len(report.Artifacts)+3, dir)
	return nil
}

// GetArtifact returns the content of a named artifact, or of one of the
// generated JSON/JSONL files.
func (e *Engine) GetArtifact(name string) ([]byte, error) {
	e.mu.RLock()
	report, store := e.report, e.store
	e.mu.RUnlock()
	if report == nil {
		return nil, ErrNoReport
	}

	switch name {
	case ViolationsFile:
		var buf bytes.Buffer
		if err := store.WriteJSONL(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case ResultsFile:
		return json.MarshalIndent(report.Results, "", "  ")
	case MetaFile:
		return json.MarshalIndent(report.Meta, "", "  ")
	default:
		for _, a := range report.Artifacts {
			if a.Name == name {
				return a.Content, nil
			}
		}
		return nil, fmt.Errorf("artifact %q not found", name)
	}
}

// LoadPrevious restores the report written by a previous run from dir so that
// queries can be answered before the first scan. It never replaces a report
// produced by a scan of this engine.
func (e *Engine) LoadPrevious(dir string) error {
	if dir == "" {
		dir = e.cfg.Output.Dir
	}

	data, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		return fmt.Errorf("reading %s: %w", MetaFile, err)
	}
	var meta findings.Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("decoding %s: %w", MetaFile, err)
	}

	store := findings.NewStore()
	if err := store.ReadJSONLFile(filepath.Join(dir, ViolationsFile)); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.report != nil {
		return nil
	}
	e.generation.CompareAndSwap(0, meta.Generation)
	e.store = store
	e.report = &findings.Report{
		Meta:     meta,
		Results:  store.Results(),
		Index:    store.Index(),
		Insights: []findings.Insight{},
	}
	e.log.Infof("restored %d violations from %s (generation %d of a previous run)", store.Count(), dir, meta.Generation)
	return nil
}
