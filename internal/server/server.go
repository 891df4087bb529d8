package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/dejo1307/tokenaudit/internal/config"
	"github.com/dejo1307/tokenaudit/internal/denylist"
	"github.com/dejo1307/tokenaudit/internal/engine"
	"github.com/dejo1307/tokenaudit/internal/findings"
	"github.com/dejo1307/tokenaudit/internal/logger"
	"github.com/dejo1307/tokenaudit/internal/renderers/markdown"
	"github.com/dejo1307/tokenaudit/internal/renderers/sarifreport"
)

// Server wraps the MCP server and connects it to the scan engine.
type Server struct {
	mcp *mcp.Server
	eng *engine.Engine
	cfg *config.Config
	log *zap.SugaredLogger
}

// New creates a new MCP server wired to the given engine.
func New(eng *engine.Engine, cfg *config.Config) (*Server, error) {
	if eng == nil || cfg == nil {
		return nil, errors.New("server: engine and config are required")
	}
	s := &Server{
		eng: eng,
		cfg: cfg,
		log: logger.For(logger.ComponentServer),
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "tokenaudit",
		Version: "0.1.0",
	}, nil)

	s.registerResources()
	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("starting MCP server on stdio transport")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// resource describes one scan artifact exposed as an MCP resource.
type resource struct {
	uri      string
	name     string
	desc     string
	artifact string
	mime     string
}

var resources = []resource{
	{"tokens://scan/report", "Token Audit Report", "Markdown summary of the latest scan", markdown.ReportFile, "text/markdown"},
	{"tokens://scan/results", "Token Audit Results", "Violations of the latest scan grouped by category", engine.ResultsFile, "application/json"},
	{"tokens://scan/sarif", "Token Audit SARIF", "Violations of the latest scan as a SARIF 2.1.0 log", sarifreport.ResultsFile, "application/sarif+json"},
	{"tokens://scan/meta", "Scan Metadata", "Metadata about the latest scan", engine.MetaFile, "application/json"},
}

// registerResources adds MCP resources for scan artifacts.
func (s *Server) registerResources() {
	for _, r := range resources {
		s.mcp.AddResource(&mcp.Resource{
			URI:         r.uri,
			Name:        r.name,
			Description: r.desc,
			MIMEType:    r.mime,
		}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			content, err := s.readArtifact(r.artifact)
			if err != nil {
				return nil, err
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{
					{URI: req.Params.URI, Text: string(content), MIMEType: r.mime},
				},
			}, nil
		})
	}
}

func (s *Server) readArtifact(name string) ([]byte, error) {
	content, err := s.eng.GetArtifact(name)
	if err != nil {
		return nil, fmt.Errorf("no scan available: %w (run scan_document first)", err)
	}
	return content, nil
}

// scanDocumentArgs are the arguments for the scan_document tool.
type scanDocumentArgs struct {
	Source   string `json:"source,omitempty" jsonschema:"HTML file path or http(s) URL to scan. Defaults to the configured source."`
	DenyList string `json:"deny_list,omitempty" jsonschema:"File path or URL of the flagged-variable list. Defaults to the configured deny-list."`
}

// queryViolationsArgs are the arguments for the query_violations tool.
type queryViolationsArgs struct {
	Category string `json:"category,omitempty" jsonschema:"Filter by category: Colors, Typography, Spacing, or Border"`
	Property string `json:"property,omitempty" jsonschema:"Filter by canonical property name (e.g. border-color)"`
	Selector string `json:"selector,omitempty" jsonschema:"Filter by element selector using substring match"`
	Value    string `json:"value,omitempty" jsonschema:"Filter by value using substring match"`
	Offset   int    `json:"offset,omitempty" jsonschema:"Number of matching violations to skip"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum violations to return (default 100, max 500)"`
}

// lookupViolationArgs are the arguments for the lookup_violation tool.
type lookupViolationArgs struct {
	ID string `json:"id" jsonschema:"required,Violation id as written to the marker attribute (e.g. tv-3-12)"`
}

// registerTools adds MCP tools for scanning and querying violations.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "scan_document",
		Description: "Scan an HTML document and its stylesheets for hardcoded color, typography, spacing and border-radius values that should reference design tokens.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args scanDocumentArgs) (*mcp.CallToolResult, any, error) {
		return s.scanDocument(ctx, args), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_violations",
		Description: "Query the violations of the latest scan by category, property, selector or value. Returns matching violations as JSON.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args queryViolationsArgs) (*mcp.CallToolResult, any, error) {
		return s.queryViolations(args), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "lookup_violation",
		Description: "Resolve a violation id to the flagged element and list every violation recorded for it.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args lookupViolationArgs) (*mcp.CallToolResult, any, error) {
		return s.lookupViolation(args), nil, nil
	})
}

func (s *Server) scanDocument(ctx context.Context, args scanDocumentArgs) *mcp.CallToolResult {
	var src engine.FlaggedVariableSource
	if args.DenyList != "" {
		src = denylist.NewSource(args.DenyList, s.cfg)
	}

	report, err := s.eng.ScanSource(ctx, args.Source, src)
	if errors.Is(err, engine.ErrSuperseded) {
		return errorResult("Scan superseded by a newer scan; its results were discarded.")
	}
	if err != nil {
		return errorResult(fmt.Sprintf("scan failed: %v", err))
	}

	if err := s.eng.WriteArtifacts(""); err != nil {
		s.log.Warnf("failed to write artifacts: %v", err)
	}

	var sb strings.Builder
	if report.Meta.Error != "" {
		sb.WriteString(fmt.Sprintf("Scan failed internally: %s\n\n", report.Meta.Error))
	} else {
		sb.WriteString("Scan completed.\n\n")
	}
	sb.WriteString(fmt.Sprintf("- Source: %s\n", report.Meta.Source))
	sb.WriteString(fmt.Sprintf("- Generation: %d\n", report.Meta.Generation))
	for _, c := range findings.Categories {
		sb.WriteString(fmt.Sprintf("- %s: %d\n", c, len(report.Results[c])))
	}
	sb.WriteString(fmt.Sprintf("- Flagged elements: %d\n", report.Meta.ElementCount))
	sb.WriteString(fmt.Sprintf("- Stylesheets: %d (%d inaccessible)\n", report.Meta.Stylesheets, report.Meta.Inaccessible))
	sb.WriteString(fmt.Sprintf("- Insights: %d\n", len(report.Insights)))
	sb.WriteString(fmt.Sprintf("- Duration: %s\n\n", report.Meta.Duration))
	sb.WriteString("Use the tokens://scan/report resource to read the summary.")

	return textResult(sb.String())
}

func (s *Server) queryViolations(args queryViolationsArgs) *mcp.CallToolResult {
	if s.eng.Report() == nil {
		return errorResult("No scan available. Run scan_document first.")
	}

	opts := findings.QueryOpts{
		Property: args.Property,
		Selector: args.Selector,
		Value:    args.Value,
		Offset:   args.Offset,
		Limit:    args.Limit,
	}
	if args.Category != "" {
		c, ok := findings.ParseCategory(args.Category)
		if !ok {
			return errorResult(fmt.Sprintf("unknown category %q (want Colors, Typography, Spacing or Border)", args.Category))
		}
		opts.Category = c
	}

	results, total := s.eng.Store().Query(opts)
	if results == nil {
		results = []findings.Violation{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to marshal results: %v", err))
	}

	text := string(data)
	if len(results) < total {
		text += fmt.Sprintf("\n\n... (showing %d of %d matches, use offset or refine your query)", len(results), total)
	}
	return textResult(text)
}

// violationDetail is the lookup_violation response.
type violationDetail struct {
	ID         string               `json:"id"`
	Selector   string               `json:"selector"`
	Path       string               `json:"path,omitempty"`
	Violations []findings.Violation `json:"violations"`
}

func (s *Server) lookupViolation(args lookupViolationArgs) *mcp.CallToolResult {
	if args.ID == "" {
		return errorResult("id is required")
	}
	if s.eng.Report() == nil {
		return errorResult("No scan available. Run scan_document first.")
	}

	loc, ok := s.eng.Lookup(args.ID)
	if !ok {
		return errorResult(fmt.Sprintf("No violation with id %q in the latest scan", args.ID))
	}
	detail := violationDetail{
		ID:         args.ID,
		Selector:   loc.Selector,
		Path:       loc.Path,
		Violations: s.eng.Store().ByID(args.ID),
	}
	data, err := json.MarshalIndent(detail, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to marshal violation: %v", err))
	}
	return textResult(string(data))
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}
