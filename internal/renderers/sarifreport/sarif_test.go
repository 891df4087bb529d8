package sarifreport

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/dejo1307/tokenaudit/internal/findings"
)

func TestRender_ResultsPerViolation(t *testing.T) {
	report := &findings.Report{
		Meta: findings.Meta{Source: "page.html"},
		Results: findings.Results{
			findings.Colors: {
				{ID: "tv-1-1", Selector: "p", Property: "color", Value: "#ff0000", Category: findings.Colors},
				{ID: "tv-1-2", Selector: "a", Property: "color", Value: "var(--legacy-red)", Category: findings.Colors, Flagged: true},
			},
			findings.Spacing: {
				{ID: "tv-1-1", Selector: "p", Property: "margin", Value: "4px", Category: findings.Spacing},
			},
		},
	}

	artifacts, err := New().Render(context.Background(), report, nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].Name != ResultsFile {
		t.Fatalf("artifacts = %+v", artifacts)
	}

	var log sarif.Report
	if err := json.Unmarshal(artifacts[0].Content, &log); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(log.Runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(log.Runs))
	}
	run := log.Runs[0]
	if len(run.Tool.Driver.Rules) != 2 {
		t.Errorf("rules = %d, want 2 (one per non-empty category)", len(run.Tool.Driver.Rules))
	}
	if len(run.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(run.Results))
	}

	levels := map[string]int{}
	for _, res := range run.Results {
		if res.Level != nil {
			levels[*res.Level]++
		}
	}
	if levels["error"] != 1 || levels["warning"] != 2 {
		t.Errorf("levels = %v", levels)
	}

	first := run.Results[0]
	if first.RuleID == nil || *first.RuleID != "design-token/colors" {
		t.Errorf("rule id = %v", first.RuleID)
	}
	if first.Properties["id"] != "tv-1-1" {
		t.Errorf("id property = %v", first.Properties["id"])
	}
}

func TestRender_EmptyReport(t *testing.T) {
	artifacts, err := New().Render(context.Background(), &findings.Report{}, nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	var log sarif.Report
	if err := json.Unmarshal(artifacts[0].Content, &log); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(log.Runs) != 1 || len(log.Runs[0].Results) != 0 {
		t.Errorf("expected a single empty run, got %+v", log.Runs)
	}
}
