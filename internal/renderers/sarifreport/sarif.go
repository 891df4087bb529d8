package sarifreport

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/dejo1307/tokenaudit/internal/document"
	"github.com/dejo1307/tokenaudit/internal/findings"
)

// ResultsFile is the artifact name of the SARIF log.
const ResultsFile = "results.sarif"

const informationURI = "https://github.com/dejo1307/tokenaudit"

var ruleDescriptions = map[findings.Category]string{
	findings.Colors:     "Color value is hardcoded instead of referencing a design token.",
	findings.Typography: "Typography value is hardcoded instead of referencing a design token.",
	findings.Spacing:    "Spacing value is hardcoded instead of referencing a design token.",
	findings.Border:     "Border radius is hardcoded instead of referencing a design token.",
}

// SarifRenderer writes violations as a SARIF 2.1.0 log so they can be
// uploaded to code scanning dashboards.
type SarifRenderer struct{}

func New() *SarifRenderer {
	return &SarifRenderer{}
}

func (r *SarifRenderer) Name() string {
	return "sarif"
}

// RuleID returns the SARIF rule identifier for a category.
func RuleID(c findings.Category) string {
	return "design-token/" + strings.ToLower(string(c))
}

func (r *SarifRenderer) Render(ctx context.Context, report *findings.Report, _ *document.Document) ([]findings.Artifact, error) {
	log, err := sarif.New(sarif.Version210)
	if err != nil {
		return nil, fmt.Errorf("creating SARIF report: %w", err)
	}

	run := sarif.NewRunWithInformationURI("tokenaudit", informationURI)
	for _, c := range findings.Categories {
		vs := report.Results[c]
		if len(vs) == 0 {
			continue
		}
		rule := run.AddRule(RuleID(c)).
			WithDescription(ruleDescriptions[c]).
			WithDefaultConfiguration(&sarif.ReportingConfiguration{Level: "warning"})

		for _, v := range vs {
			result := sarif.NewRuleResult(rule.ID).
				WithMessage(sarif.NewTextMessage(message(v))).
				WithLevel(level(v)).
				WithLocations([]*sarif.Location{location(report.Meta.Source)})
			result.PropertyBag = *sarif.NewPropertyBag()
			result.Add("id", v.ID)
			result.Add("selector", v.Selector)
			result.Add("path", v.Path)
			result.Add("property", v.Property)
			result.Add("value", v.Value)
			result.Add("ruleSelector", v.RuleSelector)
			run.AddResult(result)
		}
	}
	log.AddRun(run)

	var buf bytes.Buffer
	if err := log.PrettyWrite(&buf); err != nil {
		return nil, fmt.Errorf("writing SARIF report: %w", err)
	}
	return []findings.Artifact{
		{
			Name:    ResultsFile,
			Content: buf.Bytes(),
			Type:    "application/sarif+json",
		},
	}, nil
}

func message(v findings.Violation) string {
	if v.Flagged {
		return fmt.Sprintf("%s on %s references deny-listed token %s", v.Property, v.Selector, v.Value)
	}
	return fmt.Sprintf("%s on %s is hardcoded as %s", v.Property, v.Selector, v.Value)
}

// Deny-listed tokens are errors; literals are warnings.
func level(v findings.Violation) string {
	if v.Flagged {
		return "error"
	}
	return "warning"
}

func location(source string) *sarif.Location {
	if source == "" {
		source = "document"
	}
	return sarif.NewLocation().WithPhysicalLocation(
		sarif.NewPhysicalLocation().
			WithArtifactLocation(sarif.NewArtifactLocation().WithUri(source)),
	)
}
