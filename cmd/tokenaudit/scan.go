package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dejo1307/tokenaudit/internal/findings"
	"github.com/dejo1307/tokenaudit/internal/logger"
)

type scanOptions struct {
	denyList       string
	out            string
	failOnFindings bool
}

func newScanCmd(a *app) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan [file-or-url]",
		Short: "Scan an HTML document once and write the report artifacts.",
		Long: `Scan loads an HTML document and its linked stylesheets, reports every color,
typography, spacing and border-radius value that is hardcoded instead of
referencing a design token, and writes the report artifacts to the output dir.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := ""
			if len(args) == 1 {
				source = args[0]
			}
			return runScan(cmd, a, opts, source)
		},
	}
	cmd.Flags().StringVar(&opts.denyList, "deny-list", "", "file path or URL of the flagged-variable list (overrides the config)")
	cmd.Flags().StringVar(&opts.out, "out", "", "output directory for artifacts (overrides the config)")
	cmd.Flags().BoolVar(&opts.failOnFindings, "fail-on-findings", false, "exit non-zero when any violation is found")
	return cmd
}

func runScan(cmd *cobra.Command, a *app, opts *scanOptions, source string) error {
	log := logger.For(logger.ComponentCLI)
	cfg := a.cfg
	if opts.denyList != "" {
		cfg.DenyList = opts.denyList
	}
	if opts.out != "" {
		cfg.Output.Dir = opts.out
	}

	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}

	report, err := eng.ScanSource(cmd.Context(), source, nil)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if report.Meta.Error != "" {
		return fmt.Errorf("scan failed: %s", report.Meta.Error)
	}

	if err := eng.WriteArtifacts(cfg.Output.Dir); err != nil {
		return fmt.Errorf("writing artifacts: %w", err)
	}
	log.Debugf("artifacts written to %s", cfg.Output.Dir)

	printSummary(cmd.ErrOrStderr(), report, cfg.Output.Dir)

	if opts.failOnFindings && report.Results.Total() > 0 {
		return errFindings
	}
	return nil
}

func printSummary(w io.Writer, report *findings.Report, dir string) {
	fmt.Fprintf(w, "\nScan complete:\n")
	fmt.Fprintf(w, "  Source:       %s\n", report.Meta.Source)
	for _, c := range findings.Categories {
		fmt.Fprintf(w, "  %-13s %d\n", string(c)+":", len(report.Results[c]))
	}
	fmt.Fprintf(w, "  Elements:     %d\n", report.Meta.ElementCount)
	fmt.Fprintf(w, "  Stylesheets:  %d (%d inaccessible)\n", report.Meta.Stylesheets, report.Meta.Inaccessible)
	fmt.Fprintf(w, "  Insights:     %d\n", len(report.Insights))
	fmt.Fprintf(w, "  Duration:     %s\n", report.Meta.Duration)
	fmt.Fprintf(w, "  Output:       %s\n", dir)
}
