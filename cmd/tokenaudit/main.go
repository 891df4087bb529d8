package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dejo1307/tokenaudit/internal/config"
	"github.com/dejo1307/tokenaudit/internal/engine"
	"github.com/dejo1307/tokenaudit/internal/explainers/suggestions"
	"github.com/dejo1307/tokenaudit/internal/logger"
	"github.com/dejo1307/tokenaudit/internal/renderers/annotated"
	"github.com/dejo1307/tokenaudit/internal/renderers/markdown"
	"github.com/dejo1307/tokenaudit/internal/renderers/sarifreport"
)

const defaultConfigPath = "tokenaudit.yaml"

// errFindings is returned by scan --fail-on-findings when violations exist.
var errFindings = errors.New("design token violations found")

// app carries state shared by the subcommands.
type app struct {
	cfgPath string
	cfg     *config.Config
}

func main() {
	err := newRootCmd().Execute()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "tokenaudit [command]",
		Short:         "Audit a page's stylesheets for values that bypass design tokens.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&a.cfgPath, "config", defaultConfigPath, "path to the tokenaudit config file")

	root.AddCommand(newScanCmd(a), newServeCmd(a))
	return root
}

// loadConfig reads the config file, falling back to defaults when it cannot
// be read, and installs the global logger.
func (a *app) loadConfig() error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		// Logs go to stderr; stdout belongs to MCP JSON-RPC in serve mode.
		fmt.Fprintf(os.Stderr, "warning: %v, using defaults\n", err)
		cfg = config.Default()
	}
	a.cfg = cfg
	logger.Initialize(cfg.Log.Level, logger.Format(strings.ToUpper(cfg.Log.Format)))
	return nil
}

// newEngine builds an engine with every explainer and renderer registered.
// The config decides which of them run.
func newEngine(cfg *config.Config, opts ...engine.Option) (*engine.Engine, error) {
	eng, err := engine.New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	eng.RegisterExplainer(suggestions.New(cfg.Suggest.MinOccurrences))

	eng.RegisterRenderer(markdown.New(cfg.Output.MaxReportTokens))
	eng.RegisterRenderer(sarifreport.New())
	eng.RegisterRenderer(annotated.New(cfg.MarkerAttribute, cfg.UIAttribute))
	return eng, nil
}
