package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dejo1307/tokenaudit/internal/logger"
	"github.com/dejo1307/tokenaudit/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics at this address (e.g. :9090)")
	return cmd
}

func runServe(ctx context.Context, a *app, metricsAddr string) error {
	log := logger.For(logger.ComponentCLI)
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(a.cfg)
	if err != nil {
		return err
	}

	// Restore the previous run's report so queries work before the first scan.
	if err := eng.LoadPrevious(a.cfg.Output.Dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debugf("no previous report in %s", a.cfg.Output.Dir)
		} else {
			log.Warnf("failed to restore previous report: %v", err)
		}
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", eng.Metrics().Handler())
		hs := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Infof("serving metrics on %s/metrics", metricsAddr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("metrics server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = hs.Shutdown(shutdownCtx)
		}()
	}

	srv, err := server.New(eng, a.cfg)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
