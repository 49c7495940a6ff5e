// Command update-cache enriches the subdivision geo cache and reports on it.
//
// Usage:
//
//	go run ./cmd/update-cache enrich AL FR DEU
//	go run ./cmd/update-cache enrich --all --skip boundary,perimeter
//	go run ./cmd/update-cache stats
//	go run ./cmd/update-cache gaps --out reports/gaps.yaml
//	go run ./cmd/update-cache report
//
// Configuration is read from subgeo.yaml, .env and SUBGEO_* variables;
// flags override both.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/andreiashu/subgeo"
	"github.com/andreiashu/subgeo/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs after configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	fs     afero.Fs
}

func newRootCmd() *cobra.Command {
	a := &app{fs: afero.NewOsFs()}

	root := &cobra.Command{
		Use:           "update-cache",
		Short:         "Enrich and inspect the subdivision geo cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = cfg.NewLogger()
			slog.SetDefault(a.logger)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.String("cache", "", "Cache file path (default data/geo-cache.csv)")
	pf.String("catalogue", "", "Directory with countryInfo.txt and subdivisions.txt (default data)")
	pf.String("report-dir", "", "Directory for report files (default reports)")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-format", "", "Log format: text, json")

	root.AddCommand(newEnrichCmd(a), newStatsCmd(a), newGapsCmd(a), newReportCmd(a))
	return root
}

// serveMetrics starts the Prometheus listener when an address is configured.
// The returned function shuts it down.
func (a *app) serveMetrics() func() {
	if a.cfg.Metrics.Addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", subgeo.MetricsHandler())
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("serving metrics", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics listener failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
