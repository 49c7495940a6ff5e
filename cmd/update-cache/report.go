package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/andreiashu/subgeo"
)

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print completeness and value distributions of the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := subgeo.ComputeStatistics(a.fs, a.cfg.Cache.Path)
			if err != nil {
				return err
			}
			return st.Write(os.Stdout)
		},
	}
}

func newGapsCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "List subdivisions missing each attribute as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.gapReport()
			if err != nil {
				return err
			}
			if out == "" {
				data, err := report.Marshal()
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(data)
				return err
			}
			if err := report.WriteFile(a.fs, out); err != nil {
				return err
			}
			a.logger.Info("gap report written", "path", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "Write the report to this file instead of stdout")
	return cmd
}

// newReportCmd computes statistics and gaps concurrently and writes both
// to the report directory.
func newReportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Write statistics and gap reports to the report directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			stamp := time.Now().Format("20060102-150405")
			statsPath := filepath.Join(a.cfg.Report.Dir, "cache-stats-"+stamp+".txt")
			gapsPath := filepath.Join(a.cfg.Report.Dir, "cache-gaps-"+stamp+".yaml")

			var g errgroup.Group
			g.Go(func() error {
				st, err := subgeo.ComputeStatistics(a.fs, a.cfg.Cache.Path)
				if err != nil {
					return fmt.Errorf("statistics: %w", err)
				}
				var buf bytes.Buffer
				if err := st.Write(&buf); err != nil {
					return err
				}
				if err := a.fs.MkdirAll(a.cfg.Report.Dir, 0755); err != nil {
					return err
				}
				return afero.WriteFile(a.fs, statsPath, buf.Bytes(), 0644)
			})
			g.Go(func() error {
				report, err := a.gapReport()
				if err != nil {
					return fmt.Errorf("gaps: %w", err)
				}
				return report.WriteFile(a.fs, gapsPath)
			})
			if err := g.Wait(); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Statistics: %s\nGaps:       %s\n", statsPath, gapsPath)
			return nil
		},
	}
}

func (a *app) gapReport() (*subgeo.GapReport, error) {
	report, err := subgeo.AnalyzeGaps(a.fs, a.cfg.Cache.Path)
	if err != nil {
		return nil, err
	}
	report.Metadata.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	return report, nil
}
