package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andreiashu/subgeo"
)

type enrichOptions struct {
	all     bool
	only    []string
	skip    []string
	refresh bool
}

func newEnrichCmd(a *app) *cobra.Command {
	var opts enrichOptions

	cmd := &cobra.Command{
		Use:   "enrich [country...]",
		Short: "Resolve geographic attributes for the subdivisions of countries",
		Long: "Resolve centroid, bounding box, boundary, perimeter and neighbours for every\n" +
			"subdivision of the given countries (alpha-2, alpha-3 or numeric codes).\n" +
			"Cached values are reused unless --refresh is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.all && len(args) == 0 {
				return fmt.Errorf("no countries given; pass country codes or --all")
			}
			return a.runEnrich(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.all, "all", false, "Enrich every country in the catalogue")
	cmd.Flags().StringSliceVar(&opts.only, "only", nil, "Attributes to resolve (default all): centroid, bbox, boundary, perimeter, neighbours")
	cmd.Flags().StringSliceVar(&opts.skip, "skip", nil, "Attributes to leave out")
	cmd.Flags().BoolVar(&opts.refresh, "refresh", false, "Ignore cached values and fetch again")
	cmd.Flags().Int("workers", 0, "Countries processed concurrently (default 3)")
	cmd.Flags().String("user-agent", "", "User-Agent sent to the geocoder")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	return cmd
}

// selectAttributes applies --only and --skip.
func selectAttributes(only, skip []string) (subgeo.Attributes, error) {
	attrs := subgeo.AllAttributes
	if len(only) > 0 {
		set, err := subgeo.ParseAttributes(only)
		if err != nil {
			return 0, err
		}
		attrs = set
	}
	skipped, err := subgeo.ParseAttributes(skip)
	if err != nil {
		return 0, err
	}
	attrs &^= skipped
	if attrs == 0 {
		return 0, fmt.Errorf("no attributes selected")
	}
	return attrs, nil
}

func (a *app) runEnrich(cmd *cobra.Command, args []string, opts enrichOptions) error {
	ctx := cmd.Context()
	cfg := a.cfg

	attrs, err := selectAttributes(opts.only, opts.skip)
	if err != nil {
		return err
	}

	if cfg.Catalogue.Download {
		if err := subgeo.DownloadCountryInfo(ctx, a.fs, cfg.Catalogue.Dir); err != nil {
			return fmt.Errorf("downloading country info: %w", err)
		}
	}
	catalogue, err := subgeo.LoadCatalogue(a.fs, cfg.Catalogue.Dir)
	if err != nil {
		return err
	}

	countries := args
	if opts.all {
		countries = catalogue.Countries()
	}

	stopMetrics := a.serveMetrics()
	defer stopMetrics()

	search := subgeo.NewNominatimClient(subgeo.NominatimConfig{
		BaseURL:       cfg.Geocoder.BaseURL,
		UserAgent:     cfg.Geocoder.UserAgent,
		Timeout:       cfg.Geocoder.Timeout,
		RatePerSecond: cfg.Geocoder.RatePerSecond,
	}, a.logger)
	var kb subgeo.CoordinateSource
	if cfg.KnowledgeBase.Enabled {
		kb = subgeo.NewWikidataClient(cfg.KnowledgeBase.BaseURL, cfg.Geocoder.UserAgent, cfg.Geocoder.Timeout, a.logger)
	}
	geocoder := subgeo.NewClient(search, kb, nil, a.logger)

	store := subgeo.OpenStore(a.fs, cfg.Cache.Path, a.logger)
	enricher := subgeo.New(store, geocoder, catalogue,
		subgeo.WithLogger(a.logger),
		subgeo.WithFs(a.fs),
		subgeo.WithWorkers(cfg.Bulk.Workers),
		subgeo.WithReportDir(cfg.Report.Dir),
		subgeo.WithUseCache(!opts.refresh),
	)

	summary := enricher.RunAll(ctx, countries, cfg.Bulk.Workers, attrs)
	path, err := enricher.Report(os.Stdout, summary)
	if err != nil {
		a.logger.Error("failed to write summary file", "error", err)
	} else {
		fmt.Fprintf(os.Stdout, "\nSummary written to %s\n", path)
	}

	if n := summary.Count(subgeo.StatusFailed); n > 0 {
		return fmt.Errorf("%d of %d countries failed validation", n, len(summary.Countries))
	}
	if summary.Cancelled {
		return ctx.Err()
	}
	return nil
}
