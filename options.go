package subgeo

import (
	"log/slog"
	"time"

	"github.com/spf13/afero"
)

// DefaultWorkers is the default bulk concurrency. Kept small to stay within
// third-party geocoder rate limits.
const DefaultWorkers = 3

// Config contains configuration options for an Enricher.
type Config struct {
	Logger    *slog.Logger
	Fs        afero.Fs         // filesystem for run reports (default: OS filesystem)
	Workers   int              // bulk worker count (default: 3)
	ReportDir string           // directory for run summary files (default: ".")
	UseCache  bool             // serve cached attributes (default: true)
	Clock     func() time.Time // time source for reports (default: time.Now)
}

// Option is a functional option for configuring an Enricher.
type Option func(*Config)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithFs sets the filesystem run reports are written to.
func WithFs(fs afero.Fs) Option {
	return func(c *Config) {
		c.Fs = fs
	}
}

// WithWorkers sets the default bulk worker count.
func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

// WithReportDir sets the directory for run summary files.
func WithReportDir(dir string) Option {
	return func(c *Config) {
		c.ReportDir = dir
	}
}

// WithUseCache controls whether cached attributes are served. With false,
// every attribute is fetched or derived again and overwritten.
func WithUseCache(use bool) Option {
	return func(c *Config) {
		c.UseCache = use
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		c.Clock = now
	}
}

func defaultConfig() *Config {
	return &Config{
		Logger:    slog.Default(),
		Fs:        afero.NewOsFs(),
		Workers:   DefaultWorkers,
		ReportDir: ".",
		UseCache:  true,
		Clock:     time.Now,
	}
}

// Enricher resolves geographic attributes for the subdivisions of a
// country and persists them in a Store. Safe for concurrent use by
// different countries.
type Enricher struct {
	store     *Store
	geocoder  Geocoder
	catalogue Catalogue
	config    *Config
	logger    *slog.Logger
}

// New creates an Enricher.
//
//	store := subgeo.OpenStore(nil, "data/geo-cache.csv", logger)
//	client := subgeo.NewClient(nominatim, wikidata, nil, logger)
//	e := subgeo.New(store, client, catalogue, subgeo.WithLogger(logger))
//	res, err := e.Enrich(ctx, "AL", subgeo.AllAttributes)
func New(store *Store, geocoder Geocoder, catalogue Catalogue, opts ...Option) *Enricher {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Enricher{
		store:     store,
		geocoder:  geocoder,
		catalogue: catalogue,
		config:    cfg,
		logger:    cfg.Logger.With("component", "enricher"),
	}
}

// Store returns the store the enricher writes to.
func (e *Enricher) Store() *Store { return e.store }
