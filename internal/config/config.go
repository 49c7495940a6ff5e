package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the update-cache command
type Config struct {
	Cache         CacheConfig
	Catalogue     CatalogueConfig
	Geocoder      GeocoderConfig
	KnowledgeBase KnowledgeBaseConfig `mapstructure:"knowledgebase"`
	Bulk          BulkConfig
	Report        ReportConfig
	Log           LogConfig
	Metrics       MetricsConfig
}

// CacheConfig holds the cache file location
type CacheConfig struct {
	Path string
}

// CatalogueConfig holds the subdivision catalogue location
type CatalogueConfig struct {
	Dir      string
	Download bool // fetch countryInfo.txt when missing
}

// GeocoderConfig holds the Nominatim client settings
type GeocoderConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
}

// KnowledgeBaseConfig holds the Wikidata client settings
type KnowledgeBaseConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Enabled bool
}

// BulkConfig holds bulk orchestration settings
type BulkConfig struct {
	Workers int
}

// ReportConfig holds report output settings
type ReportConfig struct {
	Dir string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// MetricsConfig holds the optional Prometheus listener
type MetricsConfig struct {
	Addr string // empty disables the listener
}

// EnvPrefix is the prefix of environment overrides, e.g. SUBGEO_CACHE_PATH.
const EnvPrefix = "SUBGEO"

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache.path", "data/geo-cache.csv")
	v.SetDefault("catalogue.dir", "data")
	v.SetDefault("catalogue.download", true)
	v.SetDefault("geocoder.base_url", "https://nominatim.openstreetmap.org/search")
	v.SetDefault("geocoder.user_agent", "subgeo/1.0 (+https://github.com/andreiashu/subgeo)")
	v.SetDefault("geocoder.timeout", 15*time.Second)
	v.SetDefault("geocoder.rate_per_second", 1.0)
	v.SetDefault("knowledgebase.base_url", "https://www.wikidata.org/w/api.php")
	v.SetDefault("knowledgebase.enabled", true)
	v.SetDefault("bulk.workers", 3)
	v.SetDefault("report.dir", "reports")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.addr", "")
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"cache":        "cache.path",
	"catalogue":    "catalogue.dir",
	"workers":      "bulk.workers",
	"report-dir":   "report.dir",
	"user-agent":   "geocoder.user_agent",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"metrics-addr": "metrics.addr",
}

// Load reads configuration from defaults, an optional subgeo.yaml, a .env
// file, SUBGEO_* environment variables and the given flags, in increasing
// order of precedence. Only flags listed in flagKeys that are present in
// the set are bound; a nil set binds nothing.
func Load(flags *pflag.FlagSet) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("subgeo")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.subgeo")

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist, we have defaults
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Bulk.Workers <= 0 {
		return nil, fmt.Errorf("bulk.workers must be positive, got %d", cfg.Bulk.Workers)
	}
	return &cfg, nil
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a logger writing to stderr, leaving stdout for reports.
func (c *Config) NewLogger() *slog.Logger {
	return c.newLogger(os.Stderr)
}

func (c *Config) newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(c.Log.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(c.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default: // "text" or anything else
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
