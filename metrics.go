package subgeo

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	GeocoderRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subgeo_geocoder_requests_total",
		Help: "Total remote lookups by source",
	}, []string{"source"})
	GeocoderFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subgeo_geocoder_fail_total",
		Help: "Total remote lookups that produced no value, by source and reason",
	}, []string{"source", "reason"})
	GeocoderDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "subgeo_geocoder_duration_ms",
		Help:    "Remote lookup duration in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 15000},
	}, []string{"source"})
	ResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subgeo_resolutions_total",
		Help: "Attribute resolutions by attribute and outcome (hit, fetched, failed)",
	}, []string{"attribute", "outcome"})
	CacheFlushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subgeo_cache_flushes_total",
		Help: "Cache file rewrites by status",
	}, []string{"status"})
	CountriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subgeo_countries_total",
		Help: "Countries processed by the bulk orchestrator, by status",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(GeocoderRequestsTotal)
	prometheus.MustRegister(GeocoderFailTotal)
	prometheus.MustRegister(GeocoderDurationMs)
	prometheus.MustRegister(ResolutionsTotal)
	prometheus.MustRegister(CacheFlushesTotal)
	prometheus.MustRegister(CountriesTotal)
}

// MetricsHandler exposes the registered metrics for scraping.
func MetricsHandler() http.Handler { return promhttp.Handler() }
