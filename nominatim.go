package subgeo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/time/rate"
)

// API Docs: https://nominatim.org/release-docs/develop/api/Search/
// Sample request: https://nominatim.openstreetmap.org/search?q=US-CA&countrycodes=us&format=json&limit=1
const (
	DefaultNominatimURL = "https://nominatim.openstreetmap.org/search"
	defaultUserAgent    = "subgeo/1.0 (+https://github.com/andreiashu/subgeo)"
	defaultHTTPTimeout  = 15 * time.Second
)

// NominatimConfig configures the Nominatim search client.
type NominatimConfig struct {
	BaseURL       string
	UserAgent     string        // Nominatim's usage policy requires an identifying agent
	Timeout       time.Duration // per request; default 15s
	RatePerSecond float64       // request pacing; default 1
}

// NominatimClient is a PlaceSearcher backed by the Nominatim search API.
type NominatimClient struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewNominatimClient creates a client. Zero config fields take defaults.
func NewNominatimClient(cfg NominatimConfig, logger *slog.Logger) *NominatimClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultNominatimURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NominatimClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		logger:     logger.With("component", "nominatim-client"),
	}
}

// SearchAPIResponse is one element of the Nominatim search response.
// Coordinates are returned as strings.
type SearchAPIResponse struct {
	PlaceID     int64           `json:"place_id"`
	DisplayName string          `json:"display_name"`
	Lat         string          `json:"lat"`
	Lon         string          `json:"lon"`
	BoundingBox []string        `json:"boundingbox"` // [minLat, maxLat, minLon, maxLon]
	GeoJSON     json.RawMessage `json:"geojson,omitempty"`
}

// Search implements PlaceSearcher.
func (c *NominatimClient) Search(ctx context.Context, query, country string, wantBoundary bool) (*Place, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	q := u.Query()
	q.Set("q", query)
	q.Set("countrycodes", country)
	q.Set("format", "json")
	q.Set("limit", "1")
	if wantBoundary {
		q.Set("polygon_geojson", "1")
	}
	u.RawQuery = q.Encode()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("searching Nominatim", "query", query, "country", country, "boundary", wantBoundary)

	t0 := time.Now()
	GeocoderRequestsTotal.WithLabelValues("nominatim").Inc()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		GeocoderFailTotal.WithLabelValues("nominatim", "transport").Inc()
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)
	GeocoderDurationMs.WithLabelValues("nominatim").Observe(float64(time.Since(t0).Milliseconds()))

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		GeocoderFailTotal.WithLabelValues("nominatim", "status").Inc()
		return nil, fmt.Errorf("search returned status %d: %s", resp.StatusCode, string(body))
	}

	var results []SearchAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		GeocoderFailTotal.WithLabelValues("nominatim", "decode").Inc()
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(results) == 0 {
		GeocoderFailTotal.WithLabelValues("nominatim", "empty").Inc()
		return nil, fmt.Errorf("%w for %q", ErrNoResults, query)
	}

	place, err := results[0].place(wantBoundary)
	if err != nil {
		GeocoderFailTotal.WithLabelValues("nominatim", "decode").Inc()
		return nil, err
	}

	c.logger.Debug("Nominatim match",
		"query", query,
		"display_name", results[0].DisplayName,
		"has_boundary", place.Boundary != nil,
	)
	return place, nil
}

// place converts the raw response to a Place. A missing or malformed
// bounding box or geometry is left nil; a malformed centroid is an error.
func (r SearchAPIResponse) place(wantBoundary bool) (*Place, error) {
	lat, errLat := strconv.ParseFloat(r.Lat, 64)
	lon, errLon := strconv.ParseFloat(r.Lon, 64)
	if errLat != nil || errLon != nil {
		return nil, fmt.Errorf("unparseable coordinates %q,%q", r.Lat, r.Lon)
	}
	p := &Place{Centroid: &Centroid{Lat: lat, Lon: lon}}
	if !p.Centroid.Valid() {
		return nil, fmt.Errorf("coordinates out of range %q,%q", r.Lat, r.Lon)
	}

	if len(r.BoundingBox) == 4 {
		var v [4]float64
		ok := true
		for i, s := range r.BoundingBox {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				ok = false
				break
			}
			v[i] = f
		}
		if ok {
			bb := &BoundingBox{MinLat: v[0], MaxLat: v[1], MinLon: v[2], MaxLon: v[3]}
			if bb.Valid() {
				p.BoundingBox = bb
			}
		}
	}

	if wantBoundary && len(r.GeoJSON) > 0 {
		g, err := geojson.UnmarshalGeometry(r.GeoJSON)
		if err == nil {
			switch geom := g.Geometry().(type) {
			case orb.Polygon, orb.MultiPolygon:
				p.Boundary = geom
			}
		}
	}
	return p, nil
}
