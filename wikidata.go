package subgeo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
)

// API Docs: https://www.wikidata.org/w/api.php?action=help&modules=wbgetclaims
// Sample request: https://www.wikidata.org/w/api.php?action=wbgetclaims&entity=Q64&property=P625&format=json
const DefaultWikidataURL = "https://www.wikidata.org/w/api.php"

// coordinateProperty is the Wikidata "coordinate location" property.
const coordinateProperty = "P625"

// WikidataClient is a CoordinateSource backed by the Wikidata API.
type WikidataClient struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	logger     *slog.Logger
}

// NewWikidataClient creates a client; empty baseURL selects DefaultWikidataURL.
func NewWikidataClient(baseURL, userAgent string, timeout time.Duration, logger *slog.Logger) *WikidataClient {
	if baseURL == "" {
		baseURL = DefaultWikidataURL
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WikidataClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		userAgent:  userAgent,
		logger:     logger.With("component", "wikidata-client"),
	}
}

// ClaimsAPIResponse is the subset of a wbgetclaims response we read.
type ClaimsAPIResponse struct {
	Claims map[string][]struct {
		MainSnak struct {
			SnakType  string `json:"snaktype"`
			DataValue struct {
				Value struct {
					Latitude  float64 `json:"latitude"`
					Longitude float64 `json:"longitude"`
				} `json:"value"`
				Type string `json:"type"`
			} `json:"datavalue"`
		} `json:"mainsnak"`
	} `json:"claims"`
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error,omitempty"`
}

// Coordinate implements CoordinateSource. It returns the first
// coordinate-location claim of the entity.
func (c *WikidataClient) Coordinate(ctx context.Context, entityID string) (*Centroid, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("action", "wbgetclaims")
	q.Set("entity", entityID)
	q.Set("property", coordinateProperty)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	t0 := time.Now()
	GeocoderRequestsTotal.WithLabelValues("wikidata").Inc()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		GeocoderFailTotal.WithLabelValues("wikidata", "transport").Inc()
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)
	GeocoderDurationMs.WithLabelValues("wikidata").Observe(float64(time.Since(t0).Milliseconds()))

	if resp.StatusCode != http.StatusOK {
		GeocoderFailTotal.WithLabelValues("wikidata", "status").Inc()
		return nil, fmt.Errorf("wbgetclaims returned status %d", resp.StatusCode)
	}

	var apiResp ClaimsAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		GeocoderFailTotal.WithLabelValues("wikidata", "decode").Inc()
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if apiResp.Error != nil {
		GeocoderFailTotal.WithLabelValues("wikidata", "api").Inc()
		return nil, fmt.Errorf("wbgetclaims %s: %s: %s", entityID, apiResp.Error.Code, apiResp.Error.Info)
	}

	for _, claim := range apiResp.Claims[coordinateProperty] {
		if claim.MainSnak.SnakType != "value" || claim.MainSnak.DataValue.Type != "globecoordinate" {
			continue
		}
		v := claim.MainSnak.DataValue.Value
		centroid := &Centroid{Lat: v.Latitude, Lon: v.Longitude}
		if !centroid.Valid() {
			continue
		}
		c.logger.Debug("Wikidata coordinate", "entity", entityID, "lat", v.Latitude, "lon", v.Longitude)
		return centroid, nil
	}
	GeocoderFailTotal.WithLabelValues("wikidata", "empty").Inc()
	return nil, fmt.Errorf("%w: %s has no %s claim", ErrNoResults, entityID, coordinateProperty)
}
