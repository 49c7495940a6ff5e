package subgeo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/paulmach/orb"
)

var (
	// ErrInvalidSubdivisionCode is returned for a code not shaped like "CC-XXX".
	ErrInvalidSubdivisionCode = errors.New("invalid subdivision code")
	// ErrNoResults is returned by providers when a lookup matched nothing.
	ErrNoResults = errors.New("no results")
)

// Place is the geographic data a geocoder returns for one subdivision.
type Place struct {
	Centroid    *Centroid
	BoundingBox *BoundingBox
	Boundary    orb.Geometry // orb.Polygon or orb.MultiPolygon; nil when not requested or unavailable
}

// Geocoder resolves subdivision codes to geographic data. Transient
// failures and empty results are reported as a nil value with a nil
// error; only malformed input yields an error.
type Geocoder interface {
	// Lookup searches for a subdivision. Boundary geometry is requested
	// only when wantBoundary is set.
	Lookup(ctx context.Context, code string, wantBoundary bool) (*Place, error)
	// LookupCentroid resolves a single coordinate, preferring the
	// knowledge-base entity table when the code is listed there.
	LookupCentroid(ctx context.Context, code string) (*Centroid, error)
}

// PlaceSearcher is a text-search geocoding provider.
type PlaceSearcher interface {
	Search(ctx context.Context, query, country string, wantBoundary bool) (*Place, error)
}

// CoordinateSource looks up a coordinate for a knowledge-base entity.
type CoordinateSource interface {
	Coordinate(ctx context.Context, entityID string) (*Centroid, error)
}

// DefaultEntities maps subdivisions the text search resolves poorly
// (mostly city-level subdivisions where the search returns the city
// point) to Wikidata entity IDs.
var DefaultEntities = map[string]string{
	"AR-C":   "Q1486",
	"AT-9":   "Q1741",
	"CN-BJ":  "Q956",
	"CN-SH":  "Q8686",
	"CZ-10":  "Q1085",
	"DE-BE":  "Q64",
	"DE-HB":  "Q1209",
	"DE-HH":  "Q1055",
	"ES-CE":  "Q5823",
	"ES-ML":  "Q5831",
	"FR-75C": "Q90",
	"GB-LND": "Q23311",
	"HU-BU":  "Q1781",
	"IN-DL":  "Q1353",
	"JP-13":  "Q1490",
	"KR-11":  "Q8684",
	"MX-CMX": "Q1489",
	"RU-MOW": "Q649",
	"RU-SPE": "Q656",
	"TH-10":  "Q1861",
	"TW-TPE": "Q1867",
	"US-DC":  "Q61",
}

var subdivisionCodeRegex = sync.OnceValue(func() *regexp.Regexp {
	return regexp.MustCompile(`^[A-Z]{2}-[A-Z0-9]{1,3}$`)
})

// splitSubdivisionCode validates a code and returns its country prefix.
func splitSubdivisionCode(code string) (string, error) {
	if !subdivisionCodeRegex().MatchString(code) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSubdivisionCode, code)
	}
	return CountryOf(code), nil
}

// Client is the Geocoder used by the engine: a text-search provider plus
// a static entity table served by a knowledge-base provider.
type Client struct {
	search   PlaceSearcher
	kb       CoordinateSource
	entities map[string]string
	logger   *slog.Logger
}

// NewClient creates a geocoder client. kb may be nil, in which case the
// entity table is ignored. A nil entities map selects DefaultEntities.
func NewClient(search PlaceSearcher, kb CoordinateSource, entities map[string]string, logger *slog.Logger) *Client {
	if entities == nil {
		entities = DefaultEntities
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		search:   search,
		kb:       kb,
		entities: entities,
		logger:   logger.With("component", "geocoder"),
	}
}

// Lookup implements Geocoder.
func (c *Client) Lookup(ctx context.Context, code string, wantBoundary bool) (*Place, error) {
	cc, err := splitSubdivisionCode(code)
	if err != nil {
		return nil, err
	}
	place, err := c.search.Search(ctx, code, strings.ToLower(cc), wantBoundary)
	if err != nil {
		c.logger.Warn("lookup failed", "code", code, "boundary", wantBoundary, "error", err)
		return nil, nil
	}
	return place, nil
}

// LookupCentroid implements Geocoder.
func (c *Client) LookupCentroid(ctx context.Context, code string) (*Centroid, error) {
	if _, err := splitSubdivisionCode(code); err != nil {
		return nil, err
	}
	if id, ok := c.entities[code]; ok && c.kb != nil {
		centroid, err := c.kb.Coordinate(ctx, id)
		if err == nil && centroid != nil {
			return centroid, nil
		}
		c.logger.Debug("knowledge-base lookup failed, falling back to search",
			"code", code,
			"entity", id,
			"error", err,
		)
	}
	place, err := c.Lookup(ctx, code, false)
	if err != nil || place == nil {
		return nil, err
	}
	return place.Centroid, nil
}
