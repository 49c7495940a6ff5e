package subgeo

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Attribute identifies one of the five geographic attributes of a subdivision.
type Attribute uint8

const (
	AttrCentroid Attribute = 1 << iota
	AttrBoundingBox
	AttrBoundary
	AttrPerimeter
	AttrNeighbours
)

// AllAttributes is the set of every attribute the engine can resolve.
const AllAttributes = Attributes(AttrCentroid | AttrBoundingBox | AttrBoundary | AttrPerimeter | AttrNeighbours)

// attributeOrder is the fixed resolution order within a country:
// perimeter needs the boundary and neighbours need bounding boxes.
var attributeOrder = []Attribute{AttrCentroid, AttrBoundingBox, AttrBoundary, AttrPerimeter, AttrNeighbours}

var attributeNames = map[Attribute]string{
	AttrCentroid:    "centroid",
	AttrBoundingBox: "boundingBox",
	AttrBoundary:    "boundary",
	AttrPerimeter:   "perimeter",
	AttrNeighbours:  "neighbours",
}

// String returns the cache column name of the attribute.
func (a Attribute) String() string {
	if name, ok := attributeNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Attribute(%d)", uint8(a))
}

// Attributes is a set of Attribute values.
type Attributes uint8

// Has reports whether a is in the set.
func (s Attributes) Has(a Attribute) bool { return s&Attributes(a) != 0 }

// With returns the set with a added.
func (s Attributes) With(a Attribute) Attributes { return s | Attributes(a) }

// Without returns the set with a removed.
func (s Attributes) Without(a Attribute) Attributes { return s &^ Attributes(a) }

// List returns the attributes in the set in resolution order.
func (s Attributes) List() []Attribute {
	out := make([]Attribute, 0, len(attributeOrder))
	for _, a := range attributeOrder {
		if s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

func (s Attributes) String() string {
	names := make([]string, 0, len(attributeOrder))
	for _, a := range s.List() {
		names = append(names, a.String())
	}
	return strings.Join(names, ",")
}

// ErrUnknownAttribute is returned by ParseAttributes for an unrecognized name.
var ErrUnknownAttribute = errors.New("unknown attribute")

// ParseAttribute maps a user-facing name to an Attribute.
// Accepts the cache column names plus a few short aliases.
func ParseAttribute(name string) (Attribute, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "centroid", "latlng", "latlon":
		return AttrCentroid, nil
	case "boundingbox", "bbox", "bounding_box":
		return AttrBoundingBox, nil
	case "boundary", "geojson", "geometry":
		return AttrBoundary, nil
	case "perimeter", "perimeterkm":
		return AttrPerimeter, nil
	case "neighbours", "neighbors":
		return AttrNeighbours, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAttribute, name)
}

// ParseAttributes parses a list of attribute names into a set.
func ParseAttributes(names []string) (Attributes, error) {
	var set Attributes
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		a, err := ParseAttribute(n)
		if err != nil {
			return 0, err
		}
		set = set.With(a)
	}
	return set, nil
}

// Centroid is a representative point of a subdivision in degrees.
type Centroid struct {
	Lat float64
	Lon float64
}

// Valid reports whether the coordinate lies within geographic ranges.
func (c Centroid) Valid() bool {
	return validLat(c.Lat) && validLon(c.Lon)
}

// BoundingBox is an axis-aligned rectangle in degrees.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Valid reports whether the box is ordered and within geographic ranges.
func (b BoundingBox) Valid() bool {
	return validLat(b.MinLat) && validLat(b.MaxLat) &&
		validLon(b.MinLon) && validLon(b.MaxLon) &&
		b.MinLat <= b.MaxLat && b.MinLon <= b.MaxLon
}

// Width is the longitudinal extent in degrees.
func (b BoundingBox) Width() float64 { return b.MaxLon - b.MinLon }

// Height is the latitudinal extent in degrees.
func (b BoundingBox) Height() float64 { return b.MaxLat - b.MinLat }

// Bound converts the box to an orb.Bound (x = lon, y = lat).
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinLon, b.MinLat},
		Max: orb.Point{b.MaxLon, b.MaxLat},
	}
}

// Overlaps reports whether the boxes overlap or touch. Boxes are only
// disjoint when strictly separated on one of the axes.
func (b BoundingBox) Overlaps(o BoundingBox) bool {
	return b.Bound().Intersects(o.Bound())
}

func validLat(v float64) bool { return !math.IsNaN(v) && v >= -90 && v <= 90 }
func validLon(v float64) bool { return !math.IsNaN(v) && v >= -180 && v <= 180 }

// GeoRecord holds the geographic attributes of one subdivision.
// A nil field means the attribute is absent.
type GeoRecord struct {
	Code        string
	Centroid    *Centroid
	BoundingBox *BoundingBox
	Boundary    *geojson.FeatureCollection
	PerimeterKm *float64
	Neighbours  []string
}

// Has reports whether the attribute is present on the record.
func (r GeoRecord) Has(a Attribute) bool {
	switch a {
	case AttrCentroid:
		return r.Centroid != nil
	case AttrBoundingBox:
		return r.BoundingBox != nil
	case AttrBoundary:
		return r.Boundary != nil
	case AttrPerimeter:
		return r.PerimeterKm != nil
	case AttrNeighbours:
		return len(r.Neighbours) > 0
	}
	return false
}

// Present returns the set of attributes present on the record.
func (r GeoRecord) Present() Attributes {
	var s Attributes
	for _, a := range attributeOrder {
		if r.Has(a) {
			s = s.With(a)
		}
	}
	return s
}

// project returns a copy of r carrying only the attributes in s.
func (r GeoRecord) project(s Attributes) GeoRecord {
	out := GeoRecord{Code: r.Code}
	if s.Has(AttrCentroid) {
		out.Centroid = r.Centroid
	}
	if s.Has(AttrBoundingBox) {
		out.BoundingBox = r.BoundingBox
	}
	if s.Has(AttrBoundary) {
		out.Boundary = r.Boundary
	}
	if s.Has(AttrPerimeter) {
		out.PerimeterKm = r.PerimeterKm
	}
	if s.Has(AttrNeighbours) {
		out.Neighbours = r.Neighbours
	}
	return out
}

// CountryOf returns the country prefix of a subdivision code ("US" for "US-CA").
func CountryOf(code string) string {
	cc, _, ok := strings.Cut(code, "-")
	if !ok {
		return ""
	}
	return cc
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
