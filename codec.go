package subgeo

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"
)

// cacheHeader is the column layout of the cache file.
var cacheHeader = []string{"subdivisionCode", "centroid", "boundingBox", "boundary", "perimeter", "neighbours"}

var errMalformedCell = errors.New("malformed cache cell")

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func encodeCentroid(c *Centroid) string {
	if c == nil {
		return ""
	}
	return formatFloat(c.Lat) + "," + formatFloat(c.Lon)
}

func decodeCentroid(s string) (*Centroid, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: centroid %q: want 2 values, got %d", errMalformedCell, s, len(parts))
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: centroid latitude %q: %v", errMalformedCell, parts[0], err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: centroid longitude %q: %v", errMalformedCell, parts[1], err)
	}
	c := &Centroid{Lat: lat, Lon: lon}
	if !c.Valid() {
		return nil, fmt.Errorf("%w: centroid %q out of range", errMalformedCell, s)
	}
	return c, nil
}

func encodeBoundingBox(b *BoundingBox) string {
	if b == nil {
		return ""
	}
	return "[" + strings.Join([]string{
		formatFloat(b.MinLat), formatFloat(b.MaxLat),
		formatFloat(b.MinLon), formatFloat(b.MaxLon),
	}, ",") + "]"
}

func decodeBoundingBox(s string) (*BoundingBox, error) {
	if s == "" {
		return nil, nil
	}
	var v []float64
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("%w: bounding box %q: %v", errMalformedCell, s, err)
	}
	if len(v) != 4 {
		return nil, fmt.Errorf("%w: bounding box %q: want 4 values, got %d", errMalformedCell, s, len(v))
	}
	b := &BoundingBox{MinLat: v[0], MaxLat: v[1], MinLon: v[2], MaxLon: v[3]}
	if !b.Valid() {
		return nil, fmt.Errorf("%w: bounding box %q is not a valid box", errMalformedCell, s)
	}
	return b, nil
}

func encodeBoundary(fc *geojson.FeatureCollection) (string, error) {
	if fc == nil {
		return "", nil
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("encoding boundary: %w", err)
	}
	return string(data), nil
}

func decodeBoundary(s string) (*geojson.FeatureCollection, error) {
	if s == "" {
		return nil, nil
	}
	fc, err := geojson.UnmarshalFeatureCollection([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w: boundary: %v", errMalformedCell, err)
	}
	return fc, nil
}

func encodePerimeter(p *float64) string {
	if p == nil {
		return ""
	}
	return formatFloat(*p)
}

func decodePerimeter(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: perimeter %q: %v", errMalformedCell, s, err)
	}
	if v <= 0 {
		return nil, fmt.Errorf("%w: perimeter %q must be positive", errMalformedCell, s)
	}
	return &v, nil
}

func encodeNeighbours(n []string) string {
	return strings.Join(n, ",")
}

func decodeNeighbours(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, raw := range strings.Split(s, ",") {
		code := strings.TrimSpace(raw)
		if code != "" {
			out = append(out, code)
		}
	}
	return normalizeNeighbours(out, "")
}

// normalizeNeighbours sorts and de-duplicates codes, dropping self.
func normalizeNeighbours(codes []string, self string) []string {
	if len(codes) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if c == self || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// encodeRow renders a record as one cache row.
func encodeRow(r GeoRecord) ([]string, error) {
	boundary, err := encodeBoundary(r.Boundary)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.Code, err)
	}
	return []string{
		r.Code,
		encodeCentroid(r.Centroid),
		encodeBoundingBox(r.BoundingBox),
		boundary,
		encodePerimeter(r.PerimeterKm),
		encodeNeighbours(r.Neighbours),
	}, nil
}

// decodeRow parses one cache row. Malformed cells are reported through
// errs and left absent on the record, so one bad value never discards
// the rest of the row.
func decodeRow(row []string) (GeoRecord, []error) {
	cell := func(i int) string {
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	r := GeoRecord{Code: cell(0)}
	var errs []error
	var err error

	if r.Centroid, err = decodeCentroid(cell(1)); err != nil {
		errs = append(errs, err)
	}
	if r.BoundingBox, err = decodeBoundingBox(cell(2)); err != nil {
		errs = append(errs, err)
	}
	if r.Boundary, err = decodeBoundary(cell(3)); err != nil {
		errs = append(errs, err)
	}
	if r.PerimeterKm, err = decodePerimeter(cell(4)); err != nil {
		errs = append(errs, err)
	}
	r.Neighbours = normalizeNeighbours(decodeNeighbours(cell(5)), r.Code)
	return r, errs
}
