package subgeo

import (
	"context"
	"math/bits"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Counts tallies how one attribute was resolved.
type Counts struct {
	Hits        int // served from cache
	RemoteCalls int // geocoder lookups issued
	Successes   int // fetched or derived a new value
	Failures    int // no value obtained
}

// Resolved is the number of subdivisions that ended with a value.
func (c Counts) Resolved() int { return c.Hits + c.Successes }

// Attempted is the number of subdivisions the resolver ran for.
func (c Counts) Attempted() int { return c.Hits + c.Successes + c.Failures }

// Coverage is Resolved as a percentage of Attempted.
func (c Counts) Coverage() float64 {
	if c.Attempted() == 0 {
		return 0
	}
	return float64(c.Resolved()) * 100 / float64(c.Attempted())
}

func (c *Counts) add(o Counts) {
	c.Hits += o.Hits
	c.RemoteCalls += o.RemoteCalls
	c.Successes += o.Successes
	c.Failures += o.Failures
}

// AttributeCounts holds Counts per attribute.
type AttributeCounts struct {
	byAttr [5]Counts
}

func (a Attribute) index() int { return bits.TrailingZeros8(uint8(a)) }

// Get returns the counts for one attribute.
func (ac *AttributeCounts) Get(a Attribute) Counts { return ac.byAttr[a.index()] }

func (ac *AttributeCounts) at(a Attribute) *Counts { return &ac.byAttr[a.index()] }

// Merge adds o into ac.
func (ac *AttributeCounts) Merge(o AttributeCounts) {
	for i := range ac.byAttr {
		ac.byAttr[i].add(o.byAttr[i])
	}
}

// RemoteCalls is the number of geocoder lookups across all attributes.
func (ac *AttributeCounts) RemoteCalls() int {
	n := 0
	for _, c := range ac.byAttr {
		n += c.RemoteCalls
	}
	return n
}

// codeSet records codes per attribute.
type codeSet map[Attribute]map[string]bool

func (s codeSet) add(a Attribute, code string) {
	if s[a] == nil {
		s[a] = make(map[string]bool)
	}
	s[a][code] = true
}

func (s codeSet) has(a Attribute, code string) bool { return s[a][code] }

// countryRun is the resolution state of one country within one call.
// Codes that already failed an attribute are not retried in the same run,
// and values fetched in this run are served from the store even when the
// cache is bypassed.
type countryRun struct {
	e       *Enricher
	country string
	codes   []string
	counts  AttributeCounts
	fresh   codeSet
	failed  codeSet
}

func (e *Enricher) newRun(country string, codes []string) *countryRun {
	return &countryRun{
		e:       e,
		country: country,
		codes:   codes,
		fresh:   make(codeSet),
		failed:  make(codeSet),
	}
}

func (r *countryRun) cached(a Attribute, code string) (GeoRecord, bool) {
	if !r.e.config.UseCache && !r.fresh.has(a, code) {
		return GeoRecord{}, false
	}
	return r.e.store.Get(code)
}

func (r *countryRun) hit(a Attribute) {
	r.counts.at(a).Hits++
	ResolutionsTotal.WithLabelValues(a.String(), "hit").Inc()
}

func (r *countryRun) success(a Attribute, code string) {
	r.counts.at(a).Successes++
	r.fresh.add(a, code)
	ResolutionsTotal.WithLabelValues(a.String(), "fetched").Inc()
}

func (r *countryRun) fail(a Attribute, code, reason string, err error) {
	r.counts.at(a).Failures++
	r.failed.add(a, code)
	ResolutionsTotal.WithLabelValues(a.String(), "failed").Inc()
	if err != nil {
		r.e.logger.Warn("attribute unresolved", "attribute", a.String(), "code", code, "reason", reason, "error", err)
		return
	}
	r.e.logger.Debug("attribute unresolved", "attribute", a.String(), "code", code, "reason", reason)
}

// centroid resolves the centroid of one subdivision.
func (r *countryRun) centroid(ctx context.Context, code string) (Centroid, bool) {
	if rec, ok := r.cached(AttrCentroid, code); ok && rec.Centroid != nil {
		r.hit(AttrCentroid)
		return *rec.Centroid, true
	}
	if r.failed.has(AttrCentroid, code) {
		return Centroid{}, false
	}
	r.counts.at(AttrCentroid).RemoteCalls++
	c, err := r.e.geocoder.LookupCentroid(ctx, code)
	if err != nil || c == nil {
		r.fail(AttrCentroid, code, "lookup", err)
		return Centroid{}, false
	}
	fresh := Centroid{Lat: roundTo(c.Lat, 4), Lon: roundTo(c.Lon, 4)}
	if !fresh.Valid() {
		r.fail(AttrCentroid, code, "out of range", nil)
		return Centroid{}, false
	}
	r.e.store.Upsert(GeoRecord{Code: code, Centroid: &fresh})
	r.success(AttrCentroid, code)
	return fresh, true
}

// boundingBox resolves the bounding box of one subdivision.
func (r *countryRun) boundingBox(ctx context.Context, code string) (BoundingBox, bool) {
	if rec, ok := r.cached(AttrBoundingBox, code); ok && rec.BoundingBox != nil {
		r.hit(AttrBoundingBox)
		return *rec.BoundingBox, true
	}
	if r.failed.has(AttrBoundingBox, code) {
		return BoundingBox{}, false
	}
	r.counts.at(AttrBoundingBox).RemoteCalls++
	place, err := r.e.geocoder.Lookup(ctx, code, false)
	if err != nil || place == nil || place.BoundingBox == nil {
		r.fail(AttrBoundingBox, code, "lookup", err)
		return BoundingBox{}, false
	}
	bb := place.BoundingBox
	fresh := BoundingBox{
		MinLat: roundTo(bb.MinLat, 4),
		MaxLat: roundTo(bb.MaxLat, 4),
		MinLon: roundTo(bb.MinLon, 4),
		MaxLon: roundTo(bb.MaxLon, 4),
	}
	if !fresh.Valid() {
		r.fail(AttrBoundingBox, code, "invalid box", nil)
		return BoundingBox{}, false
	}
	r.e.store.Upsert(GeoRecord{Code: code, BoundingBox: &fresh})
	r.success(AttrBoundingBox, code)
	return fresh, true
}

// boundary resolves the boundary of one subdivision as a single-feature
// collection named after the code.
func (r *countryRun) boundary(ctx context.Context, code string) (*geojson.FeatureCollection, bool) {
	if rec, ok := r.cached(AttrBoundary, code); ok && rec.Boundary != nil {
		r.hit(AttrBoundary)
		return rec.Boundary, true
	}
	if r.failed.has(AttrBoundary, code) {
		return nil, false
	}
	r.counts.at(AttrBoundary).RemoteCalls++
	place, err := r.e.geocoder.Lookup(ctx, code, true)
	if err != nil || place == nil || place.Boundary == nil {
		r.fail(AttrBoundary, code, "lookup", err)
		return nil, false
	}
	fc := wrapBoundary(code, place.Boundary)
	r.e.store.Upsert(GeoRecord{Code: code, Boundary: fc})
	r.success(AttrBoundary, code)
	return fc, true
}

func wrapBoundary(code string, g orb.Geometry) *geojson.FeatureCollection {
	f := geojson.NewFeature(g)
	f.Properties["name"] = code
	fc := geojson.NewFeatureCollection()
	fc.Append(f)
	return fc
}

// perimeter derives the perimeter of one subdivision from its boundary.
func (r *countryRun) perimeter(ctx context.Context, code string) (float64, bool) {
	if rec, ok := r.cached(AttrPerimeter, code); ok && rec.PerimeterKm != nil {
		r.hit(AttrPerimeter)
		return *rec.PerimeterKm, true
	}
	if r.failed.has(AttrPerimeter, code) {
		return 0, false
	}
	fc, ok := r.boundary(ctx, code)
	if !ok {
		r.fail(AttrPerimeter, code, "no boundary", nil)
		return 0, false
	}
	km, ok := collectionPerimeterKm(fc)
	if !ok {
		r.fail(AttrPerimeter, code, "not computable", nil)
		return 0, false
	}
	r.e.store.Upsert(GeoRecord{Code: code, PerimeterKm: &km})
	r.success(AttrPerimeter, code)
	return km, true
}

func (r *countryRun) resolveCentroids(ctx context.Context) map[string]Centroid {
	out := make(map[string]Centroid, len(r.codes))
	for _, code := range r.codes {
		if v, ok := r.centroid(ctx, code); ok {
			out[code] = v
		}
	}
	return out
}

func (r *countryRun) resolveBoundingBoxes(ctx context.Context) map[string]BoundingBox {
	out := make(map[string]BoundingBox, len(r.codes))
	for _, code := range r.codes {
		if v, ok := r.boundingBox(ctx, code); ok {
			out[code] = v
		}
	}
	return out
}

func (r *countryRun) resolveBoundaries(ctx context.Context) map[string]*geojson.FeatureCollection {
	out := make(map[string]*geojson.FeatureCollection, len(r.codes))
	for _, code := range r.codes {
		if v, ok := r.boundary(ctx, code); ok {
			out[code] = v
		}
	}
	return out
}

func (r *countryRun) resolvePerimeters(ctx context.Context) map[string]float64 {
	out := make(map[string]float64, len(r.codes))
	for _, code := range r.codes {
		if v, ok := r.perimeter(ctx, code); ok {
			out[code] = v
		}
	}
	return out
}

// prepare validates the country and expands it to subdivision codes.
// A nil run with a nil error means the country has no subdivisions.
func (e *Enricher) prepare(country string) (*countryRun, error) {
	iso, err := e.catalogue.NormalizeCountry(country)
	if err != nil {
		return nil, err
	}
	codes, err := e.catalogue.SubdivisionCodes(iso)
	if err != nil {
		return nil, err
	}
	if len(codes) == 0 {
		return nil, nil
	}
	return e.newRun(iso, codes), nil
}

// ResolveCentroids resolves the centroid of every subdivision of country.
// Values are kept in the store; call Store.Flush to persist them.
func (e *Enricher) ResolveCentroids(ctx context.Context, country string) (map[string]Centroid, error) {
	r, err := e.prepare(country)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return map[string]Centroid{}, nil
	}
	return r.resolveCentroids(ctx), nil
}

// ResolveBoundingBoxes resolves the bounding box of every subdivision of country.
func (e *Enricher) ResolveBoundingBoxes(ctx context.Context, country string) (map[string]BoundingBox, error) {
	r, err := e.prepare(country)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return map[string]BoundingBox{}, nil
	}
	return r.resolveBoundingBoxes(ctx), nil
}

// ResolveBoundaries resolves the boundary of every subdivision of country.
func (e *Enricher) ResolveBoundaries(ctx context.Context, country string) (map[string]*geojson.FeatureCollection, error) {
	r, err := e.prepare(country)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return map[string]*geojson.FeatureCollection{}, nil
	}
	return r.resolveBoundaries(ctx), nil
}

// ResolvePerimeters derives the perimeter of every subdivision of country,
// fetching boundaries where they are not cached.
func (e *Enricher) ResolvePerimeters(ctx context.Context, country string) (map[string]float64, error) {
	r, err := e.prepare(country)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return map[string]float64{}, nil
	}
	return r.resolvePerimeters(ctx), nil
}

// ResolveNeighbours computes the adjacency of the subdivisions of country
// from their bounding boxes, fetching boxes where they are not cached.
func (e *Enricher) ResolveNeighbours(ctx context.Context, country string) (map[string][]string, error) {
	r, err := e.prepare(country)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return map[string][]string{}, nil
	}
	return r.resolveNeighbours(ctx), nil
}
