package subgeo

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
)

func TestResolveCentroidsRoundsFreshValues(t *testing.T) {
	geo := newFakeGeocoder(fixturePlaces())
	e, _ := newTestEnricher(t, geo)

	got, err := e.ResolveCentroids(context.Background(), "ALB")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]Centroid{
		"AL-01": {40.7056, 20.0879},
		"AL-03": {41.1125, 20.0822},
		"AL-09": {41.6, 20.3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if geo.Calls() != 3 {
		t.Errorf("geocoder calls = %d, want 3", geo.Calls())
	}
}

func TestResolveCentroidsServesCacheUnchanged(t *testing.T) {
	geo := newFakeGeocoder(fixturePlaces())
	e, _ := newTestEnricher(t, geo)
	// Cached values are never re-rounded.
	e.Store().Upsert(GeoRecord{Code: "AL-01", Centroid: &Centroid{40.70561234, 20.08793456}})

	got, err := e.ResolveCentroids(context.Background(), "AL")
	if err != nil {
		t.Fatal(err)
	}
	if got["AL-01"] != (Centroid{40.70561234, 20.08793456}) {
		t.Errorf("cached centroid altered: %+v", got["AL-01"])
	}
	if geo.Calls() != 2 {
		t.Errorf("geocoder calls = %d, want 2", geo.Calls())
	}
}

func TestResolveBoundingBoxes(t *testing.T) {
	places := fixturePlaces()
	places["AL-09"].BoundingBox = &BoundingBox{MinLat: 42, MaxLat: 41, MinLon: 20, MaxLon: 21}
	geo := newFakeGeocoder(places)
	e, _ := newTestEnricher(t, geo)

	got, err := e.ResolveBoundingBoxes(context.Background(), "AL")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]BoundingBox{"AL-01": boxAL01, "AL-03": boxAL03}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if _, ok := e.Store().Get("AL-09"); ok {
		t.Error("invalid box stored")
	}
}

func TestResolveBoundariesWrapsFeature(t *testing.T) {
	geo := newFakeGeocoder(fixturePlaces())
	e, _ := newTestEnricher(t, geo)

	got, err := e.ResolveBoundaries(context.Background(), "AL")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d boundaries, want 3", len(got))
	}
	for code, fc := range got {
		if len(fc.Features) != 1 {
			t.Errorf("%s: %d features", code, len(fc.Features))
			continue
		}
		if name := fc.Features[0].Properties["name"]; name != code {
			t.Errorf("%s: feature name %v", code, name)
		}
	}
	if geo.boundaryCalls != 3 {
		t.Errorf("boundary lookups = %d, want 3", geo.boundaryCalls)
	}
}

func TestResolvePerimetersUsesBoundaryResolver(t *testing.T) {
	geo := newFakeGeocoder(fixturePlaces())
	e, _ := newTestEnricher(t, geo)
	e.Store().Upsert(GeoRecord{Code: "AL-03", Boundary: wrapBoundary("AL-03", unitSquare)})

	got, err := e.ResolvePerimeters(context.Background(), "AL")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d perimeters, want 3: %v", len(got), got)
	}
	if math.Abs(got["AL-03"]-444.8) > 0.5 {
		t.Errorf("AL-03 perimeter from cached boundary = %v", got["AL-03"])
	}
	for code, km := range got {
		if km <= 0 {
			t.Errorf("%s perimeter %v not positive", code, km)
		}
		rec, _ := e.Store().Get(code)
		if rec.PerimeterKm == nil || *rec.PerimeterKm != km {
			t.Errorf("%s perimeter not stored", code)
		}
	}
	// AL-03 boundary came from cache; only the other two were fetched.
	if geo.boundaryCalls != 2 {
		t.Errorf("boundary lookups = %d, want 2", geo.boundaryCalls)
	}
}

func TestResolvePerimetersNotComputable(t *testing.T) {
	places := fixturePlaces()
	delete(places, "AL-09")
	geo := newFakeGeocoder(places)
	e, _ := newTestEnricher(t, geo)
	e.Store().Upsert(GeoRecord{Code: "AL-03", Boundary: wrapBoundary("AL-03", boxPolygon(BoundingBox{}))})

	got, err := e.ResolvePerimeters(context.Background(), "AL")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got["AL-03"]; ok {
		t.Error("zero-length boundary produced a perimeter")
	}
	if _, ok := got["AL-09"]; ok {
		t.Error("missing boundary produced a perimeter")
	}
	rec, _ := e.Store().Get("AL-03")
	if rec.PerimeterKm != nil {
		t.Errorf("non-positive perimeter stored: %v", *rec.PerimeterKm)
	}
}

func TestFailedLookupsAreNotRetriedWithinRun(t *testing.T) {
	geo := newFakeGeocoder(map[string]*Place{})
	e, _ := newTestEnricher(t, geo)
	r, err := e.prepare("AL")
	if err != nil {
		t.Fatal(err)
	}
	r.resolveBoundaries(context.Background())
	r.resolvePerimeters(context.Background())
	if geo.boundaryCalls != 3 {
		t.Errorf("boundary lookups = %d, want 3", geo.boundaryCalls)
	}
	if c := r.counts.Get(AttrPerimeter); c.Failures != 3 || c.RemoteCalls != 0 {
		t.Errorf("perimeter counts = %+v", c)
	}
}

func TestRefreshBypassesCache(t *testing.T) {
	geo := newFakeGeocoder(fixturePlaces())
	e, _ := newTestEnricher(t, geo, WithUseCache(false))
	e.Store().Upsert(GeoRecord{Code: "AL-01", Centroid: &Centroid{1, 1}})

	got, err := e.ResolveCentroids(context.Background(), "AL")
	if err != nil {
		t.Fatal(err)
	}
	if got["AL-01"] != (Centroid{40.7056, 20.0879}) {
		t.Errorf("AL-01 = %+v, want refetched value", got["AL-01"])
	}
	if geo.Calls() != 3 {
		t.Errorf("geocoder calls = %d, want 3", geo.Calls())
	}
}

func TestResolversValidateCountryFirst(t *testing.T) {
	geo := newFakeGeocoder(fixturePlaces())
	e, fs := newTestEnricher(t, geo)
	ctx := context.Background()

	for _, country := range []string{"ABC", "123"} {
		calls := []func() error{
			func() error { _, err := e.ResolveCentroids(ctx, country); return err },
			func() error { _, err := e.ResolveBoundingBoxes(ctx, country); return err },
			func() error { _, err := e.ResolveBoundaries(ctx, country); return err },
			func() error { _, err := e.ResolvePerimeters(ctx, country); return err },
			func() error { _, err := e.ResolveNeighbours(ctx, country); return err },
			func() error { _, err := e.Enrich(ctx, country, AllAttributes); return err },
		}
		for i, call := range calls {
			if err := call(); !errors.Is(err, ErrInvalidCountryCode) {
				t.Errorf("%s entry point %d: error = %v", country, i, err)
			}
		}
	}
	if geo.Calls() != 0 {
		t.Errorf("geocoder called %d times for invalid countries", geo.Calls())
	}
	if ok, _ := afero.Exists(fs, testCachePath); ok {
		t.Error("cache written for invalid countries")
	}
}

func TestResolversEmptyCountry(t *testing.T) {
	geo := newFakeGeocoder(fixturePlaces())
	e, _ := newTestEnricher(t, geo)
	ctx := context.Background()

	c, err := e.ResolveCentroids(ctx, "BV")
	if err != nil || c == nil || len(c) != 0 {
		t.Errorf("ResolveCentroids(BV) = %v, %v", c, err)
	}
	b, err := e.ResolveBoundingBoxes(ctx, "BV")
	if err != nil || b == nil || len(b) != 0 {
		t.Errorf("ResolveBoundingBoxes(BV) = %v, %v", b, err)
	}
	g, err := e.ResolveBoundaries(ctx, "BV")
	if err != nil || g == nil || len(g) != 0 {
		t.Errorf("ResolveBoundaries(BV) = %v, %v", g, err)
	}
	p, err := e.ResolvePerimeters(ctx, "BV")
	if err != nil || p == nil || len(p) != 0 {
		t.Errorf("ResolvePerimeters(BV) = %v, %v", p, err)
	}
	n, err := e.ResolveNeighbours(ctx, "BV")
	if err != nil || n == nil || len(n) != 0 {
		t.Errorf("ResolveNeighbours(BV) = %v, %v", n, err)
	}
	if geo.Calls() != 0 {
		t.Errorf("geocoder called %d times", geo.Calls())
	}
}
