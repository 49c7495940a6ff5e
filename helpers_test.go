package subgeo

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/spf13/afero"
)

// discardLogger keeps test output quiet.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testCatalogue loads the catalogue fixtures from testdata.
func testCatalogue(t *testing.T) *DivisionCatalogue {
	t.Helper()
	cat, err := LoadCatalogue(afero.NewReadOnlyFs(afero.NewOsFs()), "testdata")
	if err != nil {
		t.Fatalf("LoadCatalogue: %v", err)
	}
	return cat
}

// boxPolygon returns the rectangle of b as a polygon with an open ring.
func boxPolygon(b BoundingBox) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{b.MinLon, b.MinLat},
		{b.MinLon, b.MaxLat},
		{b.MaxLon, b.MaxLat},
		{b.MaxLon, b.MinLat},
	}}
}

var (
	boxAL01 = BoundingBox{MinLat: 40.3407, MaxLat: 40.8752, MinLon: 19.7312, MaxLon: 20.4488}
	boxAL03 = BoundingBox{MinLat: 40.7069, MaxLat: 41.3959, MinLon: 19.6734, MaxLon: 20.6064}
	boxAL09 = BoundingBox{MinLat: 41.2, MaxLat: 42.0, MinLon: 20.0, MaxLon: 20.6}
)

// fixturePlaces are the geocoder answers for the Albanian fixtures.
// AL-01 touches AL-03, AL-03 touches AL-09, AL-01 and AL-09 are apart.
func fixturePlaces() map[string]*Place {
	return map[string]*Place{
		"AL-01": {
			Centroid:    &Centroid{Lat: 40.705612, Lon: 20.087934},
			BoundingBox: &BoundingBox{MinLat: 40.34071, MaxLat: 40.87519, MinLon: 19.73118, MaxLon: 20.44876},
			Boundary:    boxPolygon(boxAL01),
		},
		"AL-03": {
			Centroid:    &Centroid{Lat: 41.1125, Lon: 20.0822},
			BoundingBox: &boxAL03,
			Boundary:    boxPolygon(boxAL03),
		},
		"AL-09": {
			Centroid:    &Centroid{Lat: 41.6, Lon: 20.3},
			BoundingBox: &boxAL09,
			Boundary:    orb.MultiPolygon{boxPolygon(boxAL09)},
		},
	}
}

// fakeGeocoder serves fixed places and records every call. Like Client,
// it answers nil once ctx is done. onLookup, when set, runs on every call.
type fakeGeocoder struct {
	mu            sync.Mutex
	places        map[string]*Place
	calls         int
	boundaryCalls int
	codes         []string
	onLookup      func(code string)
}

func newFakeGeocoder(places map[string]*Place) *fakeGeocoder {
	return &fakeGeocoder{places: places}
}

func (f *fakeGeocoder) Lookup(ctx context.Context, code string, wantBoundary bool) (*Place, error) {
	if _, err := splitSubdivisionCode(code); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.codes = append(f.codes, code)
	if wantBoundary {
		f.boundaryCalls++
	}
	if f.onLookup != nil {
		f.onLookup(code)
	}
	if ctx.Err() != nil {
		return nil, nil
	}
	p, ok := f.places[code]
	if !ok {
		return nil, nil
	}
	out := *p
	if !wantBoundary {
		out.Boundary = nil
	}
	return &out, nil
}

func (f *fakeGeocoder) LookupCentroid(ctx context.Context, code string) (*Centroid, error) {
	if _, err := splitSubdivisionCode(code); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.codes = append(f.codes, code)
	if f.onLookup != nil {
		f.onLookup(code)
	}
	if ctx.Err() != nil {
		return nil, nil
	}
	p, ok := f.places[code]
	if !ok || p.Centroid == nil {
		return nil, nil
	}
	c := *p.Centroid
	return &c, nil
}

func (f *fakeGeocoder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeGeocoder) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls, f.boundaryCalls, f.codes = 0, 0, nil
}

const testCachePath = "/cache/geo-cache.csv"

var testNow = time.Date(2026, 10, 19, 14, 30, 5, 0, time.UTC)

// newTestEnricher wires an Enricher over a memory filesystem.
func newTestEnricher(t *testing.T, geo Geocoder, opts ...Option) (*Enricher, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	store := OpenStore(fs, testCachePath, discardLogger())
	base := []Option{
		WithLogger(discardLogger()),
		WithFs(fs),
		WithReportDir("/reports"),
		WithClock(func() time.Time { return testNow }),
	}
	return New(store, geo, testCatalogue(t), append(base, opts...)...), fs
}
