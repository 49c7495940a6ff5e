package subgeo

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/afero"
)

func TestEnrichIsIdempotent(t *testing.T) {
	geo := newFakeGeocoder(fixturePlaces())
	e, fs := newTestEnricher(t, geo)
	ctx := context.Background()

	first, err := e.Enrich(ctx, "AL", AllAttributes)
	if err != nil {
		t.Fatal(err)
	}
	if first.FlushErr != nil {
		t.Fatalf("flush: %v", first.FlushErr)
	}
	// centroid, bounding box and boundary once per code; perimeter and
	// neighbours reuse what is already stored.
	if geo.Calls() != 9 {
		t.Errorf("first run geocoder calls = %d, want 9", geo.Calls())
	}
	if len(first.Records) != 3 {
		t.Errorf("first run records = %d, want 3", len(first.Records))
	}
	before, err := afero.ReadFile(fs, testCachePath)
	if err != nil {
		t.Fatal(err)
	}

	geo.reset()
	second, err := e.Enrich(ctx, "AL", AllAttributes)
	if err != nil {
		t.Fatal(err)
	}
	if geo.Calls() != 0 {
		t.Errorf("second run geocoder calls = %d, want 0", geo.Calls())
	}
	if n := second.Counts.RemoteCalls(); n != 0 {
		t.Errorf("second run counted %d remote calls", n)
	}
	if c := second.Counts.Get(AttrCentroid); c.Hits != 3 {
		t.Errorf("second run centroid counts = %+v", c)
	}
	after, err := afero.ReadFile(fs, testCachePath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Errorf("cache changed on second run:\n%s\n---\n%s", before, after)
	}
}

func TestEnrichProjectsRequestedAttributes(t *testing.T) {
	geo := newFakeGeocoder(fixturePlaces())
	e, _ := newTestEnricher(t, geo)

	res, err := e.Enrich(context.Background(), "008", Attributes(AttrNeighbours))
	if err != nil {
		t.Fatal(err)
	}
	if res.Country != "AL" || res.Name != "Albania" || res.Subdivisions != 3 {
		t.Errorf("result header = %q %q %d", res.Country, res.Name, res.Subdivisions)
	}
	for code, rec := range res.Records {
		if rec.Present() != Attributes(AttrNeighbours) {
			t.Errorf("%s carries %s, want neighbours only", code, rec.Present())
		}
	}
	// Boxes fetched for adjacency stay in the store.
	rec, _ := e.Store().Get("AL-03")
	if rec.BoundingBox == nil {
		t.Error("bounding box fetched for neighbours not stored")
	}
}

func TestEnrichEmptyCountry(t *testing.T) {
	geo := newFakeGeocoder(fixturePlaces())
	e, fs := newTestEnricher(t, geo)

	res, err := e.Enrich(context.Background(), "bv", AllAttributes)
	if err != nil {
		t.Fatal(err)
	}
	if res.Country != "BV" || len(res.Records) != 0 || res.Subdivisions != 0 {
		t.Errorf("result = %+v", res)
	}
	if ok, _ := afero.Exists(fs, testCachePath); ok {
		t.Error("cache written for a country without subdivisions")
	}
}

func TestEnrichReportsFlushError(t *testing.T) {
	geo := newFakeGeocoder(fixturePlaces())
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	store := OpenStore(fs, testCachePath, discardLogger())
	e := New(store, geo, testCatalogue(t), WithLogger(discardLogger()), WithFs(fs))

	res, err := e.Enrich(context.Background(), "AL", Attributes(AttrCentroid))
	if err != nil {
		t.Fatalf("Enrich returned %v; flush errors belong on the result", err)
	}
	if res.FlushErr == nil {
		t.Error("FlushErr not set for a read-only filesystem")
	}
	if len(res.Records) != 3 {
		t.Errorf("records = %d, want 3 despite the failed write", len(res.Records))
	}
}
