package subgeo

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeCentroid(t *testing.T) {
	tests := []struct {
		in      string
		want    *Centroid
		wantErr bool
	}{
		{"", nil, false},
		{"40.7056,20.0879", &Centroid{40.7056, 20.0879}, false},
		{" -33.5 , 151.25 ", &Centroid{-33.5, 151.25}, false},
		{"40.7056", nil, true},
		{"1,2,3", nil, true},
		{"abc,20", nil, true},
		{"91,20", nil, true},
		{"10,-180.5", nil, true},
	}
	for _, tt := range tests {
		got, err := decodeCentroid(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("decodeCentroid(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, errMalformedCell) {
			t.Errorf("decodeCentroid(%q) error %v is not errMalformedCell", tt.in, err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("decodeCentroid(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestEncodeCentroid(t *testing.T) {
	if got := encodeCentroid(&Centroid{40.7056, 20.08}); got != "40.7056,20.08" {
		t.Errorf("encodeCentroid = %q", got)
	}
	if got := encodeCentroid(nil); got != "" {
		t.Errorf("encodeCentroid(nil) = %q", got)
	}
}

func TestDecodeBoundingBox(t *testing.T) {
	got, err := decodeBoundingBox("[40.3407,40.8752,19.7312,20.4488]")
	if err != nil {
		t.Fatalf("decodeBoundingBox: %v", err)
	}
	if diff := cmp.Diff(&boxAL01, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if enc := encodeBoundingBox(got); enc != "[40.3407,40.8752,19.7312,20.4488]" {
		t.Errorf("encodeBoundingBox = %q", enc)
	}

	for _, bad := range []string{"[1,2,3]", "not json", "[2,1,0,1]", "[0,1,0,200]"} {
		if _, err := decodeBoundingBox(bad); !errors.Is(err, errMalformedCell) {
			t.Errorf("decodeBoundingBox(%q) error = %v, want errMalformedCell", bad, err)
		}
	}
}

func TestDecodePerimeter(t *testing.T) {
	if p, err := decodePerimeter("444.76"); err != nil || *p != 444.76 {
		t.Errorf("decodePerimeter = %v, %v", p, err)
	}
	for _, bad := range []string{"0", "-3", "x"} {
		if _, err := decodePerimeter(bad); err == nil {
			t.Errorf("decodePerimeter(%q) accepted", bad)
		}
	}
}

func TestNormalizeNeighbours(t *testing.T) {
	got := normalizeNeighbours([]string{"AL-09", "AL-01", "AL-03", "AL-01"}, "AL-03")
	want := []string{"AL-01", "AL-09"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if got := normalizeNeighbours([]string{"AL-03"}, "AL-03"); got != nil {
		t.Errorf("only self = %v, want nil", got)
	}
}

func TestDecodeRowKeepsGoodCells(t *testing.T) {
	row := []string{"FR-01", "not,a,centroid", "[46.0,46.5,4.7,6.2]", "", "120.5", "FR-01,FR-74,FR-38"}
	rec, errs := decodeRow(row)
	if len(errs) != 1 {
		t.Fatalf("got %d cell errors, want 1: %v", len(errs), errs)
	}
	if rec.Code != "FR-01" {
		t.Errorf("code = %q", rec.Code)
	}
	if rec.Centroid != nil {
		t.Errorf("malformed centroid kept: %+v", rec.Centroid)
	}
	if rec.BoundingBox == nil || rec.PerimeterKm == nil {
		t.Errorf("good cells dropped: %+v", rec)
	}
	if diff := cmp.Diff([]string{"FR-38", "FR-74"}, rec.Neighbours); diff != "" {
		t.Errorf("neighbours mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeRowBoundary(t *testing.T) {
	fc := wrapBoundary("AL-01", boxPolygon(boxAL01))
	row, err := encodeRow(GeoRecord{Code: "AL-01", Boundary: fc})
	if err != nil {
		t.Fatalf("encodeRow: %v", err)
	}
	if len(row) != len(cacheHeader) {
		t.Fatalf("row has %d cells, want %d", len(row), len(cacheHeader))
	}
	back, err := decodeBoundary(row[3])
	if err != nil {
		t.Fatalf("decodeBoundary: %v", err)
	}
	if len(back.Features) != 1 || back.Features[0].Properties["name"] != "AL-01" {
		t.Errorf("boundary feature = %+v", back.Features)
	}
	if row[1] != "" || row[2] != "" || row[4] != "" || row[5] != "" {
		t.Errorf("absent attributes not empty: %q", row)
	}
}

// Cells written with trailing zeros keep their value but are rewritten in
// shortest form on the next flush.
func TestRowRewriteNormalizesNumberText(t *testing.T) {
	in := []string{"AL-03", "41.1000,20.0800", "[40.70,41.40,19.60,20.61]", "", "250.50", ""}
	rec, errs := decodeRow(in)
	if len(errs) != 0 {
		t.Fatalf("decode errors: %v", errs)
	}
	if *rec.Centroid != (Centroid{41.1, 20.08}) {
		t.Errorf("centroid = %+v", *rec.Centroid)
	}
	out, err := encodeRow(rec)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"AL-03", "41.1,20.08", "[40.7,41.4,19.6,20.61]", "", "250.5", ""}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
