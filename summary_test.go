package subgeo

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func testSummary() *RunSummary {
	s := &RunSummary{
		RunID:      "run-1",
		Attributes: Attributes(AttrCentroid | AttrPerimeter),
		Workers:    2,
		Started:    testNow.Add(-90 * time.Second),
		Finished:   testNow,
		CachePath:  testCachePath,
		CacheRows:  1234,
		CacheBytes: 56789,
		Countries: []CountryOutcome{
			{Input: "AL", Status: StatusSucceeded, Result: &CountryResult{
				Country:      "AL",
				Name:         "Albania",
				Subdivisions: 12,
				Duration:     3 * time.Second,
				FlushErr:     errors.New("disk full"),
			}},
			{Input: "ABC", Status: StatusFailed, Err: ErrInvalidCountryCode},
			{Input: "FR", Status: StatusSkipped},
		},
	}
	s.Totals.at(AttrCentroid).Hits = 10
	s.Totals.at(AttrCentroid).Successes = 2
	return s
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSummary(&buf, testSummary()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Enrichment run run-1",
		"Elapsed:    1m30s",
		"Attributes: centroid,perimeter",
		"Countries:  3 requested, 1 succeeded, 1 failed, 1 skipped",
		"Albania",
		"cache write failed: disk full",
		"ABC",
		"skipped",
		"Cache: /cache/geo-cache.csv (1,234 rows, 56,789 bytes)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "boundingBox") {
		t.Errorf("summary lists an attribute that was not requested:\n%s", out)
	}
	if strings.Contains(out, "cancelled") {
		t.Errorf("uncancelled run reported as cancelled:\n%s", out)
	}
}

func TestReportWritesFile(t *testing.T) {
	e, fs := newTestEnricher(t, newFakeGeocoder(nil))
	s := testSummary()

	var console bytes.Buffer
	path, err := e.Report(&console, s)
	if err != nil {
		t.Fatal(err)
	}
	if path != "/reports/enrichment-summary-20261019-143005.txt" {
		t.Errorf("path = %q", path)
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, console.Bytes()) {
		t.Error("file and console summaries differ")
	}
}
