package subgeo

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"text/tabwriter"

	geohash "github.com/TomiHiltunen/geohash-golang"
	"github.com/spf13/afero"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrCacheNotFound is returned when statistics or gaps are requested for a
// cache file that does not exist.
var ErrCacheNotFound = errors.New("cache file not found")

// duplicateGeohashPrecision is the geohash length (about 150 m cells) at
// which two centroids are considered the same point.
const duplicateGeohashPrecision = 7

// Distribution summarizes a set of values.
type Distribution struct {
	Count  int
	Min    float64
	Max    float64
	Mean   float64
	Median float64
	Sum    float64
}

func newDistribution(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	d := Distribution{Count: len(sorted), Min: sorted[0], Max: sorted[len(sorted)-1]}
	for _, v := range sorted {
		d.Sum += v
	}
	d.Mean = d.Sum / float64(len(sorted))
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		d.Median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		d.Median = sorted[mid]
	}
	return d
}

// Presence counts the rows carrying one attribute.
type Presence struct {
	Attribute Attribute
	Count     int
	Percent   float64
}

// Statistics is a read-only summary of a cache file.
type Statistics struct {
	Path      string
	Rows      int
	SizeBytes int64
	Presence  []Presence // in attribute order

	CentroidLat Distribution
	CentroidLon Distribution
	BoxWidth    Distribution
	BoxHeight   Distribution
	BoxArea     Distribution
	Perimeter   Distribution

	Complete int // centroid, bounding box and perimeter present
	Partial  int
	Empty    int // none of centroid, bounding box and perimeter present

	// SharedCentroids counts rows whose centroid falls in the same geohash
	// cell as another row's, usually a sign of a country-level fallback
	// match.
	SharedCentroids int
}

// loadCacheFile reads a cache file for the read-only analyzers.
func loadCacheFile(fs afero.Fs, path string) ([]GeoRecord, int64, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	info, err := fs.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s", ErrCacheNotFound, path)
		}
		return nil, 0, fmt.Errorf("stat cache %s: %w", path, err)
	}
	s := NewStore(fs, path, slog.Default())
	if err := s.Load(); err != nil {
		return nil, 0, err
	}
	return s.Records(), info.Size(), nil
}

// ComputeStatistics reads the cache file at path and summarizes it.
// A missing file returns ErrCacheNotFound.
func ComputeStatistics(fs afero.Fs, path string) (*Statistics, error) {
	records, size, err := loadCacheFile(fs, path)
	if err != nil {
		return nil, err
	}

	st := &Statistics{Path: path, Rows: len(records), SizeBytes: size}
	counts := make(map[Attribute]int, len(attributeOrder))
	var lats, lons, widths, heights, areas, perimeters []float64
	cells := make(map[string]int)

	for _, r := range records {
		for _, a := range attributeOrder {
			if r.Has(a) {
				counts[a]++
			}
		}
		if c := r.Centroid; c != nil {
			lats = append(lats, c.Lat)
			lons = append(lons, c.Lon)
			cells[geohash.EncodeWithPrecision(c.Lat, c.Lon, duplicateGeohashPrecision)]++
		}
		if b := r.BoundingBox; b != nil {
			widths = append(widths, b.Width())
			heights = append(heights, b.Height())
			areas = append(areas, b.Width()*b.Height())
		}
		if r.PerimeterKm != nil {
			perimeters = append(perimeters, *r.PerimeterKm)
		}

		switch n := countCore(r); n {
		case 3:
			st.Complete++
		case 0:
			st.Empty++
		default:
			st.Partial++
		}
	}

	for _, a := range attributeOrder {
		st.Presence = append(st.Presence, Presence{
			Attribute: a,
			Count:     counts[a],
			Percent:   percent(counts[a], st.Rows),
		})
	}
	st.CentroidLat = newDistribution(lats)
	st.CentroidLon = newDistribution(lons)
	st.BoxWidth = newDistribution(widths)
	st.BoxHeight = newDistribution(heights)
	st.BoxArea = newDistribution(areas)
	st.Perimeter = newDistribution(perimeters)
	for _, n := range cells {
		if n > 1 {
			st.SharedCentroids += n
		}
	}
	return st, nil
}

// countCore counts the core attributes used for completeness.
func countCore(r GeoRecord) int {
	n := 0
	for _, a := range []Attribute{AttrCentroid, AttrBoundingBox, AttrPerimeter} {
		if r.Has(a) {
			n++
		}
	}
	return n
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100 / float64(total)
}

// Write renders the statistics as text.
func (st *Statistics) Write(w io.Writer) error {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "Cache %s: %d rows, %d bytes\n\n", st.Path, st.Rows, st.SizeBytes)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "attribute\tpresent\tpercent\t")
	for _, pr := range st.Presence {
		p.Fprintf(tw, "%s\t%d\t%.1f%%\t\n", pr.Attribute, pr.Count, pr.Percent)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	p.Fprintf(w, "\nRows: %d complete, %d partial, %d empty\n", st.Complete, st.Partial, st.Empty)
	p.Fprintf(w, "Centroids sharing a geohash cell: %d\n\n", st.SharedCentroids)

	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "distribution\tcount\tmin\tmax\tmean\tmedian\tsum\t")
	for _, row := range []struct {
		name string
		d    Distribution
	}{
		{"centroid latitude", st.CentroidLat},
		{"centroid longitude", st.CentroidLon},
		{"bbox width (deg)", st.BoxWidth},
		{"bbox height (deg)", st.BoxHeight},
		{"bbox area (deg²)", st.BoxArea},
		{"perimeter (km)", st.Perimeter},
	} {
		d := row.d
		p.Fprintf(tw, "%s\t%d\t%.4f\t%.4f\t%.4f\t%.4f\t%.2f\t\n",
			row.name, d.Count, d.Min, d.Max, d.Mean, d.Median, d.Sum)
	}
	return tw.Flush()
}
