package subgeo

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/goccy/go-yaml"
	"github.com/spf13/afero"
)

// GapReport lists, per attribute, the subdivisions missing it.
type GapReport struct {
	Metadata   GapMetadata    `yaml:"metadata"`
	Attributes []AttributeGap `yaml:"attributes"`
}

// GapMetadata describes the analyzed cache file.
type GapMetadata struct {
	GeneratedAt  string  `yaml:"generated_at,omitempty"`
	CachePath    string  `yaml:"cache_path"`
	Rows         int     `yaml:"rows"`
	CacheBytes   int64   `yaml:"cache_bytes"`
	Completeness float64 `yaml:"completeness_percent"`
}

// AttributeGap is the gap entry of one attribute.
type AttributeGap struct {
	Attribute string   `yaml:"attribute"`
	Missing   int      `yaml:"missing"`
	Percent   float64  `yaml:"missing_percent"`
	Countries []string `yaml:"countries"`
	Codes     []string `yaml:"codes"`
}

// AnalyzeGaps reads the cache file at path and reports missing attributes.
// A missing file returns ErrCacheNotFound.
func AnalyzeGaps(fs afero.Fs, path string) (*GapReport, error) {
	records, size, err := loadCacheFile(fs, path)
	if err != nil {
		return nil, err
	}

	report := &GapReport{
		Metadata: GapMetadata{
			CachePath:  path,
			Rows:       len(records),
			CacheBytes: size,
		},
	}
	present := 0
	for _, a := range attributeOrder {
		gap := AttributeGap{Attribute: a.String(), Countries: []string{}, Codes: []string{}}
		seen := make(map[string]bool)
		for _, r := range records {
			if r.Has(a) {
				present++
				continue
			}
			gap.Codes = append(gap.Codes, r.Code)
			if cc := CountryOf(r.Code); cc != "" && !seen[cc] {
				seen[cc] = true
				gap.Countries = append(gap.Countries, cc)
			}
		}
		slices.Sort(gap.Countries)
		gap.Missing = len(gap.Codes)
		gap.Percent = roundTo(percent(gap.Missing, len(records)), 2)
		report.Attributes = append(report.Attributes, gap)
	}
	report.Metadata.Completeness = roundTo(percent(present, len(records)*len(attributeOrder)), 2)
	return report, nil
}

// Marshal renders the report as YAML.
func (g *GapReport) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encoding gap report: %w", err)
	}
	return data, nil
}

// WriteFile writes the YAML report to path, creating parent directories.
func (g *GapReport) WriteFile(fs afero.Fs, path string) error {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	data, err := g.Marshal()
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return fmt.Errorf("writing gap report %s: %w", path, err)
	}
	return nil
}
