package subgeo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/spf13/afero"
)

// ErrInvalidCountryCode is returned for a country code that is malformed or
// not present in the catalogue.
var ErrInvalidCountryCode = errors.New("invalid country code")

// Catalogue is the read-only source of subdivision codes per country.
type Catalogue interface {
	// NormalizeCountry maps an alpha-2, alpha-3 or numeric country code
	// (or an English country name) to its alpha-2 form.
	NormalizeCountry(code string) (string, error)
	// SubdivisionCodes returns the ordered subdivision codes of a country.
	SubdivisionCodes(country string) ([]string, error)
	// CountryName returns the English short name of a country.
	CountryName(country string) (string, error)
}

// CountryInfo is the subset of Geonames country metadata the catalogue needs.
type CountryInfo struct {
	ISO        string // alpha-2, e.g. "US"
	ISO3       string // alpha-3, e.g. "USA"
	ISONumeric int    // e.g. 840
	Name       string
}

// AdminDivision is a first-level administrative division (state, province, etc.)
type AdminDivision struct {
	Code string // ISO 3166-2 code (e.g., "US-TX", "CA-ON")
	Name string // Full name (e.g., "Texas", "Ontario")
}

// DivisionCatalogue is an in-memory Catalogue.
type DivisionCatalogue struct {
	countries map[string]CountryInfo
	byISO3    map[string]string
	byNumeric map[int]string
	byName    map[string]string

	// divisions maps country code -> divisions in file order
	divisions map[string][]AdminDivision
}

// NewCatalogue builds a catalogue from country metadata and divisions.
// Divisions whose country prefix is unknown are dropped.
func NewCatalogue(countries []CountryInfo, divisions []AdminDivision) *DivisionCatalogue {
	c := &DivisionCatalogue{
		countries: make(map[string]CountryInfo, len(countries)),
		byISO3:    make(map[string]string, len(countries)),
		byNumeric: make(map[int]string, len(countries)),
		byName:    make(map[string]string, len(countries)),
		divisions: make(map[string][]AdminDivision),
	}
	for _, ci := range countries {
		iso := strings.ToUpper(ci.ISO)
		ci.ISO = iso
		c.countries[iso] = ci
		if ci.ISO3 != "" {
			c.byISO3[strings.ToUpper(ci.ISO3)] = iso
		}
		if ci.ISONumeric > 0 {
			c.byNumeric[ci.ISONumeric] = iso
		}
		if ci.Name != "" {
			c.byName[strings.ToLower(ci.Name)] = iso
		}
	}
	seen := make(map[string]bool, len(divisions))
	for _, d := range divisions {
		cc := strings.ToUpper(CountryOf(d.Code))
		if _, ok := c.countries[cc]; !ok || seen[d.Code] {
			continue
		}
		seen[d.Code] = true
		c.divisions[cc] = append(c.divisions[cc], d)
	}
	return c
}

// Catalogue data files, relative to the catalogue directory.
const (
	countryInfoFile  = "countryInfo.txt"
	subdivisionsFile = "subdivisions.txt"
	countryInfoURL   = "https://download.geonames.org/export/dump/countryInfo.txt"
)

// LoadCatalogue reads countryInfo.txt (Geonames format) and
// subdivisions.txt (CODE<tab>Name) from dir.
func LoadCatalogue(fs afero.Fs, dir string) (*DivisionCatalogue, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	countries, err := loadCountryInfo(fs, filepath.Join(dir, countryInfoFile))
	if err != nil {
		return nil, fmt.Errorf("loading country info: %w", err)
	}
	divisions, err := loadAdminDivisions(fs, filepath.Join(dir, subdivisionsFile))
	if err != nil {
		return nil, fmt.Errorf("loading subdivisions: %w", err)
	}
	return NewCatalogue(countries, divisions), nil
}

// loadCountryInfo parses the Geonames countryInfo.txt dump.
// Format: ISO<tab>ISO3<tab>ISO-Numeric<tab>fips<tab>Country<tab>...
func loadCountryInfo(fs afero.Fs, path string) ([]CountryInfo, error) {
	fi, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer fi.Close()

	var out []CountryInfo
	scanner := bufio.NewScanner(fi)
	for scanner.Scan() {
		t := scanner.Text()
		if len(t) == 0 || t[0] == '#' {
			continue
		}
		fields := strings.Split(t, "\t")
		if len(fields) < 5 || fields[0] == "" {
			continue
		}
		numeric, _ := strconv.Atoi(fields[2])
		out = append(out, CountryInfo{
			ISO:        fields[0],
			ISO3:       fields[1],
			ISONumeric: numeric,
			Name:       fields[4],
		})
	}
	return out, scanner.Err()
}

// loadAdminDivisions parses a subdivision list.
// Format: CC-CODE<tab>Name
func loadAdminDivisions(fs afero.Fs, path string) ([]AdminDivision, error) {
	fi, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer fi.Close()

	var out []AdminDivision
	scanner := bufio.NewScanner(fi)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		code, name, _ := strings.Cut(line, "\t")
		code = strings.TrimSpace(code)
		if CountryOf(code) == "" {
			continue
		}
		out = append(out, AdminDivision{Code: code, Name: strings.TrimSpace(name)})
	}
	return out, scanner.Err()
}

// NormalizeCountry implements Catalogue.
func (c *DivisionCatalogue) NormalizeCountry(code string) (string, error) {
	raw := strings.TrimSpace(code)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCountryCode)
	}
	upper := strings.ToUpper(raw)

	if isDigits(upper) {
		n, _ := strconv.Atoi(upper)
		if iso, ok := c.byNumeric[n]; ok {
			return iso, nil
		}
		return "", fmt.Errorf("%w: %q", ErrInvalidCountryCode, code)
	}

	switch {
	case len(upper) == 2 && isLetters(upper):
		if _, ok := c.countries[upper]; ok {
			return upper, nil
		}
	case len(upper) == 3 && isLetters(upper):
		if iso, ok := c.byISO3[upper]; ok {
			return iso, nil
		}
	default:
		if iso, ok := c.byName[strings.ToLower(raw)]; ok {
			return iso, nil
		}
	}

	if s := c.suggest(raw); s != "" {
		return "", fmt.Errorf("%w: %q (did you mean %q?)", ErrInvalidCountryCode, code, s)
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCountryCode, code)
}

// maxSuggestDistance bounds the edit distance for "did you mean" hints.
const maxSuggestDistance = 2

// suggest returns the closest alpha-3 code or country name to s, or "" if
// no single candidate is close enough.
func (c *DivisionCatalogue) suggest(s string) string {
	var candidates []string
	var query string
	if len(s) <= 3 {
		query = strings.ToUpper(s)
		for iso3 := range c.byISO3 {
			candidates = append(candidates, iso3)
		}
	} else {
		query = strings.ToLower(s)
		for name := range c.byName {
			candidates = append(candidates, name)
		}
	}
	sort.Strings(candidates)

	limit := maxSuggestDistance
	if len(query) <= 3 {
		limit = 1
	}
	best, bestDist, ties := "", limit+1, 0
	for _, cand := range candidates {
		d := levenshtein.ComputeDistance(query, cand)
		switch {
		case d < bestDist:
			best, bestDist, ties = cand, d, 0
		case d == bestDist:
			ties++
		}
	}
	if best == "" || ties > 0 {
		return ""
	}
	if iso, ok := c.byName[best]; ok {
		return c.countries[iso].Name
	}
	return best
}

// SubdivisionCodes implements Catalogue.
func (c *DivisionCatalogue) SubdivisionCodes(country string) ([]string, error) {
	iso, err := c.NormalizeCountry(country)
	if err != nil {
		return nil, err
	}
	divs := c.divisions[iso]
	codes := make([]string, len(divs))
	for i, d := range divs {
		codes[i] = d.Code
	}
	return codes, nil
}

// CountryName implements Catalogue.
func (c *DivisionCatalogue) CountryName(country string) (string, error) {
	iso, err := c.NormalizeCountry(country)
	if err != nil {
		return "", err
	}
	return c.countries[iso].Name, nil
}

// Countries returns every alpha-2 code in the catalogue, sorted.
func (c *DivisionCatalogue) Countries() []string {
	out := make([]string, 0, len(c.countries))
	for iso := range c.countries {
		out = append(out, iso)
	}
	sort.Strings(out)
	return out
}

// DivisionName returns the name of a subdivision, or "" if unknown.
func (c *DivisionCatalogue) DivisionName(code string) string {
	for _, d := range c.divisions[strings.ToUpper(CountryOf(code))] {
		if d.Code == code {
			return d.Name
		}
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func isLetters(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return s != ""
}

var catalogueHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}

// DownloadCountryInfo fetches the Geonames countryInfo.txt into dir if it
// does not exist yet. The subdivision list has no canonical download and
// must be provided alongside it.
func DownloadCountryInfo(ctx context.Context, fs afero.Fs, dir string) error {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	path := filepath.Join(dir, countryInfoFile)
	if _, err := fs.Stat(path); err == nil {
		return nil
	}
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return downloadFile(ctx, fs, countryInfoURL, path)
}

func downloadFile(ctx context.Context, fs afero.Fs, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := catalogueHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}

	out, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}

	// Remove partial files on error.
	success := false
	defer func() {
		out.Close()
		if !success {
			fs.Remove(path)
		}
	}()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("writing file %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing file %s: %w", path, err)
	}
	success = true
	return nil
}
