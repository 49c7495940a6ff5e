package subgeo

import (
	"context"
	"time"
)

// CountryResult is the outcome of enriching one country.
type CountryResult struct {
	Country      string               // normalized alpha-2 code
	Name         string               // English short name
	Subdivisions int                  // number of subdivision codes in the catalogue
	Records      map[string]GeoRecord // requested attributes per subdivision; codes with none are omitted
	Counts       AttributeCounts
	FlushErr     error // set when the cache write after this country failed
	Duration     time.Duration
}

// Enrich resolves the requested attributes for every subdivision of
// country, in the fixed order centroid, bounding box, boundary, perimeter,
// neighbours, and writes the cache file once at the end.
//
// country may be an alpha-2, alpha-3 or numeric code. An unknown country
// returns ErrInvalidCountryCode before any cache or network access. A
// country without subdivisions yields an empty result and no cache write.
// Remote failures never fail the call; they are counted in the result.
func (e *Enricher) Enrich(ctx context.Context, country string, attrs Attributes) (*CountryResult, error) {
	start := e.config.Clock()
	r, err := e.prepare(country)
	if err != nil {
		return nil, err
	}
	if r == nil {
		iso, _ := e.catalogue.NormalizeCountry(country)
		name, _ := e.catalogue.CountryName(iso)
		e.logger.Info("country has no subdivisions", "country", iso)
		return &CountryResult{Country: iso, Name: name, Records: map[string]GeoRecord{}}, nil
	}

	name, _ := e.catalogue.CountryName(r.country)
	logger := e.logger.With("country", r.country)
	logger.Info("enriching country", "subdivisions", len(r.codes), "attributes", attrs.String())

	for _, a := range attrs.List() {
		switch a {
		case AttrCentroid:
			r.resolveCentroids(ctx)
		case AttrBoundingBox:
			r.resolveBoundingBoxes(ctx)
		case AttrBoundary:
			r.resolveBoundaries(ctx)
		case AttrPerimeter:
			r.resolvePerimeters(ctx)
		case AttrNeighbours:
			r.resolveNeighbours(ctx)
		}
		c := r.counts.Get(a)
		logger.Debug("attribute resolved",
			"attribute", a.String(),
			"hits", c.Hits,
			"remote_calls", c.RemoteCalls,
			"successes", c.Successes,
			"failures", c.Failures,
		)
	}

	res := &CountryResult{
		Country:      r.country,
		Name:         name,
		Subdivisions: len(r.codes),
		Records:      make(map[string]GeoRecord, len(r.codes)),
		Counts:       r.counts,
	}
	for _, code := range r.codes {
		rec, ok := e.store.Get(code)
		if !ok {
			continue
		}
		if p := rec.project(attrs); p.Present() != 0 {
			res.Records[code] = p
		}
	}

	if err := e.store.Flush(); err != nil {
		CacheFlushesTotal.WithLabelValues("error").Inc()
		logger.Error("failed to write cache", "path", e.store.Path(), "error", err)
		res.FlushErr = err
	} else {
		CacheFlushesTotal.WithLabelValues("ok").Inc()
	}

	res.Duration = e.config.Clock().Sub(start)
	logger.Info("country enriched",
		"records", len(res.Records),
		"remote_calls", res.Counts.RemoteCalls(),
		"duration", res.Duration,
	)
	return res, nil
}
