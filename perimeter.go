package subgeo

import (
	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// earthRadiusKm is the mean Earth radius used for great-circle lengths.
const earthRadiusKm = 6371.0

// haversineKm returns the great-circle distance between two [lon, lat] points.
func haversineKm(a, b orb.Point) float64 {
	p := s2.LatLngFromDegrees(a.Lat(), a.Lon())
	q := s2.LatLngFromDegrees(b.Lat(), b.Lon())
	return p.Distance(q).Radians() * earthRadiusKm
}

// ringLengthKm sums consecutive edges of the ring plus the closing edge
// back to the first vertex. Rings of fewer than 2 points have length 0.
func ringLengthKm(r orb.Ring) float64 {
	if len(r) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(r); i++ {
		sum += haversineKm(r[i-1], r[i])
	}
	return sum + haversineKm(r[len(r)-1], r[0])
}

// PerimeterKm returns the outer-ring perimeter of a Polygon or MultiPolygon
// in kilometres, unrounded. Holes are excluded. Other geometry types yield 0.
func PerimeterKm(g orb.Geometry) float64 {
	switch geom := g.(type) {
	case orb.Polygon:
		if len(geom) == 0 {
			return 0
		}
		return ringLengthKm(geom[0])
	case orb.MultiPolygon:
		var sum float64
		for _, p := range geom {
			sum += PerimeterKm(p)
		}
		return sum
	}
	return 0
}

// collectionPerimeterKm sums the perimeters of all features and rounds the
// result to 2 decimals. ok is false when the result is not positive.
func collectionPerimeterKm(fc *geojson.FeatureCollection) (km float64, ok bool) {
	if fc == nil {
		return 0, false
	}
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		km += PerimeterKm(f.Geometry)
	}
	km = roundTo(km, 2)
	return km, km > 0
}
