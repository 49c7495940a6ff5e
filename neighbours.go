package subgeo

import (
	"context"
	"maps"
	"slices"

	"github.com/tidwall/rtree"
)

// resolveNeighbours computes adjacency for the whole country at once. Two
// subdivisions are neighbours when their bounding boxes overlap or touch.
// Cached lists are kept; fresh lists are computed against every sibling
// with a known box, then the relation is made symmetric.
func (r *countryRun) resolveNeighbours(ctx context.Context) map[string][]string {
	boxes := make(map[string]BoundingBox, len(r.codes))
	var tr rtree.RTreeG[string]
	for _, code := range r.codes {
		bb, ok := r.siblingBox(ctx, code)
		if !ok {
			continue
		}
		boxes[code] = bb
		tr.Insert([2]float64{bb.MinLon, bb.MinLat}, [2]float64{bb.MaxLon, bb.MaxLat}, code)
	}

	siblings := make(map[string]bool, len(r.codes))
	for _, code := range r.codes {
		siblings[code] = true
	}
	notSibling := func(c string) bool { return !siblings[c] }

	out := make(map[string][]string, len(boxes))
	for _, code := range r.codes {
		if rec, ok := r.cached(AttrNeighbours, code); ok {
			if list := slices.DeleteFunc(slices.Clone(rec.Neighbours), notSibling); len(list) > 0 {
				r.hit(AttrNeighbours)
				out[code] = list
				continue
			}
		}
		bb, ok := boxes[code]
		if !ok {
			r.fail(AttrNeighbours, code, "no bounding box", nil)
			continue
		}
		var found []string
		tr.Search([2]float64{bb.MinLon, bb.MinLat}, [2]float64{bb.MaxLon, bb.MaxLat},
			func(_, _ [2]float64, other string) bool {
				if other != code && bb.Overlaps(boxes[other]) {
					found = append(found, other)
				}
				return true
			})
		out[code] = normalizeNeighbours(found, code)
		r.success(AttrNeighbours, code)
	}

	symmetrize(out)
	maps.DeleteFunc(out, func(code string, _ []string) bool { return notSibling(code) })

	for _, code := range r.codes {
		list := out[code]
		rec, stored := r.e.store.Get(code)
		if len(list) == 0 {
			delete(out, code)
			if stored && slices.ContainsFunc(rec.Neighbours, notSibling) {
				r.e.store.Upsert(GeoRecord{Code: code, Neighbours: []string{}})
			}
			continue
		}
		if stored && slices.Equal(rec.Neighbours, list) {
			continue
		}
		r.e.store.Upsert(GeoRecord{Code: code, Neighbours: list})
	}
	return out
}

// siblingBox returns the bounding box of a sibling, from the store when
// present and otherwise through the bounding-box resolver. Boxes already
// present are not counted again as bounding-box hits.
func (r *countryRun) siblingBox(ctx context.Context, code string) (BoundingBox, bool) {
	if rec, ok := r.cached(AttrBoundingBox, code); ok && rec.BoundingBox != nil {
		return *rec.BoundingBox, true
	}
	return r.boundingBox(ctx, code)
}

// symmetrize adds every code to the lists of the codes it lists.
// Lists stay sorted and free of duplicates.
func symmetrize(adj map[string][]string) {
	keys := make([]string, 0, len(adj))
	for k := range adj {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, a := range keys {
		for _, b := range adj[a] {
			if _, ok := slices.BinarySearch(adj[b], a); ok {
				continue
			}
			adj[b] = normalizeNeighbours(append(slices.Clone(adj[b]), a), b)
		}
	}
}
