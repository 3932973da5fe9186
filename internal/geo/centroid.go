// Package geo reduces polygon geometries to a single representative point.
//
// The representative point is a vertex average: the arithmetic mean of the
// outer ring's vertices (closing vertex included). It is not the planar area
// centroid, and for irregular rings the two can differ noticeably. It is
// only used to place a marker for a polygon.
package geo

import (
	"encoding/json"
	"math"

	"github.com/paulmach/orb"
)

// GeometryKind names the geometry types Centroid understands.
type GeometryKind string

const (
	KindPolygon      GeometryKind = "Polygon"
	KindMultiPolygon GeometryKind = "MultiPolygon"
)

// Centroid computes the vertex-average point for polygon coordinates.
//
// coordinates may be typed (orb.Polygon, orb.MultiPolygon, orb.Ring) or the
// untyped nesting produced by encoding/json ([]any of []any of numbers).
// The second return value is false when the input cannot be reduced: empty
// rings, non-array coordinates, non-numeric pairs or an unknown kind.
func Centroid(coordinates any, kind GeometryKind) (orb.Point, bool) {
	switch kind {
	case KindPolygon:
		ring, ok := outerRing(coordinates)
		if !ok {
			return orb.Point{}, false
		}
		return vertexAverage(ring)
	case KindMultiPolygon:
		polys, ok := coordinates.([]any)
		if !ok {
			if mp, typed := coordinates.(orb.MultiPolygon); typed {
				return CentroidOf(mp)
			}
			return orb.Point{}, false
		}
		var points []orb.Point
		for _, p := range polys {
			ring, ok := outerRing(p)
			if !ok {
				return orb.Point{}, false
			}
			points = append(points, ring...)
		}
		return vertexAverage(points)
	default:
		return orb.Point{}, false
	}
}

// CentroidOf reduces a typed geometry. Points are returned as-is so callers
// can treat pin and polygon features uniformly.
func CentroidOf(g orb.Geometry) (orb.Point, bool) {
	switch v := g.(type) {
	case orb.Point:
		return v, validPoint(v)
	case orb.Polygon:
		if len(v) == 0 {
			return orb.Point{}, false
		}
		return vertexAverage(v[0])
	case orb.MultiPolygon:
		var points []orb.Point
		for _, poly := range v {
			if len(poly) == 0 {
				return orb.Point{}, false
			}
			points = append(points, poly[0]...)
		}
		return vertexAverage(points)
	default:
		return orb.Point{}, false
	}
}

// CentroidJSON reduces a GeoJSON coordinates member that has not been decoded yet.
func CentroidJSON(raw json.RawMessage, kind GeometryKind) (orb.Point, bool) {
	var coords any
	if err := json.Unmarshal(raw, &coords); err != nil {
		return orb.Point{}, false
	}
	return Centroid(coords, kind)
}

// outerRing extracts the first ring of a polygon's coordinates.
func outerRing(coordinates any) ([]orb.Point, bool) {
	switch v := coordinates.(type) {
	case orb.Polygon:
		if len(v) == 0 {
			return nil, false
		}
		return v[0], true
	case orb.Ring:
		return v, true
	case []any:
		if len(v) == 0 {
			return nil, false
		}
		ring, ok := v[0].([]any)
		if !ok {
			return nil, false
		}
		points := make([]orb.Point, 0, len(ring))
		for _, pos := range ring {
			p, ok := position(pos)
			if !ok {
				return nil, false
			}
			points = append(points, p)
		}
		return points, true
	default:
		return nil, false
	}
}

func position(v any) (orb.Point, bool) {
	pair, ok := v.([]any)
	if !ok || len(pair) < 2 {
		return orb.Point{}, false
	}
	x, ok := pair[0].(float64)
	if !ok {
		return orb.Point{}, false
	}
	y, ok := pair[1].(float64)
	if !ok {
		return orb.Point{}, false
	}
	return orb.Point{x, y}, true
}

func vertexAverage(points []orb.Point) (orb.Point, bool) {
	if len(points) == 0 {
		return orb.Point{}, false
	}

	var sumX, sumY float64
	for _, p := range points {
		sumX += p[0]
		sumY += p[1]
	}
	n := float64(len(points))
	c := orb.Point{sumX / n, sumY / n}
	return c, validPoint(c)
}

func validPoint(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}
