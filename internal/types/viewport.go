package types

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/paulmach/orb"
)

// BoundingBox represents a geographic bounding box in WGS84 (EPSG:4326)
type BoundingBox struct {
	MinLon float64 // Western edge (degrees)
	MinLat float64 // Southern edge (degrees)
	MaxLon float64 // Eastern edge (degrees)
	MaxLat float64 // Northern edge (degrees)
}

// BoundingBoxFromBound converts an orb.Bound (lon/lat points) to a BoundingBox.
func BoundingBoxFromBound(b orb.Bound) BoundingBox {
	return BoundingBox{
		MinLon: b.Min.Lon(),
		MinLat: b.Min.Lat(),
		MaxLon: b.Max.Lon(),
		MaxLat: b.Max.Lat(),
	}
}

// Bound returns the box as an orb.Bound.
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinLon, b.MinLat},
		Max: orb.Point{b.MaxLon, b.MaxLat},
	}
}

// String returns a human-readable representation of the bounding box
func (b BoundingBox) String() string {
	return fmt.Sprintf("bbox(%.6f,%.6f,%.6f,%.6f)", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// Center returns the center point of the bounding box
func (b BoundingBox) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

// Width returns the width of the bounding box in degrees
func (b BoundingBox) Width() float64 {
	return b.MaxLon - b.MinLon
}

// Height returns the height of the bounding box in degrees
func (b BoundingBox) Height() float64 {
	return b.MaxLat - b.MinLat
}

// ExpandByFraction grows the box on every side by fraction of its width/height.
func (b BoundingBox) ExpandByFraction(fraction float64) BoundingBox {
	if fraction <= 0 {
		return b
	}
	dx := b.Width() * fraction
	dy := b.Height() * fraction
	return BoundingBox{
		MinLon: b.MinLon - dx,
		MinLat: b.MinLat - dy,
		MaxLon: b.MaxLon + dx,
		MaxLat: b.MaxLat + dy,
	}
}

// Contains reports whether the point lies inside the box (edges included).
func (b BoundingBox) Contains(p orb.Point) bool {
	return p.Lon() >= b.MinLon && p.Lon() <= b.MaxLon &&
		p.Lat() >= b.MinLat && p.Lat() <= b.MaxLat
}

// ViewportState is the zoom and visible area of a map at one point in time.
// It is derived from the live map and never persisted.
type ViewportState struct {
	Zoom   float64
	Center orb.Point
	Bounds BoundingBox
}

// FetchQuery builds the query parameters for a viewport-scoped data request:
// zoom with one decimal, bounds with six. A non-positive limit is omitted.
func (v ViewportState) FetchQuery(limit int) url.Values {
	q := url.Values{}
	q.Set("zoom", strconv.FormatFloat(v.Zoom, 'f', 1, 64))
	q.Set("minLat", strconv.FormatFloat(v.Bounds.MinLat, 'f', 6, 64))
	q.Set("maxLat", strconv.FormatFloat(v.Bounds.MaxLat, 'f', 6, 64))
	q.Set("minLng", strconv.FormatFloat(v.Bounds.MinLon, 'f', 6, 64))
	q.Set("maxLng", strconv.FormatFloat(v.Bounds.MaxLon, 'f', 6, 64))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

// ParseFetchQuery is the inverse of FetchQuery. Missing bounds are an error;
// a missing zoom or limit yields zero.
func ParseFetchQuery(q url.Values) (ViewportState, int, error) {
	var v ViewportState
	fields := []struct {
		key string
		dst *float64
	}{
		{"minLat", &v.Bounds.MinLat},
		{"maxLat", &v.Bounds.MaxLat},
		{"minLng", &v.Bounds.MinLon},
		{"maxLng", &v.Bounds.MaxLon},
	}
	for _, f := range fields {
		raw := q.Get(f.key)
		if raw == "" {
			return ViewportState{}, 0, fmt.Errorf("missing %s parameter", f.key)
		}
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return ViewportState{}, 0, fmt.Errorf("invalid %s parameter: %w", f.key, err)
		}
		*f.dst = val
	}

	if raw := q.Get("zoom"); raw != "" {
		z, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return ViewportState{}, 0, fmt.Errorf("invalid zoom parameter: %w", err)
		}
		v.Zoom = z
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil {
			return ViewportState{}, 0, fmt.Errorf("invalid limit parameter: %w", err)
		}
		limit = l
	}

	lat, lon := v.Bounds.Center()
	v.Center = orb.Point{lon, lat}
	return v, limit, nil
}
