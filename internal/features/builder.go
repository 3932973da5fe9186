// Package features turns raw API rows into GeoJSON feature collections that
// the map layers can render.
package features

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/osem/internal/geo"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Record is one decoded row from the data API.
type Record map[string]any

// Kind selects how a record becomes a feature geometry.
type Kind string

const (
	// KindPoint places a pin at the record's latitude/longitude fields.
	KindPoint Kind = "point"
	// KindPolygon keeps the record's stored polygon geometry.
	KindPolygon Kind = "polygon"
	// KindCentroid reduces the record's stored polygon to a pin at its vertex average.
	KindCentroid Kind = "centroid"
)

// NullIslandRadius is the distance in degrees from the equator or prime
// meridian under which a coordinate is treated as a geocoding default.
const NullIslandRadius = 1.0

// FieldMap describes where a layer's records keep their id, location and
// which properties may be exposed on the rendered feature.
type FieldMap struct {
	Kind          Kind
	IDField       string
	LatField      string
	LonField      string
	GeometryField string
	// Properties is the allow-list of record keys copied to the feature.
	Properties []string
}

// Builder builds feature collections. The zero value is usable and logs to slog.Default.
type Builder struct {
	Logger *slog.Logger
}

// Build converts records with the default builder.
func Build(records []Record, fm FieldMap) *geojson.FeatureCollection {
	return Builder{}.Build(records, fm)
}

// Build maps every valid record to a feature, preserving input order.
// Records without a usable location are dropped and logged at debug level.
func (b Builder) Build(records []Record, fm FieldMap) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	skipped := 0

	for i, rec := range records {
		f, err := b.feature(rec, fm)
		if err != nil {
			skipped++
			b.log().Debug("skipping record", "index", i, "id", rec[fm.IDField], "reason", err)
			continue
		}
		fc.Append(f)
	}

	if skipped > 0 {
		b.log().Info("filtered invalid records",
			"kind", string(fm.Kind),
			"skipped", skipped,
			"kept", len(fc.Features),
		)
	}
	return fc
}

// Restrict re-applies an allow-list to features that arrive already built,
// such as viewport API responses. Only the id and the allow-listed keys
// survive, and features without geometry or anchored near null island are
// dropped.
func (b Builder) Restrict(fc *geojson.FeatureCollection, allow []string) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	if fc == nil {
		return out
	}
	skipped := 0
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			skipped++
			continue
		}
		anchor, ok := geo.CentroidOf(f.Geometry)
		if !ok || IsNullIsland(anchor) {
			skipped++
			continue
		}
		nf := geojson.NewFeature(f.Geometry)
		id := f.ID
		if id == nil {
			id = f.Properties["id"]
		}
		if id != nil {
			nf.ID = id
			nf.Properties["id"] = id
		}
		for k, v := range SelectProperties(f.Properties, allow) {
			nf.Properties[k] = v
		}
		out.Append(nf)
	}
	if skipped > 0 {
		b.log().Info("filtered invalid features", "skipped", skipped, "kept", len(out.Features))
	}
	return out
}

// SelectProperties copies the allow-listed keys present in props.
func SelectProperties(props map[string]any, allow []string) map[string]any {
	out := make(map[string]any, len(allow))
	for _, k := range allow {
		if v, ok := props[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (b Builder) log() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b Builder) feature(rec Record, fm FieldMap) (*geojson.Feature, error) {
	var geom orb.Geometry
	var anchor orb.Point

	switch fm.Kind {
	case KindPoint, "":
		lat, ok := number(rec[fm.LatField])
		if !ok {
			return nil, fmt.Errorf("missing or non-numeric %s", fm.LatField)
		}
		lon, ok := number(rec[fm.LonField])
		if !ok {
			return nil, fmt.Errorf("missing or non-numeric %s", fm.LonField)
		}
		anchor = orb.Point{lon, lat}
		geom = anchor
	case KindPolygon, KindCentroid:
		g, err := decodeGeometry(rec[fm.GeometryField])
		if err != nil {
			return nil, err
		}
		c, ok := geo.CentroidOf(g)
		if !ok {
			return nil, fmt.Errorf("cannot reduce %s geometry", g.GeoJSONType())
		}
		anchor = c
		geom = g
		if fm.Kind == KindCentroid {
			geom = c
		}
	default:
		return nil, fmt.Errorf("unknown kind %q", fm.Kind)
	}

	if IsNullIsland(anchor) {
		return nil, fmt.Errorf("coordinate %v is within %.1f degrees of null island", anchor, NullIslandRadius)
	}

	f := geojson.NewFeature(geom)
	if id, ok := rec[fm.IDField]; ok && id != nil {
		f.ID = id
		f.Properties["id"] = id
	}
	for k, v := range SelectProperties(rec, fm.Properties) {
		f.Properties[k] = v
	}
	return f, nil
}

// IsNullIsland reports whether a lon/lat point is a placeholder coordinate:
// either axis within NullIslandRadius of zero, or not a finite number.
func IsNullIsland(p orb.Point) bool {
	lon, lat := p.Lon(), p.Lat()
	if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
		return true
	}
	return math.Abs(lat) < NullIslandRadius || math.Abs(lon) < NullIslandRadius
}

// number accepts JSON numbers and numeric strings.
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// decodeGeometry accepts a stored GeoJSON geometry as text, raw JSON, a decoded map or an orb geometry.
func decodeGeometry(v any) (orb.Geometry, error) {
	var raw []byte
	switch g := v.(type) {
	case nil:
		return nil, fmt.Errorf("missing geometry")
	case orb.Geometry:
		return g, nil
	case string:
		raw = []byte(g)
	case []byte:
		raw = g
	case json.RawMessage:
		raw = g
	case map[string]any:
		b, err := json.Marshal(g)
		if err != nil {
			return nil, fmt.Errorf("failed to re-encode geometry: %w", err)
		}
		raw = b
	default:
		return nil, fmt.Errorf("unsupported geometry value %T", v)
	}

	geom, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid geometry: %w", err)
	}
	if geom.Coordinates == nil {
		return nil, fmt.Errorf("geometry has no coordinates")
	}
	return geom.Geometry(), nil
}
