package features

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildNullIslandFilter(t *testing.T) {
	records := []Record{
		{"id": "a", "gpsLat": 0.5, "gpsLon": 0.5},
		{"id": "b", "gpsLat": 1.5, "gpsLon": -62.2},
		{"id": "c", "gpsLat": 0.2, "gpsLon": 37.1},
		{"id": "d", "gpsLat": -3.4, "gpsLon": -0.9},
		{"id": "e", "gpsLat": nil, "gpsLon": 12.0},
		{"id": "f", "gpsLon": 12.0},
		{"id": "g", "gpsLat": "abc", "gpsLon": 12.0},
		{"id": "h", "gpsLat": "-8.25", "gpsLon": "115.1"},
	}

	fc := Build(records, OrganizationPins)

	var ids []any
	for _, f := range fc.Features {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []any{"b", "h"}, ids)
	assert.Equal(t, orb.Point{-62.2, 1.5}, fc.Features[0].Geometry)
	assert.Equal(t, orb.Point{115.1, -8.25}, fc.Features[1].Geometry)
}

func TestBuildAllowListOnly(t *testing.T) {
	records := []Record{{
		"id":           7,
		"gpsLat":       -1.95,
		"gpsLon":       30.06,
		"name":         "Kigali Growers",
		"website":      "https://example.org",
		"contactEmail": "private@example.org",
		"apiKey":       "secret",
	}}

	fc := Build(records, OrganizationPins)
	require.Len(t, fc.Features, 1)

	props := fc.Features[0].Properties
	assert.Equal(t, "Kigali Growers", props["name"])
	assert.Equal(t, "https://example.org", props["website"])
	assert.Equal(t, 7, props["id"])
	assert.NotContains(t, props, "contactEmail")
	assert.NotContains(t, props, "apiKey")
	assert.NotContains(t, props, "gpsLat")
}

func TestBuildIsIdempotentAndOrderPreserving(t *testing.T) {
	records := []Record{
		{"id": "z", "gpsLat": 10.0, "gpsLon": 10.0, "name": "last"},
		{"id": "y", "gpsLat": 20.0, "gpsLon": 20.0, "name": "middle"},
		{"id": "x", "gpsLat": 30.0, "gpsLon": 30.0, "name": "first"},
	}

	first, err := json.Marshal(Build(records, OrganizationPins))
	require.NoError(t, err)
	second, err := json.Marshal(Build(records, OrganizationPins))
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))

	fc := Build(records, OrganizationPins)
	assert.Equal(t, "z", fc.Features[0].ID)
	assert.Equal(t, "x", fc.Features[2].ID)
}

func TestBuildPolygonKinds(t *testing.T) {
	square := `{"type":"Polygon","coordinates":[[[10,10],[10,11],[11,11],[11,10],[10,10]]]}`
	records := []Record{
		{"id": "p1", "geometry": square, "name": "Plot 1", "ownerPhone": "+00"},
		{"id": "p2", "geometry": map[string]any{
			"type":        "Polygon",
			"coordinates": []any{[]any{[]any{0.1, 0.1}, []any{0.2, 0.1}, []any{0.2, 0.2}, []any{0.1, 0.1}}},
		}},
		{"id": "p3", "geometry": `{"type":"Polygon","coordinates":[]}`},
		{"id": "p4"},
	}

	polys := Build(records, ProjectPolygons)
	require.Len(t, polys.Features, 1)
	assert.Equal(t, "Polygon", polys.Features[0].Geometry.GeoJSONType())
	assert.NotContains(t, polys.Features[0].Properties, "ownerPhone")

	pins := Build(records, PolygonCentroids)
	require.Len(t, pins.Features, 1)
	pt, ok := pins.Features[0].Geometry.(orb.Point)
	require.True(t, ok)
	assert.InDelta(t, 10.4, pt.Lon(), 1e-12)
	assert.InDelta(t, 10.4, pt.Lat(), 1e-12)
	assert.Equal(t, "Plot 1", pins.Features[0].Properties["name"])
}

func TestIsNullIsland(t *testing.T) {
	assert.True(t, IsNullIsland(orb.Point{0, 0}))
	assert.True(t, IsNullIsland(orb.Point{0.99, 45}))
	assert.True(t, IsNullIsland(orb.Point{45, -0.99}))
	assert.False(t, IsNullIsland(orb.Point{-1, 1}))
	assert.False(t, IsNullIsland(orb.Point{-62.2, 1.5}))
}

func TestBuilderLogsToConfiguredLogger(t *testing.T) {
	var buf bytes.Buffer
	b := Builder{Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	fc := b.Build([]Record{
		{"id": "ok", "gpsLat": 48.1, "gpsLon": 11.6},
		{"id": "bad", "gpsLat": 0.1, "gpsLon": 0.1},
	}, OrganizationPins)

	assert.Len(t, fc.Features, 1)
	assert.Contains(t, buf.String(), "skipping record")
	assert.Contains(t, buf.String(), "filtered invalid records")
	assert.Contains(t, buf.String(), "skipped=1")
}

func TestBuilderZeroValueUsesDefaultLogger(t *testing.T) {
	assert.Same(t, slog.Default(), Builder{}.log())
}

func TestRestrictKeepsIdAndAllowListedProperties(t *testing.T) {
	fc := geojson.NewFeatureCollection()

	pin := geojson.NewFeature(orb.Point{13.4, 52.5})
	pin.Properties["id"] = "m1"
	pin.Properties["name"] = "Plot 1"
	pin.Properties["ownerEmail"] = "x@y.z"
	fc.Append(pin)

	idOnly := geojson.NewFeature(orb.Point{-62.2, 1.5})
	idOnly.ID = 42
	fc.Append(idOnly)

	island := geojson.NewFeature(orb.Point{0.2, 0.3})
	island.Properties["name"] = "placeholder"
	fc.Append(island)

	fc.Append(&geojson.Feature{Type: "Feature", Properties: geojson.Properties{"name": "no geometry"}})

	out := Builder{}.Restrict(fc, []string{"name"})
	require.Len(t, out.Features, 2)

	assert.Equal(t, "m1", out.Features[0].ID)
	assert.Equal(t, geojson.Properties{"id": "m1", "name": "Plot 1"}, out.Features[0].Properties)
	assert.Equal(t, 42, out.Features[1].ID)
	assert.Equal(t, geojson.Properties{"id": 42}, out.Features[1].Properties)

	assert.Equal(t, "x@y.z", pin.Properties["ownerEmail"], "input is not modified")
}

func TestRestrictNil(t *testing.T) {
	assert.Empty(t, Builder{}.Restrict(nil, []string{"name"}).Features)
}

func TestSelectProperties(t *testing.T) {
	props := map[string]any{"name": "A", "secret": "x"}
	assert.Equal(t, map[string]any{"name": "A"}, SelectProperties(props, []string{"name", "missing"}))
	assert.Empty(t, SelectProperties(props, nil))
}
