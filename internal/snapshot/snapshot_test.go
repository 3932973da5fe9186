package snapshot

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"github.com/MeKo-Tech/osem/internal/mapsurface"
	"github.com/MeKo-Tech/osem/internal/mapsurface/headless"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var center = orb.Point{10, 50}

func newMap(t *testing.T) *headless.Map {
	t.Helper()
	m := headless.New(mapsurface.Config{Center: center, Zoom: 10, Width: 200, Height: 200})
	m.Load()
	return m
}

func fc(geoms ...orb.Geometry) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	for _, g := range geoms {
		out.Append(geojson.NewFeature(g))
	}
	return out
}

func box(c orb.Point, half float64) orb.Polygon {
	return orb.Polygon{{
		{c[0] - half, c[1] - half}, {c[0] + half, c[1] - half},
		{c[0] + half, c[1] + half}, {c[0] - half, c[1] + half}, {c[0] - half, c[1] - half},
	}}
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in   string
		want color.NRGBA
	}{
		{"#088", color.NRGBA{0x00, 0x88, 0x88, 0xff}},
		{"#4caf50", color.NRGBA{0x4c, 0xaf, 0x50, 0xff}},
		{"#ff000080", color.NRGBA{0xff, 0x00, 0x00, 0x80}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHexColor(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseHexColor("green")
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	level, err := ParseCompression("best")
	require.NoError(t, err)
	assert.Equal(t, png.BestCompression, level)

	_, err = ParseCompression("ultra")
	assert.Error(t, err)
}

func TestRender_BackgroundOnly(t *testing.T) {
	img := NewRenderer(newMap(t), Options{}).Render()

	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, DefaultOptions().Background, img.NRGBAAt(10, 10))
}

func TestRender_FillLayer(t *testing.T) {
	m := newMap(t)
	require.NoError(t, m.AddSource("areas", mapsurface.SourceSpec{Data: fc(box(center, 0.05))}))
	require.NoError(t, m.AddLayer(mapsurface.Layer{
		ID: "areas-fill", Type: mapsurface.LayerFill, Source: "areas",
		Paint: map[string]any{"fill-color": "#ff0000", "fill-opacity": 1.0},
	}))

	img := NewRenderer(m, Options{}).Render()

	assert.Equal(t, color.NRGBA{0xff, 0, 0, 0xff}, img.NRGBAAt(100, 100))
	assert.Equal(t, DefaultOptions().Background, img.NRGBAAt(2, 2))
}

func TestRender_HiddenLayerIsSkipped(t *testing.T) {
	m := newMap(t)
	require.NoError(t, m.AddSource("areas", mapsurface.SourceSpec{Data: fc(box(center, 0.05))}))
	require.NoError(t, m.AddLayer(mapsurface.Layer{
		ID: "areas-fill", Type: mapsurface.LayerFill, Source: "areas",
		Paint:  map[string]any{"fill-color": "#ff0000"},
		Layout: map[string]any{mapsurface.PropVisibility: mapsurface.VisibilityOff},
	}))

	img := NewRenderer(m, Options{}).Render()
	assert.Equal(t, DefaultOptions().Background, img.NRGBAAt(100, 100))
}

func TestRender_CircleStepColor(t *testing.T) {
	m := newMap(t)
	f := geojson.NewFeature(center)
	f.Properties["point_count"] = 60
	data := geojson.NewFeatureCollection()
	data.Append(f)

	require.NoError(t, m.AddSource("pins", mapsurface.SourceSpec{Data: data}))
	require.NoError(t, m.AddLayer(mapsurface.Layer{
		ID: "pins-circle", Type: mapsurface.LayerCircle, Source: "pins",
		Paint: map[string]any{
			"circle-color": mapsurface.Step{
				Input: "point_count",
				Base:  "#a3d9a5",
				Stops: []mapsurface.Stop{{Input: 10, Output: "#4caf50"}, {Input: 50, Output: "#1b5e20"}},
			},
			"circle-radius": 8.0,
		},
	}))

	img := NewRenderer(m, Options{}).Render()

	assert.Equal(t, color.NRGBA{0x1b, 0x5e, 0x20, 0xff}, img.NRGBAAt(100, 100))
	assert.Equal(t, DefaultOptions().Background, img.NRGBAAt(100, 120))
}

func TestRender_OutlineAndMarkers(t *testing.T) {
	m := newMap(t)
	require.NoError(t, m.AddSource("areas", mapsurface.SourceSpec{Data: fc(box(center, 0.05))}))
	require.NoError(t, m.AddLayer(mapsurface.Layer{
		ID: "areas-outline", Type: mapsurface.LayerLine, Source: "areas",
		Paint: map[string]any{"line-color": "#0000ff", "line-width": 3.0},
	}))
	m.NewMarker(mapsurface.MarkerOptions{ID: "m1", LngLat: center})

	img := NewRenderer(m, Options{MarkerColor: color.NRGBA{0, 0xff, 0, 0xff}}).Render()

	// The marker sits on the center; the outline passes through the box's west edge.
	assert.Equal(t, color.NRGBA{0, 0xff, 0, 0xff}, img.NRGBAAt(100, 100))
	west := m.Project(orb.Point{center[0] - 0.05, center[1]})
	assert.Equal(t, color.NRGBA{0, 0, 0xff, 0xff}, img.NRGBAAt(int(west.X), int(west.Y)))
}

func TestRender_Scale(t *testing.T) {
	img := NewRenderer(newMap(t), Options{Scale: 2}).Render()
	assert.Equal(t, 400, img.Bounds().Dx())
}

func TestWritePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, newMap(t), Options{}, png.BestSpeed))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dy())
}
