package headless

import (
	"testing"

	"github.com/MeKo-Tech/osem/internal/mapsurface"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pointFC(points ...orb.Point) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, p := range points {
		f := geojson.NewFeature(p)
		f.ID = i + 1
		fc.Append(f)
	}
	return fc
}

func newTestMap(t *testing.T, center orb.Point, zoom float64) *Map {
	t.Helper()
	m := New(mapsurface.Config{Center: center, Zoom: zoom, Width: 800, Height: 600})
	m.Load()
	return m
}

func TestMap_LoadFiresOnce(t *testing.T) {
	m := New(mapsurface.Config{})
	var events []mapsurface.EventType
	for _, ev := range []mapsurface.EventType{mapsurface.EventLoad, mapsurface.EventStyleLoad, mapsurface.EventStyleData} {
		m.On(ev, func(e mapsurface.Event) { events = append(events, e.Type) })
	}

	m.Load()
	m.Load()

	assert.Equal(t, []mapsurface.EventType{mapsurface.EventStyleLoad, mapsurface.EventStyleData, mapsurface.EventLoad}, events)
	assert.True(t, m.Loaded())
}

func TestMap_SourceAndLayerLifecycle(t *testing.T) {
	m := newTestMap(t, orb.Point{10, 50}, 10)

	require.NoError(t, m.AddSource("pins", mapsurface.SourceSpec{Data: pointFC(orb.Point{10, 50})}))
	assert.Error(t, m.AddSource("pins", mapsurface.SourceSpec{}))
	assert.Error(t, m.AddLayer(mapsurface.Layer{ID: "x", Source: "missing"}))

	require.NoError(t, m.AddLayer(mapsurface.Layer{ID: "pins-circle", Type: mapsurface.LayerCircle, Source: "pins"}))
	assert.True(t, m.HasLayer("pins-circle"))
	assert.Error(t, m.AddLayer(mapsurface.Layer{ID: "pins-circle", Source: "pins"}))

	src, ok := m.Source("pins")
	require.True(t, ok)
	src.SetData(pointFC(orb.Point{10, 50}, orb.Point{10.01, 50.01}))

	again, _ := m.Source("pins")
	assert.Same(t, src, again)
	data, updates, ok := m.SourceData("pins")
	require.True(t, ok)
	assert.Len(t, data.Features, 2)
	assert.Equal(t, 2, updates)
}

func TestMap_LayoutPropertyFiresStyleDataOnChange(t *testing.T) {
	m := newTestMap(t, orb.Point{10, 50}, 10)
	require.NoError(t, m.AddSource("s", mapsurface.SourceSpec{}))
	require.NoError(t, m.AddLayer(mapsurface.Layer{ID: "l", Type: mapsurface.LayerFill, Source: "s"}))

	count := 0
	m.On(mapsurface.EventStyleData, func(mapsurface.Event) { count++ })

	require.NoError(t, m.SetLayoutProperty("l", mapsurface.PropVisibility, mapsurface.VisibilityOff))
	require.NoError(t, m.SetLayoutProperty("l", mapsurface.PropVisibility, mapsurface.VisibilityOff))
	assert.Equal(t, 1, count)
	assert.Error(t, m.SetLayoutProperty("nope", mapsurface.PropVisibility, mapsurface.VisibilityOff))

	v, ok := m.LayoutProperty("l", mapsurface.PropVisibility)
	assert.False(t, mapsurface.IsVisible(v, ok))
}

func TestMap_ClusteredRendering(t *testing.T) {
	fc := pointFC(
		orb.Point{10, 50}, orb.Point{10.001, 50.001}, orb.Point{10.002, 50.002},
		orb.Point{-70, -30},
	)
	m := newTestMap(t, orb.Point{10, 50}, 3)
	require.NoError(t, m.AddSource("pins", mapsurface.SourceSpec{Data: fc, Cluster: true, ClusterRadius: 50, ClusterMaxZoom: 14}))
	require.NoError(t, m.AddLayer(mapsurface.Layer{ID: "c", Type: mapsurface.LayerCircle, Source: "pins", Filter: mapsurface.FilterClustered}))
	require.NoError(t, m.AddLayer(mapsurface.Layer{ID: "u", Type: mapsurface.LayerCircle, Source: "pins", Filter: mapsurface.FilterUnclustered}))

	clusters := m.QueryRenderedFeatures("c")
	require.Len(t, clusters, 1)
	assert.Equal(t, 3, clusters[0].Properties["point_count"])
	assert.Empty(t, m.QueryRenderedFeatures("u"), "the far point is outside the viewport")

	src, _ := m.Source("pins")
	zoom, err := src.ClusterExpansionZoom(clusters[0].Properties["cluster_id"].(int))
	require.NoError(t, err)
	assert.Greater(t, zoom, 3)

	m.MoveTo(orb.Point{10.001, 50.001}, 16)
	assert.Empty(t, m.QueryRenderedFeatures("c"))
	assert.Len(t, m.QueryRenderedFeatures("u"), 3)

	require.NoError(t, m.SetLayoutProperty("u", mapsurface.PropVisibility, mapsurface.VisibilityOff))
	assert.Empty(t, m.QueryRenderedFeatures("u"))
}

func TestMap_PlainSourceNotClustered(t *testing.T) {
	m := newTestMap(t, orb.Point{10, 50}, 10)
	require.NoError(t, m.AddSource("s", mapsurface.SourceSpec{Data: pointFC(orb.Point{10, 50})}))
	src, _ := m.Source("s")
	_, err := src.ClusterExpansionZoom(1)
	assert.ErrorIs(t, err, ErrNotClustered)
}

func TestMap_MoveFiresEvents(t *testing.T) {
	m := newTestMap(t, orb.Point{0, 0}, 2)
	var events []mapsurface.EventType
	for _, ev := range []mapsurface.EventType{mapsurface.EventMoveEnd, mapsurface.EventZoomEnd} {
		m.On(ev, func(e mapsurface.Event) { events = append(events, e.Type) })
	}

	m.MoveTo(orb.Point{5, 5}, 2)
	assert.Equal(t, []mapsurface.EventType{mapsurface.EventMoveEnd}, events)

	events = nil
	m.MoveTo(orb.Point{5, 5}, 4)
	assert.Equal(t, []mapsurface.EventType{mapsurface.EventZoomEnd, mapsurface.EventMoveEnd}, events)

	vp := m.Viewport()
	assert.Equal(t, 4.0, vp.Zoom)
	assert.True(t, vp.Bounds.Contains(orb.Point{5, 5}))
}

func TestMap_ProjectUnprojectRoundTrip(t *testing.T) {
	m := newTestMap(t, orb.Point{13.4, 52.5}, 9)

	center := m.Project(m.Center())
	assert.InDelta(t, 400, center.X, 1e-6)
	assert.InDelta(t, 300, center.Y, 1e-6)

	p := orb.Point{13.5, 52.45}
	back := m.Unproject(m.Project(p))
	assert.InDelta(t, p.Lon(), back.Lon(), 1e-9)
	assert.InDelta(t, p.Lat(), back.Lat(), 1e-9)
}

func TestMap_ClickLayerAndPolygonHit(t *testing.T) {
	m := newTestMap(t, orb.Point{10, 50}, 10)
	poly := orb.Polygon{{{9.9, 49.9}, {10.1, 49.9}, {10.1, 50.1}, {9.9, 50.1}, {9.9, 49.9}}}
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(poly)
	f.Properties["name"] = "plot"
	fc.Append(f)

	require.NoError(t, m.AddSource("land", mapsurface.SourceSpec{Data: fc}))
	require.NoError(t, m.AddLayer(mapsurface.Layer{ID: "land-fill", Type: mapsurface.LayerFill, Source: "land"}))

	var got []*geojson.Feature
	m.OnLayer(mapsurface.EventClick, "land-fill", func(e mapsurface.Event) { got = e.Features })

	m.ClickAt(orb.Point{11, 51})
	assert.Empty(t, got)

	m.ClickAt(orb.Point{10, 50})
	require.Len(t, got, 1)
	assert.Equal(t, "plot", got[0].Properties["name"])
}

func TestMap_HoverEnterLeave(t *testing.T) {
	m := newTestMap(t, orb.Point{10, 50}, 10)
	require.NoError(t, m.AddSource("s", mapsurface.SourceSpec{Data: pointFC(orb.Point{10, 50})}))
	require.NoError(t, m.AddLayer(mapsurface.Layer{ID: "l", Type: mapsurface.LayerCircle, Source: "s", Paint: map[string]any{"circle-radius": 8.0}}))

	var events []mapsurface.EventType
	m.OnLayer(mapsurface.EventMouseEnter, "l", func(e mapsurface.Event) { events = append(events, e.Type) })
	m.OnLayer(mapsurface.EventMouseLeave, "l", func(e mapsurface.Event) { events = append(events, e.Type) })

	on := m.Project(orb.Point{10, 50})
	m.Hover(on)
	m.Hover(on)
	m.Hover(mapsurface.ScreenPoint{X: on.X + 20, Y: on.Y})

	assert.Equal(t, []mapsurface.EventType{mapsurface.EventMouseEnter, mapsurface.EventMouseLeave}, events)
}

func TestMap_Unsubscribe(t *testing.T) {
	m := newTestMap(t, orb.Point{0, 0}, 2)
	calls := 0
	sub := m.On(mapsurface.EventMoveEnd, func(mapsurface.Event) { calls++ })
	m.MoveTo(orb.Point{1, 1}, 2)
	sub.Unsubscribe()
	sub.Unsubscribe()
	m.MoveTo(orb.Point{2, 2}, 2)

	assert.Equal(t, 1, calls)
	assert.Zero(t, m.HandlerCount())
}

func TestMap_MarkersAndRemove(t *testing.T) {
	m := newTestMap(t, orb.Point{0, 0}, 2)
	mk := m.NewMarker(mapsurface.MarkerOptions{ID: "a", LngLat: orb.Point{1, 2}})
	clicked := 0
	mk.OnClick(func() { clicked++ })

	hm, ok := m.MarkerByID("a")
	require.True(t, ok)
	hm.Click()
	assert.Equal(t, 1, clicked)

	mk.SetLngLat(orb.Point{3, 4})
	assert.Equal(t, orb.Point{3, 4}, mk.LngLat())
	assert.Equal(t, 1, hm.Moves())

	m.On(mapsurface.EventMoveEnd, func(mapsurface.Event) {})
	m.Remove()
	assert.True(t, m.Removed())
	assert.True(t, hm.Removed())
	assert.Empty(t, m.Markers())
	assert.Zero(t, m.HandlerCount())
}

func TestMap_ControlsAndStyle(t *testing.T) {
	m := newTestMap(t, orb.Point{0, 0}, 2)
	require.NoError(t, m.AddControl(mapsurface.ControlNavigation))
	assert.Error(t, m.AddControl(mapsurface.ControlNavigation))
	assert.Equal(t, []mapsurface.Control{mapsurface.ControlNavigation}, m.Controls())

	var labels int
	for _, l := range m.StyleLayers() {
		if l.HasText {
			labels++
		}
	}
	assert.Equal(t, 3, labels)

	loads := 0
	m.On(mapsurface.EventStyleLoad, func(mapsurface.Event) { loads++ })
	require.NoError(t, m.SetLayoutProperty("road-label", mapsurface.PropVisibility, mapsurface.VisibilityOff))
	m.ReloadStyle()
	assert.Equal(t, 1, loads)
	_, ok := m.LayoutProperty("road-label", mapsurface.PropVisibility)
	assert.False(t, ok, "a style reload resets base layers")
}
