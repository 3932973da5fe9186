package headless

import (
	"math"

	"github.com/MeKo-Tech/osem/internal/mapsurface"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// defaultHitRadius is used for circle layers without a circle-radius.
const defaultHitRadius = 10.0

// RenderedLayer is a visible layer with the features it draws.
type RenderedLayer struct {
	Layer    mapsurface.Layer
	Features []*geojson.Feature
}

// RenderedLayers returns the visible source-backed layers in draw order.
func (m *Map) RenderedLayers() []RenderedLayer {
	var out []RenderedLayer
	for _, l := range m.layers {
		if l.base {
			continue
		}
		out = append(out, RenderedLayer{Layer: l.def, Features: m.render(l)})
	}
	return out
}

func (m *Map) QueryRenderedFeatures(layerID string) []*geojson.Feature {
	l := m.layer(layerID)
	if l == nil {
		return nil
	}
	return m.render(l)
}

func (m *Map) render(l *layer) []*geojson.Feature {
	if l.base {
		return nil
	}
	if v, ok := l.def.Layout[mapsurface.PropVisibility]; !mapsurface.IsVisible(v, ok) {
		return nil
	}
	src, ok := m.sources[l.def.Source]
	if !ok || src.data == nil {
		return nil
	}
	view := m.bounds()

	var candidates []*geojson.Feature
	if src.index != nil {
		candidates = src.index.Clusters(view, int(math.Floor(m.zoom)))
	} else {
		candidates = src.data.Features
	}

	out := make([]*geojson.Feature, 0, len(candidates))
	for _, f := range candidates {
		if f == nil || f.Geometry == nil {
			continue
		}
		isCluster, _ := f.Properties["cluster"].(bool)
		switch l.def.Filter {
		case mapsurface.FilterClustered:
			if !isCluster {
				continue
			}
		case mapsurface.FilterUnclustered:
			if isCluster {
				continue
			}
		}
		if src.index == nil && !f.Geometry.Bound().Intersects(view) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (m *Map) QueryRenderedFeaturesAt(pt mapsurface.ScreenPoint, layerIDs ...string) []*geojson.Feature {
	var out []*geojson.Feature
	for _, id := range layerIDs {
		l := m.layer(id)
		if l == nil {
			continue
		}
		out = append(out, m.hits(l, pt)...)
	}
	return out
}

// hits returns the features of l under pt, topmost last-drawn first.
func (m *Map) hits(l *layer, pt mapsurface.ScreenPoint) []*geojson.Feature {
	rendered := m.render(l)
	lngLat := m.Unproject(pt)

	var out []*geojson.Feature
	for i := len(rendered) - 1; i >= 0; i-- {
		f := rendered[i]
		if m.hit(l, f, pt, lngLat) {
			out = append(out, f)
		}
	}
	return out
}

func (m *Map) hit(l *layer, f *geojson.Feature, pt mapsurface.ScreenPoint, lngLat orb.Point) bool {
	switch g := f.Geometry.(type) {
	case orb.Point:
		r := defaultHitRadius
		if l.def.Type == mapsurface.LayerCircle {
			r = mapsurface.EvaluateFloat(l.def.Paint["circle-radius"], f.Properties, m.zoom, defaultHitRadius)
		}
		sp := m.Project(g)
		return math.Hypot(sp.X-pt.X, sp.Y-pt.Y) <= r
	case orb.Polygon:
		return planar.PolygonContains(g, lngLat)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, lngLat)
	default:
		return false
	}
}

// Click simulates a click at pt: layer handlers fire for every layer with a
// feature under the point, then plain click handlers.
func (m *Map) Click(pt mapsurface.ScreenPoint) {
	lngLat := m.Unproject(pt)
	for _, l := range append([]*layer(nil), m.layers...) {
		if l.base {
			continue
		}
		feats := m.hits(l, pt)
		if len(feats) == 0 {
			continue
		}
		m.fireLayer(l.def.ID, mapsurface.Event{Type: mapsurface.EventClick, Point: pt, LngLat: lngLat, Features: feats})
	}
	m.fire(mapsurface.Event{Type: mapsurface.EventClick, Point: pt, LngLat: lngLat})
}

// ClickAt clicks the screen position of a lon/lat point.
func (m *Map) ClickAt(p orb.Point) {
	m.Click(m.Project(p))
}

// Hover moves the pointer to pt and fires mouseenter/mouseleave for layers
// whose hit state changed.
func (m *Map) Hover(pt mapsurface.ScreenPoint) {
	lngLat := m.Unproject(pt)
	for _, l := range append([]*layer(nil), m.layers...) {
		if l.base {
			continue
		}
		feats := m.hits(l, pt)
		over := len(feats) > 0
		was := m.hovered[l.def.ID]
		switch {
		case over && !was:
			m.hovered[l.def.ID] = true
			m.fireLayer(l.def.ID, mapsurface.Event{Type: mapsurface.EventMouseEnter, Point: pt, LngLat: lngLat, Features: feats})
		case !over && was:
			delete(m.hovered, l.def.ID)
			m.fireLayer(l.def.ID, mapsurface.Event{Type: mapsurface.EventMouseLeave, Point: pt, LngLat: lngLat})
		}
	}
}

// Press simulates a pointer down and drag start.
func (m *Map) Press() {
	m.fire(mapsurface.Event{Type: mapsurface.EventMouseDown})
	m.fire(mapsurface.Event{Type: mapsurface.EventDragStart})
}

// Release simulates the end of a drag gesture.
func (m *Map) Release() {
	m.fire(mapsurface.Event{Type: mapsurface.EventDragEnd})
	m.fire(mapsurface.Event{Type: mapsurface.EventMouseUp})
}
