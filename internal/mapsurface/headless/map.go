// Package headless is an in-memory map surface. It keeps the same source,
// layer, marker and camera model as the browser map and computes rendered
// features with the clustering index, so controllers can be driven and
// inspected without a browser. The CLI probe and snapshot renderer use it too.
package headless

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/MeKo-Tech/osem/internal/mapsurface"
	"github.com/MeKo-Tech/osem/internal/projection"
	"github.com/MeKo-Tech/osem/internal/types"
	"github.com/paulmach/orb"
)

// Default viewport size in pixels.
const (
	DefaultWidth  = 1024
	DefaultHeight = 768
)

// ErrNotClustered is returned for expansion queries on a plain source.
var ErrNotClustered = errors.New("source is not clustered")

// BaseStyleLayers are the layers every headless style starts with.
var BaseStyleLayers = []mapsurface.StyleLayer{
	{ID: "background", Type: "background"},
	{ID: "land", Type: mapsurface.LayerFill, Source: "composite"},
	{ID: "water", Type: mapsurface.LayerFill, Source: "composite"},
	{ID: "admin-boundaries", Type: mapsurface.LayerLine, Source: "composite"},
	{ID: "road-label", Type: mapsurface.LayerSymbol, Source: "composite", HasText: true},
	{ID: "place-label", Type: mapsurface.LayerSymbol, Source: "composite", HasText: true},
	{ID: "country-label", Type: mapsurface.LayerSymbol, Source: "composite", HasText: true},
}

type subscription struct {
	m      *Map
	ev     mapsurface.EventType
	layer  string
	h      mapsurface.Handler
	active bool
}

func (s *subscription) Unsubscribe() {
	if !s.active {
		return
	}
	s.active = false
	s.m.subs = slices.DeleteFunc(s.m.subs, func(o *subscription) bool { return o == s })
}

type layer struct {
	def    mapsurface.Layer
	base   bool
	hasTxt bool
}

// Map is a headless mapsurface.Surface.
type Map struct {
	cfg    mapsurface.Config
	width  int
	height int
	center orb.Point
	zoom   float64

	subs     []*subscription
	sources  map[string]*source
	layers   []*layer
	markers  []*Marker
	controls []mapsurface.Control
	fog      *mapsurface.Fog
	cursor   string
	hovered  map[string]bool
	loaded   bool
	removed  bool
}

// New creates a map from cfg. The map is not loaded until Load is called.
func New(cfg mapsurface.Config) *Map {
	w, h := cfg.Width, cfg.Height
	if w <= 0 {
		w = DefaultWidth
	}
	if h <= 0 {
		h = DefaultHeight
	}
	m := &Map{
		cfg:     cfg,
		width:   w,
		height:  h,
		center:  projection.ClampLat(cfg.Center),
		zoom:    cfg.Zoom,
		sources: make(map[string]*source),
		hovered: make(map[string]bool),
	}
	m.resetStyle()
	return m
}

func (m *Map) resetStyle() {
	m.layers = slices.DeleteFunc(m.layers, func(l *layer) bool { return l.base })
	base := make([]*layer, 0, len(BaseStyleLayers))
	for _, sl := range BaseStyleLayers {
		base = append(base, &layer{
			def:    mapsurface.Layer{ID: sl.ID, Type: sl.Type, Source: sl.Source, Paint: map[string]any{}, Layout: map[string]any{}},
			base:   true,
			hasTxt: sl.HasText,
		})
	}
	m.layers = append(base, m.layers...)
}

// Config returns the construction config.
func (m *Map) Config() mapsurface.Config { return m.cfg }

// Size returns the viewport size in pixels.
func (m *Map) Size() (width, height int) { return m.width, m.height }

// Loaded reports whether Load has run.
func (m *Map) Loaded() bool { return m.loaded }

// Removed reports whether Remove has run.
func (m *Map) Removed() bool { return m.removed }

// Load fires the style and map load events once.
func (m *Map) Load() {
	if m.loaded || m.removed {
		return
	}
	m.loaded = true
	m.fire(mapsurface.Event{Type: mapsurface.EventStyleLoad})
	m.fire(mapsurface.Event{Type: mapsurface.EventStyleData})
	m.fire(mapsurface.Event{Type: mapsurface.EventLoad})
}

// ReloadStyle simulates a style switch: base style layers are rebuilt and
// the style events fire again. Added sources and layers are kept.
func (m *Map) ReloadStyle() {
	if m.removed {
		return
	}
	m.resetStyle()
	m.fire(mapsurface.Event{Type: mapsurface.EventStyleLoad})
	m.fire(mapsurface.Event{Type: mapsurface.EventStyleData})
}

func (m *Map) On(ev mapsurface.EventType, h mapsurface.Handler) mapsurface.Subscription {
	return m.subscribe(ev, "", h)
}

func (m *Map) OnLayer(ev mapsurface.EventType, layerID string, h mapsurface.Handler) mapsurface.Subscription {
	return m.subscribe(ev, layerID, h)
}

func (m *Map) subscribe(ev mapsurface.EventType, layerID string, h mapsurface.Handler) mapsurface.Subscription {
	s := &subscription{m: m, ev: ev, layer: layerID, h: h, active: true}
	if !m.removed {
		m.subs = append(m.subs, s)
	}
	return s
}

// HandlerCount returns the number of live subscriptions.
func (m *Map) HandlerCount() int { return len(m.subs) }

func (m *Map) fire(e mapsurface.Event) {
	m.fireLayer("", e)
}

func (m *Map) fireLayer(layerID string, e mapsurface.Event) {
	for _, s := range slices.Clone(m.subs) {
		if !s.active || s.ev != e.Type || s.layer != layerID {
			continue
		}
		s.h(e)
	}
}

func (m *Map) AddSource(id string, spec mapsurface.SourceSpec) error {
	if m.removed {
		return errors.New("map has been removed")
	}
	if _, ok := m.sources[id]; ok {
		return fmt.Errorf("source %q already exists", id)
	}
	s := &source{id: id, spec: spec}
	s.SetData(spec.Data)
	m.sources[id] = s
	return nil
}

func (m *Map) Source(id string) (mapsurface.Source, bool) {
	s, ok := m.sources[id]
	if !ok {
		return nil, false
	}
	return s, true
}

func (m *Map) AddLayer(l mapsurface.Layer) error {
	if m.removed {
		return errors.New("map has been removed")
	}
	if m.HasLayer(l.ID) {
		return fmt.Errorf("layer %q already exists", l.ID)
	}
	if _, ok := m.sources[l.Source]; !ok {
		return fmt.Errorf("layer %q references unknown source %q", l.ID, l.Source)
	}
	if l.Paint == nil {
		l.Paint = map[string]any{}
	}
	if l.Layout == nil {
		l.Layout = map[string]any{}
	}
	m.layers = append(m.layers, &layer{def: l})
	m.fire(mapsurface.Event{Type: mapsurface.EventStyleData})
	return nil
}

func (m *Map) layer(id string) *layer {
	for _, l := range m.layers {
		if l.def.ID == id {
			return l
		}
	}
	return nil
}

func (m *Map) HasLayer(id string) bool { return m.layer(id) != nil }

func (m *Map) StyleLayers() []mapsurface.StyleLayer {
	out := make([]mapsurface.StyleLayer, 0, len(m.layers))
	for _, l := range m.layers {
		out = append(out, mapsurface.StyleLayer{
			ID:      l.def.ID,
			Type:    l.def.Type,
			Source:  l.def.Source,
			HasText: l.hasTxt || l.def.Type == mapsurface.LayerSymbol,
		})
	}
	return out
}

// Layer returns a copy of a layer's definition.
func (m *Map) Layer(id string) (mapsurface.Layer, bool) {
	l := m.layer(id)
	if l == nil {
		return mapsurface.Layer{}, false
	}
	return l.def, true
}

// SetLayoutProperty fires styledata when the value changes.
func (m *Map) SetLayoutProperty(layerID, name string, value any) error {
	l := m.layer(layerID)
	if l == nil {
		return fmt.Errorf("layer %q does not exist", layerID)
	}
	if old, ok := l.def.Layout[name]; ok && old == value {
		return nil
	}
	l.def.Layout[name] = value
	m.fire(mapsurface.Event{Type: mapsurface.EventStyleData})
	return nil
}

func (m *Map) LayoutProperty(layerID, name string) (any, bool) {
	l := m.layer(layerID)
	if l == nil {
		return nil, false
	}
	v, ok := l.def.Layout[name]
	return v, ok
}

func (m *Map) SetPaintProperty(layerID, name string, value any) error {
	l := m.layer(layerID)
	if l == nil {
		return fmt.Errorf("layer %q does not exist", layerID)
	}
	l.def.Paint[name] = value
	return nil
}

// PaintProperty returns a layer's paint value.
func (m *Map) PaintProperty(layerID, name string) (any, bool) {
	l := m.layer(layerID)
	if l == nil {
		return nil, false
	}
	v, ok := l.def.Paint[name]
	return v, ok
}

func (m *Map) Zoom() float64     { return m.zoom }
func (m *Map) Center() orb.Point { return m.center }

func (m *Map) bounds() orb.Bound {
	return projection.ViewBounds(m.center, m.zoom, m.width, m.height)
}

func (m *Map) Viewport() types.ViewportState {
	return types.ViewportState{
		Zoom:   m.zoom,
		Center: m.center,
		Bounds: types.BoundingBoxFromBound(m.bounds()),
	}
}

func (m *Map) Project(p orb.Point) mapsurface.ScreenPoint {
	cx, cy := projection.ToPixel(m.center, m.zoom)
	px, py := projection.ToPixel(p, m.zoom)
	return mapsurface.ScreenPoint{X: px - cx + float64(m.width)/2, Y: py - cy + float64(m.height)/2}
}

// Unproject converts a screen point to lon/lat.
func (m *Map) Unproject(pt mapsurface.ScreenPoint) orb.Point {
	cx, cy := projection.ToPixel(m.center, m.zoom)
	return projection.FromPixel(cx+pt.X-float64(m.width)/2, cy+pt.Y-float64(m.height)/2, m.zoom)
}

// EaseTo jumps straight to the target; there is no animation to wait for.
// As in the browser, zoomend fires before moveend.
func (m *Map) EaseTo(center orb.Point, zoom float64) {
	m.JumpTo(center, zoom)
}

func (m *Map) JumpTo(center orb.Point, zoom float64) {
	if m.removed {
		return
	}
	zoomChanged := zoom != m.zoom
	m.center = projection.ClampLat(orb.Point{projection.WrapLng(center.Lon()), center.Lat()})
	m.zoom = math.Max(0, math.Min(22, zoom))
	m.fire(mapsurface.Event{Type: mapsurface.EventMoveStart})
	if zoomChanged {
		m.fire(mapsurface.Event{Type: mapsurface.EventZoomEnd})
	}
	m.fire(mapsurface.Event{Type: mapsurface.EventMoveEnd})
}

// MoveTo simulates a user pan/zoom gesture ending at center and zoom.
func (m *Map) MoveTo(center orb.Point, zoom float64) {
	m.JumpTo(center, zoom)
}

func (m *Map) SetFog(f mapsurface.Fog) { m.fog = &f }

// Fog returns the last fog set, or nil.
func (m *Map) Fog() *mapsurface.Fog { return m.fog }

func (m *Map) AddControl(c mapsurface.Control) error {
	if slices.Contains(m.controls, c) {
		return fmt.Errorf("control %q already added", c)
	}
	m.controls = append(m.controls, c)
	return nil
}

// Controls returns the added controls in order.
func (m *Map) Controls() []mapsurface.Control { return slices.Clone(m.controls) }

func (m *Map) SetCursor(cursor string) { m.cursor = cursor }

// Cursor returns the current canvas cursor.
func (m *Map) Cursor() string { return m.cursor }

func (m *Map) Remove() {
	if m.removed {
		return
	}
	m.removed = true
	for _, s := range m.subs {
		s.active = false
	}
	m.subs = nil
	for _, mk := range slices.Clone(m.markers) {
		mk.Remove()
	}
	m.sources = map[string]*source{}
	m.layers = nil
}
