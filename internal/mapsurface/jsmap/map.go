//go:build js && wasm

package jsmap

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"syscall/js"

	"github.com/MeKo-Tech/osem/internal/cluster"
	"github.com/MeKo-Tech/osem/internal/eventloop"
	"github.com/MeKo-Tech/osem/internal/mapsurface"
	"github.com/MeKo-Tech/osem/internal/types"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Factory creates browser maps through the global mapboxgl namespace.
type Factory struct {
	// Dispatcher receives every map event; handlers never run inside the
	// JS callback itself.
	Dispatcher eventloop.Dispatcher
	Logger     *slog.Logger
}

// New implements mapsurface.Factory.
func (f *Factory) New(cfg mapsurface.Config) (mapsurface.Surface, error) {
	if f.Dispatcher == nil {
		return nil, errors.New("jsmap factory needs a dispatcher")
	}
	gl := js.Global().Get("mapboxgl")
	if gl.IsUndefined() {
		return nil, errors.New("mapboxgl is not loaded")
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	projection := "mercator"
	if cfg.Globe {
		projection = "globe"
	}

	var m js.Value
	err := catch(func() {
		gl.Set("accessToken", cfg.AccessToken)
		m = gl.Get("Map").New(js.ValueOf(map[string]any{
			"container":          cfg.Container,
			"style":              cfg.Style,
			"center":             []any{cfg.Center.Lon(), cfg.Center.Lat()},
			"zoom":               cfg.Zoom,
			"projection":         projection,
			"scrollZoom":         cfg.ScrollZoom,
			"attributionControl": false,
		}))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mapbox map: %w", err)
	}

	return &Map{
		gl:      gl,
		m:       m,
		loop:    f.Dispatcher,
		logger:  logger.With("component", "jsmap"),
		sources: make(map[string]*source),
	}, nil
}

// Map is a mapbox-gl map.
type Map struct {
	gl      js.Value
	m       js.Value
	loop    eventloop.Dispatcher
	logger  *slog.Logger
	sources map[string]*source
	subs    map[*subscription]struct{}
	markers map[*marker]struct{}
	removed bool
}

type subscription struct {
	m       *Map
	args    []any
	fn      js.Func
	removed bool
}

func (s *subscription) Unsubscribe() {
	if s.removed {
		return
	}
	s.removed = true
	delete(s.m.subs, s)
	if !s.m.removed {
		_ = catch(func() { s.m.m.Call("off", s.args...) })
	}
	s.fn.Release()
}

func (m *Map) On(ev mapsurface.EventType, h mapsurface.Handler) mapsurface.Subscription {
	return m.subscribe(ev, "", h)
}

func (m *Map) OnLayer(ev mapsurface.EventType, layerID string, h mapsurface.Handler) mapsurface.Subscription {
	return m.subscribe(ev, layerID, h)
}

func (m *Map) subscribe(ev mapsurface.EventType, layerID string, h mapsurface.Handler) mapsurface.Subscription {
	sub := &subscription{m: m}
	sub.fn = js.FuncOf(func(this js.Value, args []js.Value) any {
		e := mapsurface.Event{Type: ev}
		if len(args) > 0 {
			e = m.decodeEvent(ev, args[0], layerID != "")
		}
		m.loop.Post(func() {
			if !sub.removed {
				h(e)
			}
		})
		return nil
	})
	if layerID == "" {
		sub.args = []any{string(ev), sub.fn}
	} else {
		sub.args = []any{string(ev), layerID, sub.fn}
	}
	if m.removed {
		sub.removed = true
		sub.fn.Release()
		return sub
	}
	if m.subs == nil {
		m.subs = make(map[*subscription]struct{})
	}
	m.subs[sub] = struct{}{}
	m.m.Call("on", sub.args...)
	return sub
}

func (m *Map) decodeEvent(ev mapsurface.EventType, v js.Value, withFeatures bool) mapsurface.Event {
	e := mapsurface.Event{Type: ev}
	if p := v.Get("point"); truthy(p) {
		e.Point = mapsurface.ScreenPoint{X: p.Get("x").Float(), Y: p.Get("y").Float()}
	}
	if ll := v.Get("lngLat"); truthy(ll) {
		e.LngLat = orb.Point{ll.Get("lng").Float(), ll.Get("lat").Float()}
	}
	if withFeatures {
		e.Features = m.decodeFeatures(v.Get("features"))
	}
	return e
}

func (m *Map) AddSource(id string, spec mapsurface.SourceSpec) error {
	if m.removed {
		return ErrRemoved
	}
	if _, ok := m.sources[id]; ok {
		return fmt.Errorf("source %q already exists", id)
	}
	data := spec.Data
	if data == nil {
		data = geojson.NewFeatureCollection()
	}
	obj, err := m.toJS(data)
	if err != nil {
		return err
	}
	opts := js.ValueOf(SourceOptions(spec))
	opts.Set("data", obj)
	if err := catch(func() { m.m.Call("addSource", id, opts) }); err != nil {
		return fmt.Errorf("failed to add source %s: %w", id, err)
	}
	src := &source{m: m, id: id, spec: spec}
	src.track(data)
	m.sources[id] = src
	return nil
}

func (m *Map) Source(id string) (mapsurface.Source, bool) {
	src, ok := m.sources[id]
	if !ok || m.removed {
		return nil, false
	}
	if m.m.Call("getSource", id).IsUndefined() {
		// The style was replaced and took the source with it.
		delete(m.sources, id)
		return nil, false
	}
	return src, true
}

func (m *Map) AddLayer(l mapsurface.Layer) error {
	if m.removed {
		return ErrRemoved
	}
	spec, err := LayerSpec(l)
	if err != nil {
		return err
	}
	if err := catch(func() { m.m.Call("addLayer", js.ValueOf(spec)) }); err != nil {
		return fmt.Errorf("failed to add layer %s: %w", l.ID, err)
	}
	return nil
}

func (m *Map) HasLayer(id string) bool {
	if m.removed {
		return false
	}
	return truthy(m.m.Call("getLayer", id))
}

func (m *Map) StyleLayers() []mapsurface.StyleLayer {
	if m.removed {
		return nil
	}
	style := m.m.Call("getStyle")
	if !truthy(style) {
		return nil
	}
	layers := style.Get("layers")
	if !truthy(layers) {
		return nil
	}
	out := make([]mapsurface.StyleLayer, 0, layers.Length())
	for i := 0; i < layers.Length(); i++ {
		l := layers.Index(i)
		sl := mapsurface.StyleLayer{
			ID:   l.Get("id").String(),
			Type: mapsurface.LayerType(l.Get("type").String()),
		}
		if src := l.Get("source"); src.Type() == js.TypeString {
			sl.Source = src.String()
		}
		if layout := l.Get("layout"); truthy(layout) {
			sl.HasText = truthy(layout.Get(mapsurface.PropTextField))
		}
		out = append(out, sl)
	}
	return out
}

func (m *Map) SetLayoutProperty(layerID, name string, value any) error {
	if !m.HasLayer(layerID) {
		return fmt.Errorf("%w: %s", ErrUnknownLayer, layerID)
	}
	return catch(func() { m.m.Call("setLayoutProperty", layerID, name, js.ValueOf(StyleValue(value))) })
}

func (m *Map) LayoutProperty(layerID, name string) (any, bool) {
	if !m.HasLayer(layerID) {
		return nil, false
	}
	v := m.m.Call("getLayoutProperty", layerID, name)
	if v.IsUndefined() || v.IsNull() {
		return nil, false
	}
	return goValue(v), true
}

func (m *Map) SetPaintProperty(layerID, name string, value any) error {
	if !m.HasLayer(layerID) {
		return fmt.Errorf("%w: %s", ErrUnknownLayer, layerID)
	}
	return catch(func() { m.m.Call("setPaintProperty", layerID, name, js.ValueOf(StyleValue(value))) })
}

func (m *Map) QueryRenderedFeatures(layerID string) []*geojson.Feature {
	if !m.HasLayer(layerID) {
		return nil
	}
	opts := js.ValueOf(map[string]any{"layers": []any{layerID}})
	return m.decodeFeatures(m.m.Call("queryRenderedFeatures", opts))
}

func (m *Map) QueryRenderedFeaturesAt(pt mapsurface.ScreenPoint, layerIDs ...string) []*geojson.Feature {
	if m.removed {
		return nil
	}
	var ids []any
	for _, id := range layerIDs {
		if m.HasLayer(id) {
			ids = append(ids, id)
		}
	}
	if len(layerIDs) > 0 && len(ids) == 0 {
		return nil
	}
	opts := map[string]any{}
	if len(ids) > 0 {
		opts["layers"] = ids
	}
	return m.decodeFeatures(m.m.Call("queryRenderedFeatures", []any{pt.X, pt.Y}, js.ValueOf(opts)))
}

func (m *Map) Zoom() float64 {
	if m.removed {
		return 0
	}
	return m.m.Call("getZoom").Float()
}

func (m *Map) Center() orb.Point {
	if m.removed {
		return orb.Point{}
	}
	return lngLat(m.m.Call("getCenter"))
}

func (m *Map) Viewport() types.ViewportState {
	if m.removed {
		return types.ViewportState{}
	}
	b := m.m.Call("getBounds")
	return types.ViewportState{
		Zoom:   m.Zoom(),
		Center: m.Center(),
		Bounds: types.BoundingBox{
			MinLon: b.Call("getWest").Float(),
			MinLat: b.Call("getSouth").Float(),
			MaxLon: b.Call("getEast").Float(),
			MaxLat: b.Call("getNorth").Float(),
		},
	}
}

func (m *Map) Project(p orb.Point) mapsurface.ScreenPoint {
	v := m.m.Call("project", []any{p.Lon(), p.Lat()})
	return mapsurface.ScreenPoint{X: v.Get("x").Float(), Y: v.Get("y").Float()}
}

func (m *Map) EaseTo(center orb.Point, zoom float64) {
	m.camera("easeTo", center, zoom)
}

func (m *Map) JumpTo(center orb.Point, zoom float64) {
	m.camera("jumpTo", center, zoom)
}

func (m *Map) camera(method string, center orb.Point, zoom float64) {
	if m.removed {
		return
	}
	m.m.Call(method, js.ValueOf(map[string]any{
		"center": []any{center.Lon(), center.Lat()},
		"zoom":   zoom,
	}))
}

func (m *Map) SetFog(f mapsurface.Fog) {
	if m.removed {
		return
	}
	if err := catch(func() { m.m.Call("setFog", js.ValueOf(FogOptions(f))) }); err != nil {
		m.logger.Warn("failed to set fog", "error", err)
	}
}

func (m *Map) AddControl(c mapsurface.Control) error {
	if m.removed {
		return ErrRemoved
	}
	var ctrl js.Value
	switch c {
	case mapsurface.ControlNavigation:
		ctrl = m.gl.Get("NavigationControl").New()
	case mapsurface.ControlCompactAttribution:
		ctrl = m.gl.Get("AttributionControl").New(js.ValueOf(map[string]any{"compact": true}))
	case mapsurface.ControlDraw:
		ctrl = newGlobal("MapboxDraw")
	case mapsurface.ControlStyleSwitcher:
		ctrl = newGlobal("MapboxStyleSwitcherControl")
	case mapsurface.ControlGeoToggle:
		ctrl = newGlobal("MapboxGeoToggleControl")
	default:
		return fmt.Errorf("unknown control %q", c)
	}
	if ctrl.IsUndefined() {
		return fmt.Errorf("control %q is not available on this page", c)
	}
	return catch(func() { m.m.Call("addControl", ctrl) })
}

func (m *Map) SetCursor(cursor string) {
	if m.removed {
		return
	}
	m.m.Call("getCanvas").Get("style").Set("cursor", cursor)
}

// Remove destroys the map. Every subscription and marker is released.
func (m *Map) Remove() {
	if m.removed {
		return
	}
	for mk := range m.markers {
		mk.Remove()
	}
	for sub := range m.subs {
		sub.Unsubscribe()
	}
	m.removed = true
	m.sources = map[string]*source{}
	_ = catch(func() { m.m.Call("remove") })
}

type source struct {
	m     *Map
	id    string
	spec  mapsurface.SourceSpec
	index *cluster.Index
}

func (s *source) SetData(fc *geojson.FeatureCollection) {
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}
	if s.m.removed {
		return
	}
	src := s.m.m.Call("getSource", s.id)
	if src.IsUndefined() {
		return
	}
	obj, err := s.m.toJS(fc)
	if err != nil {
		s.m.logger.Error("failed to encode source data", "source", s.id, "error", err)
		return
	}
	src.Call("setData", obj)
	s.track(fc)
}

// track mirrors the source's clustering in Go so expansion zooms can be
// answered synchronously. The ids match the ones mapbox assigns.
func (s *source) track(fc *geojson.FeatureCollection) {
	if !s.spec.Cluster {
		return
	}
	opts := cluster.DefaultOptions()
	if s.spec.ClusterRadius > 0 {
		opts.Radius = s.spec.ClusterRadius
	}
	if s.spec.ClusterMaxZoom > 0 {
		opts.MaxZoom = s.spec.ClusterMaxZoom
	}
	s.index = cluster.New(fc, opts)
}

func (s *source) ClusterExpansionZoom(clusterID int) (int, error) {
	if s.index == nil {
		return 0, fmt.Errorf("source %s is not clustered", s.id)
	}
	return s.index.ExpansionZoom(clusterID)
}

var (
	// ErrRemoved is returned by mutations after Remove.
	ErrRemoved = errors.New("map has been removed")
	// ErrUnknownLayer is returned for property changes on missing layers.
	ErrUnknownLayer = errors.New("no such layer")
)

// toJS converts a feature collection to a JS object.
func (m *Map) toJS(fc *geojson.FeatureCollection) (js.Value, error) {
	b, err := fc.MarshalJSON()
	if err != nil {
		return js.Undefined(), fmt.Errorf("failed to marshal feature collection: %w", err)
	}
	return js.Global().Get("JSON").Call("parse", string(b)), nil
}

// decodeFeatures converts an array of rendered mapbox features.
func (m *Map) decodeFeatures(arr js.Value) []*geojson.Feature {
	if !truthy(arr) {
		return nil
	}
	stringify := js.Global().Get("JSON").Get("stringify")
	out := make([]*geojson.Feature, 0, arr.Length())
	for i := 0; i < arr.Length(); i++ {
		f := arr.Index(i)
		// Rendered features are class instances; only plain fields survive stringify.
		plain := js.ValueOf(map[string]any{
			"type":       "Feature",
			"id":         js.Null(),
			"properties": js.Null(),
			"geometry":   js.Null(),
		})
		for _, k := range []string{"id", "properties", "geometry"} {
			if v := f.Get(k); !v.IsUndefined() {
				plain.Set(k, v)
			}
		}
		feat, err := geojson.UnmarshalFeature([]byte(stringify.Invoke(plain).String()))
		if err != nil {
			m.logger.Debug("skipping undecodable rendered feature", "error", err)
			continue
		}
		normalizeProperties(feat)
		out = append(out, feat)
	}
	return out
}

// normalizeProperties restores integer cluster fields, which decode as float64.
func normalizeProperties(f *geojson.Feature) {
	for _, k := range []string{"cluster_id", "point_count"} {
		if v, ok := f.Properties[k].(float64); ok {
			f.Properties[k] = int(v)
		}
	}
}

func goValue(v js.Value) any {
	switch v.Type() {
	case js.TypeString:
		return v.String()
	case js.TypeNumber:
		return v.Float()
	case js.TypeBoolean:
		return v.Bool()
	case js.TypeObject:
		var out any
		s := js.Global().Get("JSON").Call("stringify", v).String()
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil
		}
		return out
	default:
		return nil
	}
}

func lngLat(v js.Value) orb.Point {
	return orb.Point{v.Get("lng").Float(), v.Get("lat").Float()}
}

func truthy(v js.Value) bool {
	return !v.IsUndefined() && !v.IsNull() && v.Truthy()
}

func newGlobal(name string) js.Value {
	ctor := js.Global().Get(name)
	if ctor.IsUndefined() {
		return js.Undefined()
	}
	return ctor.New()
}

// catch turns a JS exception thrown during fn into an error.
func catch(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if jsErr, ok := r.(js.Error); ok {
				err = jsErr
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()
	fn()
	return nil
}
