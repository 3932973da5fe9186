// Package mapsurface defines the rendering surface the map layer
// controllers drive. A Surface is the Go view of a mapbox-gl map: sources,
// style layers, markers, camera and events. Implementations are not safe for
// concurrent use; callers mutate a surface only from its session's event loop.
package mapsurface

import (
	"github.com/MeKo-Tech/osem/internal/types"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// EventType names a map event.
type EventType string

const (
	EventLoad       EventType = "load"
	EventStyleLoad  EventType = "style.load"
	EventStyleData  EventType = "styledata"
	EventMoveStart  EventType = "movestart"
	EventMoveEnd    EventType = "moveend"
	EventZoomEnd    EventType = "zoomend"
	EventMouseDown  EventType = "mousedown"
	EventMouseUp    EventType = "mouseup"
	EventDragStart  EventType = "dragstart"
	EventDragEnd    EventType = "dragend"
	EventTouchStart EventType = "touchstart"
	EventTouchEnd   EventType = "touchend"
	EventClick      EventType = "click"
	EventMouseEnter EventType = "mouseenter"
	EventMouseLeave EventType = "mouseleave"
)

// ScreenPoint is a position in container pixels, origin top left.
type ScreenPoint struct {
	X, Y float64
}

// Event is delivered to handlers. Features is only set for layer events and
// holds the rendered features under Point.
type Event struct {
	Type     EventType
	Point    ScreenPoint
	LngLat   orb.Point
	Features []*geojson.Feature
}

// Handler receives map events.
type Handler func(Event)

// Subscription is returned by On and OnLayer.
type Subscription interface {
	Unsubscribe()
}

// LayerType is the style layer type.
type LayerType string

const (
	LayerCircle LayerType = "circle"
	LayerSymbol LayerType = "symbol"
	LayerFill   LayerType = "fill"
	LayerLine   LayerType = "line"
)

// Filter restricts a layer on a clustered source to clusters or single points.
type Filter string

const (
	FilterNone        Filter = ""
	FilterClustered   Filter = "clustered"
	FilterUnclustered Filter = "unclustered"
)

// Layout and paint property names used by the controllers.
const (
	PropVisibility   = "visibility"
	VisibilityOn     = "visible"
	VisibilityOff    = "none"
	PropTextField    = "text-field"
	PropTextOpacity  = "text-opacity"
	PropBackground   = "background-color"
	PropBackgroundOp = "background-opacity"
)

// Layer describes a style layer.
type Layer struct {
	ID     string
	Type   LayerType
	Source string
	Filter Filter
	Paint  map[string]any
	Layout map[string]any
}

// StyleLayer is a read-only summary of a layer in the current style.
type StyleLayer struct {
	ID      string
	Type    LayerType
	Source  string
	HasText bool
}

// SourceSpec creates a GeoJSON source.
type SourceSpec struct {
	Data           *geojson.FeatureCollection
	Cluster        bool
	ClusterRadius  float64
	ClusterMaxZoom int
}

// Source is a live GeoJSON source. The same Source value stays valid across
// SetData calls.
type Source interface {
	SetData(fc *geojson.FeatureCollection)
	ClusterExpansionZoom(clusterID int) (int, error)
}

// MarkerOptions places a marker element.
type MarkerOptions struct {
	ID      string
	LngLat  orb.Point
	IconURL string
}

// Marker is an HTML marker pinned to a coordinate.
type Marker interface {
	SetLngLat(p orb.Point)
	LngLat() orb.Point
	OnClick(fn func())
	Remove()
}

// Control identifies a built-in map control.
type Control string

const (
	ControlNavigation         Control = "navigation"
	ControlStyleSwitcher      Control = "style-switcher"
	ControlGeoToggle          Control = "geo-toggle"
	ControlDraw               Control = "draw"
	ControlCompactAttribution Control = "compact-attribution"
)

// Fog is the atmosphere rendered around a globe.
type Fog struct {
	Color         string
	HighColor     string
	SpaceColor    string
	HorizonBlend  float64
	StarIntensity float64
}

// Surface is an interactive map.
type Surface interface {
	On(ev EventType, h Handler) Subscription
	OnLayer(ev EventType, layerID string, h Handler) Subscription

	AddSource(id string, spec SourceSpec) error
	Source(id string) (Source, bool)
	AddLayer(l Layer) error
	HasLayer(id string) bool
	StyleLayers() []StyleLayer
	SetLayoutProperty(layerID, name string, value any) error
	LayoutProperty(layerID, name string) (any, bool)
	SetPaintProperty(layerID, name string, value any) error

	// QueryRenderedFeatures returns the features a layer currently draws
	// inside the viewport.
	QueryRenderedFeatures(layerID string) []*geojson.Feature
	// QueryRenderedFeaturesAt returns features of the given layers under pt.
	QueryRenderedFeaturesAt(pt ScreenPoint, layerIDs ...string) []*geojson.Feature

	Zoom() float64
	Center() orb.Point
	Viewport() types.ViewportState
	Project(p orb.Point) ScreenPoint
	EaseTo(center orb.Point, zoom float64)
	JumpTo(center orb.Point, zoom float64)

	SetFog(f Fog)
	AddControl(c Control) error
	SetCursor(cursor string)
	NewMarker(opts MarkerOptions) Marker

	// Remove destroys the map and drops every handler, source, layer and marker.
	Remove()
}

// Config holds the construction parameters of a map.
type Config struct {
	Container   string
	AccessToken string
	Style       string
	Center      orb.Point
	Zoom        float64
	Globe       bool
	ScrollZoom  bool
	// Width and Height size a headless surface; browser surfaces use the container.
	Width, Height int
}

// Factory creates surfaces.
type Factory interface {
	New(cfg Config) (Surface, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(cfg Config) (Surface, error)

// New calls f.
func (f FactoryFunc) New(cfg Config) (Surface, error) { return f(cfg) }

// IsVisible reports whether a layout visibility value means visible.
// Layers without an explicit value are visible.
func IsVisible(v any, ok bool) bool {
	if !ok {
		return true
	}
	s, _ := v.(string)
	return s != VisibilityOff
}

// VisibilityValue converts a bool to a layout visibility value.
func VisibilityValue(visible bool) string {
	if visible {
		return VisibilityOn
	}
	return VisibilityOff
}
