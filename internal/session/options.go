package session

import (
	"github.com/MeKo-Tech/osem/internal/features"
	"github.com/MeKo-Tech/osem/internal/layers/toggle"
	"github.com/paulmach/orb"
)

// Options configures a map session. Boolean features default to off, except
// ScrollZoom which is on unless explicitly disabled. Zero numeric and string
// fields take the value from DefaultOptions.
type Options struct {
	ShowNavigation        bool
	ShowStyleControl      bool
	ShowGeoToggle         bool
	ShowDrawTools         bool
	LoadMarkers           bool
	EnableHash            bool
	Compact               bool
	GlobeProjection       bool
	AutoRotate            bool
	HideLabels            bool
	TransparentBackground bool
	ScrollZoom            *bool

	RotationSpeed    float64 // Degrees of longitude per second
	StopRotatingZoom float64 // Interactions ending at or above this zoom stop rotation for good
	MinFetchZoom     float64 // Viewport layer fetch threshold
	LabelFadeMinZoom float64 // Labels fade in over the zoom level below this one
	InitialZoom      float64
	InitialCenter    *orb.Point

	AccessToken       string
	APIBaseURL        string
	MarkerURL         string
	Style             string
	FogPreset         string
	OrganizationsPath string // Row endpoint for organization pins
	ViewportPath      string // Feature endpoint for the viewport layer; empty disables it
	PolygonsPath      string // Feature endpoint for the viewport polygon layer; empty disables it
	FetchLimit        int

	// ViewportProperties and PolygonProperties are the allow-lists kept on
	// fetched viewport pins and polygons besides the id.
	ViewportProperties []string
	PolygonProperties  []string

	ToggleLayers []toggle.Layer

	OnUserInteractionStart func()
	OnUserInteractionEnd   func()
	// OnFeatureSelect receives the allow-listed properties of a clicked
	// marker or reference layer feature.
	OnFeatureSelect func(props map[string]any)
	// OnAlert receives user-facing error messages.
	OnAlert func(msg string)
	// OnToggleChange reports toggle layer visibility changed by the session
	// itself, such as the revert after a failed load.
	OnToggleChange func(id string, visible bool)
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	scroll := true
	center := orb.Point{10, 20}
	return Options{
		ScrollZoom:        &scroll,
		RotationSpeed:     3,
		StopRotatingZoom:  4,
		MinFetchZoom:      8,
		LabelFadeMinZoom:  3,
		InitialZoom:       1.5,
		InitialCenter:     &center,
		Style:             "mapbox://styles/mapbox/satellite-streets-v12",
		FogPreset:         "day",
		OrganizationsPath: "/organizations",

		ViewportProperties: features.PolygonCentroids.Properties,
		PolygonProperties:  features.ProjectPolygons.Properties,
	}
}

// withDefaults merges o over DefaultOptions.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ScrollZoom == nil {
		o.ScrollZoom = def.ScrollZoom
	}
	if o.RotationSpeed <= 0 {
		o.RotationSpeed = def.RotationSpeed
	}
	if o.StopRotatingZoom <= 0 {
		o.StopRotatingZoom = def.StopRotatingZoom
	}
	if o.MinFetchZoom <= 0 {
		o.MinFetchZoom = def.MinFetchZoom
	}
	if o.LabelFadeMinZoom <= 0 {
		o.LabelFadeMinZoom = def.LabelFadeMinZoom
	}
	if o.InitialZoom <= 0 {
		o.InitialZoom = def.InitialZoom
	}
	if o.InitialCenter == nil {
		o.InitialCenter = def.InitialCenter
	}
	if o.Style == "" {
		o.Style = def.Style
	}
	if o.FogPreset == "" {
		o.FogPreset = def.FogPreset
	}
	if o.OrganizationsPath == "" {
		o.OrganizationsPath = def.OrganizationsPath
	}
	if o.ViewportProperties == nil {
		o.ViewportProperties = def.ViewportProperties
	}
	if o.PolygonProperties == nil {
		o.PolygonProperties = def.PolygonProperties
	}
	return o
}

func (o Options) needsAPI() bool {
	return o.LoadMarkers || o.ViewportPath != "" || o.PolygonsPath != "" || len(o.ToggleLayers) > 0
}
