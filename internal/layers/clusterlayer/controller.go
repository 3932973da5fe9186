// Package clusterlayer renders a point feature collection as a clustered
// source with cluster circles, count labels and one marker element per
// unclustered feature.
package clusterlayer

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/MeKo-Tech/osem/internal/mapsurface"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Layer id suffixes appended to the source id.
const (
	SuffixClusters     = "-clusters"
	SuffixClusterCount = "-cluster-count"
	SuffixUnclustered  = "-unclustered"
)

// ClusterConfig holds the clustering and banding parameters of a source.
type ClusterConfig struct {
	Radius  float64 // Cluster radius in map pixels
	MaxZoom int     // Highest zoom at which points are clustered

	// Point counts at which a cluster moves to the medium and deep band.
	MediumThreshold int
	DeepThreshold   int

	LightColor  string
	MediumColor string
	DeepColor   string
}

// DefaultClusterConfig returns radius 50, max zoom 14 and bands at 10 and 50.
func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		Radius:          50,
		MaxZoom:         14,
		MediumThreshold: 10,
		DeepThreshold:   50,
		LightColor:      "#a3d9a5",
		MediumColor:     "#4caf50",
		DeepColor:       "#1b5e20",
	}
}

func (c ClusterConfig) withDefaults() ClusterConfig {
	def := DefaultClusterConfig()
	if c.Radius <= 0 {
		c.Radius = def.Radius
	}
	if c.MaxZoom <= 0 {
		c.MaxZoom = def.MaxZoom
	}
	if c.MediumThreshold <= 0 {
		c.MediumThreshold = def.MediumThreshold
	}
	if c.DeepThreshold <= c.MediumThreshold {
		c.DeepThreshold = max(def.DeepThreshold, c.MediumThreshold+1)
	}
	if c.LightColor == "" {
		c.LightColor = def.LightColor
	}
	if c.MediumColor == "" {
		c.MediumColor = def.MediumColor
	}
	if c.DeepColor == "" {
		c.DeepColor = def.DeepColor
	}
	return c
}

// Config configures a Controller.
type Config struct {
	Surface mapsurface.Surface
	Logger  *slog.Logger
	// OnPointClick is called with the feature behind a clicked marker.
	OnPointClick func(f *geojson.Feature)
	// MarkerURL is the icon used for marker elements.
	MarkerURL string
}

type markerEntry struct {
	marker  mapsurface.Marker
	feature *geojson.Feature
}

type sourceState struct {
	cfg         ClusterConfig
	layersReady bool
	markers     map[string]*markerEntry
	subs        []mapsurface.Subscription
}

// Controller owns the clustered sources it created on one surface together
// with their layers, marker registry and event subscriptions.
type Controller struct {
	surface      mapsurface.Surface
	logger       *slog.Logger
	onPointClick func(f *geojson.Feature)
	markerURL    string

	sources map[string]*sourceState
	closed  bool
}

// New creates a controller for cfg.Surface.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		surface:      cfg.Surface,
		logger:       logger.With("component", "clusterlayer"),
		onPointClick: cfg.OnPointClick,
		markerURL:    cfg.MarkerURL,
		sources:      make(map[string]*sourceState),
	}
}

// UpsertSource creates the clustered source id on first use and replaces its
// data in place afterwards. Markers are reconciled once the layers exist.
func (c *Controller) UpsertSource(id string, fc *geojson.FeatureCollection, cfg ClusterConfig) error {
	if c.closed {
		return fmt.Errorf("cluster layer controller closed")
	}
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}

	st, known := c.sources[id]
	if src, ok := c.surface.Source(id); ok {
		src.SetData(fc)
		if !known {
			st = c.track(id, cfg)
		}
	} else {
		cfg = cfg.withDefaults()
		err := c.surface.AddSource(id, mapsurface.SourceSpec{
			Data:           fc,
			Cluster:        true,
			ClusterRadius:  cfg.Radius,
			ClusterMaxZoom: cfg.MaxZoom,
		})
		if err != nil {
			return fmt.Errorf("failed to add source %s: %w", id, err)
		}
		st = c.track(id, cfg)
	}

	c.logger.Debug("source data replaced", "source", id, "features", len(fc.Features))
	if st.layersReady {
		c.ReconcileMarkers(id)
	}
	return nil
}

func (c *Controller) track(id string, cfg ClusterConfig) *sourceState {
	st := &sourceState{cfg: cfg.withDefaults(), markers: make(map[string]*markerEntry)}
	c.sources[id] = st
	return st
}

// EnsureLayers adds the cluster circle, count label and unclustered layers
// for source id if they are missing, subscribes the view handlers once and
// reconciles markers.
func (c *Controller) EnsureLayers(id string) error {
	st, ok := c.sources[id]
	if !ok {
		return fmt.Errorf("unknown source %s", id)
	}

	for _, l := range layersFor(id, st.cfg) {
		if c.surface.HasLayer(l.ID) {
			continue
		}
		if err := c.surface.AddLayer(l); err != nil {
			return fmt.Errorf("failed to add layer %s: %w", l.ID, err)
		}
	}

	if !st.layersReady {
		st.layersReady = true
		reconcile := func(mapsurface.Event) { c.ReconcileMarkers(id) }
		clusters := id + SuffixClusters
		st.subs = append(st.subs,
			c.surface.On(mapsurface.EventMoveEnd, reconcile),
			c.surface.On(mapsurface.EventZoomEnd, reconcile),
			c.surface.OnLayer(mapsurface.EventClick, clusters, func(e mapsurface.Event) {
				c.OnClusterClick(id, e.Point)
			}),
			c.surface.OnLayer(mapsurface.EventMouseEnter, clusters, func(mapsurface.Event) {
				c.surface.SetCursor("pointer")
			}),
			c.surface.OnLayer(mapsurface.EventMouseLeave, clusters, func(mapsurface.Event) {
				c.surface.SetCursor("")
			}),
		)
	}

	c.ReconcileMarkers(id)
	return nil
}

func layersFor(id string, cfg ClusterConfig) []mapsurface.Layer {
	band := func(light, medium, deep any) mapsurface.Step {
		return mapsurface.Step{
			Input: "point_count",
			Base:  light,
			Stops: []mapsurface.Stop{
				{Input: float64(cfg.MediumThreshold), Output: medium},
				{Input: float64(cfg.DeepThreshold), Output: deep},
			},
		}
	}

	return []mapsurface.Layer{
		{
			ID:     id + SuffixClusters,
			Type:   mapsurface.LayerCircle,
			Source: id,
			Filter: mapsurface.FilterClustered,
			Paint: map[string]any{
				"circle-color":        band(cfg.LightColor, cfg.MediumColor, cfg.DeepColor),
				"circle-radius":       band(18.0, 24.0, 32.0),
				"circle-stroke-color": band(cfg.MediumColor, cfg.DeepColor, cfg.DeepColor),
				"circle-stroke-width": 3.0,
				"circle-opacity":      0.85,
			},
		},
		{
			ID:     id + SuffixClusterCount,
			Type:   mapsurface.LayerSymbol,
			Source: id,
			Filter: mapsurface.FilterClustered,
			Layout: map[string]any{
				mapsurface.PropTextField: "{point_count_abbreviated}",
				"text-size":              12.0,
			},
			Paint: map[string]any{"text-color": "#ffffff"},
		},
		{
			// Only queried for rendered features; markers draw the points.
			ID:     id + SuffixUnclustered,
			Type:   mapsurface.LayerCircle,
			Source: id,
			Filter: mapsurface.FilterUnclustered,
			Paint: map[string]any{
				"circle-radius":  6.0,
				"circle-opacity": 0.0,
			},
		},
	}
}

// ReconcileMarkers makes the live marker set for source id equal the set of
// rendered unclustered features: new ids get a marker, present ids are moved
// in place and missing ids are removed.
func (c *Controller) ReconcileMarkers(id string) {
	st, ok := c.sources[id]
	if !ok || !st.layersReady || c.closed {
		return
	}

	rendered := c.surface.QueryRenderedFeatures(id + SuffixUnclustered)
	seen := make(map[string]struct{}, len(rendered))
	created := 0

	for _, f := range rendered {
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		key := FeatureKey(f)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if entry, exists := st.markers[key]; exists {
			entry.feature = f
			if entry.marker.LngLat() != p {
				entry.marker.SetLngLat(p)
			}
			continue
		}

		entry := &markerEntry{feature: f}
		entry.marker = c.surface.NewMarker(mapsurface.MarkerOptions{ID: key, LngLat: p, IconURL: c.markerURL})
		entry.marker.OnClick(func() {
			if c.onPointClick != nil {
				c.onPointClick(entry.feature)
			}
		})
		st.markers[key] = entry
		created++
	}

	removed := 0
	for key, entry := range st.markers {
		if _, ok := seen[key]; ok {
			continue
		}
		entry.marker.Remove()
		delete(st.markers, key)
		removed++
	}

	if created > 0 || removed > 0 {
		c.logger.Debug("markers reconciled",
			"source", id,
			"live", len(st.markers),
			"created", created,
			"removed", removed,
		)
	}
}

// OnClusterClick eases the view to the expansion zoom of the cluster under
// pt. Nothing happens when no cluster is there or its expansion zoom cannot
// be resolved.
func (c *Controller) OnClusterClick(id string, pt mapsurface.ScreenPoint) {
	feats := c.surface.QueryRenderedFeaturesAt(pt, id+SuffixClusters)
	if len(feats) == 0 {
		return
	}
	f := feats[0]
	clusterID, ok := intProperty(f.Properties["cluster_id"])
	if !ok {
		return
	}
	src, ok := c.surface.Source(id)
	if !ok {
		return
	}
	zoom, err := src.ClusterExpansionZoom(clusterID)
	if err != nil {
		c.logger.Debug("cluster expansion unresolved", "source", id, "cluster_id", clusterID, "error", err)
		return
	}
	center, ok := f.Geometry.(orb.Point)
	if !ok {
		return
	}
	c.surface.EaseTo(center, float64(zoom))
}

// MarkerIDs returns the keys of the live markers of source id, sorted.
func (c *Controller) MarkerIDs(id string) []string {
	st, ok := c.sources[id]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(st.markers))
	for key := range st.markers {
		ids = append(ids, key)
	}
	slices.Sort(ids)
	return ids
}

// Close removes every marker and subscription the controller created. The
// sources and layers stay with the surface.
func (c *Controller) Close() {
	if c.closed {
		return
	}
	c.closed = true
	for _, st := range c.sources {
		for _, s := range st.subs {
			s.Unsubscribe()
		}
		st.subs = nil
		for key, entry := range st.markers {
			entry.marker.Remove()
			delete(st.markers, key)
		}
	}
}

// FeatureKey returns the registry key of a feature: its id, its id
// property, or its coordinates when it has neither.
func FeatureKey(f *geojson.Feature) string {
	id := f.ID
	if id == nil {
		// Rendered features lose non-numeric ids unless the source promotes them.
		id = f.Properties["id"]
	}
	switch v := id.(type) {
	case nil:
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
	if p, ok := f.Geometry.(orb.Point); ok {
		return fmt.Sprintf("pt:%.6f,%.6f", p.Lon(), p.Lat())
	}
	return fmt.Sprintf("%p", f)
}

func intProperty(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
