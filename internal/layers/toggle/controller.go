// Package toggle manages user-switchable reference layers. Each layer is a
// fill and outline pair over one GeoJSON source that is fetched the first
// time the layer is shown and kept for the rest of the session.
package toggle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/MeKo-Tech/osem/internal/eventloop"
	"github.com/MeKo-Tech/osem/internal/mapsurface"
	"github.com/paulmach/orb/geojson"
)

// ErrUnknownLayer is returned for layer ids that are not in the catalog.
var ErrUnknownLayer = errors.New("unknown toggle layer")

// State is the load state of a layer.
type State int

const (
	Unloaded State = iota
	Loading
	Loaded
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Fetcher loads a feature collection from a data API path.
type Fetcher interface {
	FeatureCollection(ctx context.Context, path string, query url.Values) (*geojson.FeatureCollection, error)
}

// Config configures a Controller.
type Config struct {
	Surface    mapsurface.Surface
	Dispatcher eventloop.Dispatcher
	Fetcher    Fetcher
	Logger     *slog.Logger
	Layers     []Layer

	// OnAlert receives a user-facing message when a layer fails to load.
	OnAlert func(msg string)
	// OnChange reports visibility the controller decided on its own, such as
	// the revert after a failed load, so the UI control can follow.
	OnChange func(id string, visible bool)
	// OnFeatureSelect receives the properties of a clicked fill feature.
	OnFeatureSelect func(props map[string]any)
}

type entry struct {
	def     Layer
	state   State
	visible bool // requested visibility
}

// Controller owns the toggle layers of one surface.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	layers  map[string]*entry
	order   []string
	subs    []mapsurface.Subscription
	fetches map[string]int
	closed  bool
}

// New creates a controller for the catalog in cfg.Layers. Call Start to
// install the outline mirror.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		cfg:     cfg,
		logger:  logger.With("component", "toggle"),
		layers:  make(map[string]*entry, len(cfg.Layers)),
		fetches: make(map[string]int),
	}
	for _, l := range cfg.Layers {
		l = l.withDefaults()
		if _, dup := c.layers[l.ID]; dup {
			c.logger.Warn("duplicate toggle layer ignored", "layer", l.ID)
			continue
		}
		c.layers[l.ID] = &entry{def: l}
		c.order = append(c.order, l.ID)
	}
	return c
}

// Start subscribes the outline mirror to style data changes.
func (c *Controller) Start() {
	if len(c.subs) > 0 || c.closed {
		return
	}
	c.subs = append(c.subs, c.cfg.Surface.On(mapsurface.EventStyleData, func(mapsurface.Event) {
		c.mirrorOutlines()
	}))
}

// Layers returns the catalog in order.
func (c *Controller) Layers() []Layer {
	out := make([]Layer, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.layers[id].def)
	}
	return out
}

// State returns the load state of a layer.
func (c *Controller) State(id string) (State, error) {
	e, ok := c.layers[id]
	if !ok {
		return Unloaded, fmt.Errorf("%w: %s", ErrUnknownLayer, id)
	}
	return e.state, nil
}

// Visible reports the requested visibility of a layer.
func (c *Controller) Visible(id string) bool {
	e, ok := c.layers[id]
	return ok && e.visible
}

// Fetches returns how many times a layer's data was requested.
func (c *Controller) Fetches(id string) int { return c.fetches[id] }

// SetVisible shows or hides a layer. The first show fetches the data; calls
// while that fetch is in flight only update the requested visibility, which
// is applied when the data lands. Hiding never unloads data.
func (c *Controller) SetVisible(id string, visible bool) error {
	e, ok := c.layers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLayer, id)
	}
	if c.closed {
		return nil
	}
	e.visible = visible

	switch e.state {
	case Loaded:
		return c.applyVisibility(e)
	case Loading:
		c.logger.Debug("load in flight, request coalesced", "layer", id, "visible", visible)
		return nil
	}

	if !visible {
		return nil
	}
	c.load(e)
	return nil
}

func (c *Controller) load(e *entry) {
	e.state = Loading
	c.fetches[e.def.ID]++
	c.logger.Info("loading toggle layer", "layer", e.def.ID, "path", e.def.DataPath)

	path := e.def.DataPath
	c.cfg.Dispatcher.Go(func(ctx context.Context) func() {
		fc, err := c.cfg.Fetcher.FeatureCollection(ctx, path, nil)
		return func() { c.loaded(e, fc, err) }
	})
}

func (c *Controller) loaded(e *entry, fc *geojson.FeatureCollection, err error) {
	if c.closed {
		return
	}
	if err == nil {
		err = c.addLayers(e, fc)
	}
	if err != nil {
		c.fail(e, err)
		return
	}

	e.state = Loaded
	c.logger.Info("toggle layer loaded", "layer", e.def.ID, "features", len(fc.Features))
	if err := c.applyVisibility(e); err != nil {
		c.logger.Error("failed to apply visibility", "layer", e.def.ID, "error", err)
	}
}

func (c *Controller) fail(e *entry, err error) {
	e.state = Unloaded
	e.visible = false
	c.logger.Error("failed to load toggle layer", "layer", e.def.ID, "error", err)
	if c.cfg.OnAlert != nil {
		c.cfg.OnAlert(fmt.Sprintf("Could not load layer %q. Please try again.", e.def.Name))
	}
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(e.def.ID, false)
	}
}

func (c *Controller) addLayers(e *entry, fc *geojson.FeatureCollection) error {
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}
	def := e.def
	if src, ok := c.cfg.Surface.Source(def.ID); ok {
		src.SetData(fc)
	} else if err := c.cfg.Surface.AddSource(def.ID, mapsurface.SourceSpec{Data: fc}); err != nil {
		return fmt.Errorf("failed to add source: %w", err)
	}

	hidden := map[string]any{mapsurface.PropVisibility: mapsurface.VisibilityOff}
	layers := []mapsurface.Layer{
		{
			ID:     def.FillLayerID(),
			Type:   mapsurface.LayerFill,
			Source: def.ID,
			Layout: hidden,
			Paint: map[string]any{
				"fill-color":   def.FillColor,
				"fill-opacity": def.Opacity,
			},
		},
		{
			ID:     def.OutlineLayerID(),
			Type:   mapsurface.LayerLine,
			Source: def.ID,
			Layout: map[string]any{mapsurface.PropVisibility: mapsurface.VisibilityOff},
			Paint: map[string]any{
				"line-color": def.OutlineColor,
				"line-width": def.OutlineWidth,
			},
		},
	}
	for _, l := range layers {
		if c.cfg.Surface.HasLayer(l.ID) {
			continue
		}
		if err := c.cfg.Surface.AddLayer(l); err != nil {
			return fmt.Errorf("failed to add layer %s: %w", l.ID, err)
		}
	}

	c.subs = append(c.subs, c.cfg.Surface.OnLayer(mapsurface.EventClick, def.FillLayerID(), func(ev mapsurface.Event) {
		if len(ev.Features) == 0 || c.cfg.OnFeatureSelect == nil {
			return
		}
		c.cfg.OnFeatureSelect(def.selectProperties(ev.Features[0]))
	}))
	return nil
}

func (c *Controller) applyVisibility(e *entry) error {
	v := mapsurface.VisibilityValue(e.visible)
	if err := c.cfg.Surface.SetLayoutProperty(e.def.FillLayerID(), mapsurface.PropVisibility, v); err != nil {
		return fmt.Errorf("failed to set fill visibility: %w", err)
	}
	if err := c.cfg.Surface.SetLayoutProperty(e.def.OutlineLayerID(), mapsurface.PropVisibility, v); err != nil {
		return fmt.Errorf("failed to set outline visibility: %w", err)
	}
	return nil
}

// mirrorOutlines copies each loaded fill's visibility to its outline. It
// runs on every style data change, so outlines follow fills however the
// fill visibility was changed.
func (c *Controller) mirrorOutlines() {
	for _, id := range c.order {
		e := c.layers[id]
		if e.state != Loaded {
			continue
		}
		fill := mapsurface.IsVisible(c.cfg.Surface.LayoutProperty(e.def.FillLayerID(), mapsurface.PropVisibility))
		outline := mapsurface.IsVisible(c.cfg.Surface.LayoutProperty(e.def.OutlineLayerID(), mapsurface.PropVisibility))
		if fill == outline {
			continue
		}
		if err := c.cfg.Surface.SetLayoutProperty(e.def.OutlineLayerID(), mapsurface.PropVisibility, mapsurface.VisibilityValue(fill)); err != nil {
			c.logger.Warn("failed to mirror outline visibility", "layer", id, "error", err)
		}
	}
}

// Close drops the controller's subscriptions. Loads in flight are discarded
// when they land.
func (c *Controller) Close() {
	if c.closed {
		return
	}
	c.closed = true
	for _, s := range c.subs {
		s.Unsubscribe()
	}
	c.subs = nil
}
