// Package session composes a map surface with the cluster, viewport and
// toggle layer controllers into one interactive map session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/MeKo-Tech/osem/internal/datasource"
	"github.com/MeKo-Tech/osem/internal/eventloop"
	"github.com/MeKo-Tech/osem/internal/features"
	"github.com/MeKo-Tech/osem/internal/layers/clusterlayer"
	"github.com/MeKo-Tech/osem/internal/layers/toggle"
	"github.com/MeKo-Tech/osem/internal/layers/viewport"
	"github.com/MeKo-Tech/osem/internal/mapsurface"
	"github.com/MeKo-Tech/osem/internal/metrics"
	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
)

// Source ids of the session's pin layers.
const (
	OrgPinsSource  = "org-pins"
	ViewportSource = "hero-markers"
)

// DefaultRotationInterval is how often the globe rotation advances.
const DefaultRotationInterval = time.Second

var (
	// ErrMissingAccessToken is returned when no map access token is configured.
	ErrMissingAccessToken = errors.New("map access token is required")
	// ErrMissingAPIBaseURL is returned when a data feature is enabled without an API.
	ErrMissingAPIBaseURL = errors.New("API base URL is required for data layers")
)

// DataClient fetches data API payloads. *datasource.Client implements it.
type DataClient interface {
	FeatureCollection(ctx context.Context, path string, query url.Values) (*geojson.FeatureCollection, error)
	Rows(ctx context.Context, path string, query url.Values) ([]features.Record, error)
}

// Deps are the collaborators of a session.
type Deps struct {
	Factory    mapsurface.Factory
	Dispatcher eventloop.Dispatcher
	// Client is used for data requests. When nil and Options.APIBaseURL is
	// set, a datasource.Client is created.
	Client DataClient
	// URL backs hash and query sync; nil disables both.
	URL     URLState
	Logger  *slog.Logger
	Metrics *metrics.Client
	// RotationInterval sets the rotation tick; negative disables the ticker
	// so rotation only advances through Rotator().Tick.
	RotationInterval time.Duration
}

// Teardown ends a session.
type Teardown func()

// Session is one live map with its controllers. All methods must be called
// on the session's event loop.
type Session struct {
	id      string
	opts    Options
	deps    Deps
	logger  *slog.Logger
	client  DataClient
	builder features.Builder

	surface  mapsurface.Surface
	clusters *clusterlayer.Controller
	viewport *viewport.Controller
	polygons *viewport.Controller
	polyLyr  *polygonLayer
	toggles  *toggle.Controller
	rotator  *Rotator

	owned       map[string]bool
	subs        []mapsurface.Subscription
	interacting bool
	stopTicker  context.CancelFunc
	closed      bool
}

// Initialize creates a session in container and returns its teardown. On a
// configuration error nothing is created and the teardown is a no-op.
func Initialize(container string, opts Options, deps Deps) (Teardown, error) {
	s, err := New(container, opts, deps)
	if err != nil {
		return func() {}, err
	}
	return s.Teardown, nil
}

// New is Initialize returning the session itself.
func New(container string, opts Options, deps Deps) (*Session, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	logger = logger.With("session", id)

	opts = opts.withDefaults()
	client, err := validate(opts, &deps, logger)
	if err != nil {
		logger.Error("map session not initialized", "error", err)
		return nil, err
	}

	cfg := mapsurface.Config{
		Container:   container,
		AccessToken: opts.AccessToken,
		Style:       opts.Style,
		Center:      *opts.InitialCenter,
		Zoom:        opts.InitialZoom,
		Globe:       opts.GlobeProjection,
		ScrollZoom:  *opts.ScrollZoom,
	}
	if opts.EnableHash && deps.URL != nil {
		if zoom, center, ok := ParseHash(deps.URL.Hash()); ok {
			cfg.Zoom, cfg.Center = zoom, center
		}
	}

	surface, err := deps.Factory.New(cfg)
	if err != nil {
		logger.Error("failed to create map", "error", err)
		return nil, fmt.Errorf("failed to create map: %w", err)
	}

	s := &Session{
		id:      id,
		opts:    opts,
		deps:    deps,
		logger:  logger,
		client:  client,
		builder: features.Builder{Logger: logger},
		surface: surface,
		owned:   map[string]bool{OrgPinsSource: true, ViewportSource: true, PolygonSource: true},
	}
	s.wire()
	logger.Info("map session initialized",
		"container", container,
		"zoom", cfg.Zoom,
		"markers", opts.LoadMarkers,
		"viewport_layer", opts.ViewportPath != "",
		"toggle_layers", len(opts.ToggleLayers),
	)
	return s, nil
}

func validate(opts Options, deps *Deps, logger *slog.Logger) (DataClient, error) {
	if opts.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}
	if deps.Factory == nil {
		return nil, errors.New("map factory is required")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if !opts.needsAPI() || deps.Client != nil {
		return deps.Client, nil
	}
	if opts.APIBaseURL == "" {
		return nil, ErrMissingAPIBaseURL
	}
	c, err := datasource.NewClient(datasource.ClientConfig{
		BaseURL: opts.APIBaseURL,
		Metrics: deps.Metrics,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	return c, nil
}

func (s *Session) wire() {
	o := s.opts
	d := s.deps

	s.clusters = clusterlayer.New(clusterlayer.Config{
		Surface:      s.surface,
		Logger:       s.logger,
		MarkerURL:    o.MarkerURL,
		OnPointClick: s.selectFeature,
	})

	if o.ViewportPath != "" {
		cfg := viewport.Config{
			Surface:    s.surface,
			Dispatcher: d.Dispatcher,
			Fetcher:    s.client,
			Sink:       s.clusters,
			Logger:     s.logger,
			SourceID:   ViewportSource,
			Path:       o.ViewportPath,
			MinZoom:    o.MinFetchZoom,
			Limit:      o.FetchLimit,
			Properties: o.ViewportProperties,
		}
		if d.URL != nil {
			cfg.WriteQuery = d.URL.SetQuery
		}
		s.viewport = viewport.New(cfg)
		s.viewport.Start()
	}

	if o.PolygonsPath != "" {
		s.polyLyr = &polygonLayer{surface: s.surface, onClick: s.selectFeature}
		s.polygons = viewport.New(viewport.Config{
			Surface:    s.surface,
			Dispatcher: d.Dispatcher,
			Fetcher:    s.client,
			Sink:       s.polyLyr,
			Logger:     s.logger,
			SourceID:   PolygonSource,
			Path:       o.PolygonsPath,
			MinZoom:    o.MinFetchZoom,
			Limit:      o.FetchLimit,
			Properties: o.PolygonProperties,
		})
		s.polygons.Start()
	}

	s.toggles = toggle.New(toggle.Config{
		Surface:         s.surface,
		Dispatcher:      d.Dispatcher,
		Fetcher:         s.client,
		Logger:          s.logger,
		Layers:          o.ToggleLayers,
		OnAlert:         o.OnAlert,
		OnChange:        o.OnToggleChange,
		OnFeatureSelect: o.OnFeatureSelect,
	})
	for _, l := range s.toggles.Layers() {
		s.owned[l.ID] = true
	}
	s.toggles.Start()

	s.rotator = NewRotator(s.surface, o.AutoRotate, o.RotationSpeed, o.StopRotatingZoom)

	s.addControls()

	s.on(mapsurface.EventStyleLoad, func(mapsurface.Event) { s.applyCosmetics() })
	s.on(mapsurface.EventLoad, func(mapsurface.Event) { s.onLoad() })
	s.on(mapsurface.EventMoveEnd, func(mapsurface.Event) { s.writeHash() })
	for _, ev := range []mapsurface.EventType{mapsurface.EventMouseDown, mapsurface.EventDragStart, mapsurface.EventTouchStart} {
		s.on(ev, func(mapsurface.Event) { s.interactionStart() })
	}
	for _, ev := range []mapsurface.EventType{mapsurface.EventMouseUp, mapsurface.EventDragEnd, mapsurface.EventTouchEnd} {
		s.on(ev, func(mapsurface.Event) { s.interactionEnd() })
	}
}

func (s *Session) on(ev mapsurface.EventType, h mapsurface.Handler) {
	s.subs = append(s.subs, s.surface.On(ev, h))
}

func (s *Session) addControls() {
	o := s.opts
	controls := []struct {
		enabled bool
		control mapsurface.Control
	}{
		{o.ShowNavigation, mapsurface.ControlNavigation},
		{o.ShowStyleControl, mapsurface.ControlStyleSwitcher},
		{o.ShowGeoToggle, mapsurface.ControlGeoToggle},
		{o.ShowDrawTools, mapsurface.ControlDraw},
		{o.Compact, mapsurface.ControlCompactAttribution},
	}
	for _, c := range controls {
		if !c.enabled {
			continue
		}
		if err := s.surface.AddControl(c.control); err != nil {
			s.logger.Warn("failed to add control", "control", string(c.control), "error", err)
		}
	}
}

func (s *Session) onLoad() {
	if s.closed {
		return
	}
	if s.opts.LoadMarkers {
		s.loadOrganizations()
	}
	if s.viewport != nil {
		s.viewport.Refresh()
	}
	if s.polygons != nil {
		s.polygons.Refresh()
	}
	s.startRotation()
}

func (s *Session) loadOrganizations() {
	path := s.opts.OrganizationsPath
	s.deps.Dispatcher.Go(func(ctx context.Context) func() {
		rows, err := s.client.Rows(ctx, path, nil)
		return func() {
			if s.closed {
				return
			}
			if err != nil {
				s.logger.Warn("failed to load organization pins", "error", err)
				return
			}
			fc := s.builder.Build(rows, features.OrganizationPins)
			if err := s.clusters.UpsertSource(OrgPinsSource, fc, clusterlayer.ClusterConfig{}); err != nil {
				s.logger.Error("failed to add organization pins", "error", err)
				return
			}
			if err := s.clusters.EnsureLayers(OrgPinsSource); err != nil {
				s.logger.Error("failed to add organization layers", "error", err)
				return
			}
			s.logger.Info("organization pins loaded", "rows", len(rows), "pins", len(fc.Features))
		}
	})
}

func (s *Session) startRotation() {
	if s.rotator.State() != Rotating || s.stopTicker != nil || s.deps.RotationInterval < 0 {
		return
	}
	interval := s.deps.RotationInterval
	if interval == 0 {
		interval = DefaultRotationInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopTicker = cancel

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		last := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				dt := now.Sub(last)
				last = now
				s.deps.Dispatcher.Post(func() {
					if !s.closed {
						s.rotator.Tick(dt)
					}
				})
			}
		}
	}()
}

// writeHash mirrors the view into the URL hash. On a globe, only views at
// or above the rotation stop zoom are written, so the spin does not rewrite
// the hash every tick. Flat maps write every settled view.
func (s *Session) writeHash() {
	if !s.opts.EnableHash || s.deps.URL == nil || s.closed {
		return
	}
	zoom := s.surface.Zoom()
	if (s.opts.GlobeProjection || s.opts.AutoRotate) && zoom < s.opts.StopRotatingZoom {
		return
	}
	s.deps.URL.SetHash(FormatHash(zoom, s.surface.Center()))
}

func (s *Session) interactionStart() {
	if s.interacting {
		return
	}
	s.interacting = true
	s.rotator.InteractionStart()
	if s.opts.OnUserInteractionStart != nil {
		s.opts.OnUserInteractionStart()
	}
}

func (s *Session) interactionEnd() {
	if !s.interacting {
		return
	}
	s.interacting = false
	s.rotator.InteractionEnd()
	if s.opts.OnUserInteractionEnd != nil {
		s.opts.OnUserInteractionEnd()
	}
}

func (s *Session) selectFeature(f *geojson.Feature) {
	if s.opts.OnFeatureSelect == nil || f == nil {
		return
	}
	props := make(map[string]any, len(f.Properties))
	for k, v := range f.Properties {
		props[k] = v
	}
	s.opts.OnFeatureSelect(props)
}

// ID returns the session id used in logs.
func (s *Session) ID() string { return s.id }

// Surface returns the session's map.
func (s *Session) Surface() mapsurface.Surface { return s.surface }

// Clusters returns the cluster layer controller.
func (s *Session) Clusters() *clusterlayer.Controller { return s.clusters }

// Viewport returns the viewport controller, or nil when no viewport layer is configured.
func (s *Session) Viewport() *viewport.Controller { return s.viewport }

// Polygons returns the viewport polygon controller, or nil when no polygon
// layer is configured.
func (s *Session) Polygons() *viewport.Controller { return s.polygons }

// Rotator returns the globe rotation state machine.
func (s *Session) Rotator() *Rotator { return s.rotator }

// SetLayerVisible shows or hides a toggle layer.
func (s *Session) SetLayerVisible(id string, visible bool) error {
	return s.toggles.SetVisible(id, visible)
}

// Toggles returns the toggle layer controller.
func (s *Session) Toggles() *toggle.Controller { return s.toggles }

// ToggleLayers returns the toggle layer catalog.
func (s *Session) ToggleLayers() []toggle.Layer { return s.toggles.Layers() }

// Teardown removes the map and every subscription. Calling it again is a no-op.
func (s *Session) Teardown() {
	if s.closed {
		return
	}
	s.closed = true
	if s.stopTicker != nil {
		s.stopTicker()
	}
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	if s.viewport != nil {
		s.viewport.Close()
	}
	if s.polygons != nil {
		s.polygons.Close()
		s.polyLyr.Close()
	}
	s.toggles.Close()
	s.clusters.Close()
	s.surface.Remove()
	s.logger.Info("map session torn down")
}
