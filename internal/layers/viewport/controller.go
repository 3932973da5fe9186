// Package viewport keeps a clustered layer filled with data for the area the
// map currently shows, refetching after every viewport settle.
package viewport

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/MeKo-Tech/osem/internal/eventloop"
	"github.com/MeKo-Tech/osem/internal/features"
	"github.com/MeKo-Tech/osem/internal/layers/clusterlayer"
	"github.com/MeKo-Tech/osem/internal/mapsurface"
	"github.com/MeKo-Tech/osem/internal/types"
	"github.com/paulmach/orb/geojson"
)

// DefaultMinZoom is the zoom below which no fetch is issued.
const DefaultMinZoom = 8.0

// State is the fetch state of a controller.
type State int

const (
	Idle State = iota
	Fetching
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	default:
		return "unknown"
	}
}

// Fetcher loads a feature collection from a data API path.
type Fetcher interface {
	FeatureCollection(ctx context.Context, path string, query url.Values) (*geojson.FeatureCollection, error)
}

// Sink receives fetched data. *clusterlayer.Controller implements it.
type Sink interface {
	UpsertSource(id string, fc *geojson.FeatureCollection, cfg clusterlayer.ClusterConfig) error
	EnsureLayers(id string) error
}

// Config configures a Controller.
type Config struct {
	Surface    mapsurface.Surface
	Dispatcher eventloop.Dispatcher
	Fetcher    Fetcher
	Sink       Sink
	Logger     *slog.Logger

	SourceID string
	Path     string
	// MinZoom is the fetch threshold; zero means DefaultMinZoom.
	MinZoom float64
	// Limit is passed as the limit query parameter when positive.
	Limit   int
	Cluster clusterlayer.ClusterConfig

	// Properties is the allow-list kept on fetched features besides the id.
	Properties []string

	// WriteQuery, when set, receives the viewport as URL query parameters
	// after every settle.
	WriteQuery func(q url.Values)
}

// Controller fetches viewport-scoped data for one source.
type Controller struct {
	cfg     Config
	logger  *slog.Logger
	builder features.Builder

	subs     []mapsurface.Subscription
	inFlight int
	fetches  int
	applied  int

	lastKey   string
	lastEvent mapsurface.EventType
	closed    bool
}

// New creates a controller. Call Start to subscribe it to the surface.
func New(cfg Config) *Controller {
	if cfg.MinZoom <= 0 {
		cfg.MinZoom = DefaultMinZoom
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "viewport", "source", cfg.SourceID)
	return &Controller{
		cfg:     cfg,
		logger:  logger,
		builder: features.Builder{Logger: logger},
	}
}

// Start subscribes to viewport settle events.
func (c *Controller) Start() {
	if len(c.subs) > 0 || c.closed {
		return
	}
	c.subs = append(c.subs,
		c.cfg.Surface.On(mapsurface.EventMoveEnd, c.onSettle),
		c.cfg.Surface.On(mapsurface.EventZoomEnd, c.onSettle),
	)
}

// State returns Fetching while at least one request is outstanding.
func (c *Controller) State() State {
	if c.inFlight > 0 {
		return Fetching
	}
	return Idle
}

// Fetches returns the number of requests issued.
func (c *Controller) Fetches() int { return c.fetches }

// Applied returns the number of responses written to the sink.
func (c *Controller) Applied() int { return c.applied }

// Refresh evaluates the current viewport as if it had just settled.
func (c *Controller) Refresh() {
	c.settle(c.cfg.Surface.Viewport())
}

func (c *Controller) onSettle(e mapsurface.Event) {
	vp := c.cfg.Surface.Viewport()

	// moveend and zoomend arrive as a pair for one gesture.
	key := vp.FetchQuery(c.cfg.Limit).Encode()
	if key == c.lastKey && e.Type != c.lastEvent {
		c.lastKey = ""
		return
	}
	c.lastKey, c.lastEvent = key, e.Type

	c.settle(vp)
}

func (c *Controller) settle(vp types.ViewportState) {
	if c.closed {
		return
	}
	if c.cfg.WriteQuery != nil {
		c.cfg.WriteQuery(URLQuery(vp))
	}

	if vp.Zoom < c.cfg.MinZoom {
		c.logger.Debug("below fetch threshold", "zoom", vp.Zoom, "min_zoom", c.cfg.MinZoom)
		return
	}

	query := vp.FetchQuery(c.cfg.Limit)
	c.fetches++
	c.inFlight++
	c.logger.Debug("fetching viewport", "bbox", vp.Bounds.String(), "zoom", vp.Zoom)

	c.cfg.Dispatcher.Go(func(ctx context.Context) func() {
		fc, err := c.cfg.Fetcher.FeatureCollection(ctx, c.cfg.Path, query)
		return func() { c.resolve(fc, err) }
	})
}

// resolve applies a response. Responses are applied in arrival order, so
// the last one to resolve wins.
func (c *Controller) resolve(fc *geojson.FeatureCollection, err error) {
	c.inFlight--
	if c.closed {
		return
	}
	if err != nil {
		c.logger.Warn("viewport fetch failed, keeping previous data", "error", err)
		return
	}
	if err := c.apply(fc); err != nil {
		c.logger.Error("failed to apply viewport data", "error", err)
		return
	}
	c.applied++
}

func (c *Controller) apply(fc *geojson.FeatureCollection) error {
	fc = c.builder.Restrict(fc, c.cfg.Properties)
	if err := c.cfg.Sink.UpsertSource(c.cfg.SourceID, fc, c.cfg.Cluster); err != nil {
		return fmt.Errorf("failed to upsert source: %w", err)
	}
	if err := c.cfg.Sink.EnsureLayers(c.cfg.SourceID); err != nil {
		return fmt.Errorf("failed to ensure layers: %w", err)
	}
	return nil
}

// Close unsubscribes the controller. Responses still in flight are dropped.
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

// URLQuery returns the viewport as page URL query parameters: lat and lng
// with five decimals, zoom with two.
func URLQuery(vp types.ViewportState) url.Values {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(vp.Center.Lat(), 'f', 5, 64))
	q.Set("lng", strconv.FormatFloat(vp.Center.Lon(), 'f', 5, 64))
	q.Set("zoom", strconv.FormatFloat(vp.Zoom, 'f', 2, 64))
	return q
}
