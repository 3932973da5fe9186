// Package server exposes the fixture store over the HTTP contract the map
// layers consume: organization rows, viewport-scoped polygon and marker
// feature collections, and named reference layers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/osem/internal/features"
	"github.com/MeKo-Tech/osem/internal/metrics"
	"github.com/MeKo-Tech/osem/internal/store"
	"github.com/MeKo-Tech/osem/internal/types"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus"
)

// DataStore is the subset of the fixture store the API reads from.
type DataStore interface {
	Organizations(ctx context.Context, limit int) ([]store.Organization, error)
	PolygonsInBounds(ctx context.Context, bbox types.BoundingBox, limit int) ([]store.Polygon, error)
	LayerData(ctx context.Context, name string) ([]byte, error)
	Layers(ctx context.Context) ([]store.LayerInfo, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// Config configures the fixture API.
type Config struct {
	Store DataStore
	// Metrics records per-route request counters; nil disables them.
	Metrics *metrics.Server
	// Gatherer backs /metrics; nil leaves the route unregistered.
	Gatherer     prometheus.Gatherer
	Logger       *slog.Logger
	CacheControl string
	// MaxFeatures caps viewport responses when the request has no limit.
	MaxFeatures int
	// Latency delays every data response, for exercising out-of-order fetches.
	Latency time.Duration
}

// DefaultMaxFeatures caps viewport responses without an explicit limit.
const DefaultMaxFeatures = 5000

// API serves the fixture data.
type API struct {
	cfg     Config
	logger  *slog.Logger
	builder features.Builder
	started time.Time
}

// New creates the fixture API.
func New(cfg Config) (*API, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.CacheControl == "" {
		cfg.CacheControl = "no-store"
	}
	if cfg.MaxFeatures <= 0 {
		cfg.MaxFeatures = DefaultMaxFeatures
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "fixture-api")

	return &API{
		cfg:     cfg,
		logger:  logger,
		builder: features.Builder{Logger: logger},
		started: time.Now(),
	}, nil
}

// Handler returns the routed API with CORS applied.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	a.route(mux, "GET /status", "status", a.serveStatus)
	a.route(mux, "GET /organizations", "organizations", a.serveOrganizations)
	a.route(mux, "GET /polygons", "polygons", a.servePolygons)
	a.route(mux, "GET /markers", "markers", a.serveMarkers)
	a.route(mux, "GET /layers", "layers", a.serveLayerIndex)
	a.route(mux, "GET /layers/{name}", "layer", a.serveLayer)

	if a.cfg.Gatherer != nil {
		mux.Handle("GET /metrics", metrics.Handler(a.cfg.Gatherer))
	}

	return withCORS(mux)
}

func (a *API) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	var handler http.Handler = h
	if a.cfg.Metrics != nil {
		handler = a.cfg.Metrics.Middleware(name, handler)
	}
	mux.Handle(pattern, handler)
}

// Status summarizes the store contents and uptime.
type Status struct {
	Organizations int     `json:"organizations"`
	Polygons      int     `json:"polygons"`
	Layers        int     `json:"layers"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

func (a *API) serveStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.cfg.Store.Stats(r.Context())
	if err != nil {
		a.fail(w, r, "failed to read store stats", err)
		return
	}
	a.writeJSON(w, Status{
		Organizations: st.Organizations,
		Polygons:      st.Polygons,
		Layers:        st.Layers,
		UptimeSeconds: time.Since(a.started).Seconds(),
	})
}

func (a *API) serveOrganizations(w http.ResponseWriter, r *http.Request) {
	a.delay(r.Context())

	orgs, err := a.cfg.Store.Organizations(r.Context(), 0)
	if err != nil {
		a.fail(w, r, "failed to list organizations", err)
		return
	}

	rows := make([]features.Record, 0, len(orgs))
	for _, o := range orgs {
		rows = append(rows, o.Record())
	}
	a.served("organizations", len(rows))
	a.writeJSON(w, map[string]any{"organizations": rows})
}

func (a *API) servePolygons(w http.ResponseWriter, r *http.Request) {
	a.serveViewport(w, r, "polygons", features.ProjectPolygons)
}

func (a *API) serveMarkers(w http.ResponseWriter, r *http.Request) {
	a.serveViewport(w, r, "markers", features.PolygonCentroids)
}

// serveViewport answers a viewport query with the polygons intersecting the
// requested bounds, mapped through fm.
func (a *API) serveViewport(w http.ResponseWriter, r *http.Request, route string, fm features.FieldMap) {
	view, limit, err := types.ParseFetchQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if limit <= 0 || limit > a.cfg.MaxFeatures {
		limit = a.cfg.MaxFeatures
	}

	a.delay(r.Context())

	polys, err := a.cfg.Store.PolygonsInBounds(r.Context(), view.Bounds, limit)
	if err != nil {
		a.fail(w, r, "failed to query polygons", err)
		return
	}

	records := make([]features.Record, 0, len(polys))
	for _, p := range polys {
		rec, err := p.Record()
		if err != nil {
			a.logger.Warn("skipping polygon", "id", p.ID, "error", err)
			continue
		}
		records = append(records, rec)
	}

	fc := a.builder.Build(records, fm)
	a.logger.Debug("viewport query",
		"route", route,
		"bounds", view.Bounds.String(),
		"zoom", view.Zoom,
		"features", len(fc.Features),
	)
	a.served(route, len(fc.Features))
	a.writeFeatureCollection(w, fc)
}

// LayerIndex lists the reference layers.
type LayerIndex struct {
	Layers []store.LayerInfo `json:"layers"`
}

func (a *API) serveLayerIndex(w http.ResponseWriter, r *http.Request) {
	layers, err := a.cfg.Store.Layers(r.Context())
	if err != nil {
		a.fail(w, r, "failed to list layers", err)
		return
	}
	if layers == nil {
		layers = []store.LayerInfo{}
	}
	a.writeJSON(w, LayerIndex{Layers: layers})
}

func (a *API) serveLayer(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	a.delay(r.Context())

	data, err := a.cfg.Store.LayerData(r.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "layer not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.fail(w, r, "failed to read layer", err)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Cache-Control", a.cfg.CacheControl)
	if _, err := w.Write(data); err != nil {
		a.logger.Error("failed to write response", "error", err)
	}
}

func (a *API) writeFeatureCollection(w http.ResponseWriter, fc *geojson.FeatureCollection) {
	data, err := fc.MarshalJSON()
	if err != nil {
		a.logger.Error("failed to encode feature collection", "error", err)
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Cache-Control", a.cfg.CacheControl)
	if _, err := w.Write(data); err != nil {
		a.logger.Error("failed to write response", "error", err)
	}
}

func (a *API) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", a.cfg.CacheControl)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	a.logger.Error(msg, "path", r.URL.Path, "error", err)
	http.Error(w, msg, http.StatusInternalServerError)
}

func (a *API) served(route string, n int) {
	if a.cfg.Metrics != nil {
		a.cfg.Metrics.FeaturesServed.WithLabelValues(route).Add(float64(n))
	}
}

func (a *API) delay(ctx context.Context) {
	if a.cfg.Latency <= 0 {
		return
	}
	t := time.NewTimer(a.cfg.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
