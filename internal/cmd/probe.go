package cmd

import (
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/osem/internal/datasource"
	"github.com/MeKo-Tech/osem/internal/eventloop"
	"github.com/MeKo-Tech/osem/internal/layers/toggle"
	"github.com/MeKo-Tech/osem/internal/mapsurface/headless"
	"github.com/MeKo-Tech/osem/internal/metrics"
	"github.com/MeKo-Tech/osem/internal/projection"
	"github.com/MeKo-Tech/osem/internal/session"
	"github.com/MeKo-Tech/osem/internal/snapshot"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run a headless map session against a data API",
	Long: `Start a headless map session against a data API, wait until every
layer has settled and report what the map would show: organization pins,
rendered clusters, viewport features and toggle layer states.

Use --bbox to fit the view to an area instead of --center/--zoom, and
--snapshot to write a PNG of the rendered layers.`,
	Example: `  osem probe --api http://localhost:8080 --viewport-path /markers --bbox 9.7,51.5,11.0,52.0
  osem probe --catalog assets/demo/layers.yaml --enable protected-areas --snapshot probe.png`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().String("api", "http://127.0.0.1:8080", "Data API base URL")
	probeCmd.Flags().String("token", "headless", "Map access token passed to the session")
	probeCmd.Flags().String("center", "10,20", "Initial center as lon,lat")
	probeCmd.Flags().Float64("zoom", 1.5, "Initial zoom")
	probeCmd.Flags().String("bbox", "", "Fit the view to minLon,minLat,maxLon,maxLat (overrides --center/--zoom)")
	probeCmd.Flags().Int("width", 1024, "Map width in pixels")
	probeCmd.Flags().Int("height", 768, "Map height in pixels")
	probeCmd.Flags().Bool("markers", true, "Load organization pins")
	probeCmd.Flags().String("viewport-path", "", "Feature endpoint for the viewport layer (empty disables it)")
	probeCmd.Flags().String("polygons-path", "", "Feature endpoint for the viewport polygon layer (empty disables it)")
	probeCmd.Flags().Float64("min-fetch-zoom", 0, "Viewport fetch threshold (default 8)")
	probeCmd.Flags().String("catalog", "", "Toggle layer catalog (YAML)")
	probeCmd.Flags().StringSlice("enable", nil, "Toggle layer ids to switch on (repeatable)")
	probeCmd.Flags().Duration("timeout", 30*time.Second, "Maximum time to wait for the session to settle")
	probeCmd.Flags().String("snapshot", "", "Write a PNG snapshot of the rendered layers to this path")
	probeCmd.Flags().String("png-compression", "default", "PNG compression: default, speed, best, none")
	probeCmd.Flags().Bool("json", false, "Print the report as JSON")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"probe.api", "api"},
		{"probe.token", "token"},
		{"probe.center", "center"},
		{"probe.zoom", "zoom"},
		{"probe.bbox", "bbox"},
		{"probe.width", "width"},
		{"probe.height", "height"},
		{"probe.markers", "markers"},
		{"probe.viewport_path", "viewport-path"},
		{"probe.polygons_path", "polygons-path"},
		{"probe.min_fetch_zoom", "min-fetch-zoom"},
		{"probe.catalog", "catalog"},
		{"probe.enable", "enable"},
		{"probe.timeout", "timeout"},
		{"probe.snapshot", "snapshot"},
		{"probe.png_compression", "png-compression"},
		{"probe.json", "json"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, probeCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

type probeLayer struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Features int    `json:"features"`
}

type probeToggle struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	Visible bool   `json:"visible"`
	Fetches int    `json:"fetches"`
}

type probeReport struct {
	Session         string                  `json:"session"`
	Zoom            float64                 `json:"zoom"`
	Center          [2]float64              `json:"center"`
	Bounds          string                  `json:"bounds"`
	Markers         int                     `json:"markers"`
	Layers          []probeLayer            `json:"layers"`
	ViewportState   string                  `json:"viewport_state,omitempty"`
	ViewportFetches int                     `json:"viewport_fetches"`
	PolygonState    string                  `json:"polygon_state,omitempty"`
	PolygonFetches  int                     `json:"polygon_fetches"`
	Toggles         []probeToggle           `json:"toggles,omitempty"`
	Alerts          []string                `json:"alerts,omitempty"`
	Client          datasource.ClientStatus `json:"client"`
	Elapsed         string                  `json:"elapsed"`
}

func runProbe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	width := viper.GetInt("probe.width")
	height := viper.GetInt("probe.height")
	if width <= 0 || height <= 0 {
		return fmt.Errorf("width and height must be positive, got %dx%d", width, height)
	}

	center, err := parseCenter(viper.GetString("probe.center"))
	if err != nil {
		return fmt.Errorf("invalid center: %w", err)
	}
	zoom := viper.GetFloat64("probe.zoom")
	if s := viper.GetString("probe.bbox"); s != "" {
		bbox, err := parseBBox(s)
		if err != nil {
			return fmt.Errorf("invalid bbox: %w", err)
		}
		center, zoom = fitBounds(bbox, width, height)
	}

	level, err := snapshot.ParseCompression(viper.GetString("probe.png_compression"))
	if err != nil {
		return err
	}

	var catalog []toggle.Layer
	if path := viper.GetString("probe.catalog"); path != "" {
		catalog, err = toggle.LoadCatalog(path)
		if err != nil {
			return err
		}
	}

	client, err := datasource.NewClient(datasource.ClientConfig{
		BaseURL: viper.GetString("probe.api"),
		Metrics: metrics.NewClient(prometheus.NewRegistry()),
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create data client: %w", err)
	}

	loop := eventloop.New(logger)
	defer loop.Close()

	var m *headless.Map
	factory := &headless.Factory{
		Dispatcher: loop,
		Width:      width,
		Height:     height,
		OnCreate:   func(hm *headless.Map) { m = hm },
	}

	var alerts []string
	opts := session.Options{
		AccessToken:   viper.GetString("probe.token"),
		APIBaseURL:    client.BaseURL(),
		LoadMarkers:   viper.GetBool("probe.markers"),
		ViewportPath:  viper.GetString("probe.viewport_path"),
		PolygonsPath:  viper.GetString("probe.polygons_path"),
		MinFetchZoom:  viper.GetFloat64("probe.min_fetch_zoom"),
		InitialZoom:   zoom,
		InitialCenter: &center,
		ToggleLayers:  catalog,
		OnAlert:       func(msg string) { alerts = append(alerts, msg) },
	}

	start := time.Now()
	timeout := viper.GetDuration("probe.timeout")

	var s *session.Session
	loop.Sync(func() {
		s, err = session.New("probe", opts, session.Deps{
			Factory:          factory,
			Dispatcher:       loop,
			Client:           client,
			Logger:           logger,
			RotationInterval: -1,
		})
	})
	if err != nil {
		return err
	}
	defer loop.Sync(s.Teardown)

	if err := waitIdle(loop, timeout); err != nil {
		return err
	}

	if enable := viper.GetStringSlice("probe.enable"); len(enable) > 0 {
		loop.Sync(func() {
			for _, id := range enable {
				if e := s.SetLayerVisible(id, true); e != nil && err == nil {
					err = e
				}
			}
		})
		if err != nil {
			return err
		}
		if err := waitIdle(loop, timeout); err != nil {
			return err
		}
	}

	var report probeReport
	loop.Sync(func() {
		report = buildReport(s, m)
		report.Alerts = alerts
	})
	report.Client = client.Status()
	report.Elapsed = time.Since(start).Round(time.Millisecond).String()

	if viper.GetBool("probe.json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
	} else {
		printReport(os.Stdout, report)
	}

	if path := viper.GetString("probe.snapshot"); path != "" {
		if err := writeSnapshot(loop, m, path, level); err != nil {
			return err
		}
		logger.Info("snapshot written", "path", path, "width", width, "height", height)
	}
	return nil
}

// waitIdle blocks until the loop has drained or timeout elapses.
func waitIdle(loop *eventloop.Loop, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		loop.Idle()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("session did not settle within %s", timeout)
	}
}

func buildReport(s *session.Session, m *headless.Map) probeReport {
	vp := m.Viewport()
	report := probeReport{
		Session: s.ID(),
		Zoom:    vp.Zoom,
		Center:  [2]float64{vp.Center.Lon(), vp.Center.Lat()},
		Bounds:  vp.Bounds.String(),
		Markers: len(m.Markers()),
	}
	for _, rl := range m.RenderedLayers() {
		report.Layers = append(report.Layers, probeLayer{
			ID:       rl.Layer.ID,
			Type:     string(rl.Layer.Type),
			Features: len(rl.Features),
		})
	}
	if v := s.Viewport(); v != nil {
		report.ViewportState = v.State().String()
		report.ViewportFetches = v.Fetches()
	}
	if p := s.Polygons(); p != nil {
		report.PolygonState = p.State().String()
		report.PolygonFetches = p.Fetches()
	}
	toggles := s.Toggles()
	for _, l := range s.ToggleLayers() {
		t := probeToggle{
			ID:      l.ID,
			Visible: toggles.Visible(l.ID),
			Fetches: toggles.Fetches(l.ID),
		}
		if state, err := toggles.State(l.ID); err == nil {
			t.State = state.String()
		}
		report.Toggles = append(report.Toggles, t)
	}
	return report
}

func printReport(w io.Writer, r probeReport) {
	fmt.Fprintf(w, "Session:   %s\n", r.Session)
	fmt.Fprintf(w, "View:      zoom %.2f at %.4f,%.4f\n", r.Zoom, r.Center[0], r.Center[1])
	fmt.Fprintf(w, "Bounds:    %s\n", r.Bounds)
	fmt.Fprintf(w, "Markers:   %d\n", r.Markers)
	if r.ViewportState != "" {
		fmt.Fprintf(w, "Viewport:  %s (%d fetches)\n", r.ViewportState, r.ViewportFetches)
	}
	if r.PolygonState != "" {
		fmt.Fprintf(w, "Polygons:  %s (%d fetches)\n", r.PolygonState, r.PolygonFetches)
	}
	if len(r.Layers) > 0 {
		fmt.Fprintln(w, "Layers:")
		for _, l := range r.Layers {
			fmt.Fprintf(w, "  %-28s %-7s %d features\n", l.ID, l.Type, l.Features)
		}
	}
	if len(r.Toggles) > 0 {
		fmt.Fprintln(w, "Toggles:")
		for _, t := range r.Toggles {
			fmt.Fprintf(w, "  %-28s %-8s visible=%t fetches=%d\n", t.ID, t.State, t.Visible, t.Fetches)
		}
	}
	for _, a := range r.Alerts {
		fmt.Fprintf(w, "Alert:     %s\n", a)
	}
	fmt.Fprintf(w, "Requests:  %d completed, %d failed, %d shared, %d bytes\n",
		r.Client.TotalCompleted, r.Client.TotalFailed, r.Client.TotalShared, r.Client.TotalBytes)
	fmt.Fprintf(w, "Elapsed:   %s\n", r.Elapsed)
}

func writeSnapshot(loop *eventloop.Loop, m *headless.Map, path string, level png.CompressionLevel) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer f.Close()

	loop.Sync(func() {
		err = snapshot.WritePNG(f, m, snapshot.DefaultOptions(), level)
	})
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return f.Close()
}

// parseCenter parses "lon,lat".
func parseCenter(s string) (orb.Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return orb.Point{}, fmt.Errorf("expected lon,lat, got %q", s)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("invalid longitude: %w", err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("invalid latitude: %w", err)
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return orb.Point{}, fmt.Errorf("coordinate %.4f,%.4f out of range", lon, lat)
	}
	return orb.Point{lon, lat}, nil
}

// parseBBox parses "minLon,minLat,maxLon,maxLat".
func parseBBox(s string) ([4]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return [4]float64{}, fmt.Errorf("expected 4 comma-separated values, got %d", len(parts))
	}

	var bbox [4]float64
	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return [4]float64{}, fmt.Errorf("invalid number at position %d: %w", i, err)
		}
		bbox[i] = val
	}

	if bbox[0] >= bbox[2] {
		return [4]float64{}, fmt.Errorf("minLon (%.4f) must be < maxLon (%.4f)", bbox[0], bbox[2])
	}
	if bbox[1] >= bbox[3] {
		return [4]float64{}, fmt.Errorf("minLat (%.4f) must be < maxLat (%.4f)", bbox[1], bbox[3])
	}

	return bbox, nil
}

// fitBounds returns the center and the largest zoom at which bbox fits a
// width×height viewport.
func fitBounds(bbox [4]float64, width, height int) (orb.Point, float64) {
	minX, maxX := projection.LngX(bbox[0]), projection.LngX(bbox[2])
	minY, maxY := projection.LatY(bbox[3]), projection.LatY(bbox[1])
	center := orb.Point{
		projection.XLng((minX + maxX) / 2),
		projection.YLat((minY + maxY) / 2),
	}

	zx := math.Log2(float64(width) / ((maxX - minX) * projection.TileSize))
	zy := math.Log2(float64(height) / ((maxY - minY) * projection.TileSize))
	zoom := math.Min(zx, zy)
	return center, math.Max(0, math.Min(22, zoom))
}
