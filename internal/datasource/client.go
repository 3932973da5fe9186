package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/osem/internal/features"
	"github.com/MeKo-Tech/osem/internal/metrics"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

// ErrUnexpectedStatus is wrapped by errors for non-2xx responses.
var ErrUnexpectedStatus = errors.New("unexpected response status")

// rowKeys are the object keys that may hold a row list, in lookup order.
var rowKeys = []string{"data", "organizations", "rows"}

// ClientStatus contains current request statistics of a client.
type ClientStatus struct {
	// ActiveFetches is the number of requests currently in flight
	ActiveFetches int `json:"active_fetches"`
	// TotalCompleted is the number of successful requests since start
	TotalCompleted int64 `json:"total_completed"`
	// TotalFailed is the number of failed requests since start
	TotalFailed int64 `json:"total_failed"`
	// TotalShared is the number of requests answered by an identical one in flight
	TotalShared int64 `json:"total_shared"`
	// TotalBytes is the number of response bytes read since start
	TotalBytes int64 `json:"total_bytes"`
	// CurrentRequests lists the URLs currently being fetched
	CurrentRequests []string `json:"current_requests"`
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the data API root, e.g. https://api.example.org/v1
	BaseURL string
	// HTTPClient is used for requests (default: a client with Timeout)
	HTTPClient *http.Client
	// Timeout applies to the default HTTP client (default: 30s)
	Timeout time.Duration
	// DataSizeWarningThreshold warns when a response exceeds this size in bytes (default: 10MB)
	DataSizeWarningThreshold int64
	// Metrics receives request metrics; nil registers nothing
	Metrics *metrics.Client
	// Logger for fetch operations
	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:                  30 * time.Second,
		DataSizeWarningThreshold: 10 * 1024 * 1024, // 10MB
		Logger:                   slog.Default(),
	}
}

// Client fetches GeoJSON and row data from the data API. Identical GET
// requests that overlap in time share one round trip.
type Client struct {
	base *url.URL
	http *http.Client
	cfg  ClientConfig
	log  *slog.Logger

	group singleflight.Group

	activeFetches  atomic.Int32
	totalCompleted atomic.Int64
	totalFailed    atomic.Int64
	totalShared    atomic.Int64
	totalBytes     atomic.Int64
	current        sync.Map // url -> start time
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("data API base URL is empty")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base URL scheme %q", base.Scheme)
	}

	def := DefaultClientConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.DataSizeWarningThreshold <= 0 {
		cfg.DataSizeWarningThreshold = def.DataSizeWarningThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		base: base,
		http: hc,
		cfg:  cfg,
		log:  cfg.Logger.With("component", "datasource"),
	}, nil
}

// BaseURL returns the API root the client was created with.
func (c *Client) BaseURL() string { return c.base.String() }

// Status returns the current request statistics.
func (c *Client) Status() ClientStatus {
	var current []string
	c.current.Range(func(key, _ any) bool {
		current = append(current, key.(string))
		return true
	})
	return ClientStatus{
		ActiveFetches:   int(c.activeFetches.Load()),
		TotalCompleted:  c.totalCompleted.Load(),
		TotalFailed:     c.totalFailed.Load(),
		TotalShared:     c.totalShared.Load(),
		TotalBytes:      c.totalBytes.Load(),
		CurrentRequests: current,
	}
}

// FeatureCollection fetches path and decodes a GeoJSON FeatureCollection.
func (c *Client) FeatureCollection(ctx context.Context, path string, query url.Values) (*geojson.FeatureCollection, error) {
	body, err := c.get(ctx, path, query)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode feature collection from %s: %w", path, err)
	}
	return fc, nil
}

// Rows fetches path and decodes row data: either a JSON list or an object
// holding the list under "data", "organizations" or "rows".
func (c *Client) Rows(ctx context.Context, path string, query url.Values) ([]features.Record, error) {
	body, err := c.get(ctx, path, query)
	if err != nil {
		return nil, err
	}
	rows, err := DecodeRows(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode rows from %s: %w", path, err)
	}
	return rows, nil
}

// DecodeRows decodes a row payload. Numbers are kept as json.Number.
func DecodeRows(body []byte) ([]features.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	var list []any
	switch v := raw.(type) {
	case []any:
		list = v
	case map[string]any:
		for _, key := range rowKeys {
			if l, ok := v[key].([]any); ok {
				list = l
				break
			}
		}
		if list == nil {
			return nil, fmt.Errorf("object has none of the row keys %v", rowKeys)
		}
	default:
		return nil, fmt.Errorf("expected list or object, got %T", raw)
	}

	rows := make([]features.Record, 0, len(list))
	for _, item := range list {
		// Non-object entries cannot carry a location and are dropped.
		if m, ok := item.(map[string]any); ok {
			rows = append(rows, features.Record(m))
		}
	}
	return rows, nil
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	target := c.resolve(path, query)
	v, err, shared := c.group.Do(target, func() (any, error) {
		return c.doFetch(ctx, path, target)
	})
	if shared {
		c.totalShared.Add(1)
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.SharedFetches.WithLabelValues(path).Inc()
		}
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Client) doFetch(ctx context.Context, path, target string) ([]byte, error) {
	c.activeFetches.Add(1)
	c.current.Store(target, time.Now())
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.InFlight.Inc()
	}
	defer func() {
		c.activeFetches.Add(-1)
		c.current.Delete(target)
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.InFlight.Dec()
		}
	}()

	start := time.Now()
	log := c.log.With("path", path)
	log.Debug("fetching from data API", "url", target)

	body, err := c.roundTrip(ctx, target)
	elapsed := time.Since(start)
	c.observe(path, elapsed, len(body), err)

	if err != nil {
		c.totalFailed.Add(1)
		log.Error("fetch failed", "error", err, "duration_ms", elapsed.Milliseconds())
		return nil, err
	}

	c.totalCompleted.Add(1)
	c.totalBytes.Add(int64(len(body)))
	log.Debug("fetch completed", "duration_ms", elapsed.Milliseconds(), "size_bytes", len(body))

	if int64(len(body)) > c.cfg.DataSizeWarningThreshold {
		log.Warn("response exceeds size threshold - consider a tighter viewport or limit",
			"threshold_mb", c.cfg.DataSizeWarningThreshold/(1024*1024),
			"actual_mb", fmt.Sprintf("%.2f", float64(len(body))/(1024*1024)),
		)
	}
	return body, nil
}

func (c *Client) roundTrip(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/geo+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %d %s: %s", ErrUnexpectedStatus, resp.StatusCode, http.StatusText(resp.StatusCode), strings.TrimSpace(string(snippet)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

func (c *Client) observe(path string, elapsed time.Duration, size int, err error) {
	m := c.cfg.Metrics
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.FetchesTotal.WithLabelValues(path, outcome).Inc()
	m.FetchDuration.WithLabelValues(path).Observe(elapsed.Seconds())
	if err == nil {
		m.FetchBytes.With(prometheus.Labels{"path": path}).Observe(float64(size))
	}
}
