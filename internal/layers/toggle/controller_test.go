package toggle

import (
	"context"
	"errors"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/MeKo-Tech/osem/internal/eventloop"
	"github.com/MeKo-Tech/osem/internal/mapsurface"
	"github.com/MeKo-Tech/osem/internal/mapsurface/headless"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (s *stubFetcher) FeatureCollection(ctx context.Context, path string, query url.Values) (*geojson.FeatureCollection, error) {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return nil, s.err
	}
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Polygon{{{9, 49}, {11, 49}, {11, 51}, {9, 51}, {9, 49}}})
	f.Properties["name"] = "Reserve"
	f.Properties["internalNote"] = "do not show"
	fc.Append(f)
	return fc, nil
}

type fixture struct {
	loop    *eventloop.Loop
	m       *headless.Map
	fetcher *stubFetcher
	ctrl    *Controller
	alerts  []string
	changes []bool
	selects []map[string]any
}

var catalog = []Layer{
	{ID: "protected", Name: "Protected areas", DataPath: "/layers/protected", FillColor: "#2e7d32", Properties: []string{"name"}},
	{ID: "biomes", Name: "Biomes", DataPath: "/layers/biomes"},
}

func newFixture(t *testing.T, fetcher *stubFetcher) *fixture {
	t.Helper()
	f := &fixture{
		loop:    eventloop.New(nil),
		m:       headless.New(mapsurface.Config{Center: orb.Point{10, 50}, Zoom: 8}),
		fetcher: fetcher,
	}
	t.Cleanup(f.loop.Close)
	f.loop.Sync(func() {
		f.m.Load()
		f.ctrl = New(Config{
			Surface:         f.m,
			Dispatcher:      f.loop,
			Fetcher:         fetcher,
			Layers:          catalog,
			OnAlert:         func(msg string) { f.alerts = append(f.alerts, msg) },
			OnChange:        func(id string, visible bool) { f.changes = append(f.changes, visible) },
			OnFeatureSelect: func(p map[string]any) { f.selects = append(f.selects, p) },
		})
		f.ctrl.Start()
	})
	return f
}

func (f *fixture) visibility(layerID string) bool {
	var vis bool
	f.loop.Sync(func() { vis = mapsurface.IsVisible(f.m.LayoutProperty(layerID, mapsurface.PropVisibility)) })
	return vis
}

func TestController_FetchOnceUnderRapidToggles(t *testing.T) {
	fetcher := &stubFetcher{release: make(chan struct{})}
	f := newFixture(t, fetcher)

	f.loop.Sync(func() {
		for i := 0; i < 10; i++ {
			require.NoError(t, f.ctrl.SetVisible("protected", true))
		}
		state, err := f.ctrl.State("protected")
		require.NoError(t, err)
		assert.Equal(t, Loading, state)
	})

	close(fetcher.release)
	f.loop.Idle()

	assert.EqualValues(t, 1, fetcher.calls.Load())
	f.loop.Sync(func() {
		state, _ := f.ctrl.State("protected")
		assert.Equal(t, Loaded, state)
		assert.Equal(t, 1, f.ctrl.Fetches("protected"))
	})
	assert.True(t, f.visibility("protected-fill"))
	assert.True(t, f.visibility("protected-outline"))
}

func TestController_VisibilityFlipsWithoutRefetch(t *testing.T) {
	fetcher := &stubFetcher{}
	f := newFixture(t, fetcher)

	f.loop.Sync(func() { require.NoError(t, f.ctrl.SetVisible("protected", true)) })
	f.loop.Idle()

	for _, want := range []bool{false, true, false, true} {
		f.loop.Sync(func() { require.NoError(t, f.ctrl.SetVisible("protected", want)) })
		assert.Equal(t, want, f.visibility("protected-fill"))
		assert.Equal(t, want, f.visibility("protected-outline"))
	}
	assert.EqualValues(t, 1, fetcher.calls.Load())
}

func TestController_HideWhileLoadingIsHonoured(t *testing.T) {
	fetcher := &stubFetcher{release: make(chan struct{})}
	f := newFixture(t, fetcher)

	f.loop.Sync(func() {
		require.NoError(t, f.ctrl.SetVisible("biomes", true))
		require.NoError(t, f.ctrl.SetVisible("biomes", false))
	})
	close(fetcher.release)
	f.loop.Idle()

	f.loop.Sync(func() {
		state, _ := f.ctrl.State("biomes")
		assert.Equal(t, Loaded, state)
		assert.False(t, f.ctrl.Visible("biomes"))
	})
	assert.False(t, f.visibility("biomes-fill"))
	assert.False(t, f.visibility("biomes-outline"))
}

func TestController_FailureRevertsAndAllowsRetry(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("connection refused")}
	f := newFixture(t, fetcher)

	f.loop.Sync(func() { require.NoError(t, f.ctrl.SetVisible("protected", true)) })
	f.loop.Idle()

	f.loop.Sync(func() {
		state, _ := f.ctrl.State("protected")
		assert.Equal(t, Unloaded, state)
		assert.False(t, f.ctrl.Visible("protected"))
		require.Len(t, f.alerts, 1)
		assert.Contains(t, f.alerts[0], "Protected areas")
		assert.Equal(t, []bool{false}, f.changes)
		assert.False(t, f.m.HasLayer("protected-fill"))
	})

	fetcher.err = nil
	f.loop.Sync(func() { require.NoError(t, f.ctrl.SetVisible("protected", true)) })
	f.loop.Idle()

	assert.EqualValues(t, 2, fetcher.calls.Load())
	assert.True(t, f.visibility("protected-fill"))
}

func TestController_OutlineMirrorsFill(t *testing.T) {
	f := newFixture(t, &stubFetcher{})
	f.loop.Sync(func() { require.NoError(t, f.ctrl.SetVisible("protected", true)) })
	f.loop.Idle()

	// Something else hides the fill directly, e.g. a style switcher.
	f.loop.Sync(func() {
		require.NoError(t, f.m.SetLayoutProperty("protected-fill", mapsurface.PropVisibility, mapsurface.VisibilityOff))
	})
	assert.False(t, f.visibility("protected-outline"))

	f.loop.Sync(func() {
		require.NoError(t, f.m.SetLayoutProperty("protected-fill", mapsurface.PropVisibility, mapsurface.VisibilityOn))
	})
	assert.True(t, f.visibility("protected-outline"))
}

func TestController_FillClickSelectsAllowListedProperties(t *testing.T) {
	f := newFixture(t, &stubFetcher{})
	f.loop.Sync(func() { require.NoError(t, f.ctrl.SetVisible("protected", true)) })
	f.loop.Idle()

	f.loop.Sync(func() { f.m.ClickAt(orb.Point{10, 50}) })

	f.loop.Sync(func() {
		require.Len(t, f.selects, 1)
		assert.Equal(t, map[string]any{"name": "Reserve"}, f.selects[0])
	})
}

func TestController_FillClickWithoutAllowListSelectsNameOnly(t *testing.T) {
	f := newFixture(t, &stubFetcher{})
	f.loop.Sync(func() { require.NoError(t, f.ctrl.SetVisible("biomes", true)) })
	f.loop.Idle()

	f.loop.Sync(func() { f.m.ClickAt(orb.Point{10, 50}) })

	f.loop.Sync(func() {
		require.Len(t, f.selects, 1)
		assert.Equal(t, map[string]any{"name": "Reserve"}, f.selects[0])
		assert.NotContains(t, f.selects[0], "internalNote")
	})
}

func TestController_UnknownLayer(t *testing.T) {
	f := newFixture(t, &stubFetcher{})
	f.loop.Sync(func() {
		assert.ErrorIs(t, f.ctrl.SetVisible("nope", true), ErrUnknownLayer)
		_, err := f.ctrl.State("nope")
		assert.ErrorIs(t, err, ErrUnknownLayer)
		assert.Len(t, f.ctrl.Layers(), 2)
	})
}

func TestController_CloseDropsLateLoad(t *testing.T) {
	fetcher := &stubFetcher{release: make(chan struct{})}
	f := newFixture(t, fetcher)

	f.loop.Sync(func() { require.NoError(t, f.ctrl.SetVisible("protected", true)) })
	f.loop.Sync(f.ctrl.Close)
	close(fetcher.release)
	f.loop.Idle()

	f.loop.Sync(func() {
		assert.False(t, f.m.HasLayer("protected-fill"))
		assert.Zero(t, f.m.HandlerCount())
	})
}
