//go:build js && wasm

// Command wasm exposes the map session to the page as osemInitialize.
//
//	const teardown = await osemInitialize("map", {
//	  accessToken: "pk...",
//	  apiBaseURL: "https://api.example.org",
//	  loadMarkers: true,
//	  onFeatureSelect: (props) => console.log(props),
//	});
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"syscall/js"

	"github.com/MeKo-Tech/osem/internal/datasource"
	"github.com/MeKo-Tech/osem/internal/eventloop"
	"github.com/MeKo-Tech/osem/internal/layers/toggle"
	"github.com/MeKo-Tech/osem/internal/mapsurface/jsmap"
	"github.com/MeKo-Tech/osem/internal/session"
	"github.com/paulmach/orb"
)

var (
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	loop   = eventloop.New(logger)
)

// initialize creates a session and returns a Promise of its teardown function.
func initialize(this js.Value, args []js.Value) any {
	if len(args) < 1 || args[0].Type() != js.TypeString {
		return rejected(fmt.Errorf("osemInitialize(container, options): container id is required"))
	}
	container := args[0].String()
	var jsOpts js.Value
	if len(args) > 1 {
		jsOpts = args[1]
	}
	opts, err := optionsFromJS(jsOpts)
	if err != nil {
		return rejected(err)
	}

	executor := js.FuncOf(func(this js.Value, p []js.Value) any {
		resolve, reject := p[0], p[1]
		loop.Post(func() {
			deps := session.Deps{
				Factory:    &jsmap.Factory{Dispatcher: loop, Logger: logger},
				Dispatcher: loop,
				URL:        jsmap.BrowserURL{},
				Logger:     logger,
			}
			if opts.APIBaseURL != "" {
				client, err := datasource.NewClient(datasource.ClientConfig{BaseURL: opts.APIBaseURL, Logger: logger})
				if err != nil {
					reject.Invoke(err.Error())
					return
				}
				deps.Client = client
			}

			s, err := session.New(container, opts, deps)
			if err != nil {
				reject.Invoke(err.Error())
				return
			}

			var teardown js.Func
			teardown = js.FuncOf(func(js.Value, []js.Value) any {
				loop.Post(s.Teardown)
				teardown.Release()
				return nil
			})
			resolve.Invoke(teardown)
		})
		return nil
	})
	defer executor.Release()
	return js.Global().Get("Promise").New(executor)
}

func rejected(err error) js.Value {
	return js.Global().Get("Promise").Call("reject", js.Global().Get("Error").New(err.Error()))
}

// optionsFromJS reads session options from a plain JS object.
func optionsFromJS(v js.Value) (session.Options, error) {
	var o session.Options
	if v.IsUndefined() || v.IsNull() {
		return o, nil
	}

	for key, dst := range map[string]*bool{
		"showNavigation":        &o.ShowNavigation,
		"showStyleControl":      &o.ShowStyleControl,
		"showGeoToggle":         &o.ShowGeoToggle,
		"showDrawTools":         &o.ShowDrawTools,
		"loadMarkers":           &o.LoadMarkers,
		"enableHash":            &o.EnableHash,
		"compact":               &o.Compact,
		"globeProjection":       &o.GlobeProjection,
		"autoRotate":            &o.AutoRotate,
		"hideLabels":            &o.HideLabels,
		"transparentBackground": &o.TransparentBackground,
	} {
		if f := v.Get(key); f.Type() == js.TypeBoolean {
			*dst = f.Bool()
		}
	}
	if f := v.Get("scrollZoom"); f.Type() == js.TypeBoolean {
		scroll := f.Bool()
		o.ScrollZoom = &scroll
	}

	for key, dst := range map[string]*float64{
		"rotationSpeed":    &o.RotationSpeed,
		"stopRotatingZoom": &o.StopRotatingZoom,
		"minFetchZoom":     &o.MinFetchZoom,
		"labelFadeMinZoom": &o.LabelFadeMinZoom,
		"initialZoom":      &o.InitialZoom,
	} {
		if f := v.Get(key); f.Type() == js.TypeNumber {
			*dst = f.Float()
		}
	}
	if f := v.Get("fetchLimit"); f.Type() == js.TypeNumber {
		o.FetchLimit = f.Int()
	}
	if c := v.Get("initialCenter"); c.Type() == js.TypeObject && c.Length() == 2 {
		center := orb.Point{c.Index(0).Float(), c.Index(1).Float()}
		o.InitialCenter = &center
	}

	for key, dst := range map[string]*string{
		"accessToken":       &o.AccessToken,
		"apiBaseURL":        &o.APIBaseURL,
		"markerURL":         &o.MarkerURL,
		"style":             &o.Style,
		"fogPreset":         &o.FogPreset,
		"organizationsPath": &o.OrganizationsPath,
		"viewportPath":      &o.ViewportPath,
		"polygonsPath":      &o.PolygonsPath,
	} {
		if f := v.Get(key); f.Type() == js.TypeString {
			*dst = f.String()
		}
	}

	if layers := v.Get("toggleLayers"); layers.Type() == js.TypeObject {
		raw := js.Global().Get("JSON").Call("stringify", layers).String()
		var defs []struct {
			ID           string   `json:"id"`
			Name         string   `json:"name"`
			DataPath     string   `json:"dataPath"`
			FillColor    string   `json:"fillColor"`
			OutlineColor string   `json:"outlineColor"`
			Opacity      float64  `json:"opacity"`
			OutlineWidth float64  `json:"outlineWidth"`
			Properties   []string `json:"properties"`
		}
		if err := json.Unmarshal([]byte(raw), &defs); err != nil {
			return o, fmt.Errorf("invalid toggleLayers: %w", err)
		}
		for _, d := range defs {
			o.ToggleLayers = append(o.ToggleLayers, toggle.Layer(d))
		}
	}

	if f := callback(v, "onUserInteractionStart"); f.Truthy() {
		o.OnUserInteractionStart = func() { f.Invoke() }
	}
	if f := callback(v, "onUserInteractionEnd"); f.Truthy() {
		o.OnUserInteractionEnd = func() { f.Invoke() }
	}
	if f := callback(v, "onFeatureSelect"); f.Truthy() {
		o.OnFeatureSelect = func(props map[string]any) {
			b, err := json.Marshal(props)
			if err != nil {
				logger.Warn("failed to encode selected feature", "error", err)
				return
			}
			f.Invoke(js.Global().Get("JSON").Call("parse", string(b)))
		}
	}
	if f := callback(v, "onAlert"); f.Truthy() {
		o.OnAlert = func(msg string) { f.Invoke(msg) }
	} else {
		o.OnAlert = func(msg string) { js.Global().Call("alert", msg) }
	}
	if f := callback(v, "onToggleChange"); f.Truthy() {
		o.OnToggleChange = func(id string, visible bool) { f.Invoke(id, visible) }
	}
	return o, nil
}

func callback(v js.Value, key string) js.Value {
	f := v.Get(key)
	if f.Type() != js.TypeFunction {
		return js.Null()
	}
	return f
}

func main() {
	js.Global().Set("osemInitialize", js.FuncOf(initialize))
	logger.Info("osem map module loaded")
	select {}
}
