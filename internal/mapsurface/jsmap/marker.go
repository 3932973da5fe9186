//go:build js && wasm

package jsmap

import (
	"syscall/js"

	"github.com/MeKo-Tech/osem/internal/mapsurface"
	"github.com/paulmach/orb"
)

// MarkerClass is the CSS class of every marker element.
const MarkerClass = "osem-marker"

type marker struct {
	m       *Map
	v       js.Value
	el      js.Value
	lngLat  orb.Point
	clicks  []js.Func
	removed bool
}

func (m *Map) NewMarker(opts mapsurface.MarkerOptions) mapsurface.Marker {
	mk := &marker{m: m, lngLat: opts.LngLat}
	if m.removed {
		mk.removed = true
		return mk
	}

	doc := js.Global().Get("document")
	mk.el = doc.Call("createElement", "div")
	mk.el.Set("className", MarkerClass)
	if opts.ID != "" {
		mk.el.Get("dataset").Set("id", opts.ID)
	}
	if opts.IconURL != "" {
		style := mk.el.Get("style")
		style.Set("backgroundImage", "url("+opts.IconURL+")")
		style.Set("backgroundSize", "contain")
		style.Set("backgroundRepeat", "no-repeat")
	}

	mk.v = m.gl.Get("Marker").New(js.ValueOf(map[string]any{"element": mk.el, "anchor": "bottom"}))
	mk.v.Call("setLngLat", []any{opts.LngLat.Lon(), opts.LngLat.Lat()})
	mk.v.Call("addTo", m.m)

	if m.markers == nil {
		m.markers = make(map[*marker]struct{})
	}
	m.markers[mk] = struct{}{}
	return mk
}

func (mk *marker) SetLngLat(p orb.Point) {
	mk.lngLat = p
	if mk.removed {
		return
	}
	mk.v.Call("setLngLat", []any{p.Lon(), p.Lat()})
}

func (mk *marker) LngLat() orb.Point { return mk.lngLat }

// OnClick runs fn on the map's dispatcher when the marker element is clicked.
// Clicks do not propagate to the map.
func (mk *marker) OnClick(fn func()) {
	if mk.removed {
		return
	}
	f := js.FuncOf(func(this js.Value, args []js.Value) any {
		if len(args) > 0 {
			args[0].Call("stopPropagation")
		}
		mk.m.loop.Post(func() {
			if !mk.removed {
				fn()
			}
		})
		return nil
	})
	mk.clicks = append(mk.clicks, f)
	mk.el.Call("addEventListener", "click", f)
}

func (mk *marker) Remove() {
	if mk.removed {
		return
	}
	mk.removed = true
	delete(mk.m.markers, mk)
	for _, f := range mk.clicks {
		mk.el.Call("removeEventListener", "click", f)
		f.Release()
	}
	mk.clicks = nil
	mk.v.Call("remove")
}
