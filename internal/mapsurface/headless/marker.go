package headless

import (
	"slices"

	"github.com/MeKo-Tech/osem/internal/mapsurface"
	"github.com/paulmach/orb"
)

// Marker is a headless marker element.
type Marker struct {
	m       *Map
	opts    mapsurface.MarkerOptions
	lngLat  orb.Point
	onClick []func()
	moves   int
	removed bool
}

func (m *Map) NewMarker(opts mapsurface.MarkerOptions) mapsurface.Marker {
	mk := &Marker{m: m, opts: opts, lngLat: opts.LngLat}
	if !m.removed {
		m.markers = append(m.markers, mk)
	}
	return mk
}

// Markers returns the markers currently on the map, in creation order.
func (m *Map) Markers() []*Marker { return slices.Clone(m.markers) }

// MarkerByID returns the live marker created with id.
func (m *Map) MarkerByID(id string) (*Marker, bool) {
	for _, mk := range m.markers {
		if mk.opts.ID == id {
			return mk, true
		}
	}
	return nil, false
}

// ID returns the id the marker was created with.
func (mk *Marker) ID() string { return mk.opts.ID }

// IconURL returns the marker icon.
func (mk *Marker) IconURL() string { return mk.opts.IconURL }

// Moves counts SetLngLat calls.
func (mk *Marker) Moves() int { return mk.moves }

// Removed reports whether the marker has been removed.
func (mk *Marker) Removed() bool { return mk.removed }

func (mk *Marker) SetLngLat(p orb.Point) {
	mk.lngLat = p
	mk.moves++
}

func (mk *Marker) LngLat() orb.Point { return mk.lngLat }

func (mk *Marker) OnClick(fn func()) {
	if fn != nil {
		mk.onClick = append(mk.onClick, fn)
	}
}

// Click invokes the marker's click handlers.
func (mk *Marker) Click() {
	if mk.removed {
		return
	}
	for _, fn := range slices.Clone(mk.onClick) {
		fn()
	}
}

func (mk *Marker) Remove() {
	if mk.removed {
		return
	}
	mk.removed = true
	mk.m.markers = slices.DeleteFunc(mk.m.markers, func(o *Marker) bool { return o == mk })
}
