package headless

import (
	"github.com/MeKo-Tech/osem/internal/eventloop"
	"github.com/MeKo-Tech/osem/internal/mapsurface"
)

// Factory creates headless maps.
type Factory struct {
	// Dispatcher, when set, receives a task that loads each new map, the way
	// a browser map finishes loading after construction returns.
	Dispatcher eventloop.Dispatcher
	// Width and Height override the config size when positive.
	Width, Height int
	// OnCreate is called with every map New returns.
	OnCreate func(*Map)
}

// New implements mapsurface.Factory.
func (f *Factory) New(cfg mapsurface.Config) (mapsurface.Surface, error) {
	if f.Width > 0 {
		cfg.Width = f.Width
	}
	if f.Height > 0 {
		cfg.Height = f.Height
	}
	m := New(cfg)
	if f.OnCreate != nil {
		f.OnCreate(m)
	}
	if f.Dispatcher != nil {
		f.Dispatcher.Post(m.Load)
	}
	return m, nil
}
