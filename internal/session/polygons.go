package session

import (
	"fmt"

	"github.com/MeKo-Tech/osem/internal/layers/clusterlayer"
	"github.com/MeKo-Tech/osem/internal/mapsurface"
	"github.com/paulmach/orb/geojson"
)

// PolygonSource is the source id of the viewport polygon layer.
const PolygonSource = "land-polygons"

// polygonLayer draws viewport-scoped land polygons as an unclustered fill
// with an outline. It is the sink of the session's polygon viewport
// controller.
type polygonLayer struct {
	surface mapsurface.Surface
	onClick func(*geojson.Feature)
	subs    []mapsurface.Subscription
}

func (p *polygonLayer) fillID() string    { return PolygonSource + "-fill" }
func (p *polygonLayer) outlineID() string { return PolygonSource + "-outline" }

// UpsertSource replaces the polygon data. Polygons are never clustered.
func (p *polygonLayer) UpsertSource(id string, fc *geojson.FeatureCollection, _ clusterlayer.ClusterConfig) error {
	if fc == nil {
		return fmt.Errorf("source %s: nil feature collection", id)
	}
	if src, ok := p.surface.Source(id); ok {
		src.SetData(fc)
		return nil
	}
	return p.surface.AddSource(id, mapsurface.SourceSpec{Data: fc})
}

// EnsureLayers adds the fill and outline once and routes fill clicks to onClick.
func (p *polygonLayer) EnsureLayers(id string) error {
	if p.surface.HasLayer(p.fillID()) {
		return nil
	}
	layers := []mapsurface.Layer{
		{
			ID:     p.fillID(),
			Type:   mapsurface.LayerFill,
			Source: id,
			Paint: map[string]any{
				"fill-color":   "#43a047",
				"fill-opacity": 0.35,
			},
		},
		{
			ID:     p.outlineID(),
			Type:   mapsurface.LayerLine,
			Source: id,
			Paint: map[string]any{
				"line-color": "#1b5e20",
				"line-width": 1.5,
			},
		},
	}
	for _, l := range layers {
		if err := p.surface.AddLayer(l); err != nil {
			return fmt.Errorf("failed to add layer %s: %w", l.ID, err)
		}
	}

	p.subs = append(p.subs,
		p.surface.OnLayer(mapsurface.EventClick, p.fillID(), func(e mapsurface.Event) {
			if len(e.Features) > 0 && p.onClick != nil {
				p.onClick(e.Features[0])
			}
		}),
		p.surface.OnLayer(mapsurface.EventMouseEnter, p.fillID(), func(mapsurface.Event) {
			p.surface.SetCursor("pointer")
		}),
		p.surface.OnLayer(mapsurface.EventMouseLeave, p.fillID(), func(mapsurface.Event) {
			p.surface.SetCursor("")
		}),
	)
	return nil
}

func (p *polygonLayer) Close() {
	for _, sub := range p.subs {
		sub.Unsubscribe()
	}
	p.subs = nil
}
