package session

import (
	"github.com/MeKo-Tech/osem/internal/mapsurface"
)

// FogPresets are the atmosphere presets selectable by name.
var FogPresets = map[string]mapsurface.Fog{
	"day": {
		Color:         "rgb(186, 210, 235)",
		HighColor:     "rgb(36, 92, 223)",
		SpaceColor:    "rgb(11, 11, 25)",
		HorizonBlend:  0.02,
		StarIntensity: 0.6,
	},
	"dusk": {
		Color:         "rgb(220, 159, 159)",
		HighColor:     "rgb(36, 92, 223)",
		SpaceColor:    "rgb(11, 11, 25)",
		HorizonBlend:  0.2,
		StarIntensity: 0.3,
	},
	"night": {
		Color:         "rgb(11, 11, 25)",
		HighColor:     "rgb(36, 92, 223)",
		SpaceColor:    "rgb(4, 4, 12)",
		HorizonBlend:  0.02,
		StarIntensity: 0.9,
	},
}

// applyCosmetics sets fog, label and background style. Every mutation is a
// plain property write, so running it on each style load is safe. Layers
// over the session's own sources are left alone.
func (s *Session) applyCosmetics() {
	o := s.opts
	if o.GlobeProjection {
		fog, ok := FogPresets[o.FogPreset]
		if !ok {
			s.logger.Warn("unknown fog preset, using day", "preset", o.FogPreset)
			fog = FogPresets["day"]
		}
		s.surface.SetFog(fog)
	}

	fade := mapsurface.Interpolate{
		Input: mapsurface.InputZoom,
		Stops: []mapsurface.Stop{
			{Input: o.LabelFadeMinZoom - 1, Output: 0.0},
			{Input: o.LabelFadeMinZoom, Output: 1.0},
		},
	}

	for _, l := range s.surface.StyleLayers() {
		if s.owned[l.Source] {
			continue
		}
		switch {
		case l.HasText && o.HideLabels:
			s.warn(s.surface.SetLayoutProperty(l.ID, mapsurface.PropVisibility, mapsurface.VisibilityOff))
		case l.HasText:
			s.warn(s.surface.SetPaintProperty(l.ID, mapsurface.PropTextOpacity, fade))
		case l.Type == "background" && o.TransparentBackground:
			s.warn(s.surface.SetPaintProperty(l.ID, mapsurface.PropBackgroundOp, 0.0))
		}
	}
}

func (s *Session) warn(err error) {
	if err != nil {
		s.logger.Warn("style update failed", "error", err)
	}
}
