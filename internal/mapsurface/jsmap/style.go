// Package jsmap implements mapsurface.Surface on top of a mapbox-gl map
// running in the browser. Only the conversions in this file build outside
// js/wasm; they turn surface definitions into style spec JSON values.
package jsmap

import (
	"fmt"
	"sort"

	"github.com/MeKo-Tech/osem/internal/mapsurface"
)

// StyleValue converts a paint or layout value to its style spec form.
// Step and Interpolate become expression arrays; plain values pass through
// with typed slices and maps widened to []any and map[string]any.
func StyleValue(v any) any {
	switch e := v.(type) {
	case mapsurface.Step:
		expr := []any{"step", inputExpr(e.Input), StyleValue(e.Base)}
		for _, st := range sortStops(e.Stops) {
			expr = append(expr, st.Input, StyleValue(st.Output))
		}
		return expr
	case mapsurface.Interpolate:
		expr := []any{"interpolate", []any{"linear"}, inputExpr(e.Input)}
		for _, st := range sortStops(e.Stops) {
			expr = append(expr, st.Input, StyleValue(st.Output))
		}
		return expr
	case []string:
		out := make([]any, len(e))
		for i, s := range e {
			out[i] = s
		}
		return out
	case []float64:
		out := make([]any, len(e))
		for i, f := range e {
			out[i] = f
		}
		return out
	case []any:
		out := make([]any, len(e))
		for i, x := range e {
			out[i] = StyleValue(x)
		}
		return out
	case map[string]any:
		return StyleProps(e)
	case int:
		return float64(e)
	default:
		return v
	}
}

// StyleProps converts a paint or layout map.
func StyleProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = StyleValue(v)
	}
	return out
}

// FilterExpr returns the style filter for f, or nil for FilterNone.
func FilterExpr(f mapsurface.Filter) []any {
	switch f {
	case mapsurface.FilterClustered:
		return []any{"has", "point_count"}
	case mapsurface.FilterUnclustered:
		return []any{"!", []any{"has", "point_count"}}
	default:
		return nil
	}
}

// LayerSpec converts a layer definition to the object passed to map.addLayer.
func LayerSpec(l mapsurface.Layer) (map[string]any, error) {
	if l.ID == "" {
		return nil, fmt.Errorf("layer has no id")
	}
	spec := map[string]any{
		"id":   l.ID,
		"type": string(l.Type),
	}
	if l.Source != "" {
		spec["source"] = l.Source
	}
	if f := FilterExpr(l.Filter); f != nil {
		spec["filter"] = f
	}
	if len(l.Paint) > 0 {
		spec["paint"] = StyleProps(l.Paint)
	}
	if len(l.Layout) > 0 {
		spec["layout"] = StyleProps(l.Layout)
	}
	return spec, nil
}

// SourceOptions converts a source spec (without data) to the object passed
// to map.addSource. The caller attaches the GeoJSON data. The id property is
// promoted so rendered features keep string ids.
func SourceOptions(spec mapsurface.SourceSpec) map[string]any {
	opts := map[string]any{"type": "geojson", "promoteId": "id"}
	if spec.Cluster {
		opts["cluster"] = true
		if spec.ClusterRadius > 0 {
			opts["clusterRadius"] = spec.ClusterRadius
		}
		if spec.ClusterMaxZoom > 0 {
			opts["clusterMaxZoom"] = float64(spec.ClusterMaxZoom)
		}
	}
	return opts
}

// FogOptions converts a fog to the object passed to map.setFog.
func FogOptions(f mapsurface.Fog) map[string]any {
	return map[string]any{
		"color":          f.Color,
		"high-color":     f.HighColor,
		"space-color":    f.SpaceColor,
		"horizon-blend":  f.HorizonBlend,
		"star-intensity": f.StarIntensity,
	}
}

func inputExpr(input string) []any {
	if input == mapsurface.InputZoom {
		return []any{"zoom"}
	}
	return []any{"get", input}
}

func sortStops(stops []mapsurface.Stop) []mapsurface.Stop {
	out := append([]mapsurface.Stop(nil), stops...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Input < out[j].Input })
	return out
}
