package mapsurface

import "sort"

// InputZoom as an expression input reads the current map zoom instead of a
// feature property.
const InputZoom = "$zoom"

// Stop is one breakpoint of a Step or Interpolate expression.
type Stop struct {
	Input  float64
	Output any
}

// Step yields Base below the first stop and the output of the highest stop
// whose input is <= the value otherwise. It mirrors the style spec "step"
// expression over a numeric feature property.
type Step struct {
	Input string
	Base  any
	Stops []Stop
}

// Eval evaluates the step at v.
func (s Step) Eval(v float64) any {
	out := s.Base
	for _, st := range sortedStops(s.Stops) {
		if v < st.Input {
			break
		}
		out = st.Output
	}
	return out
}

// Interpolate linearly interpolates numeric outputs between stops and clamps
// outside them.
type Interpolate struct {
	Input string
	Stops []Stop
}

// Eval evaluates the interpolation at v. Non-numeric outputs evaluate to 0.
func (e Interpolate) Eval(v float64) float64 {
	stops := sortedStops(e.Stops)
	if len(stops) == 0 {
		return 0
	}
	if v <= stops[0].Input {
		return toFloat(stops[0].Output)
	}
	for i := 1; i < len(stops); i++ {
		lo, hi := stops[i-1], stops[i]
		if v <= hi.Input {
			span := hi.Input - lo.Input
			if span == 0 {
				return toFloat(hi.Output)
			}
			t := (v - lo.Input) / span
			return toFloat(lo.Output) + t*(toFloat(hi.Output)-toFloat(lo.Output))
		}
	}
	return toFloat(stops[len(stops)-1].Output)
}

// Evaluate resolves a paint or layout value for one feature at zoom. Plain
// values are returned unchanged.
func Evaluate(value any, props map[string]any, zoom float64) any {
	switch e := value.(type) {
	case Step:
		return e.Eval(input(e.Input, props, zoom))
	case *Step:
		return e.Eval(input(e.Input, props, zoom))
	case Interpolate:
		return e.Eval(input(e.Input, props, zoom))
	case *Interpolate:
		return e.Eval(input(e.Input, props, zoom))
	default:
		return value
	}
}

// EvaluateFloat is Evaluate for numeric properties, falling back to def.
func EvaluateFloat(value any, props map[string]any, zoom, def float64) float64 {
	if value == nil {
		return def
	}
	v := Evaluate(value, props, zoom)
	switch n := v.(type) {
	case float64, float32, int, int64:
		return toFloat(n)
	default:
		return def
	}
}

func input(name string, props map[string]any, zoom float64) float64 {
	if name == InputZoom {
		return zoom
	}
	return toFloat(props[name])
}

func sortedStops(stops []Stop) []Stop {
	if sort.SliceIsSorted(stops, func(i, j int) bool { return stops[i].Input < stops[j].Input }) {
		return stops
	}
	out := append([]Stop(nil), stops...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Input < out[j].Input })
	return out
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	default:
		return 0
	}
}
