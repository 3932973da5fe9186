package mapsurface

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStep_Eval(t *testing.T) {
	s := Step{
		Input: "point_count",
		Base:  "light",
		Stops: []Stop{{Input: 50, Output: "deep"}, {Input: 10, Output: "medium"}},
	}

	assert.Equal(t, "light", s.Eval(2))
	assert.Equal(t, "medium", s.Eval(10))
	assert.Equal(t, "medium", s.Eval(49))
	assert.Equal(t, "deep", s.Eval(50))
	assert.Equal(t, "deep", s.Eval(5000))
}

func TestInterpolate_Eval(t *testing.T) {
	e := Interpolate{Input: InputZoom, Stops: []Stop{{Input: 2, Output: 0.0}, {Input: 4, Output: 1.0}}}

	assert.InDelta(t, 0.0, e.Eval(0), 1e-9)
	assert.InDelta(t, 0.5, e.Eval(3), 1e-9)
	assert.InDelta(t, 1.0, e.Eval(10), 1e-9)
	assert.Zero(t, Interpolate{}.Eval(3))
}

func TestEvaluate(t *testing.T) {
	props := map[string]any{"point_count": 12}
	radius := Step{Input: "point_count", Base: 15.0, Stops: []Stop{{Input: 10, Output: 20.0}}}

	assert.Equal(t, 20.0, Evaluate(radius, props, 3))
	assert.Equal(t, "#fff", Evaluate("#fff", props, 3))
	assert.InDelta(t, 1.0, EvaluateFloat(Interpolate{Input: InputZoom, Stops: []Stop{{0, 0.0}, {1, 1.0}}}, nil, 5, 0), 1e-9)
	assert.Equal(t, 7.0, EvaluateFloat(nil, props, 3, 7))
	assert.Equal(t, 7.0, EvaluateFloat("x", props, 3, 7))
}

func TestVisibilityHelpers(t *testing.T) {
	assert.True(t, IsVisible(nil, false))
	assert.True(t, IsVisible(VisibilityOn, true))
	assert.False(t, IsVisible(VisibilityOff, true))
	assert.Equal(t, VisibilityOn, VisibilityValue(true))
	assert.Equal(t, VisibilityOff, VisibilityValue(false))
}
