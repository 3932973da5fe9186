package session

import (
	"time"

	"github.com/MeKo-Tech/osem/internal/mapsurface"
	"github.com/paulmach/orb"
)

// RotationState is the globe auto-rotation state.
type RotationState int

const (
	RotationDisabled RotationState = iota
	Rotating
	Paused
	Stopped
)

func (s RotationState) String() string {
	switch s {
	case RotationDisabled:
		return "disabled"
	case Rotating:
		return "rotating"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Rotator spins the globe while nobody is interacting with it. Once an
// interaction ends at or above the stop zoom the rotation never resumes.
type Rotator struct {
	surface  mapsurface.Surface
	speed    float64
	stopZoom float64
	state    RotationState
}

// NewRotator returns a rotator in the Rotating state, or RotationDisabled
// when enabled is false.
func NewRotator(surface mapsurface.Surface, enabled bool, speed, stopZoom float64) *Rotator {
	r := &Rotator{surface: surface, speed: speed, stopZoom: stopZoom}
	if enabled {
		r.state = Rotating
	}
	return r
}

// State returns the current state.
func (r *Rotator) State() RotationState { return r.state }

// InteractionStart pauses rotation.
func (r *Rotator) InteractionStart() {
	if r.state == Rotating {
		r.state = Paused
	}
}

// InteractionEnd resumes rotation below the stop zoom and stops it for good
// otherwise.
func (r *Rotator) InteractionEnd() {
	if r.state != Paused {
		return
	}
	if r.surface.Zoom() < r.stopZoom {
		r.state = Rotating
		return
	}
	r.state = Stopped
}

// Tick advances the rotation by dt. Nothing moves unless the state is
// Rotating and the view is below the stop zoom.
func (r *Rotator) Tick(dt time.Duration) {
	if r.state != Rotating || dt <= 0 {
		return
	}
	zoom := r.surface.Zoom()
	if zoom >= r.stopZoom {
		return
	}
	c := r.surface.Center()
	r.surface.JumpTo(orb.Point{c.Lon() - r.speed*dt.Seconds(), c.Lat()}, zoom)
}
