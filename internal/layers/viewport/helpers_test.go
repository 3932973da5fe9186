package viewport

import (
	"time"

	"github.com/MeKo-Tech/osem/internal/types"
	"github.com/paulmach/orb"
)

const (
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func viewportAt(center orb.Point, zoom float64) types.ViewportState {
	return types.ViewportState{Zoom: zoom, Center: center}
}
