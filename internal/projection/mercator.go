// Package projection converts between WGS84 longitude/latitude and the
// normalized and pixel spaces of the Web Mercator projection (EPSG:3857).
package projection

import (
	"math"

	"github.com/paulmach/orb"
)

// TileSize is the pixel size of one world tile at zoom 0.
const TileSize = 512.0

// MaxLatitude is the latitude at which Web Mercator is clipped.
const MaxLatitude = 85.051128779806604

// LngX maps a longitude to the normalized [0,1] x axis.
func LngX(lng float64) float64 {
	return lng/360.0 + 0.5
}

// LatY maps a latitude to the normalized [0,1] y axis (0 at the north edge).
func LatY(lat float64) float64 {
	sin := math.Sin(lat * math.Pi / 180.0)
	y := 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi
	switch {
	case y < 0:
		return 0
	case y > 1:
		return 1
	default:
		return y
	}
}

// XLng is the inverse of LngX.
func XLng(x float64) float64 {
	return (x - 0.5) * 360.0
}

// YLat is the inverse of LatY.
func YLat(y float64) float64 {
	y2 := (180.0 - y*360.0) * math.Pi / 180.0
	return 360.0*math.Atan(math.Exp(y2))/math.Pi - 90.0
}

// WorldSize returns the width of the world in pixels at a (fractional) zoom.
func WorldSize(zoom float64) float64 {
	return TileSize * math.Pow(2, zoom)
}

// ToPixel projects a lon/lat point to world pixel coordinates at zoom.
func ToPixel(p orb.Point, zoom float64) (x, y float64) {
	ws := WorldSize(zoom)
	return LngX(p.Lon()) * ws, LatY(p.Lat()) * ws
}

// FromPixel unprojects world pixel coordinates at zoom to a lon/lat point.
func FromPixel(x, y, zoom float64) orb.Point {
	ws := WorldSize(zoom)
	return orb.Point{XLng(x / ws), YLat(y / ws)}
}

// ViewBounds returns the lon/lat bounds of a width×height pixel viewport
// centered on center at zoom. Latitudes are clamped to the projection limits;
// longitudes are not wrapped.
func ViewBounds(center orb.Point, zoom float64, width, height int) orb.Bound {
	cx, cy := ToPixel(ClampLat(center), zoom)
	hw, hh := float64(width)/2, float64(height)/2

	nw := FromPixel(cx-hw, cy-hh, zoom)
	se := FromPixel(cx+hw, cy+hh, zoom)

	return orb.Bound{
		Min: orb.Point{nw.Lon(), math.Max(se.Lat(), -MaxLatitude)},
		Max: orb.Point{se.Lon(), math.Min(nw.Lat(), MaxLatitude)},
	}
}

// ClampLat limits a point's latitude to the Web Mercator range.
func ClampLat(p orb.Point) orb.Point {
	return orb.Point{p.Lon(), math.Max(-MaxLatitude, math.Min(MaxLatitude, p.Lat()))}
}

// WrapLng normalizes a longitude to [-180, 180). In-range values are
// returned unchanged.
func WrapLng(lng float64) float64 {
	if lng >= -180 && lng < 180 {
		return lng
	}
	w := math.Mod(lng+180, 360)
	if w < 0 {
		w += 360
	}
	return w - 180
}

// LonLatToMercator converts WGS84 coordinates to Web Mercator meters.
func LonLatToMercator(lon, lat float64) (float64, float64) {
	const earthRadius = 6378137.0 // meters

	x := earthRadius * lon * math.Pi / 180.0
	latRad := lat * math.Pi / 180.0
	y := earthRadius * math.Log(math.Tan(math.Pi/4.0+latRad/2.0))

	return x, y
}
