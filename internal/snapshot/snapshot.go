// Package snapshot rasterizes a headless map session to an image: fill and
// line layers, cluster and point circles, and DOM markers as dots. Text is
// not drawn.
package snapshot

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/osem/internal/mapsurface"
	"github.com/MeKo-Tech/osem/internal/mapsurface/headless"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/image/vector"
)

// Options controls the rendered image.
type Options struct {
	Background   color.NRGBA
	MarkerColor  color.NRGBA
	MarkerRadius float64
	// Scale renders at a multiple of the map's pixel size (e.g. 2 for @2x).
	Scale float64
}

// DefaultOptions returns a light paper background with dark green markers.
func DefaultOptions() Options {
	return Options{
		Background:   color.NRGBA{R: 0xf4, G: 0xf1, B: 0xea, A: 0xff},
		MarkerColor:  color.NRGBA{R: 0x1b, G: 0x5e, B: 0x20, A: 0xff},
		MarkerRadius: 5,
		Scale:        1,
	}
}

// Renderer maps a headless map's screen space onto a canvas.
type Renderer struct {
	m     *headless.Map
	opts  Options
	w, h  int
	scale float64
}

// NewRenderer creates a renderer for m. Zero option fields take defaults.
func NewRenderer(m *headless.Map, opts Options) *Renderer {
	def := DefaultOptions()
	if opts.Background == (color.NRGBA{}) {
		opts.Background = def.Background
	}
	if opts.MarkerColor == (color.NRGBA{}) {
		opts.MarkerColor = def.MarkerColor
	}
	if opts.MarkerRadius <= 0 {
		opts.MarkerRadius = def.MarkerRadius
	}
	if opts.Scale <= 0 {
		opts.Scale = def.Scale
	}
	w, h := m.Size()
	return &Renderer{
		m:     m,
		opts:  opts,
		w:     int(math.Round(float64(w) * opts.Scale)),
		h:     int(math.Round(float64(h) * opts.Scale)),
		scale: opts.Scale,
	}
}

// Render draws the visible layers in style order, then the markers on top.
func (r *Renderer) Render() *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, r.w, r.h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(r.opts.Background), image.Point{}, draw.Src)

	zoom := r.m.Zoom()
	for _, rl := range r.m.RenderedLayers() {
		for _, f := range rl.Features {
			r.renderFeature(dst, rl.Layer, f, zoom)
		}
	}

	for _, mk := range r.m.Markers() {
		x, y := r.toPx(mk.LngLat())
		r.fillCircle(dst, x, y, r.opts.MarkerRadius*r.scale, r.opts.MarkerColor)
	}
	return dst
}

func (r *Renderer) renderFeature(dst *image.NRGBA, l mapsurface.Layer, f *geojson.Feature, zoom float64) {
	props := map[string]any(f.Properties)

	switch l.Type {
	case mapsurface.LayerFill:
		c, ok := paintColor(l.Paint["fill-color"], props, zoom)
		if !ok {
			return
		}
		c = withOpacity(c, mapsurface.EvaluateFloat(l.Paint["fill-opacity"], props, zoom, 1))
		for _, poly := range polygons(f.Geometry) {
			r.fillPolygon(dst, poly, c)
		}
	case mapsurface.LayerLine:
		c, ok := paintColor(l.Paint["line-color"], props, zoom)
		if !ok {
			return
		}
		c = withOpacity(c, mapsurface.EvaluateFloat(l.Paint["line-opacity"], props, zoom, 1))
		width := mapsurface.EvaluateFloat(l.Paint["line-width"], props, zoom, 1) * r.scale
		for _, ls := range lines(f.Geometry) {
			r.strokeLineString(dst, ls, width, c)
		}
	case mapsurface.LayerCircle:
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			return
		}
		radius := mapsurface.EvaluateFloat(l.Paint["circle-radius"], props, zoom, 5) * r.scale
		opacity := mapsurface.EvaluateFloat(l.Paint["circle-opacity"], props, zoom, 1)
		x, y := r.toPx(p)

		if sw := mapsurface.EvaluateFloat(l.Paint["circle-stroke-width"], props, zoom, 0); sw > 0 {
			if sc, ok := paintColor(l.Paint["circle-stroke-color"], props, zoom); ok {
				r.fillCircle(dst, x, y, radius+sw*r.scale, withOpacity(sc, opacity))
			}
		}
		if c, ok := paintColor(l.Paint["circle-color"], props, zoom); ok {
			r.fillCircle(dst, x, y, radius, withOpacity(c, opacity))
		}
	}
}

func (r *Renderer) toPx(p orb.Point) (float64, float64) {
	sp := r.m.Project(p)
	return sp.X * r.scale, sp.Y * r.scale
}

func (r *Renderer) fillPolygon(dst *image.NRGBA, poly orb.Polygon, c color.NRGBA) {
	if len(poly) == 0 || c.A == 0 {
		return
	}

	ras := vector.NewRasterizer(r.w, r.h)
	for _, ring := range poly {
		if len(ring) < 3 {
			continue
		}
		for i, pt := range ring {
			x, y := r.toPx(pt)
			if i == 0 {
				ras.MoveTo(float32(x), float32(y))
			} else {
				ras.LineTo(float32(x), float32(y))
			}
		}
		ras.ClosePath()
	}

	ras.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{})
}

// fillCircle approximates a disc with a 32-gon.
func (r *Renderer) fillCircle(dst *image.NRGBA, cx, cy, radius float64, c color.NRGBA) {
	if radius <= 0 || c.A == 0 {
		return
	}
	const segments = 32

	ras := vector.NewRasterizer(r.w, r.h)
	ras.MoveTo(float32(cx+radius), float32(cy))
	for i := 1; i < segments; i++ {
		a := 2 * math.Pi * float64(i) / segments
		ras.LineTo(float32(cx+radius*math.Cos(a)), float32(cy+radius*math.Sin(a)))
	}
	ras.ClosePath()

	ras.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{})
}

// strokeLineString stamps discs along each segment into a coverage mask and
// composites the color through it once, so overlapping stamps do not
// accumulate opacity.
func (r *Renderer) strokeLineString(dst *image.NRGBA, ls orb.LineString, width float64, c color.NRGBA) {
	if len(ls) < 2 || width <= 0 || c.A == 0 {
		return
	}
	mask := image.NewAlpha(dst.Bounds())
	radius := width / 2.0
	step := 0.75
	if width >= 5 {
		step = 0.9
	}

	for i := 0; i < len(ls)-1; i++ {
		x0, y0 := r.toPx(ls[i])
		x1, y1 := r.toPx(ls[i+1])

		dx := x1 - x0
		dy := y1 - y0
		segLen := math.Hypot(dx, dy)
		if segLen == 0 {
			stampDisc(mask, x0, y0, radius)
			continue
		}

		steps := int(math.Ceil(segLen / step))
		for s := 0; s <= steps; s++ {
			t := float64(s) / float64(steps)
			stampDisc(mask, x0+dx*t, y0+dy*t, radius)
		}
	}

	draw.DrawMask(dst, dst.Bounds(), image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
}

func stampDisc(mask *image.Alpha, cx, cy, radius float64) {
	b := mask.Bounds()
	minX := max(int(math.Floor(cx-radius)), b.Min.X)
	maxX := min(int(math.Ceil(cx+radius)), b.Max.X-1)
	minY := max(int(math.Floor(cy-radius)), b.Min.Y)
	maxY := min(int(math.Ceil(cy+radius)), b.Max.Y-1)

	// Sub-pixel widths still cover the pixel the line passes through.
	r2 := math.Max(radius*radius, 0.25)
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			dx := (float64(x) + 0.5) - cx
			dy := (float64(y) + 0.5) - cy
			if dx*dx+dy*dy <= r2 {
				mask.Pix[mask.PixOffset(x, y)] = 0xff
			}
		}
	}
}

func polygons(g orb.Geometry) []orb.Polygon {
	switch g := g.(type) {
	case orb.Polygon:
		return []orb.Polygon{g}
	case orb.MultiPolygon:
		return g
	case orb.Ring:
		return []orb.Polygon{{g}}
	default:
		return nil
	}
}

// lines returns the outlines of polygonal geometries and the lines of linear ones.
func lines(g orb.Geometry) []orb.LineString {
	switch g := g.(type) {
	case orb.LineString:
		return []orb.LineString{g}
	case orb.MultiLineString:
		return g
	case orb.Ring:
		return []orb.LineString{orb.LineString(g)}
	case orb.Polygon:
		out := make([]orb.LineString, 0, len(g))
		for _, ring := range g {
			out = append(out, orb.LineString(ring))
		}
		return out
	case orb.MultiPolygon:
		var out []orb.LineString
		for _, p := range g {
			out = append(out, lines(p)...)
		}
		return out
	default:
		return nil
	}
}

func paintColor(value any, props map[string]any, zoom float64) (color.NRGBA, bool) {
	s, ok := mapsurface.Evaluate(value, props, zoom).(string)
	if !ok {
		return color.NRGBA{}, false
	}
	c, err := ParseHexColor(s)
	if err != nil {
		return color.NRGBA{}, false
	}
	return c, true
}

func withOpacity(c color.NRGBA, opacity float64) color.NRGBA {
	opacity = math.Max(0, math.Min(1, opacity))
	c.A = uint8(math.Round(float64(c.A) * opacity))
	return c
}

// ParseHexColor parses #rgb, #rrggbb and #rrggbbaa colors.
func ParseHexColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

// ParseCompression maps a compression name (default, speed, best, none) to a PNG level.
func ParseCompression(name string) (png.CompressionLevel, error) {
	switch strings.ToLower(name) {
	case "", "default":
		return png.DefaultCompression, nil
	case "speed":
		return png.BestSpeed, nil
	case "best":
		return png.BestCompression, nil
	case "none":
		return png.NoCompression, nil
	default:
		return 0, fmt.Errorf("unknown png compression %q", name)
	}
}

// WritePNG renders m and encodes it to w.
func WritePNG(w io.Writer, m *headless.Map, opts Options, level png.CompressionLevel) error {
	img := NewRenderer(m, opts).Render()
	enc := png.Encoder{CompressionLevel: level}
	if err := enc.Encode(w, img); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}
