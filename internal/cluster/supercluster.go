// Package cluster groups point features into zoom-dependent clusters using
// the hierarchical greedy algorithm popularised by supercluster: points are
// merged bottom-up from MaxZoom to MinZoom, each level clustering the one
// below it within a pixel radius.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/MeKo-Tech/osem/internal/projection"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrClusterNotFound is returned when a cluster id does not resolve to any level of the index.
var ErrClusterNotFound = errors.New("no cluster with the specified id")

// Options configures an Index.
type Options struct {
	MinZoom   int     // Lowest zoom at which points are clustered
	MaxZoom   int     // Highest zoom at which points are clustered
	MinPoints int     // Minimum points to form a cluster
	Radius    float64 // Cluster radius in pixels
	Extent    float64 // Tile extent the radius is relative to
	NodeSize  int     // KD-tree leaf size
}

// DefaultOptions mirrors the map renderer's clustering defaults.
func DefaultOptions() Options {
	return Options{
		MinZoom:   0,
		MaxZoom:   14,
		MinPoints: 2,
		Radius:    50,
		Extent:    512,
		NodeSize:  64,
	}
}

type node struct {
	x, y      float64
	zoom      int // last zoom this node was processed at
	index     int // source feature index for points, cluster id for clusters
	parentID  int
	numPoints int
	cluster   bool
}

type level struct {
	tree  *KDTree
	nodes []node
}

// Index is an immutable clustering index over a set of point features.
type Index struct {
	opts   Options
	levels []*level // indexed by zoom, MaxZoom+1 holds the raw points
	points []*geojson.Feature
}

// New builds an index from the Point features of fc. Non-point features are
// ignored; they never take part in clustering.
func New(fc *geojson.FeatureCollection, opts Options) *Index {
	def := DefaultOptions()
	if opts.MaxZoom <= 0 {
		opts.MaxZoom = def.MaxZoom
	}
	if opts.MinZoom < 0 || opts.MinZoom > opts.MaxZoom {
		opts.MinZoom = 0
	}
	if opts.MinPoints <= 0 {
		opts.MinPoints = def.MinPoints
	}
	if opts.Radius <= 0 {
		opts.Radius = def.Radius
	}
	if opts.Extent <= 0 {
		opts.Extent = def.Extent
	}
	if opts.NodeSize <= 0 {
		opts.NodeSize = def.NodeSize
	}

	idx := &Index{
		opts:   opts,
		levels: make([]*level, opts.MaxZoom+2),
	}

	var nodes []node
	if fc != nil {
		for _, f := range fc.Features {
			p, ok := f.Geometry.(orb.Point)
			if !ok {
				continue
			}
			idx.points = append(idx.points, f)
			nodes = append(nodes, node{
				x:         projection.LngX(p.Lon()),
				y:         projection.LatY(p.Lat()),
				zoom:      math.MaxInt32,
				index:     len(idx.points) - 1,
				parentID:  -1,
				numPoints: 1,
			})
		}
	}

	idx.levels[opts.MaxZoom+1] = newLevel(nodes, opts.NodeSize)
	for z := opts.MaxZoom; z >= opts.MinZoom; z-- {
		idx.levels[z] = newLevel(idx.cluster(idx.levels[z+1], z), opts.NodeSize)
	}
	return idx
}

func newLevel(nodes []node, nodeSize int) *level {
	xs := make([]float64, len(nodes))
	ys := make([]float64, len(nodes))
	for i, n := range nodes {
		xs[i], ys[i] = n.x, n.y
	}
	return &level{tree: NewKDTree(xs, ys, nodeSize), nodes: nodes}
}

// NumPoints returns how many point features the index holds.
func (idx *Index) NumPoints() int {
	return len(idx.points)
}

// Options returns the effective options after defaults were applied.
func (idx *Index) Options() Options {
	return idx.opts
}

func (idx *Index) radiusAt(zoom int) float64 {
	return idx.opts.Radius / (idx.opts.Extent * math.Pow(2, float64(zoom)))
}

func (idx *Index) cluster(prev *level, zoom int) []node {
	r := idx.radiusAt(zoom)
	var out []node

	for i := range prev.nodes {
		p := &prev.nodes[i]
		if p.zoom <= zoom {
			continue
		}
		p.zoom = zoom

		neighbors := prev.tree.Within(p.x, p.y, r)
		origin := p.numPoints
		numPoints := origin
		for _, nb := range neighbors {
			if prev.nodes[nb].zoom > zoom {
				numPoints += prev.nodes[nb].numPoints
			}
		}

		if numPoints > origin && numPoints >= idx.opts.MinPoints {
			wx := p.x * float64(origin)
			wy := p.y * float64(origin)
			id := (i << 5) + (zoom + 1) + len(idx.points)

			for _, nb := range neighbors {
				b := &prev.nodes[nb]
				if b.zoom <= zoom {
					continue
				}
				b.zoom = zoom
				wx += b.x * float64(b.numPoints)
				wy += b.y * float64(b.numPoints)
				b.parentID = id
			}

			p.parentID = id
			out = append(out, node{
				x:         wx / float64(numPoints),
				y:         wy / float64(numPoints),
				zoom:      math.MaxInt32,
				index:     id,
				parentID:  -1,
				numPoints: numPoints,
				cluster:   true,
			})
			continue
		}

		out = append(out, *p)
		if numPoints > 1 {
			for _, nb := range neighbors {
				b := &prev.nodes[nb]
				if b.zoom <= zoom {
					continue
				}
				b.zoom = zoom
				out = append(out, *b)
			}
		}
	}
	return out
}

func (idx *Index) limitZoom(z int) int {
	if z < idx.opts.MinZoom {
		return idx.opts.MinZoom
	}
	if z > idx.opts.MaxZoom+1 {
		return idx.opts.MaxZoom + 1
	}
	return z
}

// Clusters returns the clusters and unclustered points visible in bounds at zoom.
// Bounds crossing the antimeridian (Min.Lon > Max.Lon) are split in two.
func (idx *Index) Clusters(bounds orb.Bound, zoom int) []*geojson.Feature {
	minLng := math.Mod(math.Mod(bounds.Min.Lon()+180, 360)+360, 360) - 180
	maxLng := 180.0
	if bounds.Max.Lon() != 180 {
		maxLng = math.Mod(math.Mod(bounds.Max.Lon()+180, 360)+360, 360) - 180
	}
	minLat := math.Max(-90, math.Min(90, bounds.Min.Lat()))
	maxLat := math.Max(-90, math.Min(90, bounds.Max.Lat()))

	if bounds.Max.Lon()-bounds.Min.Lon() >= 360 {
		minLng, maxLng = -180, 180
	} else if minLng > maxLng {
		east := idx.Clusters(orb.Bound{Min: orb.Point{minLng, minLat}, Max: orb.Point{180, maxLat}}, zoom)
		west := idx.Clusters(orb.Bound{Min: orb.Point{-180, minLat}, Max: orb.Point{maxLng, maxLat}}, zoom)
		return append(east, west...)
	}

	lvl := idx.levels[idx.limitZoom(zoom)]
	ids := lvl.tree.Range(projection.LngX(minLng), projection.LatY(maxLat), projection.LngX(maxLng), projection.LatY(minLat))

	out := make([]*geojson.Feature, 0, len(ids))
	for _, id := range ids {
		out = append(out, idx.toFeature(lvl.nodes[id]))
	}
	return out
}

func (idx *Index) toFeature(n node) *geojson.Feature {
	if !n.cluster {
		return idx.points[n.index]
	}
	f := geojson.NewFeature(orb.Point{projection.XLng(n.x), projection.YLat(n.y)})
	f.ID = n.index
	f.Properties["cluster"] = true
	f.Properties["cluster_id"] = n.index
	f.Properties["point_count"] = n.numPoints
	f.Properties["point_count_abbreviated"] = Abbreviate(n.numPoints)
	return f
}

func (idx *Index) originID(clusterID int) int {
	return (clusterID - len(idx.points)) >> 5
}

func (idx *Index) originZoom(clusterID int) int {
	return (clusterID - len(idx.points)) % 32
}

// Children returns the features one zoom level below a cluster.
func (idx *Index) Children(clusterID int) ([]*geojson.Feature, error) {
	if clusterID < len(idx.points) {
		return nil, fmt.Errorf("%w: %d", ErrClusterNotFound, clusterID)
	}
	originID := idx.originID(clusterID)
	originZoom := idx.originZoom(clusterID)
	if originZoom < 0 || originZoom >= len(idx.levels) || idx.levels[originZoom] == nil {
		return nil, fmt.Errorf("%w: %d", ErrClusterNotFound, clusterID)
	}

	lvl := idx.levels[originZoom]
	if originID < 0 || originID >= len(lvl.nodes) {
		return nil, fmt.Errorf("%w: %d", ErrClusterNotFound, clusterID)
	}
	origin := lvl.nodes[originID]
	r := idx.opts.Radius / (idx.opts.Extent * math.Pow(2, float64(originZoom-1)))

	var children []*geojson.Feature
	for _, id := range lvl.tree.Within(origin.x, origin.y, r) {
		if lvl.nodes[id].parentID == clusterID {
			children = append(children, idx.toFeature(lvl.nodes[id]))
		}
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrClusterNotFound, clusterID)
	}
	return children, nil
}

// ExpansionZoom returns the zoom at which a cluster splits into more than one child.
func (idx *Index) ExpansionZoom(clusterID int) (int, error) {
	if clusterID < len(idx.points) {
		return 0, fmt.Errorf("%w: %d", ErrClusterNotFound, clusterID)
	}
	expansion := idx.originZoom(clusterID) - 1
	for expansion <= idx.opts.MaxZoom {
		children, err := idx.Children(clusterID)
		if err != nil {
			return 0, err
		}
		expansion++
		if len(children) != 1 {
			break
		}
		next, ok := children[0].Properties["cluster_id"].(int)
		if !ok {
			break
		}
		clusterID = next
	}
	return expansion, nil
}

// Leaves returns up to limit original point features under a cluster, skipping offset.
func (idx *Index) Leaves(clusterID, limit, offset int) ([]*geojson.Feature, error) {
	var leaves []*geojson.Feature
	if _, err := idx.appendLeaves(&leaves, clusterID, limit, offset, 0); err != nil {
		return nil, err
	}
	return leaves, nil
}

func (idx *Index) appendLeaves(out *[]*geojson.Feature, clusterID, limit, offset, skipped int) (int, error) {
	children, err := idx.Children(clusterID)
	if err != nil {
		return skipped, err
	}
	for _, child := range children {
		if cid, ok := child.Properties["cluster_id"].(int); ok && child.Properties["cluster"] == true {
			count, _ := child.Properties["point_count"].(int)
			if skipped+count <= offset {
				skipped += count
				continue
			}
			skipped, err = idx.appendLeaves(out, cid, limit, offset, skipped)
			if err != nil {
				return skipped, err
			}
		} else if skipped < offset {
			skipped++
		} else {
			*out = append(*out, child)
		}
		if limit > 0 && len(*out) == limit {
			break
		}
	}
	return skipped, nil
}

// Abbreviate formats a point count the way cluster labels show it: 1234 -> "1.2k".
func Abbreviate(count int) string {
	switch {
	case count >= 10000:
		return strconv.Itoa(int(math.Round(float64(count)/1000))) + "k"
	case count >= 1000:
		return strconv.FormatFloat(math.Round(float64(count)/100)/10, 'f', -1, 64) + "k"
	default:
		return strconv.Itoa(count)
	}
}
