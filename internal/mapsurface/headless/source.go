package headless

import (
	"github.com/MeKo-Tech/osem/internal/cluster"
	"github.com/MeKo-Tech/osem/internal/mapsurface"
	"github.com/paulmach/orb/geojson"
)

type source struct {
	id      string
	spec    mapsurface.SourceSpec
	data    *geojson.FeatureCollection
	index   *cluster.Index
	updates int
}

// SetData replaces the data and rebuilds the clustering index.
func (s *source) SetData(fc *geojson.FeatureCollection) {
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}
	s.data = fc
	s.updates++
	if !s.spec.Cluster {
		return
	}
	opts := cluster.DefaultOptions()
	if s.spec.ClusterRadius > 0 {
		opts.Radius = s.spec.ClusterRadius
	}
	if s.spec.ClusterMaxZoom > 0 {
		opts.MaxZoom = s.spec.ClusterMaxZoom
	}
	s.index = cluster.New(fc, opts)
}

func (s *source) ClusterExpansionZoom(clusterID int) (int, error) {
	if s.index == nil {
		return 0, ErrNotClustered
	}
	return s.index.ExpansionZoom(clusterID)
}

// SourceData returns the current data of a source and how many times it has
// been set, or false if the source does not exist.
func (m *Map) SourceData(id string) (*geojson.FeatureCollection, int, bool) {
	s, ok := m.sources[id]
	if !ok {
		return nil, 0, false
	}
	return s.data, s.updates, true
}
