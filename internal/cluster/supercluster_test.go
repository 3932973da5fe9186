package cluster

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var world = orb.Bound{Min: orb.Point{-180, -85}, Max: orb.Point{180, 85}}

func pointCollection(points ...orb.Point) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, p := range points {
		f := geojson.NewFeature(p)
		f.ID = fmt.Sprintf("p%d", i)
		fc.Append(f)
	}
	return fc
}

func randomCollection(n int, seed int64, bounds orb.Bound) *geojson.FeatureCollection {
	rng := rand.New(rand.NewSource(seed))
	points := make([]orb.Point, n)
	for i := range points {
		points[i] = orb.Point{
			bounds.Min.Lon() + rng.Float64()*(bounds.Max.Lon()-bounds.Min.Lon()),
			bounds.Min.Lat() + rng.Float64()*(bounds.Max.Lat()-bounds.Min.Lat()),
		}
	}
	return pointCollection(points...)
}

func countPoints(features []*geojson.Feature) int {
	total := 0
	for _, f := range features {
		if n, ok := f.Properties["point_count"].(int); ok {
			total += n
		} else {
			total++
		}
	}
	return total
}

func TestClustersConservePointCount(t *testing.T) {
	fc := randomCollection(2000, 42, orb.Bound{Min: orb.Point{-74, -15}, Max: orb.Point{-44, 5}})
	idx := New(fc, DefaultOptions())
	require.Equal(t, 2000, idx.NumPoints())

	for z := 0; z <= 16; z++ {
		got := idx.Clusters(world, z)
		assert.Equal(t, 2000, countPoints(got), "zoom %d", z)
	}
}

func TestClustersAboveMaxZoomAreRawPoints(t *testing.T) {
	fc := pointCollection(orb.Point{10, 10}, orb.Point{10.0001, 10.0001})
	idx := New(fc, Options{MaxZoom: 14, Radius: 50})

	low := idx.Clusters(world, 3)
	require.Len(t, low, 1)
	assert.Equal(t, true, low[0].Properties["cluster"])
	assert.Equal(t, 2, low[0].Properties["point_count"])

	high := idx.Clusters(world, 15)
	require.Len(t, high, 2)
	assert.ElementsMatch(t, fc.Features, high)
}

func TestFarApartPointsStayUnclustered(t *testing.T) {
	fc := pointCollection(orb.Point{-62.2, -3.1}, orb.Point{36.8, -1.3}, orb.Point{115.1, -8.2})
	idx := New(fc, DefaultOptions())

	got := idx.Clusters(world, 2)
	require.Len(t, got, 3)
	for _, f := range got {
		assert.NotContains(t, f.Properties, "cluster")
	}
}

func TestExpansionZoomSplitsCluster(t *testing.T) {
	fc := randomCollection(300, 7, orb.Bound{Min: orb.Point{20, 20}, Max: orb.Point{21, 21}})
	idx := New(fc, DefaultOptions())

	clusters := idx.Clusters(world, 2)
	require.NotEmpty(t, clusters)

	for _, c := range clusters {
		id, ok := c.Properties["cluster_id"].(int)
		if !ok {
			continue
		}
		zoom, err := idx.ExpansionZoom(id)
		require.NoError(t, err)
		assert.Greater(t, zoom, 2)

		children, err := idx.Children(id)
		require.NoError(t, err)
		assert.Equal(t, c.Properties["point_count"], countPoints(children))
	}
}

func TestExpansionZoomUnknownCluster(t *testing.T) {
	idx := New(pointCollection(orb.Point{10, 10}), DefaultOptions())

	_, err := idx.ExpansionZoom(0)
	require.ErrorIs(t, err, ErrClusterNotFound)

	_, err = idx.ExpansionZoom(987654)
	require.ErrorIs(t, err, ErrClusterNotFound)
}

func TestLeavesReturnOriginalFeatures(t *testing.T) {
	fc := randomCollection(50, 3, orb.Bound{Min: orb.Point{5, 5}, Max: orb.Point{5.01, 5.01}})
	idx := New(fc, DefaultOptions())

	top := idx.Clusters(world, 0)
	require.Len(t, top, 1)
	id := top[0].Properties["cluster_id"].(int)

	all, err := idx.Leaves(id, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 50)

	page, err := idx.Leaves(id, 10, 5)
	require.NoError(t, err)
	assert.Len(t, page, 10)
}

func TestClustersAntimeridian(t *testing.T) {
	fc := pointCollection(orb.Point{179.5, 10}, orb.Point{-179.5, 10}, orb.Point{0, 10})
	idx := New(fc, Options{MaxZoom: 14, Radius: 1})

	got := idx.Clusters(orb.Bound{Min: orb.Point{170, 0}, Max: orb.Point{190, 20}}, 10)
	assert.Len(t, got, 2)
}

func TestNonPointFeaturesIgnored(t *testing.T) {
	fc := pointCollection(orb.Point{10, 10})
	fc.Append(geojson.NewFeature(orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}))

	idx := New(fc, DefaultOptions())
	assert.Equal(t, 1, idx.NumPoints())
}

func TestAbbreviate(t *testing.T) {
	assert.Equal(t, "7", Abbreviate(7))
	assert.Equal(t, "999", Abbreviate(999))
	assert.Equal(t, "1.2k", Abbreviate(1234))
	assert.Equal(t, "12k", Abbreviate(12345))
}
