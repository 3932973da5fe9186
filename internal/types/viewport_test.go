package types

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundingBoxExpandByFraction(t *testing.T) {
	b := BoundingBox{MinLon: 10, MinLat: 20, MaxLon: 30, MaxLat: 40}

	expanded := b.ExpandByFraction(0.1)
	// width=20, height=20 => delta=2 on each side
	if expanded.MinLon != 8 || expanded.MaxLon != 32 || expanded.MinLat != 18 || expanded.MaxLat != 42 {
		t.Fatalf("unexpected expanded bbox: %+v", expanded)
	}

	unchanged := b.ExpandByFraction(0)
	if unchanged != b {
		t.Fatalf("expected unchanged bbox, got %+v", unchanged)
	}
}

func TestFetchQueryFormatting(t *testing.T) {
	v := ViewportState{
		Zoom: 9.4567,
		Bounds: BoundingBox{
			MinLon: -62.1234567,
			MinLat: -3.5,
			MaxLon: -61.0000004,
			MaxLat: -2.25,
		},
	}

	q := v.FetchQuery(200)
	assert.Equal(t, "9.5", q.Get("zoom"))
	assert.Equal(t, "-3.500000", q.Get("minLat"))
	assert.Equal(t, "-2.250000", q.Get("maxLat"))
	assert.Equal(t, "-62.123457", q.Get("minLng"))
	assert.Equal(t, "-61.000000", q.Get("maxLng"))
	assert.Equal(t, "200", q.Get("limit"))

	assert.Empty(t, v.FetchQuery(0).Get("limit"))
}

func TestParseFetchQueryRoundTrip(t *testing.T) {
	v := ViewportState{
		Zoom:   10,
		Bounds: BoundingBox{MinLon: 9.7, MinLat: 52.3, MaxLon: 9.9, MaxLat: 52.4},
	}

	got, limit, err := ParseFetchQuery(v.FetchQuery(25))
	require.NoError(t, err)
	assert.Equal(t, 25, limit)
	assert.InDelta(t, 10, got.Zoom, 1e-9)
	assert.InDelta(t, 9.7, got.Bounds.MinLon, 1e-6)
	assert.InDelta(t, 52.4, got.Bounds.MaxLat, 1e-6)
	assert.InDelta(t, 9.8, got.Center.Lon(), 1e-6)
}

func TestParseFetchQueryMissingBounds(t *testing.T) {
	q := ViewportState{Zoom: 3}.FetchQuery(0)
	q.Del("maxLng")

	_, _, err := ParseFetchQuery(q)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maxLng")
}

func TestBoundingBoxContains(t *testing.T) {
	b := BoundingBoxFromBound(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}})
	assert.True(t, b.Contains(orb.Point{5, 5}))
	assert.True(t, b.Contains(orb.Point{10, 0}))
	assert.False(t, b.Contains(orb.Point{11, 5}))
}
