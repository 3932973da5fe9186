package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/osem/internal/types"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "fixtures.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func square(lon, lat, size float64) orb.Polygon {
	return orb.Polygon{{
		{lon, lat}, {lon + size, lat}, {lon + size, lat + size}, {lon, lat + size}, {lon, lat},
	}}
}

func fptr(v float64) *float64 { return &v }

func TestOpen_CreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	require.NoError(t, err)

	for _, table := range []string{"metadata", "organizations", "polygons", "layers"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s", table)
	}
}

func TestOpenReadOnly_RejectsForeignDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := OpenReadOnly(path)
	assert.Error(t, err)
}

func TestOrganizations_RoundTrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	err := s.PutOrganizations(ctx, []Organization{
		{ID: 2, Name: "Bosque Vivo", Country: "PE", GPSLat: fptr(-12.05), GPSLon: fptr(-77.04)},
		{ID: 1, Name: "Green Belt", Website: "https://example.org", Email: "info@example.org"},
	})
	require.NoError(t, err)

	orgs, err := s.Organizations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, orgs, 2)

	assert.Equal(t, int64(1), orgs[0].ID)
	assert.Nil(t, orgs[0].GPSLat)
	assert.Equal(t, "https://example.org", orgs[0].Website)

	require.NotNil(t, orgs[1].GPSLat)
	assert.InDelta(t, -12.05, *orgs[1].GPSLat, 1e-9)

	limited, err := s.Organizations(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestOrganization_Record(t *testing.T) {
	rec := Organization{ID: 7, Name: "Acme", GPSLat: fptr(52.1), GPSLon: fptr(9.7)}.Record()

	assert.Equal(t, int64(7), rec["id"])
	assert.Equal(t, 52.1, rec["gpsLat"])
	assert.NotContains(t, rec, "website")
}

func TestPolygons_BatchAndBounds(t *testing.T) {
	s := openTemp(t)
	s.batchSize = 2
	ctx := context.Background()

	require.NoError(t, s.AddPolygon(Polygon{ID: "a", Name: "Hannover", Geometry: square(9.7, 52.3, 0.1)}))
	require.NoError(t, s.AddPolygon(Polygon{ID: "b", Name: "Lima", Geometry: square(-77.1, -12.1, 0.1)}))
	require.NoError(t, s.AddPolygon(Polygon{ID: "c", Name: "Fiji", Geometry: square(179.9, -17.1, 0.05)}))

	// The third polygon is still buffered.
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Polygons)

	require.NoError(t, s.Flush())

	germany := types.BoundingBox{MinLon: 5, MinLat: 47, MaxLon: 15, MaxLat: 55}
	polys, err := s.PolygonsInBounds(ctx, germany, 0)
	require.NoError(t, err)
	require.Len(t, polys, 1)
	assert.Equal(t, "a", polys[0].ID)
	assert.Equal(t, "Hannover", polys[0].Name)
	_, ok := polys[0].Geometry.(orb.Polygon)
	assert.True(t, ok)

	antimeridian := types.BoundingBox{MinLon: 179, MinLat: -20, MaxLon: -179, MaxLat: -15}
	polys, err = s.PolygonsInBounds(ctx, antimeridian, 0)
	require.NoError(t, err)
	require.Len(t, polys, 1)
	assert.Equal(t, "c", polys[0].ID)

	world := types.BoundingBox{MinLon: -180, MinLat: -85, MaxLon: 180, MaxLat: 85}
	polys, err = s.PolygonsInBounds(ctx, world, 2)
	require.NoError(t, err)
	assert.Len(t, polys, 2)
}

func TestPolygon_NotFound(t *testing.T) {
	s := openTemp(t)

	_, err := s.Polygon(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPolygonFromFeature(t *testing.T) {
	f := geojson.NewFeature(square(10, 50, 1))
	f.Properties["id"] = 42.0
	f.Properties["name"] = "Harz"
	f.Properties["projectId"] = 3.0
	f.Properties["area"] = 12.5

	p, err := PolygonFromFeature(f)
	require.NoError(t, err)
	assert.Equal(t, "42", p.ID)
	assert.Equal(t, "3", p.ProjectID)
	assert.Equal(t, 12.5, p.Area)

	_, err = PolygonFromFeature(geojson.NewFeature(orb.Point{1, 2}))
	assert.Error(t, err)

	_, err = PolygonFromFeature(geojson.NewFeature(square(0, 0, 1)))
	assert.Error(t, err, "feature without id")
}

func TestPolygon_Record(t *testing.T) {
	rec, err := Polygon{ID: "x", Geometry: square(10, 50, 1)}.Record()
	require.NoError(t, err)
	assert.Equal(t, "x", rec["id"])
	assert.Contains(t, string(rec["geometry"].(json.RawMessage)), `"Polygon"`)
}

func TestLayers_RoundTrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(square(10, 50, 1)))
	fc.Append(geojson.NewFeature(square(11, 50, 1)))
	require.NoError(t, s.PutLayer(ctx, "protected-areas", fc))

	got, err := s.Layer(ctx, "protected-areas")
	require.NoError(t, err)
	assert.Len(t, got.Features, 2)

	infos, err := s.Layers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []LayerInfo{{Name: "protected-areas", FeatureCount: 2}}, infos)

	_, err = s.Layer(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.PutLayer(ctx, "", fc))
}

func TestMetadata(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.SetMetadata(ctx, "name", "demo"))
	require.NoError(t, s.SetMetadata(ctx, "name", "demo-2"))

	meta, err := s.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "demo-2"}, meta)
}

func TestOpenReadOnly_ReadsWrittenData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.AddPolygon(Polygon{ID: "a", Geometry: square(9.7, 52.3, 0.1)}))
	require.NoError(t, s.Close())

	ro, err := OpenReadOnly(path)
	require.NoError(t, err)
	defer ro.Close()

	st, err := ro.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Polygons)
}
