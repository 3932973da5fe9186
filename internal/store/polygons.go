package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/MeKo-Tech/osem/internal/features"
	"github.com/MeKo-Tech/osem/internal/types"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Polygon is one planted land area of a project.
type Polygon struct {
	ID        string
	Name      string
	ProjectID string
	LandID    string
	Status    string
	Area      float64 // hectares
	Geometry  orb.Geometry
}

// Bound returns the polygon's bounding box.
func (p Polygon) Bound() orb.Bound {
	return p.Geometry.Bound()
}

// Record returns the polygon as an API row with its geometry as raw GeoJSON.
func (p Polygon) Record() (features.Record, error) {
	raw, err := json.Marshal(geojson.NewGeometry(p.Geometry))
	if err != nil {
		return nil, fmt.Errorf("failed to encode geometry of %s: %w", p.ID, err)
	}
	return features.Record{
		"id":        p.ID,
		"name":      p.Name,
		"projectId": p.ProjectID,
		"landId":    p.LandID,
		"status":    p.Status,
		"area":      p.Area,
		"geometry":  json.RawMessage(raw),
	}, nil
}

// PolygonFromFeature reads a polygon from a GeoJSON feature. The id comes
// from the feature id or an "id" property.
func PolygonFromFeature(f *geojson.Feature) (Polygon, error) {
	switch f.Geometry.(type) {
	case orb.Polygon, orb.MultiPolygon:
	default:
		return Polygon{}, fmt.Errorf("unsupported geometry type %s", geometryType(f.Geometry))
	}

	id := f.ID
	if id == nil {
		id = f.Properties["id"]
	}
	if id == nil {
		return Polygon{}, fmt.Errorf("feature has no id")
	}

	return Polygon{
		ID:        fmt.Sprint(id),
		Name:      f.Properties.MustString("name", ""),
		ProjectID: propertyString(f.Properties, "projectId"),
		LandID:    propertyString(f.Properties, "landId"),
		Status:    f.Properties.MustString("status", ""),
		Area:      f.Properties.MustFloat64("area", 0),
		Geometry:  f.Geometry,
	}, nil
}

func geometryType(g orb.Geometry) string {
	if g == nil {
		return "<nil>"
	}
	return g.GeoJSONType()
}

func propertyString(p geojson.Properties, key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// AddPolygon buffers a polygon for insertion, flushing when the batch is full.
// It is safe for concurrent use.
func (s *Store) AddPolygon(p Polygon) error {
	if p.Geometry == nil {
		return fmt.Errorf("polygon %s has no geometry", p.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.batch = append(s.batch, p)
	if len(s.batch) >= s.batchSize {
		return s.flushLocked()
	}
	return nil
}

// Flush writes any buffered polygons to the database.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// flushLocked writes the current batch in a single transaction.
// Caller must hold s.mu.
func (s *Store) flushLocked() error {
	if len(s.batch) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO polygons
			(id, name, project_id, land_id, status, area, geometry, min_lon, min_lat, max_lon, max_lat)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range s.batch {
		raw, err := json.Marshal(geojson.NewGeometry(p.Geometry))
		if err != nil {
			return fmt.Errorf("failed to encode geometry of %s: %w", p.ID, err)
		}
		b := p.Bound()
		_, err = stmt.Exec(p.ID, p.Name, p.ProjectID, p.LandID, p.Status, p.Area, string(raw),
			b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat())
		if err != nil {
			return fmt.Errorf("failed to insert polygon %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.batch = s.batch[:0]
	return nil
}

// PolygonsInBounds returns the polygons whose bounding box intersects bbox,
// ordered by id. A box with MinLon > MaxLon crosses the antimeridian.
// A non-positive limit returns all matches.
func (s *Store) PolygonsInBounds(ctx context.Context, bbox types.BoundingBox, limit int) ([]Polygon, error) {
	query := `SELECT id, name, project_id, land_id, status, area, geometry
		FROM polygons WHERE min_lat <= ? AND max_lat >= ?`
	args := []any{bbox.MaxLat, bbox.MinLat}
	if bbox.MinLon <= bbox.MaxLon {
		query += " AND min_lon <= ? AND max_lon >= ?"
		args = append(args, bbox.MaxLon, bbox.MinLon)
	} else {
		query += " AND (max_lon >= ? OR min_lon <= ?)"
		args = append(args, bbox.MinLon, bbox.MaxLon)
	}
	query += " ORDER BY id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return s.queryPolygons(ctx, query, args...)
}

// Polygon returns one polygon by id.
func (s *Store) Polygon(ctx context.Context, id string) (Polygon, error) {
	polys, err := s.queryPolygons(ctx, `SELECT id, name, project_id, land_id, status, area, geometry
		FROM polygons WHERE id = ?`, id)
	if err != nil {
		return Polygon{}, err
	}
	if len(polys) == 0 {
		return Polygon{}, fmt.Errorf("polygon %s: %w", id, ErrNotFound)
	}
	return polys[0], nil
}

func (s *Store) queryPolygons(ctx context.Context, query string, args ...any) ([]Polygon, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query polygons: %w", err)
	}
	defer rows.Close()

	var out []Polygon
	for rows.Next() {
		var p Polygon
		var name, project, land, status sql.NullString
		var area sql.NullFloat64
		var raw string
		if err := rows.Scan(&p.ID, &name, &project, &land, &status, &area, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan polygon row: %w", err)
		}
		g, err := geojson.UnmarshalGeometry([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to decode geometry of %s: %w", p.ID, err)
		}
		p.Name = name.String
		p.ProjectID = project.String
		p.LandID = land.String
		p.Status = status.String
		p.Area = area.Float64
		p.Geometry = g.Geometry()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating polygons: %w", err)
	}
	return out, nil
}
