package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/paulmach/orb/geojson"
)

// LayerInfo describes a stored reference layer.
type LayerInfo struct {
	Name         string `json:"name"`
	FeatureCount int    `json:"featureCount"`
}

// PutLayer stores a reference layer's feature collection under name,
// replacing any previous version. The GeoJSON is gzip-compressed.
func (s *Store) PutLayer(ctx context.Context, name string, fc *geojson.FeatureCollection) error {
	if name == "" {
		return fmt.Errorf("layer name must not be empty")
	}
	raw, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode layer %s: %w", name, err)
	}
	compressed, err := gzipCompress(raw)
	if err != nil {
		return fmt.Errorf("failed to compress layer %s: %w", name, err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO layers (name, feature_count, data) VALUES (?, ?, ?)",
		name, len(fc.Features), compressed,
	)
	if err != nil {
		return fmt.Errorf("failed to insert layer %s: %w", name, err)
	}
	return nil
}

// LayerData returns the stored GeoJSON of a layer, uncompressed.
func (s *Store) LayerData(ctx context.Context, name string) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM layers WHERE name = ?", name).Scan(&compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("layer %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read layer %s: %w", name, err)
	}

	data, err := gzipDecompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress layer %s: %w", name, err)
	}
	return data, nil
}

// Layer returns a stored layer as a feature collection.
func (s *Store) Layer(ctx context.Context, name string) (*geojson.FeatureCollection, error) {
	data, err := s.LayerData(ctx, name)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode layer %s: %w", name, err)
	}
	return fc, nil
}

// Layers lists the stored reference layers by name.
func (s *Store) Layers(ctx context.Context) ([]LayerInfo, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, feature_count FROM layers ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query layers: %w", err)
	}
	defer rows.Close()

	var out []LayerInfo
	for rows.Next() {
		var li LayerInfo
		if err := rows.Scan(&li.Name, &li.FeatureCount); err != nil {
			return nil, fmt.Errorf("failed to scan layer row: %w", err)
		}
		out = append(out, li)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating layers: %w", err)
	}
	return out, nil
}

// gzipCompress compresses data using gzip.
func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)

	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// gzipDecompress decompresses gzip data.
func gzipDecompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	return io.ReadAll(gr)
}
