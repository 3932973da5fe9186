package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/MeKo-Tech/osem/internal/worker"
	"github.com/paulmach/orb/geojson"
)

// Seeder imports seed files from a file system into a store.
// It implements worker.Importer.
type Seeder struct {
	Store  *Store
	FS     fs.FS
	Logger *slog.Logger
}

// Import reads task.Path from the seeder's file system and writes its records.
// Polygons are buffered; call Store.Flush once all tasks are done.
func (s Seeder) Import(ctx context.Context, task worker.Task) (int, error) {
	data, err := fs.ReadFile(s.FS, task.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", task.Path, err)
	}

	var n int
	switch task.Kind {
	case worker.KindOrganizations:
		n, err = s.importOrganizations(ctx, data)
	case worker.KindPolygons:
		n, err = s.importPolygons(ctx, data)
	case worker.KindLayer:
		n, err = s.importLayer(ctx, task.Name, data)
	default:
		return 0, fmt.Errorf("unknown import kind %q", task.Kind)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to import %s: %w", task.Path, err)
	}

	s.log().Debug("imported seed file", "path", task.Path, "kind", string(task.Kind), "records", n)
	return n, nil
}

func (s Seeder) importOrganizations(ctx context.Context, data []byte) (int, error) {
	var orgs []Organization
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Organizations []Organization `json:"organizations"`
			Data          []Organization `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return 0, fmt.Errorf("failed to decode organizations: %w", err)
		}
		orgs = append(wrapped.Organizations, wrapped.Data...)
	} else if err := json.Unmarshal(trimmed, &orgs); err != nil {
		return 0, fmt.Errorf("failed to decode organizations: %w", err)
	}

	if err := s.Store.PutOrganizations(ctx, orgs); err != nil {
		return 0, err
	}
	return len(orgs), nil
}

func (s Seeder) importPolygons(ctx context.Context, data []byte) (int, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return 0, fmt.Errorf("failed to decode feature collection: %w", err)
	}

	n := 0
	for i, f := range fc.Features {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		p, err := PolygonFromFeature(f)
		if err != nil {
			s.log().Warn("skipping feature", "index", i, "error", err)
			continue
		}
		if err := s.Store.AddPolygon(p); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s Seeder) importLayer(ctx context.Context, name string, data []byte) (int, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return 0, fmt.Errorf("failed to decode feature collection: %w", err)
	}
	if err := s.Store.PutLayer(ctx, name, fc); err != nil {
		return 0, err
	}
	return len(fc.Features), nil
}

func (s Seeder) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
