package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MeKo-Tech/osem/internal/features"
)

// Organization is one partner organization. Coordinates are optional; rows
// without them are still listed but never become pins.
type Organization struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Website     string   `json:"website,omitempty"`
	Country     string   `json:"country,omitempty"`
	Description string   `json:"description,omitempty"`
	LogoURL     string   `json:"logoUrl,omitempty"`
	Email       string   `json:"email,omitempty"`
	GPSLat      *float64 `json:"gpsLat"`
	GPSLon      *float64 `json:"gpsLon"`
}

// Record returns the organization as an API row.
func (o Organization) Record() features.Record {
	rec := features.Record{
		"id":   o.ID,
		"name": o.Name,
	}
	set := func(key, v string) {
		if v != "" {
			rec[key] = v
		}
	}
	set("website", o.Website)
	set("country", o.Country)
	set("description", o.Description)
	set("logoUrl", o.LogoURL)
	set("email", o.Email)
	if o.GPSLat != nil {
		rec["gpsLat"] = *o.GPSLat
	}
	if o.GPSLon != nil {
		rec["gpsLon"] = *o.GPSLon
	}
	return rec
}

// PutOrganizations inserts or replaces organizations in one transaction.
func (s *Store) PutOrganizations(ctx context.Context, orgs []Organization) error {
	if len(orgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO organizations
			(id, name, website, country, description, logo_url, email, gps_lat, gps_lon)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, o := range orgs {
		_, err := stmt.ExecContext(ctx, o.ID, o.Name, o.Website, o.Country, o.Description,
			o.LogoURL, o.Email, nullFloat(o.GPSLat), nullFloat(o.GPSLon))
		if err != nil {
			return fmt.Errorf("failed to insert organization %d: %w", o.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Organizations lists organizations ordered by id. A non-positive limit returns all rows.
func (s *Store) Organizations(ctx context.Context, limit int) ([]Organization, error) {
	query := `SELECT id, name, website, country, description, logo_url, email, gps_lat, gps_lon
		FROM organizations ORDER BY id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query organizations: %w", err)
	}
	defer rows.Close()

	var out []Organization
	for rows.Next() {
		var o Organization
		var website, country, description, logo, email sql.NullString
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&o.ID, &o.Name, &website, &country, &description, &logo, &email, &lat, &lon); err != nil {
			return nil, fmt.Errorf("failed to scan organization row: %w", err)
		}
		o.Website = website.String
		o.Country = country.String
		o.Description = description.String
		o.LogoURL = logo.String
		o.Email = email.String
		if lat.Valid {
			o.GPSLat = &lat.Float64
		}
		if lon.Valid {
			o.GPSLon = &lon.Float64
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating organizations: %w", err)
	}
	return out, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
