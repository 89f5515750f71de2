// README: Zone and boundary source backed by PostgreSQL (read-only).
package zone

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"rider/internal/types"
)

// Source is the remote config store the catalog reads from.
type Source interface {
	FetchZones(ctx context.Context) ([]Zone, error)
	FetchBoundaries(ctx context.Context) ([]Boundary, error)
}

type PostgresSource struct {
	db *pgxpool.Pool
}

func NewPostgresSource(db *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) FetchZones(ctx context.Context) ([]Zone, error) {
	rows, err := s.db.Query(ctx, `
        SELECT name, points, fill_color, stroke_color, is_active
        FROM fare_zones
        WHERE is_active
        ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying fare zones: %w", err)
	}
	defer rows.Close()

	var zones []Zone
	for rows.Next() {
		var z Zone
		var raw []byte
		if err := rows.Scan(&z.Name, &raw, &z.FillColor, &z.StrokeColor, &z.Active); err != nil {
			return nil, fmt.Errorf("scanning fare zone: %w", err)
		}
		if z.Points, err = decodeRing(raw); err != nil {
			return nil, fmt.Errorf("zone %q: %w", z.Name, err)
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

func (s *PostgresSource) FetchBoundaries(ctx context.Context) ([]Boundary, error) {
	rows, err := s.db.Query(ctx, `
        SELECT name, points, is_active
        FROM service_boundaries
        WHERE is_active
        ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying service boundaries: %w", err)
	}
	defer rows.Close()

	var out []Boundary
	for rows.Next() {
		var b Boundary
		var raw []byte
		if err := rows.Scan(&b.Name, &raw, &b.Active); err != nil {
			return nil, fmt.Errorf("scanning service boundary: %w", err)
		}
		if b.Points, err = decodeRing(raw); err != nil {
			return nil, fmt.Errorf("boundary %q: %w", b.Name, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// decodeRing parses a JSONB array of {"lat":..,"lng":..} objects.
func decodeRing(raw []byte) ([]types.Point, error) {
	var pts []types.Point
	if err := json.Unmarshal(raw, &pts); err != nil {
		return nil, fmt.Errorf("decoding points: %w", err)
	}
	return pts, nil
}
