// README: Fare rule source backed by PostgreSQL (read-only).
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RuleSource looks up configured fares. ok is false when no rule exists.
type RuleSource interface {
	ZoneToDestination(ctx context.Context, zone, destination string) (amount float64, ok bool, err error)
	ZoneToZone(ctx context.Context, fromZone, toZone string) (amount float64, ok bool, err error)
}

type PostgresRules struct {
	db *pgxpool.Pool
}

func NewPostgresRules(db *pgxpool.Pool) *PostgresRules {
	return &PostgresRules{db: db}
}

func (s *PostgresRules) ZoneToDestination(ctx context.Context, zone, destination string) (float64, bool, error) {
	return s.lookup(ctx, `
        SELECT amount FROM fare_rules
        WHERE zone_name = $1 AND lower(destination_name) = lower($2) AND is_active
        LIMIT 1`, zone, destination)
}

func (s *PostgresRules) ZoneToZone(ctx context.Context, fromZone, toZone string) (float64, bool, error) {
	return s.lookup(ctx, `
        SELECT amount FROM fare_rules
        WHERE zone_name = $1 AND destination_zone = $2 AND is_active
        LIMIT 1`, fromZone, toZone)
}

func (s *PostgresRules) lookup(ctx context.Context, query string, args ...any) (float64, bool, error) {
	var amount float64
	err := s.db.QueryRow(ctx, query, args...).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("querying fare rule: %w", err)
	}
	return amount, true, nil
}
