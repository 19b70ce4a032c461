package repository

import (
	"context"
	"database/sql"
	"fmt"

	"soltrack/internal/models"

	"go.uber.org/zap"
)

// PostgresPartiesRepository reads the parties table.
type PostgresPartiesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresPartiesRepository creates the repository.
func NewPostgresPartiesRepository(db *sql.DB, logger *zap.Logger) *PostgresPartiesRepository {
	return &PostgresPartiesRepository{db: db, logger: logger}
}

var _ PartiesRepository = (*PostgresPartiesRepository)(nil)

func (r *PostgresPartiesRepository) GetByAddress(ctx context.Context, address string) (*models.Party, error) {
	query := `
		SELECT address, full_name, role, latitude, longitude
		FROM parties
		WHERE address = $1
	`

	var p models.Party
	var lat, lon sql.NullFloat64
	err := r.db.QueryRowContext(ctx, query, address).Scan(
		&p.Address, &p.FullName, &p.Role, &lat, &lon,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("party %s: %w", address, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query party %s: %w", address, err)
	}

	if lat.Valid {
		p.Latitude = &lat.Float64
	}
	if lon.Valid {
		p.Longitude = &lon.Float64
	}
	return &p, nil
}

func (r *PostgresPartiesRepository) ListByRole(ctx context.Context, role string) ([]*models.Party, error) {
	query := `
		SELECT address, full_name, role, latitude, longitude
		FROM parties
		WHERE LOWER(role) = LOWER($1)
		ORDER BY full_name
	`

	rows, err := r.db.QueryContext(ctx, query, role)
	if err != nil {
		return nil, fmt.Errorf("failed to query parties by role: %w", err)
	}
	defer rows.Close()

	var parties []*models.Party
	for rows.Next() {
		var p models.Party
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&p.Address, &p.FullName, &p.Role, &lat, &lon); err != nil {
			return nil, fmt.Errorf("failed to scan party: %w", err)
		}
		if lat.Valid {
			p.Latitude = &lat.Float64
		}
		if lon.Valid {
			p.Longitude = &lon.Float64
		}
		parties = append(parties, &p)
	}
	return parties, rows.Err()
}
