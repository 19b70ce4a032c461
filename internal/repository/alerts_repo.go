package repository

import (
	"context"
	"database/sql"
	"fmt"

	"soltrack/internal/models"

	"go.uber.org/zap"
)

// AlertsRepository persists excursion alerts for the alerts feed.
type AlertsRepository interface {
	Insert(ctx context.Context, a *models.Alert) error

	// ListActive lists active alerts, newest first.
	ListActive(ctx context.Context, limit int) ([]*models.Alert, error)

	// HasActive reports whether the contract already has an active alert of
	// the given type, so the poller does not re-raise every tick.
	HasActive(ctx context.Context, contractID int64, alertType string) (bool, error)

	// Resolve marks all active alerts of the contract resolved.
	Resolve(ctx context.Context, contractID int64) error
}

// PostgresAlertsRepository is the production AlertsRepository.
type PostgresAlertsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresAlertsRepository creates the repository.
func NewPostgresAlertsRepository(db *sql.DB, logger *zap.Logger) *PostgresAlertsRepository {
	return &PostgresAlertsRepository{db: db, logger: logger}
}

var _ AlertsRepository = (*PostgresAlertsRepository)(nil)

func (r *PostgresAlertsRepository) Insert(ctx context.Context, a *models.Alert) error {
	query := `
		INSERT INTO alerts (
			alert_id, contract_id, device_id, alert_type, severity,
			message, temperature, threshold, status, triggered_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`

	_, err := r.db.ExecContext(ctx, query,
		a.AlertID, a.ContractID, a.DeviceID, a.AlertType, a.Severity,
		a.Message, a.Temperature, a.Threshold, a.Status, a.TriggeredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (r *PostgresAlertsRepository) ListActive(ctx context.Context, limit int) ([]*models.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT alert_id, contract_id, device_id, alert_type, severity,
		       message, temperature, threshold, status, triggered_at
		FROM alerts
		WHERE status = 'active'
		ORDER BY triggered_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query active alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(
			&a.AlertID, &a.ContractID, &a.DeviceID, &a.AlertType, &a.Severity,
			&a.Message, &a.Temperature, &a.Threshold, &a.Status, &a.TriggeredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

func (r *PostgresAlertsRepository) HasActive(ctx context.Context, contractID int64, alertType string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM alerts
			WHERE contract_id = $1 AND alert_type = $2 AND status = 'active'
		)
	`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, contractID, alertType).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check active alert: %w", err)
	}
	return exists, nil
}

func (r *PostgresAlertsRepository) Resolve(ctx context.Context, contractID int64) error {
	query := `UPDATE alerts SET status = 'resolved' WHERE contract_id = $1 AND status = 'active'`

	if _, err := r.db.ExecContext(ctx, query, contractID); err != nil {
		return fmt.Errorf("failed to resolve alerts for contract %d: %w", contractID, err)
	}
	return nil
}
