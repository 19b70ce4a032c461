package repository

import (
	"context"
	"database/sql"
	"fmt"

	"soltrack/internal/models"

	"go.uber.org/zap"
)

// TelemetryRepository queries the telemetry_readings table. Writes happen in
// the ingestion service; the core only reads.
type TelemetryRepository interface {
	// LatestByDevice returns the most recent reading, or (nil, nil) when the
	// device has no data yet. Staleness is the caller's concern.
	LatestByDevice(ctx context.Context, deviceID string) (*models.TelemetryReading, error)

	// StatsForBand aggregates readings for a device against a temperature
	// band: total count, in-band count, average temperature.
	StatsForBand(ctx context.Context, deviceID string, maxTemp float64, minTemp *float64) (*models.TelemetryStats, error)
}

// PostgresTelemetryRepository is the production TelemetryRepository.
type PostgresTelemetryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresTelemetryRepository creates the repository.
func NewPostgresTelemetryRepository(db *sql.DB, logger *zap.Logger) *PostgresTelemetryRepository {
	return &PostgresTelemetryRepository{db: db, logger: logger}
}

var _ TelemetryRepository = (*PostgresTelemetryRepository)(nil)

func (r *PostgresTelemetryRepository) LatestByDevice(ctx context.Context, deviceID string) (*models.TelemetryReading, error) {
	query := `
		SELECT device_id, temperature, battery, gps_lat, gps_long, recorded_at
		FROM telemetry_readings
		WHERE device_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1
	`

	var reading models.TelemetryReading
	var temperature, battery, gpsLat, gpsLong sql.NullFloat64
	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&reading.DeviceID, &temperature, &battery, &gpsLat, &gpsLong, &reading.RecordedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest reading for %s: %w", deviceID, err)
	}

	if temperature.Valid {
		reading.Temperature = &temperature.Float64
	}
	if battery.Valid {
		reading.Battery = &battery.Float64
	}
	if gpsLat.Valid {
		reading.GPSLat = &gpsLat.Float64
	}
	if gpsLong.Valid {
		reading.GPSLong = &gpsLong.Float64
	}
	return &reading, nil
}

func (r *PostgresTelemetryRepository) StatsForBand(ctx context.Context, deviceID string, maxTemp float64, minTemp *float64) (*models.TelemetryStats, error) {
	// The band is contract-specific: max always applies, min only when set.
	query := `
		SELECT
			COUNT(*)::int,
			COUNT(*) FILTER (
				WHERE temperature <= $2 AND ($3::float8 IS NULL OR temperature >= $3)
			)::int,
			COALESCE(AVG(temperature), 0)
		FROM telemetry_readings
		WHERE device_id = $1 AND temperature IS NOT NULL
	`

	var stats models.TelemetryStats
	err := r.db.QueryRowContext(ctx, query, deviceID, maxTemp, minTemp).Scan(
		&stats.TotalRecords, &stats.NormalRecords, &stats.AvgTemp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate readings for %s: %w", deviceID, err)
	}
	return &stats, nil
}
