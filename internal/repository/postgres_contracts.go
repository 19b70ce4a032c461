package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"soltrack/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PostgresContractsRepository is the production ContractsRepository on the
// contracts table.
type PostgresContractsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresContractsRepository creates the repository.
func NewPostgresContractsRepository(db *sql.DB, logger *zap.Logger) *PostgresContractsRepository {
	return &PostgresContractsRepository{db: db, logger: logger}
}

var _ ContractsRepository = (*PostgresContractsRepository)(nil)

const contractColumns = `
	contract_id, buyer_address, seller_address, product_name, quantity,
	unit_price, total_price, escrow_fee, contract_address, contract_abi,
	max_temp, min_temp, device_id,
	start_lat, start_lon, end_lat, end_lon,
	status, start_date, end_date, delivered_at, created_at, updated_at`

func (r *PostgresContractsRepository) Create(ctx context.Context, c *models.Contract) (*models.Contract, error) {
	query := `
		INSERT INTO contracts (
			buyer_address, seller_address, product_name, quantity,
			unit_price, total_price, escrow_fee, contract_address, contract_abi,
			max_temp, min_temp, device_id,
			start_lat, start_lon, end_lat, end_lon,
			status, start_date, end_date, delivered_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING contract_id, created_at, updated_at
	`

	var startLat, startLon, endLat, endLon sql.NullFloat64
	if c.StartCoord != nil {
		startLat = sql.NullFloat64{Float64: c.StartCoord.Lat, Valid: true}
		startLon = sql.NullFloat64{Float64: c.StartCoord.Lon, Valid: true}
	}
	if c.EndCoord != nil {
		endLat = sql.NullFloat64{Float64: c.EndCoord.Lat, Valid: true}
		endLon = sql.NullFloat64{Float64: c.EndCoord.Lon, Valid: true}
	}

	abi := []byte(c.ContractABI)
	if len(abi) == 0 {
		abi = []byte("null")
	}

	err := r.db.QueryRowContext(ctx, query,
		c.BuyerAddress, c.SellerAddress, c.ProductName, c.Quantity,
		c.UnitPrice.String(), c.TotalPrice.String(), c.EscrowFee.String(),
		c.ContractAddress, abi,
		c.MaxTemp, c.MinTemp, c.DeviceID,
		startLat, startLon, endLat, endLon,
		c.Status, c.StartDate, c.EndDate, c.DeliveredAt,
	).Scan(&c.ContractID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert contract: %w", err)
	}

	return c, nil
}

func (r *PostgresContractsRepository) GetByID(ctx context.Context, id int64) (*models.Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts WHERE contract_id = $1`

	c, err := scanContract(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("contract %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query contract %d: %w", id, err)
	}
	return c, nil
}

func (r *PostgresContractsRepository) FindByStatus(ctx context.Context, statuses []string, filters ContractFilters) ([]*models.Contract, error) {
	where := []string{"status = ANY($1)"}
	args := []interface{}{pq.Array(statuses)}

	switch filters.Role {
	case models.RoleBuyer:
		where = append(where, fmt.Sprintf("buyer_address = $%d", len(args)+1))
		args = append(args, filters.Address)
	case models.RoleSeller:
		where = append(where, fmt.Sprintf("seller_address = $%d", len(args)+1))
		args = append(args, filters.Address)
	}

	query := `SELECT ` + contractColumns + ` FROM contracts WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY contract_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts by status: %w", err)
	}
	defer rows.Close()

	var contracts []*models.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contract: %w", err)
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

func (r *PostgresContractsRepository) UpdateStatusIf(ctx context.Context, id int64, expect []string, upd StatusUpdate) (bool, error) {
	query := `
		UPDATE contracts SET
			status = $3,
			start_lat = COALESCE($4, start_lat),
			start_lon = COALESCE($5, start_lon),
			start_date = COALESCE($6, start_date),
			end_date = COALESCE($7, end_date),
			delivered_at = COALESCE($8, delivered_at),
			updated_at = NOW()
		WHERE contract_id = $1 AND status = ANY($2)
	`

	var startLat, startLon sql.NullFloat64
	if upd.StartCoord != nil {
		startLat = sql.NullFloat64{Float64: upd.StartCoord.Lat, Valid: true}
		startLon = sql.NullFloat64{Float64: upd.StartCoord.Lon, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, query,
		id, pq.Array(expect), upd.Status,
		startLat, startLon, upd.StartDate, upd.EndDate, upd.DeliveredAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update contract %d status: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		r.logger.Debug("status guard did not match",
			zap.Int64("contract_id", id),
			zap.Strings("expect", expect),
			zap.String("target", upd.Status),
		)
	}
	return affected > 0, nil
}

func (r *PostgresContractsRepository) StatusCounts(ctx context.Context, filters ContractFilters) (map[string]int, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	switch filters.Role {
	case models.RoleBuyer:
		where = append(where, fmt.Sprintf("buyer_address = $%d", len(args)+1))
		args = append(args, filters.Address)
	case models.RoleSeller:
		where = append(where, fmt.Sprintf("seller_address = $%d", len(args)+1))
		args = append(args, filters.Address)
	}

	query := `SELECT status, COUNT(*)::int FROM contracts WHERE ` +
		strings.Join(where, " AND ") + ` GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count contracts by status: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanContract(row rowScanner) (*models.Contract, error) {
	var c models.Contract
	var unitPrice, totalPrice, escrowFee string
	var abi []byte
	var minTemp sql.NullFloat64
	var deviceID sql.NullString
	var startLat, startLon, endLat, endLon sql.NullFloat64
	var startDate, endDate, deliveredAt sql.NullTime

	err := row.Scan(
		&c.ContractID, &c.BuyerAddress, &c.SellerAddress, &c.ProductName, &c.Quantity,
		&unitPrice, &totalPrice, &escrowFee, &c.ContractAddress, &abi,
		&c.MaxTemp, &minTemp, &deviceID,
		&startLat, &startLon, &endLat, &endLon,
		&c.Status, &startDate, &endDate, &deliveredAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if c.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
		return nil, fmt.Errorf("bad unit_price %q: %w", unitPrice, err)
	}
	if c.TotalPrice, err = decimal.NewFromString(totalPrice); err != nil {
		return nil, fmt.Errorf("bad total_price %q: %w", totalPrice, err)
	}
	if c.EscrowFee, err = decimal.NewFromString(escrowFee); err != nil {
		return nil, fmt.Errorf("bad escrow_fee %q: %w", escrowFee, err)
	}

	c.ContractABI = abi
	if minTemp.Valid {
		c.MinTemp = &minTemp.Float64
	}
	if deviceID.Valid {
		c.DeviceID = &deviceID.String
	}
	if startLat.Valid && startLon.Valid {
		c.StartCoord = &models.Coordinate{Lat: startLat.Float64, Lon: startLon.Float64}
	}
	if endLat.Valid && endLon.Valid {
		c.EndCoord = &models.Coordinate{Lat: endLat.Float64, Lon: endLon.Float64}
	}
	if startDate.Valid {
		c.StartDate = &startDate.Time
	}
	if endDate.Valid {
		c.EndDate = &endDate.Time
	}
	if deliveredAt.Valid {
		c.DeliveredAt = &deliveredAt.Time
	}
	return &c, nil
}
