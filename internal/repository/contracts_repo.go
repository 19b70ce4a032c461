package repository

import (
	"context"
	"time"

	"soltrack/internal/models"
)

// ContractFilters narrows FindByStatus results.
type ContractFilters struct {
	// Role + Address restrict to contracts where the address plays the role
	// ("buyer" or "seller"). Empty role means no party filter.
	Role    string
	Address string
}

// StatusUpdate is the field set applied by a conditional status update.
// Nil fields are left untouched.
type StatusUpdate struct {
	Status      string
	StartCoord  *models.Coordinate
	StartDate   *time.Time
	EndDate     *time.Time
	DeliveredAt *time.Time
}

// ContractsRepository persists contract records. Ids are assigned by the
// database sequence; callers never pick their own.
type ContractsRepository interface {
	// Create inserts a new row and returns it with the assigned id.
	Create(ctx context.Context, c *models.Contract) (*models.Contract, error)

	// GetByID returns models.ErrNotFound for unknown ids.
	GetByID(ctx context.Context, id int64) (*models.Contract, error)

	// FindByStatus lists contracts in any of the given statuses.
	FindByStatus(ctx context.Context, statuses []string, filters ContractFilters) ([]*models.Contract, error)

	// UpdateStatusIf atomically applies upd where the row's current status is
	// one of expect. Returns false when the guard did not match, which means
	// a concurrent caller already moved the contract.
	UpdateStatusIf(ctx context.Context, id int64, expect []string, upd StatusUpdate) (bool, error)

	// StatusCounts returns row counts grouped by status, subject to filters.
	StatusCounts(ctx context.Context, filters ContractFilters) (map[string]int, error)
}
