package repository

import (
	"context"

	"soltrack/internal/models"
)

// PartiesRepository resolves ledger addresses to off-ledger profiles. The
// parties table is owned by the accounts service; the core only reads it.
type PartiesRepository interface {
	// GetByAddress returns models.ErrNotFound for unknown addresses.
	GetByAddress(ctx context.Context, address string) (*models.Party, error)

	// ListByRole lists parties with the given role.
	ListByRole(ctx context.Context, role string) ([]*models.Party, error)
}
