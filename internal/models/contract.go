package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Contract statuses. Transitions only move forward along the state machine:
// Pending -> Ongoing -> Completed, with Refunded reachable from Pending and
// Ongoing. Completed and Refunded are terminal. "Active" exists on legacy rows
// written by earlier deployments and is grouped with Ongoing when filtering.
const (
	StatusPending   = "Pending"
	StatusActive    = "Active"
	StatusOngoing   = "Ongoing"
	StatusCompleted = "Completed"
	StatusRefunded  = "Refunded"
)

// Party roles.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// Coordinate is a GPS point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Contract is the central entity: one escrow-backed purchase between a buyer
// and a seller, bound to a deployed ledger contract and optionally to a
// tracking device. Rows are never hard-deleted, only terminal-stated.
type Contract struct {
	ContractID    int64   `json:"contract_id" db:"contract_id"`
	BuyerAddress  string  `json:"buyer_address" db:"buyer_address"`
	SellerAddress string  `json:"seller_address" db:"seller_address"`
	ProductName   string  `json:"product_name" db:"product_name"`
	Quantity      int     `json:"quantity" db:"quantity"`

	// Money is exact decimal, never binary floating point.
	UnitPrice  decimal.Decimal `json:"unit_price" db:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price" db:"total_price"`
	EscrowFee  decimal.Decimal `json:"escrow_fee" db:"escrow_fee"`

	ContractAddress string          `json:"contract_address" db:"contract_address"`
	ContractABI     json.RawMessage `json:"contract_abi,omitempty" db:"contract_abi"`

	MaxTemp float64  `json:"max_temp" db:"max_temp"`
	MinTemp *float64 `json:"min_temp,omitempty" db:"min_temp"`

	DeviceID *string `json:"device_id,omitempty" db:"device_id"`

	StartCoord *Coordinate `json:"start_coord,omitempty"`
	EndCoord   *Coordinate `json:"end_coord,omitempty"`

	Status      string     `json:"status" db:"status"`
	StartDate   *time.Time `json:"start_date,omitempty" db:"start_date"`
	EndDate     *time.Time `json:"end_date,omitempty" db:"end_date"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the contract reached a final state.
func (c *Contract) IsTerminal() bool {
	return c.Status == StatusCompleted || c.Status == StatusRefunded
}

// AmountDue is the total the funding party transfers at activation:
// fixed escrow fee plus the contract price.
func (c *Contract) AmountDue() decimal.Decimal {
	return c.EscrowFee.Add(c.TotalPrice)
}

// InBand reports whether a temperature reading is inside the contract's
// acceptable band. The band is contract-specific: max_temp always applies,
// min_temp only when set.
func (c *Contract) InBand(temperature float64) bool {
	if temperature > c.MaxTemp {
		return false
	}
	if c.MinTemp != nil && temperature < *c.MinTemp {
		return false
	}
	return true
}

// OngoingStatuses are the statuses a shipment-in-flight can carry,
// including the legacy alias.
func OngoingStatuses() []string {
	return []string{StatusActive, StatusOngoing}
}

// Party is an off-ledger profile resolved from a ledger address.
type Party struct {
	Address   string   `json:"address" db:"address"`
	FullName  string   `json:"full_name" db:"full_name"`
	Role      string   `json:"role" db:"role"`
	Latitude  *float64 `json:"latitude,omitempty" db:"latitude"`
	Longitude *float64 `json:"longitude,omitempty" db:"longitude"`
}

// Location returns the party's profile coordinate, if both components exist.
func (p *Party) Location() *Coordinate {
	if p.Latitude == nil || p.Longitude == nil {
		return nil
	}
	return &Coordinate{Lat: *p.Latitude, Lon: *p.Longitude}
}
