// Package ledger is the narrow interface the core uses to move value. The
// underlying chain, wallets and signing all live behind the ledger node; the
// core only submits and awaits confirmations.
package ledger

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Terms describes the deal a new escrow contract is deployed for.
type Terms struct {
	BuyerAddress  string          `json:"buyer_address"`
	SellerAddress string          `json:"seller_address"`
	ProductName   string          `json:"product_name"`
	Quantity      int             `json:"quantity"`
	TotalPrice    decimal.Decimal `json:"total_price"`
}

// Deployment is the result of a confirmed contract deployment.
type Deployment struct {
	Address string          `json:"address"`
	ABI     json.RawMessage `json:"abi"`
}

// TransferRequest moves value between ledger addresses. IdempotencyKey is
// deterministic per logical fund movement: the node uses it to recognize a
// resubmission of a transfer whose first confirmation was lost to a timeout.
type TransferRequest struct {
	From            string          `json:"from"`
	To              string          `json:"to"`
	Amount          decimal.Decimal `json:"amount"`
	ContractAddress string          `json:"contract_address,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
}

// Confirmation is a confirmed transfer receipt.
type Confirmation struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber int64  `json:"block_number"`
}

// Client is the ledger interface the lifecycle depends on. Both calls block
// until the ledger confirms, fails, or the context deadline passes. The
// client does not deduplicate on its own beyond the idempotency-key lookup;
// callers are responsible for not double-submitting concurrently.
type Client interface {
	// Deploy deploys a new escrow contract. Wraps models.ErrDeployment on
	// any failure; no partial result is returned.
	Deploy(ctx context.Context, terms Terms) (*Deployment, error)

	// Transfer submits a value transfer and waits for confirmation. Wraps
	// models.ErrLedger (connection, revert, or timeout sub-case) on failure.
	Transfer(ctx context.Context, req TransferRequest) (*Confirmation, error)
}
