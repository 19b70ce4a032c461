// Package lifecycle owns the contract state machine:
//
//	Pending -> Ongoing -> Completed
//	Pending -> Refunded
//	Ongoing -> Refunded
//
// Completed and Refunded are terminal. Every fund movement is confirmed on
// the ledger before the new status is persisted, so on-ledger and off-ledger
// state cannot diverge into "money moved but status stale" without the
// idempotency-key reconciliation path catching it on retry.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"soltrack/internal/evaluator"
	"soltrack/internal/ledger"
	"soltrack/internal/models"
	"soltrack/internal/repository"
	"soltrack/internal/telemetry"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Options are the lifecycle policy knobs.
type Options struct {
	// EscrowAddress is the neutral ledger address holding funds in flight.
	EscrowAddress string

	// FixedFee is added on top of the contract price at activation.
	FixedFee decimal.Decimal

	// FundingRole is "buyer" or "seller": which party funds the escrow.
	FundingRole string

	// ReleaseOnArrival makes automatic arrival detection also release the
	// escrowed funds. When false, arrival only records delivered_at and an
	// explicit complete action moves the funds.
	ReleaseOnArrival bool
}

// Manager orchestrates contract transitions. All collaborators are injected
// so tests can run against in-memory doubles.
type Manager struct {
	contracts repository.ContractsRepository
	parties   repository.PartiesRepository
	ledger    ledger.Client
	gateway   telemetry.Gateway
	delivery  *evaluator.DeliveryEvaluator
	opts      Options
	locks     *lockTable
	logger    *zap.Logger
	now       func() time.Time
}

// NewManager creates the lifecycle manager.
func NewManager(
	contracts repository.ContractsRepository,
	parties repository.PartiesRepository,
	ledgerClient ledger.Client,
	gateway telemetry.Gateway,
	delivery *evaluator.DeliveryEvaluator,
	opts Options,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		contracts: contracts,
		parties:   parties,
		ledger:    ledgerClient,
		gateway:   gateway,
		delivery:  delivery,
		opts:      opts,
		locks:     newLockTable(),
		logger:    logger,
		now:       time.Now,
	}
}

// CreateRequest carries the commercial terms of a new contract.
type CreateRequest struct {
	BuyerAddress  string
	SellerAddress string
	ProductName   string
	Quantity      int
	UnitPrice     decimal.Decimal
	MaxTemp       float64
	MinTemp       *float64
	DeviceID      *string
}

// Create deploys a ledger contract for the terms and persists a Pending row.
// All-or-nothing: a failed deployment leaves no row behind.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*models.Contract, error) {
	if req.Quantity <= 0 {
		return nil, models.Validationf("quantity must be positive, got %d", req.Quantity)
	}
	if !req.UnitPrice.IsPositive() {
		return nil, models.Validationf("unit price must be positive, got %s", req.UnitPrice)
	}
	if req.BuyerAddress == "" || req.SellerAddress == "" {
		return nil, models.Validationf("buyer and seller addresses are required")
	}
	if strings.EqualFold(req.BuyerAddress, req.SellerAddress) {
		return nil, models.Validationf("buyer and seller must differ")
	}
	if req.ProductName == "" {
		return nil, models.Validationf("product name is required")
	}

	buyer, err := m.parties.GetByAddress(ctx, req.BuyerAddress)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.Validationf("unknown buyer address %s", req.BuyerAddress)
		}
		return nil, err
	}
	if _, err := m.parties.GetByAddress(ctx, req.SellerAddress); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.Validationf("unknown seller address %s", req.SellerAddress)
		}
		return nil, err
	}

	totalPrice := req.UnitPrice.Mul(decimal.NewFromInt(int64(req.Quantity)))

	deployment, err := m.ledger.Deploy(ctx, ledger.Terms{
		BuyerAddress:  req.BuyerAddress,
		SellerAddress: req.SellerAddress,
		ProductName:   req.ProductName,
		Quantity:      req.Quantity,
		TotalPrice:    totalPrice,
	})
	if err != nil {
		return nil, err
	}

	c := &models.Contract{
		BuyerAddress:    req.BuyerAddress,
		SellerAddress:   req.SellerAddress,
		ProductName:     req.ProductName,
		Quantity:        req.Quantity,
		UnitPrice:       req.UnitPrice,
		TotalPrice:      totalPrice,
		EscrowFee:       m.opts.FixedFee,
		ContractAddress: deployment.Address,
		ContractABI:     deployment.ABI,
		MaxTemp:         req.MaxTemp,
		MinTemp:         req.MinTemp,
		DeviceID:        req.DeviceID,
		EndCoord:        buyer.Location(),
		Status:          models.StatusPending,
	}

	created, err := m.contracts.Create(ctx, c)
	if err != nil {
		return nil, err
	}

	m.logger.Info("contract created",
		zap.Int64("contract_id", created.ContractID),
		zap.String("contract_address", created.ContractAddress),
		zap.String("total_price", created.TotalPrice.String()),
	)
	return created, nil
}

// Activate moves Pending -> Ongoing: the funding party pays fee + price into
// escrow, then the start point and start date are recorded. Re-invoking on an
// already-Ongoing contract is a no-op returning the current state.
func (m *Manager) Activate(ctx context.Context, id int64, callerAddress string, coord *models.Coordinate) (*models.Contract, error) {
	unlock := m.locks.acquire(id)
	defer unlock()

	c, err := m.contracts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.Status == models.StatusOngoing || c.Status == models.StatusActive {
		return c, nil // duplicate trigger
	}
	if c.Status != models.StatusPending {
		return nil, models.Authorizationf("contract %d is %s, cannot activate", id, c.Status)
	}

	payerAddress := c.BuyerAddress
	if m.opts.FundingRole == models.RoleSeller {
		payerAddress = c.SellerAddress
	}
	if !strings.EqualFold(callerAddress, payerAddress) {
		return nil, models.Authorizationf("contract %d must be funded by the %s (%s)",
			id, m.opts.FundingRole, payerAddress)
	}

	amount := c.AmountDue()
	if _, err := m.ledger.Transfer(ctx, ledger.TransferRequest{
		From:            payerAddress,
		To:              m.opts.EscrowAddress,
		Amount:          amount,
		ContractAddress: c.ContractAddress,
		IdempotencyKey:  transferKey(id, "activate"),
	}); err != nil {
		// Status stays Pending; the caller may retry and the idempotency key
		// keeps a confirmed-but-unreported transfer from doubling.
		return nil, err
	}

	startCoord := coord
	if startCoord == nil {
		if payer, err := m.parties.GetByAddress(ctx, payerAddress); err == nil {
			startCoord = payer.Location()
		}
	}

	now := m.now().UTC()
	ok, err := m.contracts.UpdateStatusIf(ctx, id, []string{models.StatusPending}, repository.StatusUpdate{
		Status:     models.StatusOngoing,
		StartCoord: startCoord,
		StartDate:  &now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		m.logger.Warn("activation raced with another transition", zap.Int64("contract_id", id))
	} else {
		m.logger.Info("contract activated",
			zap.Int64("contract_id", id),
			zap.String("amount", amount.String()),
			zap.String("payer", payerAddress),
		)
	}

	return m.contracts.GetByID(ctx, id)
}

// Complete releases the escrowed price to the seller and moves the contract
// to Completed. On a terminal contract it is a no-op returning current state.
// caller is the buyer address confirming receipt; an empty caller is an
// operator action and skips the address check.
func (m *Manager) Complete(ctx context.Context, id int64, caller string) (*models.Contract, error) {
	unlock := m.locks.acquire(id)
	defer unlock()

	c, err := m.contracts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkSettleCaller(c, caller); err != nil {
		return nil, err
	}
	if c.IsTerminal() {
		return c, nil
	}
	if c.Status != models.StatusOngoing && c.Status != models.StatusActive {
		return nil, models.Authorizationf("contract %d is %s, cannot complete", id, c.Status)
	}

	return m.release(ctx, c)
}

// release moves the escrowed price to the seller and persists Completed.
// Callers hold the contract lock. The fixed fee stays with the escrow
// operator.
func (m *Manager) release(ctx context.Context, c *models.Contract) (*models.Contract, error) {
	if _, err := m.ledger.Transfer(ctx, ledger.TransferRequest{
		From:            m.opts.EscrowAddress,
		To:              c.SellerAddress,
		Amount:          c.TotalPrice,
		ContractAddress: c.ContractAddress,
		IdempotencyKey:  transferKey(c.ContractID, "complete"),
	}); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	upd := repository.StatusUpdate{
		Status:  models.StatusCompleted,
		EndDate: &now,
	}
	if c.DeliveredAt == nil {
		upd.DeliveredAt = &now
	}
	if _, err := m.contracts.UpdateStatusIf(ctx, c.ContractID,
		[]string{models.StatusOngoing, models.StatusActive}, upd); err != nil {
		return nil, err
	}

	m.logger.Info("escrow released to seller",
		zap.Int64("contract_id", c.ContractID),
		zap.String("amount", c.TotalPrice.String()),
		zap.String("seller", c.SellerAddress),
	)
	return m.contracts.GetByID(ctx, c.ContractID)
}

// Refund returns escrowed funds to the buyer and moves the contract to
// Refunded. From Pending nothing has been escrowed yet, so only the status
// changes. On a terminal contract it is a no-op returning current state.
// caller follows the same rule as Complete: the buyer address, or empty for
// an operator action.
func (m *Manager) Refund(ctx context.Context, id int64, caller string) (*models.Contract, error) {
	unlock := m.locks.acquire(id)
	defer unlock()

	c, err := m.contracts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkSettleCaller(c, caller); err != nil {
		return nil, err
	}
	if c.IsTerminal() {
		return c, nil
	}

	escrowed := c.Status == models.StatusOngoing || c.Status == models.StatusActive
	if !escrowed && c.Status != models.StatusPending {
		return nil, models.Authorizationf("contract %d is %s, cannot refund", id, c.Status)
	}

	if escrowed {
		if _, err := m.ledger.Transfer(ctx, ledger.TransferRequest{
			From:            m.opts.EscrowAddress,
			To:              c.BuyerAddress,
			Amount:          c.AmountDue(),
			ContractAddress: c.ContractAddress,
			IdempotencyKey:  transferKey(id, "refund"),
		}); err != nil {
			return nil, err
		}
	}

	now := m.now().UTC()
	if _, err := m.contracts.UpdateStatusIf(ctx, id,
		[]string{models.StatusPending, models.StatusOngoing, models.StatusActive},
		repository.StatusUpdate{Status: models.StatusRefunded, EndDate: &now},
	); err != nil {
		return nil, err
	}

	m.logger.Info("contract refunded",
		zap.Int64("contract_id", id),
		zap.Bool("funds_returned", escrowed),
	)
	return m.contracts.GetByID(ctx, id)
}

// EvaluateDelivery computes delivery progress for a contract and applies the
// arrival transition when warranted. Evaluation itself never mutates; only
// the arrival branch does, under the contract lock.
func (m *Manager) EvaluateDelivery(ctx context.Context, id int64) (evaluator.Progress, *models.Contract, error) {
	c, err := m.contracts.GetByID(ctx, id)
	if err != nil {
		return evaluator.Progress{}, nil, err
	}

	reading, err := m.latestReading(ctx, c)
	if err != nil {
		m.logger.Warn("telemetry lookup failed, evaluating without reading",
			zap.Int64("contract_id", id), zap.Error(err))
		reading = nil
	}

	progress := m.delivery.Evaluate(c, reading)
	if !progress.Arrived || c.IsTerminal() || c.DeliveredAt != nil {
		return progress, c, nil
	}

	unlock := m.locks.acquire(id)
	defer unlock()

	// Re-read under the lock: another caller may have already transitioned.
	c, err = m.contracts.GetByID(ctx, id)
	if err != nil {
		return progress, nil, err
	}
	if c.IsTerminal() || c.DeliveredAt != nil {
		return progress, c, nil
	}

	if m.opts.ReleaseOnArrival {
		released, err := m.release(ctx, c)
		if err != nil {
			// Funds stay escrowed and the contract stays Ongoing; the next
			// poll retries under the same idempotency key.
			m.logger.Error("arrival release failed, will retry",
				zap.Int64("contract_id", id), zap.Error(err))
			return progress, c, nil
		}
		m.logger.Info("shipment arrived, escrow released", zap.Int64("contract_id", id))
		return progress, released, nil
	}

	// Manual release policy: record physical delivery only.
	now := m.now().UTC()
	if _, err := m.contracts.UpdateStatusIf(ctx, id,
		[]string{models.StatusOngoing, models.StatusActive},
		repository.StatusUpdate{Status: c.Status, DeliveredAt: &now, EndDate: &now},
	); err != nil {
		return progress, c, err
	}
	m.logger.Info("shipment arrived, awaiting explicit release", zap.Int64("contract_id", id))

	c, err = m.contracts.GetByID(ctx, id)
	return progress, c, err
}

func (m *Manager) latestReading(ctx context.Context, c *models.Contract) (*models.TelemetryReading, error) {
	if c.DeviceID == nil || *c.DeviceID == "" {
		return nil, nil
	}
	return m.gateway.LatestReading(ctx, *c.DeviceID)
}

// checkSettleCaller rejects settlement triggered on behalf of a different
// buyer. Funds only ever move to the contract's own seller or buyer, but the
// decision to settle belongs to this contract's buyer, not any buyer.
func checkSettleCaller(c *models.Contract, caller string) error {
	if caller == "" || strings.EqualFold(caller, c.BuyerAddress) {
		return nil
	}
	return models.Authorizationf("contract %d can only be settled by its buyer (%s)",
		c.ContractID, c.BuyerAddress)
}

func transferKey(id int64, transition string) string {
	return fmt.Sprintf("contract-%d-%s", id, transition)
}
