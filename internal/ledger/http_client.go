package ledger

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"soltrack/internal/config"
	"soltrack/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Transfer states reported by the ledger node.
const (
	txPending   = "pending"
	txConfirmed = "confirmed"
	txFailed    = "failed"
)

type transferStatus struct {
	TxHash      string `json:"tx_hash"`
	Status      string `json:"status"`
	BlockNumber int64  `json:"block_number"`
}

// HTTPClient talks to the ledger node's REST API.
type HTTPClient struct {
	http           *resty.Client
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         *zap.Logger
}

// NewHTTPClient creates the client from config.
func NewHTTPClient(cfg *config.LedgerConfig, logger *zap.Logger) *HTTPClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPClient{
		http:           client,
		confirmTimeout: cfg.ConfirmTimeout,
		pollInterval:   cfg.PollInterval,
		logger:         logger,
	}
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) Deploy(ctx context.Context, terms Terms) (*Deployment, error) {
	c.logger.Info("deploying escrow contract",
		zap.String("buyer", terms.BuyerAddress),
		zap.String("seller", terms.SellerAddress),
		zap.String("total_price", terms.TotalPrice.String()),
	)

	var deployment Deployment
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(terms).
		SetResult(&deployment).
		Post("/v1/contracts")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDeployment, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: ledger node returned %d: %s",
			models.ErrDeployment, resp.StatusCode(), resp.String())
	}
	if deployment.Address == "" {
		return nil, fmt.Errorf("%w: ledger node returned no contract address", models.ErrDeployment)
	}

	c.logger.Info("escrow contract deployed", zap.String("address", deployment.Address))
	return &deployment, nil
}

func (c *HTTPClient) Transfer(ctx context.Context, req TransferRequest) (*Confirmation, error) {
	// Reconciliation before resubmission: a previous attempt may have been
	// confirmed on-ledger after the caller timed out waiting for the receipt.
	if req.IdempotencyKey != "" {
		if conf, err := c.lookupByKey(ctx, req.IdempotencyKey); err != nil {
			return nil, err
		} else if conf != nil {
			c.logger.Info("transfer already confirmed, skipping resubmission",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("tx_hash", conf.TxHash),
			)
			return conf, nil
		}
	}

	var submitted transferStatus
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&submitted).
		Post("/v1/transfers")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrLedgerConnection, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: ledger node returned %d: %s",
			models.ErrLedgerReverted, resp.StatusCode(), resp.String())
	}

	c.logger.Info("transfer submitted",
		zap.String("tx_hash", submitted.TxHash),
		zap.String("from", req.From),
		zap.String("to", req.To),
		zap.String("amount", req.Amount.String()),
	)

	return c.awaitConfirmation(ctx, submitted.TxHash)
}

// lookupByKey asks the node for a transfer previously submitted under the
// key. Returns (nil, nil) when none exists or it has not confirmed.
func (c *HTTPClient) lookupByKey(ctx context.Context, key string) (*Confirmation, error) {
	var status transferStatus
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&status).
		Get("/v1/transfers/key/" + key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrLedgerConnection, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: key lookup returned %d", models.ErrLedgerConnection, resp.StatusCode())
	}
	if status.Status == txConfirmed {
		return &Confirmation{TxHash: status.TxHash, BlockNumber: status.BlockNumber}, nil
	}
	return nil, nil
}

func (c *HTTPClient) awaitConfirmation(ctx context.Context, txHash string) (*Confirmation, error) {
	deadline := time.Now().Add(c.confirmTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var status transferStatus
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&status).
			Get("/v1/transfers/" + txHash)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrLedgerConnection, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("%w: receipt lookup returned %d", models.ErrLedgerConnection, resp.StatusCode())
		}

		switch status.Status {
		case txConfirmed:
			c.logger.Info("transfer confirmed",
				zap.String("tx_hash", txHash),
				zap.Int64("block_number", status.BlockNumber),
			)
			return &Confirmation{TxHash: status.TxHash, BlockNumber: status.BlockNumber}, nil
		case txFailed:
			return nil, fmt.Errorf("%w: tx %s", models.ErrLedgerReverted, txHash)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: tx %s still pending after %s",
				models.ErrLedgerTimeout, txHash, c.confirmTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", models.ErrLedgerTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}
