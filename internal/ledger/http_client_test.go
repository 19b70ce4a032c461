package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"soltrack/internal/config"
	"soltrack/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) (*HTTPClient, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.LedgerConfig{
		BaseURL:        server.URL,
		ConfirmTimeout: 500 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
		RetryCount:     0,
	}
	return NewHTTPClient(cfg, zap.NewNop()), server
}

func TestDeploy_Success(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/contracts", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var terms Terms
		require.NoError(t, json.NewDecoder(r.Body).Decode(&terms))
		assert.Equal(t, "0xbuyer", terms.BuyerAddress)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Deployment{Address: "0xescrow01", ABI: json.RawMessage(`[]`)})
	})

	client, _ := newTestClient(t, mux)
	deployment, err := client.Deploy(context.Background(), Terms{
		BuyerAddress:  "0xbuyer",
		SellerAddress: "0xseller",
		ProductName:   "Fish",
		Quantity:      2,
		TotalPrice:    decimal.RequireFromString("1.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, "0xescrow01", deployment.Address)
}

func TestDeploy_NodeError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/contracts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	client, _ := newTestClient(t, mux)
	_, err := client.Deploy(context.Background(), Terms{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDeployment)
}

func TestTransfer_ConfirmsAfterPolling(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/transfers/key/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/v1/transfers", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(transferStatus{TxHash: "0xtx1", Status: txPending})
	})
	mux.HandleFunc("/v1/transfers/0xtx1", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) < 3 {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(transferStatus{TxHash: "0xtx1", Status: txPending})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(transferStatus{TxHash: "0xtx1", Status: txConfirmed, BlockNumber: 42})
	})

	client, _ := newTestClient(t, mux)
	conf, err := client.Transfer(context.Background(), TransferRequest{
		From:           "0xbuyer",
		To:             "0xescrow",
		Amount:         decimal.RequireFromString("1.51"),
		IdempotencyKey: "contract-1-activate",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xtx1", conf.TxHash)
	assert.Equal(t, int64(42), conf.BlockNumber)
}

func TestTransfer_Reverted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/transfers/key/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/v1/transfers", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(transferStatus{TxHash: "0xtx2", Status: txPending})
	})
	mux.HandleFunc("/v1/transfers/0xtx2", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(transferStatus{TxHash: "0xtx2", Status: txFailed})
	})

	client, _ := newTestClient(t, mux)
	_, err := client.Transfer(context.Background(), TransferRequest{Amount: decimal.New(1, 0)})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrLedger)
	assert.ErrorIs(t, err, models.ErrLedgerReverted)
}

func TestTransfer_ConfirmationTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/transfers/key/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/v1/transfers", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(transferStatus{TxHash: "0xtx3", Status: txPending})
	})
	mux.HandleFunc("/v1/transfers/0xtx3", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(transferStatus{TxHash: "0xtx3", Status: txPending})
	})

	client, _ := newTestClient(t, mux)
	_, err := client.Transfer(context.Background(), TransferRequest{Amount: decimal.New(1, 0)})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrLedgerTimeout)
}

func TestTransfer_IdempotencyKeyShortCircuits(t *testing.T) {
	var submissions int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/transfers/key/contract-9-complete", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(transferStatus{TxHash: "0xprior", Status: txConfirmed, BlockNumber: 7})
	})
	mux.HandleFunc("/v1/transfers", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&submissions, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(transferStatus{TxHash: "0xnew", Status: txPending})
	})

	client, _ := newTestClient(t, mux)
	conf, err := client.Transfer(context.Background(), TransferRequest{
		Amount:         decimal.RequireFromString("1.5"),
		IdempotencyKey: "contract-9-complete",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xprior", conf.TxHash)
	assert.Equal(t, int32(0), atomic.LoadInt32(&submissions), "must not resubmit an already-confirmed transfer")
}
