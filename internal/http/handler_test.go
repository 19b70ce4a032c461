package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"soltrack/internal/evaluator"
	"soltrack/internal/ledger"
	"soltrack/internal/lifecycle"
	"soltrack/internal/models"
	"soltrack/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type acceptAllLedger struct{}

func (acceptAllLedger) Deploy(context.Context, ledger.Terms) (*ledger.Deployment, error) {
	return &ledger.Deployment{Address: "0xescrowcontract", ABI: []byte(`[]`)}, nil
}

func (acceptAllLedger) Transfer(context.Context, ledger.TransferRequest) (*ledger.Confirmation, error) {
	return &ledger.Confirmation{TxHash: "0xtx"}, nil
}

type fixedGateway struct {
	reading *models.TelemetryReading
}

func (g *fixedGateway) LatestReading(context.Context, string) (*models.TelemetryReading, error) {
	return g.reading, nil
}

type stubTelemetryRepo struct {
	stats *models.TelemetryStats
}

func (stubTelemetryRepo) LatestByDevice(context.Context, string) (*models.TelemetryReading, error) {
	return nil, nil
}

func (s stubTelemetryRepo) StatsForBand(context.Context, string, float64, *float64) (*models.TelemetryStats, error) {
	return s.stats, nil
}

type stubAlertsRepo struct {
	active []*models.Alert
}

func (s *stubAlertsRepo) Insert(_ context.Context, a *models.Alert) error {
	s.active = append(s.active, a)
	return nil
}

func (s *stubAlertsRepo) ListActive(context.Context, int) ([]*models.Alert, error) {
	return s.active, nil
}

func (s *stubAlertsRepo) HasActive(context.Context, int64, string) (bool, error) {
	return len(s.active) > 0, nil
}

func (s *stubAlertsRepo) Resolve(context.Context, int64) error {
	s.active = nil
	return nil
}

type apiEnv struct {
	router    *Router
	contracts *repository.MemoryContractsRepository
	gateway   *fixedGateway
	alerts    *stubAlertsRepo
	telemetry stubTelemetryRepo
}

func fPtr(v float64) *float64 { return &v }

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	logger := zap.NewNop()

	contracts := repository.NewMemoryContractsRepository()
	parties := repository.NewMemoryPartiesRepository()
	parties.Put(&models.Party{
		Address: "0xbuyer", FullName: "Buyer One", Role: models.RoleBuyer,
		Latitude: fPtr(14.10), Longitude: fPtr(121.10),
	})
	parties.Put(&models.Party{
		Address: "0xseller", FullName: "Seller One", Role: models.RoleSeller,
		Latitude: fPtr(14.00), Longitude: fPtr(121.00),
	})

	gateway := &fixedGateway{}
	manager := lifecycle.NewManager(contracts, parties, acceptAllLedger{}, gateway,
		evaluator.NewDeliveryEvaluator(), lifecycle.Options{
			EscrowAddress:    "0xescrow",
			FixedFee:         decimal.RequireFromString("0.01"),
			FundingRole:      models.RoleBuyer,
			ReleaseOnArrival: true,
		}, logger)

	alerts := &stubAlertsRepo{}
	telemetry := stubTelemetryRepo{}

	router := NewRouter(logger)
	router.RegisterEscrowRoutes(
		NewContractHandler(manager, contracts, parties, logger),
		NewOverviewHandler(contracts, telemetry, alerts, logger),
	)
	return &apiEnv{router: router, contracts: contracts, gateway: gateway, alerts: alerts, telemetry: telemetry}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeResult[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var res Result[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res.Result
}

func buyerHeaders() map[string]string {
	return map[string]string{"X-User-Address": "0xbuyer", "X-User-Role": "buyer"}
}

func (e *apiEnv) createContract(t *testing.T) *models.Contract {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/escrow/api/v1/contracts", map[string]any{
		"buyer_address":  "0xbuyer",
		"seller_address": "0xseller",
		"product_name":   "Vaccines",
		"quantity":       1,
		"unit_price":     "1.5",
		"max_temp":       8.0,
		"device_id":      "dev-1",
	}, buyerHeaders())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeResult[*models.Contract](t, rec)
}

func TestCreateContract(t *testing.T) {
	env := newAPIEnv(t)
	c := env.createContract(t)

	assert.Equal(t, models.StatusPending, c.Status)
	assert.Equal(t, "0xescrowcontract", c.ContractAddress)
	assert.Equal(t, "1.5", c.TotalPrice.String())
}

func TestCreateContract_BadPrice(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodPost, "/escrow/api/v1/contracts", map[string]any{
		"buyer_address":  "0xbuyer",
		"seller_address": "0xseller",
		"product_name":   "Fish",
		"quantity":       1,
		"unit_price":     "one-fifty",
	}, buyerHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetContract_NotFound(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodGet, "/escrow/api/v1/contracts/99", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetContract_BadID(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodGet, "/escrow/api/v1/contracts/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActivateContract(t *testing.T) {
	env := newAPIEnv(t)
	c := env.createContract(t)

	rec := env.do(t, http.MethodPost, "/escrow/api/v1/contracts/1/activate",
		map[string]any{"lat": 14.0, "lon": 121.0}, buyerHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decodeResult[*models.Contract](t, rec)
	assert.Equal(t, c.ContractID, got.ContractID)
	assert.Equal(t, models.StatusOngoing, got.Status)
	require.NotNil(t, got.StartCoord)
	assert.Equal(t, 14.0, got.StartCoord.Lat)
}

func TestActivateContract_WrongCaller(t *testing.T) {
	env := newAPIEnv(t)
	env.createContract(t)

	rec := env.do(t, http.MethodPost, "/escrow/api/v1/contracts/1/activate", nil,
		map[string]string{"X-User-Address": "0xseller", "X-User-Role": "seller"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSettleContract_Complete(t *testing.T) {
	env := newAPIEnv(t)
	env.createContract(t)
	env.do(t, http.MethodPost, "/escrow/api/v1/contracts/1/activate", nil, buyerHeaders())

	rec := env.do(t, http.MethodPost, "/escrow/api/v1/contracts/1/complete",
		map[string]any{"action": "complete"}, buyerHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decodeResult[*models.Contract](t, rec)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestSettleContract_Refund(t *testing.T) {
	env := newAPIEnv(t)
	env.createContract(t)

	rec := env.do(t, http.MethodPost, "/escrow/api/v1/contracts/1/complete",
		map[string]any{"action": "refund"}, buyerHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decodeResult[*models.Contract](t, rec)
	assert.Equal(t, models.StatusRefunded, got.Status)
}

func TestSettleContract_SellerForbidden(t *testing.T) {
	env := newAPIEnv(t)
	env.createContract(t)

	rec := env.do(t, http.MethodPost, "/escrow/api/v1/contracts/1/complete",
		map[string]any{"action": "complete"},
		map[string]string{"X-User-Address": "0xseller", "X-User-Role": "seller"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSettleContract_ForeignBuyerForbidden(t *testing.T) {
	env := newAPIEnv(t)
	env.createContract(t)
	env.do(t, http.MethodPost, "/escrow/api/v1/contracts/1/activate", nil, buyerHeaders())

	// A buyer-role caller with someone else's contract must not be able to
	// pull the refund to themselves or force the release.
	for _, action := range []string{"refund", "complete"} {
		rec := env.do(t, http.MethodPost, "/escrow/api/v1/contracts/1/complete",
			map[string]any{"action": action},
			map[string]string{"X-User-Address": "0xotherbuyer", "X-User-Role": "buyer"})
		assert.Equal(t, http.StatusForbidden, rec.Code, action)
	}

	rec := env.do(t, http.MethodGet, "/escrow/api/v1/contracts/1", nil, nil)
	got := decodeResult[*models.Contract](t, rec)
	assert.Equal(t, models.StatusOngoing, got.Status)
}

func TestSettleContract_AdminBypass(t *testing.T) {
	env := newAPIEnv(t)
	env.createContract(t)

	rec := env.do(t, http.MethodPost, "/escrow/api/v1/contracts/1/complete",
		map[string]any{"action": "refund"},
		map[string]string{"X-User-Address": "0xoperator", "X-User-Role": "admin"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decodeResult[*models.Contract](t, rec)
	assert.Equal(t, models.StatusRefunded, got.Status)
}

func TestSettleContract_UnknownAction(t *testing.T) {
	env := newAPIEnv(t)
	env.createContract(t)

	rec := env.do(t, http.MethodPost, "/escrow/api/v1/contracts/1/complete",
		map[string]any{"action": "void"}, buyerHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContractProgress(t *testing.T) {
	env := newAPIEnv(t)
	env.createContract(t)
	env.do(t, http.MethodPost, "/escrow/api/v1/contracts/1/activate",
		map[string]any{"lat": 14.0, "lon": 121.0}, buyerHeaders())

	rec := env.do(t, http.MethodGet, "/escrow/api/v1/contracts/1/progress", nil, buyerHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decodeResult[progressResponse](t, rec)
	assert.Equal(t, evaluator.LabelNoGPSData, got.Label)
	assert.Equal(t, models.StatusOngoing, got.Status)
}

func TestListContracts_RoleScoping(t *testing.T) {
	env := newAPIEnv(t)
	env.createContract(t)

	rec := env.do(t, http.MethodGet, "/escrow/api/v1/contracts?status=Pending", nil, buyerHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeResult[[]*models.Contract](t, rec), 1)

	// another buyer sees nothing
	rec = env.do(t, http.MethodGet, "/escrow/api/v1/contracts", nil,
		map[string]string{"X-User-Address": "0xother", "X-User-Role": "buyer"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeResult[[]*models.Contract](t, rec))
}

func TestListContracts_OngoingIncludesLegacyActive(t *testing.T) {
	env := newAPIEnv(t)
	c := env.createContract(t)

	ok, err := env.contracts.UpdateStatusIf(context.Background(), c.ContractID,
		[]string{models.StatusPending},
		repository.StatusUpdate{Status: models.StatusActive})
	require.NoError(t, err)
	require.True(t, ok)

	rec := env.do(t, http.MethodGet, "/escrow/api/v1/contracts?status=Ongoing", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeResult[[]*models.Contract](t, rec), 1)
}

func TestListParties(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/escrow/api/v1/parties?role=seller", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sellers := decodeResult[[]*models.Party](t, rec)
	require.Len(t, sellers, 1)
	assert.Equal(t, "0xseller", sellers[0].Address)

	rec = env.do(t, http.MethodGet, "/escrow/api/v1/parties?role=auditor", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/escrow/api/v1/parties?role=seller", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestOverview(t *testing.T) {
	env := newAPIEnv(t)
	env.createContract(t)
	env.do(t, http.MethodPost, "/escrow/api/v1/contracts/1/activate", nil, buyerHeaders())

	env.alerts.active = []*models.Alert{{AlertID: "a-1", ContractID: 1, Status: models.AlertStatusActive}}

	rec := env.do(t, http.MethodGet, "/escrow/api/v1/overview", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decodeResult[overviewResponse](t, rec)
	assert.Equal(t, 1, got.StatusCounts[models.StatusOngoing])
	assert.Equal(t, 1, got.ActiveAlerts)
	assert.Zero(t, got.AvgTemp, "no telemetry stats stubbed")
}

func TestOverview_BandStats(t *testing.T) {
	env := newAPIEnv(t)
	env.createContract(t)
	env.do(t, http.MethodPost, "/escrow/api/v1/contracts/1/activate", nil, buyerHeaders())

	router := NewRouter(zap.NewNop())
	router.RegisterEscrowRoutes(
		NewContractHandler(nil, env.contracts, nil, zap.NewNop()),
		NewOverviewHandler(env.contracts,
			stubTelemetryRepo{stats: &models.TelemetryStats{TotalRecords: 10, NormalRecords: 9, AvgTemp: 5.5}},
			env.alerts, zap.NewNop()),
	)
	req := httptest.NewRequest(http.MethodGet, "/escrow/api/v1/overview", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decodeResult[overviewResponse](t, rec)
	assert.InDelta(t, 90.0, got.SuccessRate, 0.01)
	assert.InDelta(t, 5.5, got.AvgTemp, 0.01)
}

func TestAlertsFeed(t *testing.T) {
	env := newAPIEnv(t)
	env.alerts.active = []*models.Alert{
		{AlertID: "a-1", ContractID: 1, AlertType: models.AlertTypeTemperature, Status: models.AlertStatusActive},
	}

	rec := env.do(t, http.MethodGet, "/escrow/api/v1/alerts", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeResult[[]*models.Alert](t, rec), 1)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodDelete, "/escrow/api/v1/contracts", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = env.do(t, http.MethodGet, "/escrow/api/v1/contracts/1/activate", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
