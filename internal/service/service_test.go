package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"soltrack/internal/config"
	"soltrack/internal/evaluator"
	"soltrack/internal/ledger"
	"soltrack/internal/lifecycle"
	"soltrack/internal/models"
	"soltrack/internal/redisx"
	"soltrack/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type okLedger struct{}

func (okLedger) Deploy(context.Context, ledger.Terms) (*ledger.Deployment, error) {
	return &ledger.Deployment{Address: "0xescrowcontract", ABI: []byte(`[]`)}, nil
}

func (okLedger) Transfer(context.Context, ledger.TransferRequest) (*ledger.Confirmation, error) {
	return &ledger.Confirmation{TxHash: "0xtx"}, nil
}

type fixedGateway struct {
	reading *models.TelemetryReading
}

func (g *fixedGateway) LatestReading(context.Context, string) (*models.TelemetryReading, error) {
	return g.reading, nil
}

// memoryAlertsRepo mirrors the postgres alert semantics for poller tests.
type memoryAlertsRepo struct {
	mu     sync.Mutex
	alerts []*models.Alert
}

func (r *memoryAlertsRepo) Insert(_ context.Context, a *models.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.alerts = append(r.alerts, &cp)
	return nil
}

func (r *memoryAlertsRepo) ListActive(_ context.Context, limit int) ([]*models.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Alert
	for _, a := range r.alerts {
		if a.Status == models.AlertStatusActive && len(out) < limit {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memoryAlertsRepo) HasActive(_ context.Context, contractID int64, alertType string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alerts {
		if a.ContractID == contractID && a.AlertType == alertType && a.Status == models.AlertStatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryAlertsRepo) Resolve(_ context.Context, contractID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alerts {
		if a.ContractID == contractID && a.Status == models.AlertStatusActive {
			a.Status = models.AlertStatusResolved
		}
	}
	return nil
}

var _ repository.AlertsRepository = (*memoryAlertsRepo)(nil)

type pollerEnv struct {
	svc       *EscrowService
	contracts *repository.MemoryContractsRepository
	gateway   *fixedGateway
	alerts    *memoryAlertsRepo
	redis     *miniredis.Miniredis
}

func fPtr(v float64) *float64 { return &v }
func sPtr(s string) *string   { return &s }

func newPollerEnv(t *testing.T) *pollerEnv {
	t.Helper()
	logger := zap.NewNop()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	contracts := repository.NewMemoryContractsRepository()
	parties := repository.NewMemoryPartiesRepository()
	parties.Put(&models.Party{
		Address: "0xbuyer", FullName: "Buyer", Role: models.RoleBuyer,
		Latitude: fPtr(14.10), Longitude: fPtr(121.10),
	})
	parties.Put(&models.Party{
		Address: "0xseller", FullName: "Seller", Role: models.RoleSeller,
		Latitude: fPtr(14.00), Longitude: fPtr(121.00),
	})

	gateway := &fixedGateway{}
	manager := lifecycle.NewManager(contracts, parties, okLedger{}, gateway,
		evaluator.NewDeliveryEvaluator(), lifecycle.Options{
			EscrowAddress: "0xescrow",
			FixedFee:      decimal.RequireFromString("0.01"),
			FundingRole:   models.RoleBuyer,
		}, logger)

	cfg, err := config.Load()
	require.NoError(t, err)

	alerts := &memoryAlertsRepo{}
	svc := &EscrowService{
		config:      cfg,
		logger:      logger,
		redisClient: redisClient,
		contracts:   contracts,
		alerts:      alerts,
		gateway:     gateway,
		manager:     manager,
		monitor:     evaluator.NewTemperatureMonitor(),
		httpServer:  &http.Server{},
	}
	return &pollerEnv{svc: svc, contracts: contracts, gateway: gateway, alerts: alerts, redis: mr}
}

func (e *pollerEnv) ongoingContract(t *testing.T) *models.Contract {
	t.Helper()
	ctx := context.Background()

	c, err := e.svc.manager.Create(ctx, lifecycle.CreateRequest{
		BuyerAddress:  "0xbuyer",
		SellerAddress: "0xseller",
		ProductName:   "Vaccines",
		Quantity:      1,
		UnitPrice:     decimal.RequireFromString("1.5"),
		MaxTemp:       8.0,
		DeviceID:      sPtr("dev-1"),
	})
	require.NoError(t, err)

	_, err = e.svc.manager.Activate(ctx, c.ContractID, "0xbuyer", nil)
	require.NoError(t, err)

	got, err := e.contracts.GetByID(ctx, c.ContractID)
	require.NoError(t, err)
	return got
}

func hotReading(temp float64) *models.TelemetryReading {
	return &models.TelemetryReading{
		DeviceID:    "dev-1",
		Temperature: &temp,
		RecordedAt:  time.Now(),
	}
}

func TestPollOnce_RaisesAlertOnce(t *testing.T) {
	env := newPollerEnv(t)
	c := env.ongoingContract(t)
	env.gateway.reading = hotReading(9.2)
	ctx := context.Background()

	env.svc.pollOnce(ctx)

	active, err := env.alerts.ListActive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, c.ContractID, active[0].ContractID)
	assert.Equal(t, models.AlertTypeTemperature, active[0].AlertType)

	// The excursion went out on the stream exactly once.
	assert.True(t, env.redis.Exists(env.svc.config.Alerts.Stream))

	// A second sweep over the same episode stays quiet.
	env.svc.pollOnce(ctx)
	active, err = env.alerts.ListActive(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestPollOnce_AlertConsumableFromStream(t *testing.T) {
	env := newPollerEnv(t)
	c := env.ongoingContract(t)
	env.gateway.reading = hotReading(9.2)
	ctx := context.Background()

	stream := env.svc.config.Alerts.Stream
	client := env.svc.redisClient
	require.NoError(t, redisx.CreateConsumerGroup(ctx, client, stream, "alerts-dashboard"))
	// Re-creating an existing group is tolerated.
	require.NoError(t, redisx.CreateConsumerGroup(ctx, client, stream, "alerts-dashboard"))

	env.svc.pollOnce(ctx)

	msgs, err := redisx.ReadFromStream(ctx, client, stream, "alerts-dashboard", "consumer-1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, stream, msgs[0].Stream)

	data, ok := msgs[0].Values["data"].(string)
	require.True(t, ok, "stream entries carry the alert JSON under 'data'")
	var alert models.Alert
	require.NoError(t, json.Unmarshal([]byte(data), &alert))
	assert.Equal(t, c.ContractID, alert.ContractID)
	assert.Equal(t, models.AlertTypeTemperature, alert.AlertType)
}

func TestPollOnce_ResolvesWhenBackInBand(t *testing.T) {
	env := newPollerEnv(t)
	env.ongoingContract(t)
	ctx := context.Background()

	env.gateway.reading = hotReading(9.2)
	env.svc.pollOnce(ctx)
	active, _ := env.alerts.ListActive(ctx, 10)
	require.Len(t, active, 1)

	env.gateway.reading = hotReading(6.0)
	env.svc.pollOnce(ctx)
	active, err := env.alerts.ListActive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestPollOnce_InBandRaisesNothing(t *testing.T) {
	env := newPollerEnv(t)
	env.ongoingContract(t)
	env.gateway.reading = hotReading(5.0)

	env.svc.pollOnce(context.Background())

	active, _ := env.alerts.ListActive(context.Background(), 10)
	assert.Empty(t, active)
	assert.False(t, env.redis.Exists(env.svc.config.Alerts.Stream))
}

func TestPollOnce_SkipsTerminalContracts(t *testing.T) {
	env := newPollerEnv(t)
	c := env.ongoingContract(t)
	ctx := context.Background()

	_, err := env.svc.manager.Complete(ctx, c.ContractID, "0xbuyer")
	require.NoError(t, err)

	env.gateway.reading = hotReading(9.2)
	env.svc.pollOnce(ctx)

	active, _ := env.alerts.ListActive(ctx, 10)
	assert.Empty(t, active, "completed contracts are not monitored")
}
