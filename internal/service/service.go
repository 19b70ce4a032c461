package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"soltrack/internal/config"
	"soltrack/internal/database"
	"soltrack/internal/evaluator"
	httpapi "soltrack/internal/http"
	"soltrack/internal/ledger"
	"soltrack/internal/lifecycle"
	"soltrack/internal/models"
	"soltrack/internal/mqttx"
	"soltrack/internal/redisx"
	"soltrack/internal/repository"
	"soltrack/internal/telemetry"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EscrowService wires the escrow core: repositories, ledger client, telemetry
// gateway, lifecycle manager, HTTP surface and the delivery/temperature poller.
type EscrowService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttx.Client

	contracts repository.ContractsRepository
	alerts    repository.AlertsRepository
	gateway   telemetry.Gateway
	manager   *lifecycle.Manager
	monitor   *evaluator.TemperatureMonitor

	httpServer *http.Server
}

// NewEscrowService builds the service from configuration.
func NewEscrowService(cfg *config.Config, logger *zap.Logger) (*EscrowService, error) {
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := redisx.NewClient(&cfg.Redis)
	if err := redisx.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	fixedFee, err := decimal.NewFromString(cfg.Escrow.FixedFee)
	if err != nil {
		return nil, fmt.Errorf("invalid escrow fixed fee %q: %w", cfg.Escrow.FixedFee, err)
	}

	contracts := repository.NewPostgresContractsRepository(db, logger)
	parties := repository.NewPostgresPartiesRepository(db, logger)
	telemetryRepo := repository.NewPostgresTelemetryRepository(db, logger)
	alerts := repository.NewPostgresAlertsRepository(db, logger)

	cache := telemetry.NewRedisGateway(redisClient,
		cfg.Telemetry.CacheKeyPrefix, cfg.Telemetry.CacheTTL, logger)
	gateway := telemetry.NewLayeredGateway(cache, telemetryRepo, logger)

	ledgerClient := ledger.NewHTTPClient(&cfg.Ledger, logger)

	manager := lifecycle.NewManager(contracts, parties, ledgerClient, gateway,
		evaluator.NewDeliveryEvaluator(), lifecycle.Options{
			EscrowAddress:    cfg.Ledger.EscrowAddress,
			FixedFee:         fixedFee,
			FundingRole:      cfg.Escrow.FundingRole,
			ReleaseOnArrival: cfg.Escrow.ReleaseOnArrival,
		}, logger)

	router := httpapi.NewRouter(logger)
	router.RegisterEscrowRoutes(
		httpapi.NewContractHandler(manager, contracts, parties, logger),
		httpapi.NewOverviewHandler(contracts, telemetryRepo, alerts, logger),
	)
	router.Handle("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	svc := &EscrowService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		contracts:   contracts,
		alerts:      alerts,
		gateway:     gateway,
		manager:     manager,
		monitor:     evaluator.NewTemperatureMonitor(),
		httpServer: &http.Server{
			Addr:    cfg.HTTP.Addr,
			Handler: router,
		},
	}

	// The ingestion path is optional: deployments without a broker rely on
	// the telemetry_readings table being fed externally.
	if cfg.MQTT.Enabled {
		mqttClient, err := mqttx.NewClient(&cfg.MQTT, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
		}
		svc.mqttClient = mqttClient
	}

	return svc, nil
}

// Start runs the HTTP server, the MQTT subscriber and the poll loop until the
// context is cancelled or the server fails.
func (s *EscrowService) Start(ctx context.Context) error {
	s.logger.Info("Starting escrow service",
		zap.String("http_addr", s.config.HTTP.Addr),
		zap.Bool("mqtt_enabled", s.config.MQTT.Enabled),
		zap.Bool("poller_enabled", s.config.Poller.Enabled),
	)

	if s.mqttClient != nil {
		cache := telemetry.NewRedisGateway(s.redisClient,
			s.config.Telemetry.CacheKeyPrefix, s.config.Telemetry.CacheTTL, s.logger)
		sub := telemetry.NewSubscriber(s.mqttClient, cache,
			s.config.MQTT.Topic, s.config.MQTT.QoS, s.logger)
		if err := sub.Start(); err != nil {
			return fmt.Errorf("failed to start telemetry subscriber: %w", err)
		}
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	if s.config.Poller.Enabled {
		go s.runPoller(ctx)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return fmt.Errorf("http server failed: %w", err)
	}
}

// Stop shuts down the HTTP server and closes external connections.
func (s *EscrowService) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redisClient != nil {
		if err := redisx.Close(s.redisClient); err != nil {
			s.logger.Error("Failed to close redis", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
	}

	s.logger.Info("Escrow service stopped")
	return nil
}

// runPoller sweeps in-transit contracts on a fixed interval.
func (s *EscrowService) runPoller(ctx context.Context) {
	ticker := time.NewTicker(s.config.Poller.Interval)
	defer ticker.Stop()

	s.logger.Info("Starting contract poller",
		zap.Duration("interval", s.config.Poller.Interval))

	s.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// pollOnce evaluates delivery progress and temperature excursions for every
// in-transit contract.
func (s *EscrowService) pollOnce(ctx context.Context) {
	ongoing, err := s.contracts.FindByStatus(ctx, models.OngoingStatuses(), repository.ContractFilters{})
	if err != nil {
		s.logger.Error("Failed to list in-transit contracts", zap.Error(err))
		return
	}

	for _, c := range ongoing {
		if ctx.Err() != nil {
			return
		}

		progress, _, err := s.manager.EvaluateDelivery(ctx, c.ContractID)
		if err != nil {
			s.logger.Error("Delivery evaluation failed",
				zap.Int64("contract_id", c.ContractID), zap.Error(err))
			continue
		}
		s.logger.Debug("delivery progress",
			zap.Int64("contract_id", c.ContractID),
			zap.String("label", progress.Label),
			zap.Float64("percent", progress.Percent),
		)

		if err := s.checkTemperature(ctx, c); err != nil {
			s.logger.Error("Temperature check failed",
				zap.Int64("contract_id", c.ContractID), zap.Error(err))
		}
	}
}

// checkTemperature raises one alert per excursion episode and resolves it
// once readings return to the contract band.
func (s *EscrowService) checkTemperature(ctx context.Context, c *models.Contract) error {
	if c.DeviceID == nil || *c.DeviceID == "" {
		return nil
	}

	reading, err := s.gateway.LatestReading(ctx, *c.DeviceID)
	if err != nil {
		return fmt.Errorf("failed to read telemetry for %s: %w", *c.DeviceID, err)
	}

	alert := s.monitor.Check(c, reading)

	hasActive, err := s.alerts.HasActive(ctx, c.ContractID, models.AlertTypeTemperature)
	if err != nil {
		return err
	}

	if alert == nil {
		if hasActive && reading != nil && reading.Temperature != nil {
			if err := s.alerts.Resolve(ctx, c.ContractID); err != nil {
				return err
			}
			s.logger.Info("temperature back in band, alert resolved",
				zap.Int64("contract_id", c.ContractID))
		}
		return nil
	}
	if hasActive {
		return nil // episode already reported
	}

	if err := s.alerts.Insert(ctx, alert); err != nil {
		return err
	}
	if _, err := redisx.PublishJSONToStream(ctx, s.redisClient, s.config.Alerts.Stream, alert); err != nil {
		s.logger.Error("Failed to publish alert to stream",
			zap.String("stream", s.config.Alerts.Stream), zap.Error(err))
	}

	s.logger.Warn("temperature excursion detected",
		zap.Int64("contract_id", c.ContractID),
		zap.String("severity", alert.Severity),
		zap.Float64("temperature", alert.Temperature),
	)
	return nil
}
