// Package telemetry gives the core a single query over sensor data: the
// latest reading for a device. Ingestion itself lives in another service;
// readings arrive here already parsed.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"soltrack/internal/models"
	"soltrack/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Gateway answers "latest reading for a device". A nil reading with a nil
// error means the device has no data yet; delivery evaluation treats that as
// a labeled unknown state, not a failure.
type Gateway interface {
	LatestReading(ctx context.Context, deviceID string) (*models.TelemetryReading, error)
}

// RedisGateway reads the latest-reading cache kept fresh by the subscriber.
type RedisGateway struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisGateway creates the cache-backed gateway.
func NewRedisGateway(client *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.Logger) *RedisGateway {
	return &RedisGateway{client: client, keyPrefix: keyPrefix, ttl: ttl, logger: logger}
}

var _ Gateway = (*RedisGateway)(nil)

func (g *RedisGateway) key(deviceID string) string {
	return g.keyPrefix + deviceID + ":latest"
}

func (g *RedisGateway) LatestReading(ctx context.Context, deviceID string) (*models.TelemetryReading, error) {
	data, err := g.client.Get(ctx, g.key(deviceID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read telemetry cache for %s: %w", deviceID, err)
	}

	var reading models.TelemetryReading
	if err := json.Unmarshal(data, &reading); err != nil {
		return nil, fmt.Errorf("corrupt telemetry cache entry for %s: %w", deviceID, err)
	}
	return &reading, nil
}

// Store writes a reading into the cache. Older readings never replace newer
// ones; out-of-order MQTT delivery is common on flaky device links.
func (g *RedisGateway) Store(ctx context.Context, reading *models.TelemetryReading) error {
	current, err := g.LatestReading(ctx, reading.DeviceID)
	if err != nil {
		g.logger.Warn("failed to read current cache entry, overwriting",
			zap.String("device_id", reading.DeviceID), zap.Error(err))
	} else if current != nil && current.RecordedAt.After(reading.RecordedAt) {
		return nil
	}

	data, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	if err := g.client.Set(ctx, g.key(reading.DeviceID), data, g.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store reading for %s: %w", reading.DeviceID, err)
	}
	return nil
}

// LayeredGateway tries the redis cache first and falls back to the
// telemetry_readings table when the cache is cold.
type LayeredGateway struct {
	cache  *RedisGateway
	repo   repository.TelemetryRepository
	logger *zap.Logger
}

// NewLayeredGateway creates the combined gateway.
func NewLayeredGateway(cache *RedisGateway, repo repository.TelemetryRepository, logger *zap.Logger) *LayeredGateway {
	return &LayeredGateway{cache: cache, repo: repo, logger: logger}
}

var _ Gateway = (*LayeredGateway)(nil)

func (g *LayeredGateway) LatestReading(ctx context.Context, deviceID string) (*models.TelemetryReading, error) {
	reading, err := g.cache.LatestReading(ctx, deviceID)
	if err != nil {
		g.logger.Warn("telemetry cache unavailable, falling back to database",
			zap.String("device_id", deviceID), zap.Error(err))
	} else if reading != nil {
		return reading, nil
	}

	return g.repo.LatestByDevice(ctx, deviceID)
}
