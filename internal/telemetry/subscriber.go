package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"soltrack/internal/models"
	"soltrack/internal/mqttx"

	"go.uber.org/zap"
)

// Subscriber consumes parsed reading JSON from the device topic and keeps
// the latest-reading cache fresh. Topic layout: <prefix>/telemetry/<deviceID>.
type Subscriber struct {
	mqtt    *mqttx.Client
	gateway *RedisGateway
	topic   string
	qos     byte
	logger  *zap.Logger
}

// NewSubscriber creates the subscriber. Start must be called to subscribe.
func NewSubscriber(mqtt *mqttx.Client, gateway *RedisGateway, topic string, qos byte, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		mqtt:    mqtt,
		gateway: gateway,
		topic:   topic,
		qos:     qos,
		logger:  logger,
	}
}

// Start subscribes to the telemetry topic.
func (s *Subscriber) Start() error {
	if err := s.mqtt.Subscribe(s.topic, s.qos, s.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe telemetry topic: %w", err)
	}
	s.logger.Info("telemetry subscriber started", zap.String("topic", s.topic))
	return nil
}

func (s *Subscriber) handleMessage(topic string, payload []byte) error {
	var reading models.TelemetryReading
	if err := json.Unmarshal(payload, &reading); err != nil {
		return fmt.Errorf("invalid reading payload on %s: %w", topic, err)
	}

	if reading.DeviceID == "" {
		// Fall back to the device id embedded in the topic.
		parts := strings.Split(topic, "/")
		reading.DeviceID = parts[len(parts)-1]
	}
	if reading.DeviceID == "" {
		return fmt.Errorf("reading on %s has no device id", topic)
	}
	if reading.RecordedAt.IsZero() {
		reading.RecordedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.gateway.Store(ctx, &reading); err != nil {
		return err
	}

	s.logger.Debug("cached telemetry reading",
		zap.String("device_id", reading.DeviceID),
		zap.Time("recorded_at", reading.RecordedAt),
	)
	return nil
}
