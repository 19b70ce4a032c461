package evaluator

import (
	"fmt"
	"time"

	"soltrack/internal/models"

	"github.com/google/uuid"
)

// TemperatureMonitor flags readings outside the contract band. Excursions
// are observational: they feed the alerts stream, never the state machine.
type TemperatureMonitor struct {
	now func() time.Time
}

// NewTemperatureMonitor creates the monitor.
func NewTemperatureMonitor() *TemperatureMonitor {
	return &TemperatureMonitor{now: time.Now}
}

// Check returns an alert when the reading breaches the contract band, or nil.
// Readings without a temperature yield nil; missing data is a steady-state
// condition, not an excursion.
func (m *TemperatureMonitor) Check(c *models.Contract, reading *models.TelemetryReading) *models.Alert {
	if reading == nil || reading.Temperature == nil {
		return nil
	}
	temp := *reading.Temperature

	var threshold float64
	var message string
	switch {
	case temp > c.MaxTemp:
		threshold = c.MaxTemp
		message = fmt.Sprintf("temperature %.1f°C above contract maximum %.1f°C", temp, c.MaxTemp)
	case c.MinTemp != nil && temp < *c.MinTemp:
		threshold = *c.MinTemp
		message = fmt.Sprintf("temperature %.1f°C below contract minimum %.1f°C", temp, *c.MinTemp)
	default:
		return nil
	}

	severity := models.SeverityWarning
	// More than 2 degrees past the bound means the cold chain is broken, not
	// just drifting.
	if temp > c.MaxTemp+2 || (c.MinTemp != nil && temp < *c.MinTemp-2) {
		severity = models.SeverityCritical
	}

	deviceID := ""
	if c.DeviceID != nil {
		deviceID = *c.DeviceID
	}

	return &models.Alert{
		AlertID:     uuid.NewString(),
		ContractID:  c.ContractID,
		DeviceID:    deviceID,
		AlertType:   models.AlertTypeTemperature,
		Severity:    severity,
		Message:     message,
		Temperature: temp,
		Threshold:   threshold,
		Status:      models.AlertStatusActive,
		TriggeredAt: m.now().UTC(),
	}
}
