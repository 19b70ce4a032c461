package evaluator

import (
	"testing"
	"time"

	"soltrack/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coldChainContract(maxTemp float64, minTemp *float64) *models.Contract {
	dev := "dev-1"
	return &models.Contract{
		ContractID: 4,
		MaxTemp:    maxTemp,
		MinTemp:    minTemp,
		DeviceID:   &dev,
		Status:     models.StatusOngoing,
	}
}

func tempReading(temp float64) *models.TelemetryReading {
	return &models.TelemetryReading{
		DeviceID:    "dev-1",
		Temperature: &temp,
		RecordedAt:  time.Now(),
	}
}

func TestCheck_AboveMax(t *testing.T) {
	m := NewTemperatureMonitor()
	c := coldChainContract(8.0, nil)

	alert := m.Check(c, tempReading(9.2))
	require.NotNil(t, alert)
	assert.Equal(t, models.AlertTypeTemperature, alert.AlertType)
	assert.Equal(t, models.SeverityWarning, alert.Severity)
	assert.Equal(t, 9.2, alert.Temperature)
	assert.Equal(t, 8.0, alert.Threshold)
	assert.Equal(t, int64(4), alert.ContractID)
	assert.Equal(t, "dev-1", alert.DeviceID)
	assert.NotEmpty(t, alert.AlertID)
}

func TestCheck_WithinBand(t *testing.T) {
	m := NewTemperatureMonitor()
	c := coldChainContract(8.0, nil)

	assert.Nil(t, m.Check(c, tempReading(7.9)))
	assert.Nil(t, m.Check(c, tempReading(8.0)))
}

func TestCheck_BelowMin(t *testing.T) {
	m := NewTemperatureMonitor()
	min := 2.0
	c := coldChainContract(8.0, &min)

	alert := m.Check(c, tempReading(1.0))
	require.NotNil(t, alert)
	assert.Equal(t, 2.0, alert.Threshold)

	// No min configured: arbitrarily cold readings are in band.
	c = coldChainContract(8.0, nil)
	assert.Nil(t, m.Check(c, tempReading(-20.0)))
}

func TestCheck_CriticalSeverity(t *testing.T) {
	m := NewTemperatureMonitor()
	c := coldChainContract(8.0, nil)

	alert := m.Check(c, tempReading(10.5))
	require.NotNil(t, alert)
	assert.Equal(t, models.SeverityCritical, alert.Severity)
}

func TestCheck_NoReading(t *testing.T) {
	m := NewTemperatureMonitor()
	c := coldChainContract(8.0, nil)

	assert.Nil(t, m.Check(c, nil))
	assert.Nil(t, m.Check(c, &models.TelemetryReading{DeviceID: "dev-1"}))
}
