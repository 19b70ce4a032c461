package models

import "time"

// Alert types and severities.
const (
	AlertTypeTemperature = "temperature_excursion"

	SeverityWarning  = "warning"
	SeverityCritical = "critical"

	AlertStatusActive   = "active"
	AlertStatusResolved = "resolved"
)

// Alert is an observational record of a telemetry excursion. Alerts never
// transition contract state; they feed the alerts stream and dashboard.
type Alert struct {
	AlertID     string    `json:"alert_id" db:"alert_id"`
	ContractID  int64     `json:"contract_id" db:"contract_id"`
	DeviceID    string    `json:"device_id" db:"device_id"`
	AlertType   string    `json:"alert_type" db:"alert_type"`
	Severity    string    `json:"severity" db:"severity"`
	Message     string    `json:"message" db:"message"`
	Temperature float64   `json:"temperature" db:"temperature"`
	Threshold   float64   `json:"threshold" db:"threshold"`
	Status      string    `json:"status" db:"status"`
	TriggeredAt time.Time `json:"triggered_at" db:"triggered_at"`
}
