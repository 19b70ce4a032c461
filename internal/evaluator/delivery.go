// Package evaluator computes physical shipment state from telemetry. Pure
// given its inputs: evaluation never mutates the contract, the lifecycle
// owns all transitions.
package evaluator

import (
	"fmt"
	"time"

	"soltrack/internal/geo"
	"soltrack/internal/models"
)

// Delivery thresholds, from the shipping pilot tuning.
const (
	// ArrivalThresholdKm marks the destination reached.
	ArrivalThresholdKm = 0.010

	// ArrivalCooldown suppresses premature completion from GPS jitter while
	// the shipment is still sitting at the start point.
	ArrivalCooldown = 180 * time.Second

	// DegenerateRouteKm treats a route shorter than this as already covered.
	DegenerateRouteKm = 0.01
)

// Progress labels for states where a percentage is meaningless.
const (
	LabelCoordsMissing = "Coords Missing"
	LabelNoGPSData     = "No GPS Data"
	LabelTrackingNA    = "Tracking N/A"
	LabelCompleted     = "Completed"
)

// Progress is the evaluated delivery state of one contract.
type Progress struct {
	Percent     float64 `json:"percent"`
	Label       string  `json:"label"`
	TotalKm     float64 `json:"total_km"`
	CoveredKm   float64 `json:"covered_km"`
	RemainingKm float64 `json:"remaining_km"`

	// Arrived is set when the shipment is within the arrival threshold AND
	// the cooldown since activation has elapsed. The lifecycle decides what
	// to do with it.
	Arrived bool `json:"arrived"`
}

// DeliveryEvaluator computes route progress from the latest GPS fix.
type DeliveryEvaluator struct {
	now func() time.Time
}

// NewDeliveryEvaluator creates the evaluator.
func NewDeliveryEvaluator() *DeliveryEvaluator {
	return &DeliveryEvaluator{now: time.Now}
}

// Evaluate computes delivery progress for a contract given its latest
// telemetry reading (which may be nil).
func (e *DeliveryEvaluator) Evaluate(c *models.Contract, reading *models.TelemetryReading) Progress {
	if c.IsTerminal() || c.DeliveredAt != nil {
		return Progress{Percent: 100, Label: LabelCompleted, Arrived: true}
	}

	if c.StartCoord == nil || c.EndCoord == nil {
		return Progress{Label: LabelCoordsMissing}
	}

	if reading == nil {
		return Progress{Label: LabelNoGPSData}
	}
	pos := reading.Position()
	if pos == nil {
		return Progress{Label: LabelTrackingNA}
	}

	start, end := *c.StartCoord, *c.EndCoord
	total := geo.DistanceKm(start.Lat, start.Lon, end.Lat, end.Lon)
	remaining := geo.DistanceKm(pos.Lat, pos.Lon, end.Lat, end.Lon)
	covered := geo.DistanceKm(start.Lat, start.Lon, pos.Lat, pos.Lon)

	var percent float64
	if total <= DegenerateRouteKm {
		percent = 100
	} else {
		ratio := covered / total
		if ratio > 1.0 {
			ratio = 1.0
		}
		percent = ratio * 100
	}

	p := Progress{
		Percent:     percent,
		Label:       fmt.Sprintf("%.0f%%", percent),
		TotalKm:     total,
		CoveredKm:   covered,
		RemainingKm: remaining,
	}

	if remaining < ArrivalThresholdKm && c.StartDate != nil &&
		e.now().Sub(*c.StartDate) >= ArrivalCooldown {
		p.Arrived = true
		p.Percent = 100
		p.Label = LabelCompleted
	}

	return p
}
