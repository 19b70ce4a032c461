package models

import "time"

// TelemetryReading is one observation from a tracking device. Written once by
// the ingestion path; read-only to the core. The core only ever asks for the
// latest reading per device.
type TelemetryReading struct {
	DeviceID    string    `json:"device_id" db:"device_id"`
	Temperature *float64  `json:"temperature,omitempty" db:"temperature"`
	Battery     *float64  `json:"battery,omitempty" db:"battery"`
	GPSLat      *float64  `json:"gps_lat,omitempty" db:"gps_lat"`
	GPSLong     *float64  `json:"gps_long,omitempty" db:"gps_long"`
	RecordedAt  time.Time `json:"recorded_at" db:"recorded_at"`
}

// Position returns the reading's GPS coordinate, if present.
func (r *TelemetryReading) Position() *Coordinate {
	if r == nil || r.GPSLat == nil || r.GPSLong == nil {
		return nil
	}
	return &Coordinate{Lat: *r.GPSLat, Lon: *r.GPSLong}
}

// TelemetryStats aggregates readings for dashboard reporting.
type TelemetryStats struct {
	TotalRecords  int     `json:"total_records"`
	NormalRecords int     `json:"normal_records"`
	AvgTemp       float64 `json:"avg_temp"`
}

// SuccessRate is the share of readings inside the contract band, in percent.
func (s *TelemetryStats) SuccessRate() float64 {
	if s.TotalRecords == 0 {
		return 0
	}
	return float64(s.NormalRecords) / float64(s.TotalRecords) * 100
}
