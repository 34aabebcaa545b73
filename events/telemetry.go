package events

import "maps"

// Telemetry snapshot of a single device
//
// example:
// `{"deviceId": "Machine1", "ts": "2025-09-01T12:03:22Z", "metrics": {"temp_c": 21.4, "vibration": 0.3}}`
type Record struct {
	// Identity of the source device, never changes once the device exists
	DeviceID string `json:"deviceId"`
	// ISO-8601 timestamp, stored verbatim as supplied by the client
	Timestamp string `json:"ts"`
	// Metric name to value measured at the corresponding timestamp
	Metrics map[string]float64 `json:"metrics"`
}

// Clone returns a copy of the record that shares no state with r.
func (r Record) Clone() Record {
	out := r
	out.Metrics = maps.Clone(r.Metrics)
	if out.Metrics == nil {
		out.Metrics = map[string]float64{}
	}
	return out
}

// Sparse record used to update the latest telemetry of a device
//
// A nil field is not part of the patch. It never means "clear this field".
type Patch struct {
	// Accepted on the wire but ignored on merge
	DeviceID  *string
	Timestamp *string
	// nil when the patch carries no metrics; merged key by key otherwise
	Metrics map[string]float64
}

// Device listing entry
type DeviceSummary struct {
	DeviceID string `json:"deviceId"`
	LastTs   string `json:"lastTs"`
}
