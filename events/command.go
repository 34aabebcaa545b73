package events

// Command sent from the gateway to a device
//
// Free-form JSON object, e.g. `{"setpoint": 25.0}`.
// Devices decode the keys they understand (see mapstructure).
type Command map[string]any

// Setpoint command understood by the edge simulator
type Setpoint struct {
	Setpoint *float64 `mapstructure:"setpoint"`
}
