package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"

	"github.com/dratasich/telemetry-cache/events"
)

// Device is the field side of the broker contract: it publishes its
// telemetry and receives commands addressed to it.
type Device struct {
	id     string
	config Config
	client *Client

	// received setpoint commands
	SetpointQueue chan float64
}

func NewDevice(cfg Config, deviceID string) *Device {
	d := &Device{
		id:            deviceID,
		config:        cfg,
		SetpointQueue: make(chan float64, 10),
	}
	if cfg.ClientID == "" {
		cfg.ClientID = deviceID
	}
	d.client = NewClient(cfg, []string{cfg.commandTopic(deviceID)}, d.handleCommand)
	return d
}

func (d *Device) Connect(ctx context.Context) error {
	return d.client.Connect(ctx)
}

func (d *Device) Disconnect(ctx context.Context) {
	d.client.Disconnect(ctx)
}

func (d *Device) handleCommand(topic string, payload []byte) {
	log.Info().Msgf("Command received on %s", topic)
	sp, err := decodeSetpoint(payload)
	if err != nil {
		log.Error().Msgf("Failed to decode command: %s. Payload: %s", err, payload)
		return
	}
	if sp.Setpoint == nil {
		log.Debug().Msgf("Ignoring command without setpoint: %s", payload)
		return
	}
	select {
	case d.SetpointQueue <- *sp.Setpoint:
	default:
		log.Error().Msg("Setpoint queue full, dropping command")
	}
}

func decodeSetpoint(payload []byte) (events.Setpoint, error) {
	var cmd events.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return events.Setpoint{}, err
	}
	var sp events.Setpoint
	cfg := &mapstructure.DecoderConfig{
		// "25" and 25 are both accepted as setpoint
		WeaklyTypedInput: true,
		Result:           &sp,
	}
	dec, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return events.Setpoint{}, err
	}
	if err := dec.Decode(cmd); err != nil {
		return events.Setpoint{}, err
	}
	return sp, nil
}

// PublishTelemetry sends one snapshot of the device's metrics.
func (d *Device) PublishTelemetry(ctx context.Context, metrics map[string]float64) error {
	payload, err := json.Marshal(map[string]any{
		"deviceId": d.id,
		"metrics":  metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to encode telemetry: %w", err)
	}
	return d.client.Publish(ctx, d.config.telemetryTopic(d.id), payload)
}
