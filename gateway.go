package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dratasich/telemetry-cache/events"
	"github.com/dratasich/telemetry-cache/metrics"
	"github.com/dratasich/telemetry-cache/normalize"
	"github.com/dratasich/telemetry-cache/store"
)

var (
	// ErrUnexpectedTopic: the message arrived outside the telemetry topic tree.
	ErrUnexpectedTopic = errors.New("not a telemetry topic")
	// ErrDeviceMismatch: the payload names another device than its topic.
	ErrDeviceMismatch = errors.New("deviceId does not match topic")
)

// Gateway ingests device telemetry from the broker into the store and
// forwards commands to devices.
//
//	lab/telemetry/{deviceId}  device -> gateway, {deviceId?, ts?, metrics}
//	lab/cmd/{deviceId}        gateway -> device, free-form command object
type Gateway struct {
	config     Config
	client     *Client
	normalizer *normalize.Normalizer
	store      *store.Store
	metrics    *metrics.Metrics
}

func NewGateway(cfg Config, n *normalize.Normalizer, s *store.Store, m *metrics.Metrics) *Gateway {
	g := &Gateway{
		config:     cfg,
		normalizer: n,
		store:      s,
		metrics:    m,
	}
	g.client = NewClient(cfg, []string{cfg.telemetryTopic("+")}, g.handleMessage)
	return g
}

func (g *Gateway) Start(ctx context.Context) error {
	return g.client.Connect(ctx)
}

func (g *Gateway) Stop(ctx context.Context) {
	g.client.Disconnect(ctx)
}

// Connected reports the broker connection state.
func (g *Gateway) Connected() bool {
	return g.client.IsConnected()
}

func (g *Gateway) handleMessage(topic string, payload []byte) {
	rec, err := g.HandleTelemetry(topic, payload)
	if err != nil {
		log.Error().Msgf("Dropping telemetry from %s: %s", topic, err)
		return
	}
	log.Debug().Msgf("Stored telemetry of %s at %s", rec.DeviceID, rec.Timestamp)
}

// HandleTelemetry validates one telemetry message and stores it as the
// latest record of its device. The device id defaults to the topic suffix.
// Rejected messages leave the store untouched.
func (g *Gateway) HandleTelemetry(topic string, payload []byte) (events.Record, error) {
	topicDevice, ok := strings.CutPrefix(topic, g.config.TelemetryTopic)
	if !ok || topicDevice == "" || strings.Contains(topicDevice, "/") {
		return events.Record{}, g.reject("topic", fmt.Errorf("%w: %s", ErrUnexpectedTopic, topic))
	}

	body, err := normalize.DecodeJSON(payload)
	if err != nil {
		return events.Record{}, g.reject("json", fmt.Errorf("payload is not valid JSON: %w", err))
	}

	if obj, ok := body.(map[string]any); ok {
		switch id := obj["deviceId"].(type) {
		case nil:
			withID := make(map[string]any, len(obj)+1)
			for k, v := range obj {
				withID[k] = v
			}
			withID["deviceId"] = topicDevice
			body = withID
		case string:
			if id != topicDevice {
				return events.Record{}, g.reject("topic", fmt.Errorf("%w: %q on %s", ErrDeviceMismatch, id, topic))
			}
		}
	}

	rec, err := g.normalizer.Record(body)
	if err != nil {
		reason := "invalid"
		var verr *normalize.Error
		if errors.As(err, &verr) {
			reason = string(verr.Kind)
		}
		return events.Record{}, g.reject(reason, err)
	}

	stored := g.store.Put(rec)
	if g.metrics != nil {
		g.metrics.RecordsAccepted.WithLabelValues(metrics.SourceMQTT).Inc()
	}
	return stored, nil
}

func (g *Gateway) reject(reason string, err error) error {
	if g.metrics != nil {
		g.metrics.RecordsRejected.WithLabelValues(metrics.SourceMQTT, reason).Inc()
	}
	return err
}

// SendCommand publishes cmd to the command topic of a device.
func (g *Gateway) SendCommand(ctx context.Context, deviceID string, cmd events.Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}
	if err := g.client.Publish(ctx, g.config.commandTopic(deviceID), payload); err != nil {
		return err
	}
	if g.metrics != nil {
		g.metrics.CommandsSent.Inc()
	}
	log.Info().Msgf("Published command for %s: %s", deviceID, payload)
	return nil
}
