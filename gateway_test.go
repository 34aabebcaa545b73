package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dratasich/telemetry-cache/clock"
	"github.com/dratasich/telemetry-cache/metrics"
	"github.com/dratasich/telemetry-cache/normalize"
	"github.com/dratasich/telemetry-cache/store"
)

func gatewayFixture(t *testing.T) (*Gateway, *store.Store, *metrics.Metrics) {
	t.Helper()
	c := clock.Fake(time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC))
	s := store.New(store.WithClock(c))
	m := metrics.New(s.Len)
	cfg := Config{TelemetryTopic: "lab/telemetry/", CommandTopic: "lab/cmd/"}
	return NewGateway(cfg, normalize.New(c), s, m), s, m
}

func TestHandleTelemetry(t *testing.T) {
	gw, s, m := gatewayFixture(t)

	rec, err := gw.HandleTelemetry("lab/telemetry/Machine1",
		[]byte(`{"deviceId": "Machine1", "metrics": {"temp_c": 22.31, "vibration": 1.2}}`))

	require.NoError(t, err)
	assert.Equal(t, "2025-09-01T12:00:00Z", rec.Timestamp)
	latest, err := s.Latest("Machine1")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"temp_c": 22.31, "vibration": 1.2}, latest.Metrics)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsAccepted.WithLabelValues(metrics.SourceMQTT)))
}

func TestHandleTelemetryDeviceFromTopic(t *testing.T) {
	gw, s, _ := gatewayFixture(t)

	_, err := gw.HandleTelemetry("lab/telemetry/Machine2", []byte(`{"ts": "t0", "metrics": {"rpm": 1200}}`))

	require.NoError(t, err)
	latest, err := s.Latest("Machine2")
	require.NoError(t, err)
	assert.Equal(t, "t0", latest.Timestamp)
}

func TestHandleTelemetryRejects(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		reason  string
	}{
		{"foreign topic", "lab/cmd/Machine1", `{"metrics": {}}`, "topic"},
		{"nested topic", "lab/telemetry/a/b", `{"metrics": {}}`, "topic"},
		{"empty device", "lab/telemetry/", `{"metrics": {}}`, "topic"},
		{"mismatch", "lab/telemetry/Machine1", `{"deviceId": "Machine9", "metrics": {}}`, "topic"},
		{"not json", "lab/telemetry/Machine1", `22.5 degrees`, "json"},
		{"scalar", "lab/telemetry/Machine1", `22.5`, "MalformedInput"},
		{"missing metrics", "lab/telemetry/Machine1", `{"deviceId": "Machine1"}`, "MissingField"},
		{"bad metric", "lab/telemetry/Machine1", `{"metrics": {"temp_c": "warm"}}`, "InvalidMetricValue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, s, m := gatewayFixture(t)

			_, err := gw.HandleTelemetry(tt.topic, []byte(tt.payload))

			assert.Error(t, err)
			assert.Empty(t, s.ListDevices(), "rejected messages must not be stored")
			assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsRejected.WithLabelValues(metrics.SourceMQTT, tt.reason)))
		})
	}
}

func TestHandleTelemetryMismatchError(t *testing.T) {
	gw, _, _ := gatewayFixture(t)

	_, err := gw.HandleTelemetry("lab/telemetry/A", []byte(`{"deviceId": "B", "metrics": {}}`))
	assert.ErrorIs(t, err, ErrDeviceMismatch)

	_, err = gw.HandleTelemetry("elsewhere/A", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnexpectedTopic)
}

func TestHandleMessageDropsInvalid(t *testing.T) {
	gw, s, _ := gatewayFixture(t)

	gw.handleMessage("lab/telemetry/M1", []byte(`nope`))
	gw.handleMessage("lab/telemetry/M1", []byte(`{"metrics": {"a": 1}}`))

	assert.Equal(t, 1, s.Len())
}

func TestSendCommandWithoutConnection(t *testing.T) {
	gw, _, m := gatewayFixture(t)

	err := gw.SendCommand(context.Background(), "M1", map[string]any{"setpoint": 25.0})

	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CommandsSent))
	assert.False(t, gw.Connected())
}
