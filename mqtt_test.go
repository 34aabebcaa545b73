package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dratasich/telemetry-cache/clock"
	"github.com/dratasich/telemetry-cache/normalize"
	"github.com/dratasich/telemetry-cache/store"
)

func fixtureConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Enabled: true,
		// free to use, see https://test.mosquitto.org/
		ServerURL: "mqtt://test.mosquitto.org:1883",
		// 1883/8883 is unauthenticated
		Username:  "",
		Password:  "",
		KeepAlive: 60,
		// unique prefix so parallel runs do not see each other
		TelemetryTopic: "telemetry-cache-test/" + t.Name() + "/telemetry/",
		CommandTopic:   "telemetry-cache-test/" + t.Name() + "/cmd/",
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := fixtureConfig(t)
	assert.NoError(t, cfg.Validate())

	cfg.ServerURL = "broker-without-scheme"
	assert.Error(t, cfg.Validate())

	cfg = fixtureConfig(t)
	cfg.CommandTopic = ""
	assert.Error(t, cfg.Validate())
}

func TestNewClientGeneratesClientID(t *testing.T) {
	c := NewClient(Config{}, nil, nil)
	assert.Contains(t, c.config.ClientID, "telemetry-cache-")
	assert.False(t, c.IsConnected())

	c = NewClient(Config{ClientID: "fixed"}, nil, nil)
	assert.Equal(t, "fixed", c.config.ClientID)
}

func TestPublishBeforeConnect(t *testing.T) {
	c := NewClient(Config{}, nil, nil)

	err := c.Publish(context.Background(), "topic", []byte("{}"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnect(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping broker connection test")
	}

	c := NewClient(fixtureConfig(t), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.IsConnected())
	c.Disconnect(ctx)
	assert.False(t, c.IsConnected(), "client should be disconnected")
}

func TestDeviceTelemetryReachesGateway(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping broker integration test")
	}

	cfg := fixtureConfig(t)
	s := store.New()
	gw := NewGateway(cfg, normalize.New(clock.Real()), s, nil)
	dev := NewDevice(cfg, "Machine1")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, gw.Start(ctx))
	defer gw.Stop(ctx)
	require.NoError(t, dev.Connect(ctx))
	defer dev.Disconnect(ctx)

	// subscriptions are renewed asynchronously on connection up, so keep
	// publishing until the other side has seen a message

	// telemetry: device -> gateway
	assert.Eventually(t, func() bool {
		assert.NoError(t, dev.PublishTelemetry(ctx, map[string]float64{"temp_c": 21.5}))
		rec, err := s.Latest("Machine1")
		return err == nil && rec.Metrics["temp_c"] == 21.5
	}, 5*time.Second, 250*time.Millisecond)

	// command: gateway -> device
	assert.Eventually(t, func() bool {
		assert.NoError(t, gw.SendCommand(ctx, "Machine1", map[string]any{"setpoint": 25.0}))
		select {
		case sp := <-dev.SetpointQueue:
			return sp == 25.0
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 250*time.Millisecond)
}
