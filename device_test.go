package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSetpoint(t *testing.T) {
	sp, err := decodeSetpoint([]byte(`{"setpoint": 25.5}`))
	require.NoError(t, err)
	require.NotNil(t, sp.Setpoint)
	assert.Equal(t, 25.5, *sp.Setpoint)

	sp, err = decodeSetpoint([]byte(`{"setpoint": "19"}`))
	require.NoError(t, err)
	require.NotNil(t, sp.Setpoint)
	assert.Equal(t, 19.0, *sp.Setpoint)

	_, err = decodeSetpoint([]byte(`[1, 2]`))
	assert.Error(t, err)
}

func TestHandleCommand(t *testing.T) {
	d := NewDevice(Config{CommandTopic: "lab/cmd/"}, "Machine1")

	d.handleCommand("lab/cmd/Machine1", []byte(`{"reboot": true}`))
	d.handleCommand("lab/cmd/Machine1", []byte(`garbage`))
	d.handleCommand("lab/cmd/Machine1", []byte(`{"setpoint": 24}`))

	require.Len(t, d.SetpointQueue, 1)
	assert.Equal(t, 24.0, <-d.SetpointQueue)
	assert.Equal(t, "Machine1", d.client.config.ClientID)
}
