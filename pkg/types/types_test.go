package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		native   string
		expected ServerStatus
	}{
		{"running", ServerStatusOnline},
		{"restarting", ServerStatusStarting},
		{"removing", ServerStatusStopping},
		{"created", ServerStatusOffline},
		{"exited", ServerStatusOffline},
		{"paused", ServerStatusOffline},
		{"dead", ServerStatusOffline},
		{"", ServerStatusOffline},
		{"some-future-state", ServerStatusOffline},
	}

	for _, tt := range tests {
		t.Run(tt.native, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeStatus(tt.native))
		})
	}
}

func TestValidPowerAction(t *testing.T) {
	for _, a := range []PowerAction{PowerStart, PowerStop, PowerRestart, PowerKill} {
		assert.True(t, ValidPowerAction(a), string(a))
	}
	assert.False(t, ValidPowerAction("reboot"))
	assert.False(t, ValidPowerAction(""))
}

func TestTransitionalStatus(t *testing.T) {
	assert.Equal(t, ServerStatusStarting, PowerStart.TransitionalStatus())
	assert.Equal(t, ServerStatusStarting, PowerRestart.TransitionalStatus())
	assert.Equal(t, ServerStatusStopping, PowerStop.TransitionalStatus())
	assert.Equal(t, ServerStatusStopping, PowerKill.TransitionalStatus())
}
