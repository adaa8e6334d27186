package call

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCallIdsAreUnique(t *testing.T) {
	a := NewCallId()
	b := NewCallId()
	assert.NotEqual(t, a, b)
}

func TestIsActiveUnheldRequiresActiveAndNoHold(t *testing.T) {
	c := New(Outgoing, Classic)
	c.SetCallState(Active)
	c.SetMedia([]MediaAttribute{{Type: AUDIO, Enabled: true}})
	assert.True(t, c.IsActiveUnheld())

	c.SetHold(true)
	assert.False(t, c.IsActiveUnheld())
}

func TestSetHoldTransitionsCallState(t *testing.T) {
	c := New(Outgoing, Classic)
	c.SetCallState(Active)
	c.SetMedia([]MediaAttribute{{Type: AUDIO, Enabled: true}})

	c.SetHold(true)
	assert.Equal(t, Hold, c.CallState())

	c.SetHold(false)
	assert.Equal(t, Active, c.CallState())
}

func TestTerminalStateLabels(t *testing.T) {
	c := New(Incoming, Classic)
	c.SetConnectionState(Ringing)
	assert.Equal(t, LabelIncoming, c.TerminalStateLabel())

	c2 := New(Outgoing, Classic)
	c2.SetConnectionState(Ringing)
	assert.Equal(t, LabelRinging, c2.TerminalStateLabel())

	c3 := New(Outgoing, Classic)
	c3.SetConnectionState(Disconnected)
	assert.Equal(t, LabelHungup, c3.TerminalStateLabel())

	c4 := New(Outgoing, Classic)
	c4.SetCallState(Busy)
	assert.Equal(t, LabelBusy, c4.TerminalStateLabel())
}
