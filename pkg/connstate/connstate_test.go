package connstate_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sqlsync/sqlsync/pkg/connstate"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := connstate.NewBackoff(10*time.Millisecond, 40*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, b.Next())
	assert.Equal(t, 20*time.Millisecond, b.Next())
	assert.Equal(t, 40*time.Millisecond, b.Next())
	assert.Equal(t, 40*time.Millisecond, b.Next())
}

func TestBackoffReset(t *testing.T) {
	b := connstate.NewBackoff(10*time.Millisecond, 40*time.Millisecond)
	b.Next()
	b.Next()
	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.Next())
}

func TestMachineTransitions(t *testing.T) {
	m := connstate.NewDisabled()
	assert.Equal(t, connstate.StatusDisabled, m.Status())

	m.Enable()
	assert.Equal(t, connstate.StatusDisconnected, m.Status())

	m.StartConnecting()
	assert.Equal(t, connstate.StatusConnecting, m.Status())

	m.Connected()
	assert.Equal(t, connstate.StatusConnected, m.Status())

	m.Failed()
	assert.Equal(t, connstate.StatusDisconnected, m.Status())
}

func TestFailedAfterConnectedResetsToFastBackoff(t *testing.T) {
	m := connstate.NewDisconnected()
	first := m.NextDelay()
	assert.Equal(t, connstate.MinBackoff, first)

	m.StartConnecting()
	m.Connected()
	m.Failed()

	assert.Equal(t, connstate.MinBackoff, m.NextDelay())
}

func TestDisableFromAnyState(t *testing.T) {
	m := connstate.NewDisconnected()
	m.StartConnecting()
	m.Disable()
	assert.Equal(t, connstate.StatusDisabled, m.Status())
}
