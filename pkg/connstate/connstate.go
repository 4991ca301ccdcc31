// Package connstate implements the coordinator-connection backoff state
// machine a client uses while reconnecting to a coordinator: Disabled,
// Disconnected (backing off), Connecting, and Connected. Grounded on
// sqlsync-wasm's net.rs ConnectionState/ConnectionStatus plus its Backoff
// helper (10ms initial, doubling, capped at 5s, reset on success).
package connstate

import "time"

const (
	// MinBackoff is the delay before the first reconnect attempt.
	MinBackoff = 10 * time.Millisecond
	// MaxBackoff caps how long a client will wait between reconnect
	// attempts.
	MaxBackoff = 5 * time.Second
)

// Status is the externally observable connection status, independent of
// backoff bookkeeping.
type Status int

const (
	StatusDisabled Status = iota
	StatusDisconnected
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisabled:
		return "disabled"
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Backoff tracks an exponentially growing delay, starting at min and
// doubling on every call to Next up to max, resettable to min.
type Backoff struct {
	min, max time.Duration
	current  time.Duration
}

// NewBackoff returns a Backoff starting at min, capped at max.
func NewBackoff(min, max time.Duration) *Backoff {
	return &Backoff{min: min, max: max, current: min}
}

// Next returns the current delay and doubles it (capped at max) for the
// following call.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Reset returns the backoff to its minimum delay, called whenever a
// connection attempt succeeds.
func (b *Backoff) Reset() {
	b.current = b.min
}

// Machine is the connection state machine for one coordinator link.
// It is not safe for concurrent use — callers must serialize Status/
// transition calls the same way the original single-threaded
// CoordinatorClient does.
type Machine struct {
	status  Status
	backoff *Backoff
}

// NewDisabled returns a Machine with no coordinator URL configured; it
// stays Disabled until Enable is called.
func NewDisabled() *Machine {
	return &Machine{status: StatusDisabled}
}

// NewDisconnected returns a Machine ready to start reconnecting
// immediately, the state a freshly configured client starts in.
func NewDisconnected() *Machine {
	return &Machine{status: StatusDisconnected, backoff: NewBackoff(MinBackoff, MaxBackoff)}
}

// Status returns the machine's current status.
func (m *Machine) Status() Status {
	return m.status
}

// Enable transitions a Disabled machine to Disconnected, so it starts
// attempting to connect.
func (m *Machine) Enable() {
	if m.status != StatusDisabled {
		return
	}
	m.status = StatusDisconnected
	m.backoff = NewBackoff(MinBackoff, MaxBackoff)
}

// Disable transitions the machine to Disabled regardless of its current
// state, e.g. when the coordinator URL is cleared.
func (m *Machine) Disable() {
	m.status = StatusDisabled
	m.backoff = nil
}

// NextDelay returns how long to wait before the next connection attempt,
// and advances the backoff. Valid only while Disconnected.
func (m *Machine) NextDelay() time.Duration {
	if m.status != StatusDisconnected || m.backoff == nil {
		return 0
	}
	return m.backoff.Next()
}

// StartConnecting transitions Disconnected -> Connecting.
func (m *Machine) StartConnecting() {
	if m.status != StatusDisconnected {
		return
	}
	m.status = StatusConnecting
}

// Connected transitions Connecting -> Connected and resets the backoff, so
// the next disconnect starts reconnecting quickly again.
func (m *Machine) Connected() {
	if m.status != StatusConnecting {
		return
	}
	m.status = StatusConnected
	if m.backoff != nil {
		m.backoff.Reset()
	}
}

// Failed transitions Connecting or Connected back to Disconnected,
// preserving (and thus continuing to grow) the existing backoff.
func (m *Machine) Failed() {
	if m.status == StatusDisabled {
		return
	}
	m.status = StatusDisconnected
	if m.backoff == nil {
		m.backoff = NewBackoff(MinBackoff, MaxBackoff)
	}
}
