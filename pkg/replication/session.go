package replication

import (
	"fmt"
	"io"

	"github.com/sqlsync/sqlsync/pkg/journal"
)

// Session drives one full-duplex replication connection: a local Source
// pushed out to the peer's Destination, and a peer's Source received into
// a local Destination, composed from two independent Protocol instances.
// Every sqlsync connection — coordinator-to-client or client-to-coordinator
// — carries exactly one direction it sources and one it receives, so this
// composition covers both cmd/sqlsyncd and cmd/sqlsyncctl's wire loops.
type Session struct {
	send *Protocol
	recv *Protocol

	source journal.ReplicationSource
	dest   journal.ReplicationDestination
}

// NewSession builds a Session pushing source's data out and writing
// incoming data into dest.
func NewSession(source journal.ReplicationSource, dest journal.ReplicationDestination) *Session {
	return &Session{send: New(), recv: New(), source: source, dest: dest}
}

// Start returns the initial RangeRequest advertising source's data to the
// peer, sent once when the connection opens.
func (s *Session) Start() Msg {
	return s.send.Start(s.source)
}

// Sync returns the next frame to push from source, if any is due.
func (s *Session) Sync() (Msg, []byte, bool, error) {
	return s.send.Sync(s.source)
}

// HandleIncoming processes one message read off the wire, routing it to
// whichever of the two Protocol instances owns it: a RangeRequest or
// Frame always originates from the peer's own source and is handled
// against the local Destination; a Range is always an acknowledgement of
// this Session's own Sync traffic.
func (s *Session) HandleIncoming(msg Msg, body io.Reader) (Msg, bool, error) {
	switch msg.Kind {
	case MsgRangeRequest, MsgFrame:
		return s.recv.Handle(s.dest, msg, body)
	case MsgRange:
		return s.send.Handle(nil, msg, body)
	default:
		return Msg{}, false, fmt.Errorf("replication: session: unknown message kind %d", msg.Kind)
	}
}
