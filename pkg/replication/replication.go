// Package replication implements sqlsync's replication protocol: a source
// streams journal frames to a destination, bounded by a cap on frames sent
// without acknowledgement. Grounded directly on the original
// replication.rs, including its RangeRequest/Range/Frame handshake and the
// MAX_OUTSTANDING_FRAMES backpressure limit.
package replication

import (
	"fmt"
	"io"

	"github.com/sqlsync/sqlsync/internal/errs"
	"github.com/sqlsync/sqlsync/pkg/journal"
	"github.com/sqlsync/sqlsync/pkg/journalid"
	"github.com/sqlsync/sqlsync/pkg/lsnrange"
)

// MaxOutstandingFrames bounds how many frames a source will send without
// receiving an acknowledging Range message back. It does not affect
// durability — the source journal is only trimmed on rebase.
const MaxOutstandingFrames = 100

// MsgKind discriminates the payload carried by a Msg.
type MsgKind int

const (
	MsgRangeRequest MsgKind = iota
	MsgRange
	MsgFrame
)

// Msg is one message of the replication protocol.
type Msg struct {
	Kind MsgKind

	// RangeRequest fields.
	ID          journalid.ID
	SourceRange lsnrange.Range

	// Range fields.
	Range lsnrange.Range

	// Frame fields (ID is shared with RangeRequest).
	Lsn lsnrange.Lsn
	Len uint64
}

// Protocol drives one side of a replication session. The same type runs
// both the sending (ReplicationSource) and receiving (ReplicationDestination)
// role; which methods get called depends on which side of the session a
// caller is acting as.
type Protocol struct {
	outstanding    lsnrange.Range
	hasOutstanding bool
}

// New creates a fresh, uninitialized Protocol.
func New() *Protocol {
	return &Protocol{}
}

// Start builds the initial RangeRequest a session opens with, sent from
// both sides of the connection.
func (p *Protocol) Start(source journal.ReplicationSource) Msg {
	return Msg{
		Kind:        MsgRangeRequest,
		ID:          source.SourceID(),
		SourceRange: source.SourceRange(),
	}
}

// Initialized reports whether a Range response has been received, meaning
// Sync can start producing frames.
func (p *Protocol) Initialized() bool {
	return p.hasOutstanding
}

// Sync returns the next frame to send from source, along with the Msg
// describing it, or (Msg{}, nil, false) if there is nothing to send right
// now — either the protocol hasn't been initialized, the outstanding
// window is full, or the source has no new frame past the outstanding
// range.
func (p *Protocol) Sync(source journal.ReplicationSource) (Msg, []byte, bool, error) {
	if !p.hasOutstanding {
		return Msg{}, nil, false, nil
	}
	if p.outstanding.Len() >= MaxOutstandingFrames {
		return Msg{}, nil, false, nil
	}

	lsn := p.outstanding.Next()
	data, ok, err := source.ReadLSN(lsn)
	if err != nil {
		return Msg{}, nil, false, fmt.Errorf("replication: sync: %w", err)
	}
	if !ok {
		return Msg{}, nil, false, nil
	}

	p.outstanding = p.outstanding.ExtendBy(1)

	msg := Msg{
		Kind: MsgFrame,
		ID:   source.SourceID(),
		Lsn:  lsn,
		Len:  uint64(len(data)),
	}
	return msg, data, true, nil
}

// Handle processes one incoming Msg. For a Frame message, conn supplies
// exactly Len additional bytes of frame payload immediately following the
// message on the wire; Handle reads exactly that many bytes and no more.
// It returns the reply Msg to send back, if any.
func (p *Protocol) Handle(dest journal.ReplicationDestination, msg Msg, conn io.Reader) (Msg, bool, error) {
	switch msg.Kind {
	case MsgRangeRequest:
		rng, err := dest.DestinationRange(msg.ID)
		if err != nil {
			return Msg{}, false, err
		}
		if rng.IsEmpty() {
			rng = lsnrange.EmptyPreceding(msg.SourceRange)
		}
		return Msg{Kind: MsgRange, Range: rng}, true, nil

	case MsgRange:
		if !p.hasOutstanding {
			p.outstanding = lsnrange.EmptyFollowing(msg.Range)
			p.hasOutstanding = true
			return Msg{}, false, nil
		}
		next := msg.Range.Next()
		if next == 0 {
			return Msg{}, false, fmt.Errorf("replication: subsequent range responses should never be empty")
		}
		p.outstanding = p.outstanding.TrimPrefix(next - 1)
		return Msg{}, false, nil

	case MsgFrame:
		limited := io.LimitReader(conn, int64(msg.Len))
		data, err := io.ReadAll(limited)
		if err != nil {
			return Msg{}, false, fmt.Errorf("replication: reading frame body: %w", err)
		}
		if uint64(len(data)) != msg.Len {
			return Msg{}, false, fmt.Errorf("replication: frame body short read: got %d want %d", len(data), msg.Len)
		}
		if err := dest.WriteLSN(msg.ID, msg.Lsn, data); err != nil {
			return Msg{}, false, err
		}
		rng, err := dest.DestinationRange(msg.ID)
		if err != nil {
			return Msg{}, false, err
		}
		return Msg{Kind: MsgRange, Range: rng}, true, nil

	default:
		return Msg{}, false, errs.New(errs.CodeReducerProtocol, fmt.Sprintf("replication: unknown message kind %d", msg.Kind))
	}
}
