// Package journal defines the Journal contract: an append-only, LSN-indexed
// log of opaque frames that backs every timeline and every storage replica
// in sqlsync. Concrete backends (in-memory, badger-durable) implement this
// interface; replication, timeline apply/rebase, and storage all program
// against it rather than against a specific backend.
package journal

import (
	"io"

	"github.com/sqlsync/sqlsync/internal/errs"
	"github.com/sqlsync/sqlsync/pkg/journalid"
	"github.com/sqlsync/sqlsync/pkg/lsnrange"
)

// Journal is an append-only, contiguous log of frames addressed by LSN.
// Implementations must preserve contiguity: Range always describes one
// unbroken interval (or is empty), and Append always assigns the next LSN
// after the current Range.
type Journal interface {
	// ID returns the journal's identity, fixed for its lifetime.
	ID() journalid.ID

	// Range returns the journal's current LSN range. IsEmpty is true for a
	// journal that has never been appended to (or has had its entire
	// content trimmed), in which case Range.Next still reports the LSN the
	// next Append will assign.
	Range() lsnrange.Range

	// Append writes data as a new frame at the next LSN and returns the
	// assigned LSN.
	Append(data []byte) (lsnrange.Lsn, error)

	// DropPrefix discards every frame with LSN <= upTo. It is a no-op if
	// the journal is already empty or upTo precedes the journal's range.
	DropPrefix(upTo lsnrange.Lsn) error

	// ReadLSN returns the raw frame bytes at lsn, or ok=false if lsn is not
	// present (trimmed, or not yet appended).
	ReadLSN(lsn lsnrange.Lsn) (data []byte, ok bool, err error)

	// Scan returns a cursor over every frame in the journal, oldest first.
	Scan() Cursor

	// ScanRev returns a cursor over every frame in the journal, newest
	// first.
	ScanRev() Cursor

	// ScanRange returns a cursor over the frames whose LSNs fall within
	// the intersection of r and the journal's current range.
	ScanRange(r lsnrange.Range) Cursor
}

// Cursor iterates frames in a journal, one at a time. Callers must call
// Advance before the first read; a cursor positioned past its last element
// has Advance return (false, nil).
type Cursor interface {
	// Advance moves the cursor to the next element, returning false once
	// there are no more.
	Advance() (bool, error)

	// Remaining returns the number of elements left to iterate, including
	// the one the cursor currently points to.
	Remaining() int

	// Data returns the frame bytes the cursor currently points to, or nil
	// if Advance has not been called or has returned false.
	Data() []byte

	io.Closer
}

// ReplicationSource is the read side of the replication protocol: serving
// frames by LSN to a remote destination.
type ReplicationSource interface {
	SourceID() journalid.ID
	SourceRange() lsnrange.Range
	ReadLSN(lsn lsnrange.Lsn) (data []byte, ok bool, err error)
}

// ReplicationDestination is the write side of the replication protocol:
// accepting frames from a remote source and reporting the journal's range
// so the source can compute what to send next.
type ReplicationDestination interface {
	// DestinationRange returns the current range of the journal identified
	// by id, or an error if id does not match this destination's journal.
	DestinationRange(id journalid.ID) (lsnrange.Range, error)

	// WriteLSN writes a frame received from replication at lsn. It is
	// idempotent: writing an lsn already present in the journal's range
	// overwrites that frame in place without otherwise changing the
	// range. Writing an lsn outside [range.first, range.next] is rejected
	// with a CodeNonContiguousLSN error.
	WriteLSN(id journalid.ID, lsn lsnrange.Lsn, data []byte) error
}

// ErrUnknownJournal builds the error WriteLSN/DestinationRange return when
// the caller-supplied id does not match the journal being addressed.
func ErrUnknownJournal(got, want journalid.ID) error {
	return errs.New(errs.CodeWrongJournal, "journal id "+got.String()+" does not match destination "+want.String())
}

// ErrNonContiguousLSN builds the error WriteLSN returns when lsn falls
// outside the journal's acceptable range.
func ErrNonContiguousLSN(lsn lsnrange.Lsn, acceptable lsnrange.Range) error {
	return errs.New(errs.CodeNonContiguousLSN, "lsn "+itoa(lsn)+" is outside acceptable range "+acceptable.String())
}

// SliceCursor is a Cursor over an in-memory slice of frames, shared by the
// memory and badger backends (both materialize their scan results as a
// slice before iterating).
type SliceCursor struct {
	slice   [][]byte
	started bool
	rev     bool
}

// NewSliceCursor wraps a copy of slice for iteration. If rev is true,
// iteration proceeds from the last element to the first.
func NewSliceCursor(slice [][]byte, rev bool) *SliceCursor {
	cp := append([][]byte(nil), slice...)
	return &SliceCursor{slice: cp, rev: rev}
}

func (c *SliceCursor) Advance() (bool, error) {
	if !c.started {
		c.started = true
	} else if len(c.slice) > 0 {
		if c.rev {
			c.slice = c.slice[:len(c.slice)-1]
		} else {
			c.slice = c.slice[1:]
		}
	}
	return len(c.slice) > 0, nil
}

func (c *SliceCursor) Remaining() int {
	return len(c.slice)
}

func (c *SliceCursor) Data() []byte {
	if !c.started || len(c.slice) == 0 {
		return nil
	}
	if c.rev {
		return c.slice[len(c.slice)-1]
	}
	return c.slice[0]
}

func (c *SliceCursor) Close() error { return nil }

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
