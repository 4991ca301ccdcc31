// Package memory implements an in-memory journal backend: a plain slice of
// frames plus the LSN range they occupy. It is grounded on sqlsync's
// original MemoryJournal (journal/memory.rs), including its Empty/NonEmpty
// split, collapsed here into one struct whose range tracks an anchor LSN
// while empty.
package memory

import (
	"sync"

	"github.com/sqlsync/sqlsync/pkg/journal"
	"github.com/sqlsync/sqlsync/pkg/journalid"
	"github.com/sqlsync/sqlsync/pkg/lsnrange"
)

// Journal is an in-memory journal.Journal, primarily useful for tests and
// for the reducer host's scratch timelines.
type Journal struct {
	mu   sync.RWMutex
	id   journalid.ID
	rng  lsnrange.Range
	data [][]byte
}

// Open creates an empty in-memory journal with the given identity.
func Open(id journalid.ID) *Journal {
	return &Journal{id: id, rng: lsnrange.Empty(0)}
}

func (j *Journal) ID() journalid.ID { return j.id }

func (j *Journal) Range() lsnrange.Range {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.rng
}

func (j *Journal) Append(entry []byte) (lsnrange.Lsn, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	cp := append([]byte(nil), entry...)
	if j.rng.IsEmpty() {
		next := j.rng.Next()
		j.rng = lsnrange.New(next, next)
		j.data = [][]byte{cp}
		return next, nil
	}
	j.data = append(j.data, cp)
	j.rng = j.rng.ExtendBy(1)
	last, _ := j.rng.Last()
	return last, nil
}

func (j *Journal) DropPrefix(upTo lsnrange.Lsn) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.rng.IsEmpty() {
		return nil
	}
	remaining := j.rng.TrimPrefix(upTo)
	if remaining.IsEmpty() {
		j.data = nil
		j.rng = remaining
		return nil
	}
	start, end := j.rng.IntersectionOffsets(remaining)
	j.data = append([][]byte(nil), j.data[start:end]...)
	j.rng = remaining
	return nil
}

func (j *Journal) ReadLSN(lsn lsnrange.Lsn) ([]byte, bool, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	offset, ok := j.rng.Offset(lsn)
	if !ok {
		return nil, false, nil
	}
	return j.data[offset], true, nil
}

func (j *Journal) Scan() journal.Cursor {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return journal.NewSliceCursor(j.data, false)
}

func (j *Journal) ScanRev() journal.Cursor {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return journal.NewSliceCursor(j.data, true)
}

func (j *Journal) ScanRange(r lsnrange.Range) journal.Cursor {
	j.mu.RLock()
	defer j.mu.RUnlock()

	inter, ok := j.rng.Intersect(r)
	if !ok {
		return journal.NewSliceCursor(nil, false)
	}
	start, end := j.rng.IntersectionOffsets(inter)
	return journal.NewSliceCursor(j.data[start:end], false)
}

// SourceID implements journal.ReplicationSource.
func (j *Journal) SourceID() journalid.ID { return j.ID() }

// SourceRange implements journal.ReplicationSource.
func (j *Journal) SourceRange() lsnrange.Range { return j.Range() }

// DestinationRange implements journal.ReplicationDestination.
func (j *Journal) DestinationRange(id journalid.ID) (lsnrange.Range, error) {
	if !id.Equal(j.id) {
		return lsnrange.Range{}, journal.ErrUnknownJournal(id, j.id)
	}
	return j.Range(), nil
}

// WriteLSN implements journal.ReplicationDestination. It is idempotent:
// writing an lsn already within range overwrites that frame; writing the
// lsn immediately past the range appends. Anything else is rejected.
func (j *Journal) WriteLSN(id journalid.ID, lsn lsnrange.Lsn, data []byte) error {
	if !id.Equal(j.id) {
		return journal.ErrUnknownJournal(id, j.id)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	cp := append([]byte(nil), data...)

	if j.rng.IsEmpty() {
		next := j.rng.Next()
		if lsn != next {
			return journal.ErrNonContiguousLSN(lsn, lsnrange.New(next, next))
		}
		j.rng = lsnrange.New(lsn, lsn)
		j.data = [][]byte{cp}
		return nil
	}

	accepted := j.rng.ExtendBy(1)
	if !accepted.Contains(lsn) {
		return journal.ErrNonContiguousLSN(lsn, accepted)
	}
	if offset, ok := j.rng.Offset(lsn); ok {
		j.data[offset] = cp
		return nil
	}
	j.data = append(j.data, cp)
	j.rng = accepted
	return nil
}

