// Package coordinator implements sqlsync's authoritative document: a
// single Storage whose journal is the canonical database history, one
// Journal per client timeline it has ever seen, and a FIFO receive queue
// of coalesced ranges waiting to be folded into the authoritative
// database. Grounded directly on the original coordinator.rs.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/sqlsync/sqlsync/internal/sqlengine"
	"github.com/sqlsync/sqlsync/pkg/journal"
	"github.com/sqlsync/sqlsync/pkg/journalid"
	"github.com/sqlsync/sqlsync/pkg/lsnrange"
	"github.com/sqlsync/sqlsync/pkg/reducer"
	"github.com/sqlsync/sqlsync/pkg/signal"
	"github.com/sqlsync/sqlsync/pkg/storage"
	"github.com/sqlsync/sqlsync/pkg/timeline"
)

// SignalNewData is raised on the Document's Router every time step folds
// at least one range into the authoritative database, so a caller can
// announce fresh data to connected clients.
const SignalNewData = "coordinator:new_data"

// TimelineFactory opens (or creates, on first sight) the durable journal
// backing one client's timeline. Implementations typically hand out
// badgerjournal.Journal instances keyed by id.
type TimelineFactory interface {
	Open(id journalid.ID) (journal.Journal, error)
}

type receiveQueueEntry struct {
	id  journalid.ID
	rng lsnrange.Range
}

// Document is the coordinator's single authoritative document: one
// Storage, one reducer, and every client timeline that has replicated
// into it.
type Document struct {
	mu sync.Mutex

	reducer         reducer.Reducer
	storage         *storage.Storage
	conn            sqlengine.Conn
	timelineFactory TimelineFactory

	timelines    map[string]journal.Journal // keyed by journalid.ID.String()
	receiveQueue []receiveQueueEntry

	Signals *signal.Router
}

// Open runs the timeline-table migration against conn and returns a ready
// Document backed by st. conn must already be open over a VFS whose File
// is st itself — the same Storage instance this Document will Commit and
// Revert — so that pages the embedded engine writes through conn land in
// the pending set this Document actually flushes.
func Open(ctx context.Context, st *storage.Storage, conn sqlengine.Conn, timelineFactory TimelineFactory, r reducer.Reducer) (*Document, error) {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordinator: open: %w", err)
	}
	if err := timeline.RunMigration(ctx, tx); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("coordinator: open: migration: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("coordinator: open: migration commit: %w", err)
	}

	return &Document{
		reducer:         r,
		storage:         st,
		conn:            conn,
		timelineFactory: timelineFactory,
		timelines:       make(map[string]journal.Journal),
		Signals:         signal.New(),
	}, nil
}

// getOrCreateTimeline returns the Journal tracking id's client timeline,
// opening it via timelineFactory the first time id is seen.
func (d *Document) getOrCreateTimeline(id journalid.ID) (journal.Journal, error) {
	key := id.String()
	if j, ok := d.timelines[key]; ok {
		return j, nil
	}
	j, err := d.timelineFactory.Open(id)
	if err != nil {
		return nil, fmt.Errorf("coordinator: open timeline %s: %w", id, err)
	}
	d.timelines[key] = j
	return j, nil
}

// HasPendingWork reports whether the receive queue has an entry step has
// not yet processed.
func (d *Document) HasPendingWork() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.receiveQueue) > 0
}

// markReceived appends {id, [lsn,lsn]} to the receive queue, coalescing
// with the tail entry when it already refers to id.
func (d *Document) markReceived(id journalid.ID, lsn lsnrange.Lsn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n := len(d.receiveQueue); n > 0 {
		tail := &d.receiveQueue[n-1]
		if tail.id.Equal(id) {
			if !tail.rng.Contains(lsn) {
				tail.rng = tail.rng.ExtendBy(1)
			}
			return
		}
	}
	d.receiveQueue = append(d.receiveQueue, receiveQueueEntry{
		id:  id,
		rng: lsnrange.New(lsn, lsn),
	})
}

// Step pops one entry from the receive queue (if any), applies its range
// against the authoritative database through the reducer, and commits the
// authoritative storage. It is a no-op if the queue is empty.
func (d *Document) Step(ctx context.Context) error {
	d.mu.Lock()
	if len(d.receiveQueue) == 0 {
		d.mu.Unlock()
		return nil
	}
	entry := d.receiveQueue[0]
	d.receiveQueue = d.receiveQueue[1:]
	d.mu.Unlock()

	tl, ok := d.timelines[entry.id.String()]
	if !ok {
		return fmt.Errorf("coordinator: step: timeline %s missing but present in receive queue", entry.id)
	}

	if err := timeline.ApplyRange(ctx, tl, d.conn, d.reducer, entry.rng); err != nil {
		return fmt.Errorf("coordinator: step: %w", err)
	}
	if err := d.storage.Commit(); err != nil {
		return fmt.Errorf("coordinator: step: commit: %w", err)
	}

	d.Signals.Raise(SignalNewData)
	return nil
}

// SourceID implements journal.ReplicationSource over the authoritative
// storage journal.
func (d *Document) SourceID() journalid.ID { return d.storage.SourceID() }

// SourceRange implements journal.ReplicationSource over the authoritative
// storage journal.
func (d *Document) SourceRange() lsnrange.Range { return d.storage.SourceRange() }

// ReadLSN implements journal.ReplicationSource over the authoritative
// storage journal.
func (d *Document) ReadLSN(lsn lsnrange.Lsn) ([]byte, bool, error) { return d.storage.ReadLSN(lsn) }

// DestinationRange implements journal.ReplicationDestination by
// opening-or-creating id's timeline and reporting its range.
func (d *Document) DestinationRange(id journalid.ID) (lsnrange.Range, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tl, err := d.getOrCreateTimeline(id)
	if err != nil {
		return lsnrange.Range{}, err
	}
	dst, ok := tl.(journal.ReplicationDestination)
	if !ok {
		return lsnrange.Range{}, fmt.Errorf("coordinator: timeline %s is not a replication destination", id)
	}
	return dst.DestinationRange(id)
}

// WriteLSN implements journal.ReplicationDestination: it writes the frame
// into id's timeline journal and marks the range received for the next
// Step.
func (d *Document) WriteLSN(id journalid.ID, lsn lsnrange.Lsn, data []byte) error {
	d.mu.Lock()
	tl, err := d.getOrCreateTimeline(id)
	d.mu.Unlock()
	if err != nil {
		return err
	}

	dst, ok := tl.(journal.ReplicationDestination)
	if !ok {
		return fmt.Errorf("coordinator: timeline %s is not a replication destination", id)
	}
	if err := dst.WriteLSN(id, lsn, data); err != nil {
		return fmt.Errorf("coordinator: write lsn: %w", err)
	}

	d.markReceived(id, lsn)
	return nil
}
