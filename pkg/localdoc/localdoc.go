// Package localdoc implements sqlsync's client-side document: a Storage
// and local timeline journal a single application mutates and queries,
// plus an optional link to a coordinator for replication. Grounded
// directly on the original local.rs / document/client.rs.
package localdoc

import (
	"context"
	"fmt"
	"sync"

	"github.com/sqlsync/sqlsync/internal/sqlengine"
	"github.com/sqlsync/sqlsync/pkg/journal"
	"github.com/sqlsync/sqlsync/pkg/journalid"
	"github.com/sqlsync/sqlsync/pkg/lsnrange"
	"github.com/sqlsync/sqlsync/pkg/reactive"
	"github.com/sqlsync/sqlsync/pkg/reducer"
	"github.com/sqlsync/sqlsync/pkg/signal"
	"github.com/sqlsync/sqlsync/pkg/storage"
	"github.com/sqlsync/sqlsync/pkg/timeline"
)

// SignalStorageChanged is raised whenever Mutate or Rebase changes the
// document's durable state, the trigger the reactive tracker and any
// transport loop listen for.
const SignalStorageChanged = "localdoc:storage_changed"

// Document is one client's local, single-threaded view of a sqlsync
// database: its own Storage, its own timeline of not-yet-acknowledged
// mutations, a reducer, and an optional reactive query tracker.
type Document struct {
	mu sync.Mutex

	storage  *storage.Storage
	timeline journal.Journal
	conn     sqlengine.Conn
	reducer  reducer.Reducer

	tracker *reactive.Tracker

	// visibleLSN is the last authoritative storage LSN this document has
	// rebased onto (set by Rebase from storage's range), i.e. the baseline
	// hasInvisiblePages compares storage against. Before any Rebase, the
	// first WriteLSN seeds it to one below that frame's LSN (0 for LSN 0).
	visibleLSN lsnrange.Lsn
	hasVisible bool

	Signals *signal.Router
}

// Open wraps st and timelineJournal as a ready Document. conn must
// already be open over a VFS whose File is st itself — the same Storage
// instance this Document reverts and reads its committed range from.
// tracker may be nil if the caller does not need reactive queries.
func Open(st *storage.Storage, timelineJournal journal.Journal, conn sqlengine.Conn, r reducer.Reducer, tracker *reactive.Tracker) *Document {
	return &Document{
		storage:  st,
		timeline: timelineJournal,
		conn:     conn,
		reducer:  r,
		tracker:  tracker,
		Signals:  signal.New(),
	}
}

// Mutate applies mutation through the reducer against the local database
// and, on success, appends it to the local timeline so it will later
// replicate to the coordinator. Subscribers are notified that storage
// changed.
func (d *Document) Mutate(ctx context.Context, mutation []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := timeline.ApplyMutation(ctx, d.timeline, d.conn, d.reducer, mutation); err != nil {
		return fmt.Errorf("localdoc: mutate: %w", err)
	}
	d.notifyStorageChanged(reactive.ChangeFull())
	return nil
}

// Query begins a transaction on the document's connection, runs f
// against it, and always rolls it back. It uses the same read-write
// connection as Mutate; write-class statements issued by f are not
// rejected, only discarded by the rollback.
func (d *Document) Query(ctx context.Context, f func(ctx context.Context, tx sqlengine.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("localdoc: query: begin: %w", err)
	}
	if err := f(ctx, tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("localdoc: query: %w", err)
	}
	return tx.Rollback()
}

// Rebase reverts any pending storage writes and replays the local
// timeline against the database if storage has committed authoritative
// pages beyond this document's last-visible baseline. Subscribers are
// notified that storage changed.
func (d *Document) Rebase(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.hasInvisiblePages() {
		return nil
	}

	d.storage.Revert()
	if err := timeline.Rebase(ctx, d.timeline, d.conn, d.reducer); err != nil {
		return fmt.Errorf("localdoc: rebase: %w", err)
	}
	if last, ok := d.storage.SourceRange().Last(); ok {
		d.visibleLSN = last
		d.hasVisible = true
	}
	d.notifyStorageChanged(reactive.ChangeFull())
	return nil
}

// hasInvisiblePages reports whether the authoritative storage journal has
// advanced past visibleLSN since the last Rebase.
func (d *Document) hasInvisiblePages() bool {
	rng := d.storage.SourceRange()
	last, ok := rng.Last()
	if !ok {
		return false
	}
	return !d.hasVisible || last > d.visibleLSN
}

func (d *Document) notifyStorageChanged(change reactive.StorageChange) {
	if d.tracker != nil {
		d.tracker.NotifyStorageChange(change)
	}
	d.Signals.Raise(SignalStorageChanged)
}

// SourceID implements journal.ReplicationSource over the local timeline
// (the client -> coordinator replication direction).
func (d *Document) SourceID() journalid.ID { return d.timeline.ID() }

// SourceRange implements journal.ReplicationSource over the local
// timeline.
func (d *Document) SourceRange() lsnrange.Range { return d.timeline.Range() }

// ReadLSN implements journal.ReplicationSource over the local timeline.
func (d *Document) ReadLSN(lsn lsnrange.Lsn) ([]byte, bool, error) {
	return d.timeline.ReadLSN(lsn)
}

// DestinationRange implements journal.ReplicationDestination over the
// authoritative storage journal (the coordinator -> client direction).
func (d *Document) DestinationRange(id journalid.ID) (lsnrange.Range, error) {
	return d.storage.DestinationRange(id)
}

// WriteLSN implements journal.ReplicationDestination: it writes the
// authoritative frame into storage and, on the first call only, seeds the
// visible baseline. It raises no signal; the caller decides when to call
// Rebase.
func (d *Document) WriteLSN(id journalid.ID, lsn lsnrange.Lsn, data []byte) error {
	if err := d.storage.WriteLSN(id, lsn, data); err != nil {
		return fmt.Errorf("localdoc: write lsn: %w", err)
	}

	d.mu.Lock()
	if !d.hasVisible || lsn > d.visibleLSN {
		// visibleLSN intentionally is NOT advanced here: it tracks the
		// baseline the application has rebased onto, not what storage has
		// received. Rebase checks storage's range directly; this field
		// only needs to be seeded so hasInvisiblePages can compare
		// against something before the first WriteLSN.
		if !d.hasVisible {
			d.hasVisible = true
			d.visibleLSN = 0
			if lsn > 0 {
				d.visibleLSN = lsn - 1
			}
		}
	}
	d.mu.Unlock()

	return nil
}
