// Package reactive implements sqlsync's reactive query tracker: each
// registered query remembers the set of b-tree root pages its last
// EXPLAIN plan touched, and transitions to Dirty whenever a storage
// change intersects that set. Grounded directly on the original
// reactive_query.rs.
package reactive

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sqlsync/sqlsync/internal/sqlengine"
	"github.com/sqlsync/sqlsync/pkg/signal"
)

// SignalDirty is raised whenever NotifyStorageChange transitions at least
// one query to Dirty.
const SignalDirty = "reactive:dirty"

// State is a ReactiveQuery's refresh state.
type State int

const (
	// StateDirty means the query is pending a refresh.
	StateDirty State = iota
	// StateMonitoring means the query has been refreshed and is watching
	// its recorded root pages for changes.
	StateMonitoring
	// StateError means the last refresh failed; only a storage change
	// (not a retry) will transition it back to Dirty.
	StateError
)

// StorageChange describes what part of a document's storage changed: the
// whole database (Full, e.g. after a schema change or rebase where root
// pages can't be trusted) or just the tables rooted at RootPagesSorted.
type StorageChange struct {
	full            bool
	rootPagesSorted []uint32
}

// ChangeFull returns a StorageChange that invalidates every monitoring
// query regardless of its root pages.
func ChangeFull() StorageChange { return StorageChange{full: true} }

// ChangeTables returns a StorageChange scoped to the given root pages,
// which need not be pre-sorted.
func ChangeTables(rootPages []uint32) StorageChange {
	sorted := append([]uint32(nil), rootPages...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return StorageChange{rootPagesSorted: sorted}
}

// Query is one registered reactive query: its SQL, its bind parameters,
// and its current refresh state.
type Query struct {
	sql        string
	explainSQL string
	args       []sqlengine.SqliteValue

	state           State
	rootPagesSorted []uint32
}

// NewQuery builds a Dirty query for sql bound to args.
func NewQuery(sql string, args ...sqlengine.SqliteValue) *Query {
	return &Query{
		sql:        sql,
		explainSQL: "EXPLAIN " + sql,
		args:       args,
		state:      StateDirty,
	}
}

// IsDirty reports whether the query is pending a refresh.
func (q *Query) IsDirty() bool { return q.state == StateDirty }

// State returns the query's current refresh state.
func (q *Query) State() State { return q.state }

// MarkDirty forces the query back to Dirty regardless of its current
// state.
func (q *Query) MarkDirty() { q.state = StateDirty }

// ApplyStorageChange applies change to a Monitoring or Error query,
// transitioning it to Dirty when the change affects it, and reports
// whether the query is now Dirty.
func (q *Query) ApplyStorageChange(change StorageChange) bool {
	switch q.state {
	case StateDirty:
	case StateMonitoring:
		if change.full || sortedIntersects(q.rootPagesSorted, change.rootPagesSorted) {
			q.state = StateDirty
		}
	case StateError:
		q.state = StateDirty
	}
	return q.IsDirty()
}

// Refresh runs EXPLAIN sql to recompute the query's root-page set, then
// runs sql itself and returns its result. On any SQL error the query
// transitions to Error and the error is returned; the next storage change
// will transition it back to Dirty so a later Refresh can retry.
func (q *Query) Refresh(ctx context.Context, tx sqlengine.Tx) (*sqlengine.QueryResult, error) {
	explainResult, err := tx.Query(ctx, q.explainSQL, q.args...)
	if err != nil {
		q.state = StateError
		return nil, fmt.Errorf("reactive: explain: %w", err)
	}

	roots := rootPagesFromExplain(explainResult)

	result, err := tx.Query(ctx, q.sql, q.args...)
	if err != nil {
		q.state = StateError
		return nil, fmt.Errorf("reactive: refresh: %w", err)
	}

	q.rootPagesSorted = roots
	q.state = StateMonitoring
	return result, nil
}

// rootPagesFromExplain extracts the deduplicated, sorted p2 column of
// every OpenRead row in an EXPLAIN result. EXPLAIN's columns are
// addr, opcode, p1, p2, p3, p4, p5, comment.
func rootPagesFromExplain(result *sqlengine.QueryResult) []uint32 {
	const opcodeCol, p2Col = 1, 3

	var roots []uint32
	for _, row := range result.Rows {
		if len(row) <= p2Col {
			continue
		}
		if row[opcodeCol].Kind != sqlengine.KindText || row[opcodeCol].Text != "OpenRead" {
			continue
		}
		if row[p2Col].Kind != sqlengine.KindInteger {
			continue
		}
		roots = append(roots, uint32(row[p2Col].Integer))
	}

	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	return dedupSorted(roots)
}

func dedupSorted(s []uint32) []uint32 {
	if len(s) == 0 {
		return s
	}
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// sortedIntersects reports whether two sorted slices share any element.
func sortedIntersects(a, b []uint32) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			return true
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return false
}

// Tracker owns a set of registered queries for one document and raises a
// signal whenever a storage change makes any of them Dirty.
type Tracker struct {
	mu      sync.Mutex
	queries map[string]*Query

	Signals *signal.Router
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{queries: make(map[string]*Query), Signals: signal.New()}
}

// Register adds or replaces the query known by id, starting Dirty.
func (t *Tracker) Register(id string, sql string, args ...sqlengine.SqliteValue) *Query {
	t.mu.Lock()
	defer t.mu.Unlock()
	q := NewQuery(sql, args...)
	t.queries[id] = q
	return q
}

// Unregister stops tracking id.
func (t *Tracker) Unregister(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.queries, id)
}

// Query returns the registered query for id, if any.
func (t *Tracker) Query(id string) (*Query, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queries[id]
	return q, ok
}

// NotifyStorageChange applies change to every registered query and raises
// SignalDirty if at least one transitioned to Dirty.
func (t *Tracker) NotifyStorageChange(change StorageChange) {
	t.mu.Lock()
	defer t.mu.Unlock()

	anyDirty := false
	for _, q := range t.queries {
		if q.ApplyStorageChange(change) {
			anyDirty = true
		}
	}
	if anyDirty {
		t.Signals.Raise(SignalDirty)
	}
}

// DirtyIDs returns the ids of every currently Dirty registered query.
func (t *Tracker) DirtyIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ids []string
	for id, q := range t.queries {
		if q.IsDirty() {
			ids = append(ids, id)
		}
	}
	return ids
}
