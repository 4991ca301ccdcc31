package reactive_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlsync/sqlsync/internal/sqlengine"
	"github.com/sqlsync/sqlsync/pkg/reactive"
)

// fakeTx answers EXPLAIN with a canned plan and everything else with a
// canned result, and can be told to fail the next query.
type fakeTx struct {
	explainRows [][]sqlengine.SqliteValue
	rows        [][]sqlengine.SqliteValue
	failNext    bool
}

func (tx *fakeTx) Exec(ctx context.Context, query string, args ...sqlengine.SqliteValue) (int64, error) {
	return 0, nil
}

func (tx *fakeTx) Query(ctx context.Context, query string, args ...sqlengine.SqliteValue) (*sqlengine.QueryResult, error) {
	if tx.failNext {
		return nil, errors.New("boom")
	}
	if len(query) >= 7 && query[:7] == "EXPLAIN" {
		return &sqlengine.QueryResult{Rows: tx.explainRows}, nil
	}
	return &sqlengine.QueryResult{Rows: tx.rows}, nil
}
func (tx *fakeTx) Commit() error   { return nil }
func (tx *fakeTx) Rollback() error { return nil }

func explainRow(opcode string, p2 int64) []sqlengine.SqliteValue {
	return []sqlengine.SqliteValue{
		sqlengine.IntegerValue(0),
		sqlengine.TextValue(opcode),
		sqlengine.IntegerValue(0),
		sqlengine.IntegerValue(p2),
	}
}

func TestRefreshRecordsSortedDedupedRootPages(t *testing.T) {
	tx := &fakeTx{explainRows: [][]sqlengine.SqliteValue{
		explainRow("Init", 0),
		explainRow("OpenRead", 5),
		explainRow("OpenRead", 2),
		explainRow("OpenRead", 5),
	}}
	q := reactive.NewQuery("SELECT 1")

	_, err := q.Refresh(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, reactive.StateMonitoring, q.State())

	assert.False(t, q.ApplyStorageChange(reactive.ChangeTables([]uint32{9})))
	assert.True(t, q.ApplyStorageChange(reactive.ChangeTables([]uint32{2})))
}

func TestRefreshFailureTransitionsToError(t *testing.T) {
	tx := &fakeTx{failNext: true}
	q := reactive.NewQuery("SELECT 1")

	_, err := q.Refresh(context.Background(), tx)
	require.Error(t, err)
	assert.Equal(t, reactive.StateError, q.State())
}

func TestTrackerSignalsDirtyOnIntersectingChange(t *testing.T) {
	tracker := reactive.NewTracker()
	tx := &fakeTx{explainRows: [][]sqlengine.SqliteValue{explainRow("OpenRead", 3)}}

	q := tracker.Register("q1", "SELECT 1")
	_, err := q.Refresh(context.Background(), tx)
	require.NoError(t, err)
	assert.False(t, tracker.Signals.Pending())

	tracker.NotifyStorageChange(reactive.ChangeTables([]uint32{7}))
	assert.False(t, tracker.Signals.Pending(), "unrelated table change should not dirty the query")
	assert.Empty(t, tracker.DirtyIDs())

	tracker.NotifyStorageChange(reactive.ChangeTables([]uint32{3}))
	assert.True(t, tracker.Signals.Pending())
	assert.Equal(t, []string{"q1"}, tracker.DirtyIDs())
}

func TestTrackerFullChangeDirtiesEveryMonitoringQuery(t *testing.T) {
	tracker := reactive.NewTracker()
	tx := &fakeTx{explainRows: [][]sqlengine.SqliteValue{explainRow("OpenRead", 1)}}

	a := tracker.Register("a", "SELECT 1")
	b := tracker.Register("b", "SELECT 2")
	_, err := a.Refresh(context.Background(), tx)
	require.NoError(t, err)
	_, err = b.Refresh(context.Background(), tx)
	require.NoError(t, err)

	tracker.NotifyStorageChange(reactive.ChangeFull())
	assert.ElementsMatch(t, []string{"a", "b"}, tracker.DirtyIDs())
}
