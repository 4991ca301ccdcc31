package localdoc_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlsync/sqlsync/internal/sqlengine"
	"github.com/sqlsync/sqlsync/pkg/journal/memory"
	"github.com/sqlsync/sqlsync/pkg/journalid"
	"github.com/sqlsync/sqlsync/pkg/localdoc"
	"github.com/sqlsync/sqlsync/pkg/reactive"
	"github.com/sqlsync/sqlsync/pkg/storage"
	"github.com/sqlsync/sqlsync/pkg/vfsdevice"
)

type fakeConn struct{ execs *[]string }

func (c *fakeConn) Begin(ctx context.Context) (sqlengine.Tx, error) {
	return &fakeTx{execs: c.execs}, nil
}
func (c *fakeConn) File() vfsdevice.File { return nil }
func (c *fakeConn) Close() error         { return nil }

type fakeTx struct{ execs *[]string }

func (tx *fakeTx) Exec(ctx context.Context, query string, args ...sqlengine.SqliteValue) (int64, error) {
	*tx.execs = append(*tx.execs, query)
	return 0, nil
}
func (tx *fakeTx) Query(ctx context.Context, query string, args ...sqlengine.SqliteValue) (*sqlengine.QueryResult, error) {
	return &sqlengine.QueryResult{}, nil
}
func (tx *fakeTx) Commit() error   { return nil }
func (tx *fakeTx) Rollback() error { return nil }

type fakeReducer struct{ applied *[][]byte }

func (r *fakeReducer) Apply(ctx context.Context, tx sqlengine.Tx, mutation []byte) error {
	*r.applied = append(*r.applied, mutation)
	return nil
}
func (r *fakeReducer) Close(ctx context.Context) error { return nil }

func TestMutateAppendsToTimelineAndSignals(t *testing.T) {
	ctx := context.Background()
	var execs []string
	var applied [][]byte

	storageJ := memory.Open(journalid.New128())
	timelineJ := memory.Open(journalid.New128())
	conn := &fakeConn{execs: &execs}
	r := &fakeReducer{applied: &applied}
	tracker := reactive.NewTracker()

	doc := localdoc.Open(storage.New(storageJ), timelineJ, conn, r, tracker)

	require.NoError(t, doc.Mutate(ctx, []byte("m0")))
	assert.Equal(t, [][]byte{[]byte("m0")}, applied)
	assert.Equal(t, 1, timelineJ.Range().Len())
	assert.True(t, doc.Signals.Pending())
	assert.Contains(t, doc.Signals.Drain(), localdoc.SignalStorageChanged)
}

func TestReplicationSourceExposesLocalTimeline(t *testing.T) {
	timelineID := journalid.New128()
	storageJ := memory.Open(journalid.New128())
	timelineJ := memory.Open(timelineID)
	var execs []string
	conn := &fakeConn{execs: &execs}
	r := &fakeReducer{applied: &[][]byte{}}

	doc := localdoc.Open(storage.New(storageJ), timelineJ, conn, r, nil)
	assert.Equal(t, timelineID, doc.SourceID())
	assert.True(t, doc.SourceRange().IsEmpty())
}

func TestRebaseReplaysPendingTimelineAfterAuthoritativeFrame(t *testing.T) {
	ctx := context.Background()
	storageID := journalid.New128()
	storageJ := memory.Open(storageID)
	timelineJ := memory.Open(journalid.New128())
	var execs []string
	conn := &fakeConn{execs: &execs}
	var applied [][]byte
	r := &fakeReducer{applied: &applied}

	doc := localdoc.Open(storage.New(storageJ), timelineJ, conn, r, nil)

	// An initial authoritative frame establishes the document's baseline;
	// nothing is pending yet, so this alone must not require a rebase.
	require.NoError(t, doc.WriteLSN(storageID, 0, []byte("frame0")))

	// A local mutation lands in the pending timeline, not yet acknowledged
	// by the coordinator.
	require.NoError(t, doc.Mutate(ctx, []byte("m0")))
	assert.Equal(t, [][]byte{[]byte("m0")}, applied)

	// The coordinator commits a second authoritative frame beyond the
	// document's baseline, so the next Rebase must revert storage and
	// replay every mutation still sitting in the local timeline against
	// it.
	require.NoError(t, doc.WriteLSN(storageID, 1, []byte("frame1")))

	doc.Signals.Drain() // clear the Mutate-driven wake before Rebase
	require.NoError(t, doc.Rebase(ctx))

	assert.Equal(t, [][]byte{[]byte("m0"), []byte("m0")}, applied, "rebase should replay the pending local mutation against the fresh snapshot")
	assert.Equal(t, 1, timelineJ.Range().Len(), "the pending mutation itself is untouched by rebase")
	assert.True(t, doc.Signals.Pending())
	assert.Contains(t, doc.Signals.Drain(), localdoc.SignalStorageChanged)
}

func TestWriteLSNWritesIntoStorageJournal(t *testing.T) {
	storageID := journalid.New128()
	storageJ := memory.Open(storageID)
	timelineJ := memory.Open(journalid.New128())
	var execs []string
	conn := &fakeConn{execs: &execs}
	r := &fakeReducer{applied: &[][]byte{}}

	doc := localdoc.Open(storage.New(storageJ), timelineJ, conn, r, nil)

	require.NoError(t, doc.WriteLSN(storageID, 0, []byte("frame0")))
	data, found, err := storageJ.ReadLSN(0)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("frame0"), data)
}
