package badgerjournal_test

import (
	"testing"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/sqlsync/sqlsync/pkg/journal"
	"github.com/sqlsync/sqlsync/pkg/journal/badgerjournal"
	"github.com/sqlsync/sqlsync/pkg/journal/journaltest"
	"github.com/sqlsync/sqlsync/pkg/journalid"
)

func openTestDB(t *testing.T) *badgerdb.DB {
	t.Helper()
	opts := badgerdb.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConformance(t *testing.T) {
	journaltest.RunConformanceSuite(t, func(t *testing.T) journal.Journal {
		db := openTestDB(t)
		j, err := badgerjournal.Open(db, journalid.New128())
		require.NoError(t, err)
		return j
	})
}

func TestReplicationConformance(t *testing.T) {
	db := openTestDB(t)
	id := journalid.New128()
	j, err := badgerjournal.Open(db, id)
	require.NoError(t, err)

	journaltest.RunReplicationConformanceSuite(t, func(t *testing.T) journal.ReplicationDestination {
		return j
	}, journalid.New128())
}

func TestOpenRejectsMismatchedJournalID(t *testing.T) {
	db := openTestDB(t)
	id := journalid.New128()
	_, err := badgerjournal.Open(db, id)
	require.NoError(t, err)

	_, err = badgerjournal.Open(db, journalid.New128())
	require.Error(t, err)
}

func TestOpenReopensExistingRange(t *testing.T) {
	db := openTestDB(t)
	id := journalid.New128()

	j1, err := badgerjournal.Open(db, id)
	require.NoError(t, err)
	_, err = j1.Append([]byte("a"))
	require.NoError(t, err)
	_, err = j1.Append([]byte("b"))
	require.NoError(t, err)

	j2, err := badgerjournal.Open(db, id)
	require.NoError(t, err)
	require.Equal(t, j1.Range(), j2.Range())

	data, ok, err := j2.ReadLSN(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("b"), data)
}
