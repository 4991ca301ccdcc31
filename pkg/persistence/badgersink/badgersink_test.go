package badgersink_test

import (
	"context"
	"testing"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlsync/sqlsync/pkg/persistence/badgersink"
)

func openTestDB(t *testing.T) *badgerdb.DB {
	t.Helper()
	opts := badgerdb.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	sink := badgersink.Open(openTestDB(t))
	_, found, err := sink.Get(context.Background(), "lsn-0")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPutThenGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	sink := badgersink.Open(openTestDB(t))

	require.NoError(t, sink.Put(ctx, "RANGE", []byte{0, 0, 1}))
	data, found, err := sink.Get(ctx, "RANGE")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte{0, 0, 1}, data)
}

func TestPutOverwritesExistingValue(t *testing.T) {
	ctx := context.Background()
	sink := badgersink.Open(openTestDB(t))

	require.NoError(t, sink.Put(ctx, "k", []byte("v1")))
	require.NoError(t, sink.Put(ctx, "k", []byte("v2")))

	data, found, err := sink.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v2"), data)
}
