package memory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlsync/sqlsync/pkg/journal"
	"github.com/sqlsync/sqlsync/pkg/journal/journaltest"
	"github.com/sqlsync/sqlsync/pkg/journal/memory"
	"github.com/sqlsync/sqlsync/pkg/journalid"
	"github.com/sqlsync/sqlsync/pkg/lsnrange"
)

func TestConformance(t *testing.T) {
	journaltest.RunConformanceSuite(t, func(t *testing.T) journal.Journal {
		return memory.Open(journalid.New128())
	})
}

func TestReplicationConformance(t *testing.T) {
	id := journalid.New128()
	journaltest.RunReplicationConformanceSuite(t, func(t *testing.T) journal.ReplicationDestination {
		return memory.Open(id)
	}, journalid.New128())
}

func TestWriteLSNIsIdempotent(t *testing.T) {
	id := journalid.New128()
	j := memory.Open(id)

	require.NoError(t, j.WriteLSN(id, 0, []byte("first")))
	require.NoError(t, j.WriteLSN(id, 1, []byte("second")))

	// overwrite lsn 0 in place; range must not change
	require.NoError(t, j.WriteLSN(id, 0, []byte("replaced")))
	assert.Equal(t, lsnrange.New(0, 1), j.Range())

	data, ok, err := j.ReadLSN(0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("replaced"), data)
}

func TestWriteLSNRejectsNonContiguous(t *testing.T) {
	id := journalid.New128()
	j := memory.Open(id)

	require.NoError(t, j.WriteLSN(id, 0, []byte("a")))
	err := j.WriteLSN(id, 5, []byte("b"))
	assert.Error(t, err)
}

func TestDestinationRangeReflectsContent(t *testing.T) {
	id := journalid.New128()
	j := memory.Open(id)

	rng, err := j.DestinationRange(id)
	require.NoError(t, err)
	assert.True(t, rng.IsEmpty())

	require.NoError(t, j.WriteLSN(id, 0, []byte("a")))
	rng, err = j.DestinationRange(id)
	require.NoError(t, err)
	assert.Equal(t, lsnrange.New(0, 0), rng)
}
