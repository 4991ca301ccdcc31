// Package journaltest provides a conformance suite run against every
// journal.Journal backend, mirroring the shared test modules the original
// Rust implementation ran against both its memory and sqlite journals.
package journaltest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlsync/sqlsync/pkg/journal"
	"github.com/sqlsync/sqlsync/pkg/journalid"
	"github.com/sqlsync/sqlsync/pkg/lsnrange"
)

// Factory builds a fresh, empty journal.Journal for each test case.
type Factory func(t *testing.T) journal.Journal

// RunConformanceSuite exercises the invariants every journal.Journal
// backend must uphold, regardless of storage medium.
func RunConformanceSuite(t *testing.T, newJournal Factory) {
	t.Run("EmptyJournalHasNoRange", func(t *testing.T) {
		j := newJournal(t)
		assert.True(t, j.Range().IsEmpty())
	})

	t.Run("AppendAssignsSequentialLSNs", func(t *testing.T) {
		j := newJournal(t)
		lsn0, err := j.Append([]byte("a"))
		require.NoError(t, err)
		assert.Equal(t, lsnrange.Lsn(0), lsn0)

		lsn1, err := j.Append([]byte("b"))
		require.NoError(t, err)
		assert.Equal(t, lsnrange.Lsn(1), lsn1)

		assert.Equal(t, lsnrange.New(0, 1), j.Range())
	})

	t.Run("ReadLSNRoundTrips", func(t *testing.T) {
		j := newJournal(t)
		_, _ = j.Append([]byte("a"))
		lsn, _ := j.Append([]byte("b"))

		data, ok, err := j.ReadLSN(lsn)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("b"), data)

		_, ok, err = j.ReadLSN(99)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ScanVisitsFramesInOrder", func(t *testing.T) {
		j := newJournal(t)
		want := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
		for _, w := range want {
			_, err := j.Append(w)
			require.NoError(t, err)
		}

		cur := j.Scan()
		defer cur.Close()
		var got [][]byte
		for {
			more, err := cur.Advance()
			require.NoError(t, err)
			if !more {
				break
			}
			got = append(got, cur.Data())
		}
		assert.Equal(t, want, got)
	})

	t.Run("ScanRevVisitsFramesBackward", func(t *testing.T) {
		j := newJournal(t)
		for _, w := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
			_, err := j.Append(w)
			require.NoError(t, err)
		}

		cur := j.ScanRev()
		defer cur.Close()
		var got [][]byte
		for {
			more, err := cur.Advance()
			require.NoError(t, err)
			if !more {
				break
			}
			got = append(got, cur.Data())
		}
		assert.Equal(t, [][]byte{[]byte("c"), []byte("b"), []byte("a")}, got)
	})

	t.Run("ScanRangeIntersectsRequestedRange", func(t *testing.T) {
		j := newJournal(t)
		for _, w := range [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")} {
			_, err := j.Append(w)
			require.NoError(t, err)
		}

		cur := j.ScanRange(lsnrange.New(1, 2))
		defer cur.Close()
		var got [][]byte
		for {
			more, err := cur.Advance()
			require.NoError(t, err)
			if !more {
				break
			}
			got = append(got, cur.Data())
		}
		assert.Equal(t, [][]byte{[]byte("b"), []byte("c")}, got)
	})

	t.Run("DropPrefixRemovesOldFrames", func(t *testing.T) {
		j := newJournal(t)
		for _, w := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
			_, err := j.Append(w)
			require.NoError(t, err)
		}

		require.NoError(t, j.DropPrefix(1))
		assert.Equal(t, lsnrange.New(2, 2), j.Range())

		_, ok, err := j.ReadLSN(0)
		require.NoError(t, err)
		assert.False(t, ok)

		data, ok, err := j.ReadLSN(2)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("c"), data)
	})

	t.Run("DropPrefixOfEntireJournalLeavesAnchor", func(t *testing.T) {
		j := newJournal(t)
		for _, w := range [][]byte{[]byte("a"), []byte("b")} {
			_, err := j.Append(w)
			require.NoError(t, err)
		}

		require.NoError(t, j.DropPrefix(1))
		require.True(t, j.Range().IsEmpty())
		assert.Equal(t, lsnrange.Lsn(2), j.Range().Next())

		lsn, err := j.Append([]byte("c"))
		require.NoError(t, err)
		assert.Equal(t, lsnrange.Lsn(2), lsn)
	})
}

// RunReplicationConformanceSuite exercises the ReplicationDestination
// contract a journal.Journal backend must also satisfy when it
// participates in replication. newDestination must return a destination
// whose journal id is NOT equal to wrongID.
func RunReplicationConformanceSuite(t *testing.T, newDestination func(t *testing.T) journal.ReplicationDestination, wrongID journalid.ID) {
	t.Run("WriteLSNRejectsWrongJournal", func(t *testing.T) {
		dst := newDestination(t)
		err := dst.WriteLSN(wrongID, 0, []byte("x"))
		assert.Error(t, err)
	})

	t.Run("DestinationRangeRejectsWrongJournal", func(t *testing.T) {
		dst := newDestination(t)
		_, err := dst.DestinationRange(wrongID)
		assert.Error(t, err)
	})
}
