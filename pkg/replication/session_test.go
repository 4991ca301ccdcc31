package replication_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlsync/sqlsync/pkg/journal/memory"
	"github.com/sqlsync/sqlsync/pkg/journalid"
	"github.com/sqlsync/sqlsync/pkg/replication"
)

func TestSessionDrivesOneDirectionEndToEnd(t *testing.T) {
	id := journalid.New128()
	source := memory.Open(id)
	dest := memory.Open(id)

	for _, w := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
		_, err := source.Append(w)
		require.NoError(t, err)
	}

	sourceSide := replication.NewSession(source, nil)
	destSide := replication.NewSession(nil, dest)

	req := sourceSide.Start()
	require.Equal(t, replication.MsgRangeRequest, req.Kind)

	reply, ok, err := destSide.HandleIncoming(req, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, replication.MsgRange, reply.Kind)

	_, _, err = sourceSide.HandleIncoming(reply, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		msg, data, ok, err := sourceSide.Sync()
		require.NoError(t, err)
		require.True(t, ok)

		ack, ok, err := destSide.HandleIncoming(msg, bytes.NewReader(data))
		require.NoError(t, err)
		require.True(t, ok)

		_, _, err = sourceSide.HandleIncoming(ack, nil)
		require.NoError(t, err)
	}

	_, _, ok, err = sourceSide.Sync()
	require.NoError(t, err)
	assert.False(t, ok)

	for lsn := uint64(0); lsn < 3; lsn++ {
		data, ok, err := dest.ReadLSN(lsn)
		require.NoError(t, err)
		require.True(t, ok)
		assert.NotEmpty(t, data)
	}
}
