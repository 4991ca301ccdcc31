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

func TestFullReplicationRoundTrip(t *testing.T) {
	id := journalid.New128()
	source := memory.Open(id)
	dest := memory.Open(id)

	for _, w := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
		_, err := source.Append(w)
		require.NoError(t, err)
	}

	sourceProto := replication.New()
	destProto := replication.New()

	// source opens with a RangeRequest
	req := sourceProto.Start(source)
	require.Equal(t, replication.MsgRangeRequest, req.Kind)

	// destination answers it
	reply, ok, err := destProto.Handle(dest, req, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, replication.MsgRange, reply.Kind)

	// source consumes the Range reply, initializing its outstanding window
	_, _, err = sourceProto.Handle(source, reply, nil)
	require.NoError(t, err)
	require.True(t, sourceProto.Initialized())

	// drain every frame from source to destination
	for i := 0; i < 3; i++ {
		msg, data, ok, err := sourceProto.Sync(source)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, replication.MsgFrame, msg.Kind)

		ack, ok, err := destProto.Handle(dest, msg, bytes.NewReader(data))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, replication.MsgRange, ack.Kind)
	}

	assert.Equal(t, source.Range(), dest.Range())

	for i, want := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
		data, found, err := dest.ReadLSN(uint64(i))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, want, data)
	}
}

func TestSyncBeforeInitializationReturnsNothing(t *testing.T) {
	id := journalid.New128()
	source := memory.Open(id)
	for i := 0; i < replication.MaxOutstandingFrames+5; i++ {
		_, err := source.Append([]byte{byte(i)})
		require.NoError(t, err)
	}

	proto := replication.New()
	_, _, ok, err := proto.Sync(source)
	require.NoError(t, err)
	require.False(t, ok, "sync before initialization must return nothing")
}
