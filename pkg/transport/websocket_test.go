package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlsync/sqlsync/pkg/journalid"
	"github.com/sqlsync/sqlsync/pkg/lsnrange"
	"github.com/sqlsync/sqlsync/pkg/replication"
	"github.com/sqlsync/sqlsync/pkg/transport"
)

func dialPair(t *testing.T) (*transport.Conn, *transport.Conn) {
	t.Helper()

	serverConnCh := make(chan *transport.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := transport.Upgrade(w, r, 0)
		require.NoError(t, err)
		serverConnCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := transport.Dial(context.Background(), url, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	server := <-serverConnCh
	t.Cleanup(func() { _ = server.Close() })
	return client, server
}

func TestWriteReadRangeRequestRoundTrips(t *testing.T) {
	client, server := dialPair(t)
	id := journalid.New128()

	msg := replication.Msg{
		Kind:        replication.MsgRangeRequest,
		ID:          id,
		SourceRange: lsnrange.New(0, 3),
	}
	require.NoError(t, client.WriteMsg(msg, nil))

	got, payload, err := server.ReadMsg()
	require.NoError(t, err)
	assert.Equal(t, replication.MsgRangeRequest, got.Kind)
	assert.True(t, id.Equal(got.ID))
	assert.Equal(t, msg.SourceRange.String(), got.SourceRange.String())
	assert.Equal(t, 0, payload.Len())
}

func TestWriteReadFrameRoundTripsPayload(t *testing.T) {
	client, server := dialPair(t)
	id := journalid.New128()
	data := []byte("hello frame")

	msg := replication.Msg{
		Kind: replication.MsgFrame,
		ID:   id,
		Lsn:  7,
		Len:  uint64(len(data)),
	}
	require.NoError(t, client.WriteMsg(msg, data))

	got, payload, err := server.ReadMsg()
	require.NoError(t, err)
	assert.Equal(t, replication.MsgFrame, got.Kind)
	assert.True(t, id.Equal(got.ID))
	assert.EqualValues(t, 7, got.Lsn)
	assert.EqualValues(t, len(data), got.Len)

	gotPayload := make([]byte, payload.Len())
	_, err = payload.Read(gotPayload)
	require.NoError(t, err)
	assert.Equal(t, data, gotPayload)
}

func TestWriteReadRangeRoundTrips(t *testing.T) {
	client, server := dialPair(t)

	msg := replication.Msg{Kind: replication.MsgRange, Range: lsnrange.New(2, 9)}
	require.NoError(t, client.WriteMsg(msg, nil))

	got, _, err := server.ReadMsg()
	require.NoError(t, err)
	assert.Equal(t, replication.MsgRange, got.Kind)
	assert.Equal(t, msg.Range.String(), got.Range.String())
}
