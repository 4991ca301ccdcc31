package reducerabi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlsync/sqlsync/internal/sqlengine"
	"github.com/sqlsync/sqlsync/pkg/reducerabi"
)

func TestRequestRoundTrip(t *testing.T) {
	want := reducerabi.Request{
		Kind: reducerabi.RequestExec,
		SQL:  "insert into t (a, b) values (?, ?)",
		Params: []sqlengine.SqliteValue{
			sqlengine.IntegerValue(42),
			sqlengine.TextValue("hello"),
			sqlengine.RealValue(3.5),
			sqlengine.BlobValue([]byte{1, 2, 3}),
			sqlengine.Null,
		},
	}

	buf, err := want.MarshalBinary()
	require.NoError(t, err)

	var got reducerabi.Request
	require.NoError(t, got.UnmarshalBinary(buf))
	assert.Equal(t, want, got)
}

func TestLogRequestRoundTrip(t *testing.T) {
	want := reducerabi.LogRequest{Message: "hello from the guest"}
	buf, err := want.MarshalBinary()
	require.NoError(t, err)

	var got reducerabi.LogRequest
	require.NoError(t, got.UnmarshalBinary(buf))
	assert.Equal(t, want, got)
}

func TestSqliteErrorRoundTrip(t *testing.T) {
	code := 19
	want := reducerabi.SqliteError{Code: &code, Message: "UNIQUE constraint failed"}
	buf, err := want.MarshalBinary()
	require.NoError(t, err)

	var got reducerabi.SqliteError
	require.NoError(t, got.UnmarshalBinary(buf))
	assert.Equal(t, want, got)

	noCode := reducerabi.SqliteError{Message: "no code here"}
	buf, err = noCode.MarshalBinary()
	require.NoError(t, err)

	got = reducerabi.SqliteError{}
	require.NoError(t, got.UnmarshalBinary(buf))
	assert.Nil(t, got.Code)
	assert.Equal(t, "no code here", got.Message)
}

func TestResponseRoundTripQuery(t *testing.T) {
	want := reducerabi.Response{
		Query: &reducerabi.QueryResponse{
			Columns: []string{"id", "name"},
			Rows: [][]sqlengine.SqliteValue{
				{sqlengine.IntegerValue(1), sqlengine.TextValue("a")},
				{sqlengine.IntegerValue(2), sqlengine.Null},
			},
		},
	}
	buf, err := want.MarshalBinary()
	require.NoError(t, err)

	var got reducerabi.Response
	require.NoError(t, got.UnmarshalBinary(buf))
	assert.Equal(t, want, got)
}

func TestResponseRoundTripExec(t *testing.T) {
	want := reducerabi.Response{Exec: &reducerabi.ExecResponse{Changes: 7}}
	buf, err := want.MarshalBinary()
	require.NoError(t, err)

	var got reducerabi.Response
	require.NoError(t, got.UnmarshalBinary(buf))
	assert.Equal(t, want, got)
}

func TestResponseRoundTripErr(t *testing.T) {
	want := reducerabi.Response{Err: &reducerabi.SqliteError{Message: "boom"}}
	buf, err := want.MarshalBinary()
	require.NoError(t, err)

	var got reducerabi.Response
	require.NoError(t, got.UnmarshalBinary(buf))
	assert.Equal(t, want, got)
}

func TestRequestBatchRoundTrip(t *testing.T) {
	want := reducerabi.RequestBatch{
		1: {Kind: reducerabi.RequestQuery, SQL: "select 1"},
		2: {Kind: reducerabi.RequestExec, SQL: "delete from t"},
	}
	buf, err := want.MarshalBinary()
	require.NoError(t, err)

	var got reducerabi.RequestBatch
	require.NoError(t, got.UnmarshalBinary(buf))
	assert.Equal(t, want, got)
}

func TestResponseBatchRoundTrip(t *testing.T) {
	want := reducerabi.ResponseBatch{
		1: {Exec: &reducerabi.ExecResponse{Changes: 1}},
		2: {Err: &reducerabi.SqliteError{Message: "fail"}},
	}
	buf, err := want.MarshalBinary()
	require.NoError(t, err)

	var got reducerabi.ResponseBatch
	require.NoError(t, got.UnmarshalBinary(buf))
	assert.Equal(t, want, got)
}

func TestRequestUnmarshalTruncated(t *testing.T) {
	var req reducerabi.Request
	assert.Error(t, req.UnmarshalBinary(nil))
	assert.Error(t, req.UnmarshalBinary([]byte{byte(reducerabi.RequestQuery)}))
}
