// Package reducerabi defines the wire protocol exchanged across the
// reducer sandbox boundary: tagged Query/Exec requests keyed by an opaque
// RequestID, and the Query/Exec responses answering them. Grounded on
// sqlsync-reducer's types.rs and host_ffi.rs request/response maps.
//
// The original implementation serializes this protocol with bincode: a
// fixed binary scheme of tagged unions, length-prefixed bytes/strings,
// and little-endian integers. Every type here hand-rolls that same shape
// with MarshalBinary/UnmarshalBinary methods, the same approach this
// module already uses for pkg/lsnrange.Range and pkg/transport's wire
// messages, rather than falling back to encoding/json.
package reducerabi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sqlsync/sqlsync/internal/sqlengine"
)

// RequestID identifies one in-flight host request within a single
// reactor step, so responses can be matched back to their requests.
type RequestID uint32

// RequestKind discriminates the payload carried by a Request.
type RequestKind uint8

const (
	RequestQuery RequestKind = iota
	RequestExec
)

// Request is one call the guest reducer makes into the host: either a
// read-only Query or a mutating Exec.
type Request struct {
	Kind   RequestKind
	SQL    string
	Params []sqlengine.SqliteValue
}

// MarshalBinary encodes r as: u8 kind, string sql, []SqliteValue params.
func (r Request) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(r.Kind))
	writeString(&buf, r.SQL)
	writeValues(&buf, r.Params)
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a buffer produced by MarshalBinary.
func (r *Request) UnmarshalBinary(data []byte) error {
	kind, data, err := readUint8(data)
	if err != nil {
		return fmt.Errorf("reducerabi: decode request: %w", err)
	}
	sql, data, err := readString(data)
	if err != nil {
		return fmt.Errorf("reducerabi: decode request: %w", err)
	}
	params, _, err := readValues(data)
	if err != nil {
		return fmt.Errorf("reducerabi: decode request: %w", err)
	}
	r.Kind = RequestKind(kind)
	r.SQL = sql
	r.Params = params
	return nil
}

// LogRequest is the payload of a host_log call.
type LogRequest struct {
	Message string
}

// MarshalBinary encodes l as a single length-prefixed string.
func (l LogRequest) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	writeString(&buf, l.Message)
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a buffer produced by MarshalBinary.
func (l *LogRequest) UnmarshalBinary(data []byte) error {
	msg, _, err := readString(data)
	if err != nil {
		return fmt.Errorf("reducerabi: decode log request: %w", err)
	}
	l.Message = msg
	return nil
}

// SqliteError mirrors the error shape returned across the FFI boundary
// when a Query or Exec fails inside the host.
type SqliteError struct {
	Code    *int
	Message string
}

func (e *SqliteError) Error() string { return e.Message }

// MarshalBinary encodes e as: u8 has-code, i64 code (if present), string
// message.
func (e SqliteError) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if e.Code != nil {
		buf.WriteByte(1)
		writeInt64(&buf, int64(*e.Code))
	} else {
		buf.WriteByte(0)
	}
	writeString(&buf, e.Message)
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a buffer produced by MarshalBinary.
func (e *SqliteError) UnmarshalBinary(data []byte) error {
	hasCode, data, err := readUint8(data)
	if err != nil {
		return fmt.Errorf("reducerabi: decode sqlite error: %w", err)
	}
	e.Code = nil
	if hasCode != 0 {
		var code int64
		code, data, err = readInt64(data)
		if err != nil {
			return fmt.Errorf("reducerabi: decode sqlite error: %w", err)
		}
		c := int(code)
		e.Code = &c
	}
	msg, _, err := readString(data)
	if err != nil {
		return fmt.Errorf("reducerabi: decode sqlite error: %w", err)
	}
	e.Message = msg
	return nil
}

// QueryResponse is the successful result of a Request{Kind: RequestQuery}.
type QueryResponse struct {
	Columns []string
	Rows    [][]sqlengine.SqliteValue
}

// MarshalBinary encodes q as: []string columns, then a count-prefixed
// list of []SqliteValue rows.
func (q QueryResponse) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(q.Columns)))
	for _, col := range q.Columns {
		writeString(&buf, col)
	}
	writeUint32(&buf, uint32(len(q.Rows)))
	for _, row := range q.Rows {
		writeValues(&buf, row)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a buffer produced by MarshalBinary.
func (q *QueryResponse) UnmarshalBinary(data []byte) error {
	colCount, data, err := readUint32(data)
	if err != nil {
		return fmt.Errorf("reducerabi: decode query response: %w", err)
	}
	columns := make([]string, colCount)
	for i := range columns {
		columns[i], data, err = readString(data)
		if err != nil {
			return fmt.Errorf("reducerabi: decode query response: %w", err)
		}
	}
	rowCount, data, err := readUint32(data)
	if err != nil {
		return fmt.Errorf("reducerabi: decode query response: %w", err)
	}
	rows := make([][]sqlengine.SqliteValue, rowCount)
	for i := range rows {
		rows[i], data, err = readValues(data)
		if err != nil {
			return fmt.Errorf("reducerabi: decode query response: %w", err)
		}
	}
	q.Columns = columns
	q.Rows = rows
	return nil
}

// ExecResponse is the successful result of a Request{Kind: RequestExec}.
type ExecResponse struct {
	Changes int64
}

// MarshalBinary encodes e as a single i64.
func (e ExecResponse) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	writeInt64(&buf, e.Changes)
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a buffer produced by MarshalBinary.
func (e *ExecResponse) UnmarshalBinary(data []byte) error {
	changes, _, err := readInt64(data)
	if err != nil {
		return fmt.Errorf("reducerabi: decode exec response: %w", err)
	}
	e.Changes = changes
	return nil
}

// responseTag discriminates which variant a Response carries on the wire.
type responseTag uint8

const (
	responseTagQuery responseTag = iota
	responseTagExec
	responseTagErr
)

// Response is the tagged result of one Request: exactly one of Query, Exec,
// or Err is set.
type Response struct {
	Query *QueryResponse
	Exec  *ExecResponse
	Err   *SqliteError
}

// MarshalBinary encodes r as a one-byte tag followed by exactly one
// variant's payload.
func (r Response) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	switch {
	case r.Err != nil:
		buf.WriteByte(byte(responseTagErr))
		payload, err := r.Err.MarshalBinary()
		if err != nil {
			return nil, err
		}
		buf.Write(payload)
	case r.Exec != nil:
		buf.WriteByte(byte(responseTagExec))
		payload, err := r.Exec.MarshalBinary()
		if err != nil {
			return nil, err
		}
		buf.Write(payload)
	default:
		buf.WriteByte(byte(responseTagQuery))
		q := QueryResponse{}
		if r.Query != nil {
			q = *r.Query
		}
		payload, err := q.MarshalBinary()
		if err != nil {
			return nil, err
		}
		buf.Write(payload)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a buffer produced by MarshalBinary.
func (r *Response) UnmarshalBinary(data []byte) error {
	tag, data, err := readUint8(data)
	if err != nil {
		return fmt.Errorf("reducerabi: decode response: %w", err)
	}
	r.Query, r.Exec, r.Err = nil, nil, nil
	switch responseTag(tag) {
	case responseTagQuery:
		var q QueryResponse
		if err := q.UnmarshalBinary(data); err != nil {
			return err
		}
		r.Query = &q
	case responseTagExec:
		var e ExecResponse
		if err := e.UnmarshalBinary(data); err != nil {
			return err
		}
		r.Exec = &e
	case responseTagErr:
		var se SqliteError
		if err := se.UnmarshalBinary(data); err != nil {
			return err
		}
		r.Err = &se
	default:
		return fmt.Errorf("reducerabi: decode response: unknown tag %d", tag)
	}
	return nil
}

// RequestBatch is the set of outstanding requests a reactor_step yields,
// keyed by RequestID, mirroring the guest's BTreeMap<RequestId, Request>.
type RequestBatch map[RequestID]Request

// MarshalBinary encodes b as a count-prefixed list of (u32 id, Request)
// pairs, sorted by id for a deterministic encoding.
func (b RequestBatch) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(b)))
	for _, id := range sortedRequestIDs(b) {
		writeUint32(&buf, uint32(id))
		payload, err := b[id].MarshalBinary()
		if err != nil {
			return nil, err
		}
		writeBytes(&buf, payload)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a buffer produced by MarshalBinary.
func (b *RequestBatch) UnmarshalBinary(data []byte) error {
	count, data, err := readUint32(data)
	if err != nil {
		return fmt.Errorf("reducerabi: decode request batch: %w", err)
	}
	out := make(RequestBatch, count)
	for i := uint32(0); i < count; i++ {
		var id uint32
		id, data, err = readUint32(data)
		if err != nil {
			return fmt.Errorf("reducerabi: decode request batch: %w", err)
		}
		var payload []byte
		payload, data, err = readBytes(data)
		if err != nil {
			return fmt.Errorf("reducerabi: decode request batch: %w", err)
		}
		var req Request
		if err := req.UnmarshalBinary(payload); err != nil {
			return fmt.Errorf("reducerabi: decode request batch: %w", err)
		}
		out[RequestID(id)] = req
	}
	*b = out
	return nil
}

// ResponseBatch answers a RequestBatch one-for-one.
type ResponseBatch map[RequestID]Response

// MarshalBinary encodes b as a count-prefixed list of (u32 id, Response)
// pairs, sorted by id for a deterministic encoding.
func (b ResponseBatch) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(b)))
	for _, id := range sortedResponseIDs(b) {
		writeUint32(&buf, uint32(id))
		payload, err := b[id].MarshalBinary()
		if err != nil {
			return nil, err
		}
		writeBytes(&buf, payload)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a buffer produced by MarshalBinary.
func (b *ResponseBatch) UnmarshalBinary(data []byte) error {
	count, data, err := readUint32(data)
	if err != nil {
		return fmt.Errorf("reducerabi: decode response batch: %w", err)
	}
	out := make(ResponseBatch, count)
	for i := uint32(0); i < count; i++ {
		var id uint32
		id, data, err = readUint32(data)
		if err != nil {
			return fmt.Errorf("reducerabi: decode response batch: %w", err)
		}
		var payload []byte
		payload, data, err = readBytes(data)
		if err != nil {
			return fmt.Errorf("reducerabi: decode response batch: %w", err)
		}
		var resp Response
		if err := resp.UnmarshalBinary(payload); err != nil {
			return fmt.Errorf("reducerabi: decode response batch: %w", err)
		}
		out[RequestID(id)] = resp
	}
	*b = out
	return nil
}

func sortedRequestIDs(b RequestBatch) []RequestID {
	ids := make([]RequestID, 0, len(b))
	for id := range b {
		ids = append(ids, id)
	}
	sortRequestIDs(ids)
	return ids
}

func sortedResponseIDs(b ResponseBatch) []RequestID {
	ids := make([]RequestID, 0, len(b))
	for id := range b {
		ids = append(ids, id)
	}
	sortRequestIDs(ids)
	return ids
}

func sortRequestIDs(ids []RequestID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// writeSqliteValue encodes one SqliteValue as: u8 kind, then a
// kind-specific payload (nothing for Null, i64 for Integer, f64 LE bits
// for Real, length-prefixed bytes for Text/Blob).
func writeSqliteValue(buf *bytes.Buffer, v sqlengine.SqliteValue) {
	buf.WriteByte(byte(v.Kind))
	switch v.Kind {
	case sqlengine.KindInteger:
		writeInt64(buf, v.Integer)
	case sqlengine.KindReal:
		writeFloat64(buf, v.Real)
	case sqlengine.KindText:
		writeString(buf, v.Text)
	case sqlengine.KindBlob:
		writeBytes(buf, v.Blob)
	}
}

func readSqliteValue(data []byte) (sqlengine.SqliteValue, []byte, error) {
	kind, data, err := readUint8(data)
	if err != nil {
		return sqlengine.SqliteValue{}, nil, err
	}
	switch sqlengine.Kind(kind) {
	case sqlengine.KindNull:
		return sqlengine.Null, data, nil
	case sqlengine.KindInteger:
		v, data, err := readInt64(data)
		if err != nil {
			return sqlengine.SqliteValue{}, nil, err
		}
		return sqlengine.IntegerValue(v), data, nil
	case sqlengine.KindReal:
		v, data, err := readFloat64(data)
		if err != nil {
			return sqlengine.SqliteValue{}, nil, err
		}
		return sqlengine.RealValue(v), data, nil
	case sqlengine.KindText:
		v, data, err := readString(data)
		if err != nil {
			return sqlengine.SqliteValue{}, nil, err
		}
		return sqlengine.TextValue(v), data, nil
	case sqlengine.KindBlob:
		v, data, err := readBytes(data)
		if err != nil {
			return sqlengine.SqliteValue{}, nil, err
		}
		return sqlengine.BlobValue(v), data, nil
	default:
		return sqlengine.SqliteValue{}, nil, fmt.Errorf("unknown sqlite value kind %d", kind)
	}
}

func writeValues(buf *bytes.Buffer, vs []sqlengine.SqliteValue) {
	writeUint32(buf, uint32(len(vs)))
	for _, v := range vs {
		writeSqliteValue(buf, v)
	}
}

func readValues(data []byte) ([]sqlengine.SqliteValue, []byte, error) {
	count, data, err := readUint32(data)
	if err != nil {
		return nil, nil, err
	}
	vs := make([]sqlengine.SqliteValue, count)
	for i := range vs {
		vs[i], data, err = readSqliteValue(data)
		if err != nil {
			return nil, nil, err
		}
	}
	return vs, data, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func writeFloat64(buf *bytes.Buffer, v float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func readUint8(data []byte) (uint8, []byte, error) {
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("reducerabi: truncated u8")
	}
	return data[0], data[1:], nil
}

func readUint32(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("reducerabi: truncated u32")
	}
	return binary.LittleEndian.Uint32(data), data[4:], nil
}

func readInt64(data []byte) (int64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("reducerabi: truncated i64")
	}
	return int64(binary.LittleEndian.Uint64(data)), data[8:], nil
}

func readFloat64(data []byte) (float64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("reducerabi: truncated f64")
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(data)), data[8:], nil
}

func readBytes(data []byte) ([]byte, []byte, error) {
	n, data, err := readUint32(data)
	if err != nil {
		return nil, nil, err
	}
	if uint32(len(data)) < n {
		return nil, nil, fmt.Errorf("reducerabi: truncated bytes: want %d, have %d", n, len(data))
	}
	return append([]byte(nil), data[:n]...), data[n:], nil
}

func readString(data []byte) (string, []byte, error) {
	b, data, err := readBytes(data)
	if err != nil {
		return "", nil, err
	}
	return string(b), data, nil
}
