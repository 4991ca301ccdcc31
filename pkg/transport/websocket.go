// Package transport carries sqlsync's replication.Msg protocol over a
// websocket connection, one binary message per Msg. The client dial side
// is grounded on canonical-lxd's ProtocolLXD.rawWebsocket (client/lxd.go):
// a plain websocket.Dialer with a bounded handshake timeout, which takes
// no proxy or TLS settings from an http.Transport. The server side upgrades with gorilla/websocket's standard Upgrader.
package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sqlsync/sqlsync/pkg/journalid"
	"github.com/sqlsync/sqlsync/pkg/lsnrange"
	"github.com/sqlsync/sqlsync/pkg/replication"
)

// Upgrader upgrades an incoming HTTP request to a replication websocket.
// Origin checking is left to callers (e.g. an auth middleware in front of
// the handler); by default all origins are accepted, matching a
// same-process or trusted-network coordinator deployment.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Conn wraps a *websocket.Conn, framing each replication.Msg (plus, for
// Frame messages, its payload) as exactly one websocket binary message.
type Conn struct {
	ws *websocket.Conn
}

// Dial opens a replication websocket to url, reusing the dialer
// construction canonical-lxd's client uses: a plain websocket.Dialer with
// a bounded handshake timeout. maxMessageSize bounds every message read
// from the connection (0 leaves gorilla/websocket's unlimited default).
func Dial(ctx context.Context, url string, maxMessageSize int64) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	if maxMessageSize > 0 {
		ws.SetReadLimit(maxMessageSize)
	}
	return &Conn{ws: ws}, nil
}

// Upgrade upgrades an incoming HTTP request into a replication websocket
// server-side connection. maxMessageSize bounds every message read from
// the connection (0 leaves gorilla/websocket's unlimited default).
func Upgrade(w http.ResponseWriter, r *http.Request, maxMessageSize int64) (*Conn, error) {
	ws, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: upgrade: %w", err)
	}
	if maxMessageSize > 0 {
		ws.SetReadLimit(maxMessageSize)
	}
	return &Conn{ws: ws}, nil
}

// Close closes the underlying websocket connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// WriteMsg sends msg, and for a Frame message, its payload, as one
// binary websocket message.
func (c *Conn) WriteMsg(msg replication.Msg, payload []byte) error {
	data, err := encodeMsg(msg, payload)
	if err != nil {
		return fmt.Errorf("transport: encode message: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("transport: write message: %w", err)
	}
	return nil
}

// ReadMsg receives the next message, returning the decoded Msg and (for a
// Frame message) an io.Reader over its exact payload, ready to be passed
// as the conn argument to replication.Protocol.Handle.
func (c *Conn) ReadMsg() (replication.Msg, *bytes.Reader, error) {
	kind, data, err := c.ws.ReadMessage()
	if err != nil {
		return replication.Msg{}, nil, fmt.Errorf("transport: read message: %w", err)
	}
	if kind != websocket.BinaryMessage {
		return replication.Msg{}, nil, fmt.Errorf("transport: unexpected websocket message type %d", kind)
	}
	return decodeMsg(data)
}

// Wire layout, one websocket binary message per Msg:
//
//	byte 0:        Kind (0=RangeRequest, 1=Range, 2=Frame)
//	RangeRequest:  1 byte id length, id bytes, SourceRange.MarshalBinary()
//	Range:         Range.MarshalBinary()
//	Frame:         1 byte id length, id bytes, 8-byte Lsn (BE), 8-byte Len (BE), Len bytes of payload
func encodeMsg(msg replication.Msg, payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(msg.Kind))

	switch msg.Kind {
	case replication.MsgRangeRequest:
		if err := writeID(&buf, msg.ID); err != nil {
			return nil, err
		}
		rangeBytes, _ := msg.SourceRange.MarshalBinary()
		buf.Write(rangeBytes)

	case replication.MsgRange:
		rangeBytes, _ := msg.Range.MarshalBinary()
		buf.Write(rangeBytes)

	case replication.MsgFrame:
		if err := writeID(&buf, msg.ID); err != nil {
			return nil, err
		}
		var lsnBuf [8]byte
		binary.BigEndian.PutUint64(lsnBuf[:], msg.Lsn)
		buf.Write(lsnBuf[:])
		binary.BigEndian.PutUint64(lsnBuf[:], msg.Len)
		buf.Write(lsnBuf[:])
		buf.Write(payload)

	default:
		return nil, fmt.Errorf("transport: unknown message kind %d", msg.Kind)
	}

	return buf.Bytes(), nil
}

func decodeMsg(data []byte) (replication.Msg, *bytes.Reader, error) {
	if len(data) < 1 {
		return replication.Msg{}, nil, fmt.Errorf("transport: empty message")
	}
	kind := replication.MsgKind(data[0])
	rest := data[1:]

	switch kind {
	case replication.MsgRangeRequest:
		id, rest, err := readID(rest)
		if err != nil {
			return replication.Msg{}, nil, err
		}
		var rng lsnrange.Range
		if err := rng.UnmarshalBinary(rest); err != nil {
			return replication.Msg{}, nil, fmt.Errorf("transport: decode source range: %w", err)
		}
		return replication.Msg{Kind: kind, ID: id, SourceRange: rng}, bytes.NewReader(nil), nil

	case replication.MsgRange:
		var rng lsnrange.Range
		if err := rng.UnmarshalBinary(rest); err != nil {
			return replication.Msg{}, nil, fmt.Errorf("transport: decode range: %w", err)
		}
		return replication.Msg{Kind: kind, Range: rng}, bytes.NewReader(nil), nil

	case replication.MsgFrame:
		id, rest, err := readID(rest)
		if err != nil {
			return replication.Msg{}, nil, err
		}
		if len(rest) < 16 {
			return replication.Msg{}, nil, fmt.Errorf("transport: truncated frame header")
		}
		lsn := binary.BigEndian.Uint64(rest[0:8])
		length := binary.BigEndian.Uint64(rest[8:16])
		payload := rest[16:]
		if uint64(len(payload)) != length {
			return replication.Msg{}, nil, fmt.Errorf("transport: frame payload length mismatch: got %d want %d", len(payload), length)
		}
		return replication.Msg{Kind: kind, ID: id, Lsn: lsn, Len: length}, bytes.NewReader(payload), nil

	default:
		return replication.Msg{}, nil, fmt.Errorf("transport: unknown message kind %d", kind)
	}
}

func writeID(buf *bytes.Buffer, id journalid.ID) error {
	b := id.Bytes()
	if len(b) > 255 {
		return fmt.Errorf("transport: id too long to encode (%d bytes)", len(b))
	}
	buf.WriteByte(byte(len(b)))
	buf.Write(b)
	return nil
}

func readID(data []byte) (journalid.ID, []byte, error) {
	if len(data) < 1 {
		return journalid.ID{}, nil, fmt.Errorf("transport: truncated id length")
	}
	n := int(data[0])
	if len(data) < 1+n {
		return journalid.ID{}, nil, fmt.Errorf("transport: truncated id bytes")
	}
	id, err := journalid.FromBytes(data[1 : 1+n])
	if err != nil {
		return journalid.ID{}, nil, fmt.Errorf("transport: decode id: %w", err)
	}
	return id, data[1+n:], nil
}
