// Package sqlengine defines the interface boundary sqlsync expects from an
// embedded SQL engine: a connection capable of opening transactions against
// a custom VFS file, executing statements, and returning rows as
// sqlsync-native SqliteValue scalars.
//
// sqlsync's core is written entirely against these interfaces. Per the
// specification, the embedded engine itself (registering a custom VFS,
// parsing SQL, executing a query plan) is out of scope: no real
// CGo-free, custom-VFS-capable SQLite driver exists in this project's
// dependency pack, so this package intentionally stops at the contract a
// concrete binding must satisfy, the same boundary the original
// implementation drew around rusqlite + its own sqlite-vfs crate.
package sqlengine

import (
	"context"
	"fmt"

	"github.com/sqlsync/sqlsync/pkg/vfsdevice"
)

// OpenFunc opens a Conn bound to file. Concrete binaries (cmd/sqlsyncd,
// cmd/sqlsyncctl) call Open rather than this type directly.
type OpenFunc func(file vfsdevice.File) (Conn, error)

// openFunc is the engine binding Open uses to turn a vfsdevice.File into a Conn.
// It is unset by default: nothing in this module's dependency pack
// provides a CGo-free SQLite driver that can be pointed at a custom VFS,
// so linking in a concrete engine is left to a downstream binary that
// imports (for side effects) a package calling SetOpenFunc from its
// init(). Calling Open before one is registered returns an error
// explaining the gap rather than panicking.
var openFunc OpenFunc

// SetOpenFunc registers the engine binding used by Open. A concrete
// binding's package should call this from an init() function.
func SetOpenFunc(f OpenFunc) {
	openFunc = f
}

// Open opens a Conn bound to file using the registered OpenFunc.
func Open(file vfsdevice.File) (Conn, error) {
	if openFunc == nil {
		return nil, fmt.Errorf("sqlengine: no engine bound; see sqlengine.SetOpenFunc")
	}
	return openFunc(file)
}

// Conn is an open connection to one database backed by a vfsdevice.File.
type Conn interface {
	// Begin starts a new transaction.
	Begin(ctx context.Context) (Tx, error)

	// File returns the vfsdevice.File this connection's custom VFS is
	// reading and writing through.
	File() vfsdevice.File

	// Close releases the connection.
	Close() error
}

// Tx is a single SQL transaction: every reducer mutation and every
// timeline rebase runs inside exactly one.
type Tx interface {
	// Exec runs a statement that does not return rows and reports the
	// number of rows changed.
	Exec(ctx context.Context, query string, args ...SqliteValue) (changes int64, err error)

	// Query runs a statement that returns rows.
	Query(ctx context.Context, query string, args ...SqliteValue) (*QueryResult, error)

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. Calling it after Commit is a
	// no-op, matching database/sql's *Tx semantics.
	Rollback() error
}

// Stmt is a prepared statement bound to a Tx, for callers that need the
// statement's column metadata without executing it repeatedly.
type Stmt interface {
	// ColumnNames returns the statement's result column names.
	ColumnNames() []string

	// Close releases the prepared statement.
	Close() error
}

// QueryResult is the tabular result of a Query call, already fully
// materialized — sqlsync's reducer protocol always sends a whole result
// set back across the FFI boundary in one response.
type QueryResult struct {
	Columns []string
	Rows    [][]SqliteValue
}

// Kind discriminates the dynamic type carried by a SqliteValue.
type Kind int

const (
	KindNull Kind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
)

// SqliteValue is a SQLite dynamic scalar: exactly one of Null, Integer,
// Real, Text, or Blob, mirroring sqlsync-reducer's SqliteValue enum.
type SqliteValue struct {
	Kind    Kind
	Integer int64
	Real    float64
	Text    string
	Blob    []byte
}

// Null is the SQLite NULL value.
var Null = SqliteValue{Kind: KindNull}

// IntegerValue builds an Integer SqliteValue.
func IntegerValue(v int64) SqliteValue { return SqliteValue{Kind: KindInteger, Integer: v} }

// RealValue builds a Real SqliteValue.
func RealValue(v float64) SqliteValue { return SqliteValue{Kind: KindReal, Real: v} }

// TextValue builds a Text SqliteValue.
func TextValue(v string) SqliteValue { return SqliteValue{Kind: KindText, Text: v} }

// BlobValue builds a Blob SqliteValue.
func BlobValue(v []byte) SqliteValue { return SqliteValue{Kind: KindBlob, Blob: v} }
