// Package vfsdevice defines the block-device contract sqlsync's storage
// layer exposes to an embedded SQL engine in place of a regular OS file.
// It is the Go-interface stand-in for sqlite-vfs's File trait, kept
// separate from pkg/storage so any engine binding (real or test double)
// can be written against a narrow surface.
package vfsdevice

// File is the minimal random-access file surface a custom VFS page file
// needs: fixed-size reads/writes at byte offsets, a reported size, and
// truncate/sync hooks mirroring SQLite's own journal-mode file calls.
type File interface {
	// FileSize returns the highest byte offset this file reports as
	// present, rounded up to a whole number of pages.
	FileSize() (uint64, error)

	// ReadAt copies len(buf) bytes starting at pos into buf. It returns
	// the number of bytes copied; 0 means pos is entirely unwritten.
	ReadAt(pos uint64, buf []byte) (int, error)

	// WriteAt writes buf (always exactly one page) at pos.
	WriteAt(pos uint64, buf []byte) (int, error)

	// Truncate shrinks or grows the file to size bytes.
	Truncate(size uint64) error

	// Sync flushes any buffered state. sqlsync's storage is append-only
	// and in-memory until Commit, so Sync is a no-op for it; the method
	// exists so other File implementations (e.g. a local scratch file)
	// have somewhere to put real fsync semantics.
	Sync() error
}
