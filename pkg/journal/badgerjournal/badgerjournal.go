// Package badgerjournal implements a durable Journal backend on top of
// BadgerDB, grounded on dittofs's badger metadata store (transaction.go,
// server.go): one badger.DB per journal directory, a byte-prefixed key
// scheme, and db.Update/db.View transaction wrappers around each operation.
package badgerjournal

import (
	"encoding/binary"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/sqlsync/sqlsync/pkg/journal"
	"github.com/sqlsync/sqlsync/pkg/journalid"
	"github.com/sqlsync/sqlsync/pkg/lsnrange"
)

const (
	prefixFrame = "frame:"
	keyMeta     = "meta"
)

// Journal is a durable, BadgerDB-backed journal.Journal. The caller owns the
// *badger.DB's lifecycle (Open/Close). Its frame and meta keys carry no
// journal id, so one DB holds exactly one journal: Open rejects a DB whose
// meta key records a different id.
type Journal struct {
	db  *badgerdb.DB
	id  journalid.ID
	rng lsnrange.Range // cached; always kept in sync with the committed meta key
}

// Open opens (or initializes) the journal identified by id in db. If db
// already holds a meta record for a different id, Open fails.
func Open(db *badgerdb.DB, id journalid.ID) (*Journal, error) {
	j := &Journal{db: db, id: id}

	err := db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keyMeta))
		if err == badgerdb.ErrKeyNotFound {
			j.rng = lsnrange.Empty(0)
			return txn.Set([]byte(keyMeta), encodeMeta(id, j.rng))
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			storedID, rng, err := decodeMeta(val)
			if err != nil {
				return err
			}
			if !storedID.Equal(id) {
				return fmt.Errorf("badgerjournal: db holds journal %s, not %s", storedID, id)
			}
			j.rng = rng
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("badgerjournal: open: %w", err)
	}
	return j, nil
}

func (j *Journal) ID() journalid.ID { return j.id }

func (j *Journal) Range() lsnrange.Range { return j.rng }

func (j *Journal) Append(data []byte) (lsnrange.Lsn, error) {
	var assigned lsnrange.Lsn
	err := j.db.Update(func(txn *badgerdb.Txn) error {
		newRng := j.rng
		if newRng.IsEmpty() {
			next := newRng.Next()
			newRng = lsnrange.New(next, next)
			assigned = next
		} else {
			newRng = newRng.ExtendBy(1)
			assigned, _ = newRng.Last()
		}
		if err := txn.Set(frameKey(assigned), data); err != nil {
			return err
		}
		if err := txn.Set([]byte(keyMeta), encodeMeta(j.id, newRng)); err != nil {
			return err
		}
		j.rng = newRng
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badgerjournal: append: %w", err)
	}
	return assigned, nil
}

func (j *Journal) DropPrefix(upTo lsnrange.Lsn) error {
	if j.rng.IsEmpty() {
		return nil
	}
	remaining := j.rng.TrimPrefix(upTo)
	if remaining == j.rng {
		return nil
	}

	return j.db.Update(func(txn *badgerdb.Txn) error {
		first, hasFirst := j.rng.First()
		last := upTo
		if journalLast, ok := j.rng.Last(); ok && upTo > journalLast {
			last = journalLast
		}
		if hasFirst {
			for lsn := first; lsn <= last; lsn++ {
				if err := txn.Delete(frameKey(lsn)); err != nil && err != badgerdb.ErrKeyNotFound {
					return err
				}
			}
		}
		if err := txn.Set([]byte(keyMeta), encodeMeta(j.id, remaining)); err != nil {
			return err
		}
		j.rng = remaining
		return nil
	})
}

func (j *Journal) ReadLSN(lsn lsnrange.Lsn) ([]byte, bool, error) {
	if !j.rng.Contains(lsn) {
		return nil, false, nil
	}
	var out []byte
	err := j.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(frameKey(lsn))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("badgerjournal: read lsn %d: %w", lsn, err)
	}
	return out, out != nil, nil
}

func (j *Journal) Scan() journal.Cursor {
	return j.scanRange(j.rng, false)
}

func (j *Journal) ScanRev() journal.Cursor {
	return j.scanRange(j.rng, true)
}

func (j *Journal) ScanRange(r lsnrange.Range) journal.Cursor {
	inter, ok := j.rng.Intersect(r)
	if !ok {
		return journal.NewSliceCursor(nil, false)
	}
	return j.scanRange(inter, false)
}

func (j *Journal) scanRange(r lsnrange.Range, rev bool) journal.Cursor {
	if r.IsEmpty() {
		return journal.NewSliceCursor(nil, false)
	}
	first, _ := r.First()
	last, _ := r.Last()

	frames := make([][]byte, 0, r.Len())
	_ = j.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixFrame)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(frameKey(first)); it.ValidForPrefix([]byte(prefixFrame)); it.Next() {
			lsn := lsnFromKey(it.Item().Key())
			if lsn > last {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				frames = append(frames, append([]byte(nil), val...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return journal.NewSliceCursor(frames, rev)
}

// SourceID implements journal.ReplicationSource.
func (j *Journal) SourceID() journalid.ID { return j.ID() }

// SourceRange implements journal.ReplicationSource.
func (j *Journal) SourceRange() lsnrange.Range { return j.Range() }

// DestinationRange implements journal.ReplicationDestination.
func (j *Journal) DestinationRange(id journalid.ID) (lsnrange.Range, error) {
	if !id.Equal(j.id) {
		return lsnrange.Range{}, journal.ErrUnknownJournal(id, j.id)
	}
	return j.Range(), nil
}

// WriteLSN implements journal.ReplicationDestination, with the same
// idempotent-overwrite and contiguity rules as the in-memory backend.
func (j *Journal) WriteLSN(id journalid.ID, lsn lsnrange.Lsn, data []byte) error {
	if !id.Equal(j.id) {
		return journal.ErrUnknownJournal(id, j.id)
	}

	return j.db.Update(func(txn *badgerdb.Txn) error {
		if j.rng.IsEmpty() {
			next := j.rng.Next()
			if lsn != next {
				return journal.ErrNonContiguousLSN(lsn, lsnrange.New(next, next))
			}
			newRng := lsnrange.New(lsn, lsn)
			if err := txn.Set(frameKey(lsn), data); err != nil {
				return err
			}
			if err := txn.Set([]byte(keyMeta), encodeMeta(j.id, newRng)); err != nil {
				return err
			}
			j.rng = newRng
			return nil
		}

		accepted := j.rng.ExtendBy(1)
		if !accepted.Contains(lsn) {
			return journal.ErrNonContiguousLSN(lsn, accepted)
		}
		if err := txn.Set(frameKey(lsn), data); err != nil {
			return err
		}
		if _, ok := j.rng.Offset(lsn); !ok {
			if err := txn.Set([]byte(keyMeta), encodeMeta(j.id, accepted)); err != nil {
				return err
			}
			j.rng = accepted
		}
		return nil
	})
}

func frameKey(lsn lsnrange.Lsn) []byte {
	key := make([]byte, len(prefixFrame)+8)
	copy(key, prefixFrame)
	binary.BigEndian.PutUint64(key[len(prefixFrame):], lsn)
	return key
}

func lsnFromKey(key []byte) lsnrange.Lsn {
	return binary.BigEndian.Uint64(key[len(prefixFrame):])
}

// encodeMeta packs a journal id and range into the meta record:
//
//	u8      id length
//	[]byte  id bytes
//	u8      0 = empty, 1 = non-empty
//	u64 be  anchor (if empty) or first (if non-empty)
//	u64 be  last (only present if non-empty)
func encodeMeta(id journalid.ID, rng lsnrange.Range) []byte {
	idBytes := id.Bytes()
	if rng.IsEmpty() {
		buf := make([]byte, 1+len(idBytes)+1+8)
		buf[0] = byte(len(idBytes))
		copy(buf[1:], idBytes)
		off := 1 + len(idBytes)
		buf[off] = 0
		binary.BigEndian.PutUint64(buf[off+1:], rng.Next())
		return buf
	}
	first, _ := rng.First()
	last, _ := rng.Last()
	buf := make([]byte, 1+len(idBytes)+1+16)
	buf[0] = byte(len(idBytes))
	copy(buf[1:], idBytes)
	off := 1 + len(idBytes)
	buf[off] = 1
	binary.BigEndian.PutUint64(buf[off+1:], first)
	binary.BigEndian.PutUint64(buf[off+9:], last)
	return buf
}

func decodeMeta(data []byte) (journalid.ID, lsnrange.Range, error) {
	if len(data) < 1 {
		return journalid.ID{}, lsnrange.Range{}, fmt.Errorf("badgerjournal: meta record too short")
	}
	idLen := int(data[0])
	if len(data) < 1+idLen+1 {
		return journalid.ID{}, lsnrange.Range{}, fmt.Errorf("badgerjournal: meta record truncated")
	}
	id, err := journalid.FromBytes(data[1 : 1+idLen])
	if err != nil {
		return journalid.ID{}, lsnrange.Range{}, err
	}
	off := 1 + idLen
	switch data[off] {
	case 0:
		if len(data) < off+9 {
			return journalid.ID{}, lsnrange.Range{}, fmt.Errorf("badgerjournal: meta record truncated (empty anchor)")
		}
		anchor := binary.BigEndian.Uint64(data[off+1:])
		return id, lsnrange.Empty(anchor), nil
	case 1:
		if len(data) < off+17 {
			return journalid.ID{}, lsnrange.Range{}, fmt.Errorf("badgerjournal: meta record truncated (range)")
		}
		first := binary.BigEndian.Uint64(data[off+1:])
		last := binary.BigEndian.Uint64(data[off+9:])
		return id, lsnrange.New(first, last), nil
	default:
		return journalid.ID{}, lsnrange.Range{}, fmt.Errorf("badgerjournal: unknown meta tag %d", data[off])
	}
}
