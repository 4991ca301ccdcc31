// Package badgersink implements a persistence.Sink on top of BadgerDB,
// a durable frame cache for use underneath an in-memory journal. Grounded on dittofs's badger metadata store
// (badgerjournal.go in this module follows the same pattern).
package badgersink

import (
	"context"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
)

const keyPrefix = "sink:"

// Sink is a persistence.Sink backed by one BadgerDB. The caller owns the
// *badger.DB's lifecycle.
type Sink struct {
	db *badgerdb.DB
}

// Open wraps db as a Sink.
func Open(db *badgerdb.DB) *Sink {
	return &Sink{db: db}
}

// Get implements persistence.Sink.
func (s *Sink) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var found bool
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(v []byte) error {
			value = append([]byte{}, v...)
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("badgersink: get %q: %w", key, err)
	}
	return value, found, nil
}

// Put implements persistence.Sink.
func (s *Sink) Put(ctx context.Context, key string, value []byte) error {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keyPrefix+key), value)
	})
	if err != nil {
		return fmt.Errorf("badgersink: put %q: %w", key, err)
	}
	return nil
}
