// Package persistence implements sqlsync's optional persistence sink: a
// key-value store holding a serialized LsnRange under the key "RANGE" and
// frame bytes under "lsn-{n}", used to durably cache journal frames
// underneath an in-memory journal. Grounded on spec.md's persistence sink
// contract; concrete sinks live in pkg/persistence/badgersink and
// pkg/persistence/s3sink.
package persistence

import (
	"context"
	"fmt"

	"github.com/sqlsync/sqlsync/pkg/journal"
	"github.com/sqlsync/sqlsync/pkg/journalid"
	"github.com/sqlsync/sqlsync/pkg/lsnrange"
)

// RangeKey is the fixed key a Sink stores its persisted LsnRange under.
const RangeKey = "RANGE"

// Sink is a key-value persistence backend: exactly the contract a
// concrete store (Badger, S3, ...) must satisfy to back a journal.
type Sink interface {
	// Get returns the value for key, or (nil, false, nil) if absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores value under key, overwriting any existing value.
	Put(ctx context.Context, key string, value []byte) error
}

// FrameKey returns the key a Sink stores frame lsn's bytes under.
func FrameKey(lsn lsnrange.Lsn) string {
	return fmt.Sprintf("lsn-%d", lsn)
}

// PersistRange stores rng under RangeKey.
func PersistRange(ctx context.Context, sink Sink, rng lsnrange.Range) error {
	data, _ := rng.MarshalBinary()
	return sink.Put(ctx, RangeKey, data)
}

// LoadRange reads the persisted LsnRange, or the empty range anchored at
// 0 if nothing has been persisted yet.
func LoadRange(ctx context.Context, sink Sink) (lsnrange.Range, error) {
	data, ok, err := sink.Get(ctx, RangeKey)
	if err != nil {
		return lsnrange.Range{}, fmt.Errorf("persistence: load range: %w", err)
	}
	if !ok {
		return lsnrange.Empty(0), nil
	}
	var rng lsnrange.Range
	if err := rng.UnmarshalBinary(data); err != nil {
		return lsnrange.Range{}, fmt.Errorf("persistence: load range: %w", err)
	}
	return rng, nil
}

// PersistFrame stores the frame at lsn, then advances the persisted range
// to record it, leaving the two writes non-atomic the same way the
// original sink does (a crash between them is recovered by Replay, which
// only trusts frames the range actually covers).
func PersistFrame(ctx context.Context, sink Sink, rng lsnrange.Range, lsn lsnrange.Lsn, data []byte) (lsnrange.Range, error) {
	if err := sink.Put(ctx, FrameKey(lsn), data); err != nil {
		return rng, fmt.Errorf("persistence: persist frame %d: %w", lsn, err)
	}
	next := rng.ExtendBy(1)
	if err := PersistRange(ctx, sink, next); err != nil {
		return rng, fmt.Errorf("persistence: persist frame %d: %w", lsn, err)
	}
	return next, nil
}

// Replay reads every frame from LSN 0 up to (but not including) the
// persisted range's next LSN and writes each into dest under id,
// recreating dest's content from the sink. It is a no-op if nothing has
// been persisted.
func Replay(ctx context.Context, sink Sink, dest journal.ReplicationDestination, id journalid.ID) error {
	rng, err := LoadRange(ctx, sink)
	if err != nil {
		return fmt.Errorf("persistence: replay: %w", err)
	}

	next := rng.Next()
	for lsn := lsnrange.Lsn(0); lsn < next; lsn++ {
		data, ok, err := sink.Get(ctx, FrameKey(lsn))
		if err != nil {
			return fmt.Errorf("persistence: replay: read lsn %d: %w", lsn, err)
		}
		if !ok {
			continue
		}
		if err := dest.WriteLSN(id, lsn, data); err != nil {
			return fmt.Errorf("persistence: replay: write lsn %d: %w", lsn, err)
		}
	}
	return nil
}
