// Package timeline implements mutation apply, rebase, and cross-client
// range application against the reserved __sqlsync_timelines table,
// grounded directly on the original timeline.rs.
package timeline

import (
	"context"
	"fmt"

	"github.com/sqlsync/sqlsync/internal/sqlengine"
	"github.com/sqlsync/sqlsync/pkg/journal"
	"github.com/sqlsync/sqlsync/pkg/journalid"
	"github.com/sqlsync/sqlsync/pkg/lsnrange"
	"github.com/sqlsync/sqlsync/pkg/reducer"
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS __sqlsync_timelines (
		id BLOB PRIMARY KEY,
		lsn INTEGER NOT NULL
	)`

	readLSNSQL = `SELECT lsn FROM __sqlsync_timelines WHERE id = ?`

	upsertLSNSQL = `INSERT INTO __sqlsync_timelines (id, lsn) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET lsn = excluded.lsn`
)

// RunMigration ensures the reserved timelines table exists.
func RunMigration(ctx context.Context, tx sqlengine.Tx) error {
	_, err := tx.Exec(ctx, createTableSQL)
	return err
}

// ApplyMutation runs mutation through reducer inside one transaction on
// conn, and only on success appends it to timeline. Grounded on
// apply_mutation in timeline.rs.
func ApplyMutation(ctx context.Context, timeline journal.Journal, conn sqlengine.Conn, r reducer.Reducer, mutation []byte) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("timeline: apply mutation: begin: %w", err)
	}
	if err := r.Apply(ctx, tx, mutation); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("timeline: apply mutation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("timeline: apply mutation: commit: %w", err)
	}
	if _, err := timeline.Append(mutation); err != nil {
		return fmt.Errorf("timeline: apply mutation: journal append: %w", err)
	}
	return nil
}

// Rebase drops every mutation in timeline already reflected in the
// database (per __sqlsync_timelines) and reapplies whatever remains, used
// after the underlying storage has been replaced by a fresh snapshot from
// the coordinator. Grounded on rebase_timeline in timeline.rs.
func Rebase(ctx context.Context, timeline journal.Journal, conn sqlengine.Conn, r reducer.Reducer) error {
	id := timeline.ID()

	appliedLSN, ok, err := readAppliedLSN(ctx, conn, id)
	if err != nil {
		return fmt.Errorf("timeline: rebase: read applied lsn: %w", err)
	}
	if ok {
		if err := timeline.DropPrefix(appliedLSN); err != nil {
			return fmt.Errorf("timeline: rebase: drop prefix: %w", err)
		}
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("timeline: rebase: begin: %w", err)
	}

	cursor := timeline.Scan()
	defer cursor.Close()
	for {
		more, err := cursor.Advance()
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("timeline: rebase: scan: %w", err)
		}
		if !more {
			break
		}
		if err := r.Apply(ctx, tx, cursor.Data()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("timeline: rebase: apply: %w", err)
		}
	}

	return tx.Commit()
}

// ApplyRange applies every mutation in range [it trims any prefix already
// recorded as applied] from timeline against conn via r, then records the
// new high-water LSN. Grounded on apply_timeline_range in timeline.rs.
func ApplyRange(ctx context.Context, timeline journal.Journal, conn sqlengine.Conn, r reducer.Reducer, rng lsnrange.Range) error {
	if rng.IsEmpty() {
		return nil
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("timeline: apply range: begin: %w", err)
	}

	id := timeline.ID()
	appliedLSN, ok, err := readAppliedLSNTx(ctx, tx, id)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("timeline: apply range: read applied lsn: %w", err)
	}
	trimmed := rng
	if ok {
		trimmed = rng.TrimPrefix(appliedLSN)
	}
	if trimmed.IsEmpty() {
		return tx.Rollback()
	}

	cursor := timeline.ScanRange(trimmed)
	defer cursor.Close()
	for {
		more, err := cursor.Advance()
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("timeline: apply range: scan: %w", err)
		}
		if !more {
			break
		}
		if err := r.Apply(ctx, tx, cursor.Data()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("timeline: apply range: apply: %w", err)
		}
	}

	last, _ := trimmed.Last()
	if _, err := tx.Exec(ctx, upsertLSNSQL, sqlengine.BlobValue(id.Bytes()), sqlengine.IntegerValue(int64(last))); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("timeline: apply range: update cursor: %w", err)
	}

	return tx.Commit()
}

func readAppliedLSN(ctx context.Context, conn sqlengine.Conn, id journalid.ID) (lsnrange.Lsn, bool, error) {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()
	return readAppliedLSNTx(ctx, tx, id)
}

func readAppliedLSNTx(ctx context.Context, tx sqlengine.Tx, id journalid.ID) (lsnrange.Lsn, bool, error) {
	result, err := tx.Query(ctx, readLSNSQL, sqlengine.BlobValue(id.Bytes()))
	if err != nil {
		return 0, false, err
	}
	if len(result.Rows) == 0 {
		return 0, false, nil
	}
	row := result.Rows[0]
	if len(row) == 0 || row[0].Kind != sqlengine.KindInteger {
		return 0, false, fmt.Errorf("timeline: unexpected lsn row shape")
	}
	return lsnrange.Lsn(row[0].Integer), true, nil
}
