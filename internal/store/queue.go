package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sproutlabs/sproutsync/internal/op"
)

const opColumns = `id, op_type, model_name, record_id, payload, enqueued_at,
	attempts, state, error_kind, last_error, last_attempt_at`

// scanOp reads one operation row. Works for both *sql.Row and *sql.Rows.
func scanOp(scan func(dest ...any) error) (op.Record, error) {
	var (
		rec      op.Record
		enqueued string
		lastTry  string
		payload  []byte
	)
	err := scan(&rec.ID, &rec.Type, &rec.ModelName, &rec.RecordID, &payload,
		&enqueued, &rec.Attempts, &rec.State, &rec.ErrorKind, &rec.LastError, &lastTry)
	if err != nil {
		return op.Record{}, err
	}
	rec.Payload = payload
	if rec.EnqueuedAt, err = parseTime(enqueued); err != nil {
		return op.Record{}, err
	}
	if rec.LastAttemptAt, err = parseTime(lastTry); err != nil {
		return op.Record{}, err
	}
	return rec, nil
}

// EnqueueOp inserts a new pending operation.
//
// The record's ID must be unique; ID, type, model name, and record id are
// required. State and attempt fields are owned by the store from here on.
func (db *DB) EnqueueOp(rec op.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("operation id cannot be empty")
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	_, err := db.conn.Exec(`
		INSERT INTO operations (id, op_type, model_name, record_id, payload, enqueued_at, state)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Type), rec.ModelName, rec.RecordID, []byte(rec.Payload),
		formatTime(rec.EnqueuedAt), string(op.StatePending))
	if err != nil {
		return fmt.Errorf("failed to enqueue operation %s: %w", rec.ID, err)
	}
	return nil
}

// DequeueBatch returns up to maxN pending operations ordered by
// (priority weight, enqueued_at) ascending.
//
// weightFor maps a model name to its priority weight (lower is more
// urgent). The sort is stable over the FIFO order, so two operations for
// the same record id are never reordered relative to each other.
//
// A pending record whose (model, record id) target has an earlier failed
// record is held back entirely: delivering it would commit a later write
// before the earlier one is retried. The target unblocks once the failed
// record is requeued, cancelled, or delivered.
func (db *DB) DequeueBatch(maxN int, weightFor func(modelName string) int) ([]op.Record, error) {
	rows, err := db.conn.Query(`
		SELECT `+opColumns+`
		FROM operations
		WHERE state = ?
		  AND NOT EXISTS (
			SELECT 1 FROM operations f
			WHERE f.state = ?
			  AND f.model_name = operations.model_name
			  AND f.record_id = operations.record_id
			  AND (f.enqueued_at, f.rowid) < (operations.enqueued_at, operations.rowid)
		  )
		ORDER BY enqueued_at ASC, rowid ASC`,
		string(op.StatePending), string(op.StateFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending operations: %w", err)
	}
	defer rows.Close()

	var recs []op.Record
	for rows.Next() {
		rec, err := scanOp(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pending operations: %w", err)
	}

	// Stable sort preserves FIFO order within a priority class.
	sort.SliceStable(recs, func(i, j int) bool {
		return weightFor(recs[i].ModelName) < weightFor(recs[j].ModelName)
	})

	if maxN > 0 && len(recs) > maxN {
		recs = recs[:maxN]
	}
	return recs, nil
}

// MarkInFlight transitions a pending operation to in-flight.
//
// The guard clause enforces the single-flight invariant: the update is a
// no-op if any other record is already in flight.
func (db *DB) MarkInFlight(id string) error {
	res, err := db.conn.Exec(`
		UPDATE operations SET state = ?
		WHERE id = ? AND state = ?
		  AND NOT EXISTS (SELECT 1 FROM operations WHERE state = ? AND id != ?)`,
		string(op.StateInFlight), id, string(op.StatePending),
		string(op.StateInFlight), id)
	if err != nil {
		return fmt.Errorf("failed to mark operation %s in flight: %w", id, err)
	}
	return db.requireRow(res, id)
}

// MarkDelivered removes a delivered operation from the queue.
func (db *DB) MarkDelivered(id string) error {
	res, err := db.conn.Exec(`DELETE FROM operations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove delivered operation %s: %w", id, err)
	}
	return db.requireRow(res, id)
}

// MarkFailed transitions an operation to failed, incrementing its attempt
// counter and recording the diagnostic fields.
func (db *DB) MarkFailed(id string, kind op.ErrorKind, errMsg string, at time.Time) error {
	res, err := db.conn.Exec(`
		UPDATE operations
		SET state = ?, error_kind = ?, last_error = ?, attempts = attempts + 1, last_attempt_at = ?
		WHERE id = ?`,
		string(op.StateFailed), string(kind), errMsg, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to mark operation %s failed: %w", id, err)
	}
	return db.requireRow(res, id)
}

// MarkExhausted flags a failed operation as having used up its retry
// budget. The record stays in the queue so it can be surfaced for manual
// intervention; it is never auto-requeued afterwards.
func (db *DB) MarkExhausted(id string) error {
	res, err := db.conn.Exec(`
		UPDATE operations SET error_kind = ?
		WHERE id = ? AND state = ?`,
		string(op.ErrKindExhausted), id, string(op.StateFailed))
	if err != nil {
		return fmt.Errorf("failed to mark operation %s exhausted: %w", id, err)
	}
	return db.requireRow(res, id)
}

// RequeueOp moves a failed operation back to pending, clearing the error
// fields but preserving the attempt counter.
func (db *DB) RequeueOp(id string) error {
	res, err := db.conn.Exec(`
		UPDATE operations SET state = ?, error_kind = '', last_error = ''
		WHERE id = ? AND state = ?`,
		string(op.StatePending), id, string(op.StateFailed))
	if err != nil {
		return fmt.Errorf("failed to requeue operation %s: %w", id, err)
	}
	return db.requireRow(res, id)
}

// CancelOp removes a pending operation from the queue.
//
// Cancelling an in-flight record is rejected with op.ErrNotPending: the
// delivery may already have taken effect remotely. Failed records are also
// rejected here; use RequeueOp + CancelOp or resolve them explicitly.
func (db *DB) CancelOp(id string) error {
	res, err := db.conn.Exec(`DELETE FROM operations WHERE id = ? AND state = ?`,
		id, string(op.StatePending))
	if err != nil {
		return fmt.Errorf("failed to cancel operation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check cancel result: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Distinguish "not found" from "exists but not pending".
	if _, err := db.GetOp(id); err != nil {
		return err
	}
	return op.ErrNotPending
}

// GetOp returns a single operation by id.
func (db *DB) GetOp(id string) (op.Record, error) {
	row := db.conn.QueryRow(`SELECT `+opColumns+` FROM operations WHERE id = ?`, id)
	rec, err := scanOp(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return op.Record{}, op.ErrNotFound
	}
	if err != nil {
		return op.Record{}, fmt.Errorf("failed to load operation %s: %w", id, err)
	}
	return rec, nil
}

// ListFailed returns all failed operations, oldest first. This includes
// deferred conflicts and exhausted records; callers filter by error kind.
func (db *DB) ListFailed() ([]op.Record, error) {
	rows, err := db.conn.Query(`
		SELECT `+opColumns+`
		FROM operations
		WHERE state = ?
		ORDER BY enqueued_at ASC, rowid ASC`,
		string(op.StateFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to query failed operations: %w", err)
	}
	defer rows.Close()

	var recs []op.Record
	for rows.Next() {
		rec, err := scanOp(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read failed operations: %w", err)
	}
	return recs, nil
}

// PendingCount returns the number of operations waiting for delivery
// (pending plus in-flight; an in-flight record is still unconfirmed).
func (db *DB) PendingCount() (int, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM operations WHERE state IN (?, ?)`,
		string(op.StatePending), string(op.StateInFlight)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return count, nil
}

// ResetInFlight moves any in-flight operations back to pending.
//
// Called on startup: a record left in flight by a crash has an unknown
// delivery outcome, and at-least-once semantics make re-delivery safe.
// Attempt counters are preserved. Returns the number of records reset.
func (db *DB) ResetInFlight() (int, error) {
	res, err := db.conn.Exec(`UPDATE operations SET state = ? WHERE state = ?`,
		string(op.StatePending), string(op.StateInFlight))
	if err != nil {
		return 0, fmt.Errorf("failed to reset in-flight operations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reset operations: %w", err)
	}
	return int(n), nil
}

// requireRow converts a zero-row update into op.ErrNotFound.
func (db *DB) requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result for %s: %w", id, err)
	}
	if n == 0 {
		return op.ErrNotFound
	}
	return nil
}
