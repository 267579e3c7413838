package suspend

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tillworks/poskernel/internal/ledger"
)

// ErrNotFound reports an unknown suspend ID.
var ErrNotFound = errors.New("suspended transaction not found")

// Record is one parked transaction.
type Record struct {
	SuspendID      string
	OriginalHandle uint64
	TerminalID     string
	OperatorID     string
	Reason         string
	Transaction    *ledger.Transaction
	SuspendedAt    time.Time
	ExpiresAt      time.Time
}

// Park stores a suspended-transaction record. The snapshot is self-contained
// JSON so an operator tool can read it without the kernel.
func (s *Store) Park(ctx context.Context, rec Record) error {
	snapshot, err := json.Marshal(rec.Transaction)
	if err != nil {
		return fmt.Errorf("park %s: marshal snapshot: %w", rec.SuspendID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO suspended_transactions
		(suspend_id, original_handle, terminal_id, operator_id, reason, snapshot, suspended_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.SuspendID,
		int64(rec.OriginalHandle),
		rec.TerminalID,
		rec.OperatorID,
		rec.Reason,
		string(snapshot),
		rec.SuspendedAt.UnixNano(),
		rec.ExpiresAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("park %s: %w", rec.SuspendID, err)
	}
	return nil
}

// Get loads one record by suspend ID.
func (s *Store) Get(ctx context.Context, suspendID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT suspend_id, original_handle, terminal_id, operator_id, reason, snapshot, suspended_at, expires_at
		FROM suspended_transactions
		WHERE suspend_id = ?
	`, suspendID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("get %s: %w", suspendID, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", suspendID, err)
	}
	return rec, nil
}

// Delete removes a record after resume or void. Deleting an absent record
// returns ErrNotFound so callers can detect double resumes.
func (s *Store) Delete(ctx context.Context, suspendID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM suspended_transactions WHERE suspend_id = ?`, suspendID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", suspendID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: rows affected: %w", suspendID, err)
	}
	if affected == 0 {
		return fmt.Errorf("delete %s: %w", suspendID, ErrNotFound)
	}
	return nil
}

// List returns every parked record, oldest first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	return s.query(ctx, `
		SELECT suspend_id, original_handle, terminal_id, operator_id, reason, snapshot, suspended_at, expires_at
		FROM suspended_transactions
		ORDER BY suspended_at
	`)
}

// ListExpired returns records whose expiry is at or before asOf, oldest
// first. An external sweeper may auto-void these.
func (s *Store) ListExpired(ctx context.Context, asOf time.Time) ([]Record, error) {
	return s.query(ctx, `
		SELECT suspend_id, original_handle, terminal_id, operator_id, reason, snapshot, suspended_at, expires_at
		FROM suspended_transactions
		WHERE expires_at <= ?
		ORDER BY suspended_at
	`, asOf.UnixNano())
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query suspended: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("query suspended: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query suspended: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec         Record
		handle      int64
		snapshot    string
		suspendedAt int64
		expiresAt   int64
	)
	err := row.Scan(&rec.SuspendID, &handle, &rec.TerminalID, &rec.OperatorID,
		&rec.Reason, &snapshot, &suspendedAt, &expiresAt)
	if err != nil {
		return Record{}, err
	}

	var tx ledger.Transaction
	if err := json.Unmarshal([]byte(snapshot), &tx); err != nil {
		return Record{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	rec.OriginalHandle = uint64(handle)
	rec.Transaction = &tx
	rec.SuspendedAt = time.Unix(0, suspendedAt).UTC()
	rec.ExpiresAt = time.Unix(0, expiresAt).UTC()
	return rec, nil
}
