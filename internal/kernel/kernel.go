// Package kernel orchestrates the transactional core: it owns the handle
// allocator, the active and suspended transaction tables, the single
// write-ahead log, and the terminal coordinator, and it enforces the
// log-then-mutate protocol on every state-changing operation.
//
// Every public mutation follows the same three steps: (1) validate handle
// and state preconditions, (2) append the operation to the WAL and wait for
// durable acknowledgment, (3) only then apply the in-memory mutation. If
// step (2) fails, step (3) never runs and the aggregate is left exactly as
// it was.
//
// Concurrency: one RWMutex guards both the active and the suspended tables
// (a single concurrency domain; simpler to reason about than two interacting
// locks, and suspend/resume touch both tables atomically). Reads take the
// read lock and may proceed concurrently; mutations and the inactivity sweep
// serialize on the write lock, so a mutation racing the sweep observes
// either the pre-sweep or post-sweep state, never a partial one.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tillworks/poskernel/internal/clock"
	"github.com/tillworks/poskernel/internal/config"
	"github.com/tillworks/poskernel/internal/ledger"
	"github.com/tillworks/poskernel/internal/money"
	"github.com/tillworks/poskernel/internal/suspend"
	"github.com/tillworks/poskernel/internal/terminal"
	"github.com/tillworks/poskernel/internal/wal"
)

// Version identifies the kernel build across the boundary.
const Version = "1.0.0"

// InvalidHandle is the reserved sentinel; no live transaction ever has it.
const InvalidHandle uint64 = 0

// Log is the durability surface the kernel writes through. *wal.WAL is the
// production implementation; tests substitute failing stubs to prove the
// atomicity boundary.
type Log interface {
	Append(handle uint64, op wal.OpType, payload []byte) (uint64, error)
	Sync() error
	Close() error
}

// Store is the kernel orchestrator for one terminal.
type Store struct {
	mu          sync.RWMutex
	cfg         config.Config
	log         Log
	coordinator *terminal.Coordinator
	suspended   *suspend.Store
	clk         clock.Clock
	logger      *slog.Logger

	nextHandle uint64
	active     map[uint64]*ledger.Transaction
	closed     bool
}

// Option configures a Store at Open time.
type Option func(*openOptions)

type openOptions struct {
	clk    clock.Clock
	log    Log
	locker terminal.Locker
}

// WithClock substitutes the time source. Tests use clock.Fake.
func WithClock(c clock.Clock) Option {
	return func(o *openOptions) { o.clk = c }
}

// WithLog substitutes the durability log. Tests use failing stubs.
func WithLog(l Log) Option {
	return func(o *openOptions) { o.log = l }
}

// WithLocker substitutes the terminal lock provider.
func WithLocker(l terminal.Locker) Option {
	return func(o *openOptions) { o.locker = l }
}

// Open initializes the kernel for one terminal: acquires the exclusive
// terminal lock, establishes the write-ahead log, opens the suspend store,
// and replays the log to restore transactions that were still Building.
//
// A WAL that cannot be created, opened, or verified is the one condition the
// kernel treats as unrecoverable at startup: the returned error wraps
// ErrDurabilityUnavailable and the caller must not operate the terminal.
func Open(cfg config.Config, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("terminal_id", cfg.TerminalID))

	var options openOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.clk == nil {
		options.clk = clock.NewSystem()
	}

	coordinator, err := terminal.Acquire(cfg.TerminalID, cfg.DataDir, options.locker, logger)
	if err != nil {
		return nil, fmt.Errorf("open kernel: %w", err)
	}

	log := options.log
	if log == nil {
		w, err := wal.Open(cfg.WALPath(), logger)
		if err != nil {
			coordinator.Release()
			return nil, fmt.Errorf("open kernel: %w: %w", ErrDurabilityUnavailable, err)
		}
		log = w
	}

	suspendStore, err := suspend.Open(cfg.SuspendDBPath())
	if err != nil {
		log.Close()
		coordinator.Release()
		return nil, fmt.Errorf("open kernel: suspend store: %w", err)
	}

	s := &Store{
		cfg:         cfg,
		log:         log,
		coordinator: coordinator,
		suspended:   suspendStore,
		clk:         options.clk,
		logger:      logger,
		nextHandle:  1,
		active:      make(map[uint64]*ledger.Transaction),
	}

	if err := s.recover(); err != nil {
		s.suspended.Close()
		s.log.Close()
		s.coordinator.Release()
		return nil, fmt.Errorf("open kernel: %w", err)
	}

	logger.Info("kernel open",
		slog.String("data_dir", cfg.DataDir),
		slog.Uint64("next_handle", s.nextHandle),
		slog.Int("recovered_active", len(s.active)))
	return s, nil
}

// Close shuts the kernel down: syncs and closes the WAL and suspend store,
// then releases the terminal lock. Safe to call once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.log.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.suspended.Close(); err != nil {
		errs = append(errs, err)
	}
	s.coordinator.Release()
	s.logger.Info("kernel closed")
	return errors.Join(errs...)
}

// BeginTransaction starts a new sale in the Building state and returns its
// handle. The currency pair is immutable for the transaction's lifetime.
func (s *Store) BeginTransaction(storeID, currencyCode string, decimalPlaces uint8) (uint64, error) {
	currency, err := money.NewCurrency(currencyCode, decimalPlaces)
	if err != nil {
		return InvalidHandle, err
	}
	if storeID == "" {
		storeID = s.cfg.StoreID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return InvalidHandle, ErrClosed
	}

	now, err := s.now()
	if err != nil {
		return InvalidHandle, err
	}

	handle := s.nextHandle
	payload, err := marshalPayload(beginPayload{
		StoreID:       storeID,
		CurrencyCode:  currency.Code,
		DecimalPlaces: currency.DecimalPlaces,
	})
	if err != nil {
		return InvalidHandle, err
	}
	if _, err := s.log.Append(handle, wal.OpBeginTransaction, payload); err != nil {
		return InvalidHandle, fmt.Errorf("begin transaction: %w", err)
	}

	s.nextHandle++
	s.active[handle] = ledger.New(handle, storeID, currency, now)
	return handle, nil
}

// AddLine appends a Sale entry and returns its line number.
func (s *Store) AddLine(handle uint64, sku string, quantity int32, unitMinor int64, operatorID string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.activeTx(handle)
	if err != nil {
		return 0, err
	}
	if err := tx.CheckAddLine(sku, quantity, unitMinor); err != nil {
		return 0, err
	}
	now, err := s.now()
	if err != nil {
		return 0, err
	}

	payload, err := marshalPayload(addLinePayload{
		SKU: sku, Quantity: quantity, UnitMinor: unitMinor, OperatorID: operatorID,
	})
	if err != nil {
		return 0, err
	}
	if _, err := s.log.Append(handle, wal.OpAddLine, payload); err != nil {
		return 0, fmt.Errorf("add line: %w", err)
	}

	return tx.AddLine(sku, quantity, unitMinor, operatorID, now)
}

// VoidLine appends a reversing entry for the Sale at lineNumber.
func (s *Store) VoidLine(handle uint64, lineNumber uint32, reason, operatorID string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.activeTx(handle)
	if err != nil {
		return 0, err
	}
	if err := tx.CheckVoidLine(lineNumber); err != nil {
		return 0, err
	}
	now, err := s.now()
	if err != nil {
		return 0, err
	}

	payload, err := marshalPayload(voidLinePayload{
		LineNumber: lineNumber, Reason: reason, OperatorID: operatorID,
	})
	if err != nil {
		return 0, err
	}
	if _, err := s.log.Append(handle, wal.OpVoidLine, payload); err != nil {
		return 0, fmt.Errorf("void line: %w", err)
	}

	return tx.VoidLine(lineNumber, reason, operatorID, now)
}

// UpdateLineQuantity appends an Adjustment entry moving the line to
// newQuantity.
func (s *Store) UpdateLineQuantity(handle uint64, lineNumber uint32, newQuantity int32, operatorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.activeTx(handle)
	if err != nil {
		return err
	}
	if err := tx.CheckUpdateLineQuantity(lineNumber, newQuantity); err != nil {
		return err
	}
	if tx.EffectiveQuantity(lineNumber) == newQuantity {
		// Nothing would change; don't spend a durable record on a no-op.
		return nil
	}
	now, err := s.now()
	if err != nil {
		return err
	}

	payload, err := marshalPayload(updateQuantityPayload{
		LineNumber: lineNumber, NewQuantity: newQuantity, OperatorID: operatorID,
	})
	if err != nil {
		return err
	}
	if _, err := s.log.Append(handle, wal.OpUpdateQuantity, payload); err != nil {
		return fmt.Errorf("update line quantity: %w", err)
	}

	_, err = tx.UpdateLineQuantity(lineNumber, newQuantity, operatorID, now)
	return err
}

// AddCashTender records a cash payment in minor units.
func (s *Store) AddCashTender(handle uint64, amountMinor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.activeTx(handle)
	if err != nil {
		return err
	}
	if err := tx.CheckAddTender(amountMinor); err != nil {
		return err
	}
	now, err := s.now()
	if err != nil {
		return err
	}

	payload, err := marshalPayload(tenderPayload{AmountMinor: amountMinor})
	if err != nil {
		return err
	}
	if _, err := s.log.Append(handle, wal.OpAddTender, payload); err != nil {
		return fmt.Errorf("add tender: %w", err)
	}

	return tx.AddTender(amountMinor, now)
}

// Commit finalizes the transaction. Terminal; the handle is retired.
func (s *Store) Commit(handle uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.activeTx(handle)
	if err != nil {
		return err
	}
	if tx.State != ledger.StateBuilding {
		return &ledger.StateError{Op: "commit", State: tx.State}
	}
	now, err := s.now()
	if err != nil {
		return err
	}

	if _, err := s.log.Append(handle, wal.OpCommit, nil); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	// The durable record exists; the two-step transition is bookkeeping.
	if err := tx.Transition(ledger.StateCommitting, now); err != nil {
		return err
	}
	if err := tx.Transition(ledger.StateCommitted, now); err != nil {
		return err
	}
	delete(s.active, handle)
	s.logger.Info("transaction committed",
		slog.Uint64("handle", handle),
		slog.Int64("total_minor", tx.Totals().TotalMinor))
	return nil
}

// Abort cancels the transaction with a reason. Terminal; the handle is
// retired.
func (s *Store) Abort(handle uint64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.activeTx(handle)
	if err != nil {
		return err
	}
	if tx.State != ledger.StateBuilding {
		return &ledger.StateError{Op: "abort", State: tx.State}
	}
	now, err := s.now()
	if err != nil {
		return err
	}

	payload, err := marshalPayload(abortPayload{Reason: reason})
	if err != nil {
		return err
	}
	if _, err := s.log.Append(handle, wal.OpAbort, payload); err != nil {
		return fmt.Errorf("abort: %w", err)
	}

	if err := tx.Transition(ledger.StateAborting, now); err != nil {
		return err
	}
	if err := tx.Transition(ledger.StateAborted, now); err != nil {
		return err
	}
	delete(s.active, handle)
	s.logger.Info("transaction aborted",
		slog.Uint64("handle", handle), slog.String("reason", reason))
	return nil
}

// GetTotals folds the ledger into current totals. Read-only; concurrent
// with other reads.
func (s *Store) GetTotals(handle uint64) (ledger.Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.activeTx(handle)
	if err != nil {
		return ledger.Totals{}, err
	}
	return tx.Totals(), nil
}

// GetLineCount returns the number of ledger entries, reversing entries
// included.
func (s *Store) GetLineCount(handle uint64) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.activeTx(handle)
	if err != nil {
		return 0, err
	}
	return tx.LineCount(), nil
}

// GetLineItem returns the ledger entry at lineNumber.
func (s *Store) GetLineItem(handle uint64, lineNumber uint32) (ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.activeTx(handle)
	if err != nil {
		return ledger.Entry{}, err
	}
	return tx.Entry(lineNumber)
}

// CurrencyDecimalPlaces returns the decimal-places count callers need to
// format the raw minor-unit integers.
func (s *Store) CurrencyDecimalPlaces(handle uint64) (uint8, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.activeTx(handle)
	if err != nil {
		return 0, err
	}
	return tx.Currency.DecimalPlaces, nil
}

// Suspend parks a Building transaction. The snapshot is persisted before the
// WAL record is written; if the WAL append then fails, the snapshot is
// removed again and the transaction stays Building, so the log remains the
// authoritative record of what happened.
func (s *Store) Suspend(handle uint64, operatorID, reason string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.activeTx(handle)
	if err != nil {
		return "", err
	}
	if tx.State != ledger.StateBuilding {
		return "", &ledger.StateError{Op: "suspend", State: tx.State}
	}
	now, err := s.now()
	if err != nil {
		return "", err
	}

	suspendID := uuid.NewString()
	expiresAt := now.Add(s.cfg.SuspendExpiry)

	snapshot := *tx
	snapshot.State = ledger.StateSuspended
	if err := s.suspended.Park(context.Background(), suspend.Record{
		SuspendID:      suspendID,
		OriginalHandle: handle,
		TerminalID:     s.cfg.TerminalID,
		OperatorID:     operatorID,
		Reason:         reason,
		Transaction:    &snapshot,
		SuspendedAt:    now,
		ExpiresAt:      expiresAt,
	}); err != nil {
		return "", fmt.Errorf("suspend: %w", err)
	}

	payload, err := marshalPayload(suspendPayload{
		SuspendID: suspendID, OperatorID: operatorID, Reason: reason, ExpiresAt: expiresAt,
	})
	if err == nil {
		_, err = s.log.Append(handle, wal.OpSuspend, payload)
	}
	if err != nil {
		// Compensate: without the durable record the suspend did not
		// happen. Best effort; a crash here leaves an orphan row that
		// startup reconciliation removes.
		if delErr := s.suspended.Delete(context.Background(), suspendID); delErr != nil {
			s.logger.Error("suspend compensation failed",
				slog.String("suspend_id", suspendID),
				slog.String("error", delErr.Error()))
		}
		return "", fmt.Errorf("suspend: %w", err)
	}

	if err := tx.Transition(ledger.StateSuspended, now); err != nil {
		return "", err
	}
	delete(s.active, handle)
	s.logger.Info("transaction suspended",
		slog.Uint64("handle", handle), slog.String("suspend_id", suspendID))
	return suspendID, nil
}

// Resume re-hydrates a parked transaction under a new handle. The old
// handle is never reused.
func (s *Store) Resume(suspendID, operatorID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return InvalidHandle, ErrClosed
	}

	rec, err := s.suspended.Get(context.Background(), suspendID)
	if err != nil {
		if errors.Is(err, suspend.ErrNotFound) {
			return InvalidHandle, fmt.Errorf("resume %s: %w", suspendID, ErrNotFound)
		}
		return InvalidHandle, fmt.Errorf("resume: %w", err)
	}

	if s.suspendExpired(rec) {
		return InvalidHandle, fmt.Errorf("resume %s: %w", suspendID, ErrSuspendExpired)
	}
	now, err := s.now()
	if err != nil {
		return InvalidHandle, err
	}

	newHandle := s.nextHandle
	payload, err := marshalPayload(resumePayload{
		SuspendID: suspendID, OriginalHandle: rec.OriginalHandle, OperatorID: operatorID,
	})
	if err != nil {
		return InvalidHandle, err
	}
	if _, err := s.log.Append(newHandle, wal.OpResume, payload); err != nil {
		return InvalidHandle, fmt.Errorf("resume: %w", err)
	}

	tx := rec.Transaction
	tx.Handle = newHandle
	if err := tx.Transition(ledger.StateResuming, now); err != nil {
		return InvalidHandle, err
	}
	if err := tx.Transition(ledger.StateBuilding, now); err != nil {
		return InvalidHandle, err
	}

	if err := s.suspended.Delete(context.Background(), suspendID); err != nil {
		// The WAL already records the resume; a row that failed to
		// delete is reconciled away at next startup.
		s.logger.Warn("resume cleanup failed",
			slog.String("suspend_id", suspendID),
			slog.String("error", err.Error()))
	}

	s.nextHandle++
	s.active[newHandle] = tx
	s.logger.Info("transaction resumed",
		slog.String("suspend_id", suspendID),
		slog.Uint64("old_handle", rec.OriginalHandle),
		slog.Uint64("new_handle", newHandle))
	return newHandle, nil
}

// VoidSuspended aborts a parked transaction without resuming it.
func (s *Store) VoidSuspended(suspendID, reason, operatorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.voidSuspendedLocked(suspendID, reason, operatorID)
}

func (s *Store) voidSuspendedLocked(suspendID, reason, operatorID string) error {
	rec, err := s.suspended.Get(context.Background(), suspendID)
	if err != nil {
		if errors.Is(err, suspend.ErrNotFound) {
			return fmt.Errorf("void suspended %s: %w", suspendID, ErrNotFound)
		}
		return fmt.Errorf("void suspended: %w", err)
	}

	payload, err := marshalPayload(voidSuspendedPayload{
		SuspendID: suspendID, Reason: reason, OperatorID: operatorID,
	})
	if err != nil {
		return err
	}
	if _, err := s.log.Append(rec.OriginalHandle, wal.OpVoidSuspended, payload); err != nil {
		return fmt.Errorf("void suspended: %w", err)
	}

	if err := s.suspended.Delete(context.Background(), suspendID); err != nil {
		s.logger.Warn("void suspended cleanup failed",
			slog.String("suspend_id", suspendID),
			slog.String("error", err.Error()))
	}
	s.logger.Info("suspended transaction voided",
		slog.String("suspend_id", suspendID), slog.String("reason", reason))
	return nil
}

// ListSuspended returns every parked transaction, oldest first.
func (s *Store) ListSuspended() ([]suspend.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.suspended.List(context.Background())
}

// ActiveCount returns the number of live transactions. Diagnostic.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// Sync exposes an explicit durability point for hosts batching operations.
func (s *Store) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.log.Sync()
}

// suspendExpired decides whether a record is past expiry. A failing clock is
// answered conservatively: log a warning and treat the record as not yet
// expired rather than voiding work on a guess.
func (s *Store) suspendExpired(rec suspend.Record) bool {
	now, err := s.clk.Now()
	if err != nil {
		s.logger.Warn("clock read failed during expiry check; treating as not expired",
			slog.String("suspend_id", rec.SuspendID),
			slog.String("error", err.Error()))
		return false
	}
	return !now.Before(rec.ExpiresAt)
}

func (s *Store) activeTx(handle uint64) (*ledger.Transaction, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if handle == InvalidHandle {
		return nil, fmt.Errorf("handle %d: %w", handle, ErrNotFound)
	}
	tx, ok := s.active[handle]
	if !ok {
		return nil, fmt.Errorf("handle %d: %w", handle, ErrNotFound)
	}
	return tx, nil
}

func (s *Store) now() (time.Time, error) {
	now, err := s.clk.Now()
	if err != nil {
		return time.Time{}, fmt.Errorf("read clock: %w", err)
	}
	return now, nil
}
