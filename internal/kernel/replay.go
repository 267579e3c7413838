package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tillworks/poskernel/internal/ledger"
	"github.com/tillworks/poskernel/internal/money"
	"github.com/tillworks/poskernel/internal/wal"
)

// ReplayState is the deterministic result of folding a write-ahead log from
// the beginning. The same ledger fold serves live queries, so a replayed
// transaction and its live counterpart can never disagree.
type ReplayState struct {
	// Active holds transactions still Building at the end of the log.
	Active map[uint64]*ledger.Transaction

	// Parked maps suspend IDs to transactions suspended and not yet
	// resumed or voided.
	Parked map[string]*ledger.Transaction

	// Finished counts transactions that reached a terminal state.
	Finished int

	// LastSequence is the final WAL sequence number observed.
	LastSequence uint64

	// MaxHandle is the highest transaction handle observed.
	MaxHandle uint64
}

// Replay folds every record of the log at path into a ReplayState. Used for
// startup recovery and by the CLI replay command; it never mutates the log.
func Replay(path string) (*ReplayState, error) {
	state := &ReplayState{
		Active: make(map[uint64]*ledger.Transaction),
		Parked: make(map[string]*ledger.Transaction),
	}

	// A log that does not exist yet is an empty history, not an error.
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return state, nil
	}

	err := wal.Read(path, func(rec wal.Record) error {
		if err := state.apply(rec); err != nil {
			return fmt.Errorf("seq %d op %s: %w", rec.Sequence, rec.Op, err)
		}
		state.LastSequence = rec.Sequence
		if rec.Handle > state.MaxHandle {
			state.MaxHandle = rec.Handle
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	return state, nil
}

func (st *ReplayState) apply(rec wal.Record) error {
	now := time.Unix(0, rec.TimestampNanos).UTC()

	switch rec.Op {
	case wal.OpBeginTransaction:
		var p beginPayload
		if err := unmarshalPayload(rec.Payload, &p); err != nil {
			return err
		}
		currency, err := money.NewCurrency(p.CurrencyCode, p.DecimalPlaces)
		if err != nil {
			return err
		}
		st.Active[rec.Handle] = ledger.New(rec.Handle, p.StoreID, currency, now)
		return nil

	case wal.OpAddLine:
		var p addLinePayload
		if err := unmarshalPayload(rec.Payload, &p); err != nil {
			return err
		}
		tx, err := st.building(rec.Handle)
		if err != nil {
			return err
		}
		_, err = tx.AddLine(p.SKU, p.Quantity, p.UnitMinor, p.OperatorID, now)
		return err

	case wal.OpVoidLine:
		var p voidLinePayload
		if err := unmarshalPayload(rec.Payload, &p); err != nil {
			return err
		}
		tx, err := st.building(rec.Handle)
		if err != nil {
			return err
		}
		_, err = tx.VoidLine(p.LineNumber, p.Reason, p.OperatorID, now)
		return err

	case wal.OpUpdateQuantity:
		var p updateQuantityPayload
		if err := unmarshalPayload(rec.Payload, &p); err != nil {
			return err
		}
		tx, err := st.building(rec.Handle)
		if err != nil {
			return err
		}
		_, err = tx.UpdateLineQuantity(p.LineNumber, p.NewQuantity, p.OperatorID, now)
		return err

	case wal.OpAddTender:
		var p tenderPayload
		if err := unmarshalPayload(rec.Payload, &p); err != nil {
			return err
		}
		tx, err := st.building(rec.Handle)
		if err != nil {
			return err
		}
		return tx.AddTender(p.AmountMinor, now)

	case wal.OpCommit:
		tx, err := st.building(rec.Handle)
		if err != nil {
			return err
		}
		if err := tx.Transition(ledger.StateCommitting, now); err != nil {
			return err
		}
		if err := tx.Transition(ledger.StateCommitted, now); err != nil {
			return err
		}
		delete(st.Active, rec.Handle)
		st.Finished++
		return nil

	case wal.OpAbort:
		tx, err := st.building(rec.Handle)
		if err != nil {
			return err
		}
		if err := tx.Transition(ledger.StateAborting, now); err != nil {
			return err
		}
		if err := tx.Transition(ledger.StateAborted, now); err != nil {
			return err
		}
		delete(st.Active, rec.Handle)
		st.Finished++
		return nil

	case wal.OpTimeout:
		tx, err := st.building(rec.Handle)
		if err != nil {
			return err
		}
		if err := tx.Transition(ledger.StateTimedOut, now); err != nil {
			return err
		}
		delete(st.Active, rec.Handle)
		st.Finished++
		return nil

	case wal.OpSuspend:
		var p suspendPayload
		if err := unmarshalPayload(rec.Payload, &p); err != nil {
			return err
		}
		tx, err := st.building(rec.Handle)
		if err != nil {
			return err
		}
		if err := tx.Transition(ledger.StateSuspended, now); err != nil {
			return err
		}
		delete(st.Active, rec.Handle)
		st.Parked[p.SuspendID] = tx
		return nil

	case wal.OpResume:
		var p resumePayload
		if err := unmarshalPayload(rec.Payload, &p); err != nil {
			return err
		}
		tx, ok := st.Parked[p.SuspendID]
		if !ok {
			return fmt.Errorf("resume of unknown suspend id %s", p.SuspendID)
		}
		if err := tx.Transition(ledger.StateResuming, now); err != nil {
			return err
		}
		if err := tx.Transition(ledger.StateBuilding, now); err != nil {
			return err
		}
		tx.Handle = rec.Handle
		delete(st.Parked, p.SuspendID)
		st.Active[rec.Handle] = tx
		return nil

	case wal.OpVoidSuspended:
		var p voidSuspendedPayload
		if err := unmarshalPayload(rec.Payload, &p); err != nil {
			return err
		}
		tx, ok := st.Parked[p.SuspendID]
		if !ok {
			return fmt.Errorf("void of unknown suspend id %s", p.SuspendID)
		}
		if err := tx.Transition(ledger.StateAborted, now); err != nil {
			return err
		}
		delete(st.Parked, p.SuspendID)
		st.Finished++
		return nil
	}

	return fmt.Errorf("unknown operation type %d", uint8(rec.Op))
}

func (st *ReplayState) building(handle uint64) (*ledger.Transaction, error) {
	tx, ok := st.Active[handle]
	if !ok {
		return nil, fmt.Errorf("handle %d not active", handle)
	}
	return tx, nil
}

// recover rebuilds in-memory state from the WAL at startup and reconciles
// the suspend store against the replayed history: rows whose suspend was
// never durably recorded (a crash between park and append) are removed.
func (s *Store) recover() error {
	state, err := Replay(s.cfg.WALPath())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDurabilityUnavailable, err)
	}

	s.active = state.Active
	if state.MaxHandle >= s.nextHandle {
		s.nextHandle = state.MaxHandle + 1
	}

	records, err := s.suspended.List(context.Background())
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	for _, rec := range records {
		if _, ok := state.Parked[rec.SuspendID]; ok {
			continue
		}
		s.logger.Warn("removing suspend record with no durable suspend entry",
			slog.String("suspend_id", rec.SuspendID),
			slog.Uint64("original_handle", rec.OriginalHandle))
		if err := s.suspended.Delete(context.Background(), rec.SuspendID); err != nil {
			return fmt.Errorf("recover: reconcile %s: %w", rec.SuspendID, err)
		}
	}
	return nil
}
