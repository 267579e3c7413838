package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tillworks/poskernel/internal/ledger"
	"github.com/tillworks/poskernel/internal/wal"
)

// SweepResult reports what one sweep pass did.
type SweepResult struct {
	TimedOut     int
	VoidedParked int
}

// SweepOnce runs one pass of the inactivity sweep: stale Building
// transactions become TimedOut and expired suspended records are
// auto-voided. Each timeout is WAL-logged before it applies, like any other
// mutation; a transaction whose timeout record cannot be made durable stays
// Building and is retried next pass.
//
// SweepOnce holds the write lock, so a mutation racing the sweep sees
// either the pre-sweep or post-sweep state, never a partial one.
func (s *Store) SweepOnce() (SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result SweepResult
	if s.closed {
		return result, ErrClosed
	}

	now, err := s.clk.Now()
	if err != nil {
		// Conservative: without a trustworthy clock nothing is expired.
		s.logger.Warn("clock read failed during sweep; skipping pass",
			slog.String("error", err.Error()))
		return result, nil
	}

	cutoff := now.Add(-s.cfg.InactivityTimeout)
	for handle, tx := range s.active {
		if !tx.InactiveSince(cutoff) {
			continue
		}
		if _, err := s.log.Append(handle, wal.OpTimeout, nil); err != nil {
			s.logger.Error("timeout log append failed; leaving transaction active",
				slog.Uint64("handle", handle),
				slog.String("error", err.Error()))
			continue
		}
		if err := tx.Transition(ledger.StateTimedOut, now); err != nil {
			return result, fmt.Errorf("sweep: %w", err)
		}
		delete(s.active, handle)
		result.TimedOut++
		s.logger.Info("transaction timed out",
			slog.Uint64("handle", handle),
			slog.Time("last_activity", tx.LastActivity))
	}

	expired, err := s.suspended.ListExpired(context.Background(), now)
	if err != nil {
		return result, fmt.Errorf("sweep: %w", err)
	}
	for _, rec := range expired {
		if err := s.voidSuspendedLocked(rec.SuspendID, "suspend expired", ""); err != nil {
			s.logger.Error("expired suspend void failed",
				slog.String("suspend_id", rec.SuspendID),
				slog.String("error", err.Error()))
			continue
		}
		result.VoidedParked++
	}

	return result, nil
}

// RunSweeper runs the periodic sweep until ctx is cancelled. Hosts that
// embed the kernel start this in its own goroutine.
func (s *Store) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(); err != nil {
				if errors.Is(err, ErrClosed) {
					return
				}
				s.logger.Error("sweep pass failed", slog.String("error", err.Error()))
			}
		}
	}
}
