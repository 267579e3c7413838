// Package terminal guards a terminal's on-disk data directory against
// concurrent kernel processes.
//
// Each terminal owns an isolated directory holding its write-ahead log,
// suspended-transaction store, and configuration, so multiple terminals can
// run as separate processes on one host without interference. Within one
// terminal directory there must be at most one live kernel process at a
// time; two writers against the same log file would corrupt it.
package terminal

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is the per-terminal lock marker inside the data directory.
const LockFileName = "terminal.lock"

// ErrAlreadyInUse reports that another live process holds the terminal.
// Callers must surface this as a hard failure, never retry silently.
var ErrAlreadyInUse = errors.New("terminal already in use")

// Locker is the minimal lock-acquisition surface the coordinator needs, so
// the underlying OS primitive can be swapped per platform.
type Locker interface {
	// TryLock attempts to acquire the lock without blocking. Returns false
	// with a nil error when the lock is held elsewhere.
	TryLock() (bool, error)
	// Unlock releases the lock.
	Unlock() error
}

// flockLocker adapts gofrs/flock to Locker. Advisory file locks are released
// by the OS when the holding process dies, so a crashed kernel never leaves
// a terminal permanently wedged.
type flockLocker struct {
	fl *flock.Flock
}

func (l *flockLocker) TryLock() (bool, error) { return l.fl.TryLock() }
func (l *flockLocker) Unlock() error          { return l.fl.Unlock() }

// NewFileLocker returns the default advisory-file-lock provider for a
// terminal data directory.
func NewFileLocker(dataDir string) Locker {
	return &flockLocker{fl: flock.New(filepath.Join(dataDir, LockFileName))}
}

// Coordinator holds the exclusive claim on one terminal's data directory.
type Coordinator struct {
	terminalID string
	dataDir    string
	locker     Locker
	logger     *slog.Logger
	held       bool
}

// Acquire creates the data directory if needed and takes the exclusive
// terminal lock. If another live process already holds it, Acquire fails
// with ErrAlreadyInUse.
func Acquire(terminalID, dataDir string, locker Locker, logger *slog.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("terminal %s: create data dir %s: %w", terminalID, dataDir, err)
	}
	if locker == nil {
		locker = NewFileLocker(dataDir)
	}

	locked, err := locker.TryLock()
	if err != nil {
		return nil, fmt.Errorf("terminal %s: acquire lock in %s: %w", terminalID, dataDir, err)
	}
	if !locked {
		return nil, fmt.Errorf("terminal %s: %w", terminalID, ErrAlreadyInUse)
	}

	logger.Info("terminal lock acquired",
		slog.String("terminal_id", terminalID),
		slog.String("data_dir", dataDir))

	return &Coordinator{
		terminalID: terminalID,
		dataDir:    dataDir,
		locker:     locker,
		logger:     logger,
		held:       true,
	}, nil
}

// Release gives up the terminal lock. Cleanup failures are logged but not
// escalated: a stale lock file is recoverable on next start.
func (c *Coordinator) Release() {
	if !c.held {
		return
	}
	c.held = false
	if err := c.locker.Unlock(); err != nil {
		c.logger.Warn("terminal lock release failed",
			slog.String("terminal_id", c.terminalID),
			slog.String("data_dir", c.dataDir),
			slog.String("error", err.Error()))
		return
	}
	c.logger.Info("terminal lock released", slog.String("terminal_id", c.terminalID))
}

// TerminalID returns the terminal this coordinator guards.
func (c *Coordinator) TerminalID() string { return c.terminalID }

// DataDir returns the guarded data directory.
func (c *Coordinator) DataDir() string { return c.dataDir }
