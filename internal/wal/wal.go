// Package wal implements the kernel's write-ahead log: a flat, append-only
// file of checksummed records, synced to physical storage before any append
// is acknowledged.
//
// The log is the atomicity boundary of the whole kernel. An operation whose
// record cannot be made durable must not be applied in memory, so Append
// returns only after fsync has succeeded. Sequence numbers are gap-free and
// strictly increasing across the whole log; a gap or checksum mismatch on
// scan signals corruption.
package wal

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// FileName is the WAL file name inside a terminal's data directory.
const FileName = "wal.log"

// WAL is an append-only, fsync-before-acknowledge log over a single file.
//
// Thread-safety: all methods are safe for concurrent use; appends serialize
// on an internal mutex.
type WAL struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	nextSeq uint64
	size    int64
	logger  *slog.Logger
}

// Open opens or creates the log at path, scans any existing records to
// validate integrity, and positions the next sequence number after the last
// durable record. A corrupt log refuses to open; operating on an unprovable
// history would be worse than refusing to start.
func Open(path string, logger *slog.Logger) (*WAL, error) {
	if logger == nil {
		logger = slog.Default()
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}

	lastSeq, size, err := scan(file, nil)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	if _, err := file.Seek(size, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("open wal %s: seek: %w", path, err)
	}

	return &WAL{
		file:    file,
		path:    path,
		nextSeq: lastSeq + 1,
		size:    size,
		logger:  logger.With(slog.String("wal", path)),
	}, nil
}

// Append writes one record and forces it to physical storage before
// returning its sequence number. On any failure the in-flight bytes are
// truncated away so the on-disk log stays well-formed, and the caller must
// not apply the corresponding in-memory mutation.
func (w *WAL) Append(handle uint64, op OpType, payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec := Record{
		Sequence:       w.nextSeq,
		TimestampNanos: time.Now().UTC().UnixNano(),
		Handle:         handle,
		Op:             op,
		Payload:        payload,
	}
	buf, err := encode(rec)
	if err != nil {
		return 0, fmt.Errorf("append seq %d: %w", rec.Sequence, err)
	}

	if _, err := w.file.Write(buf); err != nil {
		w.logger.Error("wal write failed",
			slog.Uint64("handle", handle),
			slog.String("op", op.String()),
			slog.Uint64("seq", rec.Sequence),
			slog.String("error", err.Error()))
		w.rollback()
		return 0, fmt.Errorf("append seq %d op %s: write: %w", rec.Sequence, op, err)
	}
	if err := w.file.Sync(); err != nil {
		w.logger.Error("wal sync failed",
			slog.Uint64("handle", handle),
			slog.String("op", op.String()),
			slog.Uint64("seq", rec.Sequence),
			slog.String("error", err.Error()))
		w.rollback()
		return 0, fmt.Errorf("append seq %d op %s: sync: %w", rec.Sequence, op, err)
	}

	w.size += int64(len(buf))
	w.nextSeq++
	return rec.Sequence, nil
}

// rollback drops unacknowledged bytes after a failed append. Best effort: if
// the truncate itself fails the next Open's integrity scan will catch the
// ragged tail.
func (w *WAL) rollback() {
	if err := w.file.Truncate(w.size); err != nil {
		w.logger.Error("wal rollback truncate failed", slog.String("error", err.Error()))
		return
	}
	if _, err := w.file.Seek(w.size, io.SeekStart); err != nil {
		w.logger.Error("wal rollback seek failed", slog.String("error", err.Error()))
	}
}

// Sync forces buffered data to physical storage. Exposed for callers that
// batch several logical writes and want an explicit durability point.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		w.logger.Error("wal explicit sync failed", slog.String("error", err.Error()))
		return fmt.Errorf("sync wal %s: %w", w.path, err)
	}
	return nil
}

// NextSequence returns the sequence number the next append will use.
func (w *WAL) NextSequence() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextSeq
}

// Close syncs and closes the log file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	w.file = nil
	if syncErr != nil {
		return fmt.Errorf("close wal %s: sync: %w", w.path, syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close wal %s: %w", w.path, closeErr)
	}
	return nil
}
