package kernel

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillworks/poskernel/internal/clock"
	"github.com/tillworks/poskernel/internal/config"
	"github.com/tillworks/poskernel/internal/ledger"
	"github.com/tillworks/poskernel/internal/money"
	"github.com/tillworks/poskernel/internal/suspend"
	"github.com/tillworks/poskernel/internal/terminal"
	"github.com/tillworks/poskernel/internal/wal"
)

var testNow = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default("term-1", "S1", t.TempDir())
	cfg.InactivityTimeout = 15 * time.Minute
	cfg.SuspendExpiry = 4 * time.Hour
	return cfg
}

func openTestKernel(t *testing.T, cfg config.Config, opts ...Option) (*Store, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(testNow)
	s, err := Open(cfg, nil, append([]Option{WithClock(clk)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clk
}

// failingLog wraps a real WAL and injects append failures on demand.
type failingLog struct {
	inner Log
	fail  bool
}

func (f *failingLog) Append(handle uint64, op wal.OpType, payload []byte) (uint64, error) {
	if f.fail {
		return 0, errors.New("simulated sync failure")
	}
	return f.inner.Append(handle, op, payload)
}
func (f *failingLog) Sync() error  { return f.inner.Sync() }
func (f *failingLog) Close() error { return f.inner.Close() }

func TestBeginTransaction_AllocatesMonotonicHandles(t *testing.T) {
	s, _ := openTestKernel(t, testConfig(t))

	h1, err := s.BeginTransaction("S1", "SGD", 2)
	require.NoError(t, err)
	h2, err := s.BeginTransaction("S1", "SGD", 2)
	require.NoError(t, err)

	assert.NotEqual(t, InvalidHandle, h1)
	assert.Greater(t, h2, h1)
}

func TestBeginTransaction_RejectsBadCurrency(t *testing.T) {
	s, _ := openTestKernel(t, testConfig(t))
	_, err := s.BeginTransaction("S1", "S", 2)
	assert.Error(t, err)
}

// A full checkout: ring up, void, settle at zero balance, commit.
func TestCheckout_SGDScenario(t *testing.T) {
	s, _ := openTestKernel(t, testConfig(t))

	h, err := s.BeginTransaction("S1", "SGD", 2)
	require.NoError(t, err)

	line, err := s.AddLine(h, "KOPI_C", 1, 140, "op1")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), line)

	totals, err := s.GetTotals(h)
	require.NoError(t, err)
	assert.Equal(t, int64(140), totals.TotalMinor)
	assert.Equal(t, int64(0), totals.TenderedMinor)

	_, err = s.VoidLine(h, 1, "wrong item", "op1")
	require.NoError(t, err)

	totals, err = s.GetTotals(h)
	require.NoError(t, err)
	assert.Equal(t, int64(0), totals.TotalMinor)

	count, err := s.GetLineCount(h)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), count)

	require.NoError(t, s.AddCashTender(h, 0))
	require.NoError(t, s.Commit(h))

	// The handle is retired with the transaction.
	_, err = s.GetTotals(h)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdjustmentScenario(t *testing.T) {
	s, _ := openTestKernel(t, testConfig(t))

	h, err := s.BeginTransaction("S1", "SGD", 2)
	require.NoError(t, err)
	_, err = s.AddLine(h, "X", 3, 100, "")
	require.NoError(t, err)

	require.NoError(t, s.UpdateLineQuantity(h, 1, 5, "op1"))

	totals, err := s.GetTotals(h)
	require.NoError(t, err)
	assert.Equal(t, int64(500), totals.TotalMinor)
}

func TestZeroDecimalCurrency(t *testing.T) {
	s, _ := openTestKernel(t, testConfig(t))

	h, err := s.BeginTransaction("S1", "JPY", 0)
	require.NoError(t, err)
	_, err = s.AddLine(h, "ITEM", 1, 150, "")
	require.NoError(t, err)

	totals, err := s.GetTotals(h)
	require.NoError(t, err)
	assert.Equal(t, int64(150), totals.TotalMinor)

	decimals, err := s.CurrencyDecimalPlaces(h)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), decimals)
}

func TestGetLineItem(t *testing.T) {
	s, _ := openTestKernel(t, testConfig(t))

	h, err := s.BeginTransaction("S1", "SGD", 2)
	require.NoError(t, err)
	_, err = s.AddLine(h, "KOPI_C", 2, 140, "op1")
	require.NoError(t, err)

	entry, err := s.GetLineItem(h, 1)
	require.NoError(t, err)
	assert.Equal(t, "KOPI_C", entry.SKU)
	assert.Equal(t, int32(2), entry.Quantity)
	assert.Equal(t, ledger.EntrySale, entry.Type)

	_, err = s.GetLineItem(h, 9)
	assert.ErrorIs(t, err, ledger.ErrLineNotFound)
}

func TestUnknownHandle(t *testing.T) {
	s, _ := openTestKernel(t, testConfig(t))

	_, err := s.AddLine(404, "X", 1, 100, "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetTotals(InvalidHandle)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDurabilityAtomicity_FailedAppendLeavesStateUntouched(t *testing.T) {
	cfg := testConfig(t)
	w, err := wal.Open(cfg.WALPath(), nil)
	require.NoError(t, err)
	flog := &failingLog{inner: w}

	s, _ := openTestKernel(t, cfg, WithLog(flog))

	h, err := s.BeginTransaction("S1", "SGD", 2)
	require.NoError(t, err)
	_, err = s.AddLine(h, "KOPI_C", 1, 140, "")
	require.NoError(t, err)

	before, err := s.GetTotals(h)
	require.NoError(t, err)
	countBefore, err := s.GetLineCount(h)
	require.NoError(t, err)

	flog.fail = true
	_, err = s.AddLine(h, "TEH_O", 1, 120, "")
	assert.Error(t, err)
	err = s.AddCashTender(h, 500)
	assert.Error(t, err)
	_, err = s.VoidLine(h, 1, "r", "")
	assert.Error(t, err)
	err = s.Commit(h)
	assert.Error(t, err)

	after, err := s.GetTotals(h)
	require.NoError(t, err)
	countAfter, err := s.GetLineCount(h)
	require.NoError(t, err)

	assert.Equal(t, before, after, "observable state must be identical after failed appends")
	assert.Equal(t, countBefore, countAfter)
	assert.Equal(t, ledger.StateBuilding, after.State)

	// Recovery: once the log accepts writes again, the same mutations apply.
	flog.fail = false
	_, err = s.AddLine(h, "TEH_O", 1, 120, "")
	assert.NoError(t, err)
}

func TestTerminalExclusivity(t *testing.T) {
	cfg := testConfig(t)
	s, _ := openTestKernel(t, cfg)
	_ = s

	_, err := Open(cfg, nil, WithLocker(terminal.NewFileLocker(cfg.DataDir)))
	assert.ErrorIs(t, err, terminal.ErrAlreadyInUse)
}

func TestOpen_CorruptWALIsFatal(t *testing.T) {
	cfg := testConfig(t)
	s, _ := openTestKernel(t, cfg)
	h, err := s.BeginTransaction("S1", "SGD", 2)
	require.NoError(t, err)
	_, err = s.AddLine(h, "X", 1, 100, "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	corruptWAL(t, cfg.WALPath())

	_, err = Open(cfg, nil)
	assert.ErrorIs(t, err, ErrDurabilityUnavailable)
}

func TestRecovery_RestoresBuildingTransactions(t *testing.T) {
	cfg := testConfig(t)
	s, _ := openTestKernel(t, cfg)

	h1, err := s.BeginTransaction("S1", "SGD", 2)
	require.NoError(t, err)
	_, err = s.AddLine(h1, "KOPI_C", 1, 140, "op1")
	require.NoError(t, err)
	_, err = s.AddLine(h1, "TEH_O", 2, 120, "op1")
	require.NoError(t, err)
	require.NoError(t, s.UpdateLineQuantity(h1, 2, 3, "op1"))
	require.NoError(t, s.AddCashTender(h1, 200))

	h2, err := s.BeginTransaction("S1", "SGD", 2)
	require.NoError(t, err)
	_, err = s.AddLine(h2, "DONE", 1, 100, "")
	require.NoError(t, err)
	require.NoError(t, s.Commit(h2))

	wantTotals, err := s.GetTotals(h1)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, _ := openTestKernel(t, cfg)
	assert.Equal(t, 1, reopened.ActiveCount(), "only the Building transaction is restored")

	gotTotals, err := reopened.GetTotals(h1)
	require.NoError(t, err)
	assert.Equal(t, wantTotals.TotalMinor, gotTotals.TotalMinor)
	assert.Equal(t, wantTotals.TenderedMinor, gotTotals.TenderedMinor)

	// The committed transaction stays gone and its handle is never reused.
	_, err = reopened.GetTotals(h2)
	assert.ErrorIs(t, err, ErrNotFound)
	h3, err := reopened.BeginTransaction("S1", "SGD", 2)
	require.NoError(t, err)
	assert.Greater(t, h3, h2)
}

func TestSuspendAndResume(t *testing.T) {
	cfg := testConfig(t)
	s, clk := openTestKernel(t, cfg)

	h, err := s.BeginTransaction("S1", "SGD", 2)
	require.NoError(t, err)
	_, err = s.AddLine(h, "KOPI_C", 1, 140, "op1")
	require.NoError(t, err)

	suspendID, err := s.Suspend(h, "op1", "customer stepped away")
	require.NoError(t, err)
	assert.NotEmpty(t, suspendID)

	// Suspended transactions leave the active table.
	_, err = s.GetTotals(h)
	assert.ErrorIs(t, err, ErrNotFound)

	records, err := s.ListSuspended()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, suspendID, records[0].SuspendID)

	clk.Advance(time.Hour)

	newHandle, err := s.Resume(suspendID, "op2")
	require.NoError(t, err)
	assert.NotEqual(t, h, newHandle, "resume always issues a new handle")

	totals, err := s.GetTotals(newHandle)
	require.NoError(t, err)
	assert.Equal(t, int64(140), totals.TotalMinor)
	assert.Equal(t, ledger.StateBuilding, totals.State)

	// The record is consumed; a second resume fails.
	_, err = s.Resume(suspendID, "op2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResume_Expired(t *testing.T) {
	cfg := testConfig(t)
	s, clk := openTestKernel(t, cfg)

	h, err := s.BeginTransaction("S1", "SGD", 2)
	require.NoError(t, err)
	suspendID, err := s.Suspend(h, "op1", "lunch")
	require.NoError(t, err)

	clk.Advance(cfg.SuspendExpiry + time.Minute)

	_, err = s.Resume(suspendID, "op1")
	assert.ErrorIs(t, err, ErrSuspendExpired)
}

func TestResume_ClockFailureTreatedAsNotExpired(t *testing.T) {
	cfg := testConfig(t)
	s, clk := openTestKernel(t, cfg)

	h, err := s.BeginTransaction("S1", "SGD", 2)
	require.NoError(t, err)
	suspendID, err := s.Suspend(h, "op1", "lunch")
	require.NoError(t, err)

	// Expiry check answers conservatively on clock failure, but the resume
	// itself still needs a timestamp, so restore the clock for the rest.
	clk.Fail(errors.New("clock unavailable"))
	expired := s.suspendExpired(suspendRecordByID(t, s, suspendID))
	assert.False(t, expired)

	clk.Fail(nil)
	_, err = s.Resume(suspendID, "op1")
	assert.NoError(t, err)
}

func suspendRecordByID(t *testing.T, s *Store, suspendID string) suspend.Record {
	t.Helper()
	records, err := s.ListSuspended()
	require.NoError(t, err)
	for _, r := range records {
		if r.SuspendID == suspendID {
			return r
		}
	}
	t.Fatalf("suspend record %s not found", suspendID)
	return suspend.Record{}
}

func TestVoidSuspended(t *testing.T) {
	cfg := testConfig(t)
	s, _ := openTestKernel(t, cfg)

	h, err := s.BeginTransaction("S1", "SGD", 2)
	require.NoError(t, err)
	suspendID, err := s.Suspend(h, "op1", "hold")
	require.NoError(t, err)

	require.NoError(t, s.VoidSuspended(suspendID, "abandoned", "op2"))

	_, err = s.Resume(suspendID, "op2")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.VoidSuspended("nope", "r", ""), ErrNotFound)
}

func TestSuspend_SurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	s, _ := openTestKernel(t, cfg)

	h, err := s.BeginTransaction("S1", "SGD", 2)
	require.NoError(t, err)
	_, err = s.AddLine(h, "KOPI_C", 1, 140, "")
	require.NoError(t, err)
	suspendID, err := s.Suspend(h, "op1", "hold")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, _ := openTestKernel(t, cfg)
	newHandle, err := reopened.Resume(suspendID, "op1")
	require.NoError(t, err)

	totals, err := reopened.GetTotals(newHandle)
	require.NoError(t, err)
	assert.Equal(t, int64(140), totals.TotalMinor)
}

func TestSweep_TimesOutStaleTransactions(t *testing.T) {
	cfg := testConfig(t)
	s, clk := openTestKernel(t, cfg)

	stale, err := s.BeginTransaction("S1", "SGD", 2)
	require.NoError(t, err)

	clk.Advance(cfg.InactivityTimeout / 2)
	fresh, err := s.BeginTransaction("S1", "SGD", 2)
	require.NoError(t, err)

	clk.Advance(cfg.InactivityTimeout/2 + time.Minute)

	result, err := s.SweepOnce()
	require.NoError(t, err)
	assert.Equal(t, 1, result.TimedOut)

	// A mutation after the sweep gets a clean state error, never a
	// partial apply.
	_, err = s.AddLine(stale, "X", 1, 100, "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.AddLine(fresh, "X", 1, 100, "")
	assert.NoError(t, err)
}

func TestSweep_VoidsExpiredSuspended(t *testing.T) {
	cfg := testConfig(t)
	s, clk := openTestKernel(t, cfg)

	h, err := s.BeginTransaction("S1", "SGD", 2)
	require.NoError(t, err)
	suspendID, err := s.Suspend(h, "op1", "hold")
	require.NoError(t, err)

	clk.Advance(cfg.SuspendExpiry + time.Minute)

	result, err := s.SweepOnce()
	require.NoError(t, err)
	assert.Equal(t, 1, result.VoidedParked)

	_, err = s.Resume(suspendID, "op1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweep_ClockFailureSkipsPass(t *testing.T) {
	cfg := testConfig(t)
	s, clk := openTestKernel(t, cfg)

	_, err := s.BeginTransaction("S1", "SGD", 2)
	require.NoError(t, err)

	clk.Fail(errors.New("clock unavailable"))
	result, err := s.SweepOnce()
	require.NoError(t, err)
	assert.Zero(t, result.TimedOut)
	assert.Equal(t, 1, s.ActiveCount())
}

func TestClose_Idempotent(t *testing.T) {
	cfg := testConfig(t)
	s, _ := openTestKernel(t, cfg)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.BeginTransaction("S1", "SGD", 2)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Sync(), ErrClosed)
}

func TestUpdateLineQuantity_NoOpWritesNoRecord(t *testing.T) {
	cfg := testConfig(t)
	s, _ := openTestKernel(t, cfg)

	h, err := s.BeginTransaction("S1", "SGD", 2)
	require.NoError(t, err)
	_, err = s.AddLine(h, "X", 3, 100, "")
	require.NoError(t, err)

	require.NoError(t, s.UpdateLineQuantity(h, 1, 3, "op1"))

	totals, err := s.GetTotals(h)
	require.NoError(t, err)
	assert.Equal(t, int64(300), totals.TotalMinor)
	require.NoError(t, s.Close())

	// Only the begin and the add line reached the log.
	result, err := wal.Verify(cfg.WALPath())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Records)
}

func TestAddLine_OverflowRejectedBeforeLogging(t *testing.T) {
	cfg := testConfig(t)
	s, _ := openTestKernel(t, cfg)

	h, err := s.BeginTransaction("S1", "SGD", 2)
	require.NoError(t, err)
	_, err = s.AddLine(h, "BIG", 4, 1<<62, "")
	require.ErrorIs(t, err, money.ErrOverflow)

	count, err := s.GetLineCount(h)
	require.NoError(t, err)
	assert.Zero(t, count)
	require.NoError(t, s.Close())

	// The rejected line never became a durable record.
	result, err := wal.Verify(cfg.WALPath())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Records)
}

func corruptWAL(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	data[len(data)-3] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o600))
}
