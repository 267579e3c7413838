// Package boundary is the only code that accepts untrusted host input. It
// validates lengths and encodings, normalizes text, forwards to the kernel
// store, and answers with stable numeric status codes plus out-values. No
// error text and no panic ever crosses it; unexpected failures become
// StatusInternalError with the detail retained in the host-side log.
package boundary

import (
	"fmt"
	"log/slog"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/tillworks/poskernel/internal/kernel"
	"github.com/tillworks/poskernel/internal/ledger"
)

// Input length caps. Foreign callers get ValidationFailed past these, never
// an allocation proportional to whatever they sent.
const (
	maxSKULen      = 64
	maxStoreIDLen  = 32
	maxCurrencyLen = 8
	maxReasonLen   = 256
	maxOperatorLen = 64
	maxSuspendID   = 64
)

// Terminal is the handle-based surface one host holds for one terminal.
type Terminal struct {
	store  *kernel.Store
	logger *slog.Logger
}

// New wraps an open kernel store. The logger receives the detail of every
// internal error and recovered panic; callers see only status codes.
func New(store *kernel.Store, logger *slog.Logger) *Terminal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Terminal{store: store, logger: logger}
}

// Totals is the out-value of GetTotals. State is the stable numeric state
// code, not a string.
type Totals struct {
	TotalMinor    int64
	TenderedMinor int64
	ChangeMinor   int64
	State         int32
}

// LineItem is the out-value of GetLineItem.
type LineItem struct {
	LineNumber     uint32
	SKU            string
	Quantity       int32
	UnitMinor      int64
	EntryType      int32
	ReferencesLine uint32
}

// Entry type codes, stable like status codes.
const (
	entrySaleCode       int32 = 0
	entryVoidCode       int32 = 1
	entryAdjustmentCode int32 = 2
)

// SuspendedSummary is one row of ListSuspended.
type SuspendedSummary struct {
	SuspendID      string
	OriginalHandle uint64
	TotalMinor     int64
	ExpiresAtNanos int64
}

// Version copies the kernel version string into dst and returns the number
// of bytes written. A dst too small for the whole string gets
// StatusInsufficientBuffer and the required length.
func (t *Terminal) Version(dst []byte) (n int, st Status) {
	defer t.recover("version", &st)
	if len(dst) < len(kernel.Version) {
		return len(kernel.Version), StatusInsufficientBuffer
	}
	return copy(dst, kernel.Version), StatusOk
}

// BeginTransaction starts a sale and returns its handle.
func (t *Terminal) BeginTransaction(storeID, currency string, decimalPlaces uint8) (handle uint64, st Status) {
	defer t.recover("begin_transaction", &st)
	storeID, ok := cleanRequired(storeID, maxStoreIDLen)
	if !ok {
		return kernel.InvalidHandle, StatusValidationFailed
	}
	currency, ok = cleanRequired(currency, maxCurrencyLen)
	if !ok {
		return kernel.InvalidHandle, StatusValidationFailed
	}
	handle, err := t.store.BeginTransaction(storeID, currency, decimalPlaces)
	return handle, t.status("begin_transaction", err)
}

// AddLine appends a sale entry and returns its line number.
func (t *Terminal) AddLine(handle uint64, sku string, quantity int32, unitMinor int64, operatorID string) (line uint32, st Status) {
	defer t.recover("add_line", &st)
	sku, ok := cleanRequired(sku, maxSKULen)
	if !ok {
		return 0, StatusValidationFailed
	}
	operatorID, ok = cleanOptional(operatorID, maxOperatorLen)
	if !ok {
		return 0, StatusValidationFailed
	}
	line, err := t.store.AddLine(handle, sku, quantity, unitMinor, operatorID)
	return line, t.status("add_line", err)
}

// VoidLine reverses a sale entry and returns the void entry's line number.
func (t *Terminal) VoidLine(handle uint64, lineNumber uint32, reason, operatorID string) (voidLine uint32, st Status) {
	defer t.recover("void_line", &st)
	reason, ok := cleanRequired(reason, maxReasonLen)
	if !ok {
		return 0, StatusValidationFailed
	}
	operatorID, ok = cleanOptional(operatorID, maxOperatorLen)
	if !ok {
		return 0, StatusValidationFailed
	}
	voidLine, err := t.store.VoidLine(handle, lineNumber, reason, operatorID)
	return voidLine, t.status("void_line", err)
}

// UpdateLineQuantity moves a line to a new effective quantity.
func (t *Terminal) UpdateLineQuantity(handle uint64, lineNumber uint32, newQuantity int32, operatorID string) (st Status) {
	defer t.recover("update_line_quantity", &st)
	operatorID, ok := cleanOptional(operatorID, maxOperatorLen)
	if !ok {
		return StatusValidationFailed
	}
	err := t.store.UpdateLineQuantity(handle, lineNumber, newQuantity, operatorID)
	return t.status("update_line_quantity", err)
}

// AddCashTender records a cash payment in minor units.
func (t *Terminal) AddCashTender(handle uint64, amountMinor int64) (st Status) {
	defer t.recover("add_cash_tender", &st)
	return t.status("add_cash_tender", t.store.AddCashTender(handle, amountMinor))
}

// GetTotals reports the transaction's fold results and state code.
func (t *Terminal) GetTotals(handle uint64) (out Totals, st Status) {
	defer t.recover("get_totals", &st)
	totals, err := t.store.GetTotals(handle)
	if err != nil {
		return Totals{}, t.status("get_totals", err)
	}
	return Totals{
		TotalMinor:    totals.TotalMinor,
		TenderedMinor: totals.TenderedMinor,
		ChangeMinor:   totals.ChangeMinor,
		State:         totals.State.Code(),
	}, StatusOk
}

// GetLineCount reports how many ledger entries the transaction holds.
func (t *Terminal) GetLineCount(handle uint64) (count uint32, st Status) {
	defer t.recover("get_line_count", &st)
	count, err := t.store.GetLineCount(handle)
	return count, t.status("get_line_count", err)
}

// GetLineItem returns one ledger entry by line number.
func (t *Terminal) GetLineItem(handle uint64, lineNumber uint32) (out LineItem, st Status) {
	defer t.recover("get_line_item", &st)
	entry, err := t.store.GetLineItem(handle, lineNumber)
	if err != nil {
		return LineItem{}, t.status("get_line_item", err)
	}
	return LineItem{
		LineNumber:     entry.LineNumber,
		SKU:            entry.SKU,
		Quantity:       entry.Quantity,
		UnitMinor:      entry.UnitMinor,
		EntryType:      entryTypeCode(entry.Type),
		ReferencesLine: entry.ReferencesLine,
	}, StatusOk
}

// CurrencyDecimalPlaces reports the transaction currency's decimal places.
func (t *Terminal) CurrencyDecimalPlaces(handle uint64) (decimals uint8, st Status) {
	defer t.recover("currency_decimal_places", &st)
	decimals, err := t.store.CurrencyDecimalPlaces(handle)
	return decimals, t.status("currency_decimal_places", err)
}

// Suspend parks a transaction and copies the suspend identifier into dst.
// Returns the number of bytes written, or the required length with
// StatusInsufficientBuffer. The suspend happened either way only on Ok.
func (t *Terminal) Suspend(handle uint64, operatorID, reason string, dst []byte) (n int, st Status) {
	defer t.recover("suspend", &st)
	operatorID, ok := cleanOptional(operatorID, maxOperatorLen)
	if !ok {
		return 0, StatusValidationFailed
	}
	reason, ok = cleanOptional(reason, maxReasonLen)
	if !ok {
		return 0, StatusValidationFailed
	}
	// uuid strings are 36 bytes; reject the undersized buffer before the
	// kernel parks anything.
	if len(dst) < 36 {
		return 36, StatusInsufficientBuffer
	}
	suspendID, err := t.store.Suspend(handle, operatorID, reason)
	if err != nil {
		return 0, t.status("suspend", err)
	}
	if len(dst) < len(suspendID) {
		return len(suspendID), StatusInsufficientBuffer
	}
	return copy(dst, suspendID), StatusOk
}

// Resume re-hydrates a suspended transaction under a new handle.
func (t *Terminal) Resume(suspendID, operatorID string) (handle uint64, st Status) {
	defer t.recover("resume", &st)
	suspendID, ok := cleanRequired(suspendID, maxSuspendID)
	if !ok {
		return kernel.InvalidHandle, StatusValidationFailed
	}
	operatorID, ok = cleanOptional(operatorID, maxOperatorLen)
	if !ok {
		return kernel.InvalidHandle, StatusValidationFailed
	}
	handle, err := t.store.Resume(suspendID, operatorID)
	return handle, t.status("resume", err)
}

// VoidSuspended aborts a parked transaction without resuming it.
func (t *Terminal) VoidSuspended(suspendID, reason, operatorID string) (st Status) {
	defer t.recover("void_suspended", &st)
	suspendID, ok := cleanRequired(suspendID, maxSuspendID)
	if !ok {
		return StatusValidationFailed
	}
	reason, ok = cleanOptional(reason, maxReasonLen)
	if !ok {
		return StatusValidationFailed
	}
	operatorID, ok = cleanOptional(operatorID, maxOperatorLen)
	if !ok {
		return StatusValidationFailed
	}
	return t.status("void_suspended", t.store.VoidSuspended(suspendID, reason, operatorID))
}

// ListSuspended summarizes every parked transaction, oldest first.
func (t *Terminal) ListSuspended() (out []SuspendedSummary, st Status) {
	defer t.recover("list_suspended", &st)
	records, err := t.store.ListSuspended()
	if err != nil {
		return nil, t.status("list_suspended", err)
	}
	out = make([]SuspendedSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, SuspendedSummary{
			SuspendID:      rec.SuspendID,
			OriginalHandle: rec.OriginalHandle,
			TotalMinor:     rec.Transaction.Totals().TotalMinor,
			ExpiresAtNanos: rec.ExpiresAt.UnixNano(),
		})
	}
	return out, StatusOk
}

// Commit makes the transaction final.
func (t *Terminal) Commit(handle uint64) (st Status) {
	defer t.recover("commit", &st)
	return t.status("commit", t.store.Commit(handle))
}

// Abort discards the transaction with a reason.
func (t *Terminal) Abort(handle uint64, reason string) (st Status) {
	defer t.recover("abort", &st)
	reason, ok := cleanOptional(reason, maxReasonLen)
	if !ok {
		return StatusValidationFailed
	}
	return t.status("abort", t.store.Abort(handle, reason))
}

func (t *Terminal) status(op string, err error) Status {
	st := statusOf(err)
	if st == StatusInternalError && err != nil {
		t.logger.Error("boundary operation failed",
			slog.String("op", op),
			slog.String("error", err.Error()))
	}
	return st
}

// recover converts a panic into StatusInternalError. The stack stays in the
// host-side log; the caller sees only the code.
func (t *Terminal) recover(op string, st *Status) {
	if r := recover(); r != nil {
		t.logger.Error("panic recovered at boundary",
			slog.String("op", op),
			slog.String("panic", fmt.Sprint(r)))
		*st = StatusInternalError
	}
}

// cleanRequired validates and NFC-normalizes a mandatory string input.
func cleanRequired(s string, maxLen int) (string, bool) {
	if s == "" {
		return "", false
	}
	return cleanOptional(s, maxLen)
}

// cleanOptional accepts empty input but still rejects oversized or
// malformed encodings.
func cleanOptional(s string, maxLen int) (string, bool) {
	if len(s) > maxLen {
		return "", false
	}
	if !utf8.ValidString(s) {
		return "", false
	}
	return norm.NFC.String(s), true
}

func entryTypeCode(entryType ledger.EntryType) int32 {
	switch entryType {
	case ledger.EntryVoid:
		return entryVoidCode
	case ledger.EntryAdjustment:
		return entryAdjustmentCode
	default:
		return entrySaleCode
	}
}
