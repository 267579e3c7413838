// Package ledger implements the transaction aggregate: an append-only
// reversing-entry ledger with a strict lifecycle state machine.
//
// The aggregate is event-sourced. Totals and effective quantities are pure
// folds over the entry sequence; there is no separately maintained running
// total that could drift from the entries. The same fold serves live queries
// and write-ahead-log replay, so the two can never diverge.
//
// The aggregate holds no locks and performs no I/O. The kernel store mediates
// every mutation so it can pair the mutation with a durable log write first.
package ledger

import (
	"fmt"
	"time"

	"github.com/tillworks/poskernel/internal/money"
)

// Transaction is one in-progress sale.
type Transaction struct {
	Handle        uint64         `json:"handle"`
	StoreID       string         `json:"store_id"`
	Currency      money.Currency `json:"currency"`
	Entries       []Entry        `json:"entries"`
	TenderedMinor int64          `json:"tendered_minor"`
	State         State          `json:"state"`
	CreatedAt     time.Time      `json:"created_at"`
	LastActivity  time.Time      `json:"last_activity"`
}

// Totals is the result of the ledger fold.
type Totals struct {
	TotalMinor    int64
	TenderedMinor int64
	ChangeMinor   int64
	State         State
}

// New creates a Building transaction. The currency is immutable from here on.
func New(handle uint64, storeID string, currency money.Currency, now time.Time) *Transaction {
	return &Transaction{
		Handle:       handle,
		StoreID:      storeID,
		Currency:     currency,
		State:        StateBuilding,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// CheckAddLine validates an AddLine without mutating. The kernel runs these
// Check methods before the write-ahead record is made durable, so a rejected
// operation never reaches the log.
func (t *Transaction) CheckAddLine(sku string, quantity int32, unitMinor int64) error {
	if err := t.requireBuilding("add line"); err != nil {
		return err
	}
	if quantity <= 0 {
		return fmt.Errorf("add line %q qty %d: %w", sku, quantity, ErrInvalidQuantity)
	}
	if unitMinor < 0 {
		return fmt.Errorf("add line %q unit %d: %w", sku, unitMinor, ErrInvalidAmount)
	}
	contribution, err := money.MulMinor(unitMinor, int64(quantity))
	if err != nil {
		return fmt.Errorf("add line %q: %w", sku, err)
	}
	if _, err := money.AddMinor(t.Totals().TotalMinor, contribution); err != nil {
		return fmt.Errorf("add line %q: %w", sku, err)
	}
	return nil
}

// AddLine appends a Sale entry at the next line number.
func (t *Transaction) AddLine(sku string, quantity int32, unitMinor int64, operatorID string, now time.Time) (uint32, error) {
	if err := t.CheckAddLine(sku, quantity, unitMinor); err != nil {
		return 0, err
	}

	lineNumber := t.nextLineNumber()
	t.Entries = append(t.Entries, Entry{
		LineNumber: lineNumber,
		SKU:        sku,
		Quantity:   quantity,
		UnitMinor:  unitMinor,
		Type:       EntrySale,
		Timestamp:  now,
		OperatorID: operatorID,
	})
	t.LastActivity = now
	return lineNumber, nil
}

// CheckVoidLine validates a VoidLine without mutating.
func (t *Transaction) CheckVoidLine(lineNumber uint32) error {
	if err := t.requireBuilding("void line"); err != nil {
		return err
	}
	if _, err := t.saleEntry(lineNumber); err != nil {
		return err
	}
	for _, e := range t.Entries {
		if e.Type == EntryVoid && e.ReferencesLine == lineNumber {
			return fmt.Errorf("void line %d: %w", lineNumber, ErrAlreadyVoided)
		}
	}
	return nil
}

// VoidLine appends a reversing entry cancelling the Sale at lineNumber.
// The original entry stays in the ledger untouched.
func (t *Transaction) VoidLine(lineNumber uint32, reason, operatorID string, now time.Time) (uint32, error) {
	if err := t.CheckVoidLine(lineNumber); err != nil {
		return 0, err
	}

	original, err := t.saleEntry(lineNumber)
	if err != nil {
		return 0, err
	}

	voidLine := t.nextLineNumber()
	t.Entries = append(t.Entries, Entry{
		LineNumber:     voidLine,
		SKU:            original.SKU,
		Quantity:       -original.Quantity,
		UnitMinor:      original.UnitMinor,
		Type:           EntryVoid,
		VoidReason:     reason,
		ReferencesLine: lineNumber,
		Timestamp:      now,
		OperatorID:     operatorID,
	})
	t.LastActivity = now
	return voidLine, nil
}

// CheckUpdateLineQuantity validates an UpdateLineQuantity without mutating.
func (t *Transaction) CheckUpdateLineQuantity(lineNumber uint32, newQuantity int32) error {
	if err := t.requireBuilding("update quantity"); err != nil {
		return err
	}
	if newQuantity <= 0 {
		return fmt.Errorf("update line %d to qty %d: %w", lineNumber, newQuantity, ErrInvalidQuantity)
	}
	original, err := t.saleEntry(lineNumber)
	if err != nil {
		return err
	}
	delta := newQuantity - t.EffectiveQuantity(lineNumber)
	change, err := money.MulMinor(original.UnitMinor, int64(delta))
	if err != nil {
		return fmt.Errorf("update line %d: %w", lineNumber, err)
	}
	if _, err := money.AddMinor(t.Totals().TotalMinor, change); err != nil {
		return fmt.Errorf("update line %d: %w", lineNumber, err)
	}
	return nil
}

// UpdateLineQuantity appends an Adjustment entry carrying the delta between
// the line's current effective quantity and newQuantity. A newQuantity of
// zero or less is rejected: removal is a void, not an adjustment.
func (t *Transaction) UpdateLineQuantity(lineNumber uint32, newQuantity int32, operatorID string, now time.Time) (uint32, error) {
	if err := t.CheckUpdateLineQuantity(lineNumber, newQuantity); err != nil {
		return 0, err
	}

	original, err := t.saleEntry(lineNumber)
	if err != nil {
		return 0, err
	}

	effective := t.EffectiveQuantity(lineNumber)
	delta := newQuantity - effective
	if delta == 0 {
		// Already at the requested quantity; no entry to append.
		return lineNumber, nil
	}

	adjustmentLine := t.nextLineNumber()
	t.Entries = append(t.Entries, Entry{
		LineNumber:     adjustmentLine,
		SKU:            original.SKU,
		Quantity:       delta,
		UnitMinor:      original.UnitMinor,
		Type:           EntryAdjustment,
		VoidReason:     fmt.Sprintf("quantity changed from %d to %d", effective, newQuantity),
		ReferencesLine: lineNumber,
		Timestamp:      now,
		OperatorID:     operatorID,
	})
	t.LastActivity = now
	return adjustmentLine, nil
}

// CheckAddTender validates an AddTender without mutating.
func (t *Transaction) CheckAddTender(amountMinor int64) error {
	if err := t.requireBuilding("add tender"); err != nil {
		return err
	}
	if amountMinor < 0 {
		return fmt.Errorf("tender %d: %w", amountMinor, ErrInvalidAmount)
	}
	if _, err := money.AddMinor(t.TenderedMinor, amountMinor); err != nil {
		return fmt.Errorf("add tender: %w", err)
	}
	return nil
}

// AddTender records a tender payment in minor units.
func (t *Transaction) AddTender(amountMinor int64, now time.Time) error {
	if err := t.CheckAddTender(amountMinor); err != nil {
		return err
	}
	sum, err := money.AddMinor(t.TenderedMinor, amountMinor)
	if err != nil {
		return fmt.Errorf("add tender: %w", err)
	}
	t.TenderedMinor = sum
	t.LastActivity = now
	return nil
}

// Totals folds the full ledger into current totals. Sales, voids, and
// adjustments contribute their signed quantity directly, so the arithmetic
// self-cancels without special-casing entry types. The fold is a plain sum:
// every mutation is admitted only if the resulting total is representable,
// so no intermediate value here can overflow.
func (t *Transaction) Totals() Totals {
	var total int64
	for _, e := range t.Entries {
		total += e.SignedMinor()
	}
	var change int64
	if t.TenderedMinor >= total {
		change = t.TenderedMinor - total
	}
	return Totals{
		TotalMinor:    total,
		TenderedMinor: t.TenderedMinor,
		ChangeMinor:   change,
		State:         t.State,
	}
}

// EffectiveQuantity folds the signed quantities of every entry at or
// referencing lineNumber.
func (t *Transaction) EffectiveQuantity(lineNumber uint32) int32 {
	var qty int32
	for _, e := range t.Entries {
		if e.AffectsLine(lineNumber) {
			qty += e.Quantity
		}
	}
	return qty
}

// LineCount is the number of ledger entries, reversing entries included.
func (t *Transaction) LineCount() uint32 {
	return uint32(len(t.Entries))
}

// Entry returns the ledger entry at the given line number.
func (t *Transaction) Entry(lineNumber uint32) (Entry, error) {
	if lineNumber == 0 || int(lineNumber) > len(t.Entries) {
		return Entry{}, fmt.Errorf("line %d: %w", lineNumber, ErrLineNotFound)
	}
	return t.Entries[lineNumber-1], nil
}

// Transition moves the transaction to a new lifecycle state, enforcing the
// legal state graph.
func (t *Transaction) Transition(to State, now time.Time) error {
	if !canTransition(t.State, to) {
		return newStateError(fmt.Sprintf("transition to %s", to), t.State)
	}
	t.State = to
	t.LastActivity = now
	return nil
}

// InactiveSince reports whether the transaction has seen no activity since
// before the cutoff. Only Building transactions can go stale.
func (t *Transaction) InactiveSince(cutoff time.Time) bool {
	return t.State == StateBuilding && t.LastActivity.Before(cutoff)
}

func (t *Transaction) requireBuilding(op string) error {
	if t.State != StateBuilding {
		return newStateError(op, t.State)
	}
	return nil
}

func (t *Transaction) nextLineNumber() uint32 {
	return uint32(len(t.Entries)) + 1
}

func (t *Transaction) saleEntry(lineNumber uint32) (Entry, error) {
	for _, e := range t.Entries {
		if e.LineNumber == lineNumber && e.Type == EntrySale {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("line %d: %w", lineNumber, ErrLineNotFound)
}
