package ledger

import "time"

// EntryType classifies a ledger entry.
type EntryType string

const (
	// EntrySale is an original sale entry with positive quantity.
	EntrySale EntryType = "SALE"

	// EntryVoid is a reversing entry carrying the negated quantity of the
	// sale it references. The original entry is never modified.
	EntryVoid EntryType = "VOID"

	// EntryAdjustment carries only the signed delta needed to move a line
	// to a new effective quantity.
	EntryAdjustment EntryType = "ADJUSTMENT"
)

// Entry is one immutable record in a transaction's ledger.
//
// Line numbers start at 1, are unique within a transaction, and are never
// reused or deleted. Correction is always additive: a void or adjustment is a
// new entry pointing back at the original through ReferencesLine.
type Entry struct {
	LineNumber     uint32    `json:"line_number"`
	SKU            string    `json:"sku"`
	Quantity       int32     `json:"quantity"`
	UnitMinor      int64     `json:"unit_minor"`
	Type           EntryType `json:"entry_type"`
	VoidReason     string    `json:"void_reason,omitempty"`
	ReferencesLine uint32    `json:"references_line,omitempty"` // 0 = none
	Timestamp      time.Time `json:"timestamp"`
	OperatorID     string    `json:"operator_id,omitempty"`
}

// SignedMinor is the entry's contribution to the transaction total.
func (e Entry) SignedMinor() int64 {
	return int64(e.Quantity) * e.UnitMinor
}

// AffectsLine reports whether the entry contributes to the effective quantity
// of the given original line, either by being it or by referencing it.
func (e Entry) AffectsLine(lineNumber uint32) bool {
	return e.LineNumber == lineNumber || e.ReferencesLine == lineNumber
}
