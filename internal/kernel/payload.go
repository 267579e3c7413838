package kernel

import (
	"encoding/json"
	"fmt"
	"time"
)

// WAL payloads. These are part of the on-disk format: fields are additive
// only, and every payload must stay decodable by replay forever.

type beginPayload struct {
	StoreID       string `json:"store_id"`
	CurrencyCode  string `json:"currency_code"`
	DecimalPlaces uint8  `json:"decimal_places"`
}

type addLinePayload struct {
	SKU        string `json:"sku"`
	Quantity   int32  `json:"quantity"`
	UnitMinor  int64  `json:"unit_minor"`
	OperatorID string `json:"operator_id,omitempty"`
}

type voidLinePayload struct {
	LineNumber uint32 `json:"line_number"`
	Reason     string `json:"reason"`
	OperatorID string `json:"operator_id,omitempty"`
}

type updateQuantityPayload struct {
	LineNumber  uint32 `json:"line_number"`
	NewQuantity int32  `json:"new_quantity"`
	OperatorID  string `json:"operator_id,omitempty"`
}

type tenderPayload struct {
	AmountMinor int64 `json:"amount_minor"`
}

type abortPayload struct {
	Reason string `json:"reason"`
}

type suspendPayload struct {
	SuspendID  string    `json:"suspend_id"`
	OperatorID string    `json:"operator_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type resumePayload struct {
	SuspendID      string `json:"suspend_id"`
	OriginalHandle uint64 `json:"original_handle"`
	OperatorID     string `json:"operator_id,omitempty"`
}

type voidSuspendedPayload struct {
	SuspendID  string `json:"suspend_id"`
	Reason     string `json:"reason"`
	OperatorID string `json:"operator_id,omitempty"`
}

func marshalPayload(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}

func unmarshalPayload(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}
