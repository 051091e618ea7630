package statusapi

import (
	"time"

	"github.com/shopspring/decimal"

	"hedgeengine/pkg/types"
)

// Snapshot is the read-only view of engine state served over HTTP and
// pushed to WebSocket clients. It never carries anything a client could use
// to mutate an operation.
type Snapshot struct {
	Timestamp time.Time        `json:"timestamp"`
	Active    []OperationView  `json:"active"`
}

// OperationView is one operation row, trimmed to what an observer needs.
type OperationView struct {
	ID               int64           `json:"id"`
	ChatID           string          `json:"chat_id"`
	OperationType    string          `json:"operation_type"`
	BaseSymbol       string          `json:"base_symbol"`
	Status           string          `json:"status"`
	TargetSpotQty    decimal.Decimal `json:"target_spot_qty"`
	SpotFilledQty    decimal.Decimal `json:"spot_filled_qty"`
	TargetFuturesQty decimal.Decimal `json:"target_futures_qty"`
	FuturesFilledQty decimal.Decimal `json:"futures_filled_qty"`
	StartTimestamp   time.Time       `json:"start_timestamp"`
	ErrorMessage     string          `json:"error_message,omitempty"`
}

func viewFromRecord(rec types.OperationRecord) OperationView {
	return OperationView{
		ID:               rec.ID,
		ChatID:           rec.ChatID,
		OperationType:    string(rec.OperationType),
		BaseSymbol:       rec.BaseSymbol,
		Status:           string(rec.Status),
		TargetSpotQty:    rec.TargetSpotQty,
		SpotFilledQty:    rec.SpotFilledQty,
		TargetFuturesQty: rec.TargetFuturesQty,
		FuturesFilledQty: rec.FuturesFilledQty,
		StartTimestamp:   rec.StartTimestamp,
		ErrorMessage:     rec.ErrorMessage,
	}
}

// Event is the envelope pushed to WebSocket clients; Type discriminates
// Data's shape. Today only "snapshot" is emitted.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
