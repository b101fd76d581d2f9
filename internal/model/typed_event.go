package model

import "encoding/json"

// Event names.
const (
	EventDeposit  = "deposit"
	EventSwap     = "swap"
	EventWithdraw = "withdraw"
)

// PoolEvent is a committed pool mutation.
type PoolEvent struct {
	Pool      string      `json:"pool"`
	EventName string      `json:"event_name"`
	Seq       uint64      `json:"seq"`
	Timestamp string      `json:"timestamp"`
	Decoded   interface{} `json:"decoded"`
}

// PoolEventRecord is the JSON representation read back from a journal.
type PoolEventRecord struct {
	Pool      string          `json:"pool"`
	EventName string          `json:"event_name"`
	Seq       uint64          `json:"seq"`
	Timestamp string          `json:"timestamp"`
	Decoded   json.RawMessage `json:"decoded"`
}
