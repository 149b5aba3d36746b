package client

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Status is the parsed liveness of one agent. Nil fields were absent from
// the response.
type Status struct {
	Address     string
	Alive       *bool
	LastPulseAt *int64 // unix seconds
	StreakCount *int64
	Raw         map[string]any
}

// Log is one committed log in a receipt.
type Log struct {
	Seq       uint64          `json:"seq"`
	TxHash    string          `json:"tx_hash"`
	LogIndex  uint            `json:"log_index"`
	Height    uint64          `json:"height"`
	Timestamp uint64          `json:"timestamp"`
	Contract  string          `json:"contract"`
	Name      string          `json:"name"`
	Event     json.RawMessage `json:"event"`
}

// Receipt is the result of a committed transaction.
type Receipt struct {
	TxHash    string `json:"tx_hash"`
	Sender    string `json:"sender"`
	Height    uint64 `json:"height"`
	Timestamp uint64 `json:"timestamp"`
	Logs      []Log  `json:"logs"`
}

// RevertError is a rejected transaction.
type RevertError struct {
	StatusCode int               `json:"-"`
	Message    string            `json:"error"`
	Reason     string            `json:"reason"`
	Details    map[string]string `json:"details"`
}

func (e *RevertError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + e.Details[k]
	}
	return fmt.Sprintf("HTTP %d: %s (%s)", e.StatusCode, e.Reason, strings.Join(parts, ", "))
}

// Breakdown is the component split of a reliability score.
type Breakdown struct {
	Streak uint64 `json:"streak"`
	Volume uint64 `json:"volume"`
	Stake  uint64 `json:"stake"`
	Total  uint64 `json:"total"`
}

// Reliability is the score of one agent.
type Reliability struct {
	Address   string    `json:"address"`
	Alive     bool      `json:"alive"`
	Score     uint64    `json:"score"`
	Tier      string    `json:"tier"`
	Verified  bool      `json:"verified"`
	Breakdown Breakdown `json:"breakdown"`
}
