// internal/storage/models.go
package storage

// Event is one committed contract log. (TxHash, LogIndex) is unique.
type Event struct {
	Seq       int64  `json:"seq"`
	TxHash    string `json:"tx_hash"`
	LogIndex  int64  `json:"log_index"`
	Height    int64  `json:"height"`
	Contract  string `json:"contract"`
	Name      string `json:"name"`
	Agent     string `json:"agent,omitempty"`
	Payload   string `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// Agent is the cached view of one registry agent. Amounts are base-10
// strings of base units.
type Agent struct {
	Address         string `json:"address"`
	LastPulseAt     int64  `json:"last_pulse_at"`
	Streak          int64  `json:"streak"`
	TotalBurned     string `json:"total_burned"`
	StakedAmount    string `json:"staked_amount"`
	StakeUnlockTime int64  `json:"stake_unlock_time"`
	Score           int64  `json:"score"`
	Tier            string `json:"tier"`
	UpdatedAt       int64  `json:"updated_at"`
}

// AgentPatch updates selected columns of an agent row. Nil fields are left
// unchanged; a missing row is created first.
type AgentPatch struct {
	Address         string
	LastPulseAt     *int64
	Streak          *int64
	TotalBurned     *string
	StakedAmount    *string
	StakeUnlockTime *int64
	Score           *int64
	Tier            *string
	UpdatedAt       int64
}
