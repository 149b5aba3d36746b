package registry

import (
	"math/big"

	"github.com/ssd-technologies/agentpulse/internal/ledger"
)

// Pulse is emitted on every accepted pulse.
type Pulse struct {
	Agent       ledger.Address `json:"agent"`
	Amount      *big.Int       `json:"amount"`
	Timestamp   uint64         `json:"timestamp"`
	Streak      uint64         `json:"streak"`
	TotalBurned *big.Int       `json:"total_burned"`
}

func (Pulse) EventName() string { return "Pulse" }

// ReliabilityUpdate is emitted after every change that can move the score.
type ReliabilityUpdate struct {
	Agent ledger.Address `json:"agent"`
	Score uint64         `json:"score"`
	Tier  Tier           `json:"tier"`
}

func (ReliabilityUpdate) EventName() string { return "ReliabilityUpdate" }

// Staked is emitted when collateral is added.
type Staked struct {
	Agent      ledger.Address `json:"agent"`
	Amount     *big.Int       `json:"amount"`
	UnlockTime uint64         `json:"unlock_time"`
}

func (Staked) EventName() string { return "Staked" }

// Unstaked is emitted when collateral is withdrawn.
type Unstaked struct {
	Agent  ledger.Address `json:"agent"`
	Amount *big.Int       `json:"amount"`
}

func (Unstaked) EventName() string { return "Unstaked" }

// TTLUpdated is emitted when the liveness window changes.
type TTLUpdated struct {
	Previous uint64 `json:"previous"`
	Current  uint64 `json:"current"`
}

func (TTLUpdated) EventName() string { return "TTLUpdated" }

// MinPulseAmountUpdated is emitted when the pulse floor changes.
type MinPulseAmountUpdated struct {
	Previous *big.Int `json:"previous"`
	Current  *big.Int `json:"current"`
}

func (MinPulseAmountUpdated) EventName() string { return "MinPulseAmountUpdated" }
