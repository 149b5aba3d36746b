package registry

import (
	"fmt"
	"math/big"

	"github.com/ssd-technologies/agentpulse/internal/mathx"
)

// Score component caps. They sum to MaxScore.
const (
	MaxStreakScore = 50
	MaxVolumeScore = 30
	MaxStakeScore  = 20
	MaxScore       = MaxStreakScore + MaxVolumeScore + MaxStakeScore
)

// Tier thresholds.
const (
	ProThreshold     = 40
	PartnerThreshold = 70
)

// ScoreUnit is one whole token in base units; volume and stake are scored
// in whole tokens.
var ScoreUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Tier is a discrete band of the reliability score.
type Tier uint8

const (
	TierBasic Tier = iota
	TierPro
	TierPartner
)

// TierFor maps a score to its tier.
func TierFor(score uint64) Tier {
	switch {
	case score >= PartnerThreshold:
		return TierPartner
	case score >= ProThreshold:
		return TierPro
	default:
		return TierBasic
	}
}

func (t Tier) String() string {
	switch t {
	case TierBasic:
		return "Basic"
	case TierPro:
		return "Pro"
	case TierPartner:
		return "Partner"
	default:
		return fmt.Sprintf("Tier(%d)", uint8(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Basic":
		*t = TierBasic
	case "Pro":
		*t = TierPro
	case "Partner":
		*t = TierPartner
	default:
		return fmt.Errorf("unknown tier %q", b)
	}
	return nil
}

// Breakdown is a reliability score split into its clamped components.
type Breakdown struct {
	Streak uint64 `json:"streak"`
	Volume uint64 `json:"volume"`
	Stake  uint64 `json:"stake"`
	Total  uint64 `json:"total"`
}

// Alive reports whether status has pulsed within ttl seconds of now.
func Alive(status AgentStatus, now, ttl uint64) bool {
	if status.LastPulseAt == 0 {
		return false
	}
	return now < status.LastPulseAt || now-status.LastPulseAt <= ttl
}

// ComputeScore derives the score from stored state. A dead or unknown agent
// scores zero regardless of history.
func ComputeScore(status AgentStatus, stake StakeExtension, now, ttl uint64) Breakdown {
	if !Alive(status, now, ttl) {
		return Breakdown{}
	}
	var b Breakdown
	b.Streak = mathx.MinU64(status.Streak, MaxStreakScore)

	volume := mathx.Units(status.TotalBurned, ScoreUnit)
	b.Volume = mathx.MinU64(mathx.Log2Big(volume.Add(volume, big.NewInt(1))), MaxVolumeScore)

	weighted := mathx.Units(stake.StakedAmount, ScoreUnit)
	weighted.Mul(weighted, new(big.Int).SetUint64(stakeDurationDays(stake, now)))
	b.Stake = mathx.MinU64(mathx.Log2Big(weighted.Add(weighted, big.NewInt(1))), MaxStakeScore)

	b.Total = b.Streak + b.Volume + b.Stake
	return b
}

func stakeDurationDays(stake StakeExtension, now uint64) uint64 {
	if stake.StakeStartTime == 0 || now <= stake.StakeStartTime {
		return 0
	}
	return (now - stake.StakeStartTime) / SecondsPerDay
}
