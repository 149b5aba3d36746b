// Package registry implements the liveness and reliability registry: agents
// pulse tokens to prove activity, the registry turns pulse history into a
// streak, tracks staked collateral, and derives a bounded 0-100 score.
package registry

import (
	"bytes"
	"math/big"
	"sort"
	"time"

	"github.com/ssd-technologies/agentpulse/internal/access"
	"github.com/ssd-technologies/agentpulse/internal/ledger"
	"github.com/ssd-technologies/agentpulse/internal/mathx"
	"github.com/ssd-technologies/agentpulse/internal/token"
)

const (
	SecondsPerDay = 86400
	// MinStreakGap is the minimum time between two streak-advancing pulses.
	MinStreakGap = uint64(20 * time.Hour / time.Second)
	// MaxTTL is the hard ceiling on the liveness window.
	MaxTTL = uint64(30 * SecondsPerDay)
	// VerifiedStreak is the streak an alive agent must exceed to be verified.
	VerifiedStreak = 7

	DefaultTTL         = uint64(SecondsPerDay)
	DefaultStakeLockup = uint64(7 * SecondsPerDay)
)

var (
	// MaxMinPulseAmount is the hard ceiling on the pulse floor: 1000 tokens.
	MaxMinPulseAmount = new(big.Int).Mul(big.NewInt(1000), ScoreUnit)
	// DefaultMinPulseAmount is one token.
	DefaultMinPulseAmount = new(big.Int).Set(ScoreUnit)
)

// AgentStatus is the per-agent pulse record. It is created on the first
// pulse and never deleted.
type AgentStatus struct {
	LastPulseAt   uint64   `json:"last_pulse_at"`
	Streak        uint64   `json:"streak"`
	LastStreakDay uint64   `json:"last_streak_day"`
	TotalBurned   *big.Int `json:"total_burned"`
}

// StakeExtension is the per-agent collateral record.
type StakeExtension struct {
	StakedAmount    *big.Int `json:"staked_amount"`
	StakeStartTime  uint64   `json:"stake_start_time"`
	StakeUnlockTime uint64   `json:"stake_unlock_time"`
}

// Status is the public summary returned by GetAgentStatus.
type Status struct {
	Alive       bool     `json:"alive"`
	LastPulseAt uint64   `json:"last_pulse_at"`
	Streak      uint64   `json:"streak"`
	TotalBurned *big.Int `json:"total_burned"`
}

// Config parameterizes a deployment.
type Config struct {
	Address        ledger.Address
	Owner          ledger.Address
	Token          token.ERC20
	Sink           ledger.Address
	TTL            uint64
	MinPulseAmount *big.Int
	StakeLockup    uint64
}

// Registry is the liveness and reliability state machine.
type Registry struct {
	access.Ownable
	access.Pausable

	address ledger.Address
	chain   *ledger.Chain
	token   token.ERC20
	sink    ledger.Address
	lockup  uint64
	guard   ledger.Guard

	ttl      *ledger.Value[uint64]
	minPulse *ledger.Value[*big.Int]
	agents   *ledger.Map[ledger.Address, AgentStatus]
	stakes   *ledger.Map[ledger.Address, StakeExtension]
}

// New deploys a registry on chain. Zero-valued TTL, min pulse, lockup and
// sink take their defaults.
func New(chain *ledger.Chain, cfg Config) (*Registry, error) {
	if cfg.Token == nil {
		return nil, ledger.NewRevert(ErrInvalidConfig, "field", "token")
	}
	if cfg.Owner.IsZero() {
		return nil, ledger.NewRevert(access.ErrZeroAddress, "field", "owner")
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MinPulseAmount == nil || cfg.MinPulseAmount.Sign() == 0 {
		cfg.MinPulseAmount = DefaultMinPulseAmount
	}
	if cfg.StakeLockup == 0 {
		cfg.StakeLockup = DefaultStakeLockup
	}
	if cfg.Sink.IsZero() {
		cfg.Sink = ledger.DeadAddress
	}
	if err := checkTTL(cfg.TTL); err != nil {
		return nil, err
	}
	if err := checkMinPulse(cfg.MinPulseAmount); err != nil {
		return nil, err
	}

	r := &Registry{
		address:  cfg.Address,
		chain:    chain,
		token:    cfg.Token,
		sink:     cfg.Sink,
		lockup:   cfg.StakeLockup,
		ttl:      ledger.NewValue(cfg.TTL),
		minPulse: ledger.NewValue(mathx.Copy(cfg.MinPulseAmount)),
		agents:   ledger.NewMap[ledger.Address, AgentStatus](),
		stakes:   ledger.NewMap[ledger.Address, StakeExtension](),
	}
	r.Ownable = access.NewOwnable(cfg.Address, cfg.Owner)
	r.Pausable = access.NewPausable(&r.Ownable)
	return r, nil
}

func checkTTL(ttl uint64) error {
	if ttl == 0 {
		return ledger.NewRevert(ErrZeroAmount, "field", "ttl")
	}
	if ttl > MaxTTL {
		return ledger.NewRevert(ErrAboveCeiling, "field", "ttl", "provided", ttl, "max", MaxTTL)
	}
	return nil
}

func checkMinPulse(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ledger.NewRevert(ErrZeroAmount, "field", "min_pulse_amount")
	}
	if amount.Cmp(MaxMinPulseAmount) > 0 {
		return ledger.NewRevert(ErrAboveCeiling, "field", "min_pulse_amount", "provided", amount, "max", MaxMinPulseAmount)
	}
	return nil
}

// Address returns the registry's contract address.
func (r *Registry) Address() ledger.Address { return r.address }

// Token returns the token the registry pulls pulses and stakes in.
func (r *Registry) Token() token.ERC20 { return r.token }

// Sink returns where pulsed tokens are sent.
func (r *Registry) Sink() ledger.Address { return r.sink }

// TTL returns the liveness window in seconds.
func (r *Registry) TTL() uint64 { return r.ttl.Get() }

// MinPulseAmount returns the smallest accepted pulse.
func (r *Registry) MinPulseAmount() *big.Int { return mathx.Copy(r.minPulse.Get()) }

// StakeLockup returns how long each stake action locks withdrawals.
func (r *Registry) StakeLockup() uint64 { return r.lockup }

// SetTTL changes the liveness window. Owner only, bounded by MaxTTL.
func (r *Registry) SetTTL(tx *ledger.Tx, ttl uint64) error {
	if err := r.OnlyOwner(tx); err != nil {
		return err
	}
	if err := checkTTL(ttl); err != nil {
		return err
	}
	prev := r.ttl.Get()
	r.ttl.Set(tx, ttl)
	tx.Emit(r.address, TTLUpdated{Previous: prev, Current: ttl})
	return nil
}

// SetMinPulseAmount changes the pulse floor. Owner only, bounded by
// MaxMinPulseAmount.
func (r *Registry) SetMinPulseAmount(tx *ledger.Tx, amount *big.Int) error {
	if err := r.OnlyOwner(tx); err != nil {
		return err
	}
	if err := checkMinPulse(amount); err != nil {
		return err
	}
	prev := r.minPulse.Get()
	r.minPulse.Set(tx, mathx.Copy(amount))
	tx.Emit(r.address, MinPulseAmountUpdated{Previous: mathx.Copy(prev), Current: mathx.Copy(amount)})
	return nil
}

// --- Views. None of these fail for unknown agents. ---

func (r *Registry) status(agent ledger.Address) AgentStatus {
	s := r.agents.Lookup(agent)
	if s.TotalBurned == nil {
		s.TotalBurned = new(big.Int)
	}
	return s
}

func (r *Registry) stake(agent ledger.Address) StakeExtension {
	s := r.stakes.Lookup(agent)
	if s.StakedAmount == nil {
		s.StakedAmount = new(big.Int)
	}
	return s
}

// IsAlive reports whether agent has pulsed within the TTL window.
func (r *Registry) IsAlive(agent ledger.Address) bool {
	return Alive(r.status(agent), r.chain.Now(), r.ttl.Get())
}

// LastPulse returns the timestamp of agent's last pulse, 0 if never.
func (r *Registry) LastPulse(agent ledger.Address) uint64 {
	return r.status(agent).LastPulseAt
}

// GetAgentStatus returns liveness, last pulse, streak and cumulative volume.
func (r *Registry) GetAgentStatus(agent ledger.Address) Status {
	s := r.status(agent)
	return Status{
		Alive:       Alive(s, r.chain.Now(), r.ttl.Get()),
		LastPulseAt: s.LastPulseAt,
		Streak:      s.Streak,
		TotalBurned: mathx.Copy(s.TotalBurned),
	}
}

// AgentRecord returns the raw stored pulse record.
func (r *Registry) AgentRecord(agent ledger.Address) AgentStatus {
	s := r.status(agent)
	s.TotalBurned = mathx.Copy(s.TotalBurned)
	return s
}

// StakeRecord returns the raw stored stake record.
func (r *Registry) StakeRecord(agent ledger.Address) StakeExtension {
	s := r.stake(agent)
	s.StakedAmount = mathx.Copy(s.StakedAmount)
	return s
}

// StakedAmount returns agent's locked collateral.
func (r *Registry) StakedAmount(agent ledger.Address) *big.Int {
	return mathx.Copy(r.stake(agent).StakedAmount)
}

// StakeStartTime returns the blended start of agent's staking period.
func (r *Registry) StakeStartTime(agent ledger.Address) uint64 {
	return r.stake(agent).StakeStartTime
}

// StakeUnlockTime returns when agent may next unstake.
func (r *Registry) StakeUnlockTime(agent ledger.Address) uint64 {
	return r.stake(agent).StakeUnlockTime
}

// ScoreBreakdown returns the clamped score components for agent.
func (r *Registry) ScoreBreakdown(agent ledger.Address) Breakdown {
	return ComputeScore(r.status(agent), r.stake(agent), r.chain.Now(), r.ttl.Get())
}

// GetReliabilityScore returns agent's score in [0, 100].
func (r *Registry) GetReliabilityScore(agent ledger.Address) uint64 {
	return r.ScoreBreakdown(agent).Total
}

// GetAgentTier returns the tier of agent's current score.
func (r *Registry) GetAgentTier(agent ledger.Address) Tier {
	return TierFor(r.GetReliabilityScore(agent))
}

// IsVerifiedAgent reports whether agent is alive with a streak above
// VerifiedStreak.
func (r *Registry) IsVerifiedAgent(agent ledger.Address) bool {
	s := r.status(agent)
	return Alive(s, r.chain.Now(), r.ttl.Get()) && s.Streak > VerifiedStreak
}

// RequireReliability fails unless agent is alive and scores at least
// minScore.
func (r *Registry) RequireReliability(agent ledger.Address, minScore uint64) error {
	if !r.IsAlive(agent) {
		return ledger.NewRevert(ErrNotAlive, "agent", agent)
	}
	if score := r.GetReliabilityScore(agent); score < minScore {
		return ledger.NewRevert(ErrReliabilityTooLow, "agent", agent, "score", score, "required", minScore)
	}
	return nil
}

// AgentCount returns how many agents have ever pulsed.
func (r *Registry) AgentCount() int { return r.agents.Len() }

// Agents returns every agent that has ever pulsed, sorted by address.
func (r *Registry) Agents() []ledger.Address {
	out := make([]ledger.Address, 0, r.agents.Len())
	r.agents.Range(func(a ledger.Address, _ AgentStatus) bool {
		out = append(out, a)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (r *Registry) emitReliability(tx *ledger.Tx, agent ledger.Address) {
	score := r.GetReliabilityScore(agent)
	tx.Emit(r.address, ReliabilityUpdate{Agent: agent, Score: score, Tier: TierFor(score)})
}
