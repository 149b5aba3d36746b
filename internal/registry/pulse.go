package registry

import (
	"math/big"

	"github.com/ssd-technologies/agentpulse/internal/ledger"
	"github.com/ssd-technologies/agentpulse/internal/mathx"
	"github.com/ssd-technologies/agentpulse/internal/token"
)

// advance applies one pulse of amount at now to s.
//
// Same day holds the streak. The next calendar day advances it only when at
// least MinStreakGap has passed since the last pulse; otherwise the streak
// is held. Any longer gap resets it to 1.
func advance(s AgentStatus, now uint64, amount *big.Int) AgentStatus {
	today := now / SecondsPerDay
	next := AgentStatus{
		LastPulseAt:   now,
		LastStreakDay: today,
		Streak:        s.Streak,
		TotalBurned:   new(big.Int).Add(mathx.Copy(s.TotalBurned), amount),
	}
	switch {
	case s.LastPulseAt == 0:
		next.Streak = 1
	case today == s.LastStreakDay:
	case today == s.LastStreakDay+1:
		if now-s.LastPulseAt >= MinStreakGap {
			next.Streak = s.Streak + 1
		}
	default:
		next.Streak = 1
	}
	return next
}

// Pulse records a pulse of amount from the sender and pulls the tokens to
// the sink. All state is written before the transfer.
func (r *Registry) Pulse(tx *ledger.Tx, amount *big.Int) error {
	release, err := r.guard.Enter()
	if err != nil {
		return ledger.NewRevert(err, "function", "pulse")
	}
	defer release()
	if err := r.WhenNotPaused(); err != nil {
		return err
	}
	min := r.minPulse.Get()
	if amount == nil || amount.Cmp(min) < 0 {
		return ledger.NewRevert(ErrBelowMinimum, "provided", amount, "minimum", min)
	}

	agent := tx.Sender()
	now := tx.Timestamp()
	next := advance(r.agents.Lookup(agent), now, amount)
	r.agents.Set(tx, agent, next)

	tx.Emit(r.address, Pulse{
		Agent:       agent,
		Amount:      mathx.Copy(amount),
		Timestamp:   now,
		Streak:      next.Streak,
		TotalBurned: mathx.Copy(next.TotalBurned),
	})
	r.emitReliability(tx, agent)

	return token.SafeTransferFrom(tx, r.token, r.address, agent, r.sink, amount)
}
