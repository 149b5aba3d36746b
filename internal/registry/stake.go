package registry

import (
	"math/big"

	"github.com/ssd-technologies/agentpulse/internal/ledger"
	"github.com/ssd-technologies/agentpulse/internal/mathx"
	"github.com/ssd-technologies/agentpulse/internal/token"
)

// blendStart returns the stake-weighted average of the existing start time
// and now, floored.
func blendStart(oldAmount *big.Int, oldStart uint64, added *big.Int, now uint64) uint64 {
	if oldAmount == nil || oldAmount.Sign() == 0 {
		return now
	}
	num := new(big.Int).Mul(oldAmount, new(big.Int).SetUint64(oldStart))
	num.Add(num, new(big.Int).Mul(added, new(big.Int).SetUint64(now)))
	den := new(big.Int).Add(oldAmount, added)
	return num.Quo(num, den).Uint64()
}

// Stake locks amount of the sender's tokens in the registry. Top-ups blend
// the start time but always reset the unlock time.
func (r *Registry) Stake(tx *ledger.Tx, amount *big.Int) error {
	release, err := r.guard.Enter()
	if err != nil {
		return ledger.NewRevert(err, "function", "stake")
	}
	defer release()
	if err := r.WhenNotPaused(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ledger.NewRevert(ErrZeroAmount, "provided", amount)
	}

	agent := tx.Sender()
	now := tx.Timestamp()
	cur := r.stake(agent)
	next := StakeExtension{
		StakedAmount:    new(big.Int).Add(cur.StakedAmount, amount),
		StakeStartTime:  blendStart(cur.StakedAmount, cur.StakeStartTime, amount, now),
		StakeUnlockTime: now + r.lockup,
	}
	r.stakes.Set(tx, agent, next)

	tx.Emit(r.address, Staked{Agent: agent, Amount: mathx.Copy(amount), UnlockTime: next.StakeUnlockTime})
	r.emitReliability(tx, agent)

	return token.SafeTransferFrom(tx, r.token, r.address, agent, r.address, amount)
}

// Unstake returns amount of the sender's collateral once the lockup has
// passed. Withdrawing everything clears the start time.
func (r *Registry) Unstake(tx *ledger.Tx, amount *big.Int) error {
	release, err := r.guard.Enter()
	if err != nil {
		return ledger.NewRevert(err, "function", "unstake")
	}
	defer release()
	if err := r.WhenNotPaused(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ledger.NewRevert(ErrZeroAmount, "provided", amount)
	}

	agent := tx.Sender()
	now := tx.Timestamp()
	cur := r.stake(agent)
	if now < cur.StakeUnlockTime {
		return ledger.NewRevert(ErrStakeLocked, "unlock_time", cur.StakeUnlockTime, "now", now)
	}
	if amount.Cmp(cur.StakedAmount) > 0 {
		return ledger.NewRevert(ErrInsufficientStake, "requested", amount, "staked", cur.StakedAmount)
	}

	next := StakeExtension{
		StakedAmount:    new(big.Int).Sub(cur.StakedAmount, amount),
		StakeStartTime:  cur.StakeStartTime,
		StakeUnlockTime: cur.StakeUnlockTime,
	}
	if next.StakedAmount.Sign() == 0 {
		next.StakeStartTime = 0
	}
	r.stakes.Set(tx, agent, next)

	tx.Emit(r.address, Unstaked{Agent: agent, Amount: mathx.Copy(amount)})
	r.emitReliability(tx, agent)

	return token.SafeTransfer(tx, r.token, r.address, agent, amount)
}
