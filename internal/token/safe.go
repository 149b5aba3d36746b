package token

import (
	"errors"
	"math/big"

	"github.com/ssd-technologies/agentpulse/internal/ledger"
)

// ErrTransferFailed is returned when a token reports failure without
// reverting.
var ErrTransferFailed = errors.New("token transfer failed")

// ERC20 is the token surface the registry and burner depend on.
type ERC20 interface {
	Address() ledger.Address
	BalanceOf(account ledger.Address) *big.Int
	Transfer(tx *ledger.Tx, to ledger.Address, amount *big.Int) (bool, error)
	TransferFrom(tx *ledger.Tx, from, to ledger.Address, amount *big.Int) (bool, error)
}

// SafeTransfer pushes amount from the calling contract to to. A false
// return from the token is a failure; token errors propagate unchanged.
func SafeTransfer(tx *ledger.Tx, t ERC20, caller, to ledger.Address, amount *big.Int) error {
	return tx.Call(caller, func(tx *ledger.Tx) error {
		ok, err := t.Transfer(tx, to, amount)
		if err != nil {
			return err
		}
		if !ok {
			return ledger.NewRevert(ErrTransferFailed, "token", t.Address(), "to", to, "amount", amount)
		}
		return nil
	})
}

// SafeTransferFrom pulls amount from from to to on behalf of the calling
// contract, which must hold the allowance.
func SafeTransferFrom(tx *ledger.Tx, t ERC20, caller, from, to ledger.Address, amount *big.Int) error {
	return tx.Call(caller, func(tx *ledger.Tx) error {
		ok, err := t.TransferFrom(tx, from, to, amount)
		if err != nil {
			return err
		}
		if !ok {
			return ledger.NewRevert(ErrTransferFailed, "token", t.Address(), "from", from, "to", to, "amount", amount)
		}
		return nil
	})
}
