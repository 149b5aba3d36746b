// Package token implements the fungible token the registry and burner move,
// plus the safe-transfer helpers both of them use.
package token

import (
	"errors"
	"math/big"

	"github.com/ssd-technologies/agentpulse/internal/access"
	"github.com/ssd-technologies/agentpulse/internal/ledger"
	"github.com/ssd-technologies/agentpulse/internal/mathx"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidReceiver       = errors.New("invalid receiver")
)

// Transfer is emitted on every balance movement, including mint (from the
// zero address) and burn (to the zero address).
type Transfer struct {
	From   ledger.Address `json:"from"`
	To     ledger.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
}

func (Transfer) EventName() string { return "Transfer" }

// Approval is emitted when an allowance is set.
type Approval struct {
	Owner   ledger.Address `json:"owner"`
	Spender ledger.Address `json:"spender"`
	Amount  *big.Int       `json:"amount"`
}

func (Approval) EventName() string { return "Approval" }

type allowanceKey struct {
	owner, spender ledger.Address
}

// Token is a standard transferable-balance asset with owner-gated minting
// and self-burn. Stored amounts are never mutated in place.
type Token struct {
	access.Ownable

	address  ledger.Address
	name     string
	symbol   string
	decimals uint8

	supply     *ledger.Value[*big.Int]
	balances   *ledger.Map[ledger.Address, *big.Int]
	allowances *ledger.Map[allowanceKey, *big.Int]
}

// New deploys a token at address owned by owner.
func New(address, owner ledger.Address, name, symbol string, decimals uint8) *Token {
	return &Token{
		Ownable:    access.NewOwnable(address, owner),
		address:    address,
		name:       name,
		symbol:     symbol,
		decimals:   decimals,
		supply:     ledger.NewValue(new(big.Int)),
		balances:   ledger.NewMap[ledger.Address, *big.Int](),
		allowances: ledger.NewMap[allowanceKey, *big.Int](),
	}
}

func (t *Token) Address() ledger.Address { return t.address }
func (t *Token) Name() string            { return t.name }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return t.decimals }

// TotalSupply returns the sum of all balances.
func (t *Token) TotalSupply() *big.Int { return mathx.Copy(t.supply.Get()) }

// BalanceOf returns the balance of account.
func (t *Token) BalanceOf(account ledger.Address) *big.Int {
	return mathx.Copy(t.balances.Lookup(account))
}

// Allowance returns how much spender may pull from owner.
func (t *Token) Allowance(owner, spender ledger.Address) *big.Int {
	return mathx.Copy(t.allowances.Lookup(allowanceKey{owner, spender}))
}

// Transfer moves amount from the sender to to.
func (t *Token) Transfer(tx *ledger.Tx, to ledger.Address, amount *big.Int) (bool, error) {
	if err := t.move(tx, tx.Sender(), to, amount); err != nil {
		return false, err
	}
	return true, nil
}

// TransferFrom moves amount from from to to, spending the sender's allowance.
func (t *Token) TransferFrom(tx *ledger.Tx, from, to ledger.Address, amount *big.Int) (bool, error) {
	if err := validAmount(amount); err != nil {
		return false, err
	}
	key := allowanceKey{from, tx.Sender()}
	allowed := t.allowances.Lookup(key)
	if allowed == nil || allowed.Cmp(amount) < 0 {
		return false, ledger.NewRevert(ErrInsufficientAllowance,
			"owner", from, "spender", tx.Sender(), "allowance", allowed, "needed", amount)
	}
	if err := t.move(tx, from, to, amount); err != nil {
		return false, err
	}
	t.allowances.Set(tx, key, new(big.Int).Sub(allowed, amount))
	return true, nil
}

// Approve sets spender's allowance over the sender's balance.
func (t *Token) Approve(tx *ledger.Tx, spender ledger.Address, amount *big.Int) (bool, error) {
	if spender.IsZero() {
		return false, ledger.NewRevert(access.ErrZeroAddress, "field", "spender")
	}
	if amount == nil || amount.Sign() < 0 {
		return false, ledger.NewRevert(ErrInvalidAmount, "amount", amount)
	}
	t.allowances.Set(tx, allowanceKey{tx.Sender(), spender}, mathx.Copy(amount))
	tx.Emit(t.address, Approval{Owner: tx.Sender(), Spender: spender, Amount: mathx.Copy(amount)})
	return true, nil
}

// Mint creates amount for to. Owner only.
func (t *Token) Mint(tx *ledger.Tx, to ledger.Address, amount *big.Int) error {
	if err := t.OnlyOwner(tx); err != nil {
		return err
	}
	if to.IsZero() {
		return ledger.NewRevert(ErrInvalidReceiver, "receiver", to)
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	t.balances.Set(tx, to, new(big.Int).Add(mathx.Copy(t.balances.Lookup(to)), amount))
	t.supply.Set(tx, new(big.Int).Add(t.supply.Get(), amount))
	tx.Emit(t.address, Transfer{From: ledger.ZeroAddress, To: to, Amount: mathx.Copy(amount)})
	return nil
}

// Burn destroys amount of the sender's balance.
func (t *Token) Burn(tx *ledger.Tx, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	from := tx.Sender()
	bal := t.balances.Lookup(from)
	if bal == nil || bal.Cmp(amount) < 0 {
		return ledger.NewRevert(ErrInsufficientBalance, "account", from, "balance", bal, "needed", amount)
	}
	t.balances.Set(tx, from, new(big.Int).Sub(bal, amount))
	t.supply.Set(tx, new(big.Int).Sub(t.supply.Get(), amount))
	tx.Emit(t.address, Transfer{From: from, To: ledger.ZeroAddress, Amount: mathx.Copy(amount)})
	return nil
}

func (t *Token) move(tx *ledger.Tx, from, to ledger.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if to.IsZero() {
		return ledger.NewRevert(ErrInvalidReceiver, "receiver", to)
	}
	bal := t.balances.Lookup(from)
	if bal == nil || bal.Cmp(amount) < 0 {
		return ledger.NewRevert(ErrInsufficientBalance, "account", from, "balance", bal, "needed", amount)
	}
	t.balances.Set(tx, from, new(big.Int).Sub(bal, amount))
	t.balances.Set(tx, to, new(big.Int).Add(mathx.Copy(t.balances.Lookup(to)), amount))
	tx.Emit(t.address, Transfer{From: from, To: to, Amount: mathx.Copy(amount)})
	return nil
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ledger.NewRevert(ErrInvalidAmount, "amount", amount)
	}
	return nil
}
