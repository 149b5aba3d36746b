// Package burner splits a caller-supplied amount into a destroyed portion
// and a fee and executes both transfers atomically.
package burner

import (
	"errors"
	"math/big"

	"github.com/ssd-technologies/agentpulse/internal/access"
	"github.com/ssd-technologies/agentpulse/internal/ledger"
	"github.com/ssd-technologies/agentpulse/internal/mathx"
	"github.com/ssd-technologies/agentpulse/internal/token"
)

const (
	BpsDenominator = uint64(10000)
	// MaxFeeBps caps the fee at 5%.
	MaxFeeBps     = uint64(500)
	DefaultFeeBps = uint64(100)
)

// DefaultMinBurn is one whole token.
var DefaultMinBurn = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

var (
	ErrBelowMinBurn    = errors.New("amount below minimum burn")
	ErrFeeRoundsToZero = errors.New("fee rounds to zero")
	ErrFeeTooHigh      = errors.New("fee bps above maximum")
	ErrZeroMinBurn     = errors.New("minimum burn must be positive")
	ErrInvalidConfig   = errors.New("invalid burner config")
)

// BurnedWithFee is emitted for every successful burn.
type BurnedWithFee struct {
	Caller    ledger.Address `json:"caller"`
	Amount    *big.Int       `json:"amount"`
	Burned    *big.Int       `json:"burned"`
	Fee       *big.Int       `json:"fee"`
	FeeWallet ledger.Address `json:"fee_wallet"`
}

func (BurnedWithFee) EventName() string { return "BurnedWithFee" }

type FeeWalletUpdated struct {
	Previous ledger.Address `json:"previous"`
	Current  ledger.Address `json:"current"`
}

func (FeeWalletUpdated) EventName() string { return "FeeWalletUpdated" }

type FeeBpsUpdated struct {
	Previous uint64 `json:"previous"`
	Current  uint64 `json:"current"`
}

func (FeeBpsUpdated) EventName() string { return "FeeBpsUpdated" }

type MinBurnUpdated struct {
	Previous *big.Int `json:"previous"`
	Current  *big.Int `json:"current"`
}

func (MinBurnUpdated) EventName() string { return "MinBurnUpdated" }

// SplitFee returns floor(amount*feeBps/10000) as the fee and the remainder
// as the burned amount. The two always sum to amount.
func SplitFee(amount *big.Int, feeBps uint64) (burn, fee *big.Int) {
	amount = mathx.Copy(amount)
	fee = mathx.MulDivFloor(amount, new(big.Int).SetUint64(feeBps), new(big.Int).SetUint64(BpsDenominator))
	return new(big.Int).Sub(amount, fee), fee
}

// Config parameterizes a deployment. FeeBps is used as given; a nil
// MinBurn takes DefaultMinBurn and a zero Sink takes ledger.DeadAddress.
type Config struct {
	Address   ledger.Address
	Owner     ledger.Address
	Token     token.ERC20
	Sink      ledger.Address
	FeeWallet ledger.Address
	FeeBps    uint64
	MinBurn   *big.Int
}

// Burner is the fee-split burn contract.
type Burner struct {
	access.Ownable
	access.Pausable

	address ledger.Address
	token   token.ERC20
	sink    ledger.Address
	guard   ledger.Guard

	feeWallet *ledger.Value[ledger.Address]
	feeBps    *ledger.Value[uint64]
	minBurn   *ledger.Value[*big.Int]
}

// New deploys a burner.
func New(cfg Config) (*Burner, error) {
	if cfg.Token == nil {
		return nil, ledger.NewRevert(ErrInvalidConfig, "field", "token")
	}
	if cfg.Owner.IsZero() {
		return nil, ledger.NewRevert(access.ErrZeroAddress, "field", "owner")
	}
	if cfg.FeeWallet.IsZero() {
		return nil, ledger.NewRevert(access.ErrZeroAddress, "field", "fee_wallet")
	}
	if cfg.FeeBps > MaxFeeBps {
		return nil, ledger.NewRevert(ErrFeeTooHigh, "provided", cfg.FeeBps, "max", MaxFeeBps)
	}
	if cfg.MinBurn == nil {
		cfg.MinBurn = DefaultMinBurn
	}
	if cfg.MinBurn.Sign() <= 0 {
		return nil, ledger.NewRevert(ErrZeroMinBurn, "provided", cfg.MinBurn)
	}
	if cfg.Sink.IsZero() {
		cfg.Sink = ledger.DeadAddress
	}

	b := &Burner{
		address:   cfg.Address,
		token:     cfg.Token,
		sink:      cfg.Sink,
		feeWallet: ledger.NewValue(cfg.FeeWallet),
		feeBps:    ledger.NewValue(cfg.FeeBps),
		minBurn:   ledger.NewValue(mathx.Copy(cfg.MinBurn)),
	}
	b.Ownable = access.NewOwnable(cfg.Address, cfg.Owner)
	b.Pausable = access.NewPausable(&b.Ownable)
	return b, nil
}

func (b *Burner) Address() ledger.Address   { return b.address }
func (b *Burner) Sink() ledger.Address      { return b.sink }
func (b *Burner) FeeWallet() ledger.Address { return b.feeWallet.Get() }
func (b *Burner) FeeBps() uint64            { return b.feeBps.Get() }
func (b *Burner) MinBurn() *big.Int         { return mathx.Copy(b.minBurn.Get()) }

// Preview returns the split BurnWithFee would apply to amount.
func (b *Burner) Preview(amount *big.Int) (burn, fee *big.Int) {
	return SplitFee(amount, b.feeBps.Get())
}

// BurnWithFee pulls amount from the sender, sending the fee to the fee
// wallet and the rest to the sink.
func (b *Burner) BurnWithFee(tx *ledger.Tx, amount *big.Int) error {
	release, err := b.guard.Enter()
	if err != nil {
		return ledger.NewRevert(err, "function", "burn_with_fee")
	}
	defer release()
	if err := b.WhenNotPaused(); err != nil {
		return err
	}
	min := b.minBurn.Get()
	if amount == nil || amount.Cmp(min) < 0 {
		return ledger.NewRevert(ErrBelowMinBurn, "provided", amount, "minimum", min)
	}
	bps := b.feeBps.Get()
	burn, fee := SplitFee(amount, bps)
	if bps > 0 && fee.Sign() == 0 {
		return ledger.NewRevert(ErrFeeRoundsToZero, "amount", amount, "fee_bps", bps)
	}

	caller := tx.Sender()
	wallet := b.feeWallet.Get()
	tx.Emit(b.address, BurnedWithFee{
		Caller:    caller,
		Amount:    mathx.Copy(amount),
		Burned:    mathx.Copy(burn),
		Fee:       mathx.Copy(fee),
		FeeWallet: wallet,
	})

	if err := token.SafeTransferFrom(tx, b.token, b.address, caller, b.sink, burn); err != nil {
		return err
	}
	if fee.Sign() == 0 {
		return nil
	}
	return token.SafeTransferFrom(tx, b.token, b.address, caller, wallet, fee)
}

// SetFeeWallet changes the fee recipient. Owner only.
func (b *Burner) SetFeeWallet(tx *ledger.Tx, wallet ledger.Address) error {
	if err := b.OnlyOwner(tx); err != nil {
		return err
	}
	if wallet.IsZero() {
		return ledger.NewRevert(access.ErrZeroAddress, "field", "fee_wallet")
	}
	prev := b.feeWallet.Get()
	b.feeWallet.Set(tx, wallet)
	tx.Emit(b.address, FeeWalletUpdated{Previous: prev, Current: wallet})
	return nil
}

// SetFeeBps changes the fee rate. Owner only, capped at MaxFeeBps.
func (b *Burner) SetFeeBps(tx *ledger.Tx, bps uint64) error {
	if err := b.OnlyOwner(tx); err != nil {
		return err
	}
	if bps > MaxFeeBps {
		return ledger.NewRevert(ErrFeeTooHigh, "provided", bps, "max", MaxFeeBps)
	}
	prev := b.feeBps.Get()
	b.feeBps.Set(tx, bps)
	tx.Emit(b.address, FeeBpsUpdated{Previous: prev, Current: bps})
	return nil
}

// SetMinBurn changes the burn floor. Owner only, must stay positive.
func (b *Burner) SetMinBurn(tx *ledger.Tx, amount *big.Int) error {
	if err := b.OnlyOwner(tx); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ledger.NewRevert(ErrZeroMinBurn, "provided", amount)
	}
	prev := b.minBurn.Get()
	b.minBurn.Set(tx, mathx.Copy(amount))
	tx.Emit(b.address, MinBurnUpdated{Previous: mathx.Copy(prev), Current: mathx.Copy(amount)})
	return nil
}
