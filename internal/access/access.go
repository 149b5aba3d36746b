// Package access provides two-step ownership and pausing for contracts.
package access

import (
	"errors"

	"github.com/ssd-technologies/agentpulse/internal/ledger"
)

var (
	ErrNotOwner        = errors.New("caller is not the owner")
	ErrNotPendingOwner = errors.New("caller is not the pending owner")
	ErrZeroAddress     = errors.New("zero address")
	ErrPaused          = errors.New("contract is paused")
	ErrNotPaused       = errors.New("contract is not paused")
)

// OwnershipTransferStarted is emitted when the owner nominates a successor.
type OwnershipTransferStarted struct {
	PreviousOwner ledger.Address `json:"previous_owner"`
	NewOwner      ledger.Address `json:"new_owner"`
}

func (OwnershipTransferStarted) EventName() string { return "OwnershipTransferStarted" }

// OwnershipTransferred is emitted when the pending owner accepts.
type OwnershipTransferred struct {
	PreviousOwner ledger.Address `json:"previous_owner"`
	NewOwner      ledger.Address `json:"new_owner"`
}

func (OwnershipTransferred) EventName() string { return "OwnershipTransferred" }

// Paused is emitted when value-moving calls are suspended.
type Paused struct {
	Account ledger.Address `json:"account"`
}

func (Paused) EventName() string { return "Paused" }

// Unpaused is emitted when value-moving calls resume.
type Unpaused struct {
	Account ledger.Address `json:"account"`
}

func (Unpaused) EventName() string { return "Unpaused" }

// Ownable implements two-step ownership transfer. The nominated owner must
// call AcceptOwnership before the transfer takes effect.
type Ownable struct {
	contract ledger.Address
	owner    *ledger.Value[ledger.Address]
	pending  *ledger.Value[ledger.Address]
}

// NewOwnable returns ownership state for contract, owned by owner.
func NewOwnable(contract, owner ledger.Address) Ownable {
	return Ownable{
		contract: contract,
		owner:    ledger.NewValue(owner),
		pending:  ledger.NewValue(ledger.ZeroAddress),
	}
}

// Owner returns the current owner.
func (o *Ownable) Owner() ledger.Address { return o.owner.Get() }

// PendingOwner returns the nominated owner, or the zero address.
func (o *Ownable) PendingOwner() ledger.Address { return o.pending.Get() }

// OnlyOwner fails unless the transaction sender is the owner.
func (o *Ownable) OnlyOwner(tx *ledger.Tx) error {
	if tx.Sender() != o.owner.Get() {
		return ledger.NewRevert(ErrNotOwner, "caller", tx.Sender(), "owner", o.owner.Get())
	}
	return nil
}

// TransferOwnership nominates newOwner. Ownership does not change until
// newOwner accepts.
func (o *Ownable) TransferOwnership(tx *ledger.Tx, newOwner ledger.Address) error {
	if err := o.OnlyOwner(tx); err != nil {
		return err
	}
	if newOwner.IsZero() {
		return ledger.NewRevert(ErrZeroAddress, "field", "new_owner")
	}
	o.pending.Set(tx, newOwner)
	tx.Emit(o.contract, OwnershipTransferStarted{PreviousOwner: o.owner.Get(), NewOwner: newOwner})
	return nil
}

// AcceptOwnership completes a nomination. Only the pending owner may call it.
func (o *Ownable) AcceptOwnership(tx *ledger.Tx) error {
	pending := o.pending.Get()
	if pending.IsZero() || tx.Sender() != pending {
		return ledger.NewRevert(ErrNotPendingOwner, "caller", tx.Sender(), "pending_owner", pending)
	}
	prev := o.owner.Get()
	o.owner.Set(tx, pending)
	o.pending.Set(tx, ledger.ZeroAddress)
	tx.Emit(o.contract, OwnershipTransferred{PreviousOwner: prev, NewOwner: pending})
	return nil
}

// Pausable gates value-moving calls behind an owner-controlled switch.
// Reads are never paused.
type Pausable struct {
	owner  *Ownable
	paused *ledger.Value[bool]
}

// NewPausable returns an unpaused switch controlled by owner.
func NewPausable(owner *Ownable) Pausable {
	return Pausable{owner: owner, paused: ledger.NewValue(false)}
}

// Paused reports whether the contract is paused.
func (p *Pausable) Paused() bool { return p.paused.Get() }

// WhenNotPaused fails while the contract is paused.
func (p *Pausable) WhenNotPaused() error {
	if p.paused.Get() {
		return ledger.NewRevert(ErrPaused)
	}
	return nil
}

// Pause suspends value-moving calls. Owner only.
func (p *Pausable) Pause(tx *ledger.Tx) error {
	if err := p.owner.OnlyOwner(tx); err != nil {
		return err
	}
	if p.paused.Get() {
		return ledger.NewRevert(ErrPaused)
	}
	p.paused.Set(tx, true)
	tx.Emit(p.owner.contract, Paused{Account: tx.Sender()})
	return nil
}

// Unpause resumes value-moving calls. Owner only.
func (p *Pausable) Unpause(tx *ledger.Tx) error {
	if err := p.owner.OnlyOwner(tx); err != nil {
		return err
	}
	if !p.paused.Get() {
		return ledger.NewRevert(ErrNotPaused)
	}
	p.paused.Set(tx, false)
	tx.Emit(p.owner.contract, Unpaused{Account: tx.Sender()})
	return nil
}
