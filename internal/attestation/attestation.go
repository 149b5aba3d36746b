// Package attestation lets alive agents vouch for or flag other alive
// agents. Each attestation is weighted by the attestor's own reliability
// score and rate limited per fixed epoch.
package attestation

import (
	"errors"
	"math/big"

	"github.com/ssd-technologies/agentpulse/internal/ledger"
)

const (
	// EpochDuration is the width of the fixed epoch grid, in seconds.
	EpochDuration = uint64(86400)
	// MaxAttestationsPerEpoch caps how many attestations one attestor may
	// submit per epoch.
	MaxAttestationsPerEpoch = uint64(10)
)

var (
	ErrAttestorNotAlive       = errors.New("attestor is not alive")
	ErrSelfAttestation        = errors.New("cannot attest to self")
	ErrSubjectNotRegistered   = errors.New("subject is not alive")
	ErrMaxAttestationsReached = errors.New("max attestations reached this epoch")
	ErrAlreadyAttested        = errors.New("pair already attested this epoch")
	ErrNoSource               = errors.New("attestation requires a reliability source")
)

// AttestationSubmitted is emitted for every recorded attestation.
type AttestationSubmitted struct {
	Attestor  ledger.Address `json:"attestor"`
	Subject   ledger.Address `json:"subject"`
	Positive  bool           `json:"positive"`
	Weight    uint64         `json:"weight"`
	Timestamp uint64         `json:"timestamp"`
}

func (AttestationSubmitted) EventName() string { return "AttestationSubmitted" }

// EpochReset is emitted when an attestor's epoch is realigned to the grid.
type EpochReset struct {
	Attestor   ledger.Address `json:"attestor"`
	EpochStart uint64         `json:"epoch_start"`
}

func (EpochReset) EventName() string { return "EpochReset" }

type pair struct {
	attestor, subject ledger.Address
}

// Attestation holds per-attestor epoch bookkeeping and per-subject weight
// sums. Sums are append-only.
type Attestation struct {
	address ledger.Address
	chain   *ledger.Chain
	source  ReliabilitySource

	epochStart *ledger.Map[ledger.Address, uint64]
	epochCount *ledger.Map[ledger.Address, uint64]
	lastAt     *ledger.Map[pair, uint64]
	positive   *ledger.Map[ledger.Address, uint64]
	negative   *ledger.Map[ledger.Address, uint64]
}

// New deploys an attestation layer at address reading from source.
func New(chain *ledger.Chain, address ledger.Address, source ReliabilitySource) (*Attestation, error) {
	if source == nil {
		return nil, ErrNoSource
	}
	return &Attestation{
		address:    address,
		chain:      chain,
		source:     source,
		epochStart: ledger.NewMap[ledger.Address, uint64](),
		epochCount: ledger.NewMap[ledger.Address, uint64](),
		lastAt:     ledger.NewMap[pair, uint64](),
		positive:   ledger.NewMap[ledger.Address, uint64](),
		negative:   ledger.NewMap[ledger.Address, uint64](),
	}, nil
}

// Address returns the contract address.
func (a *Attestation) Address() ledger.Address { return a.address }

// EpochStartFor returns the epoch-grid boundary containing now.
func EpochStartFor(now uint64) uint64 {
	return now / EpochDuration * EpochDuration
}

// plan is the outcome of a successful precondition check.
type plan struct {
	epochStart uint64
	count      uint64
	reset      bool
}

// check runs the precondition chain in order. Attest and CheckAttest both
// go through it.
func (a *Attestation) check(attestor, subject ledger.Address, now uint64) (plan, error) {
	alive, err := a.source.IsAlive(attestor)
	if err != nil {
		return plan{}, err
	}
	if !alive {
		return plan{}, ledger.NewRevert(ErrAttestorNotAlive, "attestor", attestor)
	}
	if subject == attestor {
		return plan{}, ledger.NewRevert(ErrSelfAttestation, "attestor", attestor)
	}
	alive, err = a.source.IsAlive(subject)
	if err != nil {
		return plan{}, err
	}
	if !alive {
		return plan{}, ledger.NewRevert(ErrSubjectNotRegistered, "subject", subject)
	}

	p := plan{count: a.epochCount.Lookup(attestor)}
	start, ok := a.epochStart.Get(attestor)
	if !ok || now >= start+EpochDuration {
		start = EpochStartFor(now)
		p.count = 0
		p.reset = true
	}
	p.epochStart = start

	if p.count >= MaxAttestationsPerEpoch {
		return plan{}, ledger.NewRevert(ErrMaxAttestationsReached,
			"attestor", attestor, "count", p.count, "max", MaxAttestationsPerEpoch)
	}
	if last, ok := a.lastAt.Get(pair{attestor, subject}); ok && last >= start {
		return plan{}, ledger.NewRevert(ErrAlreadyAttested,
			"attestor", attestor, "subject", subject, "last", last, "epoch_start", start)
	}
	return p, nil
}

// Attest records a positive or negative attestation from the sender about
// subject, weighted by the sender's current reliability score.
func (a *Attestation) Attest(tx *ledger.Tx, subject ledger.Address, positive bool) error {
	attestor := tx.Sender()
	now := tx.Timestamp()
	p, err := a.check(attestor, subject, now)
	if err != nil {
		return err
	}
	weight, err := a.source.ReliabilityScore(attestor)
	if err != nil {
		return err
	}

	if p.reset {
		a.epochStart.Set(tx, attestor, p.epochStart)
		tx.Emit(a.address, EpochReset{Attestor: attestor, EpochStart: p.epochStart})
	}
	a.epochCount.Set(tx, attestor, p.count+1)
	a.lastAt.Set(tx, pair{attestor, subject}, now)
	if positive {
		a.positive.Set(tx, subject, a.positive.Lookup(subject)+weight)
	} else {
		a.negative.Set(tx, subject, a.negative.Lookup(subject)+weight)
	}

	tx.Emit(a.address, AttestationSubmitted{
		Attestor:  attestor,
		Subject:   subject,
		Positive:  positive,
		Weight:    weight,
		Timestamp: now,
	})
	return nil
}

// CheckAttest returns the error Attest would fail with right now, or nil.
func (a *Attestation) CheckAttest(attestor, subject ledger.Address) error {
	_, err := a.check(attestor, subject, a.chain.Now())
	return err
}

// CanAttest reports whether attestor could attest about subject right now.
// Only a failing reliability source produces an error.
func (a *Attestation) CanAttest(attestor, subject ledger.Address) (bool, error) {
	err := a.CheckAttest(attestor, subject)
	if err == nil {
		return true, nil
	}
	var rv *ledger.Revert
	if errors.As(err, &rv) && isPrecondition(rv.Err) {
		return false, nil
	}
	return false, err
}

func isPrecondition(err error) bool {
	switch err {
	case ErrAttestorNotAlive, ErrSelfAttestation, ErrSubjectNotRegistered,
		ErrMaxAttestationsReached, ErrAlreadyAttested:
		return true
	}
	return false
}

// PositiveWeight returns the cumulative positive weight for subject.
func (a *Attestation) PositiveWeight(subject ledger.Address) uint64 {
	return a.positive.Lookup(subject)
}

// NegativeWeight returns the cumulative negative weight for subject.
func (a *Attestation) NegativeWeight(subject ledger.Address) uint64 {
	return a.negative.Lookup(subject)
}

// GetNetAttestationScore returns positive minus negative weight. It may be
// negative.
func (a *Attestation) GetNetAttestationScore(subject ledger.Address) *big.Int {
	pos := new(big.Int).SetUint64(a.positive.Lookup(subject))
	return pos.Sub(pos, new(big.Int).SetUint64(a.negative.Lookup(subject)))
}

// AttestationsThisEpoch returns how many attestations attestor has made in
// the current epoch.
func (a *Attestation) AttestationsThisEpoch(attestor ledger.Address) uint64 {
	start, ok := a.epochStart.Get(attestor)
	if !ok || a.chain.Now() >= start+EpochDuration {
		return 0
	}
	return a.epochCount.Lookup(attestor)
}

// AttestorEpochStart returns the stored epoch start for attestor, 0 if it
// has never attested.
func (a *Attestation) AttestorEpochStart(attestor ledger.Address) uint64 {
	return a.epochStart.Lookup(attestor)
}

// LastAttestationTime returns when attestor last attested about subject,
// 0 if never.
func (a *Attestation) LastAttestationTime(attestor, subject ledger.Address) uint64 {
	return a.lastAt.Lookup(pair{attestor, subject})
}
