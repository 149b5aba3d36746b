package registry

import "errors"

var (
	ErrBelowMinimum      = errors.New("amount below minimum pulse amount")
	ErrZeroAmount        = errors.New("amount must be positive")
	ErrAboveCeiling      = errors.New("value above hard ceiling")
	ErrInsufficientStake = errors.New("insufficient stake")
	ErrStakeLocked       = errors.New("stake lockup still active")
	ErrNotAlive          = errors.New("agent is not alive")
	ErrReliabilityTooLow = errors.New("reliability score too low")
	ErrInvalidConfig     = errors.New("invalid registry config")
)
