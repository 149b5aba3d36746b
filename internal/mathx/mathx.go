// Package mathx holds the integer helpers shared by the scoring and fee
// paths. Everything here floors; nothing touches floating point.
package mathx

import (
	"math/big"
	"math/bits"
)

// Log2 returns floor(log2(x)) for x >= 1. Log2(0) is 0; callers add 1
// before taking the log so the zero case never matters for scoring.
func Log2(x uint64) uint64 {
	if x == 0 {
		return 0
	}
	return uint64(bits.Len64(x) - 1)
}

// Log2Big is Log2 for arbitrary-precision values. Negative inputs are
// treated like zero.
func Log2Big(x *big.Int) uint64 {
	if x == nil || x.Sign() <= 0 {
		return 0
	}
	return uint64(x.BitLen() - 1)
}

// MinU64 returns the smaller of a and b.
func MinU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// ClampU64 bounds x to [lo, hi].
func ClampU64(x, lo, hi uint64) uint64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// MulDivFloor returns floor(a*b/d). d must be positive.
func MulDivFloor(a, b, d *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, d)
}

// Copy returns an independent copy of x, or zero when x is nil.
func Copy(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// Units returns floor(x / unit) as a big.Int.
func Units(x *big.Int, unit *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Quo(x, unit)
}
