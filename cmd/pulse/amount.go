package main

import (
	"fmt"
	"math/big"
	"strings"
)

const tokenDecimals = 18

// parseUnits converts a decimal token amount such as "1.5" into base units.
// With wei set the input is already in base units.
func parseUnits(s string, wei bool) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if wei {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok || v.Sign() < 0 {
			return nil, fmt.Errorf("invalid base-unit amount %q", s)
		}
		return v, nil
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > tokenDecimals {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, tokenDecimals)
	}
	digits := whole + frac + strings.Repeat("0", tokenDecimals-len(frac))
	if strings.ContainsAny(digits, "+-") {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// formatUnits renders base units as a decimal token amount.
func formatUnits(v *big.Int) string {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(tokenDecimals), nil)
	q, r := new(big.Int).QuoRem(v, unit, new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}
	rs := r.String()
	frac := strings.Repeat("0", tokenDecimals-len(rs)) + rs
	return q.String() + "." + strings.TrimRight(frac, "0")
}
