package client

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// millisThreshold: timestamps above this (year 2286 in seconds) are
// milliseconds.
const millisThreshold = 10_000_000_000

var thresholdRE = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([smhd])$`)

// ParseThreshold parses "24h", "15m", "2d", "30s" or a bare number of
// hours. The result must be positive.
func ParseThreshold(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	var v float64
	unit := time.Hour
	if m := thresholdRE.FindStringSubmatch(s); m != nil {
		v, _ = strconv.ParseFloat(m[1], 64)
		switch m[2] {
		case "s":
			unit = time.Second
		case "m":
			unit = time.Minute
		case "d":
			unit = 24 * time.Hour
		}
	} else {
		var err error
		v, err = strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf(`threshold %q must look like "24h", "15m", "2d", or a number of hours`, s)
		}
	}
	if v <= 0 {
		return 0, errors.New("threshold must be > 0")
	}
	return time.Duration(math.Round(v * float64(unit))), nil
}

// NormalizeAddress trims and lowercases an address, keeping a 0x prefix.
func NormalizeAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("empty address")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return "0x" + strings.ToLower(s[2:]), nil
	}
	return strings.ToLower(s), nil
}

// GetAgentStatus fetches GET /api/v2/agent/{address}/alive.
func (c *Client) GetAgentStatus(ctx context.Context, address string) (*Status, error) {
	norm, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := c.getJSON(ctx, c.baseURL+"/api/v2/agent/"+url.PathEscape(norm)+"/alive", &payload); err != nil {
		return nil, err
	}
	return parseStatus(norm, payload), nil
}

// parseStatus accepts both {"alive","lastPulse","streakCount"} and
// {"isAlive","lastPulseTimestamp","streak"}, preferring the former.
func parseStatus(address string, payload map[string]any) *Status {
	st := &Status{Address: address, Raw: payload}
	if v, ok := first(payload, "alive", "isAlive"); ok {
		if b, ok := v.(bool); ok {
			st.Alive = &b
		}
	}
	if v, ok := first(payload, "lastPulse", "lastPulseTimestamp"); ok {
		if ts, ok := toInt(v); ok {
			if ts > millisThreshold {
				ts /= 1000
			}
			st.LastPulseAt = &ts
		}
	}
	if v, ok := first(payload, "streakCount", "streak"); ok {
		if n, ok := toInt(v); ok {
			st.StreakCount = &n
		}
	}
	return st
}

func first(payload map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := payload[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		f, err := x.Float64()
		return int64(f), err == nil
	case float64:
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// Recent reports whether the agent pulsed within threshold of now. Without
// a timestamp the alive flag decides.
func (s *Status) Recent(now time.Time, threshold time.Duration) bool {
	if s.LastPulseAt == nil {
		return s.Alive != nil && *s.Alive
	}
	staleness := now.Unix() - *s.LastPulseAt
	if staleness < 0 {
		staleness = 0
	}
	return staleness <= int64(threshold/time.Second)
}

// GetReliability fetches the score of address.
func (c *Client) GetReliability(ctx context.Context, address string) (*Reliability, error) {
	norm, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	var r Reliability
	if err := c.getJSON(ctx, c.baseURL+"/api/v2/agent/"+url.PathEscape(norm)+"/reliability", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

type amountBody struct {
	Amount string `json:"amount"`
}

// Approve lets spender, a contract name or an address, pull amount.
func (c *Client) Approve(ctx context.Context, key ed25519.PrivateKey, spender string, amount *big.Int) (*Receipt, error) {
	return c.Submit(ctx, key, "approve", struct {
		Spender string `json:"spender"`
		Amount  string `json:"amount"`
	}{spender, amount.String()})
}

// Pulse burns amount into the registry sink.
func (c *Client) Pulse(ctx context.Context, key ed25519.PrivateKey, amount *big.Int) (*Receipt, error) {
	return c.Submit(ctx, key, "pulse", amountBody{amount.String()})
}

// Stake locks amount in the registry.
func (c *Client) Stake(ctx context.Context, key ed25519.PrivateKey, amount *big.Int) (*Receipt, error) {
	return c.Submit(ctx, key, "stake", amountBody{amount.String()})
}

// Unstake withdraws amount after the lockup.
func (c *Client) Unstake(ctx context.Context, key ed25519.PrivateKey, amount *big.Int) (*Receipt, error) {
	return c.Submit(ctx, key, "unstake", amountBody{amount.String()})
}

// Burn splits amount between the sink and the fee wallet.
func (c *Client) Burn(ctx context.Context, key ed25519.PrivateKey, amount *big.Int) (*Receipt, error) {
	return c.Submit(ctx, key, "burn", amountBody{amount.String()})
}

// Attest records a positive or negative attestation about subject.
func (c *Client) Attest(ctx context.Context, key ed25519.PrivateKey, subject string, positive bool) (*Receipt, error) {
	return c.Submit(ctx, key, "attest", struct {
		Subject  string `json:"subject"`
		Positive bool   `json:"positive"`
	}{subject, positive})
}
