package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrReentrantCall is returned when a guarded function is re-entered
// within the same transaction.
var ErrReentrantCall = errors.New("reentrant call")

// ErrCallDepth is returned when nested contract calls exceed MaxCallDepth.
var ErrCallDepth = errors.New("call depth exceeded")

// Field is one key/value detail attached to a Revert.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Revert is a named contract failure. Err is the sentinel the caller can
// match with errors.Is; Fields carry the offending values and limits.
type Revert struct {
	Err    error
	Fields []Field
}

// NewRevert builds a Revert from a sentinel and alternating key/value pairs.
func NewRevert(sentinel error, kv ...any) *Revert {
	r := &Revert{Err: sentinel}
	for i := 0; i+1 < len(kv); i += 2 {
		r.Fields = append(r.Fields, Field{Key: fmt.Sprint(kv[i]), Value: formatValue(kv[i+1])})
	}
	return r
}

func formatValue(v any) string {
	switch x := v.(type) {
	case *big.Int:
		if x == nil {
			return "0"
		}
		return x.String()
	case Address:
		return x.Hex()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

// Error implements error.
func (r *Revert) Error() string {
	if len(r.Fields) == 0 {
		return r.Err.Error()
	}
	parts := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		parts[i] = f.Key + "=" + f.Value
	}
	return r.Err.Error() + ": " + strings.Join(parts, ", ")
}

// Unwrap returns the sentinel.
func (r *Revert) Unwrap() error { return r.Err }

// Reason returns the sentinel message.
func (r *Revert) Reason() string { return r.Err.Error() }

// Detail returns the value recorded under key, or "".
func (r *Revert) Detail(key string) string {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return ""
}

// Details returns the fields as a map.
func (r *Revert) Details() map[string]string {
	out := make(map[string]string, len(r.Fields))
	for _, f := range r.Fields {
		out[f.Key] = f.Value
	}
	return out
}
