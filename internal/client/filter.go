package client

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds parallel lookups in FilterAlive.
const DefaultConcurrency = 8

// FilterOptions tunes FilterAlive. Start from DefaultFilterOptions; the
// zero value returns lookup errors instead of dropping the agent.
type FilterOptions struct {
	// DropOnError excludes agents whose status cannot be fetched.
	DropOnError bool
	Concurrency int
	Now         func() time.Time
}

// DefaultFilterOptions drops errored agents and runs up to
// DefaultConcurrency lookups at once.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{DropOnError: true, Concurrency: DefaultConcurrency}
}

// FilterAlive keeps the agents that pulsed within threshold, preserving
// input order. addressOf extracts each agent's address.
func FilterAlive[T any](ctx context.Context, c *Client, agents []T, threshold time.Duration, addressOf func(T) (string, error), opts FilterOptions) ([]T, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("threshold must be > 0")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	now := opts.Now()

	keep := make([]bool, len(agents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, a := range agents {
		g.Go(func() error {
			addr, err := addressOf(a)
			if err == nil {
				var st *Status
				if st, err = c.GetAgentStatus(gctx, addr); err == nil {
					keep[i] = st.Recent(now, threshold)
					return nil
				}
			}
			if opts.DropOnError {
				return nil
			}
			return fmt.Errorf("check agent %d: %w", i, err)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]T, 0, len(agents))
	for i, a := range agents {
		if keep[i] {
			out = append(out, a)
		}
	}
	return out, nil
}

// FilterAddresses is FilterAlive over plain addresses.
func (c *Client) FilterAddresses(ctx context.Context, addresses []string, threshold time.Duration, opts FilterOptions) ([]string, error) {
	return FilterAlive(ctx, c, addresses, threshold, NormalizeAddress, opts)
}
