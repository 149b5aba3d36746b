package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ssd-technologies/agentpulse/internal/client"
)

// adminCommand groups the owner-only calls. They are signed with --key like
// every other transaction.
func (a *app) adminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Owner-only contract administration",
	}
	cmd.AddCommand(
		a.pauseCommand("pause", "Suspend pulses, stakes and burns", (*client.Client).Pause),
		a.pauseCommand("unpause", "Resume a paused contract", (*client.Client).Unpause),
		a.signedCommand("transfer-ownership <token|registry|burner> <address>", "Nominate a new owner",
			cobra.MatchAll(cobra.ExactArgs(2), contractArg(0, "token", "registry", "burner")),
			func(ctx context.Context, c *client.Client, key ed25519.PrivateKey, args []string) (*client.Receipt, error) {
				return c.TransferOwnership(ctx, key, args[0], args[1])
			}),
		a.signedCommand("accept-ownership <token|registry|burner>", "Accept a pending nomination",
			cobra.MatchAll(cobra.ExactArgs(1), contractArg(0, "token", "registry", "burner")),
			func(ctx context.Context, c *client.Client, key ed25519.PrivateKey, args []string) (*client.Receipt, error) {
				return c.AcceptOwnership(ctx, key, args[0])
			}),
		a.signedCommand("set-ttl <duration>", "Set the registry liveness window", cobra.ExactArgs(1),
			func(ctx context.Context, c *client.Client, key ed25519.PrivateKey, args []string) (*client.Receipt, error) {
				d, err := client.ParseThreshold(args[0])
				if err != nil {
					return nil, err
				}
				if d < time.Second {
					return nil, fmt.Errorf("ttl %s is under a second", d)
				}
				return c.SetTTL(ctx, key, uint64(d/time.Second))
			}),
		a.signedCommand("set-fee-wallet <address>", "Set where burner fees go", cobra.ExactArgs(1),
			func(ctx context.Context, c *client.Client, key ed25519.PrivateKey, args []string) (*client.Receipt, error) {
				return c.SetFeeWallet(ctx, key, args[0])
			}),
		a.signedCommand("set-fee-bps <bps>", "Set the burner fee in basis points", cobra.ExactArgs(1),
			func(ctx context.Context, c *client.Client, key ed25519.PrivateKey, args []string) (*client.Receipt, error) {
				bps, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return nil, fmt.Errorf("invalid fee %q: %w", args[0], err)
				}
				return c.SetFeeBps(ctx, key, bps)
			}),
		a.amountCommand("set-min-pulse", "Set the smallest accepted pulse", (*client.Client).SetMinPulseAmount),
		a.amountCommand("set-min-burn", "Set the smallest accepted burn", (*client.Client).SetMinBurn),
	)
	return cmd
}

func contractArg(i int, valid ...string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		for _, v := range valid {
			if args[i] == v {
				return nil
			}
		}
		return fmt.Errorf("unknown contract %q, want one of %v", args[i], valid)
	}
}

type signedFunc func(ctx context.Context, c *client.Client, key ed25519.PrivateKey, args []string) (*client.Receipt, error)

func (a *app) signedCommand(use, short string, args cobra.PositionalArgs, fn signedFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.key()
			if err != nil {
				return err
			}
			r, err := fn(cmd.Context(), a.client(), key, args)
			if err != nil {
				return err
			}
			return a.printReceipt(cmd, r)
		},
	}
}

type pauseFunc func(c *client.Client, ctx context.Context, key ed25519.PrivateKey, contract string) (*client.Receipt, error)

func (a *app) pauseCommand(use, short string, fn pauseFunc) *cobra.Command {
	return a.signedCommand(use+" <registry|burner>", short,
		cobra.MatchAll(cobra.ExactArgs(1), contractArg(0, "registry", "burner")),
		func(ctx context.Context, c *client.Client, key ed25519.PrivateKey, args []string) (*client.Receipt, error) {
			return fn(c, ctx, key, args[0])
		})
}
