// pulse is the agent-side CLI: key management, liveness lookups and signed
// transactions against a pulsed node.
//
// Usage:
//
//	pulse keygen
//	pulse address
//	pulse status <address>...
//	pulse filter --threshold 24h <address>...
//	pulse approve <registry|burner|address> <amount>
//	pulse pulse <amount>
//	pulse stake <amount>
//	pulse unstake <amount>
//	pulse attest <address> [--negative]
//	pulse burn <amount>
//	pulse admin <pause|unpause|set-ttl|...>
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ssd-technologies/agentpulse/internal/agent"
	"github.com/ssd-technologies/agentpulse/internal/client"
	"github.com/ssd-technologies/agentpulse/internal/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries the settings shared by every subcommand.
type app struct {
	v      *viper.Viper
	logger *zap.Logger
}

func defaultKeyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "agent.key"
	}
	return filepath.Join(home, ".agentpulse", "agent.key")
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New(), logger: zap.NewNop()}
	root := &cobra.Command{
		Use:          "pulse",
		Short:        "Agent liveness client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !a.v.GetBool("verbose") {
				return nil
			}
			l, err := logging.New(logging.Options{Development: true, Verbose: true})
			if err != nil {
				return err
			}
			a.logger = l
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.String("api", client.DefaultBaseURL, "pulsed base URL")
	pf.String("key", defaultKeyPath(), "Ed25519 private key file")
	pf.Duration("timeout", client.DefaultTimeout, "Per-request timeout")
	pf.Int("retries", client.DefaultMaxRetries, "Retries for transient lookup failures")
	pf.Bool("json", false, "Print JSON")
	pf.BoolP("verbose", "v", false, "Enable debug logging")
	_ = a.v.BindPFlags(pf)
	a.v.SetEnvPrefix("AGENTPULSE")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		a.keygenCommand(),
		a.addressCommand(),
		a.statusCommand(),
		a.filterCommand(),
		a.approveCommand(),
		a.amountCommand("pulse", "Pulse to prove liveness, burning the amount", (*client.Client).Pulse),
		a.amountCommand("stake", "Stake tokens in the registry", (*client.Client).Stake),
		a.amountCommand("unstake", "Withdraw staked tokens after the lockup", (*client.Client).Unstake),
		a.amountCommand("burn", "Burn tokens with the fee split", (*client.Client).Burn),
		a.attestCommand(),
		a.adminCommand(),
	)
	return root
}

func (a *app) client() *client.Client {
	retries := a.v.GetInt("retries")
	if retries == 0 {
		retries = -1
	}
	return client.New(client.Options{
		BaseURL:    a.v.GetString("api"),
		Timeout:    a.v.GetDuration("timeout"),
		MaxRetries: retries,
		Logger:     a.logger,
	})
}

func (a *app) key() (ed25519.PrivateKey, error) {
	return agent.LoadKey(a.v.GetString("key"))
}

func (a *app) print(w io.Writer, v any, text func() string) error {
	if a.v.GetBool("json") {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text())
	return err
}

func (a *app) keygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new agent key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.v.GetString("key")
			priv, err := agent.GenerateKey(path)
			if err != nil {
				return err
			}
			pub := priv.Public().(ed25519.PublicKey)
			out := map[string]string{
				"key_file":   path,
				"public_key": hex.EncodeToString(pub),
				"address":    agent.AddressFromPublicKey(pub).Hex(),
			}
			return a.print(cmd.OutOrStdout(), out, func() string {
				return fmt.Sprintf("Wrote %s\nAddress: %s", path, out["address"])
			})
		},
	}
}

func (a *app) addressCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the address of the agent key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, err := a.key()
			if err != nil {
				return err
			}
			addr := agent.AddressFromPublicKey(priv.Public().(ed25519.PublicKey)).Hex()
			return a.print(cmd.OutOrStdout(), map[string]string{"address": addr}, func() string { return addr })
		},
	}
}

type statusView struct {
	Address     string              `json:"address"`
	Alive       *bool               `json:"alive"`
	LastPulseAt *int64              `json:"lastPulse"`
	StreakCount *int64              `json:"streakCount"`
	Reliability *client.Reliability `json:"reliability,omitempty"`
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <address>...",
		Short: "Show liveness and reliability of agents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.client()
			views := make([]statusView, 0, len(args))
			for _, addr := range args {
				st, err := c.GetAgentStatus(cmd.Context(), addr)
				if err != nil {
					return err
				}
				rel, err := c.GetReliability(cmd.Context(), addr)
				if err != nil {
					return err
				}
				views = append(views, statusView{st.Address, st.Alive, st.LastPulseAt, st.StreakCount, rel})
			}
			return a.print(cmd.OutOrStdout(), views, func() string {
				var b strings.Builder
				for i, v := range views {
					if i > 0 {
						b.WriteByte('\n')
					}
					fmt.Fprintf(&b, "%s alive=%t", v.Address, v.Alive != nil && *v.Alive)
					if v.LastPulseAt != nil && *v.LastPulseAt > 0 {
						fmt.Fprintf(&b, " last_pulse=%s", time.Unix(*v.LastPulseAt, 0).UTC().Format(time.RFC3339))
					}
					if v.StreakCount != nil {
						fmt.Fprintf(&b, " streak=%d", *v.StreakCount)
					}
					fmt.Fprintf(&b, " score=%d tier=%s", v.Reliability.Score, v.Reliability.Tier)
				}
				return b.String()
			})
		},
	}
}

func (a *app) filterCommand() *cobra.Command {
	var threshold string
	var strict bool
	var concurrency int
	cmd := &cobra.Command{
		Use:   "filter <address>...",
		Short: "Print the agents that pulsed within the threshold",
		Long:  "Print the agents that pulsed within the threshold, in input order. With no arguments addresses are read from stdin, one per line.",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := client.ParseThreshold(threshold)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				args = strings.Fields(string(data))
			}
			opts := client.DefaultFilterOptions()
			opts.DropOnError = !strict
			opts.Concurrency = concurrency
			alive, err := a.client().FilterAddresses(cmd.Context(), args, d, opts)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), alive, func() string { return strings.Join(alive, "\n") })
		},
	}
	cmd.Flags().StringVar(&threshold, "threshold", "24h", `Maximum staleness ("24h", "15m", "2d", or hours)`)
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail on lookup errors instead of dropping the agent")
	cmd.Flags().IntVar(&concurrency, "concurrency", client.DefaultConcurrency, "Parallel lookups")
	return cmd
}

func (a *app) printReceipt(cmd *cobra.Command, r *client.Receipt) error {
	return a.print(cmd.OutOrStdout(), r, func() string {
		names := make([]string, len(r.Logs))
		for i, l := range r.Logs {
			names[i] = l.Name
		}
		return fmt.Sprintf("tx %s at height %d: %s", r.TxHash, r.Height, strings.Join(names, ", "))
	})
}

func (a *app) approveCommand() *cobra.Command {
	var wei bool
	cmd := &cobra.Command{
		Use:   "approve <registry|burner|address> <amount>",
		Short: "Allow a contract to pull tokens",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseUnits(args[1], wei)
			if err != nil {
				return err
			}
			key, err := a.key()
			if err != nil {
				return err
			}
			r, err := a.client().Approve(cmd.Context(), key, args[0], amt)
			if err != nil {
				return err
			}
			return a.printReceipt(cmd, r)
		},
	}
	cmd.Flags().BoolVar(&wei, "wei", false, "Amount is in base units")
	return cmd
}

type amountFunc func(c *client.Client, ctx context.Context, key ed25519.PrivateKey, amount *big.Int) (*client.Receipt, error)

func (a *app) amountCommand(use, short string, fn amountFunc) *cobra.Command {
	var wei bool
	cmd := &cobra.Command{
		Use:   use + " <amount>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseUnits(args[0], wei)
			if err != nil {
				return err
			}
			key, err := a.key()
			if err != nil {
				return err
			}
			r, err := fn(a.client(), cmd.Context(), key, amt)
			if err != nil {
				return err
			}
			if !a.v.GetBool("json") {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s tokens\n", use, formatUnits(amt))
			}
			return a.printReceipt(cmd, r)
		},
	}
	cmd.Flags().BoolVar(&wei, "wei", false, "Amount is in base units")
	return cmd
}

func (a *app) attestCommand() *cobra.Command {
	var negative bool
	cmd := &cobra.Command{
		Use:   "attest <address>",
		Short: "Attest to another agent's reliability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.key()
			if err != nil {
				return err
			}
			r, err := a.client().Attest(cmd.Context(), key, args[0], !negative)
			if err != nil {
				return err
			}
			return a.printReceipt(cmd, r)
		},
	}
	cmd.Flags().BoolVar(&negative, "negative", false, "Submit a negative attestation")
	return cmd
}
