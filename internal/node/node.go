// Package node assembles the execution host and the contract family into
// one deployment.
package node

import (
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/ssd-technologies/agentpulse/internal/attestation"
	"github.com/ssd-technologies/agentpulse/internal/burner"
	"github.com/ssd-technologies/agentpulse/internal/config"
	"github.com/ssd-technologies/agentpulse/internal/ledger"
	"github.com/ssd-technologies/agentpulse/internal/registry"
	"github.com/ssd-technologies/agentpulse/internal/token"
)

// Node is a deployed contract family on one chain.
type Node struct {
	Chain       *ledger.Chain
	Token       *token.Token
	Registry    *registry.Registry
	Attestation *attestation.Attestation
	Burner      *burner.Burner
	Owner       ledger.Address
}

// Contract addresses are derived from the owner and a fixed deploy order.
const (
	nonceToken = iota
	nonceRegistry
	nonceAttestation
	nonceBurner
)

// Deploy validates cfg, creates a chain reading time from clock, deploys
// every contract owned by the configured owner and mints the genesis
// allocations.
func Deploy(cfg *config.Config, clock ledger.Clock, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rc, err := cfg.Resolve()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	owner := rc.Owner

	chain := ledger.NewChain(clock, ledger.WithLogger(logger.Named("chain")))
	n := &Node{Chain: chain, Owner: owner}

	n.Token = token.New(ledger.CreateAddress(owner, nonceToken), owner, cfg.Chain.TokenName, cfg.Chain.TokenSymbol, 18)

	reg, err := registry.New(chain, registry.Config{
		Address:        ledger.CreateAddress(owner, nonceRegistry),
		Owner:          owner,
		Token:          n.Token,
		Sink:           rc.Sink,
		TTL:            rc.TTL,
		MinPulseAmount: rc.MinPulseAmount,
		StakeLockup:    rc.StakeLockup,
	})
	if err != nil {
		return nil, fmt.Errorf("deploy registry: %w", err)
	}
	n.Registry = reg

	att, err := attestation.New(chain, ledger.CreateAddress(owner, nonceAttestation), attestation.Views(reg))
	if err != nil {
		return nil, fmt.Errorf("deploy attestation: %w", err)
	}
	n.Attestation = att

	b, err := burner.New(burner.Config{
		Address:   ledger.CreateAddress(owner, nonceBurner),
		Owner:     owner,
		Token:     n.Token,
		Sink:      rc.Sink,
		FeeWallet: rc.FeeWallet,
		FeeBps:    cfg.Burner.FeeBps,
		MinBurn:   rc.MinBurn,
	})
	if err != nil {
		return nil, fmt.Errorf("deploy burner: %w", err)
	}
	n.Burner = b

	if len(rc.Genesis) > 0 {
		_, err := chain.Execute(owner, func(tx *ledger.Tx) error {
			for _, m := range rc.Genesis {
				if err := n.Token.Mint(tx, m.To, m.Amount); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("mint genesis: %w", err)
		}
	}

	logger.Info("contracts deployed",
		zap.String("owner", owner.Hex()),
		zap.String("token", n.Token.Address().Hex()),
		zap.String("registry", reg.Address().Hex()),
		zap.String("attestation", att.Address().Hex()),
		zap.String("burner", b.Address().Hex()),
		zap.Int("genesis", len(rc.Genesis)))
	return n, nil
}

// Contracts lists the deployed contract addresses by name.
func (n *Node) Contracts() map[string]ledger.Address {
	return map[string]ledger.Address{
		"token":       n.Token.Address(),
		"registry":    n.Registry.Address(),
		"attestation": n.Attestation.Address(),
		"burner":      n.Burner.Address(),
	}
}

// Spender resolves the contract an approval is meant for.
func (n *Node) Spender(name string) (ledger.Address, bool) {
	a, ok := n.Contracts()[name]
	return a, ok && name != "token"
}

// Balance returns account's token balance under the chain read lock.
func (n *Node) Balance(account ledger.Address) *big.Int {
	return ledger.Read(n.Chain, func() *big.Int { return n.Token.BalanceOf(account) })
}
