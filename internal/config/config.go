// Package config loads the pulsed daemon configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ssd-technologies/agentpulse/internal/burner"
	"github.com/ssd-technologies/agentpulse/internal/ledger"
	"github.com/ssd-technologies/agentpulse/internal/registry"
)

// Config holds the entire daemon configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Chain    ChainConfig    `yaml:"chain" mapstructure:"chain"`
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Burner   BurnerConfig   `yaml:"burner" mapstructure:"burner"`
	Indexer  IndexerConfig  `yaml:"indexer" mapstructure:"indexer"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	RateLimit       int           `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateWindow      time.Duration `yaml:"rate_window" mapstructure:"rate_window"`
	AuthWindow      time.Duration `yaml:"auth_window" mapstructure:"auth_window"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	StreamBuffer    int           `yaml:"stream_buffer" mapstructure:"stream_buffer"`
}

// Allocation mints Amount base units to Address at genesis.
type Allocation struct {
	Address string `yaml:"address" mapstructure:"address"`
	Amount  string `yaml:"amount" mapstructure:"amount"`
}

// ChainConfig configures the execution host and token.
type ChainConfig struct {
	Owner       string       `yaml:"owner" mapstructure:"owner"`
	TokenName   string       `yaml:"token_name" mapstructure:"token_name"`
	TokenSymbol string       `yaml:"token_symbol" mapstructure:"token_symbol"`
	Genesis     []Allocation `yaml:"genesis,omitempty" mapstructure:"genesis"`
}

// RegistryConfig configures the liveness registry.
type RegistryConfig struct {
	TTL            time.Duration `yaml:"ttl" mapstructure:"ttl"`
	MinPulseAmount string        `yaml:"min_pulse_amount" mapstructure:"min_pulse_amount"`
	StakeLockup    time.Duration `yaml:"stake_lockup" mapstructure:"stake_lockup"`
	Sink           string        `yaml:"sink" mapstructure:"sink"`
}

// BurnerConfig configures the fee-split burner.
type BurnerConfig struct {
	FeeWallet string `yaml:"fee_wallet" mapstructure:"fee_wallet"`
	FeeBps    uint64 `yaml:"fee_bps" mapstructure:"fee_bps"`
	MinBurn   string `yaml:"min_burn" mapstructure:"min_burn"`
}

// IndexerConfig configures the event indexer and its SQLite cache.
type IndexerConfig struct {
	DatabasePath      string        `yaml:"database_path" mapstructure:"database_path"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval" mapstructure:"reconcile_interval"`
	Staleness         time.Duration `yaml:"staleness" mapstructure:"staleness"`
	Buffer            int           `yaml:"buffer" mapstructure:"buffer"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level       string `yaml:"level" mapstructure:"level"` // debug, info, warn, error
	Development bool   `yaml:"development" mapstructure:"development"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RateLimit:       120,
			RateWindow:      time.Minute,
			AuthWindow:      5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			StreamBuffer:    256,
		},
		Chain: ChainConfig{
			TokenName:   "Pulse",
			TokenSymbol: "PULSE",
		},
		Registry: RegistryConfig{
			TTL:            time.Duration(registry.DefaultTTL) * time.Second,
			MinPulseAmount: registry.DefaultMinPulseAmount.String(),
			StakeLockup:    time.Duration(registry.DefaultStakeLockup) * time.Second,
			Sink:           ledger.DeadAddress.Hex(),
		},
		Burner: BurnerConfig{
			FeeBps:  burner.DefaultFeeBps,
			MinBurn: burner.DefaultMinBurn.String(),
		},
		Indexer: IndexerConfig{
			DatabasePath:      "data/agentpulse.db",
			ReconcileInterval: time.Minute,
			Staleness:         5 * time.Minute,
			Buffer:            1024,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file over the defaults. A missing
// file yields the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("AGENTPULSE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("AGENTPULSE_DB"); v != "" {
		c.Indexer.DatabasePath = v
	}
	if v := os.Getenv("AGENTPULSE_OWNER"); v != "" {
		c.Chain.Owner = v
	}
	if v := os.Getenv("AGENTPULSE_FEE_WALLET"); v != "" {
		c.Burner.FeeWallet = v
	}
	if v := os.Getenv("AGENTPULSE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AGENTPULSE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("AGENTPULSE_TTL: %w", err)
		}
		c.Registry.TTL = d
	}
	if v := os.Getenv("AGENTPULSE_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AGENTPULSE_RATE_LIMIT: %w", err)
		}
		c.Server.RateLimit = n
	}
	return nil
}

// Resolved is a validated configuration with every field parsed into the
// types the contracts take.
type Resolved struct {
	Owner          ledger.Address
	FeeWallet      ledger.Address
	Sink           ledger.Address
	TTL            uint64 // seconds
	StakeLockup    uint64 // seconds
	MinPulseAmount *big.Int
	MinBurn        *big.Int
	Genesis        []Mint
}

// Mint is one parsed genesis allocation.
type Mint struct {
	To     ledger.Address
	Amount *big.Int
}

// Validate checks the configuration against the same ceilings the
// contracts enforce.
func (c *Config) Validate() error {
	_, err := c.Resolve()
	return err
}

// Resolve validates the configuration and returns its parsed values.
func (c *Config) Resolve() (*Resolved, error) {
	var r Resolved
	var err error
	if r.Owner, err = c.OwnerAddress(); err != nil {
		return nil, err
	}
	if r.FeeWallet, err = c.FeeWalletAddress(); err != nil {
		return nil, err
	}
	if r.Sink, err = c.SinkAddress(); err != nil {
		return nil, err
	}

	ttl := c.Registry.TTL
	if ttl <= 0 || ttl%time.Second != 0 {
		return nil, fmt.Errorf("registry.ttl must be a positive whole number of seconds, got %s", ttl)
	}
	if uint64(ttl/time.Second) > registry.MaxTTL {
		return nil, fmt.Errorf("registry.ttl %s exceeds maximum %ds", ttl, registry.MaxTTL)
	}
	r.TTL = uint64(ttl / time.Second)
	if c.Registry.StakeLockup < 0 || c.Registry.StakeLockup%time.Second != 0 {
		return nil, fmt.Errorf("registry.stake_lockup must be a whole number of seconds, got %s", c.Registry.StakeLockup)
	}
	r.StakeLockup = uint64(c.Registry.StakeLockup / time.Second)

	if r.MinPulseAmount, err = c.MinPulseAmount(); err != nil {
		return nil, err
	}
	if r.MinPulseAmount.Sign() <= 0 || r.MinPulseAmount.Cmp(registry.MaxMinPulseAmount) > 0 {
		return nil, fmt.Errorf("registry.min_pulse_amount %s out of range (0, %s]", r.MinPulseAmount, registry.MaxMinPulseAmount)
	}

	if c.Burner.FeeBps > burner.MaxFeeBps {
		return nil, fmt.Errorf("burner.fee_bps %d exceeds maximum %d", c.Burner.FeeBps, burner.MaxFeeBps)
	}
	if r.MinBurn, err = c.MinBurn(); err != nil {
		return nil, err
	}
	if r.MinBurn.Sign() <= 0 {
		return nil, fmt.Errorf("burner.min_burn must be positive, got %s", r.MinBurn)
	}

	for i, a := range c.Chain.Genesis {
		to, err := ledger.ParseAddress(a.Address)
		if err != nil {
			return nil, fmt.Errorf("chain.genesis[%d].address: %w", i, err)
		}
		amt, err := ParseAmount(a.Amount)
		if err != nil || amt.Sign() <= 0 {
			return nil, fmt.Errorf("chain.genesis[%d].amount %q must be a positive integer", i, a.Amount)
		}
		r.Genesis = append(r.Genesis, Mint{To: to, Amount: amt})
	}

	if c.Server.RateLimit <= 0 || c.Server.RateWindow <= 0 {
		return nil, fmt.Errorf("server.rate_limit and server.rate_window must be positive")
	}
	if c.Indexer.ReconcileInterval <= 0 || c.Indexer.Staleness <= 0 {
		return nil, fmt.Errorf("indexer.reconcile_interval and indexer.staleness must be positive")
	}
	return &r, nil
}

// ParseAmount parses a base-10 integer amount in base units.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// OwnerAddress returns the parsed contract owner.
func (c *Config) OwnerAddress() (ledger.Address, error) {
	if c.Chain.Owner == "" {
		return ledger.Address{}, fmt.Errorf("chain.owner is required (set AGENTPULSE_OWNER)")
	}
	a, err := ledger.ParseAddress(c.Chain.Owner)
	if err != nil {
		return ledger.Address{}, fmt.Errorf("chain.owner: %w", err)
	}
	return a, nil
}

// FeeWalletAddress returns the parsed fee wallet, defaulting to the owner.
func (c *Config) FeeWalletAddress() (ledger.Address, error) {
	if c.Burner.FeeWallet == "" {
		return c.OwnerAddress()
	}
	a, err := ledger.ParseAddress(c.Burner.FeeWallet)
	if err != nil {
		return ledger.Address{}, fmt.Errorf("burner.fee_wallet: %w", err)
	}
	return a, nil
}

// SinkAddress returns the parsed pulse sink, defaulting to the dead address.
func (c *Config) SinkAddress() (ledger.Address, error) {
	if c.Registry.Sink == "" {
		return ledger.DeadAddress, nil
	}
	a, err := ledger.ParseAddress(c.Registry.Sink)
	if err != nil {
		return ledger.Address{}, fmt.Errorf("registry.sink: %w", err)
	}
	return a, nil
}

// MinPulseAmount returns the parsed pulse floor.
func (c *Config) MinPulseAmount() (*big.Int, error) {
	v, err := ParseAmount(c.Registry.MinPulseAmount)
	if err != nil {
		return nil, fmt.Errorf("registry.min_pulse_amount: %w", err)
	}
	return v, nil
}

// MinBurn returns the parsed burn floor.
func (c *Config) MinBurn() (*big.Int, error) {
	v, err := ParseAmount(c.Burner.MinBurn)
	if err != nil {
		return nil, fmt.Errorf("burner.min_burn: %w", err)
	}
	return v, nil
}
