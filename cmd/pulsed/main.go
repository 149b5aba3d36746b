// pulsed runs the liveness registry node: the contracts, the SQLite
// indexer and the HTTP API.
//
// Usage:
//
//	pulsed serve [--config pulsed.yaml] [--addr :8080] [--db data/agentpulse.db] [--owner 0x...]
//	pulsed version
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ssd-technologies/agentpulse/internal/config"
	"github.com/ssd-technologies/agentpulse/internal/server"
)

// Set by the linker.
var (
	version = "dev"
	commit  = "none"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "pulsed",
		Short:         "Agent liveness and reliability registry node",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file (YAML)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(newServeCommand())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pulsed %s (%s) %s %s/%s\n", version, commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	})
	server.Version = version
	return root
}

// loadConfig reads the YAML file and environment, then applies flags that
// were set explicitly.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("indexer.database_path") {
		cfg.Indexer.DatabasePath = v.GetString("indexer.database_path")
	}
	if v.IsSet("chain.owner") {
		cfg.Chain.Owner = v.GetString("chain.owner")
	}
	if v.IsSet("logging.level") {
		cfg.Logging.Level = v.GetString("logging.level")
	}
	if v.IsSet("server.rate_limit") {
		cfg.Server.RateLimit = v.GetInt("server.rate_limit")
	}
	return cfg, nil
}
