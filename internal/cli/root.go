package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-policy-runtime/internal/infra"
)

// rootOptions — общие флаги всех команд.
type rootOptions struct {
	configFile string
	verbose    bool
	registry   string
}

func (o *rootOptions) logger() *zap.Logger {
	if !o.verbose {
		return zap.NewNop()
	}
	l, err := infra.NewLogger(infra.LoggerConfig{Level: "debug", Format: "console"})
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func (o *rootOptions) config() (*infra.Config, error) {
	return infra.LoadConfig(o.configFile)
}

// NewRootCmd собирает дерево команд policyctl.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "policyctl",
		Short:         "Offline tooling for the transaction admission policy runtime",
		Long:          "Validates and fingerprints policy documents, simulates intents against local counters, and inspects usage.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path to config.yaml (default: ./config.yaml or ./configs/config.yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging to stderr")
	root.PersistentFlags().StringVar(&opts.registry, "registry", "", "Token registry path (overrides TOKENS_CONFIG_PATH)")

	root.AddCommand(
		newValidateCmd(opts),
		newFingerprintCmd(opts),
		newSimulateCmd(opts),
		newStatusCmd(opts),
		newTokenCmd(opts),
		newHashTokenCmd(),
		newPauseCmd(opts),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
