package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wayneos/wayned/internal/config"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile string
	debug   bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "wayned",
	Short: "wayned - natural-language kernel sessions",
	Long: `wayned runs one kernel process per connected client and drives it with
free-form commands resolved by a language-interpretation service.

Run the daemon:
  wayned serve
  wayned serve --listen 127.0.0.1:8000

Talk to a running daemon:
  wayned attach --distribution wayneos-top

Try the interpreter without a kernel:
  wayned interpret "show me system information"

Inspect past sessions:
  wayned ps
  wayned prune`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if debug {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.wayned/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// loadConfig loads the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Debug("configuration loaded",
		zap.String("listen", cfg.Server.Listen),
		zap.String("kernel", cfg.Kernel.Binary),
		zap.String("distribution", cfg.Session.DefaultDistribution))
	return cfg, nil
}
