package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wayneos/wayned/internal/distribution"
	"github.com/wayneos/wayned/internal/interpreter"
)

var interpretDistribution string

var interpretCmd = &cobra.Command{
	Use:   "interpret <text>...",
	Short: "Resolve a command into a structured action without a kernel",
	Long: `Send one command to the interpretation service and print the resulting
action as JSON. Useful to check credentials and distribution prompts.

Example:
  wayned interpret -d wayneos-financial "reconcile last month's accounts"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInterpret,
}

func init() {
	rootCmd.AddCommand(interpretCmd)
	interpretCmd.Flags().StringVarP(&interpretDistribution, "distribution", "d", "", "distribution whose capabilities are offered (default from config)")
}

func runInterpret(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dist := cfg.DefaultDistribution()
	if interpretDistribution != "" {
		if dist, err = distribution.Parse(interpretDistribution); err != nil {
			return err
		}
	}

	client := interpreter.New(interpreterConfig(cfg), logger)
	action := client.Interpret(cmd.Context(), strings.Join(args, " "), dist)

	out, err := json.MarshalIndent(action, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode action: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if !action.Forwardable() {
		return nil
	}
	if !dist.Supports(action.Action) {
		fmt.Fprintf(cmd.ErrOrStderr(), "note: %q is not a %s capability\n", action.Action, dist)
	}
	return nil
}
