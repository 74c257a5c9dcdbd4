package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "vault-deposit",
	Short: "A CLI for depositing into the vault from any supported chain",
	Long: `vault-deposit deposits tokens into the vault, bridging them first when they
sit on another chain. Every deposit runs through validation, quoting, the
source transaction, the bridge and the destination settlement, and each step
is reported as it happens.

Examples:
  vault-deposit deposit 100 USDC --from-chain base
  vault-deposit deposit 0.5 ETH from arb to base
  vault-deposit quote 0.5 ETH from arb to base
  vault-deposit status <workflow-id | order-id> --watch
  vault-deposit history --in-flight`,
	Version:      "0.1.0",
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
}

// newLogger returns a development logger in verbose mode and a no-op logger otherwise
func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if !verbose {
		return zap.NewNop(), nil
	}
	return zap.NewDevelopment()
}

func printError(err error) {
	fmt.Printf("\nError: %v\n\n", err)
}
