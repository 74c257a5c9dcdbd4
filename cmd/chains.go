package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var chainsCmd = &cobra.Command{
	Use:     "chains",
	Aliases: []string{"list-chains"},
	Short:   "List supported chains and vault deployments",
	Long: `List every chain the registry knows, whether the vault is deployed there,
and which tokens can be deposited.

Examples:
  vault-deposit chains
  vault-deposit chains --json`,
	Run: runChains,
}

func init() {
	rootCmd.AddCommand(chainsCmd)
}

func runChains(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := newApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	infos := a.registry.Chains()
	rpcURLs := a.cfg.RPCURLs()

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(infos, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHAIN ID\tNAME\tBRIDGE NAME\tVAULT\tBRIDGE\tRPC\tTOKENS")
	for _, info := range infos {
		vault := color.RedString("not deployed")
		if info.IsDeployed {
			vault = color.GreenString(shortAddress(info.Contracts.Vault))
		}

		bridgeAddr := "-"
		if info.Contracts.Bridge != (common.Address{}) {
			bridgeAddr = shortAddress(info.Contracts.Bridge)
		}

		rpc := color.YellowString("missing")
		if _, ok := rpcURLs[info.ChainID]; ok {
			rpc = "configured"
		}

		symbols := make([]string, 0, len(info.Tokens))
		for symbol := range info.Tokens {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)

		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			info.ChainID, info.DisplayName, info.BridgeSlug, vault, bridgeAddr, rpc, strings.Join(symbols, ", "))
	}
	w.Flush()
	fmt.Println()
}

func shortAddress(address common.Address) string {
	hex := address.Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}
