package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"vault-deposit/pkg/types"
)

var (
	quoteFromChain string
	quoteToChain   string
	quoteRecipient string
)

var quoteCmd = &cobra.Command{
	Use:   "quote <amount> <token> [from <chain>] [to <chain>]",
	Short: "Get a bridge quote without depositing",
	Long: `Ask the bridge provider what a cross-chain deposit would cost. Nothing is
sent. Same-chain deposits always quote a zero bridge fee.

Examples:
  vault-deposit quote 0.5 ETH from arb to base
  vault-deposit quote 250 USDC --from-chain 421614 --to-chain 84532`,
	Args: cobra.MinimumNArgs(2),
	Run:  runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)

	quoteCmd.Flags().StringVar(&quoteFromChain, "from-chain", "", "Source chain")
	quoteCmd.Flags().StringVar(&quoteToChain, "to-chain", "", "Destination chain")
	quoteCmd.Flags().StringVar(&quoteRecipient, "recipient", "", "Recipient address used for the quote")
}

func runQuote(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := newApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	req, err := a.buildRequest(args, quoteFromChain, quoteToChain)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if quoteRecipient != "" {
		if !common.IsHexAddress(quoteRecipient) {
			printError(fmt.Errorf("invalid recipient address %q", quoteRecipient))
			os.Exit(1)
		}
		req.Recipient = common.HexToAddress(quoteRecipient)
	} else if wallet, clients, err := a.wallet(req.SourceChainID); err == nil {
		req.Recipient = wallet.Address()
		clients.Close()
	}

	quoter := a.quoteService(unusedProvider{})
	if req.IsCrossChain() {
		provider, _, err := a.provider()
		if err != nil {
			printError(err)
			os.Exit(1)
		}
		quoter = a.quoteService(provider)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching quote..."
		s.Start()
	}

	quote, err := quoter.GetQuote(context.Background(), req)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(quote, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayQuote(a, req, quote)
	}

	if !quote.Feasible {
		os.Exit(1)
	}
}

func displayQuote(a *app, req *types.DepositRequest, quote *types.Quote) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     BRIDGE QUOTE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  From:              %s %s on %s\n", req.Amount, color.YellowString(req.Token.Symbol), a.chainName(req.SourceChainID))
	fmt.Printf("  To:                %s\n", a.chainName(req.DestinationChainID))

	if !quote.Feasible {
		fmt.Printf("  Feasible:          %s\n", color.RedString("no"))
		fmt.Printf("  Reason:            %s\n", quote.ErrorSummary())
		fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
		return
	}

	fmt.Printf("  Feasible:          %s\n", color.GreenString("yes"))
	fmt.Printf("  Bridge Fee:        %s %s\n", quote.BridgeFee, req.Token.Symbol)
	fmt.Printf("  Minimum Received:  %s %s\n", quote.MinAmountOut, req.Token.Symbol)
	if !quote.MaxAmountOut.Equal(quote.MinAmountOut) {
		fmt.Printf("  Maximum Received:  %s %s\n", quote.MaxAmountOut, req.Token.Symbol)
	}
	if quote.EstimatedSeconds > 0 {
		fmt.Printf("  Estimated Time:    %d seconds\n", quote.EstimatedSeconds)
	}
	fmt.Printf("  Gas Fee:           %s\n", color.HiBlackString("paid by the wallet, not yet known"))
	if quote.DepositAddress != "" {
		fmt.Printf("  Deposit Address:   %s\n", color.CyanString(quote.DepositAddress))
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}
