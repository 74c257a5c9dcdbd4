package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"vault-deposit/pkg/orchestrator"
	"vault-deposit/pkg/types"
)

var (
	fromChain     string
	toChain       string
	recipientAddr string
	noConfirm     bool
)

var depositCmd = &cobra.Command{
	Use:   "deposit <amount> <token> [from <chain>] [to <chain>]",
	Short: "Deposit tokens into the vault, bridging them when needed",
	Long: `Deposit tokens into the vault. When the destination chain differs from the
source chain, the tokens are bridged first and deposited on arrival.

Chains can be given by chain id, bridge name or display name.

Examples:
  # Same-chain deposit
  vault-deposit deposit 100 USDC --from-chain base

  # Cross-chain deposit
  vault-deposit deposit 0.5 ETH from arb to base

  # Skip the confirmation prompt
  vault-deposit deposit 0.5 ETH --from-chain 421614 --to-chain 84532 --yes`,
	Args: cobra.MinimumNArgs(2),
	Run:  runDeposit,
}

func init() {
	rootCmd.AddCommand(depositCmd)

	depositCmd.Flags().StringVar(&fromChain, "from-chain", "", "Source chain (defaults to wallet.chain_id)")
	depositCmd.Flags().StringVar(&toChain, "to-chain", "", "Destination chain (defaults to the source chain)")
	depositCmd.Flags().StringVar(&recipientAddr, "recipient", "", "Vault share recipient (defaults to the wallet address)")
	depositCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
}

func runDeposit(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := newApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer func() { _ = a.logger.Sync() }()

	req, err := a.buildRequest(args, fromChain, toChain)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	wallet, clients, err := a.wallet(req.SourceChainID)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer clients.Close()

	req.Recipient = wallet.Address()
	if recipientAddr != "" {
		if !common.IsHexAddress(recipientAddr) {
			printError(fmt.Errorf("invalid recipient address %q", recipientAddr))
			os.Exit(1)
		}
		req.Recipient = common.HexToAddress(recipientAddr)
	}

	orch, err := a.orchestrator(wallet, clients, req.IsCrossChain())
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if !jsonOutput {
		displayRequest(a, req)
	}

	if !noConfirm && !jsonOutput {
		if !confirmDeposit() {
			fmt.Println("\nDeposit cancelled.")
			os.Exit(0)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := orch.StartDeposit(ctx, *req)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	events, err := orch.Subscribe(handle)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	// Ctrl+C cancels the workflow; it still runs to a terminal state
	go func() {
		<-ctx.Done()
		if err := orch.Cancel(handle); err == nil && !jsonOutput {
			color.Yellow("\nCancelling deposit...")
		}
	}()

	renderEvents(events, jsonOutput)

	outcome, err := orch.Wait(context.Background(), handle)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if store, err := a.historyStore(); err != nil {
		color.Red("Failed to open history: %v", err)
	} else if err := store.Record(outcome); err != nil {
		color.Red("Failed to record deposit in history: %v", err)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(outcome, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayOutcome(a, outcome)
	}

	if !outcome.Succeeded() {
		os.Exit(1)
	}
}

// renderEvents prints workflow events until the stream closes. Long waits
// get a spinner.
func renderEvents(events <-chan orchestrator.Event, jsonOutput bool) {
	if jsonOutput {
		enc := json.NewEncoder(os.Stderr)
		for event := range events {
			_ = enc.Encode(event)
		}
		return
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	defer s.Stop()

	for event := range events {
		s.Stop()

		fmt.Printf("  %s %s", color.HiBlackString(event.Timestamp.Format("15:04:05")), coloredState(event.To))
		if event.Detail != "" && !event.To.IsTerminal() {
			fmt.Printf("  %s", event.Detail)
		}
		fmt.Println()

		if suffix, ok := waitingMessages[event.To]; ok {
			s.Suffix = " " + suffix
			s.Start()
		}
	}
}

var waitingMessages = map[orchestrator.State]string{
	orchestrator.StateSwitchingNetwork:                "Switching wallet network...",
	orchestrator.StateQuoting:                         "Fetching bridge quote...",
	orchestrator.StateSubmittingSource:                "Sending source transaction...",
	orchestrator.StateAwaitingSourceConfirmation:      "Waiting for source confirmation...",
	orchestrator.StateAwaitingBridgeCompletion:        "Waiting for the bridge...",
	orchestrator.StateSubmittingDestination:           "Sending vault deposit...",
	orchestrator.StateAwaitingDestinationConfirmation: "Waiting for vault deposit confirmation...",
}

func coloredState(state orchestrator.State) string {
	switch state {
	case orchestrator.StateCompleted:
		return color.GreenString(string(state))
	case orchestrator.StateFailed:
		return color.RedString(string(state))
	default:
		return color.CyanString(string(state))
	}
}

func displayRequest(a *app, req *types.DepositRequest) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                    VAULT DEPOSIT")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Amount:            %s %s\n", req.Amount, color.YellowString(req.Token.Symbol))
	fmt.Printf("  Source Chain:      %s\n", a.chainName(req.SourceChainID))
	fmt.Printf("  Destination Chain: %s\n", a.chainName(req.DestinationChainID))
	fmt.Printf("  Recipient:         %s\n", color.CyanString(req.Recipient.Hex()))
	if req.IsCrossChain() {
		fmt.Printf("  Route:             %s\n", color.MagentaString("bridged"))
	} else {
		fmt.Printf("  Route:             %s\n", "same chain")
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func displayOutcome(a *app, outcome *orchestrator.Outcome) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	if outcome.Succeeded() {
		color.Green("                  DEPOSIT COMPLETED")
	} else {
		color.Red("                   DEPOSIT FAILED")
	}
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Workflow:          %s\n", outcome.WorkflowID)
	if outcome.Quote != nil && outcome.Request.IsCrossChain() {
		fmt.Printf("  Bridge Fee:        %s %s\n", outcome.Quote.BridgeFee, outcome.Request.Token.Symbol)
	}
	if outcome.SourceTxHash != "" {
		fmt.Printf("  Source Tx:         %s (%s)\n", color.HiBlackString(outcome.SourceTxHash), a.chainName(outcome.Request.SourceChainID))
	}
	if outcome.Order != nil {
		fmt.Printf("  Bridge Order:      %s [%s]\n", outcome.Order.OrderID, getColoredStatus(outcome.Order.Status))
	}
	if outcome.DestinationTxHash != "" {
		fmt.Printf("  Destination Tx:    %s (%s)\n", color.HiBlackString(outcome.DestinationTxHash), a.chainName(outcome.Request.DestinationChainID))
	}
	fmt.Printf("  Duration:          %s\n", outcome.FinishedAt.Sub(outcome.StartedAt).Round(time.Second))

	if f := outcome.Failure; f != nil {
		fmt.Printf("\n  Failure:           %s during %s\n", color.RedString(string(f.Kind)), f.State)
		fmt.Printf("  Detail:            %s\n", f.Detail)
		if f.FundsInFlight() {
			color.Yellow("\n  Funds may still arrive. Track the order with:")
			color.Cyan("    vault-deposit status %s --watch", outcome.WorkflowID)
		} else if f.Retryable {
			color.Yellow("\n  This failure is transient; the deposit can be retried.")
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func confirmDeposit() bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Proceed with deposit? (y/N): ")

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
