package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"vault-deposit/pkg/bridge"
	"vault-deposit/pkg/orchestrator"
	"vault-deposit/pkg/types"
)

var (
	watchStatus   bool
	watchInterval int
)

var statusCmd = &cobra.Command{
	Use:   "status <workflow-id | order-id>",
	Short: "Check the status of a bridge order",
	Long: `Check the bridge status of a deposit, either by the workflow id recorded in
history or directly by the bridge order id.

Use --watch to keep polling until the order is fulfilled or failed. This is
how deposits that ended with funds still in flight are followed up.

Examples:
  vault-deposit status 3f1c...
  vault-deposit status 0x1234...abcd --watch
  vault-deposit status 0x1234...abcd --watch --interval 10`,
	Args: cobra.ExactArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch status updates until the order is final")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 0, "Polling interval in seconds when watching (defaults to timeouts.poll_interval)")
}

func runStatus(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := newApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	orderID := args[0]
	if store, err := a.historyStore(); err == nil {
		if outcome, err := store.Get(args[0]); err == nil {
			if outcome.Order == nil {
				printError(fmt.Errorf("workflow %s ended in %s before a bridge order existed", outcome.WorkflowID, outcome.State))
				os.Exit(1)
			}
			orderID = outcome.Order.OrderID
			if !jsonOutput {
				displayRecorded(outcome)
			}
		}
	}

	provider, _, err := a.provider()
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if watchStatus {
		watchOrderStatus(a, provider, orderID, jsonOutput)
	} else {
		checkOrderStatus(provider, orderID, jsonOutput)
	}
}

func checkOrderStatus(provider bridge.Provider, orderID string, jsonOutput bool) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Checking order status..."
		s.Start()
	}

	order, err := provider.OrderStatus(context.Background(), orderID)
	if !jsonOutput {
		s.Stop()
	}

	if errors.Is(err, types.ErrOrderNotFound) {
		order, err = &types.BridgeOrder{OrderID: orderID, Status: types.OrderPending, ProviderStatus: "NOT_INDEXED"}, nil
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(order, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayOrder(order)
	}
}

// watchOrderStatus follows the order with the same poller the deposit
// workflow uses, bounded by the bridge deadline
func watchOrderStatus(a *app, provider bridge.Provider, orderID string, jsonOutput bool) {
	interval := a.cfg.Timeouts.PollInterval
	if watchInterval > 0 {
		interval = time.Duration(watchInterval) * time.Second
	}

	if !jsonOutput {
		fmt.Printf("\nWatching bridge order %s\n", color.CyanString(orderID))
		fmt.Printf("Checking every %s. Press Ctrl+C to stop.\n\n", interval)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poller := bridge.NewPoller(provider,
		bridge.WithPollInterval(interval),
		bridge.WithPollerLogger(a.logger.Named("poller")))

	order, err := poller.PollUntilTerminal(ctx, orderID, time.Now().Add(a.cfg.Timeouts.BridgeDeadline))

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(order, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayOrder(order)
	}

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		color.Yellow("Stopped watching. The order is still %s.", order.Status)
	case errors.Is(err, bridge.ErrBridgeTimeout):
		color.Yellow("Order still pending after %s. Funds may still arrive.", a.cfg.Timeouts.BridgeDeadline)
		os.Exit(1)
	default:
		printError(err)
		os.Exit(1)
	}
}

func displayRecorded(outcome *orchestrator.Outcome) {
	fmt.Printf("\n  Workflow:        %s\n", outcome.WorkflowID)
	fmt.Printf("  Deposit:         %s %s\n", outcome.Request.Amount, outcome.Request.Token.Symbol)
	fmt.Printf("  Ended In:        %s\n", coloredState(outcome.State))
	if outcome.Failure != nil {
		fmt.Printf("  Failure:         %s\n", outcome.Failure.Kind)
	}
}

func displayOrder(order *types.BridgeOrder) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                      BRIDGE ORDER STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Order:           %s\n", color.CyanString(order.OrderID))
	fmt.Printf("  Status:          %s\n", getColoredStatus(order.Status))
	if order.ProviderStatus != "" {
		fmt.Printf("  Provider Status: %s\n", order.ProviderStatus)
	}
	if order.SourceTxHash != "" {
		fmt.Printf("  Source Tx:       %s\n", color.HiBlackString(order.SourceTxHash))
	}
	if order.DestinationTxHash != "" {
		fmt.Printf("  Bridge Tx:       %s\n", color.HiBlackString(order.DestinationTxHash))
	}
	if !order.AmountOut.IsZero() {
		fmt.Printf("  Amount Out:      %s\n", order.AmountOut)
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func getColoredStatus(status types.OrderStatus) string {
	label := strings.ToUpper(string(status))

	switch status {
	case types.OrderFulfilled:
		return color.GreenString(label)
	case types.OrderPending:
		return color.YellowString(label)
	case types.OrderFailed:
		return color.RedString(label)
	default:
		return label
	}
}
