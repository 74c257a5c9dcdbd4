package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"vault-deposit/pkg/orchestrator"
)

var (
	historyFailed   bool
	historyInFlight bool
	historyLimit    int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded deposits",
	Long: `Show the outcome of past deposits, newest first.

Deposits that failed after funds left the source chain are listed with
--in-flight; follow them up with 'vault-deposit status <workflow-id> --watch'.

Examples:
  vault-deposit history
  vault-deposit history --failed
  vault-deposit history --in-flight --json`,
	Run: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().BoolVar(&historyFailed, "failed", false, "Only show failed deposits")
	historyCmd.Flags().BoolVar(&historyInFlight, "in-flight", false, "Only show failed deposits whose funds may still arrive")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of deposits to show (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := newApp(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	store, err := a.historyStore()
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	var outcomes []*orchestrator.Outcome
	switch {
	case historyInFlight:
		outcomes = store.ListInFlight()
	case historyFailed:
		outcomes = store.ListFailed()
	default:
		outcomes = store.List()
	}
	if historyLimit > 0 && len(outcomes) > historyLimit {
		outcomes = outcomes[:historyLimit]
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(outcomes, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	if len(outcomes) == 0 {
		color.Yellow("\nNo deposits recorded in %s\n", store.FilePath())
		return
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tWORKFLOW\tAMOUNT\tROUTE\tRESULT\tDETAIL")
	for _, o := range outcomes {
		result := coloredState(o.State)
		detail := ""
		if o.Failure != nil {
			result = color.RedString(string(o.Failure.Kind))
			detail = truncateString(o.Failure.Detail, 60)
			if o.Failure.FundsInFlight() {
				result = color.YellowString(string(o.Failure.Kind))
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%s %s\t%s -> %s\t%s\t%s\n",
			o.StartedAt.Local().Format("2006-01-02 15:04"),
			o.WorkflowID,
			o.Request.Amount, o.Request.Token.Symbol,
			a.chainName(o.Request.SourceChainID), a.chainName(o.Request.DestinationChainID),
			result,
			detail)
	}
	w.Flush()
	fmt.Println()
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
