package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tgcesports/notifier/internal/app"
	"github.com/tgcesports/notifier/internal/ledger"
)

var (
	ledgerCleanDays int
	ledgerClearYes  bool
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and maintain the notification ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger entries, newest first",
	RunE:  runLedgerList,
}

var ledgerCheckCmd = &cobra.Command{
	Use:   "check <tournament_id> <kind>",
	Short: "Check whether a tournament was notified today",
	Args:  cobra.ExactArgs(2),
	RunE:  runLedgerCheck,
}

var ledgerCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete entries older than the retention period",
	RunE:  runLedgerClean,
}

var ledgerClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every ledger entry",
	RunE:  runLedgerClear,
}

func init() {
	ledgerCleanCmd.Flags().IntVar(&ledgerCleanDays, "days", -1, "Retention in days (default from config)")
	ledgerClearCmd.Flags().BoolVar(&ledgerClearYes, "yes", false, "Confirm clearing the whole ledger")

	ledgerCmd.AddCommand(ledgerListCmd, ledgerCheckCmd, ledgerCleanCmd, ledgerClearCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func openLedger(cmd *cobra.Command) (*ledger.Ledger, int, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, 0, err
	}
	l, err := app.OpenLedger(cmd.Context(), cfg)
	if err != nil {
		return nil, 0, err
	}
	return l, cfg.Ledger.RetentionDays, nil
}

func runLedgerList(cmd *cobra.Command, args []string) error {
	l, _, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer l.Close()

	entries, err := l.ListAll(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "Ledger is empty")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DAY\tKIND\tTOURNAMENT\tSENT\tFAILED\tRECIPIENTS\tSENT AT")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			e.Day, e.Kind, e.TournamentID, e.EmailsSent, e.EmailsFailed, e.RecipientCount,
			e.SentAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
	fmt.Fprintf(out, "\nTotal: %d\n", len(entries))
	return nil
}

func runLedgerCheck(cmd *cobra.Command, args []string) error {
	kind, err := ledger.ParseKind(args[1])
	if err != nil {
		return err
	}

	l, _, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer l.Close()

	notified, err := l.HasBeenNotified(cmd.Context(), args[0], kind)
	if err != nil {
		return err
	}

	state := "not notified"
	if notified {
		state = "already notified"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Tournament %s: %s %s on %s\n", args[0], state, kind, l.Today())
	return nil
}

func runLedgerClean(cmd *cobra.Command, args []string) error {
	l, retention, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer l.Close()

	days := retention
	if cmd.Flags().Changed("days") {
		days = ledgerCleanDays
	}

	n, err := l.PruneOlderThan(cmd.Context(), days)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d entries older than %d days\n", n, days)
	return nil
}

func runLedgerClear(cmd *cobra.Command, args []string) error {
	if !ledgerClearYes {
		return fmt.Errorf("refusing to clear the ledger without --yes")
	}

	l, _, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer l.Close()

	n, err := l.ClearAll(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d entries\n", n)
	return nil
}
