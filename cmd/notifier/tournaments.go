package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tgcesports/notifier/internal/eligibility"
	"github.com/tgcesports/notifier/internal/tournament"
)

var tournamentsCmd = &cobra.Command{
	Use:   "tournaments",
	Short: "Query the tournament backend",
}

var tournamentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tournaments with their eligibility",
	RunE:  runTournamentsList,
}

func init() {
	tournamentsCmd.AddCommand(tournamentsListCmd)
	rootCmd.AddCommand(tournamentsCmd)
}

func runTournamentsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := tournament.NewClient(cfg.Upstream, tournament.ParseLanguage(cfg.Recipients.DefaultLanguage, tournament.English), nil)
	tournaments, err := client.FetchTournaments(cmd.Context())
	if err != nil {
		return err
	}

	now := time.Now()
	soon := eligibility.StartingSoon{
		Strategy:  eligibility.Strategy(cfg.Reminder.Strategy),
		Window:    cfg.Reminder.Window,
		Tolerance: cfg.Reminder.Tolerance,
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTART\tREMINDER\tANNOUNCE\tTODAY")
	for _, t := range tournaments {
		v := eligibility.Evaluate(t, now, soon, cfg.Announcement.Lookback)
		start := v.StartOutcome
		if v.Start != nil {
			start = v.Start.In(t.Location()).Format("2006-01-02 15:04 MST")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			v.TournamentID, v.Name, start,
			yesNo(v.StartingSoon), yesNo(v.RegistrationOpen), yesNo(v.StartingToday))
	}
	w.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d\n", len(tournaments))
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}
