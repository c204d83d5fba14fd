package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tgcesports/notifier/internal/app"
	"github.com/tgcesports/notifier/internal/config"
)

var runJSON bool

var runCmd = &cobra.Command{
	Use:       "run <job>",
	Short:     "Run one job once and print its summary",
	Long:      `Run the reminders or announcements job once, outside the schedule.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{config.JobReminders, config.JobAnnouncements},
	RunE:      runJob,
}

func init() {
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the summary as JSON")
	rootCmd.AddCommand(runCmd)
}

func runJob(cmd *cobra.Command, args []string) error {
	name := args[0]
	if name != config.JobReminders && name != config.JobAnnouncements {
		return fmt.Errorf("unknown job %q (must be %s or %s)", name, config.JobReminders, config.JobAnnouncements)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(cmd.Context(), cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer application.Close()

	sum, runErr := application.RunJob(cmd.Context(), name)
	if sum != nil {
		out := cmd.OutOrStdout()
		if runJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			enc.Encode(sum)
		} else {
			fmt.Fprintln(out, sum.Message)
			fmt.Fprintf(out, "  Sent: %d  Failed: %d  Skipped: %d  Filtered: %d\n",
				sum.EmailsSent, sum.EmailsFailed, sum.EmailsSkipped, sum.RecipientsFiltered)
			fmt.Fprintf(out, "  Tournaments processed: %d  failed: %d  malformed: %d\n",
				sum.TournamentsProcessed, sum.TournamentsFailed, sum.TournamentsMalformed)
			fmt.Fprintf(out, "  Duration: %s\n", sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond))
		}
	}
	return runErr
}
