package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tgcesports/notifier/internal/sandbox"
)

var (
	sandboxListRecipient string
	sandboxListKind      string
	sandboxListLimit     int
	sandboxShowFormat    string
	sandboxClearOlder    time.Duration
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Inspect messages captured in sandbox mode",
}

var sandboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List captured messages",
	RunE:  runSandboxList,
}

var sandboxShowCmd = &cobra.Command{
	Use:   "show <message_id>",
	Short: "Show a captured message",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxShow,
}

var sandboxClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete captured messages",
	RunE:  runSandboxClear,
}

func init() {
	sandboxListCmd.Flags().StringVar(&sandboxListRecipient, "to", "", "Filter by recipient")
	sandboxListCmd.Flags().StringVar(&sandboxListKind, "kind", "", "Filter by kind (reminder, new_tournament)")
	sandboxListCmd.Flags().IntVar(&sandboxListLimit, "limit", 50, "Maximum number of messages")

	sandboxShowCmd.Flags().StringVar(&sandboxShowFormat, "format", "text", "Body to print (text, html)")

	sandboxClearCmd.Flags().DurationVar(&sandboxClearOlder, "older-than", 0, "Only delete messages older than this (e.g. 72h)")

	sandboxCmd.AddCommand(sandboxListCmd, sandboxShowCmd, sandboxClearCmd)
	rootCmd.AddCommand(sandboxCmd)
}

func openSandboxStorage() (*sandbox.Storage, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	storage, err := sandbox.OpenStorage(cfg.Mailer.Sandbox.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sandbox storage: %w", err)
	}
	return storage, nil
}

func runSandboxList(cmd *cobra.Command, args []string) error {
	storage, err := openSandboxStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	messages, err := storage.List(cmd.Context(), sandbox.ListFilter{
		Recipient: sandboxListRecipient,
		Kind:      sandboxListKind,
		Limit:     sandboxListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(messages) == 0 {
		fmt.Fprintln(out, "No captured messages")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCAPTURED\tKIND\tTO\tSUBJECT\tERROR")
	for _, m := range messages {
		errText := "-"
		if m.SimulatedErr != "" {
			errText = m.SimulatedErr
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			m.ID[:8], m.CapturedAt.Format("2006-01-02 15:04:05"), m.Kind, m.To, truncate(m.Subject, 50), errText)
	}
	w.Flush()
	return nil
}

func runSandboxShow(cmd *cobra.Command, args []string) error {
	storage, err := openSandboxStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	msg, err := storage.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get message: %w", err)
	}
	if msg == nil {
		return fmt.Errorf("message not found: %s", args[0])
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:       %s\n", msg.ID)
	fmt.Fprintf(out, "Captured: %s\n", msg.CapturedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "From:     %s\n", msg.From)
	fmt.Fprintf(out, "To:       %s\n", msg.To)
	fmt.Fprintf(out, "Subject:  %s\n", msg.Subject)
	fmt.Fprintf(out, "Kind:     %s\n", msg.Kind)
	if msg.SimulatedErr != "" {
		fmt.Fprintf(out, "Error:    %s\n", msg.SimulatedErr)
	}
	fmt.Fprintln(out, strings.Repeat("-", 60))

	switch sandboxShowFormat {
	case "html":
		fmt.Fprintln(out, msg.HTML)
	default:
		fmt.Fprintln(out, msg.Text)
	}
	return nil
}

func runSandboxClear(cmd *cobra.Command, args []string) error {
	storage, err := openSandboxStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	n, err := storage.Clear(cmd.Context(), sandboxClearOlder)
	if err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d messages\n", n)
	return nil
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
