package main

import (
	"context"
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tgcesports/notifier/internal/app"
	"github.com/tgcesports/notifier/internal/config"
)

var (
	cfgFile   string
	envFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Tournament email notifier",
	Long: `Notifier emails tournament participants before their tournament starts
and announces tournaments whose registration has opened.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env file is normal in production
		if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
			return fmt.Errorf("failed to load env file: %w", err)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, control API and metrics server",
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "notifier version %s\n", version)
		if commit != "unknown" {
			fmt.Fprintf(out, "  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Fprintf(out, "  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with secrets")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(cmd.Context(), cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration is valid\n")
	fmt.Fprintf(out, "  Upstream:     %s\n", cfg.Upstream.BaseURL)
	fmt.Fprintf(out, "  Mailer:       %s (from %s)\n", cfg.Mailer.Mode, cfg.Mailer.From)
	fmt.Fprintf(out, "  Ledger:       %s, timezone %s, retention %d days\n", cfg.Ledger.Backend, cfg.Ledger.Timezone, cfg.Ledger.RetentionDays)
	fmt.Fprintf(out, "  Allow-list:   %v\n", cfg.Recipients.AllowList)
	fmt.Fprintf(out, "  Reminder:     %s window %s ±%s, %s delivery\n", cfg.Reminder.Strategy, cfg.Reminder.Window, cfg.Reminder.Tolerance, cfg.Reminder.Delivery.Strategy)
	fmt.Fprintf(out, "  Announcement: audience %s, %s delivery\n", cfg.Announcement.Audience, cfg.Announcement.Delivery.Strategy)
	if cfg.API.Enabled {
		fmt.Fprintf(out, "  API:          %s\n", cfg.API.ListenAddr)
	}
	if cfg.Metrics.Enabled {
		fmt.Fprintf(out, "  Metrics:      %s%s\n", cfg.Metrics.ListenAddr, cfg.Metrics.Path)
	}
	for _, name := range []string{config.JobReminders, config.JobAnnouncements} {
		job := cfg.Scheduler.Jobs[name]
		state := "enabled"
		if job.Disabled || !cfg.Scheduler.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(out, "  Job %-13s %s (%s)\n", name+":", job.Schedule, state)
	}

	return nil
}
