package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Logging      LoggingConfig      `yaml:"logging"`
	API          APIConfig          `yaml:"api"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Upstream     UpstreamConfig     `yaml:"upstream"`
	Mailer       MailerConfig       `yaml:"mailer"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Recipients   RecipientsConfig   `yaml:"recipients"`
	Reminder     ReminderConfig     `yaml:"reminder"`
	Announcement AnnouncementConfig `yaml:"announcement"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// APIConfig contains control API settings
type APIConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	AllowedIPs     []string      `yaml:"allowed_ips"`  // IP addresses/CIDRs allowed to access API (empty = allow all)
	CORSOrigins    []string      `yaml:"cors_origins"` // Browser origins allowed to call the API
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ListenAddr string   `yaml:"listen_addr"` // Default: :9090
	Path       string   `yaml:"path"`        // Default: /metrics
	AllowedIPs []string `yaml:"allowed_ips"`
}

// UpstreamConfig describes the tournament backend
type UpstreamConfig struct {
	BaseURL     string `yaml:"base_url"`
	UserBaseURL string `yaml:"user_base_url"` // Defaults to base_url

	TournamentsPath   string `yaml:"tournaments_path"`
	ParticipantsPath  string `yaml:"participants_path"`
	RegistrationsPath string `yaml:"registrations_path"`
	UsersPath         string `yaml:"users_path"`
	AuthPath          string `yaml:"auth_path"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	PageSize          int           `yaml:"page_size"`

	// Paging retry policy for the user directory
	MaxAttempts            int           `yaml:"max_attempts"`
	RetryBaseDelay         time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay          time.Duration `yaml:"retry_max_delay"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
}

// MailerConfig contains outbound email settings
type MailerConfig struct {
	Mode         string        `yaml:"mode"` // smtp, sandbox
	From         string        `yaml:"from"`
	FromName     string        `yaml:"from_name"`
	MaxPerSecond float64       `yaml:"max_per_second"` // Provider send rate (0 = unlimited)
	SMTP         SMTPConfig    `yaml:"smtp"`
	DKIM         DKIMConfig    `yaml:"dkim"`
	Sandbox      SandboxConfig `yaml:"sandbox"`
}

// SMTPConfig contains relay settings
type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	TLS      string        `yaml:"tls"` // starttls, tls, none
	Timeout  time.Duration `yaml:"timeout"`
	HELO     string        `yaml:"helo"`
}

// DKIMConfig contains DKIM signing settings
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
	Domain   string `yaml:"domain"`
}

// SandboxConfig configures the capture-only sender
type SandboxConfig struct {
	Path         string        `yaml:"path"`
	MaxAge       time.Duration `yaml:"max_age"`       // Delete captured messages older than this (0 = keep)
	SimulateFail []string      `yaml:"simulate_fail"` // Recipients that always fail
}

// LedgerConfig contains de-duplication ledger settings
type LedgerConfig struct {
	Backend         string        `yaml:"backend"` // bolt, postgres
	Path            string        `yaml:"path"`
	DSN             string        `yaml:"dsn"`
	Timezone        string        `yaml:"timezone"`       // Calendar used for "today", default UTC
	RetentionDays   int           `yaml:"retention_days"` // Default: 7
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// RecipientsConfig contains recipient policy
type RecipientsConfig struct {
	AllowList       []string `yaml:"allow_list"`
	DefaultLanguage string   `yaml:"default_language"` // english, arabic
}

// DeliveryConfig selects how a batch is sent
type DeliveryConfig struct {
	Strategy        string        `yaml:"strategy"`         // individual, consolidated
	OperatorAddress string        `yaml:"operator_address"` // consolidated target
	BatchSize       int           `yaml:"batch_size"`       // Pause after this many sends (0 = never)
	BatchPause      time.Duration `yaml:"batch_pause"`
}

// ReminderConfig contains "starting soon" settings
type ReminderConfig struct {
	Window    time.Duration  `yaml:"window"`
	Tolerance time.Duration  `yaml:"tolerance"`
	Strategy  string         `yaml:"strategy"` // window, same_day
	Delivery  DeliveryConfig `yaml:"delivery"`
}

// AnnouncementConfig contains "registration open" settings
type AnnouncementConfig struct {
	Audience      string         `yaml:"audience"` // registrations, users
	RequireRecent bool           `yaml:"require_recent"`
	Lookback      time.Duration  `yaml:"lookback"`
	Delivery      DeliveryConfig `yaml:"delivery"`
}

// SchedulerConfig contains job schedules
type SchedulerConfig struct {
	Enabled bool                 `yaml:"enabled"`
	Jobs    map[string]JobConfig `yaml:"jobs"`
}

// JobConfig configures one scheduled job
type JobConfig struct {
	Schedule   string `yaml:"schedule"` // cron expression
	Disabled   bool   `yaml:"disabled"`
	RunOnStart bool   `yaml:"run_on_start"`
}

// Job names
const (
	JobReminders     = "reminders"
	JobAnnouncements = "announcements"
)

// Load loads configuration from a YAML file.
// ${VAR} references are expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{
		API:       APIConfig{Enabled: true},
		Scheduler: SchedulerConfig{Enabled: true},
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":3000"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		// Manual triggers run a full notification pass before responding
		c.API.WriteTimeout = 10 * time.Minute
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	c.Upstream.setDefaults()
	c.Mailer.setDefaults()

	if c.Ledger.Backend == "" {
		c.Ledger.Backend = "bolt"
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = "/var/lib/notifier/ledger.db"
	}
	if c.Ledger.Timezone == "" {
		c.Ledger.Timezone = "UTC"
	}
	if c.Ledger.RetentionDays == 0 {
		c.Ledger.RetentionDays = 7
	}
	if c.Ledger.CleanupInterval == 0 {
		c.Ledger.CleanupInterval = 6 * time.Hour
	}

	if c.Recipients.DefaultLanguage == "" {
		c.Recipients.DefaultLanguage = "english"
	}

	if c.Reminder.Window == 0 {
		c.Reminder.Window = 8 * time.Hour
	}
	if c.Reminder.Tolerance == 0 {
		c.Reminder.Tolerance = 30 * time.Minute
	}
	if c.Reminder.Strategy == "" {
		c.Reminder.Strategy = "window"
	}
	c.Reminder.Delivery.setDefaults()

	if c.Announcement.Audience == "" {
		c.Announcement.Audience = "registrations"
	}
	if c.Announcement.Lookback == 0 {
		c.Announcement.Lookback = 24 * time.Hour
	}
	c.Announcement.Delivery.setDefaults()

	if c.Scheduler.Jobs == nil {
		c.Scheduler.Jobs = make(map[string]JobConfig)
	}
	for _, name := range []string{JobReminders, JobAnnouncements} {
		job := c.Scheduler.Jobs[name]
		if job.Schedule == "" {
			job.Schedule = "0 * * * *"
		}
		c.Scheduler.Jobs[name] = job
	}
}

func (u *UpstreamConfig) setDefaults() {
	if u.UserBaseURL == "" {
		u.UserBaseURL = u.BaseURL
	}
	if u.TournamentsPath == "" {
		u.TournamentsPath = "/api/services/app/Tournament/GetAllTournamentsFromDB"
	}
	if u.ParticipantsPath == "" {
		u.ParticipantsPath = "/api/services/app/Participants/GetParticipantsByTournamentIdFromDB"
	}
	if u.RegistrationsPath == "" {
		u.RegistrationsPath = "/api/services/app/Registrations/GetAll"
	}
	if u.UsersPath == "" {
		u.UsersPath = "/api/services/app/User/GetAll"
	}
	if u.AuthPath == "" {
		u.AuthPath = "/api/TokenAuth/Authenticate"
	}
	if u.Timeout == 0 {
		u.Timeout = 30 * time.Second
	}
	if u.RequestsPerSecond == 0 {
		u.RequestsPerSecond = 5
	}
	if u.PageSize == 0 {
		u.PageSize = 100
	}
	if u.MaxAttempts == 0 {
		u.MaxAttempts = 3
	}
	if u.RetryBaseDelay == 0 {
		u.RetryBaseDelay = time.Second
	}
	if u.RetryMaxDelay == 0 {
		u.RetryMaxDelay = 30 * time.Second
	}
	if u.MaxConsecutiveFailures == 0 {
		u.MaxConsecutiveFailures = 3
	}
}

func (m *MailerConfig) setDefaults() {
	if m.Mode == "" {
		m.Mode = "smtp"
	}
	if m.From == "" {
		m.From = "noreply@tgcesports.gg"
	}
	if m.SMTP.Port == 0 {
		m.SMTP.Port = 587
	}
	if m.SMTP.TLS == "" {
		m.SMTP.TLS = "starttls"
	}
	if m.SMTP.Timeout == 0 {
		m.SMTP.Timeout = 30 * time.Second
	}
	if m.SMTP.HELO == "" {
		m.SMTP.HELO = "localhost"
	}
	if m.Sandbox.Path == "" {
		m.Sandbox.Path = "/var/lib/notifier/sandbox.db"
	}
}

func (d *DeliveryConfig) setDefaults() {
	if d.Strategy == "" {
		d.Strategy = "individual"
	}
	if d.BatchSize == 0 {
		d.BatchSize = 10
	}
	if d.BatchPause == 0 {
		d.BatchPause = time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Announcement.Audience == "users" && (c.Upstream.Username == "" || c.Upstream.Password == "") {
		return fmt.Errorf("upstream.username and upstream.password are required when announcement.audience is users")
	}

	if err := c.validateMailer(); err != nil {
		return err
	}

	switch c.Ledger.Backend {
	case "bolt":
	case "postgres":
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid ledger.backend: %s (must be bolt or postgres)", c.Ledger.Backend)
	}
	if _, err := time.LoadLocation(c.Ledger.Timezone); err != nil {
		return fmt.Errorf("invalid ledger.timezone: %w", err)
	}
	if c.Ledger.RetentionDays < 0 {
		return fmt.Errorf("ledger.retention_days must not be negative")
	}

	switch c.Recipients.DefaultLanguage {
	case "english", "arabic":
	default:
		return fmt.Errorf("invalid recipients.default_language: %s (must be english or arabic)", c.Recipients.DefaultLanguage)
	}

	switch c.Reminder.Strategy {
	case "window", "same_day":
	default:
		return fmt.Errorf("invalid reminder.strategy: %s (must be window or same_day)", c.Reminder.Strategy)
	}
	if err := c.Reminder.Delivery.validate("reminder"); err != nil {
		return err
	}

	switch c.Announcement.Audience {
	case "registrations", "users":
	default:
		return fmt.Errorf("invalid announcement.audience: %s (must be registrations or users)", c.Announcement.Audience)
	}
	if err := c.Announcement.Delivery.validate("announcement"); err != nil {
		return err
	}

	for name, job := range c.Scheduler.Jobs {
		if name != JobReminders && name != JobAnnouncements {
			return fmt.Errorf("unknown scheduler job: %s", name)
		}
		if _, err := cron.ParseStandard(job.Schedule); err != nil {
			return fmt.Errorf("invalid scheduler.jobs.%s.schedule: %w", name, err)
		}
	}

	return nil
}

func (c *Config) validateMailer() error {
	m := c.Mailer
	switch m.Mode {
	case "smtp":
		if m.SMTP.Host == "" {
			return fmt.Errorf("mailer.smtp.host is required in smtp mode")
		}
		switch m.SMTP.TLS {
		case "starttls", "tls", "none":
		default:
			return fmt.Errorf("invalid mailer.smtp.tls: %s (must be starttls, tls, or none)", m.SMTP.TLS)
		}
	case "sandbox":
	default:
		return fmt.Errorf("invalid mailer.mode: %s (must be smtp or sandbox)", m.Mode)
	}

	if !strings.Contains(m.From, "@") {
		return fmt.Errorf("invalid mailer.from: %s", m.From)
	}

	if m.DKIM.Enabled {
		if m.DKIM.Selector == "" {
			return fmt.Errorf("mailer.dkim.selector is required when DKIM is enabled")
		}
		if m.DKIM.KeyFile == "" {
			return fmt.Errorf("mailer.dkim.key_file is required when DKIM is enabled")
		}
		if m.DKIM.Domain == "" {
			return fmt.Errorf("mailer.dkim.domain is required when DKIM is enabled")
		}
	}

	return nil
}

func (d DeliveryConfig) validate(section string) error {
	switch d.Strategy {
	case "individual":
	case "consolidated":
		if !strings.Contains(d.OperatorAddress, "@") {
			return fmt.Errorf("%s.delivery.operator_address is required for consolidated delivery", section)
		}
	default:
		return fmt.Errorf("invalid %s.delivery.strategy: %s (must be individual or consolidated)", section, d.Strategy)
	}
	if d.BatchSize < 0 {
		return fmt.Errorf("%s.delivery.batch_size must not be negative", section)
	}
	return nil
}

// Location returns the ledger calendar location
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Ledger.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
