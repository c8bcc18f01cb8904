package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Env      string
	Server   ServerConfig
	Database DatabaseConfig
	Crypto   CryptoConfig
	Program  ProgramConfig
	Schedule ScheduleConfig
	Mail     MailConfig
	R2       R2Config
	Sync     SyncConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port           string
	AllowedOrigins []string
	GatewayToken   string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type CryptoConfig struct {
	EncryptionKey string
}

// ProgramConfig holds the referral and draw program rules. Values can be
// overridden from the YAML program file.
type ProgramConfig struct {
	TicketsPerReferral  int64
	SignupTickets       int64
	EntryLifetimeMonths int
	PrizeAmount         decimal.Decimal
	ReminderLeadDays    int
	DeferRewardChoice   bool
	FrontendURL         string
}

type ScheduleConfig struct {
	DrawCron     string
	ReminderCron string
	ExpiryCron   string
	Timezone     string
}

type MailConfig struct {
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
}

func (m MailConfig) Enabled() bool {
	return m.SMTPHost != ""
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	CDNBaseURL      string
}

func (r R2Config) Enabled() bool {
	return r.AccountID != "" && r.Bucket != ""
}

type SyncConfig struct {
	ProfileServiceURL string
	ListingServiceURL string
	ServiceToken      string
	Interval          time.Duration
}

type AuthConfig struct {
	ServiceURL string
	Token      string
}

// programFile mirrors the YAML layout of the program file. Pointer fields
// distinguish "absent" from zero values.
type programFile struct {
	Program struct {
		TicketsPerReferral  *int64  `yaml:"tickets_per_referral"`
		SignupTickets       *int64  `yaml:"signup_tickets"`
		EntryLifetimeMonths *int    `yaml:"entry_lifetime_months"`
		PrizeAmount         *string `yaml:"prize_amount"`
		ReminderLeadDays    *int    `yaml:"reminder_lead_days"`
		DeferRewardChoice   *bool   `yaml:"defer_reward_choice"`
		FrontendURL         *string `yaml:"frontend_url"`
	} `yaml:"program"`
	Schedule struct {
		DrawCron     *string `yaml:"draw_cron"`
		ReminderCron *string `yaml:"reminder_cron"`
		ExpiryCron   *string `yaml:"expiry_cron"`
		Timezone     *string `yaml:"timezone"`
	} `yaml:"schedule"`
}

func DefaultProgram() ProgramConfig {
	return ProgramConfig{
		TicketsPerReferral:  5,
		SignupTickets:       1,
		EntryLifetimeMonths: 3,
		PrizeAmount:         decimal.NewFromInt(250),
		ReminderLeadDays:    3,
		FrontendURL:         "http://localhost:3000",
	}
}

func DefaultSchedule() ScheduleConfig {
	return ScheduleConfig{
		DrawCron:     "1 0 1 * *",
		ReminderCron: "0 10 28 * *",
		ExpiryCron:   "0 0 15 * *",
		Timezone:     "UTC",
	}
}

func Load() (*Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	syncInterval, err := getEnvDuration("SYNC_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}

	program := DefaultProgram()
	program.FrontendURL = getEnvString("FRONTEND_URL", program.FrontendURL)
	schedule := DefaultSchedule()

	if err := loadProgramFile(getEnvString("PROGRAM_CONFIG_FILE", "program.yaml"), &program, &schedule); err != nil {
		return nil, err
	}
	program.DeferRewardChoice = getEnvBool("DEFER_REWARD_CHOICE", program.DeferRewardChoice)

	cfg := &Config{
		Env: getEnvString("APP_ENV", "production"),
		Server: ServerConfig{
			Port:           getEnvString("PORT", "5300"),
			AllowedOrigins: splitList(getEnvString("ALLOWED_ORIGINS", "http://localhost:3000")),
			GatewayToken:   os.Getenv("GATEWAY_SERVICE_TOKEN"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
		},
		Crypto: CryptoConfig{
			EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
		},
		Program:  program,
		Schedule: schedule,
		Mail: MailConfig{
			SMTPHost: os.Getenv("SMTP_HOST"),
			SMTPPort: getEnvInt("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     getEnvString("MAIL_FROM", "no-reply@localhost"),
		},
		R2: R2Config{
			AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
			AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
			Bucket:          os.Getenv("R2_BUCKET_NAME"),
			CDNBaseURL:      os.Getenv("CDN_BASE_URL"),
		},
		Sync: SyncConfig{
			ProfileServiceURL: os.Getenv("PROFILE_SYNC_URL"),
			ListingServiceURL: os.Getenv("LISTING_SYNC_URL"),
			ServiceToken:      os.Getenv("SYNC_SERVICE_TOKEN"),
			Interval:          syncInterval,
		},
		Auth: AuthConfig{
			ServiceURL: os.Getenv("AUTH_SERVICE_URL"),
			Token:      os.Getenv("AUTH_SERVICE_TOKEN"),
		},
	}

	return cfg, nil
}

// Validate reports the first missing required setting.
func (c *Config) Validate() error {
	required := map[string]string{
		"DATABASE_URL":          c.Database.URL,
		"GATEWAY_SERVICE_TOKEN": c.Server.GatewayToken,
		"ENCRYPTION_KEY":        c.Crypto.EncryptionKey,
	}
	for _, key := range []string{"DATABASE_URL", "GATEWAY_SERVICE_TOKEN", "ENCRYPTION_KEY"} {
		if required[key] == "" {
			return fmt.Errorf("%s environment variable not set", key)
		}
	}
	if !c.Program.PrizeAmount.IsPositive() {
		return fmt.Errorf("prize amount must be positive, got %s", c.Program.PrizeAmount)
	}
	if c.Program.TicketsPerReferral < 1 || c.Program.SignupTickets < 1 {
		return fmt.Errorf("ticket grants must be at least 1")
	}
	return nil
}

func loadProgramFile(path string, program *ProgramConfig, schedule *ScheduleConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read program file %s: %w", path, err)
	}
	return applyProgramYAML(data, program, schedule)
}

func applyProgramYAML(data []byte, program *ProgramConfig, schedule *ScheduleConfig) error {
	var file programFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse program file: %w", err)
	}

	p := file.Program
	if p.TicketsPerReferral != nil {
		program.TicketsPerReferral = *p.TicketsPerReferral
	}
	if p.SignupTickets != nil {
		program.SignupTickets = *p.SignupTickets
	}
	if p.EntryLifetimeMonths != nil {
		program.EntryLifetimeMonths = *p.EntryLifetimeMonths
	}
	if p.PrizeAmount != nil {
		amount, err := decimal.NewFromString(*p.PrizeAmount)
		if err != nil {
			return fmt.Errorf("invalid prize_amount %q: %w", *p.PrizeAmount, err)
		}
		program.PrizeAmount = amount
	}
	if p.ReminderLeadDays != nil {
		program.ReminderLeadDays = *p.ReminderLeadDays
	}
	if p.DeferRewardChoice != nil {
		program.DeferRewardChoice = *p.DeferRewardChoice
	}
	if p.FrontendURL != nil {
		program.FrontendURL = *p.FrontendURL
	}

	sc := file.Schedule
	if sc.DrawCron != nil {
		schedule.DrawCron = *sc.DrawCron
	}
	if sc.ReminderCron != nil {
		schedule.ReminderCron = *sc.ReminderCron
	}
	if sc.ExpiryCron != nil {
		schedule.ExpiryCron = *sc.ExpiryCron
	}
	if sc.Timezone != nil {
		schedule.Timezone = *sc.Timezone
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
