package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Notification policies for newly inserted slots
const (
	NotifyAllNew       = "all_new"
	NotifyAvailableNew = "available_new"
)

// Config holds all application configuration
type Config struct {
	DB      DBConfig
	Scraper ScraperConfig
	Server  ServerConfig
	Mail    MailConfig
	Bot     BotConfig
	Redis   RedisConfig
}

// DBConfig holds database configuration
type DBConfig struct {
	Driver   string `envconfig:"DB_DRIVER" default:"mysql"`
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"3306"`
	User     string `envconfig:"DB_USER" default:"root"`
	Password string `envconfig:"DB_PASSWORD" required:"true"`
	Database string `envconfig:"DB_NAME" default:"exam_slots"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	MaxConns int    `envconfig:"DB_MAX_CONNS" default:"10"`
}

// ScraperConfig holds scraper and scrape-cycle configuration
type ScraperConfig struct {
	URL             string        `envconfig:"SCRAPER_URL" default:"https://e-uprava.gov.si/si/storitve/prosti-roki-za-vozniski-izpit.html"`
	ScheduleEnabled bool          `envconfig:"SCRAPER_SCHEDULE_ENABLED" default:"false"`
	Interval        time.Duration `envconfig:"SCRAPER_INTERVAL" default:"15m"`
	MaxPages        int           `envconfig:"SCRAPER_MAX_PAGES" default:"50"`
	MaxDaysAhead    int           `envconfig:"SCRAPER_MAX_DAYS_AHEAD" default:"90"`
	MinDelay        time.Duration `envconfig:"SCRAPER_MIN_DELAY" default:"1s"`
	MaxDelay        time.Duration `envconfig:"SCRAPER_MAX_DELAY" default:"3s"`
	Timeout         time.Duration `envconfig:"SCRAPER_TIMEOUT" default:"30s"`
	MaxRetries      int           `envconfig:"SCRAPER_MAX_RETRIES" default:"2"`
	UserAgent       string        `envconfig:"SCRAPER_USER_AGENT"`
	ProxyURL        string        `envconfig:"SCRAPER_PROXY_URL"`
	BrowserFallback bool          `envconfig:"SCRAPER_BROWSER_FALLBACK" default:"false"`
	NotifyPolicy    string        `envconfig:"SCRAPER_NOTIFY_POLICY" default:"all_new"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int    `envconfig:"SERVER_PORT" default:"8080"`
	ScrapeSecret string `envconfig:"SCRAPE_SECRET" required:"true"`
	BaseURL      string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`
}

// MailConfig holds email delivery configuration.
// An empty APIKey selects the log-only mailer.
type MailConfig struct {
	APIKey    string  `envconfig:"RESEND_API_KEY"`
	From      string  `envconfig:"MAIL_FROM" default:"notifications@resend.dev"`
	RateLimit float64 `envconfig:"MAIL_RATE_LIMIT" default:"2"`
}

// BotConfig holds the optional Telegram admin bot configuration
type BotConfig struct {
	Token       string `envconfig:"TELEGRAM_BOT_TOKEN"`
	AdminChatID int64  `envconfig:"TELEGRAM_ADMIN_CHAT_ID" default:"0"`
}

// RedisConfig holds the optional Redis run-lock configuration
type RedisConfig struct {
	Addr     string        `envconfig:"REDIS_ADDR"`
	Password string        `envconfig:"REDIS_PASSWORD"`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	LockTTL  time.Duration `envconfig:"REDIS_LOCK_TTL" default:"15m"`
}

// DSN returns the data source name for the configured driver
func (c *DBConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
			c.Host, c.User, c.Password, c.Database, c.Port, c.SSLMode)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// Load loads configuration from environment variables.
// A .env file in the working directory is read first when present.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	var cfg Config

	if err := envconfig.Process("", &cfg.DB); err != nil {
		return nil, fmt.Errorf("failed to load db config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Scraper); err != nil {
		return nil, fmt.Errorf("failed to load scraper config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Server); err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Mail); err != nil {
		return nil, fmt.Errorf("failed to load mail config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Bot); err != nil {
		return nil, fmt.Errorf("failed to load bot config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Redis); err != nil {
		return nil, fmt.Errorf("failed to load redis config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DB.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.DB.Driver != "mysql" && c.DB.Driver != "postgres" {
		return fmt.Errorf("DB_DRIVER must be mysql or postgres")
	}
	if c.Server.ScrapeSecret == "" {
		return fmt.Errorf("SCRAPE_SECRET is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535")
	}
	if c.Scraper.MaxPages <= 0 {
		return fmt.Errorf("SCRAPER_MAX_PAGES must be positive")
	}
	if c.Scraper.MaxDaysAhead <= 0 {
		return fmt.Errorf("SCRAPER_MAX_DAYS_AHEAD must be positive")
	}
	if c.Scraper.MinDelay < 0 || c.Scraper.MaxDelay < c.Scraper.MinDelay {
		return fmt.Errorf("SCRAPER_MIN_DELAY must be non-negative and not above SCRAPER_MAX_DELAY")
	}
	if c.Scraper.NotifyPolicy != NotifyAllNew && c.Scraper.NotifyPolicy != NotifyAvailableNew {
		return fmt.Errorf("SCRAPER_NOTIFY_POLICY must be %s or %s", NotifyAllNew, NotifyAvailableNew)
	}
	if c.Mail.RateLimit <= 0 {
		return fmt.Errorf("MAIL_RATE_LIMIT must be positive")
	}
	if c.Bot.Token != "" && c.Bot.AdminChatID == 0 {
		return fmt.Errorf("TELEGRAM_ADMIN_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	return nil
}
