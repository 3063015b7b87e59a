package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/user/examslots/internal/config"
	"github.com/user/examslots/internal/model"
)

// ErrSourceUnavailable is returned when the first results page cannot be fetched
var ErrSourceUnavailable = errors.New("slot source unavailable")

// Crawler defines the interface for collecting slot drafts
type Crawler interface {
	// ScrapeSlots walks the paginated listing and returns the drafts of one run
	ScrapeSlots(ctx context.Context) ([]*model.SlotDraft, error)

	// Close releases crawler resources
	Close() error
}

// CrawlerConfig holds configuration for the crawler
type CrawlerConfig struct {
	// URL is the listing page, also used for the warm-up request
	URL string
	// MaxPages bounds the number of result pages per run
	MaxPages int
	// MaxDaysAhead is the look-ahead horizon in days
	MaxDaysAhead int
	// MinDelay and MaxDelay bound the random pause between pages
	MinDelay time.Duration
	MaxDelay time.Duration
	// Timeout is the HTTP request timeout
	Timeout time.Duration
	// MaxRetries is the maximum number of retry attempts per page
	MaxRetries int
	// RetryBackoff is the first backoff interval, doubled per attempt
	RetryBackoff time.Duration
	// UserAgent is the HTTP User-Agent header
	UserAgent string
	// ProxyURL is the proxy server URL (HTTP or SOCKS5)
	ProxyURL string
	// BrowserFallback renders the first page in a headless browser when HTTP fails
	BrowserFallback bool
}

// DefaultCrawlerConfig returns default crawler configuration
func DefaultCrawlerConfig() *CrawlerConfig {
	return &CrawlerConfig{
		URL:          "https://e-uprava.gov.si/si/storitve/prosti-roki-za-vozniski-izpit.html",
		MaxPages:     50,
		MaxDaysAhead: 90,
		MinDelay:     time.Second,
		MaxDelay:     3 * time.Second,
		Timeout:      30 * time.Second,
		MaxRetries:   2,
		RetryBackoff: time.Second,
		UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}

// ConfigFrom builds a crawler configuration from the scraper settings
func ConfigFrom(cfg *config.ScraperConfig) *CrawlerConfig {
	c := DefaultCrawlerConfig()
	c.URL = cfg.URL
	c.MaxPages = cfg.MaxPages
	c.MaxDaysAhead = cfg.MaxDaysAhead
	c.MinDelay = cfg.MinDelay
	c.MaxDelay = cfg.MaxDelay
	c.Timeout = cfg.Timeout
	c.MaxRetries = cfg.MaxRetries
	c.ProxyURL = cfg.ProxyURL
	c.BrowserFallback = cfg.BrowserFallback
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return c
}
