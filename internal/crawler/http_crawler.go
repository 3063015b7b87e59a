package crawler

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"github.com/user/examslots/internal/model"
)

// pages shorter than this are treated as malformed
const minPageLength = 100

// HTTPCrawler implements the Crawler interface using HTTP requests
type HTTPCrawler struct {
	client    *http.Client
	config    *CrawlerConfig
	browser   *Browser
	browserMu sync.Mutex

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHTTPCrawler creates a new HTTP crawler instance
func NewHTTPCrawler(cfg *CrawlerConfig) (*HTTPCrawler, error) {
	if cfg == nil {
		cfg = DefaultCrawlerConfig()
	}

	// Cookie jar keeps the portal session from the warm-up request
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}

	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
		Jar:       jar,
	}

	return &HTTPCrawler{
		client: client,
		config: cfg,
		now:    time.Now,
		sleep:  sleepContext,
	}, nil
}

// ScrapeSlots fetches result pages in order until the data runs out.
// Only a failure on the first page is reported, as ErrSourceUnavailable.
func (c *HTTPCrawler) ScrapeSlots(ctx context.Context) ([]*model.SlotDraft, error) {
	c.warmUp(ctx)

	cutoff := horizon(c.now(), c.config.MaxDaysAhead)
	seen := make(map[string]struct{})
	var drafts []*model.SlotDraft

	for page := 0; page < c.config.MaxPages; page++ {
		if page > 0 {
			if err := c.sleep(ctx, c.pageDelay()); err != nil {
				return drafts, err
			}
		}

		pageURL := c.pageURL(page)
		log.Info().Str("url", pageURL).Int("page", page).Msg("Scraping slots page")

		body, err := c.fetchPage(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return drafts, ctx.Err()
			}
			if page > 0 {
				log.Warn().Err(err).Int("page", page).Msg("Page fetch failed, treating as end of data")
				break
			}
			body, err = c.fetchWithBrowser(ctx, pageURL, err)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
			}
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			if page == 0 {
				return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
			}
			log.Warn().Err(err).Int("page", page).Msg("Failed to parse page")
			break
		}

		blocks := doc.Find(BlockSelector)
		if blocks.Length() == 0 {
			log.Info().Int("page", page).Msg("No listing blocks, end of data")
			break
		}

		pageNew, pastHorizon := 0, false
		blocks.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			d := ParseBlock(s, page)
			if d == nil {
				return true
			}
			if date, ok := ParseSlotDate(d.DateStr); ok && date.After(cutoff) {
				pastHorizon = true
				return false
			}
			key := d.Key()
			if _, dup := seen[key]; dup {
				return true
			}
			seen[key] = struct{}{}
			drafts = append(drafts, d)
			pageNew++
			return true
		})

		log.Info().Int("page", page).Int("new", pageNew).Int("total", len(drafts)).Msg("Parsed slots page")

		if pastHorizon {
			log.Info().Time("cutoff", cutoff).Msg("Reached look-ahead horizon")
			break
		}
		if pageNew == 0 {
			break
		}
	}

	return drafts, nil
}

// Close releases crawler resources
func (c *HTTPCrawler) Close() error {
	c.browserMu.Lock()
	defer c.browserMu.Unlock()

	if c.browser != nil {
		return c.browser.Close()
	}
	return nil
}

// warmUp requests the portal page once so the session cookies are set
func (c *HTTPCrawler) warmUp(ctx context.Context) {
	if _, err := c.fetch(ctx, c.config.URL); err != nil {
		log.Warn().Err(err).Msg("Warm-up request failed")
		return
	}
	log.Debug().Msg("Warm-up request completed")
}

func (c *HTTPCrawler) pageURL(page int) string {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return c.config.URL
	}
	q := u.Query()
	q.Set("lang", "sl")
	q.Set("tip", "")
	q.Set("kategorija", "")
	q.Set("izp_center", "")
	q.Set("lokacija", "")
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// pageDelay returns a random pause in [MinDelay, MaxDelay]
func (c *HTTPCrawler) pageDelay() time.Duration {
	span := c.config.MaxDelay - c.config.MinDelay
	if span <= 0 {
		return c.config.MinDelay
	}
	return c.config.MinDelay + time.Duration(rand.Int63n(int64(span)+1))
}

// fetchPage fetches a results page and rejects malformed bodies
func (c *HTTPCrawler) fetchPage(ctx context.Context, pageURL string) (string, error) {
	body, err := c.fetchWithRetry(ctx, pageURL)
	if err != nil {
		return "", err
	}
	if len(body) < minPageLength {
		return "", fmt.Errorf("page body too short: %d bytes", len(body))
	}
	return body, nil
}

// fetchWithRetry fetches a URL with exponential backoff retry
func (c *HTTPCrawler) fetchWithRetry(ctx context.Context, targetURL string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		body, err := c.fetch(ctx, targetURL)
		if err == nil {
			return body, nil
		}

		lastErr = err

		if attempt < c.config.MaxRetries {
			backoff := c.config.RetryBackoff << attempt
			if err := c.sleep(ctx, backoff); err != nil {
				return "", err
			}
		}
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// fetch performs a single HTTP request
func (c *HTTPCrawler) fetch(ctx context.Context, targetURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request error: %w", err)
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "sl,en-US;q=0.9,en;q=0.8")
	req.Header.Set("Referer", c.config.URL)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	log.Debug().
		Int("status", resp.StatusCode).
		Str("url", targetURL).
		Msg("HTTP response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body error: %w", err)
	}

	return string(body), nil
}

// fetchWithBrowser renders the first page in a headless browser.
// cause is returned unchanged when the fallback is disabled.
func (c *HTTPCrawler) fetchWithBrowser(ctx context.Context, pageURL string, cause error) (string, error) {
	if !c.config.BrowserFallback {
		return "", cause
	}

	log.Warn().Err(cause).Str("url", pageURL).Msg("HTTP fetch failed, trying browser")

	browser, err := c.getBrowser()
	if err != nil {
		return "", fmt.Errorf("browser fallback: %w", err)
	}

	body, err := browser.FetchRenderedHTML(ctx, pageURL, BlockSelector)
	if err != nil {
		return "", fmt.Errorf("browser fallback: %w", err)
	}
	if len(body) < minPageLength {
		return "", fmt.Errorf("browser fallback: page body too short: %d bytes", len(body))
	}

	log.Info().Int("htmlLength", len(body)).Msg("Browser fallback succeeded")
	return body, nil
}

// getBrowser returns the browser instance, creating it if necessary
func (c *HTTPCrawler) getBrowser() (*Browser, error) {
	c.browserMu.Lock()
	defer c.browserMu.Unlock()

	if c.browser == nil {
		browser, err := NewBrowserWithConfig(&BrowserConfig{
			Headless:  true,
			UserAgent: c.config.UserAgent,
			ProxyURL:  c.config.ProxyURL,
		})
		if err != nil {
			return nil, err
		}
		c.browser = browser
	}

	return c.browser, nil
}

// horizon returns the last date, inclusive, that is still collected
func horizon(now time.Time, daysAhead int) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+daysAhead, 0, 0, 0, 0, time.UTC)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
