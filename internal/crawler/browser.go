package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	// DefaultWaitTimeout is the maximum time to wait for listing blocks
	DefaultWaitTimeout = 15 * time.Second
	// DefaultPageLoadTimeout is the maximum time to wait for page load
	DefaultPageLoadTimeout = 30 * time.Second
)

// Browser wraps a rod browser used to render the listing when plain HTTP fails
type Browser struct {
	browser   *rod.Browser
	launcher  *launcher.Launcher
	userAgent string
	mu        sync.Mutex
	closed    bool
}

// BrowserConfig holds configuration for the browser
type BrowserConfig struct {
	Headless  bool
	UserAgent string
	ProxyURL  string
}

// NewBrowserWithConfig launches a headless browser
func NewBrowserWithConfig(cfg *BrowserConfig) (*Browser, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-extensions").
		Set("no-first-run").
		Set("mute-audio")

	if cfg.ProxyURL != "" {
		l = l.Proxy(cfg.ProxyURL)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	return &Browser{
		browser:   browser,
		launcher:  l,
		userAgent: cfg.UserAgent,
	}, nil
}

// FetchRenderedHTML loads a page and returns its HTML once waitSelector
// appears or DefaultWaitTimeout passes.
func (b *Browser) FetchRenderedHTML(ctx context.Context, url string, waitSelector string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", fmt.Errorf("browser is closed")
	}

	page, err := b.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return "", fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(DefaultPageLoadTimeout)

	if b.userAgent != "" {
		// best effort, the portal renders without it
		_ = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.userAgent})
	}

	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("failed to wait for page load: %w", err)
	}

	if waitSelector != "" {
		// a missing selector still leaves a page worth returning
		_, _ = page.Timeout(DefaultWaitTimeout).Element(waitSelector)
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("failed to get HTML: %w", err)
	}

	return html, nil
}

// Close closes the browser and releases all resources
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var err error
	if b.browser != nil {
		if cerr := b.browser.Close(); cerr != nil {
			err = fmt.Errorf("failed to close browser: %w", cerr)
		}
	}

	if b.launcher != nil {
		b.launcher.Cleanup()
	}

	return err
}
