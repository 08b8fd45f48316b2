// Package browser implements the scraping capability: headless Chrome via
// rod renders the page, extracts its readable text, and captures a
// full-page screenshot artifact. When Chrome cannot be launched the
// scraper degrades to a plain HTTP fetch (no screenshot).
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pagespin/internal/logging"
	"pagespin/internal/types"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Config holds scraper configuration.
type Config struct {
	Bin               string // optional Chrome binary path
	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
	ScreenshotDir     string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		NavigationTimeout: 30 * time.Second,
		ScreenshotDir:     ".pagespin/screenshots",
	}
}

func (c Config) navigationTimeout() time.Duration {
	if c.NavigationTimeout <= 0 {
		return 30 * time.Second
	}
	return c.NavigationTimeout
}

// Scraper owns a lazily launched Chrome instance shared by all sessions.
type Scraper struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
}

// New creates a scraper; Chrome is launched on first Fetch.
func New(cfg Config) *Scraper {
	return &Scraper{cfg: cfg}
}

// extractTextJS pulls the page's readable text, preferring <main> over the
// whole body.
const extractTextJS = `
() => {
	const main = document.querySelector('main');
	return main ? main.innerText : document.body.innerText;
}
`

// Fetch navigates to url, extracts its text, and writes a full-page
// screenshot. The returned screenshot ref is a file path; it is empty when
// the HTTP fallback served the request. All failures are FetchErrors.
func (s *Scraper) Fetch(ctx context.Context, url string) (string, string, error) {
	br, err := s.ensureStarted(ctx)
	if err != nil {
		logging.Browser("chrome unavailable (%v), falling back to plain HTTP for %s", err, url)
		text, ferr := fetchFallback(ctx, url)
		if ferr != nil {
			return "", "", ferr
		}
		return text, "", nil
	}

	text, shot, err := s.fetchWithBrowser(ctx, br, url)
	if err != nil {
		logging.BrowserError("fetch %s: %v", url, err)
		return "", "", &types.FetchError{URL: url, Err: err}
	}

	ref, err := s.saveScreenshot(shot)
	if err != nil {
		// The text is the product; a lost screenshot is not a fetch failure.
		logging.BrowserError("save screenshot for %s: %v", url, err)
		ref = ""
	}

	logging.Browser("fetched %s (%d bytes, screenshot=%q)", url, len(text), ref)
	return text, ref, nil
}

func (s *Scraper) fetchWithBrowser(ctx context.Context, br *rod.Browser, url string) (string, []byte, error) {
	page, err := br.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", nil, fmt.Errorf("create page: %w", err)
	}
	defer page.Close()

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             s.cfg.ViewportWidth,
		Height:            s.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.Browser("warning: failed to set viewport: %v", err)
	}

	page = page.Context(ctx).Timeout(s.cfg.navigationTimeout())
	if err := page.Navigate(url); err != nil {
		return "", nil, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", nil, fmt.Errorf("wait load: %w", err)
	}

	res, err := page.Evaluate(&rod.EvalOptions{
		JS:           extractTextJS,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil {
		return "", nil, fmt.Errorf("extract text: %w", err)
	}
	text := res.Value.String()

	shot, err := page.Screenshot(true, nil)
	if err != nil {
		return "", nil, fmt.Errorf("screenshot: %w", err)
	}
	return text, shot, nil
}

func (s *Scraper) saveScreenshot(png []byte) (string, error) {
	if len(png) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(s.cfg.ScreenshotDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.cfg.ScreenshotDir, fmt.Sprintf("%d.png", time.Now().UnixMilli()))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Scraper) ensureStarted(ctx context.Context) (*rod.Browser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		if _, err := s.browser.Version(); err == nil {
			return s.browser, nil
		}
		logging.Browser("stale browser connection detected, relaunching")
		_ = s.browser.Close()
		s.browser = nil
	}

	launch := launcher.New().Headless(s.cfg.Headless)
	if s.cfg.Bin != "" {
		launch = launch.Bin(s.cfg.Bin)
	}
	controlURL, err := launch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	br := rod.New().ControlURL(controlURL).Context(ctx)
	if err := br.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	s.browser = br
	return br, nil
}

// Close shuts down the shared browser.
func (s *Scraper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser == nil {
		return nil
	}
	err := s.browser.Close()
	s.browser = nil
	return err
}
