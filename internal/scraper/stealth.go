package scraper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// stealthStrategy drives a headless browser for JS-heavy or bot-hostile
// domains. The browser launches lazily on first use and is shared across
// requests; a launch failure is remembered so later scrapes fall through
// to the fast path immediately.
type stealthStrategy struct {
	timeout time.Duration

	mu      sync.Mutex
	browser *rod.Browser
	initErr error
}

func newStealthStrategy(timeout time.Duration) *stealthStrategy {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &stealthStrategy{timeout: timeout}
}

func (s *stealthStrategy) Name() string { return "stealth" }

func (s *stealthStrategy) connect() (*rod.Browser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser != nil {
		return s.browser, nil
	}
	if s.initErr != nil {
		return nil, s.initErr
	}
	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		s.initErr = fmt.Errorf("launch chrome: %w", err)
		return nil, s.initErr
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		s.initErr = fmt.Errorf("connect to chrome: %w", err)
		return nil, s.initErr
	}
	s.browser = browser
	return s.browser, nil
}

func (s *stealthStrategy) Fetch(ctx context.Context, pageURL string) (*Result, error) {
	browser, err := s.connect()
	if err != nil {
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(s.timeout)
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent: randomUserAgent(),
	}); err != nil {
		return nil, fmt.Errorf("set user agent: %w", err)
	}
	if err := page.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}
	// Give client-side rendering a moment to settle.
	time.Sleep(500 * time.Millisecond)

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse rendered html: %w", err)
	}
	return extract(doc), nil
}

// Close tears down the shared browser. Safe to call without a launch.
func (s *stealthStrategy) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser != nil {
		_ = s.browser.Close()
		s.browser = nil
	}
}
