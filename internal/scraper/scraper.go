package scraper

import (
	"context"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"bookmind/internal/core"
	"bookmind/internal/logger"
)

// Result is everything a scrape yields for one URL.
type Result struct {
	URL             string
	Title           string
	ExtractedText   string
	Headings        []string
	MetaDescription string
	QualityScore    int
	Strategy        string
}

// Strategy is one way of fetching and extracting a page.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, pageURL string) (*Result, error)
}

// Config tunes the scraper's pacing and strategy routing.
type Config struct {
	RequestsPerHour int
	MinDelay        time.Duration
	MaxDelay        time.Duration
	Timeout         time.Duration
	// StealthDomains lists host suffixes routed to the headless-browser
	// strategy first (JS-heavy or bot-hostile sites).
	StealthDomains []string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestsPerHour: 30,
		MinDelay:        2 * time.Second,
		MaxDelay:        8 * time.Second,
		Timeout:         30 * time.Second,
		StealthDomains:  []string{"github.com", "leetcode.com", "medium.com", "dev.to"},
	}
}

// acceptQuality is the floor at which a strategy's result wins outright;
// anything below keeps the chain trying.
const acceptQuality = 5

// fallbackQuality is assigned to the best attempt when no strategy
// reaches the floor.
const fallbackQuality = 3

// Scraper routes a URL through an ordered chain of strategies, pacing all
// traffic through one process-wide limiter.
type Scraper struct {
	cfg     Config
	limiter *rate.Limiter
	fast    Strategy
	stealth Strategy
	rng     *rand.Rand
}

// New builds a scraper with the default fast-path and stealth strategies.
func New(cfg Config) *Scraper {
	if cfg.RequestsPerHour <= 0 {
		cfg.RequestsPerHour = 30
	}
	perReq := time.Hour / time.Duration(cfg.RequestsPerHour)
	return &Scraper{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(perReq), 1),
		fast:    newFastStrategy(cfg.Timeout),
		stealth: newStealthStrategy(cfg.Timeout),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Scrape fetches one URL. Strategies run in routing order; the first
// result at or above the quality floor wins. When all fall short, the
// best attempt is returned at quality 3 with a ScrapeFailed warning
// logged, never an error, unless nothing produced content at all.
func (s *Scraper) Scrape(ctx context.Context, pageURL string) (*Result, error) {
	parsed, err := url.ParseRequestURI(pageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, core.InvalidInput("invalid url: " + pageURL)
	}

	if err := s.pace(ctx); err != nil {
		return nil, err
	}

	var best *Result
	var lastErr error
	for _, strat := range s.chainFor(parsed.Hostname()) {
		res, err := strat.Fetch(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, core.Timeout("scrape", ctx.Err())
			}
			logger.Debug("scrape strategy failed", "strategy", strat.Name(), "url", pageURL, "error", err.Error())
			lastErr = err
			continue
		}
		res.URL = pageURL
		res.Strategy = strat.Name()
		res.QualityScore = QualityScore(res)
		if res.QualityScore >= acceptQuality {
			return res, nil
		}
		if best == nil || res.QualityScore > best.QualityScore {
			best = res
		}
	}

	if best != nil {
		logger.Warn("all scrape strategies below quality floor, keeping best attempt",
			"url", pageURL, "quality", best.QualityScore)
		best.QualityScore = fallbackQuality
		return best, nil
	}
	return nil, core.ScrapeFailed("no strategy produced content for "+pageURL, 0, lastErr)
}

// pace blocks for the rate-limit slot plus the per-request jitter delay.
func (s *Scraper) pace(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return core.Timeout("scrape rate limit", err)
	}
	jitter := s.cfg.MinDelay
	if span := s.cfg.MaxDelay - s.cfg.MinDelay; span > 0 {
		jitter += time.Duration(s.rng.Int63n(int64(span)))
	}
	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return core.Timeout("scrape", ctx.Err())
	}
}

// chainFor orders strategies for a host: stealth first for configured
// hostile domains, fast path first otherwise.
func (s *Scraper) chainFor(host string) []Strategy {
	host = strings.ToLower(host)
	for _, d := range s.cfg.StealthDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return []Strategy{s.stealth, s.fast}
		}
	}
	return []Strategy{s.fast, s.stealth}
}

// userAgents is the pool the strategies draw from.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

func randomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}
