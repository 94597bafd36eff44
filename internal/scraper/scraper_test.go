package scraper

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"golang.org/x/time/rate"

	"bookmind/internal/core"
)

type fakeStrategy struct {
	name   string
	result *Result
	err    error
	calls  int
}

func (f *fakeStrategy) Name() string { return f.name }
func (f *fakeStrategy) Fetch(ctx context.Context, pageURL string) (*Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	return &r, nil
}

func testScraper(fast, stealth Strategy) *Scraper {
	return &Scraper{
		cfg:     Config{},
		limiter: rate.NewLimiter(rate.Inf, 1),
		fast:    fast,
		stealth: stealth,
		rng:     rand.New(rand.NewSource(1)),
	}
}

func richResult() *Result {
	return &Result{
		Title:           "Title",
		MetaDescription: "desc",
		Headings:        []string{"H"},
		ExtractedText:   strings.Repeat("content line\n", 600),
	}
}

func TestScrapeAcceptsFirstGoodResult(t *testing.T) {
	fast := &fakeStrategy{name: "fast", result: richResult()}
	stealth := &fakeStrategy{name: "stealth", result: richResult()}
	s := testScraper(fast, stealth)

	res, err := s.Scrape(context.Background(), "https://example.com/post")
	if err != nil {
		t.Fatal(err)
	}
	if res.Strategy != "fast" {
		t.Errorf("strategy = %s", res.Strategy)
	}
	if res.QualityScore < acceptQuality {
		t.Errorf("quality = %d", res.QualityScore)
	}
	if stealth.calls != 0 {
		t.Error("stealth should not run when fast succeeds")
	}
}

func TestScrapeFallsThroughToStealth(t *testing.T) {
	fast := &fakeStrategy{name: "fast", err: errors.New("status code 403")}
	stealth := &fakeStrategy{name: "stealth", result: richResult()}
	s := testScraper(fast, stealth)

	res, err := s.Scrape(context.Background(), "https://example.com")
	if err != nil {
		t.Fatal(err)
	}
	if res.Strategy != "stealth" {
		t.Errorf("strategy = %s", res.Strategy)
	}
}

func TestScrapeKeepsBestAttemptAtFallbackQuality(t *testing.T) {
	thin := &Result{Title: "t", ExtractedText: "too little"}
	s := testScraper(
		&fakeStrategy{name: "fast", result: thin},
		&fakeStrategy{name: "stealth", result: thin},
	)

	res, err := s.Scrape(context.Background(), "https://example.com")
	if err != nil {
		t.Fatal(err)
	}
	if res.QualityScore != fallbackQuality {
		t.Errorf("quality = %d, want %d", res.QualityScore, fallbackQuality)
	}
}

func TestScrapeFailsWhenNothingFetches(t *testing.T) {
	s := testScraper(
		&fakeStrategy{name: "fast", err: errors.New("dns")},
		&fakeStrategy{name: "stealth", err: errors.New("browser down")},
	)

	_, err := s.Scrape(context.Background(), "https://example.com")
	if !core.IsKind(err, core.KindScrapeFailed) {
		t.Errorf("got %v, want scrape_failed", err)
	}
}

func TestScrapeRejectsBadURLs(t *testing.T) {
	s := testScraper(&fakeStrategy{name: "fast"}, &fakeStrategy{name: "stealth"})
	for _, bad := range []string{"", "not a url", "ftp://example.com/file", "javascript:alert(1)"} {
		if _, err := s.Scrape(context.Background(), bad); !core.IsKind(err, core.KindInvalidInput) {
			t.Errorf("Scrape(%q): got %v, want invalid_input", bad, err)
		}
	}
}
