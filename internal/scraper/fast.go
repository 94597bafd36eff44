package scraper

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"context"

	"github.com/PuerkitoBio/goquery"
)

// fastStrategy is the default path: plain HTTP fetch plus readability-style
// extraction over a selector list with a boilerplate blocklist.
type fastStrategy struct {
	client *http.Client
}

func newFastStrategy(timeout time.Duration) *fastStrategy {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &fastStrategy{client: &http.Client{Timeout: timeout}}
}

func (f *fastStrategy) Name() string { return "fast" }

func (f *fastStrategy) Fetch(ctx context.Context, pageURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	setBrowserHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status code %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return extract(doc), nil
}

// setBrowserHeaders applies a full browser-like header set with a random
// user agent from the pool.
func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", randomUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

var mainContentSelectors = []string{
	"article", "main", ".main-content", ".entry-content", ".post-content",
	".post-body", ".article-body", "[role='main']", ".markdown-body",
	".content", "#content",
}

const boilerplateSelector = "script, style, nav, footer, header, aside, form, iframe, noscript, " +
	".sidebar, #sidebar, .ad, .advertisement, .popup, .modal, .cookie-banner, .comments, #comments"

var collapseNewlines = regexp.MustCompile(`(\n\s*){2,}`)

// extract pulls title, meta description, headings and body text out of a
// parsed document. Shared by the fast and stealth strategies.
func extract(doc *goquery.Document) *Result {
	res := &Result{}

	res.Title = strings.TrimSpace(doc.Find("head title").First().Text())
	if res.Title == "" {
		if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok {
			res.Title = strings.TrimSpace(og)
		}
	}
	if res.Title == "" {
		res.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	if desc, ok := doc.Find("meta[name='description']").Attr("content"); ok {
		res.MetaDescription = strings.TrimSpace(desc)
	} else if og, ok := doc.Find("meta[property='og:description']").Attr("content"); ok {
		res.MetaDescription = strings.TrimSpace(og)
	}

	doc.Find("h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		if h := strings.TrimSpace(s.Text()); h != "" {
			res.Headings = append(res.Headings, h)
		}
	})

	doc.Find(boilerplateSelector).Remove()

	var textBuilder strings.Builder
	appendBlocks := func(sel *goquery.Selection) {
		sel.Find("p, h1, h2, h3, h4, h5, h6, li, blockquote, pre, td").Each(func(_ int, item *goquery.Selection) {
			if t := strings.TrimSpace(item.Text()); t != "" {
				textBuilder.WriteString(t)
				textBuilder.WriteString("\n\n")
			}
		})
	}

	for _, selector := range mainContentSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			appendBlocks(s)
		})
		if textBuilder.Len() > 0 {
			break
		}
	}
	if textBuilder.Len() == 0 {
		appendBlocks(doc.Find("body"))
	}

	text := collapseNewlines.ReplaceAllString(textBuilder.String(), "\n")
	res.ExtractedText = strings.TrimSpace(text)

	if res.Title == "" && res.ExtractedText != "" {
		words := strings.Fields(res.ExtractedText)
		if len(words) > 10 {
			words = words[:10]
		}
		res.Title = strings.Join(words, " ")
	}
	return res
}
