package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"bookmind/internal/cache"
	"bookmind/internal/core"
	"bookmind/internal/progress"
	"bookmind/internal/scraper"
	"bookmind/internal/store"
)

type fakeScraper struct {
	mu      sync.Mutex
	calls   int
	quality int
	failFor map[string]error
}

func (f *fakeScraper) Scrape(ctx context.Context, pageURL string) (*scraper.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err, ok := f.failFor[pageURL]; ok {
		return nil, err
	}
	q := f.quality
	if q == 0 {
		q = 8
	}
	return &scraper.Result{
		Title:           "Scraped Title",
		MetaDescription: "desc",
		Headings:        []string{"Intro"},
		ExtractedText:   strings.Repeat("content ", 400),
		QualityScore:    q,
		Strategy:        "fast",
	}, nil
}

func (f *fakeScraper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

func newTestService(t *testing.T, sc Scraper, emb Embedder) (*Service, *store.Store, int64, *progress.Hub) {
	t.Helper()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	u, err := st.CreateUser(context.Background(), "alice", "alice@example.com", "hash", nil)
	if err != nil {
		t.Fatal(err)
	}
	mr := miniredis.RunT(t)
	c := cache.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	hub := progress.NewHub(c)
	return NewService(st, sc, emb, c, hub, Config{Concurrency: 2}), st, u.ID, hub
}

func TestSaveScrapesAndStores(t *testing.T) {
	sc := &fakeScraper{}
	emb := &fakeEmbedder{}
	svc, _, userID, _ := newTestService(t, sc, emb)

	res, err := svc.Save(context.Background(), SaveRequest{UserID: userID, URL: "https://example.com/post", Tags: []string{"go"}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Created || res.Deduplicated {
		t.Errorf("result = %+v", res)
	}
	b := res.Bookmark
	if b.Title != "Scraped Title" {
		t.Errorf("title fallback: %q", b.Title)
	}
	if b.QualityScore != 8 {
		t.Errorf("quality = %d", b.QualityScore)
	}
	if len(b.Embedding) == 0 {
		t.Error("embedding missing")
	}
	if emb.calls != 1 {
		t.Errorf("embedder calls = %d", emb.calls)
	}
}

func TestSaveDeduplicates(t *testing.T) {
	sc := &fakeScraper{}
	svc, _, userID, _ := newTestService(t, sc, &fakeEmbedder{})
	ctx := context.Background()

	first, err := svc.Save(ctx, SaveRequest{UserID: userID, URL: "https://example.com/post"})
	if err != nil {
		t.Fatal(err)
	}

	second, err := svc.Save(ctx, SaveRequest{UserID: userID, URL: "https://example.com/post", Notes: "read later"})
	if err != nil {
		t.Fatal(err)
	}
	if !second.Deduplicated || second.Created {
		t.Errorf("second save = %+v", second)
	}
	if second.Bookmark.ID != first.Bookmark.ID {
		t.Error("dedup changed the row id")
	}
	if second.Bookmark.Notes != "read later" {
		t.Errorf("notes not merged: %q", second.Bookmark.Notes)
	}
	if sc.callCount() != 1 {
		t.Errorf("dedup hit the network: %d scrapes", sc.callCount())
	}

	// Force bypasses dedup and re-scrapes in place.
	third, err := svc.Save(ctx, SaveRequest{UserID: userID, URL: "https://example.com/post", Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if third.Deduplicated || third.Created {
		t.Errorf("forced save = %+v", third)
	}
	if third.Bookmark.ID != first.Bookmark.ID {
		t.Error("force changed the row id")
	}
	if sc.callCount() != 2 {
		t.Errorf("force did not re-scrape: %d scrapes", sc.callCount())
	}
}

func TestSaveRejectsLowQuality(t *testing.T) {
	svc, st, userID, _ := newTestService(t, &fakeScraper{quality: 3}, nil)

	_, err := svc.Save(context.Background(), SaveRequest{UserID: userID, URL: "https://example.com/thin"})
	if !core.IsKind(err, core.KindScrapeFailed) {
		t.Fatalf("got %v, want scrape_failed", err)
	}
	if _, err := st.GetBookmarkByURL(context.Background(), userID, "https://example.com/thin"); !core.IsKind(err, core.KindNotFound) {
		t.Error("rejected content was stored")
	}
}

func TestSaveToleratesEmbedderOutage(t *testing.T) {
	svc, _, userID, _ := newTestService(t, &fakeScraper{}, &fakeEmbedder{err: errors.New("service down")})

	res, err := svc.Save(context.Background(), SaveRequest{UserID: userID, URL: "https://example.com/post"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Bookmark.Embedding) != 0 {
		t.Error("embedding present despite outage")
	}
}

func TestSaveValidatesInput(t *testing.T) {
	svc, _, userID, _ := newTestService(t, &fakeScraper{}, nil)
	ctx := context.Background()

	if _, err := svc.Save(ctx, SaveRequest{UserID: userID, URL: "   "}); !core.IsKind(err, core.KindInvalidInput) {
		t.Errorf("blank url: %v", err)
	}
	if _, err := svc.Save(ctx, SaveRequest{URL: "https://example.com"}); !core.IsKind(err, core.KindInvalidInput) {
		t.Errorf("missing user: %v", err)
	}
}

func TestRunImportCountsAndTerminalEvent(t *testing.T) {
	sc := &fakeScraper{failFor: map[string]error{
		"https://example.com/broken": errors.New("status code 500"),
	}}
	svc, _, userID, hub := newTestService(t, sc, nil)
	ctx := context.Background()

	urls := []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/broken",
	}
	summary := svc.RunImport(ctx, userID, "job-1", urls)

	if summary.Status != core.JobDone {
		t.Errorf("status = %s", summary.Status)
	}
	if summary.Processed != 3 || summary.Succeeded != 2 || summary.Failed != 1 {
		t.Errorf("counts = %+v", summary)
	}
	if summary.Created != 2 || summary.Updated != 0 {
		t.Errorf("created/updated = %d/%d", summary.Created, summary.Updated)
	}

	// The replayed stream ends with a terminal event carrying the same
	// counts.
	var last core.ProgressEvent
	for ev := range hub.Subscribe(ctx, userID, "job-1", 0) {
		last = ev
	}
	if last.Status != core.JobDone || last.Succeeded != 2 || last.Failed != 1 {
		t.Errorf("terminal event = %+v", last)
	}

	// A failed item's event names the URL and the error.
	sawFailure := false
	for ev := range hub.Subscribe(ctx, userID, "job-1", 0) {
		if ev.Error != "" && ev.LastURL == "https://example.com/broken" {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Error("failure event missing")
	}
}

func TestRunImportReimportsAsUpdates(t *testing.T) {
	svc, _, userID, _ := newTestService(t, &fakeScraper{}, nil)
	ctx := context.Background()
	urls := []string{"https://example.com/a"}

	if s := svc.RunImport(ctx, userID, "job-1", urls); s.Created != 1 {
		t.Fatalf("first run: %+v", s)
	}
	// The second pass deduplicates and counts the row as updated.
	second := svc.RunImport(ctx, userID, "job-2", urls)
	if second.Succeeded != 1 || second.Created != 0 || second.Updated != 1 {
		t.Errorf("second run = %+v", second)
	}
}

func TestRunImportHonorsCancelFlag(t *testing.T) {
	svc, _, userID, hub := newTestService(t, &fakeScraper{}, nil)
	ctx := context.Background()

	hub.Cancel(ctx, userID, "job-1")
	summary := svc.RunImport(ctx, userID, "job-1", []string{"https://example.com/a", "https://example.com/b"})

	if summary.Status != core.JobCancelled {
		t.Errorf("status = %s", summary.Status)
	}
	if summary.Processed != 0 {
		t.Errorf("processed = %d after pre-run cancel", summary.Processed)
	}
}

func TestStartImportRequiresURLs(t *testing.T) {
	svc, _, userID, _ := newTestService(t, &fakeScraper{}, nil)
	if _, err := svc.StartImport(context.Background(), userID, nil); !core.IsKind(err, core.KindInvalidInput) {
		t.Errorf("got %v, want invalid_input", err)
	}
}
