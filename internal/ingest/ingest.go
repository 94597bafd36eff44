package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"bookmind/internal/cache"
	"bookmind/internal/core"
	"bookmind/internal/embedding"
	"bookmind/internal/logger"
	"bookmind/internal/progress"
	"bookmind/internal/scraper"
	"bookmind/internal/store"
)

// Scraper is the slice of the scraping pipeline Save needs.
type Scraper interface {
	Scrape(ctx context.Context, pageURL string) (*scraper.Result, error)
}

// Embedder produces the content vector; failure is tolerated and the
// bookmark is saved without one.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config tunes ingestion.
type Config struct {
	QualityFloor int // scraped content below this is rejected, default 5
	Concurrency  int // parallel imports, default 3
}

func DefaultConfig() Config {
	return Config{QualityFloor: 5, Concurrency: 3}
}

// Service is the ingestion pipeline: scrape, quality-gate, embed, store.
// Single saves run inline; bulk imports run concurrently with progress
// published per item.
type Service struct {
	store    *store.Store
	scraper  Scraper
	embedder Embedder
	cache    *cache.Cache
	hub      *progress.Hub
	cfg      Config
}

func NewService(st *store.Store, sc Scraper, emb Embedder, c *cache.Cache, hub *progress.Hub, cfg Config) *Service {
	if cfg.QualityFloor <= 0 {
		cfg.QualityFloor = DefaultConfig().QualityFloor
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	return &Service{store: st, scraper: sc, embedder: emb, cache: c, hub: hub, cfg: cfg}
}

// SaveRequest captures one bookmark to ingest.
type SaveRequest struct {
	UserID   int64
	URL      string
	Title    string // user-supplied, overrides the scraped title
	Notes    string
	Category string
	Tags     []string
	Force    bool // re-scrape even when the URL is already saved
}

// SaveResult reports what happened to the URL.
type SaveResult struct {
	Bookmark     *core.Bookmark
	Created      bool
	Deduplicated bool // existing row kept, metadata merged, no scrape
}

// Save ingests one URL. An already-saved URL is deduplicated: the
// existing row keeps its id and saved_at, user metadata is merged in,
// and no network traffic happens unless Force is set. Content scoring
// below the quality floor rejects the save.
func (s *Service) Save(ctx context.Context, req SaveRequest) (*SaveResult, error) {
	req.URL = strings.TrimSpace(req.URL)
	if req.UserID == 0 || req.URL == "" {
		return nil, core.InvalidInput("user and url are required")
	}

	existing, err := s.store.GetBookmarkByURL(ctx, req.UserID, req.URL)
	if err != nil && !core.IsKind(err, core.KindNotFound) {
		return nil, err
	}
	if existing != nil && !req.Force {
		if err := s.store.MergeBookmarkMeta(ctx, req.UserID, existing.ID, req.Title, req.Notes); err != nil {
			return nil, err
		}
		merged, err := s.store.GetBookmark(ctx, req.UserID, existing.ID)
		if err != nil {
			return nil, err
		}
		return &SaveResult{Bookmark: merged, Deduplicated: true}, nil
	}

	scraped, err := s.scraper.Scrape(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	if scraped.QualityScore < s.cfg.QualityFloor {
		return nil, core.ScrapeFailed("content quality below acceptance floor", scraped.QualityScore, nil)
	}

	text := scraped.ExtractedText
	if len(text) > core.MaxExtractedTextLen {
		text = text[:core.MaxExtractedTextLen]
	}
	title := req.Title
	if title == "" {
		title = scraped.Title
	}

	bookmark := &core.Bookmark{
		UserID:        req.UserID,
		URL:           req.URL,
		Title:         title,
		Notes:         req.Notes,
		Category:      req.Category,
		Tags:          req.Tags,
		ExtractedText: text,
		QualityScore:  scraped.QualityScore,
	}
	bookmark.Embedding = s.embed(ctx, bookmark, scraped)

	result, err := s.store.UpsertBookmark(ctx, bookmark)
	if err != nil {
		return nil, err
	}
	bookmark.ID = result.ID
	if s.cache != nil {
		s.cache.InvalidateUserContent(ctx, req.UserID)
	}
	saved, err := s.store.GetBookmark(ctx, req.UserID, result.ID)
	if err != nil {
		return nil, err
	}
	return &SaveResult{Bookmark: saved, Created: result.Created}, nil
}

// embed is best effort: an embedder outage produces a bookmark without a
// vector, repairable later via the re-embed pass.
func (s *Service) embed(ctx context.Context, b *core.Bookmark, scraped *scraper.Result) []float32 {
	if s.embedder == nil {
		return nil
	}
	text := embedding.CanonicalText(embedding.Source{
		Title:           b.Title,
		MetaDescription: scraped.MetaDescription,
		Headings:        scraped.Headings,
		Notes:           b.Notes,
		Body:            b.ExtractedText,
	})
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		logger.Warn("embedding skipped for bookmark", "url", b.URL, "error", err.Error())
		return nil
	}
	return vec
}

// ImportSummary is the terminal state of a bulk import.
type ImportSummary struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
}

// StartImport launches a bulk import in the background and returns its
// job id immediately. Progress streams through the hub; cancellation is
// observed between items.
func (s *Service) StartImport(ctx context.Context, userID int64, urls []string) (string, error) {
	if len(urls) == 0 {
		return "", core.InvalidInput("no urls to import")
	}
	jobID := uuid.NewString()
	s.putJobRecord(ctx, userID, jobID, core.JobRunning)
	go func() {
		// Detach from the caller's lifetime; cancellation goes through the hub.
		s.RunImport(context.Background(), userID, jobID, urls)
	}()
	return jobID, nil
}

// RunImport executes a bulk import synchronously, publishing one
// progress event per processed URL and a terminal event at the end.
func (s *Service) RunImport(ctx context.Context, userID int64, jobID string, urls []string) *ImportSummary {
	log := logger.With("ingest")
	summary := &ImportSummary{JobID: jobID, Status: core.JobRunning, Total: len(urls)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	cancelled := false
	for _, pageURL := range urls {
		if ctx.Err() != nil || (s.hub != nil && s.hub.Cancelled(ctx, userID, jobID)) {
			cancelled = true
			break
		}
		pageURL := pageURL
		g.Go(func() error {
			res, err := s.Save(gctx, SaveRequest{UserID: userID, URL: pageURL})

			mu.Lock()
			summary.Processed++
			ev := core.ProgressEvent{Status: core.JobRunning, Total: summary.Total, LastURL: pageURL}
			if err != nil {
				summary.Failed++
				ev.Error = err.Error()
				log.Warn().Str("url", pageURL).Err(err).Msg("import item failed")
			} else {
				summary.Succeeded++
				if res.Created {
					summary.Created++
				} else {
					summary.Updated++
				}
			}
			ev.Processed = summary.Processed
			ev.Succeeded = summary.Succeeded
			ev.Failed = summary.Failed
			ev.Created = summary.Created
			ev.Updated = summary.Updated
			s.publish(ctx, userID, jobID, ev)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	summary.Status = core.JobDone
	if cancelled {
		summary.Status = core.JobCancelled
	}
	s.publish(ctx, userID, jobID, core.ProgressEvent{
		Status:    summary.Status,
		Processed: summary.Processed,
		Total:     summary.Total,
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
		Created:   summary.Created,
		Updated:   summary.Updated,
	})
	s.putJobRecord(ctx, userID, jobID, summary.Status)
	log.Info().Str("job", jobID).Str("status", summary.Status).
		Int("succeeded", summary.Succeeded).Int("failed", summary.Failed).
		Msg("import finished")
	return summary
}

func (s *Service) publish(ctx context.Context, userID int64, jobID string, ev core.ProgressEvent) {
	if s.hub != nil {
		s.hub.Publish(ctx, userID, jobID, ev)
	}
}

func (s *Service) putJobRecord(ctx context.Context, userID int64, jobID, status string) {
	if s.cache == nil {
		return
	}
	record := core.JobProgress{UserID: userID, JobKind: "import", JobID: jobID, Status: status}
	s.cache.SetJSON(ctx, cache.ProgressKey(userID, jobID)+":job", &record, cache.TTLProgressSlack+time.Hour)
}
