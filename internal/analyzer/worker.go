package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"bookmind/internal/cache"
	"bookmind/internal/core"
	"bookmind/internal/logger"
	"bookmind/internal/store"
)

// claimTTL is how long a claim hides a bookmark from other workers; a
// crashed worker's claims expire after this.
const claimTTL = 15 * time.Minute

// StructuredCaller is the slice of the LLM client the worker needs.
type StructuredCaller interface {
	CallStructured(ctx context.Context, userID int64, prompt string, schema *genai.Schema, out any) error
}

// Config tunes the worker's cadence.
type Config struct {
	Interval  time.Duration // pause between sweeps
	BatchSize int           // bookmarks claimed per sweep
	Cooldown  time.Duration // back-off after a failed item
}

func DefaultConfig() Config {
	return Config{Interval: 3 * time.Minute, BatchSize: 10, Cooldown: 30 * time.Minute}
}

// Worker is the background analyzer: it sweeps unanalyzed bookmarks,
// produces ContentAnalysis rows through the LLM, and backs off per item
// on failure. Multiple instances coexist through store-level claims.
type Worker struct {
	store *store.Store
	llm   StructuredCaller
	cache *cache.Cache
	cfg   Config
}

func NewWorker(st *store.Store, llm StructuredCaller, c *cache.Cache, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	return &Worker{store: st, llm: llm, cache: c, cfg: cfg}
}

// Run sweeps until the context is cancelled. In-flight items finish;
// cancellation is observed between items.
func (w *Worker) Run(ctx context.Context) error {
	log := logger.With("analyzer")
	log.Info().Dur("interval", w.cfg.Interval).Int("batch", w.cfg.BatchSize).Msg("background analyzer started")
	for {
		n, err := w.Sweep(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("sweep failed")
		} else if n > 0 {
			log.Info().Int("analyzed", n).Msg("sweep complete")
		}
		select {
		case <-time.After(w.cfg.Interval):
		case <-ctx.Done():
			return nil
		}
	}
}

// Sweep claims one batch and analyzes each item. A failure on one item
// never affects the others. Returns the number analyzed successfully.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	batch, err := w.store.ClaimUnanalyzed(ctx, w.cfg.BatchSize, w.cfg.Cooldown, claimTTL)
	if err != nil {
		return 0, err
	}
	analyzed := 0
	for _, bookmark := range batch {
		if ctx.Err() != nil {
			// Return unfinished claims so another sweep picks them up promptly.
			_ = w.store.ReleaseAnalysisClaim(context.Background(), bookmark.ID, false)
			return analyzed, nil
		}
		if err := w.analyzeOne(ctx, &bookmark); err != nil {
			var coreErr *core.Error
			if errors.As(err, &coreErr) && coreErr.Kind == core.KindRateLimited {
				// Budget exhausted: release without penalty and wait it out.
				_ = w.store.ReleaseAnalysisClaim(ctx, bookmark.ID, false)
				logger.Info("analysis paused on rate limit", "wait", coreErr.RetryAfter.String())
				select {
				case <-time.After(coreErr.RetryAfter):
				case <-ctx.Done():
					return analyzed, nil
				}
				continue
			}
			logger.Warn("analysis failed, cooling down item",
				"content", bookmark.ID, "error", err.Error())
			_ = w.store.ReleaseAnalysisClaim(ctx, bookmark.ID, true)
			continue
		}
		analyzed++
	}
	return analyzed, nil
}

func (w *Worker) analyzeOne(ctx context.Context, b *core.Bookmark) error {
	analysis, err := w.callLLM(ctx, b)
	if err != nil {
		return err
	}
	analysis.ContentID = b.ID
	if err := w.store.UpsertAnalysis(ctx, b.ID, analysis); err != nil {
		return err
	}
	if w.cache != nil {
		w.cache.Delete(ctx, cache.AnalysisKey(b.ID))
		w.cache.InvalidateUserContent(ctx, b.UserID)
	}
	return nil
}

func (w *Worker) callLLM(ctx context.Context, b *core.Bookmark) (*core.ContentAnalysis, error) {
	body := b.ExtractedText
	if len(body) > 12000 {
		body = body[:12000]
	}
	prompt := fmt.Sprintf(`Analyze this saved technical content and produce a structured summary.

Title: %s
URL: %s
User notes: %s

Content:
%s

content_type must be one of: tutorial, documentation, article, video, course, guide, reference.
difficulty_level must be one of: beginner, intermediate, advanced.
technologies lists the concrete technologies covered. key_concepts lists 3-6 core ideas.
relevance_score (0-100) rates how substantive and reusable the content is.
learning_path, project_applicability and skill_development are one short sentence each.`,
		b.Title, b.URL, b.Notes, body)

	var out core.ContentAnalysis
	if err := w.llm.CallStructured(ctx, b.UserID, prompt, analysisSchema, &out); err != nil {
		return nil, err
	}
	if !core.ValidContentType(out.ContentType) {
		out.ContentType = "article"
	}
	if !core.ValidDifficulty(out.Difficulty) {
		out.Difficulty = core.StageIntermediate
	}
	if out.RelevanceScore < 0 {
		out.RelevanceScore = 0
	}
	if out.RelevanceScore > 100 {
		out.RelevanceScore = 100
	}
	return &out, nil
}

var analysisSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"technologies":          {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"content_type":          {Type: genai.TypeString, Enum: core.ValidContentTypes},
		"difficulty_level":      {Type: genai.TypeString, Enum: core.ValidDifficulties},
		"key_concepts":          {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"relevance_score":       {Type: genai.TypeNumber},
		"learning_path":         {Type: genai.TypeString},
		"project_applicability": {Type: genai.TypeString},
		"skill_development":     {Type: genai.TypeString},
	},
	Required: []string{"technologies", "content_type", "difficulty_level", "key_concepts", "relevance_score"},
}
