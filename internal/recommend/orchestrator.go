package recommend

import (
	"context"
	"time"

	"bookmind/internal/cache"
	"bookmind/internal/core"
	"bookmind/internal/engine"
	"bookmind/internal/explain"
	"bookmind/internal/feedback"
	"bookmind/internal/intent"
	"bookmind/internal/logger"
	"bookmind/internal/skillgap"
)

// Degradation stage names reported in PerformanceMetrics.DegradedStages.
const (
	StageIntentLLM      = "intent_llm"
	StageExplanationLLM = "llm_explanation"
)

// CandidateSource is the slice of the store the orchestrator reads.
type CandidateSource interface {
	GetOrderedContentForUser(ctx context.Context, userID int64, maxItems int) ([]core.Candidate, error)
}

// Options bound result size and steer engine selection.
type Options struct {
	MaxResults    int     // default 10
	MinScore      float64 // default 25
	CandidateCap  int     // default 100
	FastThreshold int     // candidate count at or below which auto picks FastSemantic, default 50
}

func (o *Options) fill() {
	if o.MaxResults <= 0 {
		o.MaxResults = 10
	}
	if o.MinScore <= 0 {
		o.MinScore = 25
	}
	if o.CandidateCap <= 0 {
		o.CandidateCap = 100
	}
	if o.FastThreshold <= 0 {
		o.FastThreshold = 50
	}
}

// Orchestrator runs the full recommendation pipeline: intent analysis,
// candidate load, engine scoring, feedback personalization, skill-gap
// boosting, explanation, caching. Optional stages degrade instead of
// failing; only store errors and invalid input abort a request.
type Orchestrator struct {
	store    CandidateSource
	cache    *cache.Cache
	intents  *intent.Analyzer
	engines  *engine.Registry
	learner  *feedback.Learner
	gaps     *skillgap.Analyzer
	explains *explain.Explainer
	opts     Options
}

func NewOrchestrator(store CandidateSource, c *cache.Cache, intents *intent.Analyzer,
	engines *engine.Registry, learner *feedback.Learner, gaps *skillgap.Analyzer,
	explains *explain.Explainer, opts Options) *Orchestrator {
	opts.fill()
	return &Orchestrator{
		store: store, cache: c, intents: intents, engines: engines,
		learner: learner, gaps: gaps, explains: explains, opts: opts,
	}
}

// GetRecommendations answers one context with ranked, explained
// bookmarks. The cache is an accelerator only: a cold cache changes
// latency, never the result.
func (o *Orchestrator) GetRecommendations(ctx context.Context, req *core.RecommendRequest) (*core.RecommendResult, error) {
	start := time.Now()
	log := logger.With("recommend")

	if req.ContextText() == "" {
		return nil, core.InvalidInput("recommendation context must not be empty")
	}
	if req.MaxResults <= 0 {
		req.MaxResults = o.opts.MaxResults
	}
	if req.MinScore <= 0 {
		req.MinScore = o.opts.MinScore
	}

	cacheKey := cache.RecommendationKey(req.UserID, req.CacheKey())
	if o.cache != nil {
		var cached core.RecommendResult
		if o.cache.GetJSON(ctx, cacheKey, &cached) {
			cached.Metrics.CacheHit = true
			cached.Metrics.TotalDuration = time.Since(start)
			return &cached, nil
		}
	}

	var degraded []string

	if o.intents != nil {
		it, intentDegraded, err := o.intents.Analyze(ctx, req.UserID, req.ContextText(), req.ProjectID, false)
		if err != nil {
			log.Warn().Err(err).Msg("intent analysis skipped")
			degraded = append(degraded, StageIntentLLM)
		} else {
			req.Intent = it
			if intentDegraded {
				degraded = append(degraded, StageIntentLLM)
			}
		}
	}

	candidates, err := o.store.GetOrderedContentForUser(ctx, req.UserID, o.opts.CandidateCap)
	if err != nil {
		return nil, err
	}

	kind := o.pickEngine(req, len(candidates))
	result := &core.RecommendResult{
		Items:      []core.RecommendationItem{},
		EngineUsed: kind.String(),
	}
	if len(candidates) == 0 {
		result.Metrics = metrics(start, 0, degraded)
		return result, nil
	}

	scorer, err := o.engines.Get(kind)
	if err != nil {
		return nil, err
	}
	scored, engineDegraded, err := scorer.Score(ctx, req, candidates)
	if err != nil {
		return nil, err
	}
	degraded = append(degraded, engineDegraded...)

	if o.learner != nil {
		scored = o.learner.Personalize(ctx, req.UserID, scored)
	}
	if o.gaps != nil && req.Intent != nil {
		if info, gapErr := o.gaps.Analyze(ctx, req.UserID, req.Intent); gapErr != nil {
			log.Warn().Err(gapErr).Msg("skill gap boost skipped")
		} else {
			scored = o.gaps.Boost(scored, info)
		}
	}

	// Boosts re-rank but never resurrect: the min-score filter and the
	// result cap are re-applied as the final step.
	scored = finalCut(scored, req.MinScore, req.MaxResults)

	explanationFellBack := false
	for i := range scored {
		reason, fellBack := o.explainItem(ctx, req, &scored[i])
		if fellBack {
			explanationFellBack = true
		}
		result.Items = append(result.Items, buildItem(&scored[i], reason))
	}
	if explanationFellBack {
		degraded = append(degraded, StageExplanationLLM)
	}

	result.TotalCount = len(result.Items)
	result.Metrics = metrics(start, len(candidates), degraded)

	if o.cache != nil {
		o.cache.SetJSON(ctx, cacheKey, result, cache.TTLRecommendation)
	}
	return result, nil
}

func (o *Orchestrator) pickEngine(req *core.RecommendRequest, candidateCount int) engine.Kind {
	switch req.EnginePreference {
	case "fast", core.EngineFastSemantic:
		return engine.FastSemantic
	case core.EngineContextAware:
		return engine.ContextAware
	}
	if candidateCount <= o.opts.FastThreshold {
		return engine.FastSemantic
	}
	return engine.ContextAware
}

func (o *Orchestrator) explainItem(ctx context.Context, req *core.RecommendRequest, sc *core.ScoredCandidate) (string, bool) {
	if o.explains == nil {
		return explain.Template(sc, req.Intent), true
	}
	return o.explains.Explain(ctx, req.UserID, sc, req)
}

func finalCut(scored []core.ScoredCandidate, minScore float64, maxResults int) []core.ScoredCandidate {
	kept := scored[:0]
	for _, sc := range scored {
		if sc.Score >= minScore {
			kept = append(kept, sc)
		}
	}
	core.SortScored(kept)
	if len(kept) > maxResults {
		kept = kept[:maxResults]
	}
	return kept
}

func buildItem(sc *core.ScoredCandidate, reason string) core.RecommendationItem {
	item := core.RecommendationItem{
		ID:           sc.Candidate.Bookmark.ID,
		Title:        sc.Candidate.Bookmark.Title,
		URL:          sc.Candidate.Bookmark.URL,
		Score:        sc.Score,
		Reason:       reason,
		QualityScore: sc.Candidate.Bookmark.QualityScore,
		Confidence:   sc.Confidence,
		Metadata:     map[string]string{"dominant_component": sc.DominantComponent()},
	}
	if a := sc.Candidate.Analysis; a != nil {
		item.ContentType = a.ContentType
		item.Difficulty = a.Difficulty
		item.Technologies = a.Technologies
		item.KeyConcepts = a.KeyConcepts
	}
	return item
}

func metrics(start time.Time, candidateCount int, degraded []string) core.PerformanceMetrics {
	return core.PerformanceMetrics{
		TotalDuration:  time.Since(start),
		CandidateCount: candidateCount,
		Degraded:       len(degraded) > 0,
		DegradedStages: dedupe(degraded),
	}
}

func dedupe(stages []string) []string {
	if len(stages) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(stages))
	out := make([]string, 0, len(stages))
	for _, s := range stages {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
