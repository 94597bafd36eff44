package engine

import (
	"context"

	"bookmind/internal/core"
)

// FastSemanticEngine is the lightweight scorer for small candidate sets
// or tight latency budgets: one request embedding, one linear pass.
type FastSemanticEngine struct {
	embedder Embedder
}

func NewFastSemanticEngine(embedder Embedder) *FastSemanticEngine {
	return &FastSemanticEngine{embedder: embedder}
}

func (e *FastSemanticEngine) Name() string { return core.EngineFastSemantic }

func (e *FastSemanticEngine) Score(ctx context.Context, req *core.RecommendRequest, candidates []core.Candidate) ([]core.ScoredCandidate, []string, error) {
	var degraded []string
	reqVec, embedDegraded := embedRequest(ctx, e.embedder, req)
	if embedDegraded {
		degraded = append(degraded, "embedding")
	}
	wanted := requestTechnologies(req)

	scored := make([]core.ScoredCandidate, 0, len(candidates))
	for _, cand := range candidates {
		if req.MinQuality > 0 && cand.Bookmark.QualityScore < req.MinQuality {
			continue
		}
		components := map[string]float64{
			core.ComponentTechnology:  overlapFor(wanted, &cand),
			core.ComponentSemantic:    semanticSimilarity(reqVec, cand.Bookmark.Embedding),
			core.ComponentContentType: contentTypeMatch(req.Intent, &cand),
			core.ComponentDifficulty:  difficultyMatch(req.Intent, &cand),
			core.ComponentQuality:     float64(cand.Bookmark.QualityScore) / 10,
			core.ComponentIntent:      intentAlignment(req.Intent, &cand),
		}
		raw := weightTechnology*components[core.ComponentTechnology] +
			weightSemantic*components[core.ComponentSemantic] +
			weightContentType*components[core.ComponentContentType] +
			weightDifficulty*components[core.ComponentDifficulty] +
			weightQuality*components[core.ComponentQuality] +
			weightIntent*components[core.ComponentIntent]

		scored = append(scored, core.ScoredCandidate{
			Candidate:  cand,
			Score:      clampScore(raw * 100),
			Components: components,
			Confidence: confidence(len(reqVec) > 0 && len(cand.Bookmark.Embedding) > 0, cand.Analysis != nil, req.Intent),
		})
	}
	return finalize(scored, req), degraded, nil
}
