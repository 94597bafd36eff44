package engine

import (
	"context"

	"bookmind/internal/core"
)

// ContextAwareEngine shares the FastSemantic scoring skeleton but layers
// intent-aware boosts, an ownership bonus, and the analysis relevance
// signal on top.
type ContextAwareEngine struct {
	embedder Embedder
}

func NewContextAwareEngine(embedder Embedder) *ContextAwareEngine {
	return &ContextAwareEngine{embedder: embedder}
}

func (e *ContextAwareEngine) Name() string { return core.EngineContextAware }

// ownershipBonus applies to every candidate: all of them are the user's
// own saved content.
const ownershipBonus = 0.1

func (e *ContextAwareEngine) Score(ctx context.Context, req *core.RecommendRequest, candidates []core.Candidate) ([]core.ScoredCandidate, []string, error) {
	var degraded []string
	reqVec, embedDegraded := embedRequest(ctx, e.embedder, req)
	if embedDegraded {
		degraded = append(degraded, "embedding")
	}
	wanted := requestTechnologies(req)
	techBoost := technologyBoost(req.Intent)

	scored := make([]core.ScoredCandidate, 0, len(candidates))
	for _, cand := range candidates {
		if req.MinQuality > 0 && cand.Bookmark.QualityScore < req.MinQuality {
			continue
		}
		techOverlap := overlapFor(wanted, &cand) * techBoost
		if techOverlap > 1 {
			techOverlap = 1
		}
		ctMatch := contentTypeMatch(req.Intent, &cand) * goalContentBoost(req.Intent, &cand)
		if ctMatch > 1 {
			ctMatch = 1
		}

		components := map[string]float64{
			core.ComponentTechnology:  techOverlap,
			core.ComponentSemantic:    semanticSimilarity(reqVec, cand.Bookmark.Embedding),
			core.ComponentContentType: ctMatch,
			core.ComponentDifficulty:  difficultyMatch(req.Intent, &cand),
			core.ComponentQuality:     float64(cand.Bookmark.QualityScore) / 10,
			core.ComponentIntent:      intentAlignment(req.Intent, &cand),
			core.ComponentOwnership:   ownershipBonus,
		}

		raw := weightTechnology*components[core.ComponentTechnology] +
			weightSemantic*components[core.ComponentSemantic] +
			weightContentType*components[core.ComponentContentType] +
			weightDifficulty*components[core.ComponentDifficulty] +
			weightQuality*components[core.ComponentQuality] +
			weightIntent*components[core.ComponentIntent]
		raw += ownershipBonus * 0.1 // small fixed lift, not another full weight

		if cand.Analysis != nil && cand.Analysis.RelevanceScore > 0 {
			rel := cand.Analysis.RelevanceScore / 100 * 0.15
			components[core.ComponentRelevance] = rel
			raw += rel
		}

		scored = append(scored, core.ScoredCandidate{
			Candidate:  cand,
			Score:      clampScore(raw * 100),
			Components: components,
			Confidence: confidence(len(reqVec) > 0 && len(cand.Bookmark.Embedding) > 0, cand.Analysis != nil, req.Intent),
		})
	}
	return finalize(scored, req), degraded, nil
}

// technologyBoost scales the technology overlap by goal: learning
// intents get +10%, build/solve/optimize +20%.
func technologyBoost(intent *core.Intent) float64 {
	if intent == nil {
		return 1.0
	}
	switch intent.PrimaryGoal {
	case core.GoalLearn:
		return 1.1
	case core.GoalBuild, core.GoalSolve, core.GoalOptimize:
		return 1.2
	}
	return 1.0
}

// goalContentBoost lifts the content types that best serve the goal:
// tutorials for learn, docs/reference for build, guides for optimize.
func goalContentBoost(intent *core.Intent, c *core.Candidate) float64 {
	if intent == nil || c.Analysis == nil {
		return 1.0
	}
	ct := c.Analysis.ContentType
	switch intent.PrimaryGoal {
	case core.GoalLearn:
		if ct == "tutorial" || ct == "course" {
			return 1.2
		}
	case core.GoalBuild:
		if ct == "documentation" || ct == "reference" {
			return 1.2
		}
	case core.GoalOptimize:
		if ct == "guide" || ct == "article" {
			return 1.2
		}
	}
	return 1.0
}
