package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Engine names accepted in RecommendRequest.EnginePreference and reported
// in RecommendResult.EngineUsed.
const (
	EngineFastSemantic = "fast_semantic"
	EngineContextAware = "context_aware"
	EngineAuto         = "" // orchestrator picks by candidate count
)

// RecommendRequest is the input to the orchestrator and the engines. Text
// fields together form the recommendation context; Intent is attached by
// the orchestrator before scoring.
type RecommendRequest struct {
	UserID           int64    `json:"user_id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Technologies     []string `json:"technologies"`
	ProjectID        int64    `json:"project_id,omitempty"`
	EnginePreference string   `json:"engine_preference,omitempty"` // "fast" forces FastSemantic
	MaxResults       int      `json:"max_results,omitempty"`       // default 10
	MinScore         float64  `json:"min_score,omitempty"`         // default 25
	MinQuality       int      `json:"min_quality,omitempty"`

	Intent *Intent `json:"-"`
}

// ContextText flattens the request into the text used for intent analysis
// and embedding.
func (r *RecommendRequest) ContextText() string {
	parts := []string{r.Title, r.Description}
	parts = append(parts, r.Technologies...)
	return strings.TrimSpace(strings.Join(parts, " "))
}

// CacheKey is the stable fingerprint used for the rec: cache namespace.
// Built from the normalized request fields that affect the output.
func (r *RecommendRequest) CacheKey() string {
	raw := fmt.Sprintf("%s|%d|%s|%d|%.2f|%d",
		NormalizeContext(r.ContextText()), r.ProjectID, r.EnginePreference,
		r.MaxResults, r.MinScore, r.MinQuality)
	return ContextHash(raw)
}

// Candidate pairs a bookmark with its optional analysis for scoring.
type Candidate struct {
	Bookmark Bookmark         `json:"bookmark"`
	Analysis *ContentAnalysis `json:"analysis,omitempty"`
}

// Score component names, shared by engines, personalization, skill-gap
// boosting and explanation templates.
const (
	ComponentTechnology  = "technology_overlap"
	ComponentSemantic    = "semantic_similarity"
	ComponentContentType = "content_type_match"
	ComponentDifficulty  = "difficulty_match"
	ComponentQuality     = "quality"
	ComponentIntent      = "intent_alignment"
	ComponentOwnership   = "ownership"
	ComponentRelevance   = "relevance"
	ComponentFeedback    = "feedback_boost"
	ComponentSkillGap    = "skill_gap_boost"
)

// ScoredCandidate is a candidate with a final score in [0,100] and its
// component breakdown. ReasonHints carry template inputs to the explainer.
type ScoredCandidate struct {
	Candidate   Candidate          `json:"candidate"`
	Score       float64            `json:"score"` // [0,100]
	Components  map[string]float64 `json:"components"`
	Confidence  float64            `json:"confidence"` // [0,1]
	ReasonHints []string           `json:"reason_hints,omitempty"`
}

// DominantComponent returns the largest-weight component name, used by the
// template explainer. Ties resolve alphabetically for determinism.
func (s *ScoredCandidate) DominantComponent() string {
	best, bestVal := "", -1.0
	names := make([]string, 0, len(s.Components))
	for name := range s.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if v := s.Components[name]; v > bestVal {
			best, bestVal = name, v
		}
	}
	return best
}

// SortScored orders candidates by score descending with the shared
// tie-breaks: higher quality, newer saved_at, lower id.
func SortScored(list []ScoredCandidate) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := &list[i], &list[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Candidate.Bookmark.QualityScore != b.Candidate.Bookmark.QualityScore {
			return a.Candidate.Bookmark.QualityScore > b.Candidate.Bookmark.QualityScore
		}
		if !a.Candidate.Bookmark.SavedAt.Equal(b.Candidate.Bookmark.SavedAt) {
			return a.Candidate.Bookmark.SavedAt.After(b.Candidate.Bookmark.SavedAt)
		}
		return a.Candidate.Bookmark.ID < b.Candidate.Bookmark.ID
	})
}

// RecommendationItem is one entry of the final result.
type RecommendationItem struct {
	ID           int64             `json:"id"`
	Title        string            `json:"title"`
	URL          string            `json:"url"`
	Score        float64           `json:"score"`
	Reason       string            `json:"reason"`
	ContentType  string            `json:"content_type,omitempty"`
	Difficulty   string            `json:"difficulty,omitempty"`
	Technologies []string          `json:"technologies,omitempty"`
	KeyConcepts  []string          `json:"key_concepts,omitempty"`
	QualityScore int               `json:"quality_score"`
	Confidence   float64           `json:"confidence"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// PerformanceMetrics reports timing and degradation for one request.
// Degraded lists the stages that fell back (e.g. "llm_explanation").
type PerformanceMetrics struct {
	TotalDuration  time.Duration `json:"total_duration_ms"`
	CandidateCount int           `json:"candidate_count"`
	CacheHit       bool          `json:"cache_hit"`
	Degraded       bool          `json:"degraded"`
	DegradedStages []string      `json:"degraded_stages,omitempty"`
}

// RecommendResult is the orchestrator's output.
type RecommendResult struct {
	Items      []RecommendationItem `json:"items"`
	EngineUsed string               `json:"engine_used"`
	TotalCount int                  `json:"total_count"`
	Metrics    PerformanceMetrics   `json:"performance_metrics"`
}
