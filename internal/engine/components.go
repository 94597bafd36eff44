package engine

import (
	"context"
	"math"
	"strings"
	"unicode"

	"bookmind/internal/core"
	"bookmind/internal/logger"
)

// Weight vector shared by both engines. The sum is 1.0 so component
// values in [0,1] scale directly to a 0-100 score.
const (
	weightTechnology  = 0.35
	weightSemantic    = 0.25
	weightContentType = 0.15
	weightDifficulty  = 0.10
	weightQuality     = 0.05
	weightIntent      = 0.10
)

const defaultMinScore = 25.0

// requestTechnologies merges explicit request technologies with the
// intent's detected ones, lowercased and deduplicated.
func requestTechnologies(req *core.RecommendRequest) []string {
	seen := map[string]bool{}
	var out []string
	add := func(list []string) {
		for _, t := range list {
			t = strings.ToLower(strings.TrimSpace(t))
			if t != "" && !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	add(req.Technologies)
	if req.Intent != nil {
		add(req.Intent.SpecificTechnologies)
	}
	return out
}

// candidateTechnologies collects a candidate's technologies from its
// analysis and tags.
func candidateTechnologies(c *core.Candidate) []string {
	seen := map[string]bool{}
	var out []string
	add := func(list []string) {
		for _, t := range list {
			t = strings.ToLower(strings.TrimSpace(t))
			if t != "" && !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	if c.Analysis != nil {
		add(c.Analysis.Technologies)
	}
	add(c.Bookmark.Tags)
	return out
}

// overlapFor computes the technology component for one candidate. A
// candidate with no analyzed technologies and no tags (saved moments
// ago, analysis still pending) falls back to scanning its title and
// text, so fresh saves are not invisible to technology matching.
func overlapFor(wanted []string, c *core.Candidate) float64 {
	have := candidateTechnologies(c)
	if len(have) == 0 && len(wanted) > 0 {
		have = scanTechnologies(wanted, c)
	}
	return technologyOverlap(wanted, have)
}

// scanLimit bounds how much extracted text the keyword scan reads.
const scanLimit = 4000

// scanTechnologies reports which wanted technologies appear as whole
// tokens in the candidate's title, notes, or leading extracted text.
// Token matching keeps "go" from hitting "mongodb" or "algorithm".
func scanTechnologies(wanted []string, c *core.Candidate) []string {
	text := c.Bookmark.Title + " " + c.Bookmark.Notes + " " + c.Bookmark.ExtractedText
	if len(text) > scanLimit {
		text = text[:scanLimit]
	}
	tokens := map[string]bool{}
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		tokens[tok] = true
	}
	var out []string
	for _, w := range wanted {
		if tokens[w] {
			out = append(out, w)
		}
	}
	return out
}

// technologyOverlap is the fraction of requested technologies the
// candidate covers, in [0,1]. With no requested technologies it falls
// back to a neutral 0.5 so the component neither rewards nor punishes.
func technologyOverlap(wanted, have []string) float64 {
	if len(wanted) == 0 {
		return 0.5
	}
	haveSet := map[string]bool{}
	for _, t := range have {
		haveSet[t] = true
	}
	matched := 0
	for _, t := range wanted {
		if haveSet[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(wanted))
}

// semanticSimilarity embeds the request text and compares it to the
// candidate embedding, mapped from cosine [-1,1] to [0,1]. A nil request
// vector (embedder down) or missing candidate embedding scores 0.
func semanticSimilarity(reqVec, candVec []float32) float64 {
	if len(reqVec) == 0 || len(candVec) != len(reqVec) {
		return 0
	}
	var dot, na, nb float64
	for i := range reqVec {
		dot += float64(reqVec[i]) * float64(candVec[i])
		na += float64(reqVec[i]) * float64(reqVec[i])
		nb += float64(candVec[i]) * float64(candVec[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return (cos + 1) / 2
}

// preferredContentTypes maps an intent to the content types that serve
// it best, in preference order.
func preferredContentTypes(intent *core.Intent) []string {
	if intent == nil {
		return nil
	}
	switch intent.PrimaryGoal {
	case core.GoalLearn:
		return []string{"tutorial", "course", "guide"}
	case core.GoalBuild:
		return []string{"documentation", "reference", "tutorial"}
	case core.GoalSolve:
		return []string{"article", "documentation", "reference"}
	case core.GoalOptimize:
		return []string{"guide", "article", "documentation"}
	}
	return nil
}

// contentTypeMatch scores how well the candidate's analyzed type serves
// the intent: 1.0 for the top preference, decreasing down the list, 0.3
// for any other known type, 0.5 when no analysis exists.
func contentTypeMatch(intent *core.Intent, c *core.Candidate) float64 {
	if c.Analysis == nil || c.Analysis.ContentType == "" {
		return 0.5
	}
	prefs := preferredContentTypes(intent)
	if len(prefs) == 0 {
		return 0.5
	}
	for i, p := range prefs {
		if c.Analysis.ContentType == p {
			return 1.0 - 0.25*float64(i)
		}
	}
	return 0.3
}

// difficultyMatch compares the intent's learning stage to the analyzed
// difficulty: exact 1.0, adjacent 0.5, opposite 0.1, unknown 0.5.
func difficultyMatch(intent *core.Intent, c *core.Candidate) float64 {
	if intent == nil || c.Analysis == nil || c.Analysis.Difficulty == "" {
		return 0.5
	}
	rank := map[string]int{
		core.StageBeginner:     0,
		core.StageIntermediate: 1,
		core.StageAdvanced:     2,
	}
	a, okA := rank[intent.LearningStage]
	b, okB := rank[c.Analysis.Difficulty]
	if !okA || !okB {
		return 0.5
	}
	switch abs(a - b) {
	case 0:
		return 1.0
	case 1:
		return 0.5
	default:
		return 0.1
	}
}

// intentAlignment rewards candidates matching the intent's focus areas
// and time constraint, weighted by the intent's own confidence.
func intentAlignment(intent *core.Intent, c *core.Candidate) float64 {
	if intent == nil {
		return 0.5
	}
	score := 0.5
	haystack := strings.ToLower(c.Bookmark.Title + " " + c.Bookmark.Notes)
	if c.Analysis != nil {
		haystack += " " + strings.ToLower(strings.Join(c.Analysis.KeyConcepts, " "))
	}
	for _, area := range intent.FocusAreas {
		if area != "" && strings.Contains(haystack, strings.ToLower(area)) {
			score += 0.15
		}
	}
	if intent.TimeConstraint == core.TimeQuickTutorial && c.Analysis != nil && c.Analysis.ContentType == "tutorial" {
		score += 0.1
	}
	if intent.TimeConstraint == core.TimeReference && c.Analysis != nil &&
		(c.Analysis.ContentType == "reference" || c.Analysis.ContentType == "documentation") {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	// Low-confidence intents pull the component toward neutral.
	return 0.5 + (score-0.5)*intent.ConfidenceScore
}

// embedRequest embeds the request context, degrading to nil on failure.
func embedRequest(ctx context.Context, embedder Embedder, req *core.RecommendRequest) ([]float32, bool) {
	if embedder == nil {
		return nil, true
	}
	vec, err := embedder.Embed(ctx, req.ContextText())
	if err != nil {
		logger.Warn("request embedding degraded", "error", err.Error())
		return nil, true
	}
	return vec, false
}

// confidence reports how much signal backed a score: more populated
// components mean a more trustworthy rank.
func confidence(hasEmbedding, hasAnalysis bool, intent *core.Intent) float64 {
	conf := 0.4
	if hasEmbedding {
		conf += 0.25
	}
	if hasAnalysis {
		conf += 0.2
	}
	if intent != nil {
		conf += 0.15 * intent.ConfidenceScore
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

// finalize filters, sorts with shared tie-breaks, and truncates.
func finalize(scored []core.ScoredCandidate, req *core.RecommendRequest) []core.ScoredCandidate {
	minScore := req.MinScore
	if minScore <= 0 {
		minScore = defaultMinScore
	}
	kept := scored[:0]
	for _, sc := range scored {
		if sc.Score >= minScore {
			kept = append(kept, sc)
		}
	}
	core.SortScored(kept)
	max := req.MaxResults
	if max <= 0 {
		max = 10
	}
	if len(kept) > max {
		kept = kept[:max]
	}
	return kept
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
