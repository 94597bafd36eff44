package skillgap

import (
	"context"
	"sort"
	"strings"

	"bookmind/internal/core"
	"bookmind/internal/logger"
)

// maxBoost caps the skill-gap lift at +15%, applied after
// personalization.
const maxBoost = 0.15

// knownThreshold: a technology counts as known once it appears in this
// many analyses with non-trivial relevance.
const knownThreshold = 2

// minRelevance is the relevance floor below which an analysis doesn't
// count toward knowing a technology.
const minRelevance = 30.0

// prerequisites is the static technology dependency graph: to learn the
// key, know the values first.
var prerequisites = map[string][]string{
	"react":      {"javascript"},
	"vue":        {"javascript"},
	"typescript": {"javascript"},
	"nextjs":     {"react"},
	"django":     {"python"},
	"flask":      {"python"},
	"fastapi":    {"python"},
	"pandas":     {"python"},
	"ml":         {"python", "sql"},
	"kubernetes": {"docker"},
	"graphql":    {"api"},
	"aws":        {"docker"},
	"spring":     {"java"},
	"tailwind":   {"css"},
	"redis":      {"sql"},
}

// Candidates is the slice of the store this analyzer reads.
type Candidates interface {
	GetOrderedContentForUser(ctx context.Context, userID int64, maxItems int) ([]core.Candidate, error)
}

// GapInfo is the outcome of comparing known skills to a target set.
type GapInfo struct {
	KnownTechnologies    map[string]string `json:"known_technologies"` // tech -> rolled-up level
	MissingPrerequisites []string          `json:"missing_prerequisites"`
	RecommendedNextSteps []string          `json:"recommended_next_steps"`
	LearningPath         []string          `json:"learning_path"`
}

// Analyzer infers known technologies from analyzed bookmarks and boosts
// candidates that fill the gaps toward the intent's target set.
type Analyzer struct {
	store Candidates
}

func New(store Candidates) *Analyzer {
	return &Analyzer{store: store}
}

// Analyze rolls up the user's content history against the intent's
// target technologies.
func (a *Analyzer) Analyze(ctx context.Context, userID int64, intent *core.Intent) (*GapInfo, error) {
	candidates, err := a.store.GetOrderedContentForUser(ctx, userID, 1000)
	if err != nil {
		return nil, err
	}

	type techStats struct {
		count        int
		difficulties map[string]int
	}
	stats := map[string]*techStats{}
	for _, cand := range candidates {
		if cand.Analysis == nil || cand.Analysis.RelevanceScore < minRelevance {
			continue
		}
		for _, tech := range cand.Analysis.Technologies {
			tech = strings.ToLower(tech)
			st, ok := stats[tech]
			if !ok {
				st = &techStats{difficulties: map[string]int{}}
				stats[tech] = st
			}
			st.count++
			if cand.Analysis.Difficulty != "" {
				st.difficulties[cand.Analysis.Difficulty]++
			}
		}
	}

	info := &GapInfo{KnownTechnologies: map[string]string{}}
	for tech, st := range stats {
		if st.count >= knownThreshold {
			info.KnownTechnologies[tech] = dominantLevel(st.difficulties)
		}
	}

	var targets []string
	if intent != nil {
		targets = intent.SpecificTechnologies
	}
	seen := map[string]bool{}
	for _, target := range targets {
		target = strings.ToLower(target)
		if _, known := info.KnownTechnologies[target]; !known && !seen[target] {
			seen[target] = true
			info.RecommendedNextSteps = append(info.RecommendedNextSteps, target)
		}
		for _, prereq := range prerequisites[target] {
			if _, known := info.KnownTechnologies[prereq]; !known && !seen[prereq] {
				seen[prereq] = true
				info.MissingPrerequisites = append(info.MissingPrerequisites, prereq)
			}
		}
	}
	sort.Strings(info.MissingPrerequisites)
	sort.Strings(info.RecommendedNextSteps)

	// Prerequisites come first on the path, then the targets themselves.
	info.LearningPath = append(append([]string{}, info.MissingPrerequisites...), info.RecommendedNextSteps...)
	return info, nil
}

// Boost lifts candidates whose technologies intersect the gap set by up
// to +15%. Runs after personalization; ordering is re-established here.
func (a *Analyzer) Boost(scored []core.ScoredCandidate, info *GapInfo) []core.ScoredCandidate {
	if info == nil || (len(info.MissingPrerequisites) == 0 && len(info.RecommendedNextSteps) == 0) {
		return scored
	}
	gapSet := map[string]bool{}
	for _, t := range info.MissingPrerequisites {
		gapSet[t] = true
	}
	for _, t := range info.RecommendedNextSteps {
		gapSet[t] = true
	}

	for i := range scored {
		cand := &scored[i].Candidate
		matches := 0
		check := func(list []string) {
			for _, t := range list {
				if gapSet[strings.ToLower(t)] {
					matches++
				}
			}
		}
		if cand.Analysis != nil {
			check(cand.Analysis.Technologies)
		}
		check(cand.Bookmark.Tags)
		if matches == 0 {
			continue
		}
		boost := 0.05 * float64(matches)
		if boost > maxBoost {
			boost = maxBoost
		}
		if scored[i].Components == nil {
			scored[i].Components = map[string]float64{}
		}
		scored[i].Components[core.ComponentSkillGap] = boost
		scored[i].Score *= 1 + boost
		if scored[i].Score > 100 {
			scored[i].Score = 100
		}
	}
	core.SortScored(scored)
	return scored
}

func dominantLevel(difficulties map[string]int) string {
	best, bestCount := core.StageIntermediate, 0
	for _, level := range []string{core.StageBeginner, core.StageIntermediate, core.StageAdvanced} {
		if difficulties[level] > bestCount {
			best, bestCount = level, difficulties[level]
		}
	}
	if bestCount == 0 {
		logger.Debug("no difficulty signal for technology, assuming intermediate")
	}
	return best
}
