package explain

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"bookmind/internal/core"
	"bookmind/internal/logger"
)

// maxLength bounds every explanation the user sees.
const maxLength = 200

// TextCaller is the slice of the LLM client used for prose generation.
type TextCaller interface {
	CallText(ctx context.Context, userID int64, prompt string) (string, error)
}

// Explainer produces a short justification for one recommendation. LLM
// first, deterministic template on any failure. Never empty, never over
// 200 chars, never leaking raw scores. The bool result reports whether
// the template fallback was used.
type Explainer struct {
	llm TextCaller
}

func New(llm TextCaller) *Explainer {
	return &Explainer{llm: llm}
}

func (e *Explainer) Explain(ctx context.Context, userID int64, sc *core.ScoredCandidate, req *core.RecommendRequest) (string, bool) {
	if e.llm != nil {
		text, err := e.callLLM(ctx, userID, sc, req)
		if err == nil && text != "" {
			return clamp(text), false
		}
		if err != nil {
			logger.Debug("explanation degraded to template", "error", err.Error())
		}
	}
	return clamp(Template(sc, req.Intent)), true
}

func (e *Explainer) callLLM(ctx context.Context, userID int64, sc *core.ScoredCandidate, req *core.RecommendRequest) (string, error) {
	goal := "their work"
	if req.Intent != nil {
		goal = req.Intent.PrimaryGoal + " " + req.Intent.ProjectType
	}
	techs := ""
	difficulty := ""
	if sc.Candidate.Analysis != nil {
		techs = strings.Join(sc.Candidate.Analysis.Technologies, ", ")
		difficulty = sc.Candidate.Analysis.Difficulty
	}

	prompt := fmt.Sprintf(`In at most 40 words, tell the user why this saved bookmark is worth revisiting for their current goal. Be conversational and specific. Do not mention scores or rankings.

Goal: %s
Bookmark title: %s
Technologies: %s
Difficulty: %s
Strongest match signals: %s`,
		goal, sc.Candidate.Bookmark.Title, techs, difficulty,
		strings.Join(topComponents(sc, 3), ", "))

	text, err := e.llm.CallText(ctx, userID, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Trim(text, "\"")), nil
}

// Template is the deterministic fallback keyed on the dominant score
// component and the intent goal.
func Template(sc *core.ScoredCandidate, intent *core.Intent) string {
	title := sc.Candidate.Bookmark.Title
	if title == "" {
		title = "This bookmark"
	}
	tech := firstTech(sc)
	goal := "your current work"
	if intent != nil && intent.ProjectType != "" && intent.ProjectType != "general" {
		goal = "your " + strings.ReplaceAll(intent.ProjectType, "_", " ") + " work"
	}

	switch sc.DominantComponent() {
	case core.ComponentTechnology:
		if tech != "" {
			return fmt.Sprintf("Matches your %s stack and is directly relevant for %s.", tech, goal)
		}
		return fmt.Sprintf("Covers the technologies you're working with, relevant for %s.", goal)
	case core.ComponentSemantic:
		return fmt.Sprintf("Closely related to what you described; worth revisiting for %s.", goal)
	case core.ComponentContentType, core.ComponentIntent:
		if sc.Candidate.Analysis != nil && sc.Candidate.Analysis.ContentType != "" {
			return fmt.Sprintf("A %s that fits how you want to approach %s.", sc.Candidate.Analysis.ContentType, goal)
		}
		return fmt.Sprintf("Fits the way you want to approach %s.", goal)
	case core.ComponentDifficulty:
		if sc.Candidate.Analysis != nil && sc.Candidate.Analysis.Difficulty != "" {
			return fmt.Sprintf("Pitched at %s level, a good fit for where you are with %s.", sc.Candidate.Analysis.Difficulty, goal)
		}
	case core.ComponentSkillGap:
		if tech != "" {
			return fmt.Sprintf("Covers %s, which fills a gap on the path to %s.", tech, goal)
		}
		return fmt.Sprintf("Fills a skill gap on the path to %s.", goal)
	case core.ComponentFeedback:
		return fmt.Sprintf("Similar to content you've found useful before; relevant for %s.", goal)
	}
	return fmt.Sprintf("One of your strongest saved resources for %s.", goal)
}

// topComponents names the n largest components for the prompt.
func topComponents(sc *core.ScoredCandidate, n int) []string {
	type kv struct {
		name string
		val  float64
	}
	list := make([]kv, 0, len(sc.Components))
	for name, val := range sc.Components {
		list = append(list, kv{name, val})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].val != list[j].val {
			return list[i].val > list[j].val
		}
		return list[i].name < list[j].name
	})
	if len(list) > n {
		list = list[:n]
	}
	names := make([]string, len(list))
	for i, item := range list {
		names[i] = strings.ReplaceAll(item.name, "_", " ")
	}
	return names
}

func firstTech(sc *core.ScoredCandidate) string {
	if sc.Candidate.Analysis != nil && len(sc.Candidate.Analysis.Technologies) > 0 {
		return sc.Candidate.Analysis.Technologies[0]
	}
	if len(sc.Candidate.Bookmark.Tags) > 0 {
		return sc.Candidate.Bookmark.Tags[0]
	}
	return ""
}

// clamp enforces the non-empty, ≤200 char contract. Truncation counts
// runes so multibyte text is never cut mid-character.
func clamp(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "Relevant to your saved interests."
	}
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	cut := string(runes[:maxLength-1])
	if idx := strings.LastIndex(cut, " "); idx > len(cut)/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}
