package intent

import (
	"sort"
	"strings"

	"bookmind/internal/core"
)

// ruleConfidence is what the deterministic fallback reports: good enough
// to rank with, clearly below any LLM result.
const ruleConfidence = 0.4

// technologyVocabulary is the dictionary the fallback matches against.
// Keys are canonical names; values list the aliases that count as a hit.
var technologyVocabulary = map[string][]string{
	"python":     {"python", "flask", "django", "fastapi", "pandas", "numpy"},
	"javascript": {"javascript", "js", "node", "nodejs", "express"},
	"typescript": {"typescript", "ts"},
	"react":      {"react", "nextjs", "next.js"},
	"vue":        {"vue", "nuxt"},
	"go":         {"golang", " go ", "go,"},
	"rust":       {"rust", "cargo"},
	"java":       {"java ", "spring", "kotlin"},
	"sql":        {"sql", "postgres", "postgresql", "mysql", "sqlite"},
	"docker":     {"docker", "container"},
	"kubernetes": {"kubernetes", "k8s"},
	"aws":        {"aws", "lambda", "s3", "ec2"},
	"ml":         {"machine learning", "tensorflow", "pytorch", "scikit"},
	"css":        {"css", "tailwind", "sass"},
	"redis":      {"redis"},
	"graphql":    {"graphql"},
}

// projectTypeBuckets map keyword hits to a project type, checked in order
// so the more specific buckets win.
var projectTypeBuckets = []struct {
	projectType string
	keywords    []string
}{
	{"mobile_app", []string{"mobile", "android", "ios", "flutter", "react native"}},
	{"data_science", []string{"machine learning", "data science", "ml model", "dataset", "analytics"}},
	{"api", []string{"api", "rest", "graphql", "endpoint", "microservice"}},
	{"web_app", []string{"web", "website", "frontend", "react", "vue", "spa"}},
	{"automation", []string{"automation", "script", "pipeline", "cron", "workflow"}},
	{"cli_tool", []string{"cli", "command line", "terminal tool"}},
}

var beginnerMarkers = []string{"beginner", "new to", "getting started", "learn the basics", "first time", "tutorial for beginners"}
var advancedMarkers = []string{"advanced", "expert", "deep dive", "internals", "performance tuning", "production-grade"}

var goalMarkers = []struct {
	goal     string
	keywords []string
}{
	{core.GoalOptimize, []string{"optimize", "speed up", "performance", "refactor", "reduce latency"}},
	{core.GoalSolve, []string{"fix", "debug", "error", "issue", "broken", "troubleshoot"}},
	{core.GoalBuild, []string{"build", "create", "implement", "develop", "ship", "make a"}},
	{core.GoalLearn, []string{"learn", "understand", "study", "tutorial", "course"}},
}

// RuleAnalyzer is the deterministic fallback used when no LLM is
// available. Same input, same output, always.
type RuleAnalyzer struct{}

func NewRuleAnalyzer() *RuleAnalyzer { return &RuleAnalyzer{} }

// Analyze classifies the text by dictionary and keyword-bucket matching.
func (r *RuleAnalyzer) Analyze(text string) *core.Intent {
	lower := " " + strings.ToLower(text) + " "

	intent := &core.Intent{
		PrimaryGoal:          core.GoalLearn,
		LearningStage:        core.StageIntermediate,
		ProjectType:          "general",
		UrgencyLevel:         core.UrgencyMedium,
		ComplexityPreference: core.ComplexityModerate,
		TimeConstraint:       core.TimeDeepDive,
		ConfidenceScore:      ruleConfidence,
	}

	for canonical, aliases := range technologyVocabulary {
		for _, alias := range aliases {
			if strings.Contains(lower, alias) {
				intent.SpecificTechnologies = append(intent.SpecificTechnologies, canonical)
				break
			}
		}
	}
	sort.Strings(intent.SpecificTechnologies)

	for _, bucket := range projectTypeBuckets {
		if containsAny(lower, bucket.keywords) {
			intent.ProjectType = bucket.projectType
			break
		}
	}

	for _, g := range goalMarkers {
		if containsAny(lower, g.keywords) {
			intent.PrimaryGoal = g.goal
			break
		}
	}

	if containsAny(lower, beginnerMarkers) {
		intent.LearningStage = core.StageBeginner
		intent.ComplexityPreference = core.ComplexitySimple
		intent.TimeConstraint = core.TimeQuickTutorial
	} else if containsAny(lower, advancedMarkers) {
		intent.LearningStage = core.StageAdvanced
		intent.ComplexityPreference = core.ComplexityComplex
	}

	if containsAny(lower, []string{"urgent", "asap", "deadline", "quickly", "today"}) {
		intent.UrgencyLevel = core.UrgencyHigh
		intent.TimeConstraint = core.TimeQuickTutorial
	}

	intent.FocusAreas = focusAreas(intent)
	return intent
}

func focusAreas(i *core.Intent) []string {
	areas := []string{}
	if i.ProjectType != "general" {
		areas = append(areas, i.ProjectType)
	}
	n := len(i.SpecificTechnologies)
	if n > 3 {
		n = 3
	}
	areas = append(areas, i.SpecificTechnologies[:n]...)
	return areas
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
