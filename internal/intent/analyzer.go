package intent

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"bookmind/internal/cache"
	"bookmind/internal/core"
	"bookmind/internal/logger"
)

// StructuredCaller is the slice of the LLM client this analyzer needs.
type StructuredCaller interface {
	CallStructured(ctx context.Context, userID int64, prompt string, schema *genai.Schema, out any) error
}

// ProjectIntents is the slice of the store used for the per-project
// intent cache.
type ProjectIntents interface {
	GetProject(ctx context.Context, userID, id int64) (*core.Project, error)
	SaveProjectIntent(ctx context.Context, userID, projectID int64, intent *core.Intent) error
}

// Analyzer produces a structured Intent for user text: project cache,
// then shared cache, then LLM, then the deterministic rule fallback.
type Analyzer struct {
	llm   StructuredCaller
	cache *cache.Cache
	store ProjectIntents
	rules *RuleAnalyzer
	log   func(msg string, args ...any)
}

// New builds the analyzer. cache and store may be nil (both lookups are
// then skipped); llm may be nil to force the rule path.
func New(llm StructuredCaller, c *cache.Cache, store ProjectIntents) *Analyzer {
	return &Analyzer{
		llm:   llm,
		cache: c,
		store: store,
		rules: NewRuleAnalyzer(),
		log:   logger.Debug,
	}
}

// Analyze resolves the intent for userText. When projectID is set and
// force is false, a stored project intent with a matching context hash is
// reused without any LLM call. The returned bool reports whether the
// LLM path degraded to the rule fallback.
func (a *Analyzer) Analyze(ctx context.Context, userID int64, userText string, projectID int64, force bool) (*core.Intent, bool, error) {
	if userText == "" {
		return nil, false, core.InvalidInput("intent text is empty")
	}
	hash := core.ContextHash(userText)

	if projectID != 0 && !force && a.store != nil {
		project, err := a.store.GetProject(ctx, userID, projectID)
		if err == nil && project.Intent != nil && project.Intent.ContextHash == hash {
			return project.Intent, false, nil
		}
		if err != nil && !core.IsKind(err, core.KindNotFound) {
			return nil, false, err
		}
	}

	if a.cache != nil && !force {
		var cached core.Intent
		if a.cache.GetJSON(ctx, cache.IntentKey(hash), &cached) && cached.ContextHash == hash {
			return &cached, false, nil
		}
	}

	intent, degraded := a.compute(ctx, userID, userText, hash)

	// Rule-fallback intents are never persisted: the low-confidence result
	// would otherwise be reused and keep the LLM from being retried once
	// the outage or rate limit clears.
	if !degraded {
		if a.cache != nil {
			a.cache.SetJSON(ctx, cache.IntentKey(hash), intent, cache.TTLIntent)
		}
		if projectID != 0 && a.store != nil {
			if err := a.store.SaveProjectIntent(ctx, userID, projectID, intent); err != nil {
				a.log("failed to persist project intent", "project", projectID, "error", err.Error())
			}
		}
	}
	return intent, degraded, nil
}

func (a *Analyzer) compute(ctx context.Context, userID int64, userText, hash string) (*core.Intent, bool) {
	if a.llm != nil {
		intent, err := a.callLLM(ctx, userID, userText)
		if err == nil {
			intent.ContextHash = hash
			intent.UpdatedAt = time.Now().UTC()
			return intent, false
		}
		a.log("intent LLM path degraded to rules", "error", err.Error())
	}
	intent := a.rules.Analyze(userText)
	intent.ContextHash = hash
	intent.UpdatedAt = time.Now().UTC()
	return intent, true
}

func (a *Analyzer) callLLM(ctx context.Context, userID int64, userText string) (*core.Intent, error) {
	prompt := fmt.Sprintf(`Analyze what this user is trying to accomplish and classify their intent.

User context:
%s

Classify primary_goal as one of: learn, build, solve, optimize.
Classify learning_stage as one of: beginner, intermediate, advanced.
Classify urgency_level as one of: low, medium, high.
Classify complexity_preference as one of: simple, moderate, complex.
Classify time_constraint as one of: quick_tutorial, deep_dive, reference.
project_type is a short snake_case label like web_app, mobile_app, api, data_science, automation.
List the specific technologies mentioned or clearly implied, and 2-4 focus areas.
Set confidence_score between 0 and 1 for how certain the classification is.`, truncate(userText, 4000))

	var out core.Intent
	if err := a.llm.CallStructured(ctx, userID, prompt, intentSchema, &out); err != nil {
		return nil, err
	}
	sanitize(&out)
	return &out, nil
}

// intentSchema constrains the model output to the Intent shape.
var intentSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"primary_goal":          {Type: genai.TypeString, Enum: []string{core.GoalLearn, core.GoalBuild, core.GoalSolve, core.GoalOptimize}},
		"learning_stage":        {Type: genai.TypeString, Enum: []string{core.StageBeginner, core.StageIntermediate, core.StageAdvanced}},
		"project_type":          {Type: genai.TypeString},
		"urgency_level":         {Type: genai.TypeString, Enum: []string{core.UrgencyLow, core.UrgencyMedium, core.UrgencyHigh}},
		"specific_technologies": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"complexity_preference": {Type: genai.TypeString, Enum: []string{core.ComplexitySimple, core.ComplexityModerate, core.ComplexityComplex}},
		"time_constraint":       {Type: genai.TypeString, Enum: []string{core.TimeQuickTutorial, core.TimeDeepDive, core.TimeReference}},
		"focus_areas":           {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"confidence_score":      {Type: genai.TypeNumber},
	},
	Required: []string{"primary_goal", "learning_stage", "urgency_level", "complexity_preference", "time_constraint", "confidence_score"},
}

// sanitize clamps model output back into the allowed vocabulary; anything
// off-enum gets the moderate defaults.
func sanitize(i *core.Intent) {
	switch i.PrimaryGoal {
	case core.GoalLearn, core.GoalBuild, core.GoalSolve, core.GoalOptimize:
	default:
		i.PrimaryGoal = core.GoalLearn
	}
	switch i.LearningStage {
	case core.StageBeginner, core.StageIntermediate, core.StageAdvanced:
	default:
		i.LearningStage = core.StageIntermediate
	}
	switch i.UrgencyLevel {
	case core.UrgencyLow, core.UrgencyMedium, core.UrgencyHigh:
	default:
		i.UrgencyLevel = core.UrgencyMedium
	}
	switch i.ComplexityPreference {
	case core.ComplexitySimple, core.ComplexityModerate, core.ComplexityComplex:
	default:
		i.ComplexityPreference = core.ComplexityModerate
	}
	switch i.TimeConstraint {
	case core.TimeQuickTutorial, core.TimeDeepDive, core.TimeReference:
	default:
		i.TimeConstraint = core.TimeDeepDive
	}
	if i.ConfidenceScore < 0 {
		i.ConfidenceScore = 0
	}
	if i.ConfidenceScore > 1 {
		i.ConfidenceScore = 1
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
