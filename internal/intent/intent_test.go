package intent

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"google.golang.org/genai"

	"bookmind/internal/cache"
	"bookmind/internal/core"
)

func TestRuleAnalyzerClassification(t *testing.T) {
	r := NewRuleAnalyzer()

	cases := []struct {
		name  string
		text  string
		goal  string
		stage string
		ptype string
		techs []string
	}{
		{
			"beginner learning",
			"new to python, want a tutorial on flask basics",
			core.GoalLearn, core.StageBeginner, "general", []string{"python"},
		},
		{
			"building an api",
			"build a rest api with golang and postgres",
			core.GoalBuild, core.StageIntermediate, "api", []string{"go", "sql"},
		},
		{
			"debugging",
			"debug a broken kubernetes deployment",
			core.GoalSolve, core.StageIntermediate, "general", []string{"kubernetes"},
		},
		{
			"optimization wins over build",
			"optimize and refactor the react build pipeline",
			core.GoalOptimize, core.StageIntermediate, "web_app", []string{"react"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := r.Analyze(tc.text)
			if got.PrimaryGoal != tc.goal {
				t.Errorf("goal = %s, want %s", got.PrimaryGoal, tc.goal)
			}
			if got.LearningStage != tc.stage {
				t.Errorf("stage = %s, want %s", got.LearningStage, tc.stage)
			}
			if got.ProjectType != tc.ptype {
				t.Errorf("project type = %s, want %s", got.ProjectType, tc.ptype)
			}
			if !reflect.DeepEqual(got.SpecificTechnologies, tc.techs) {
				t.Errorf("techs = %v, want %v", got.SpecificTechnologies, tc.techs)
			}
			if got.ConfidenceScore != ruleConfidence {
				t.Errorf("confidence = %f", got.ConfidenceScore)
			}
		})
	}
}

func TestRuleAnalyzerDeterministic(t *testing.T) {
	r := NewRuleAnalyzer()
	text := "build a machine learning pipeline with python, pandas and docker"
	a := r.Analyze(text)
	b := r.Analyze(text)
	if !reflect.DeepEqual(a, b) {
		t.Error("rule analysis must be deterministic")
	}
}

func TestRuleAnalyzerUrgency(t *testing.T) {
	r := NewRuleAnalyzer()
	got := r.Analyze("fix the login error asap")
	if got.UrgencyLevel != core.UrgencyHigh {
		t.Errorf("urgency = %s", got.UrgencyLevel)
	}
	if got.TimeConstraint != core.TimeQuickTutorial {
		t.Errorf("time constraint = %s", got.TimeConstraint)
	}
}

// fakeLLM answers CallStructured by writing a canned intent or failing.
type fakeLLM struct {
	intent *core.Intent
	err    error
	calls  int
}

func (f *fakeLLM) CallStructured(ctx context.Context, userID int64, prompt string, schema *genai.Schema, out any) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	*(out.(*core.Intent)) = *f.intent
	return nil
}

func TestAnalyzeUsesLLM(t *testing.T) {
	llm := &fakeLLM{intent: &core.Intent{
		PrimaryGoal: core.GoalBuild, LearningStage: core.StageAdvanced,
		UrgencyLevel: core.UrgencyLow, ComplexityPreference: core.ComplexityComplex,
		TimeConstraint: core.TimeReference, ConfidenceScore: 0.95,
	}}
	a := New(llm, nil, nil)

	it, degraded, err := a.Analyze(context.Background(), 1, "build something", 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if degraded {
		t.Error("LLM path reported degraded")
	}
	if it.PrimaryGoal != core.GoalBuild || it.ConfidenceScore != 0.95 {
		t.Errorf("intent = %+v", it)
	}
	if it.ContextHash != core.ContextHash("build something") {
		t.Error("context hash not stamped")
	}
}

func TestAnalyzeDegradesToRules(t *testing.T) {
	llm := &fakeLLM{err: errors.New("model overloaded")}
	a := New(llm, nil, nil)

	it, degraded, err := a.Analyze(context.Background(), 1, "learn rust basics for beginners", 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if !degraded {
		t.Error("rule fallback must report degraded")
	}
	if it.PrimaryGoal != core.GoalLearn || it.LearningStage != core.StageBeginner {
		t.Errorf("rule intent = %+v", it)
	}
	if it.ConfidenceScore != ruleConfidence {
		t.Errorf("confidence = %f", it.ConfidenceScore)
	}
}

func TestAnalyzeEmptyText(t *testing.T) {
	a := New(nil, nil, nil)
	if _, _, err := a.Analyze(context.Background(), 1, "", 0, false); !core.IsKind(err, core.KindInvalidInput) {
		t.Errorf("got %v, want invalid_input", err)
	}
}

// fakeProjects serves one stored project.
type fakeProjects struct {
	project *core.Project
	saved   *core.Intent
}

func (f *fakeProjects) GetProject(ctx context.Context, userID, id int64) (*core.Project, error) {
	if f.project == nil || f.project.ID != id {
		return nil, core.NotFound("project")
	}
	return f.project, nil
}

func (f *fakeProjects) SaveProjectIntent(ctx context.Context, userID, projectID int64, intent *core.Intent) error {
	f.saved = intent
	return nil
}

func TestAnalyzeReusesProjectIntent(t *testing.T) {
	text := "ship the billing service"
	stored := &core.Intent{PrimaryGoal: core.GoalBuild, ContextHash: core.ContextHash(text), ConfidenceScore: 0.9}
	projects := &fakeProjects{project: &core.Project{ID: 7, Intent: stored}}
	llm := &fakeLLM{intent: &core.Intent{PrimaryGoal: core.GoalLearn}}
	a := New(llm, nil, projects)

	it, degraded, err := a.Analyze(context.Background(), 1, text, 7, false)
	if err != nil {
		t.Fatal(err)
	}
	if degraded || it != stored {
		t.Error("matching project intent must be reused as-is")
	}
	if llm.calls != 0 {
		t.Error("reuse must not call the LLM")
	}

	// force bypasses the stored intent and recomputes.
	_, _, err = a.Analyze(context.Background(), 1, text, 7, true)
	if err != nil {
		t.Fatal(err)
	}
	if llm.calls != 1 {
		t.Errorf("force recompute: llm calls = %d", llm.calls)
	}
	if projects.saved == nil {
		t.Error("recomputed intent must be persisted to the project")
	}
}

func TestDegradedIntentIsNotPersisted(t *testing.T) {
	mr := miniredis.RunT(t)
	c := cache.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	projects := &fakeProjects{project: &core.Project{ID: 7}}
	llm := &fakeLLM{err: errors.New("rate limited")}
	a := New(llm, c, projects)
	ctx := context.Background()
	text := "learn rust basics"

	_, degraded, err := a.Analyze(ctx, 1, text, 7, false)
	if err != nil {
		t.Fatal(err)
	}
	if !degraded {
		t.Fatal("LLM outage must degrade to rules")
	}
	if projects.saved != nil {
		t.Error("rule fallback written to the project")
	}
	if mr.Exists(cache.IntentKey(core.ContextHash(text))) {
		t.Error("rule fallback written to the shared cache")
	}

	// Once the LLM recovers, the same text must reach it again rather
	// than reuse the low-confidence fallback.
	llm.err = nil
	llm.intent = &core.Intent{
		PrimaryGoal: core.GoalLearn, LearningStage: core.StageBeginner,
		UrgencyLevel: core.UrgencyLow, ComplexityPreference: core.ComplexitySimple,
		TimeConstraint: core.TimeDeepDive, ConfidenceScore: 0.9,
	}
	it, degraded, err := a.Analyze(ctx, 1, text, 7, false)
	if err != nil {
		t.Fatal(err)
	}
	if degraded {
		t.Error("recovered LLM still reported degraded")
	}
	if llm.calls != 2 {
		t.Errorf("llm calls = %d, want 2", llm.calls)
	}
	if it.ConfidenceScore != 0.9 {
		t.Errorf("intent = %+v", it)
	}
	if projects.saved == nil {
		t.Error("LLM intent must be persisted to the project")
	}
	if !mr.Exists(cache.IntentKey(core.ContextHash(text))) {
		t.Error("LLM intent must be cached")
	}
}

func TestSanitizeClampsOffEnum(t *testing.T) {
	i := &core.Intent{PrimaryGoal: "research", LearningStage: "guru", UrgencyLevel: "extreme",
		ComplexityPreference: "insane", TimeConstraint: "whenever", ConfidenceScore: 3}
	sanitize(i)
	if i.PrimaryGoal != core.GoalLearn || i.LearningStage != core.StageIntermediate {
		t.Errorf("goal/stage = %s/%s", i.PrimaryGoal, i.LearningStage)
	}
	if i.ConfidenceScore != 1 {
		t.Errorf("confidence = %f", i.ConfidenceScore)
	}
}
