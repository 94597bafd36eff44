package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"bookmind/internal/core"
	"bookmind/internal/embedding"
)

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedder down")
}

func candidate(id int64, quality int, analysis *core.ContentAnalysis, emb []float32) core.Candidate {
	return core.Candidate{
		Bookmark: core.Bookmark{
			ID: id, UserID: 1, URL: "https://example.com", Title: "bookmark",
			QualityScore: quality, Embedding: emb, SavedAt: time.Now(),
		},
		Analysis: analysis,
	}
}

func TestTechnologyOverlap(t *testing.T) {
	cases := []struct {
		wanted, have []string
		want         float64
	}{
		{nil, []string{"go"}, 0.5},
		{[]string{"go"}, []string{"go"}, 1.0},
		{[]string{"go", "redis"}, []string{"go"}, 0.5},
		{[]string{"go"}, nil, 0.0},
	}
	for _, tc := range cases {
		if got := technologyOverlap(tc.wanted, tc.have); got != tc.want {
			t.Errorf("technologyOverlap(%v, %v) = %f, want %f", tc.wanted, tc.have, got, tc.want)
		}
	}
}

func TestOverlapFallsBackToTextScan(t *testing.T) {
	// Not yet analyzed, no tags: the title still names the technology.
	fresh := core.Candidate{Bookmark: core.Bookmark{
		ID: 1, Title: "Go Concurrency Patterns", ExtractedText: "channels and goroutines",
	}}
	if got := overlapFor([]string{"go"}, &fresh); got != 1.0 {
		t.Errorf("title scan overlap = %f, want 1.0", got)
	}

	// Whole-token matching: "go" must not hit "MongoDB" or "algorithm".
	unrelated := core.Candidate{Bookmark: core.Bookmark{
		ID: 2, Title: "MongoDB sharding algorithm", ExtractedText: "replica sets",
	}}
	if got := overlapFor([]string{"go"}, &unrelated); got != 0.0 {
		t.Errorf("substring leak: overlap = %f, want 0.0", got)
	}

	// Analyzed technologies stay authoritative; no scan happens then.
	analyzed := core.Candidate{
		Bookmark: core.Bookmark{ID: 3, Title: "Go talk"},
		Analysis: &core.ContentAnalysis{Technologies: []string{"rust"}},
	}
	if got := overlapFor([]string{"go"}, &analyzed); got != 0.0 {
		t.Errorf("analysis should win over the scan: %f", got)
	}
}

func TestUnanalyzedCandidateScoresOnTitleMatch(t *testing.T) {
	e := NewFastSemanticEngine(nil)
	req := &core.RecommendRequest{UserID: 1, Title: "learning go concurrency", Technologies: []string{"go"}, MinScore: 1}

	fresh := core.Candidate{Bookmark: core.Bookmark{
		ID: 1, UserID: 1, URL: "https://blog.golang.org/pipelines",
		Title: "Go Concurrency Patterns", QualityScore: 8, SavedAt: time.Now(),
	}}
	scored, _, err := e.Score(context.Background(), req, []core.Candidate{fresh})
	if err != nil {
		t.Fatal(err)
	}
	if len(scored) != 1 {
		t.Fatal("fresh bookmark filtered out")
	}
	if scored[0].Components[core.ComponentTechnology] != 1.0 {
		t.Errorf("tech component = %f, want 1.0", scored[0].Components[core.ComponentTechnology])
	}
	if scored[0].Score < 40 {
		t.Errorf("score = %f, want >= 40", scored[0].Score)
	}
}

func TestSemanticSimilarityRange(t *testing.T) {
	a := []float32{1, 0}
	if got := semanticSimilarity(a, []float32{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Errorf("identical vectors = %f", got)
	}
	if got := semanticSimilarity(a, []float32{-1, 0}); math.Abs(got) > 1e-9 {
		t.Errorf("opposite vectors = %f", got)
	}
	if got := semanticSimilarity(a, []float32{0, 1}); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("orthogonal vectors = %f", got)
	}
	if got := semanticSimilarity(nil, a); got != 0 {
		t.Errorf("missing request vector = %f", got)
	}
	if got := semanticSimilarity(a, []float32{1, 0, 0}); got != 0 {
		t.Errorf("dimension mismatch = %f", got)
	}
}

func TestContentTypeAndDifficultyMatch(t *testing.T) {
	learn := &core.Intent{PrimaryGoal: core.GoalLearn, LearningStage: core.StageBeginner}

	tut := candidate(1, 5, &core.ContentAnalysis{ContentType: "tutorial", Difficulty: "beginner"}, nil)
	if got := contentTypeMatch(learn, &tut); got != 1.0 {
		t.Errorf("top preference = %f", got)
	}
	guide := candidate(2, 5, &core.ContentAnalysis{ContentType: "guide"}, nil)
	if got := contentTypeMatch(learn, &guide); got != 0.5 {
		t.Errorf("third preference = %f", got)
	}
	video := candidate(3, 5, &core.ContentAnalysis{ContentType: "video"}, nil)
	if got := contentTypeMatch(learn, &video); got != 0.3 {
		t.Errorf("off-list type = %f", got)
	}
	bare := candidate(4, 5, nil, nil)
	if got := contentTypeMatch(learn, &bare); got != 0.5 {
		t.Errorf("no analysis = %f", got)
	}

	if got := difficultyMatch(learn, &tut); got != 1.0 {
		t.Errorf("exact difficulty = %f", got)
	}
	adv := candidate(5, 5, &core.ContentAnalysis{Difficulty: "advanced"}, nil)
	if got := difficultyMatch(learn, &adv); got != 0.1 {
		t.Errorf("opposite difficulty = %f", got)
	}
}

func TestFastSemanticScoreFormula(t *testing.T) {
	// Known components, no embeddings, no intent:
	// tech 1.0*0.35 + semantic 0*0.25 + content 0.5*0.15 + difficulty
	// 0.5*0.10 + quality 0.8*0.05 + intent 0.5*0.10 = 0.565 -> 56.5
	e := NewFastSemanticEngine(nil)
	req := &core.RecommendRequest{UserID: 1, Title: "ctx", Technologies: []string{"go"}, MinScore: 1}
	cand := candidate(1, 8, &core.ContentAnalysis{Technologies: []string{"go"}}, nil)

	scored, degraded, err := e.Score(context.Background(), req, []core.Candidate{cand})
	if err != nil {
		t.Fatal(err)
	}
	if len(scored) != 1 {
		t.Fatalf("scored %d", len(scored))
	}
	if math.Abs(scored[0].Score-56.5) > 1e-9 {
		t.Errorf("score = %f, want 56.5", scored[0].Score)
	}
	if len(degraded) == 0 || degraded[0] != "embedding" {
		t.Errorf("nil embedder must degrade: %v", degraded)
	}
}

func TestScoreOrderingAndBounds(t *testing.T) {
	e := NewFastSemanticEngine(embedding.NewLocalEngine())
	req := &core.RecommendRequest{UserID: 1, Title: "learn go concurrency", Technologies: []string{"go"}, MinScore: 1, MaxResults: 10}

	candidates := []core.Candidate{
		candidate(1, 9, &core.ContentAnalysis{Technologies: []string{"go"}, ContentType: "tutorial", Difficulty: "intermediate", RelevanceScore: 90}, nil),
		candidate(2, 3, nil, nil),
		candidate(3, 7, &core.ContentAnalysis{Technologies: []string{"css"}}, nil),
	}
	scored, _, err := e.Score(context.Background(), req, candidates)
	if err != nil {
		t.Fatal(err)
	}
	for i, sc := range scored {
		if sc.Score < 0 || sc.Score > 100 {
			t.Errorf("score out of range: %f", sc.Score)
		}
		if sc.Confidence < 0 || sc.Confidence > 1 {
			t.Errorf("confidence out of range: %f", sc.Confidence)
		}
		if i > 0 && scored[i-1].Score < sc.Score {
			t.Error("scores not non-increasing")
		}
	}
	if scored[0].Candidate.Bookmark.ID != 1 {
		t.Errorf("best match = %d, want 1", scored[0].Candidate.Bookmark.ID)
	}
}

func TestMinQualityFilter(t *testing.T) {
	e := NewFastSemanticEngine(nil)
	req := &core.RecommendRequest{UserID: 1, Title: "anything", MinQuality: 5, MinScore: 1}

	scored, _, err := e.Score(context.Background(), req, []core.Candidate{
		candidate(1, 3, nil, nil),
		candidate(2, 7, nil, nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(scored) != 1 || scored[0].Candidate.Bookmark.ID != 2 {
		t.Errorf("min quality filter: %+v", scored)
	}
}

func TestEmbedderFailureDegradesNotFails(t *testing.T) {
	e := NewFastSemanticEngine(failingEmbedder{})
	req := &core.RecommendRequest{UserID: 1, Title: "ctx", MinScore: 1}

	scored, degraded, err := e.Score(context.Background(), req, []core.Candidate{candidate(1, 8, nil, nil)})
	if err != nil {
		t.Fatal("embedder outage must not fail the request")
	}
	if len(degraded) != 1 || degraded[0] != "embedding" {
		t.Errorf("degraded = %v", degraded)
	}
	if len(scored) != 1 {
		t.Error("candidates must still be scored on remaining signals")
	}
	if scored[0].Components[core.ComponentSemantic] != 0 {
		t.Error("semantic component must be zero when degraded")
	}
}

func TestContextAwareBoosts(t *testing.T) {
	e := NewContextAwareEngine(nil)
	buildIntent := &core.Intent{PrimaryGoal: core.GoalBuild, ConfidenceScore: 1}
	req := &core.RecommendRequest{
		UserID: 1, Title: "build the api", Technologies: []string{"go", "redis", "postgres"},
		Intent: buildIntent, MinScore: 1,
	}

	// Covers 2 of 3 wanted techs: overlap 0.667 boosted by 1.2 to 0.8.
	cand := candidate(1, 8, &core.ContentAnalysis{
		Technologies: []string{"go", "redis"}, ContentType: "documentation",
		Difficulty: "intermediate", RelevanceScore: 80,
	}, nil)
	scored, _, err := e.Score(context.Background(), req, []core.Candidate{cand})
	if err != nil {
		t.Fatal(err)
	}
	sc := scored[0]
	if math.Abs(sc.Components[core.ComponentTechnology]-0.8) > 1e-9 {
		t.Errorf("boosted overlap = %f, want 0.8", sc.Components[core.ComponentTechnology])
	}
	// documentation is the top build preference (1.0), boosted 1.2 but
	// capped at 1.
	if sc.Components[core.ComponentContentType] != 1.0 {
		t.Errorf("content type = %f", sc.Components[core.ComponentContentType])
	}
	if sc.Components[core.ComponentOwnership] != ownershipBonus {
		t.Error("ownership component missing")
	}
	if math.Abs(sc.Components[core.ComponentRelevance]-0.12) > 1e-9 {
		t.Errorf("relevance = %f, want 0.12", sc.Components[core.ComponentRelevance])
	}
}

func TestTechnologyBoostByGoal(t *testing.T) {
	if technologyBoost(nil) != 1.0 {
		t.Error("nil intent must not boost")
	}
	if technologyBoost(&core.Intent{PrimaryGoal: core.GoalLearn}) != 1.1 {
		t.Error("learn boost")
	}
	for _, g := range []string{core.GoalBuild, core.GoalSolve, core.GoalOptimize} {
		if technologyBoost(&core.Intent{PrimaryGoal: g}) != 1.2 {
			t.Errorf("%s boost", g)
		}
	}
}

func TestRegistryDispatch(t *testing.T) {
	r := DefaultRegistry(embedding.NewLocalEngine())

	fast, err := r.Get(FastSemantic)
	if err != nil || fast.Name() != core.EngineFastSemantic {
		t.Errorf("fast: %v %v", fast, err)
	}
	aware, err := r.Get(ContextAware)
	if err != nil || aware.Name() != core.EngineContextAware {
		t.Errorf("context aware: %v %v", aware, err)
	}
	if _, err := NewRegistry().Get(FastSemantic); !core.IsKind(err, core.KindInternal) {
		t.Errorf("empty registry: %v", err)
	}
}
