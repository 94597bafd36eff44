package recommend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"google.golang.org/genai"

	"bookmind/internal/cache"
	"bookmind/internal/core"
	"bookmind/internal/engine"
	"bookmind/internal/explain"
	"bookmind/internal/intent"
	"bookmind/internal/skillgap"
)

type fakeSource struct {
	candidates []core.Candidate
	err        error
}

func (f *fakeSource) GetOrderedContentForUser(ctx context.Context, userID int64, maxItems int) ([]core.Candidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.candidates) > maxItems {
		return f.candidates[:maxItems], nil
	}
	return f.candidates, nil
}

// downLLM fails every structured call so intent analysis falls back to
// rules.
type downLLM struct{}

func (downLLM) CallStructured(ctx context.Context, userID int64, prompt string, schema *genai.Schema, out any) error {
	return errors.New("model unavailable")
}

func library() []core.Candidate {
	return []core.Candidate{
		{
			Bookmark: core.Bookmark{ID: 1, UserID: 1, URL: "https://go.dev/blog/pipelines", Title: "Go Concurrency Patterns", QualityScore: 9, SavedAt: time.Now()},
			Analysis: &core.ContentAnalysis{ContentType: "tutorial", Difficulty: "intermediate", Technologies: []string{"go"}, RelevanceScore: 90},
		},
		{
			Bookmark: core.Bookmark{ID: 2, UserID: 1, URL: "https://example.com/cooking", Title: "Sourdough basics", QualityScore: 6, SavedAt: time.Now()},
			Analysis: &core.ContentAnalysis{ContentType: "article", Difficulty: "beginner", Technologies: []string{"baking"}, RelevanceScore: 20},
		},
	}
}

func testOrchestrator(src *fakeSource, c *cache.Cache, opts Options) *Orchestrator {
	return NewOrchestrator(
		src, c,
		intent.New(downLLM{}, nil, nil),
		engine.DefaultRegistry(nil),
		nil,
		skillgap.New(src),
		explain.New(nil),
		opts,
	)
}

func TestEmptyContextRejected(t *testing.T) {
	o := testOrchestrator(&fakeSource{}, nil, Options{})
	_, err := o.GetRecommendations(context.Background(), &core.RecommendRequest{UserID: 1})
	if !core.IsKind(err, core.KindInvalidInput) {
		t.Errorf("got %v, want invalid_input", err)
	}
}

func TestEmptyLibrary(t *testing.T) {
	o := testOrchestrator(&fakeSource{}, nil, Options{})
	res, err := o.GetRecommendations(context.Background(), &core.RecommendRequest{UserID: 1, Title: "learn go"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 0 || res.TotalCount != 0 {
		t.Errorf("items = %v", res.Items)
	}
	if res.EngineUsed == "" {
		t.Error("engine name missing")
	}
	if res.Metrics.CandidateCount != 0 {
		t.Errorf("candidate count = %d", res.Metrics.CandidateCount)
	}
}

func TestPipelineRanksAndDegrades(t *testing.T) {
	src := &fakeSource{candidates: library()}
	o := testOrchestrator(src, nil, Options{MinScore: 1})

	res, err := o.GetRecommendations(context.Background(), &core.RecommendRequest{
		UserID: 1, Title: "learn go concurrency", Technologies: []string{"go"}, MinScore: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) == 0 {
		t.Fatal("no items")
	}
	if res.Items[0].ID != 1 {
		t.Errorf("top item = %d, want the go tutorial", res.Items[0].ID)
	}
	for _, item := range res.Items {
		if item.Reason == "" || len(item.Reason) > 200 {
			t.Errorf("reason contract violated: %q", item.Reason)
		}
		if item.Metadata["dominant_component"] == "" {
			t.Error("dominant component metadata missing")
		}
		if item.Score < 1 || item.Score > 100 {
			t.Errorf("score out of range: %f", item.Score)
		}
	}

	// Rule-based intent, nil embedder and template explanations all
	// degrade without failing the request.
	if !res.Metrics.Degraded {
		t.Error("degradation not reported")
	}
	stages := map[string]bool{}
	for _, s := range res.Metrics.DegradedStages {
		if stages[s] {
			t.Errorf("stage %s reported twice", s)
		}
		stages[s] = true
	}
	for _, want := range []string{StageIntentLLM, "embedding", StageExplanationLLM} {
		if !stages[want] {
			t.Errorf("stage %s missing from %v", want, res.Metrics.DegradedStages)
		}
	}
}

func TestCacheIsAnAcceleratorOnly(t *testing.T) {
	mr := miniredis.RunT(t)
	c := cache.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	src := &fakeSource{candidates: library()}
	o := testOrchestrator(src, c, Options{MinScore: 1})
	req := func() *core.RecommendRequest {
		return &core.RecommendRequest{UserID: 1, Title: "learn go concurrency", Technologies: []string{"go"}, MinScore: 1}
	}

	first, err := o.GetRecommendations(context.Background(), req())
	if err != nil {
		t.Fatal(err)
	}
	if first.Metrics.CacheHit {
		t.Fatal("cold cache reported a hit")
	}

	// Drop the store: a second identical request must be answered from
	// cache with the same ranking.
	src.err = errors.New("store offline")
	second, err := o.GetRecommendations(context.Background(), req())
	if err != nil {
		t.Fatal(err)
	}
	if !second.Metrics.CacheHit {
		t.Fatal("warm cache missed")
	}
	if len(second.Items) != len(first.Items) {
		t.Fatalf("cached result differs: %d vs %d items", len(second.Items), len(first.Items))
	}
	for i := range first.Items {
		if second.Items[i].ID != first.Items[i].ID || second.Items[i].Score != first.Items[i].Score {
			t.Errorf("item %d differs", i)
		}
	}
}

func TestEngineSelection(t *testing.T) {
	small := &fakeSource{candidates: library()}
	o := testOrchestrator(small, nil, Options{MinScore: 1, FastThreshold: 50})

	res, err := o.GetRecommendations(context.Background(), &core.RecommendRequest{UserID: 1, Title: "go", MinScore: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.EngineUsed != core.EngineFastSemantic {
		t.Errorf("small library picked %s", res.EngineUsed)
	}

	res, err = o.GetRecommendations(context.Background(), &core.RecommendRequest{
		UserID: 1, Title: "go", MinScore: 1, EnginePreference: core.EngineContextAware,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.EngineUsed != core.EngineContextAware {
		t.Errorf("explicit preference ignored: %s", res.EngineUsed)
	}

	// Auto selection flips to the context-aware engine past the
	// threshold.
	big := &fakeSource{}
	for i := int64(0); i < 60; i++ {
		big.candidates = append(big.candidates, core.Candidate{
			Bookmark: core.Bookmark{ID: i + 1, UserID: 1, Title: "b", QualityScore: 5, SavedAt: time.Now()},
		})
	}
	o = testOrchestrator(big, nil, Options{MinScore: 1, FastThreshold: 50})
	res, err = o.GetRecommendations(context.Background(), &core.RecommendRequest{UserID: 1, Title: "go", MinScore: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.EngineUsed != core.EngineContextAware {
		t.Errorf("large library picked %s", res.EngineUsed)
	}
}

func TestMinScoreAndMaxResults(t *testing.T) {
	src := &fakeSource{candidates: library()}
	o := testOrchestrator(src, nil, Options{})

	res, err := o.GetRecommendations(context.Background(), &core.RecommendRequest{
		UserID: 1, Title: "learn go", MinScore: 99.9,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 0 {
		t.Errorf("items above an impossible floor: %v", res.Items)
	}

	res, err = o.GetRecommendations(context.Background(), &core.RecommendRequest{
		UserID: 1, Title: "learn go", MinScore: 1, MaxResults: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 1 {
		t.Errorf("max results not honored: %d", len(res.Items))
	}
}

func TestStoreErrorPropagates(t *testing.T) {
	o := testOrchestrator(&fakeSource{err: errors.New("disk full")}, nil, Options{})
	if _, err := o.GetRecommendations(context.Background(), &core.RecommendRequest{UserID: 1, Title: "go"}); err == nil {
		t.Error("store failure swallowed")
	}
}
