package feedback

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"bookmind/internal/cache"
	"bookmind/internal/core"
)

type fakeStore struct {
	events     []core.FeedbackEvent
	candidates []core.Candidate
	listErr    error
	recorded   []*core.FeedbackEvent
}

func (f *fakeStore) RecordFeedback(ctx context.Context, ev *core.FeedbackEvent) error {
	f.recorded = append(f.recorded, ev)
	return nil
}

func (f *fakeStore) ListFeedback(ctx context.Context, userID int64, since time.Time) ([]core.FeedbackEvent, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.events, nil
}

func (f *fakeStore) GetOrderedContentForUser(ctx context.Context, userID int64, maxItems int) ([]core.Candidate, error) {
	return f.candidates, nil
}

func analyzed(id int64, contentType, difficulty string, techs ...string) core.Candidate {
	return core.Candidate{
		Bookmark: core.Bookmark{ID: id, UserID: 1},
		Analysis: &core.ContentAnalysis{ContentType: contentType, Difficulty: difficulty, Technologies: techs},
	}
}

func event(contentID int64, feedbackType string) core.FeedbackEvent {
	return core.FeedbackEvent{UserID: 1, ContentID: contentID, FeedbackType: feedbackType}
}

func TestPreferenceWeights(t *testing.T) {
	st := &fakeStore{
		candidates: []core.Candidate{analyzed(1, "tutorial", "beginner", "go")},
		events: []core.FeedbackEvent{
			event(1, core.FeedbackClicked),
			event(1, core.FeedbackHelpful),
			event(1, core.FeedbackClicked),
			event(1, core.FeedbackDismissed),
			event(999, core.FeedbackClicked), // content deleted since
		},
	}
	l := NewLearner(st, nil)

	profile, err := l.GetPreferences(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if profile.EventCount != 5 {
		t.Errorf("event count = %d", profile.EventCount)
	}

	// 3 positive, 1 negative over 4 joined events: (3-1)/(4+1) = 0.4,
	// confidence 4/5 = 0.8.
	p, ok := profile.ContentTypes["tutorial"]
	if !ok {
		t.Fatal("tutorial preference missing")
	}
	if math.Abs(p.Weight-0.4) > 1e-9 || math.Abs(p.Confidence-0.8) > 1e-9 || p.Total != 4 {
		t.Errorf("preference = %+v", p)
	}
	if _, ok := profile.Technologies["go"]; !ok {
		t.Error("technology preference missing")
	}
	if _, ok := profile.Difficulties["beginner"]; !ok {
		t.Error("difficulty preference missing")
	}
}

func TestEmptyHistoryIsNeutral(t *testing.T) {
	l := NewLearner(&fakeStore{}, nil)
	profile, err := l.GetPreferences(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if profile.EventCount != 0 || len(profile.ContentTypes) != 0 {
		t.Errorf("profile = %+v", profile)
	}

	scored := []core.ScoredCandidate{{Candidate: analyzed(1, "tutorial", "beginner", "go"), Score: 50}}
	out := l.Personalize(context.Background(), 1, scored)
	if out[0].Score != 50 {
		t.Errorf("score moved with no history: %f", out[0].Score)
	}
}

func TestPersonalizeBoostCap(t *testing.T) {
	// Heavy positive history across three dimensions sums well past the
	// cap; the applied boost must stop at +20%.
	var events []core.FeedbackEvent
	for i := 0; i < 10; i++ {
		events = append(events, event(1, core.FeedbackHelpful))
	}
	st := &fakeStore{
		candidates: []core.Candidate{analyzed(1, "tutorial", "beginner", "go")},
		events:     events,
	}
	l := NewLearner(st, nil)

	scored := []core.ScoredCandidate{
		{Candidate: analyzed(1, "tutorial", "beginner", "go"), Score: 60},
		{Candidate: analyzed(2, "video", "advanced", "rust"), Score: 65},
	}
	out := l.Personalize(context.Background(), 1, scored)

	boosted := out[0]
	if boosted.Candidate.Bookmark.ID != 1 {
		t.Fatal("boosted candidate should overtake after re-sort")
	}
	if math.Abs(boosted.Components[core.ComponentFeedback]-maxBoost) > 1e-9 {
		t.Errorf("boost = %f, want %f", boosted.Components[core.ComponentFeedback], maxBoost)
	}
	if math.Abs(boosted.Score-72) > 1e-9 {
		t.Errorf("score = %f, want 72", boosted.Score)
	}
	if out[1].Score != 65 {
		t.Errorf("unmatched candidate moved: %f", out[1].Score)
	}
}

func TestPersonalizeRanksMultiKeyMatchAboveSingle(t *testing.T) {
	// Five clicks on a beginner python tutorial. A fresh tutorial sharing
	// all three keys must overtake a slightly higher-scored article that
	// shares only the technology, instead of both hitting the cap.
	var events []core.FeedbackEvent
	for i := 0; i < 5; i++ {
		events = append(events, event(1, core.FeedbackClicked))
	}
	st := &fakeStore{
		candidates: []core.Candidate{analyzed(1, "tutorial", "beginner", "python")},
		events:     events,
	}
	l := NewLearner(st, nil)

	out := l.Personalize(context.Background(), 1, []core.ScoredCandidate{
		{Candidate: analyzed(2, "tutorial", "beginner", "python"), Score: 50},
		{Candidate: analyzed(3, "article", "advanced", "python"), Score: 52},
	})

	if out[0].Candidate.Bookmark.ID != 2 {
		t.Fatalf("triple match should rank first, got id %d (%.2f vs %.2f)",
			out[0].Candidate.Bookmark.ID, out[0].Score, out[1].Score)
	}
	// weight 5/6, confidence 1: three keys give ~0.20, one key ~0.067.
	if math.Abs(out[0].Score-60) > 1e-6 {
		t.Errorf("triple-match score = %f, want 60", out[0].Score)
	}
	if math.Abs(out[1].Score-52*(1+5.0/6*perKeyGain)) > 1e-6 {
		t.Errorf("single-match score = %f", out[1].Score)
	}
}

func TestPersonalizeScoreCeiling(t *testing.T) {
	var events []core.FeedbackEvent
	for i := 0; i < 10; i++ {
		events = append(events, event(1, core.FeedbackHelpful))
	}
	st := &fakeStore{candidates: []core.Candidate{analyzed(1, "tutorial", "", "")}, events: events}
	l := NewLearner(st, nil)

	out := l.Personalize(context.Background(), 1, []core.ScoredCandidate{
		{Candidate: analyzed(1, "tutorial", "", ""), Score: 95},
	})
	if out[0].Score > 100 {
		t.Errorf("score above ceiling: %f", out[0].Score)
	}
}

func TestPersonalizeNegativeFloor(t *testing.T) {
	var events []core.FeedbackEvent
	for i := 0; i < 10; i++ {
		events = append(events, event(1, core.FeedbackNotRelevant))
	}
	st := &fakeStore{
		candidates: []core.Candidate{analyzed(1, "video", "advanced", "php")},
		events:     events,
	}
	l := NewLearner(st, nil)

	out := l.Personalize(context.Background(), 1, []core.ScoredCandidate{
		{Candidate: analyzed(1, "video", "advanced", "php"), Score: 50},
	})
	if math.Abs(out[0].Components[core.ComponentFeedback]+maxBoost) > 1e-9 {
		t.Errorf("boost = %f, want %f", out[0].Components[core.ComponentFeedback], -maxBoost)
	}
	if math.Abs(out[0].Score-40) > 1e-9 {
		t.Errorf("score = %f, want 40", out[0].Score)
	}
}

func TestPersonalizeSurvivesStoreFailure(t *testing.T) {
	l := NewLearner(&fakeStore{listErr: errors.New("db locked")}, nil)
	scored := []core.ScoredCandidate{{Candidate: analyzed(1, "tutorial", "", ""), Score: 42}}
	out := l.Personalize(context.Background(), 1, scored)
	if out[0].Score != 42 {
		t.Error("failed profile lookup must leave scores alone")
	}
}

func TestRecordInvalidatesDerivedCaches(t *testing.T) {
	mr := miniredis.RunT(t)
	c := cache.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	c.SetJSON(ctx, cache.PreferencesKey(1), &Profile{UserID: 1}, time.Hour)
	c.SetJSON(ctx, cache.RecommendationKey(1, "abc"), "stale", time.Hour)
	c.SetJSON(ctx, cache.RecommendationKey(2, "abc"), "other user", time.Hour)

	st := &fakeStore{}
	l := NewLearner(st, c)
	if err := l.Record(ctx, &core.FeedbackEvent{UserID: 1, ContentID: 1, FeedbackType: core.FeedbackClicked}); err != nil {
		t.Fatal(err)
	}
	if len(st.recorded) != 1 {
		t.Fatal("event not persisted")
	}
	if mr.Exists(cache.PreferencesKey(1)) {
		t.Error("preference profile not invalidated")
	}
	if mr.Exists(cache.RecommendationKey(1, "abc")) {
		t.Error("recommendation cache not invalidated")
	}
	if !mr.Exists(cache.RecommendationKey(2, "abc")) {
		t.Error("other user's cache touched")
	}
}
