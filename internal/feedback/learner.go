package feedback

import (
	"context"
	"time"

	"bookmind/internal/cache"
	"bookmind/internal/core"
	"bookmind/internal/logger"
)

// maxBoost caps personalization's total effect on a score at +20%.
const maxBoost = 0.20

// negativeWeight is how much one negative event counterbalances a
// positive one when computing preference weights.
const negativeWeight = 1.0

// confidenceSaturation: a key with this many interactions reaches full
// confidence.
const confidenceSaturation = 5

// perKeyGain bounds one preference key's pull on a score at +/-8%, so a
// candidate matching several liked keys stays ahead of one matching a
// single key instead of both saturating at the cap.
const perKeyGain = 0.08

// Store is the slice of persistence the learner needs.
type Store interface {
	RecordFeedback(ctx context.Context, ev *core.FeedbackEvent) error
	ListFeedback(ctx context.Context, userID int64, since time.Time) ([]core.FeedbackEvent, error)
	GetOrderedContentForUser(ctx context.Context, userID int64, maxItems int) ([]core.Candidate, error)
}

// Preference is the learned weight for one key of one dimension.
type Preference struct {
	Weight     float64 `json:"weight"`     // [-1,1], positive means liked
	Confidence float64 `json:"confidence"` // [0,1], saturates at 5 events
	Total      int     `json:"total"`
}

// Profile aggregates a user's feedback into per-dimension preferences.
type Profile struct {
	UserID       int64                 `json:"user_id"`
	ContentTypes map[string]Preference `json:"content_types"`
	Difficulties map[string]Preference `json:"difficulties"`
	Technologies map[string]Preference `json:"technologies"`
	EventCount   int                   `json:"event_count"`
	ComputedAt   time.Time             `json:"computed_at"`
}

// Learner turns feedback events into per-user preference profiles and
// applies them as bounded score boosts.
type Learner struct {
	store Store
	cache *cache.Cache
}

func NewLearner(store Store, c *cache.Cache) *Learner {
	return &Learner{store: store, cache: c}
}

// Record appends a feedback event and invalidates everything derived
// from it: the preference profile and the user's recommendation cache.
func (l *Learner) Record(ctx context.Context, ev *core.FeedbackEvent) error {
	if err := l.store.RecordFeedback(ctx, ev); err != nil {
		return err
	}
	if l.cache != nil {
		l.cache.Delete(ctx, cache.PreferencesKey(ev.UserID))
		l.cache.DeletePrefix(ctx, cache.RecommendationPrefix(ev.UserID))
	}
	return nil
}

// GetPreferences returns the cached profile, recomputing on miss.
func (l *Learner) GetPreferences(ctx context.Context, userID int64) (*Profile, error) {
	if l.cache != nil {
		var cached Profile
		if l.cache.GetJSON(ctx, cache.PreferencesKey(userID), &cached) {
			return &cached, nil
		}
	}
	profile, err := l.compute(ctx, userID)
	if err != nil {
		return nil, err
	}
	if l.cache != nil {
		l.cache.SetJSON(ctx, cache.PreferencesKey(userID), profile, cache.TTLPreferences)
	}
	return profile, nil
}

// tally accumulates positive/negative counts per key.
type tally struct{ positive, negative, total int }

func (l *Learner) compute(ctx context.Context, userID int64) (*Profile, error) {
	events, err := l.store.ListFeedback(ctx, userID, time.Time{})
	if err != nil {
		return nil, err
	}
	profile := &Profile{
		UserID:       userID,
		ContentTypes: map[string]Preference{},
		Difficulties: map[string]Preference{},
		Technologies: map[string]Preference{},
		EventCount:   len(events),
		ComputedAt:   time.Now().UTC(),
	}
	if len(events) == 0 {
		return profile, nil
	}

	// Join events to content attributes through the candidate feed.
	candidates, err := l.store.GetOrderedContentForUser(ctx, userID, 1000)
	if err != nil {
		return nil, err
	}
	byContent := make(map[int64]*core.Candidate, len(candidates))
	for i := range candidates {
		byContent[candidates[i].Bookmark.ID] = &candidates[i]
	}

	contentTypes := map[string]*tally{}
	difficulties := map[string]*tally{}
	technologies := map[string]*tally{}

	for _, ev := range events {
		cand, ok := byContent[ev.ContentID]
		if !ok {
			continue // content deleted since; the event still counts for nothing
		}
		pos := core.PositiveFeedback(ev.FeedbackType)
		neg := core.NegativeFeedback(ev.FeedbackType)
		if !pos && !neg {
			continue
		}
		bump := func(m map[string]*tally, key string) {
			if key == "" {
				return
			}
			t, ok := m[key]
			if !ok {
				t = &tally{}
				m[key] = t
			}
			t.total++
			if pos {
				t.positive++
			} else {
				t.negative++
			}
		}
		if cand.Analysis != nil {
			bump(contentTypes, cand.Analysis.ContentType)
			bump(difficulties, cand.Analysis.Difficulty)
			for _, tech := range cand.Analysis.Technologies {
				bump(technologies, tech)
			}
		}
		for _, tag := range cand.Bookmark.Tags {
			bump(technologies, tag)
		}
	}

	profile.ContentTypes = reduce(contentTypes)
	profile.Difficulties = reduce(difficulties)
	profile.Technologies = reduce(technologies)
	return profile, nil
}

// reduce turns tallies into preferences:
// weight = (positive - negativeWeight*negative) / (total + 1), the +1
// smoothing keeping single events from swinging to the extremes.
func reduce(tallies map[string]*tally) map[string]Preference {
	out := make(map[string]Preference, len(tallies))
	for key, t := range tallies {
		weight := (float64(t.positive) - negativeWeight*float64(t.negative)) / float64(t.total+1)
		conf := float64(t.total) / confidenceSaturation
		if conf > 1 {
			conf = 1
		}
		out[key] = Preference{Weight: weight, Confidence: conf, Total: t.total}
	}
	return out
}

// Personalize multiplies each candidate's score by 1 + the summed
// per-key contributions (weight * confidence * perKeyGain) of every
// matching preference key, capped at +20% (and floored at -20% for
// strongly disliked keys).
func (l *Learner) Personalize(ctx context.Context, userID int64, scored []core.ScoredCandidate) []core.ScoredCandidate {
	profile, err := l.GetPreferences(ctx, userID)
	if err != nil {
		logger.Warn("personalization skipped", "user", userID, "error", err.Error())
		return scored
	}
	if profile.EventCount == 0 {
		return scored
	}

	for i := range scored {
		cand := &scored[i].Candidate
		boost := 0.0
		if cand.Analysis != nil {
			if p, ok := profile.ContentTypes[cand.Analysis.ContentType]; ok {
				boost += p.Weight * p.Confidence * perKeyGain
			}
			if p, ok := profile.Difficulties[cand.Analysis.Difficulty]; ok {
				boost += p.Weight * p.Confidence * perKeyGain
			}
			for _, tech := range cand.Analysis.Technologies {
				if p, ok := profile.Technologies[tech]; ok {
					boost += p.Weight * p.Confidence * perKeyGain
				}
			}
		}
		for _, tag := range cand.Bookmark.Tags {
			if p, ok := profile.Technologies[tag]; ok {
				boost += p.Weight * p.Confidence * perKeyGain
			}
		}
		if boost > maxBoost {
			boost = maxBoost
		}
		if boost < -maxBoost {
			boost = -maxBoost
		}
		if boost != 0 {
			if scored[i].Components == nil {
				scored[i].Components = map[string]float64{}
			}
			scored[i].Components[core.ComponentFeedback] = boost
			scored[i].Score *= 1 + boost
			if scored[i].Score > 100 {
				scored[i].Score = 100
			}
		}
	}
	core.SortScored(scored)
	return scored
}
