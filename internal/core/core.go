package core

import "time"

// EmbeddingDim is the fixed dimensionality of all content embeddings.
// Changing it (or the embedding recipe) invalidates every stored vector
// and requires a full reembed.
const EmbeddingDim = 384

// MaxExtractedTextLen caps the scraped body persisted per bookmark.
// Longer bodies are truncated at the ingestion boundary before embedding
// and analysis.
const MaxExtractedTextLen = 100_000

// User represents an account. Every other entity is exclusively owned by
// one user; deleting the user cascades to everything below it.
type User struct {
	ID                  int64     `json:"id"`
	Username            string    `json:"username"`
	Email               string    `json:"email"`
	PasswordHash        string    `json:"-"`
	TechnologyInterests []string  `json:"technology_interests"`
	CreatedAt           time.Time `json:"created_at"`
}

// Bookmark is a user-saved URL with scraped body, quality score and
// embedding. Identity is (UserID, URL); duplicates merge on import.
type Bookmark struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	Notes         string    `json:"notes"`
	Category      string    `json:"category"`
	Tags          []string  `json:"tags"`
	ExtractedText string    `json:"extracted_text"`
	QualityScore  int       `json:"quality_score"` // 0-10, deterministic scraper heuristic
	Embedding     []float32 `json:"embedding"`     // L2-normalized, len == EmbeddingDim, nil if not embedded
	SavedAt       time.Time `json:"saved_at"`
}

// Content types and difficulty levels a ContentAnalysis may carry.
var (
	ValidContentTypes = []string{"tutorial", "documentation", "article", "video", "course", "guide", "reference"}
	ValidDifficulties = []string{"beginner", "intermediate", "advanced"}
)

// ContentAnalysis is the LLM-derived structured summary attached 1:1 to a
// bookmark. Produced asynchronously by the background analyzer; absence is
// normal and downstream code degrades gracefully.
type ContentAnalysis struct {
	ID             int64     `json:"id"`
	ContentID      int64     `json:"content_id"`
	Technologies   []string  `json:"technologies"`
	ContentType    string    `json:"content_type"`     // one of ValidContentTypes
	Difficulty     string    `json:"difficulty_level"` // one of ValidDifficulties
	KeyConcepts    []string  `json:"key_concepts"`
	RelevanceScore float64   `json:"relevance_score"` // 0-100
	LearningPath   string    `json:"learning_path,omitempty"`
	Applicability  string    `json:"project_applicability,omitempty"`
	SkillFocus     string    `json:"skill_development,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ValidContentType reports whether t is an allowed analysis content type.
func ValidContentType(t string) bool {
	for _, v := range ValidContentTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ValidDifficulty reports whether d is an allowed difficulty level.
func ValidDifficulty(d string) bool {
	for _, v := range ValidDifficulties {
		if v == d {
			return true
		}
	}
	return false
}

// Project is a user-defined container whose title/description/technologies
// form the default recommendation context. The cached Intent is valid only
// while its ContextHash matches the project text.
type Project struct {
	ID                    int64     `json:"id"`
	UserID                int64     `json:"user_id"`
	Title                 string    `json:"title"`
	Description           string    `json:"description"`
	Technologies          []string  `json:"technologies"`
	Intent                *Intent   `json:"intent_analysis,omitempty"`
	IntentAnalysisUpdated time.Time `json:"intent_analysis_updated"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// ContextText returns the canonical text whose hash gates the cached intent.
func (p *Project) ContextText() string {
	text := p.Title + " " + p.Description
	for _, t := range p.Technologies {
		text += " " + t
	}
	return text
}

// Task is a refined sub-context under a project. Its embedding is persisted
// when present but no scoring path consumes it today.
type Task struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Embedding   []float32 `json:"embedding,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Feedback event types.
const (
	FeedbackClicked     = "clicked"
	FeedbackSaved       = "saved"
	FeedbackDismissed   = "dismissed"
	FeedbackNotRelevant = "not_relevant"
	FeedbackHelpful     = "helpful"
	FeedbackCompleted   = "completed"
)

// FeedbackTypes lists every accepted feedback event type.
var FeedbackTypes = []string{
	FeedbackClicked, FeedbackSaved, FeedbackDismissed,
	FeedbackNotRelevant, FeedbackHelpful, FeedbackCompleted,
}

// ValidFeedbackType reports whether t is a known feedback event type.
func ValidFeedbackType(t string) bool {
	switch t {
	case FeedbackClicked, FeedbackSaved, FeedbackDismissed, FeedbackNotRelevant, FeedbackHelpful, FeedbackCompleted:
		return true
	}
	return false
}

// PositiveFeedback reports whether t counts toward positive preference
// weight. Dismissed and not_relevant count as negative.
func PositiveFeedback(t string) bool {
	switch t {
	case FeedbackClicked, FeedbackSaved, FeedbackHelpful, FeedbackCompleted:
		return true
	}
	return false
}

// NegativeFeedback reports whether t counts toward negative preference weight.
func NegativeFeedback(t string) bool {
	return t == FeedbackDismissed || t == FeedbackNotRelevant
}

// FeedbackEvent is an append-only record of a user's reaction to a
// recommendation. RecommendationID is opaque and may dangle.
type FeedbackEvent struct {
	ID               int64             `json:"id"`
	UserID           int64             `json:"user_id"`
	ContentID        int64             `json:"content_id"`
	RecommendationID string            `json:"recommendation_id,omitempty"`
	FeedbackType     string            `json:"feedback_type"`
	ContextData      map[string]string `json:"context_data,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}

// APIKeyUsage is a snapshot of a user's LLM rate-limit counters. Windows
// are fixed (counters reset at the boundary), not sliding.
type APIKeyUsage struct {
	UserID             int64     `json:"user_id"`
	HasKey             bool      `json:"has_key"`
	KeyName            string    `json:"key_name,omitempty"`
	RequestsThisMinute int       `json:"requests_this_minute"`
	RequestsToday      int       `json:"requests_today"`
	RequestsThisMonth  int       `json:"requests_this_month"`
	MinuteStartedAt    time.Time `json:"minute_started_at"`
	DayStartedAt       time.Time `json:"day_started_at"`
	MonthStartedAt     time.Time `json:"month_started_at"`
}
