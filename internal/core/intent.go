package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Intent enums. ProjectType is an open vocabulary and is not validated.
const (
	GoalLearn    = "learn"
	GoalBuild    = "build"
	GoalSolve    = "solve"
	GoalOptimize = "optimize"

	StageBeginner     = "beginner"
	StageIntermediate = "intermediate"
	StageAdvanced     = "advanced"

	UrgencyLow    = "low"
	UrgencyMedium = "medium"
	UrgencyHigh   = "high"

	ComplexitySimple   = "simple"
	ComplexityModerate = "moderate"
	ComplexityComplex  = "complex"

	TimeQuickTutorial = "quick_tutorial"
	TimeDeepDive      = "deep_dive"
	TimeReference     = "reference"
)

// Intent is the structured interpretation of what the user is trying to do,
// produced by the intent analyzer and cached against ContextHash.
type Intent struct {
	PrimaryGoal          string    `json:"primary_goal"`   // learn|build|solve|optimize
	LearningStage        string    `json:"learning_stage"` // beginner|intermediate|advanced
	ProjectType          string    `json:"project_type"`   // open vocabulary
	UrgencyLevel         string    `json:"urgency_level"`  // low|medium|high
	SpecificTechnologies []string  `json:"specific_technologies"`
	ComplexityPreference string    `json:"complexity_preference"` // simple|moderate|complex
	TimeConstraint       string    `json:"time_constraint"`       // quick_tutorial|deep_dive|reference
	FocusAreas           []string  `json:"focus_areas"`
	ContextHash          string    `json:"context_hash"`
	ConfidenceScore      float64   `json:"confidence_score"` // [0,1]
	UpdatedAt            time.Time `json:"updated_at"`
}

// Valid reports whether the intent matches the context it claims to
// describe. Stale intents are recomputed, never trusted.
func (i *Intent) Valid(contextText string) bool {
	return i != nil && i.ContextHash == ContextHash(contextText)
}

// NormalizeContext canonicalizes free text before hashing: lowercase with
// collapsed whitespace. Both the analyzer and the project cache path must
// hash through this so their fingerprints agree.
func NormalizeContext(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// ContextHash fingerprints normalized context text.
func ContextHash(text string) string {
	sum := sha256.Sum256([]byte(NormalizeContext(text)))
	return hex.EncodeToString(sum[:16])
}
