package engine

import (
	"context"
	"fmt"

	"bookmind/internal/core"
	"bookmind/internal/logger"
)

// Kind selects a scoring engine.
type Kind int

const (
	FastSemantic Kind = iota
	ContextAware
)

func (k Kind) String() string {
	switch k {
	case FastSemantic:
		return core.EngineFastSemantic
	case ContextAware:
		return core.EngineContextAware
	default:
		return "unknown"
	}
}

// Embedder is the slice of the embedding engine scorers consume.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Scorer ranks candidates for one request. Implementations never fail
// the request over a degraded signal: when the embedder is down the
// semantic component is dropped and its name is reported in degraded.
type Scorer interface {
	Name() string
	Score(ctx context.Context, req *core.RecommendRequest, candidates []core.Candidate) (scored []core.ScoredCandidate, degraded []string, err error)
}

// Registry maps engine kinds to scorers. New engines are added by
// implementing Scorer and registering, not by touching dispatch code.
type Registry struct {
	scorers map[Kind]Scorer
}

func NewRegistry() *Registry {
	return &Registry{scorers: make(map[Kind]Scorer)}
}

func (r *Registry) Register(kind Kind, s Scorer) {
	if _, dup := r.scorers[kind]; dup {
		logger.Warn("scorer re-registered", "kind", kind.String())
	}
	r.scorers[kind] = s
}

func (r *Registry) Get(kind Kind) (Scorer, error) {
	s, ok := r.scorers[kind]
	if !ok {
		return nil, core.Internal(fmt.Sprintf("no scorer registered for %s", kind), nil)
	}
	return s, nil
}

// DefaultRegistry wires both engines over one embedder.
func DefaultRegistry(embedder Embedder) *Registry {
	r := NewRegistry()
	r.Register(FastSemantic, NewFastSemanticEngine(embedder))
	r.Register(ContextAware, NewContextAwareEngine(embedder))
	return r
}
