package embedding

import (
	"context"
	"math"
	"strings"
	"sync"

	"bookmind/internal/core"
	"bookmind/internal/logger"
)

// Engine turns text into fixed-dimension dense vectors. Implementations
// must return L2-normalized vectors of core.EmbeddingDim floats.
type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// Source describes one bookmark's text fields for the canonical
// embedding recipe.
type Source struct {
	Title           string
	MetaDescription string
	Headings        []string
	Notes           string
	Body            string
}

const (
	bodyHeadChars = 5000
	bodyTailChars = 1000
)

// CanonicalText builds the embedding input: title, meta description,
// headings, user notes, then the first 5k and last 1k chars of the body.
// Changing this recipe invalidates every stored embedding.
func CanonicalText(src Source) string {
	parts := []string{}
	if src.Title != "" {
		parts = append(parts, src.Title)
	}
	if src.MetaDescription != "" {
		parts = append(parts, src.MetaDescription)
	}
	if len(src.Headings) > 0 {
		parts = append(parts, strings.Join(src.Headings, " "))
	}
	if src.Notes != "" {
		parts = append(parts, src.Notes)
	}
	body := src.Body
	if len(body) > bodyHeadChars {
		head := body[:bodyHeadChars]
		tail := body
		if len(tail) > bodyHeadChars+bodyTailChars {
			tail = body[len(body)-bodyTailChars:]
			body = head + "\n" + tail
		} else {
			body = head
		}
	}
	if body != "" {
		parts = append(parts, body)
	}
	return strings.Join(parts, "\n")
}

// Normalize scales v to unit L2 norm in place and returns it. A zero
// vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// Lazy wraps an engine constructor behind a single-winner initializer,
// so the heavy model/client setup happens at most once per process and
// only when the first embed is actually needed.
type Lazy struct {
	once    sync.Once
	build   func(ctx context.Context) (Engine, error)
	engine  Engine
	initErr error
}

// NewLazy wraps build; build runs on first use.
func NewLazy(build func(ctx context.Context) (Engine, error)) *Lazy {
	return &Lazy{build: build}
}

func (l *Lazy) get(ctx context.Context) (Engine, error) {
	l.once.Do(func() {
		l.engine, l.initErr = l.build(ctx)
		if l.initErr == nil {
			logger.Info("embedding engine initialized", "engine", l.engine.Name())
		}
	})
	if l.initErr != nil {
		return nil, core.LLMUnavailable(l.initErr)
	}
	return l.engine, nil
}

func (l *Lazy) Embed(ctx context.Context, text string) ([]float32, error) {
	e, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, text)
}

func (l *Lazy) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return e.EmbedBatch(ctx, texts)
}

func (l *Lazy) Dimensions() int { return core.EmbeddingDim }

func (l *Lazy) Name() string {
	if l.engine != nil {
		return l.engine.Name()
	}
	return "lazy"
}
