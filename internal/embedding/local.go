package embedding

import (
	"context"
	"hash/fnv"
	"strings"

	"bookmind/internal/core"
)

// LocalEngine is a deterministic, dependency-free embedding backend:
// hashed bag-of-words projected into the fixed dimension. Quality is far
// below a real model, but vectors are stable across runs, which is what
// offline mode and the test suite need.
type LocalEngine struct{}

func NewLocalEngine() *LocalEngine { return &LocalEngine{} }

func (e *LocalEngine) Name() string    { return "local-hash" }
func (e *LocalEngine) Dimensions() int { return core.EmbeddingDim }

func (e *LocalEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, core.EmbeddingDim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		idx := int(sum % uint64(core.EmbeddingDim))
		// Sign from a higher bit decorrelates colliding tokens a little.
		if sum&(1<<63) != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	return Normalize(vec), nil
}

func (e *LocalEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
