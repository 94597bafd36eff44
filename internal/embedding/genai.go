package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"bookmind/internal/core"
)

const (
	// DefaultEmbeddingModel supports Matryoshka output truncation, so we
	// request vectors at core.EmbeddingDim directly.
	DefaultEmbeddingModel = "gemini-embedding-001"

	// genaiBatchSize bounds one EmbedContent call on the hot path.
	genaiBatchSize = 64
)

// GenAIEngine produces embeddings through the Gemini embedding API.
type GenAIEngine struct {
	client *genai.Client
	model  string
}

// NewGenAIEngine creates a Gemini-backed engine. The model defaults to
// DefaultEmbeddingModel when empty.
func NewGenAIEngine(ctx context.Context, apiKey, model string) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required for embeddings")
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GenAIEngine{client: client, model: model}, nil
}

func (e *GenAIEngine) Name() string    { return "genai:" + e.model }
func (e *GenAIEngine) Dimensions() int { return core.EmbeddingDim }

// Embed embeds a single text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in chunks of genaiBatchSize, returning one
// normalized vector per input in order.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	dims := int32(core.EmbeddingDim)
	for start := 0; start < len(texts); start += genaiBatchSize {
		end := start + genaiBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		contents := make([]*genai.Content, 0, end-start)
		for _, t := range texts[start:end] {
			contents = append(contents, &genai.Content{
				Parts: []*genai.Part{{Text: t}},
				Role:  "user",
			})
		}
		resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
			OutputDimensionality: &dims,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, core.Timeout("embed", ctx.Err())
			}
			return nil, core.LLMUnavailable(fmt.Errorf("embed batch: %w", err))
		}
		if resp == nil || len(resp.Embeddings) != end-start {
			return nil, core.LLMUnstructured(fmt.Errorf("expected %d embeddings, got %d", end-start, len(resp.Embeddings)))
		}
		for _, emb := range resp.Embeddings {
			if emb == nil || len(emb.Values) != core.EmbeddingDim {
				return nil, core.LLMUnstructured(fmt.Errorf("embedding dimension mismatch"))
			}
			vec := make([]float32, core.EmbeddingDim)
			copy(vec, emb.Values)
			out = append(out, Normalize(vec))
		}
	}
	return out, nil
}
