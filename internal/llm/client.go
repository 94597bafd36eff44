package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"bookmind/internal/apikeys"
	"bookmind/internal/core"
	"bookmind/internal/logger"
)

const (
	// DefaultModel is the model used for intent analysis, content analysis
	// and explanations.
	DefaultModel = "gemini-2.5-flash-preview-05-20"

	// callTimeout bounds one model round-trip independent of the caller's
	// deadline.
	callTimeout = 45 * time.Second

	transientRetries = 2
	retryBackoff     = 2 * time.Second
)

// Limiter is the rate-limit precondition consulted before every dispatch.
type Limiter interface {
	CheckAndReserve(ctx context.Context, userID int64) (*apikeys.Reservation, error)
}

// KeyProvider supplies per-user API key overrides.
type KeyProvider interface {
	HasKey(ctx context.Context, userID int64) (bool, error)
	GetKey(ctx context.Context, userID int64) (string, error)
}

// Client performs structured LLM calls on behalf of a user: reserve a
// rate-limit slot, pick the user's key or the process default, call with
// a response schema, validate, retry once on malformed output.
type Client struct {
	defaultKey string
	model      string
	limiter    Limiter
	keys       KeyProvider

	mu      sync.Mutex
	clients map[string]*genai.Client // keyed by API key; small, per-user
}

// NewClient builds the shared LLM client. defaultKey may be empty when
// every user supplies a key.
func NewClient(defaultKey, model string, limiter Limiter, keys KeyProvider) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		defaultKey: defaultKey,
		model:      model,
		limiter:    limiter,
		keys:       keys,
		clients:    make(map[string]*genai.Client),
	}
}

func (c *Client) clientFor(ctx context.Context, apiKey string) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[apiKey]; ok {
		return cl, nil
	}
	cl, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, core.LLMUnavailable(fmt.Errorf("failed to create Gemini client: %w", err))
	}
	c.clients[apiKey] = cl
	return cl, nil
}

// resolveKey picks the user's stored key when present, else the process
// default.
func (c *Client) resolveKey(ctx context.Context, userID int64) (string, error) {
	if c.keys != nil && userID != 0 {
		has, err := c.keys.HasKey(ctx, userID)
		if err == nil && has {
			key, err := c.keys.GetKey(ctx, userID)
			if err == nil && key != "" {
				return key, nil
			}
		}
	}
	if c.defaultKey == "" {
		return "", core.LLMUnavailable(fmt.Errorf("no API key available"))
	}
	return c.defaultKey, nil
}

// CallStructured runs one schema-constrained call and unmarshals the JSON
// response into out. The rate-limit precondition is checked first; an
// exceeded window returns RateLimited with the wait hint and no dispatch
// happens. Schema-violating output is retried once, then reported as
// LLMUnstructured.
func (c *Client) CallStructured(ctx context.Context, userID int64, prompt string, schema *genai.Schema, out any) error {
	raw, err := c.dispatch(ctx, userID, prompt, schema)
	if err != nil {
		return err
	}
	if jsonErr := json.Unmarshal([]byte(cleanJSON(raw)), out); jsonErr != nil {
		logger.Warn("model response failed schema validation, retrying once", "user", userID)
		raw, err = c.dispatch(ctx, userID, prompt, schema)
		if err != nil {
			return err
		}
		if jsonErr = json.Unmarshal([]byte(cleanJSON(raw)), out); jsonErr != nil {
			return core.LLMUnstructured(jsonErr)
		}
	}
	return nil
}

// CallText runs one plain-text call under the same rate-limit and retry
// policy.
func (c *Client) CallText(ctx context.Context, userID int64, prompt string) (string, error) {
	return c.dispatch(ctx, userID, prompt, nil)
}

func (c *Client) dispatch(ctx context.Context, userID int64, prompt string, schema *genai.Schema) (string, error) {
	if c.limiter != nil && userID != 0 {
		res, err := c.limiter.CheckAndReserve(ctx, userID)
		if err != nil {
			return "", err
		}
		if !res.OK {
			return "", core.RateLimited(res.Reason, res.Wait)
		}
	}

	apiKey, err := c.resolveKey(ctx, userID)
	if err != nil {
		return "", err
	}
	client, err := c.clientFor(ctx, apiKey)
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}
	var config *genai.GenerateContentConfig
	if schema != nil {
		config = &genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   schema,
			Temperature:      genai.Ptr(float32(0.2)),
		}
	}

	var lastErr error
	for attempt := 0; attempt <= transientRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		resp, err := client.Models.GenerateContent(callCtx, c.model, contents, config)
		cancel()
		if err == nil {
			if text := resp.Text(); text != "" {
				return text, nil
			}
			lastErr = fmt.Errorf("empty response from model")
		} else {
			lastErr = err
		}
		if ctx.Err() != nil {
			return "", core.LLMTimeout(ctx.Err())
		}
		if attempt < transientRetries {
			select {
			case <-time.After(retryBackoff << attempt):
			case <-ctx.Done():
				return "", core.LLMTimeout(ctx.Err())
			}
		}
	}
	if strings.Contains(lastErr.Error(), "deadline") {
		return "", core.LLMTimeout(lastErr)
	}
	return "", core.LLMUnavailable(lastErr)
}

// cleanJSON strips markdown fences models sometimes wrap JSON in, even
// under a response schema.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
