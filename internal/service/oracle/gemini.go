package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// contentModels is the subset of *genai.Models the generator calls.
type contentModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiGenerator asks a Gemini model for a JSON answer.
type GeminiGenerator struct {
	models contentModels
	model  string
}

// NewGeminiGenerator creates a generator backed by the Gemini API.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("oracle: gemini API key is required")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: create gemini client: %w", err)
	}
	return &GeminiGenerator{models: client.Models, model: model}, nil
}

// Model returns the model name used for generation.
func (g *GeminiGenerator) Model() string { return g.model }

// Generate sends the prompt and decodes the first JSON object or array in the
// reply. An array is wrapped as {"assignments": [...]}.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (map[string]any, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(req.Prompt), &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.3),
		MaxOutputTokens:  2048,
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: gemini generate: %w", err)
	}
	return decodePayload(resp.Text())
}

var jsonSpan = regexp.MustCompile(`(?s)\{.*\}|\[.*\]`)

// decodePayload extracts the JSON body from model output that may be wrapped
// in prose or markdown fences.
func decodePayload(text string) (map[string]any, error) {
	raw := jsonSpan.FindString(strings.TrimSpace(text))
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON in %d bytes", ErrMalformedResponse, len(text))
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	switch p := v.(type) {
	case map[string]any:
		return p, nil
	case []any:
		return map[string]any{"assignments": p}, nil
	}
	return nil, fmt.Errorf("%w: unexpected JSON %T", ErrMalformedResponse, v)
}
