package backend

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/ellenfel/Model-Context-Protocol/internal/protocol"
)

// GeminiClient answers queries with the Gemini API.
type GeminiClient struct {
	models *genai.Models
}

// NewGeminiClient creates a Gemini backend authenticated with apiKey.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiClient{models: client.Models}, nil
}

// Generate sends the context history and prompt to the context's model.
func (g *GeminiClient) Generate(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	resp, err := g.models.GenerateContent(ctx, req.ModelID, geminiContents(req), geminiConfig(req.Options))
	if err != nil {
		return nil, &Error{Backend: "gemini", Err: err}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, &Error{Backend: "gemini", Err: errors.New("no candidates returned (check safety filters)")}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	result := &Result{
		Text:           text.String(),
		ProcessingTime: float64(time.Since(start).Microseconds()) / 1000,
	}
	if resp.UsageMetadata != nil {
		result.Tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return result, nil
}

func geminiContents(req *Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, h := range req.History {
		role := "user"
		if h.Role == protocol.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: h.Content}}})
	}
	return append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: req.Prompt}}})
}

func geminiConfig(opts *protocol.QueryOptions) *genai.GenerateContentConfig {
	if opts == nil {
		return nil
	}
	cfg := &genai.GenerateContentConfig{StopSequences: opts.StopSequences}
	if opts.Temperature != nil {
		t := float32(*opts.Temperature)
		cfg.Temperature = &t
	}
	if opts.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*opts.MaxTokens)
	}
	return cfg
}
