package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ellenfel/Model-Context-Protocol/internal/config"
)

const (
	// EnvGogoMode is the environment variable name for mode selection.
	EnvGogoMode = "GOGO_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// Backend names accepted in MODEL_BACKEND.
const (
	NameMock   = "mock"
	NameOpenAI = "openai"
	NameGemini = "gemini"
)

// New creates the backend selected by the configuration.
// GOGO_MODE=MOCK forces the mock backend regardless of MODEL_BACKEND.
func New(ctx context.Context, cfg *config.Config) (Backend, error) {
	if os.Getenv(EnvGogoMode) == ModeMock {
		slog.Info("GOGO_MODE=MOCK detected, using mock model backend")
		return NewMockClient(), nil
	}

	switch cfg.ModelBackend {
	case "", NameMock:
		return NewMockClient(), nil
	case NameOpenAI:
		return NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.BackendTimeout), nil
	case NameGemini:
		return NewGeminiClient(ctx, cfg.GeminiAPIKey)
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.ModelBackend)
	}
}
