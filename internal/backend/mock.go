package backend

import (
	"context"
	"time"
)

// Defaults reported by the mock backend.
const (
	MockTokens         = 10
	MockProcessingTime = 100
)

// MockClient simulates a model by echoing the prompt.
type MockClient struct {
	// Latency delays every response; zero answers immediately.
	Latency time.Duration
}

// NewMockClient creates a new mock backend.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Generate returns "Processed query: <prompt>".
func (m *MockClient) Generate(ctx context.Context, req *Request) (*Result, error) {
	if m.Latency > 0 {
		timer := time.NewTimer(m.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, &Error{Backend: "mock", Err: ctx.Err()}
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, &Error{Backend: "mock", Err: err}
	}

	return &Result{
		Text:           "Processed query: " + req.Prompt,
		Tokens:         MockTokens,
		ProcessingTime: MockProcessingTime,
	}, nil
}
