// Package backend provides the model backends that answer queries.
package backend

import (
	"context"
	"fmt"

	"github.com/ellenfel/Model-Context-Protocol/internal/protocol"
)

// Request is a single generation request.
type Request struct {
	ModelID string
	Prompt  string
	Options *protocol.QueryOptions
	// History holds the turns recorded before this prompt, oldest first.
	History []protocol.HistoryEntry
}

// Result is the generated text and its usage.
type Result struct {
	Text           string
	Tokens         int
	ProcessingTime float64 // milliseconds
}

// Backend generates text for a prompt.
type Backend interface {
	Generate(ctx context.Context, req *Request) (*Result, error)
}

// Error wraps a failure reported by a backend.
type Error struct {
	Backend string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s backend: %v", e.Backend, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Ensure implementations satisfy Backend.
var (
	_ Backend = (*MockClient)(nil)
	_ Backend = (*OpenAIClient)(nil)
	_ Backend = (*GeminiClient)(nil)
)
