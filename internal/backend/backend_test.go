package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellenfel/Model-Context-Protocol/internal/config"
	"github.com/ellenfel/Model-Context-Protocol/internal/protocol"
)

func TestMockClientGenerate(t *testing.T) {
	res, err := NewMockClient().Generate(context.Background(), &Request{ModelID: "m1", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Processed query: hi", res.Text)
	assert.Equal(t, MockTokens, res.Tokens)
	assert.Equal(t, float64(MockProcessingTime), res.ProcessingTime)
}

func TestMockClientHonoursDeadline(t *testing.T) {
	m := &MockClient{Latency: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.Generate(ctx, &Request{Prompt: "slow"})
	require.Error(t, err)
	var berr *Error
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, "mock", berr.Backend)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpenAIClientGenerate(t *testing.T) {
	var got ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected auth header: %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","model":"gpt","choices":[{"index":0,"message":{"role":"assistant","content":"Paris"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":1,"total_tokens":6}}`)
	}))
	defer server.Close()

	temp := 0.7
	maxTokens := 50
	client := NewOpenAIClient(server.URL+"/", "sk-test", time.Second)
	res, err := client.Generate(context.Background(), &Request{
		ModelID: "gpt",
		Prompt:  "What is the capital of France?",
		Options: &protocol.QueryOptions{Temperature: &temp, MaxTokens: &maxTokens, StopSequences: []string{"END"}},
		History: []protocol.HistoryEntry{
			{Role: protocol.RoleUser, Content: "hi", Timestamp: 1},
			{Role: protocol.RoleAssistant, Content: "hello", Timestamp: 2},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris", res.Text)
	assert.Equal(t, 6, res.Tokens)

	assert.Equal(t, "gpt", got.Model)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, ChatMessage{Role: "user", Content: "hi"}, got.Messages[0])
	assert.Equal(t, ChatMessage{Role: "assistant", Content: "hello"}, got.Messages[1])
	assert.Equal(t, ChatMessage{Role: "user", Content: "What is the capital of France?"}, got.Messages[2])
	require.NotNil(t, got.Temperature)
	assert.Equal(t, 0.7, *got.Temperature)
	require.NotNil(t, got.MaxTokens)
	assert.Equal(t, 50, *got.MaxTokens)
	assert.Equal(t, []string{"END"}, got.Stop)
}

func TestOpenAIClientGenerateError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "", time.Second)
	_, err := client.Generate(context.Background(), &Request{ModelID: "gpt", Prompt: "hello"})
	require.Error(t, err)
	var berr *Error
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, "openai", berr.Backend)
	assert.Contains(t, err.Error(), "bad")
}

func TestOpenAIClientNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"c1","model":"gpt","choices":[]}`)
	}))
	defer server.Close()

	_, err := NewOpenAIClient(server.URL, "", time.Second).Generate(context.Background(), &Request{Prompt: "x"})
	assert.Error(t, err)
}

func TestGeminiRequestMapping(t *testing.T) {
	temp := 0.25
	maxTokens := 64
	req := &Request{
		ModelID: "gemini-2.0-flash",
		Prompt:  "next",
		Options: &protocol.QueryOptions{Temperature: &temp, MaxTokens: &maxTokens, StopSequences: []string{"STOP"}},
		History: []protocol.HistoryEntry{
			{Role: protocol.RoleUser, Content: "hi"},
			{Role: protocol.RoleAssistant, Content: "hello"},
		},
	}

	contents := geminiContents(req)
	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, "user", contents[2].Role)
	assert.Equal(t, "next", contents[2].Parts[0].Text)

	cfg := geminiConfig(req.Options)
	require.NotNil(t, cfg.Temperature)
	assert.Equal(t, float32(0.25), *cfg.Temperature)
	assert.Equal(t, int32(64), cfg.MaxOutputTokens)
	assert.Equal(t, []string{"STOP"}, cfg.StopSequences)

	assert.Nil(t, geminiConfig(nil))
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), "")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	t.Setenv(EnvGogoMode, "")
	ctx := context.Background()

	b, err := New(ctx, &config.Config{ModelBackend: NameMock})
	require.NoError(t, err)
	assert.IsType(t, &MockClient{}, b)

	b, err = New(ctx, &config.Config{ModelBackend: NameOpenAI, OpenAIBaseURL: "http://localhost:4000", BackendTimeout: time.Second})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, b)

	_, err = New(ctx, &config.Config{ModelBackend: NameGemini})
	assert.Error(t, err)

	_, err = New(ctx, &config.Config{ModelBackend: "llama"})
	assert.Error(t, err)

	t.Setenv(EnvGogoMode, ModeMock)
	b, err = New(ctx, &config.Config{ModelBackend: NameOpenAI})
	require.NoError(t, err)
	assert.IsType(t, &MockClient{}, b)
}
